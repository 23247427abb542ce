package driver

import (
	"context"
	"database/sql"
	"fmt"
)

// Querier is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Execer is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// QueryRows runs query and reads every row into memory before returning.
// Handles are capped at one connection, so a result set must be drained and
// closed before the next statement can run.
func QueryRows(ctx context.Context, q Querier, query string, args ...any) ([][]any, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	var result [][]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		result = append(result, values)
	}
	return result, rows.Err()
}

// QueryColumn returns the first column of every row.
func QueryColumn(ctx context.Context, q Querier, query string, args ...any) ([]any, error) {
	rows, err := QueryRows(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	values := make([]any, len(rows))
	for i, r := range rows {
		values[i] = r[0]
	}
	return values, nil
}

// QueryStrings returns the first column of every row as strings.
func QueryStrings(ctx context.Context, q Querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// QueryCount runs a single-value integer query such as COUNT(*).
func QueryCount(ctx context.Context, q Querier, query string, args ...any) (int64, error) {
	var n int64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// RowsByKey selects columns from table for the rows whose keyCol is one of
// keys, issuing as many IN (...) queries as the dialect's parameter limit
// requires.
func RowsByKey(ctx context.Context, q Querier, d Dialect, schema, table, keyCol string, columns []string, keys []any) ([][]any, error) {
	chunk := d.MaxParams()
	if chunk > 1000 {
		chunk = 1000
	}

	var result [][]any
	for start := 0; start < len(keys); start += chunk {
		end := start + chunk
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]
		query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN %s",
			ColumnList(d, columns), d.QualifyTable(schema, table),
			d.QuoteIdentifier(keyCol), Placeholders(d, 1, len(batch)))
		rows, err := QueryRows(ctx, q, query, batch...)
		if err != nil {
			return nil, err
		}
		result = append(result, rows...)
	}
	return result, nil
}
