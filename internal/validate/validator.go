// Package validate compares a migrated table on the target against its
// source: row counts, primary-key sets for small tables, and sampled
// field-by-field comparison.
package validate

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/johndauphine/sqlite-server-migrate/internal/driver"
	"github.com/johndauphine/sqlite-server-migrate/internal/logging"
	"github.com/johndauphine/sqlite-server-migrate/internal/migerr"
	"github.com/johndauphine/sqlite-server-migrate/internal/source"
	"github.com/johndauphine/sqlite-server-migrate/internal/target"
)

// DefaultThreshold is the largest source row count for which full key sets
// are compared.
const DefaultThreshold = 10000

// FieldMismatch is one column of one sampled row that differs between source and target.
type FieldMismatch struct {
	Key    string `json:"key"`
	Column string `json:"column"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Result is the outcome of validating one table.
type Result struct {
	Table             string          `json:"table"`
	SourceCount       int64           `json:"source_count"`
	TargetCount       int64           `json:"target_count"`
	IsValid           bool            `json:"is_valid"`
	MissingRecords    []string        `json:"missing_records"`
	ExtraRecords      []string        `json:"extra_records"`
	FieldMismatches   []FieldMismatch `json:"field_mismatches"`
	KeyCheckPerformed bool            `json:"key_check_performed"`
	Timestamp         time.Time       `json:"timestamp"`
}

// Err returns a ValidationFailure for an invalid result and nil otherwise.
func (r *Result) Err() error {
	if r.IsValid {
		return nil
	}
	return &migerr.ValidationFailure{
		Table:       r.Table,
		SourceCount: r.SourceCount,
		TargetCount: r.TargetCount,
		Missing:     len(r.MissingRecords),
		Extra:       len(r.ExtraRecords),
	}
}

// Validator checks target tables against the source.
type Validator struct {
	src       *source.Pool
	tgt       *target.Pool
	threshold int64
}

// New creates a Validator. A threshold of zero or less uses DefaultThreshold.
func New(src *source.Pool, tgt *target.Pool, threshold int64) *Validator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Validator{src: src, tgt: tgt, threshold: threshold}
}

// Validate compares row counts and, for tables at or below the threshold
// with a single-column primary key, the full key sets. Larger tables are
// checked by count only. The returned error reports a failure to query
// either side, not a mismatch.
func (v *Validator) Validate(ctx context.Context, table string) (*Result, error) {
	res := &Result{
		Table:           table,
		MissingRecords:  []string{},
		ExtraRecords:    []string{},
		FieldMismatches: []FieldMismatch{},
		Timestamp:       time.Now().UTC(),
	}

	var err error
	if res.SourceCount, err = v.src.RowCount(ctx, table); err != nil {
		return nil, err
	}
	if res.TargetCount, err = v.tgt.RowCount(ctx, table); err != nil {
		return nil, err
	}

	if res.SourceCount <= v.threshold {
		keyCol, ok, err := v.src.PrimaryKeyColumn(ctx, table)
		if err != nil {
			return nil, err
		}
		if ok {
			if err := v.compareKeys(ctx, res, keyCol); err != nil {
				return nil, err
			}
		}
	}

	res.IsValid = res.SourceCount == res.TargetCount &&
		len(res.MissingRecords) == 0 && len(res.ExtraRecords) == 0

	switch {
	case res.IsValid:
		logging.Info("%-30s OK %d rows", table, res.TargetCount)
	case res.KeyCheckPerformed:
		logging.Error("%-30s FAIL source=%d target=%d missing=%d extra=%d",
			table, res.SourceCount, res.TargetCount, len(res.MissingRecords), len(res.ExtraRecords))
	default:
		logging.Error("%-30s FAIL source=%d target=%d (diff=%d)",
			table, res.SourceCount, res.TargetCount, res.SourceCount-res.TargetCount)
	}
	return res, nil
}

func (v *Validator) compareKeys(ctx context.Context, res *Result, keyCol string) error {
	srcKeys, err := v.src.PrimaryKeyValues(ctx, res.Table, keyCol)
	if err != nil {
		return fmt.Errorf("reading source keys of %s: %w", res.Table, err)
	}
	tgtKeys, err := v.tgt.PrimaryKeyValues(ctx, res.Table, keyCol)
	if err != nil {
		return fmt.Errorf("reading target keys of %s: %w", res.Table, err)
	}

	missing, extra := lo.Difference(normalizeAll(srcKeys), normalizeAll(tgtKeys))
	sort.Strings(missing)
	sort.Strings(extra)
	res.MissingRecords = missing
	res.ExtraRecords = extra
	res.KeyCheckPerformed = true
	return nil
}

// CompareSample fetches up to n randomly chosen source rows and the rows
// with the same keys from the target, and reports every column whose
// normalized values differ. Rows are keyed by the single-column primary key
// when there is one and by the first declared column otherwise. A sampled
// row absent from the target is reported with Column "*".
func (v *Validator) CompareSample(ctx context.Context, table string, n int) ([]FieldMismatch, error) {
	if n <= 0 {
		n = 100
	}
	cols, err := v.src.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	keyCol := cols[0].Name
	if pk := driver.PrimaryKey(cols); len(pk) == 1 {
		keyCol = pk[0]
	}
	names := driver.ColumnNames(cols)
	selected := append([]string{keyCol}, names...)

	keys, err := v.src.SampleKeys(ctx, table, keyCol, n)
	if err != nil {
		return nil, fmt.Errorf("sampling %s: %w", table, err)
	}
	if len(keys) == 0 {
		logging.Debug("%-30s SKIP (no rows)", table)
		return []FieldMismatch{}, nil
	}

	srcRows, err := v.src.RowsByKey(ctx, table, keyCol, selected, keys)
	if err != nil {
		return nil, fmt.Errorf("reading source sample of %s: %w", table, err)
	}
	tgtRows, err := v.tgt.RowsByKey(ctx, table, keyCol, selected, keys)
	if err != nil {
		return nil, fmt.Errorf("reading target sample of %s: %w", table, err)
	}

	byKey := lo.SliceToMap(tgtRows, func(row []any) (string, []any) {
		return Normalize(row[0]), row[1:]
	})

	mismatches := []FieldMismatch{}
	for _, row := range srcRows {
		key := Normalize(row[0])
		tgt, ok := byKey[key]
		if !ok {
			mismatches = append(mismatches, FieldMismatch{Key: key, Column: "*", Source: "present", Target: "missing"})
			continue
		}
		for i, name := range names {
			s, t := row[i+1], tgt[i]
			if !Equal(s, t) {
				mismatches = append(mismatches, FieldMismatch{Key: key, Column: name, Source: Normalize(s), Target: Normalize(t)})
			}
		}
	}

	if len(mismatches) == 0 {
		logging.Info("%-30s OK (%d samples)", table, len(srcRows))
	} else {
		logging.Error("%-30s FAIL (%d mismatches in %d samples)", table, len(mismatches), len(srcRows))
	}
	return mismatches, nil
}

// Equal compares two column values. NULL equals only NULL; anything else is
// compared by normalized string form.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return Normalize(a) == Normalize(b)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// Normalize renders a value so that the same datum read through different
// drivers compares equal: byte strings as text, booleans as 0/1, numbers in
// shortest form, and date-times without zone or trailing zero fractions.
func Normalize(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if x {
			return "1"
		}
		return "0"
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int:
		return strconv.Itoa(x)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case time.Time:
		return formatTime(x)
	case []byte:
		return normalizeText(string(x))
	case string:
		return normalizeText(x)
	default:
		return fmt.Sprint(x)
	}
}

func normalizeText(s string) string {
	if f, err := strconv.ParseFloat(s, 64); err == nil && looksNumeric(s) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	if len(s) >= len("2006-01-02 15:04:05") && s[4] == '-' {
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return formatTime(t)
			}
		}
	}
	return s
}

func looksNumeric(s string) bool {
	return s != "" && strings.Trim(s, "0123456789.-+eE") == ""
}

func formatTime(t time.Time) string {
	t = t.UTC()
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format("2006-01-02 15:04:05.999999999")
}

func normalizeAll(vals []any) []string {
	return lo.Map(vals, func(v any, _ int) string { return Normalize(v) })
}
