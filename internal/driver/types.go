package driver

// Column describes one source column in ordinal order.
type Column struct {
	Name         string  `json:"name"`
	DeclaredType string  `json:"declared_type"`
	Nullable     bool    `json:"nullable"`
	Default      *string `json:"default,omitempty"` // Raw default expression, nil when absent
	IsPrimaryKey bool    `json:"is_primary_key"`
	PKOrdinal    int     `json:"pk_ordinal,omitempty"` // 1-based position within the primary key
	Ordinal      int     `json:"ordinal_position"`
}

// ForeignKey represents a foreign key constraint.
type ForeignKey struct {
	Columns    []string `json:"columns"`
	RefTable   string   `json:"ref_table"`
	RefColumns []string `json:"ref_columns"`
}

// Table is a source table with its columns.
type Table struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
	RowCount    int64        `json:"row_count"`
}

// ColumnNames returns the column names in ordinal order.
func (t *Table) ColumnNames() []string {
	return ColumnNames(t.Columns)
}

// PrimaryKey returns the primary key column names in key order.
func (t *Table) PrimaryKey() []string {
	return PrimaryKey(t.Columns)
}

// HasSinglePK returns true if table has a single-column primary key.
func (t *Table) HasSinglePK() bool {
	return len(t.PrimaryKey()) == 1
}

// ColumnNames returns the names of cols in order.
func ColumnNames(cols []Column) []string {
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}
	return names
}

// PrimaryKey returns the names of the primary key columns ordered by their
// position in the key.
func PrimaryKey(cols []Column) []string {
	n := 0
	for _, c := range cols {
		if c.IsPrimaryKey {
			n++
		}
	}
	if n == 0 {
		return nil
	}
	pk := make([]string, n)
	next := 0
	for _, c := range cols {
		if !c.IsPrimaryKey {
			continue
		}
		if c.PKOrdinal >= 1 && c.PKOrdinal <= n && pk[c.PKOrdinal-1] == "" {
			pk[c.PKOrdinal-1] = c.Name
			continue
		}
		for next < n && pk[next] != "" {
			next++
		}
		if next < n {
			pk[next] = c.Name
		}
	}
	return pk
}
