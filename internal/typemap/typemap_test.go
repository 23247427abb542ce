package typemap

import (
	"testing"
)

// echoNamer renders a kind by name so tests can assert on classification
// and parameter handling without a real dialect.
type echoNamer struct{}

func (echoNamer) TypeName(kind Kind, params string, key bool) string {
	name := kind.String() + params
	if key {
		name += " key"
	}
	return name
}

func (echoNamer) FallbackType() string { return "fallback" }

func TestMapPrecedence(t *testing.T) {
	m := New(echoNamer{})

	tests := []struct {
		declared string
		want     string
	}{
		// A specific type sharing a prefix with a general one keeps its own mapping
		{"TIMESTAMP", "timestamp"},
		{"timestamp", "timestamp"},
		{"TIMESTAMP WITH TIME ZONE", "timestamp"},
		{"TIMESTAMPTZ", "timestamp"},
		{"TIME", "time"},
		{"DATETIME", "datetime"},
		{"DATETIME2", "datetime"},
		{"DATE", "date"},
		{"BIGINT", "bigint"},
		{"SMALLINT", "smallint"},
		{"TINYINT", "tinyint"},
		{"INT", "integer"},
		{"MEDIUMINT", "integer"},
		{"INTEGER", "bigint"},
		{"UNSIGNED BIG INT", "bigint"},
		{"VARCHAR(255)", "varchar(255)"},
		{"CHAR(10)", "char(10)"},
		{"CHARACTER VARYING(20)", "varchar(20)"},
		{"VARYING CHARACTER(20)", "varchar(20)"},
		{"CHARACTER(20)", "char(20)"},
		{"NCHAR(55)", "char(55)"},
		{"DOUBLE PRECISION", "double"},
		{"DOUBLE", "double"},
		{"REAL", "double"},
		{"real", "double"},
		{"FLOAT4", "real"},
		{"FLOAT", "double"},
		{"BOOLEAN", "boolean"},
		{"JSON", "json"},
	}

	for _, tt := range tests {
		t.Run(tt.declared, func(t *testing.T) {
			got, ok := m.Map(tt.declared)
			if !ok {
				t.Fatalf("Map(%q) reported no match", tt.declared)
			}
			if got != tt.want {
				t.Errorf("Map(%q) = %q, want %q", tt.declared, got, tt.want)
			}
		})
	}
}

func TestMapPreservesParameters(t *testing.T) {
	m := New(echoNamer{})

	tests := []struct {
		declared string
		want     string
	}{
		{"varchar(80)", "varchar(80)"},
		{"NVARCHAR (120)", "varchar(120)"},
		{"DECIMAL(10,2)", "decimal(10,2)"},
		{"NUMERIC(12, 4)", "decimal(12, 4)"},
		{"VARCHAR", "varchar"},
		// Parameters only carry over for textual and decimal types
		{"INT(11)", "integer"},
		{"DATETIME(6)", "datetime"},
	}
	for _, tt := range tests {
		got, _ := m.Map(tt.declared)
		if got != tt.want {
			t.Errorf("Map(%q) = %q, want %q", tt.declared, got, tt.want)
		}
	}
}

func TestMapAffinityRules(t *testing.T) {
	m := New(echoNamer{})

	tests := []struct {
		declared string
		wantKind Kind
		wantRule string
	}{
		{"UNSIGNED INTEGER", KindBigInt, "affinity-integer"},
		{"BIGSERIAL INT", KindBigInt, "affinity-integer"},
		{"VARCHAR2(10)", KindText, "affinity-text"},
		{"SHORTTEXT", KindText, "affinity-text"},
		{"MYBLOB", KindBlob, "affinity-blob"},
		{"FLOATING", KindDouble, "affinity-real"},
		{"CREATED_TIMESTAMP", KindTimestamp, "affinity-timestamp"},
		{"SMALLDATETIME", KindDateTime, "affinity-datetime"},
		{"BIRTHDATE", KindDate, "affinity-date"},
		{"LOCALTIME", KindTime, "affinity-time"},
		{"MONEYNUM", KindDecimal, "affinity-numeric"},
	}
	for _, tt := range tests {
		kind, rule, ok := m.Classify(tt.declared)
		if !ok {
			t.Errorf("Classify(%q) found no rule", tt.declared)
			continue
		}
		if kind != tt.wantKind || rule != tt.wantRule {
			t.Errorf("Classify(%q) = (%v, %s), want (%v, %s)", tt.declared, kind, rule, tt.wantKind, tt.wantRule)
		}
	}
}

func TestMapFallback(t *testing.T) {
	m := New(echoNamer{})

	for _, declared := range []string{"", "GEOMETRY", "UUID"} {
		got, ok := m.Map(declared)
		if ok {
			t.Errorf("Map(%q) matched a rule, expected fallback", declared)
		}
		if got != "fallback" {
			t.Errorf("Map(%q) = %q, want fallback", declared, got)
		}
	}

	got, ok := m.MapColumn("GEOMETRY", true)
	if ok || got != "text key" {
		t.Errorf("MapColumn(key) = (%q, %v), want indexable text", got, ok)
	}
}

func TestFirstMatchWins(t *testing.T) {
	rules := []Rule{
		{Name: "general", Match: Contains("TIME"), Kind: KindTime},
		{Name: "specific", Match: Keyword("TIMESTAMP"), Kind: KindTimestamp},
	}
	m := NewWithRules(echoNamer{}, rules)

	_, rule, _ := m.Classify("TIMESTAMP")
	if rule != "general" {
		t.Errorf("expected the earlier rule to win, got %s", rule)
	}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		in, keyword, params string
	}{
		{"varchar(255)", "VARCHAR", "(255)"},
		{"  double   precision ", "DOUBLE PRECISION", ""},
		{"decimal (10, 2)", "DECIMAL", "(10, 2)"},
		{"", "", ""},
	}
	for _, tt := range tests {
		kw, params := Split(tt.in)
		if kw != tt.keyword || params != tt.params {
			t.Errorf("Split(%q) = (%q, %q), want (%q, %q)", tt.in, kw, params, tt.keyword, tt.params)
		}
	}
}
