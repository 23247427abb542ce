// Package typemap converts SQLite declared column types into target column
// types.
//
// Mapping happens in two steps. A declared type is first classified into a
// portable Kind by walking an ordered rule list where the first match wins:
// whole-keyword rules come before substring rules so that a specific type
// is never absorbed by a more general one that shares its prefix. The Kind
// is then rendered by the target dialect, which knows the engine's spelling.
package typemap

import (
	"strings"

	"github.com/johndauphine/sqlite-server-migrate/internal/logging"
)

// Kind is an engine-neutral column type category.
type Kind int

const (
	KindUnknown Kind = iota
	KindBoolean
	KindTinyInt
	KindSmallInt
	KindInteger
	KindBigInt
	KindReal
	KindDouble
	KindDecimal
	KindChar
	KindVarChar
	KindText
	KindBlob
	KindDate
	KindTime
	KindDateTime
	KindTimestamp
	KindJSON
)

var kindNames = map[Kind]string{
	KindUnknown:   "unknown",
	KindBoolean:   "boolean",
	KindTinyInt:   "tinyint",
	KindSmallInt:  "smallint",
	KindInteger:   "integer",
	KindBigInt:    "bigint",
	KindReal:      "real",
	KindDouble:    "double",
	KindDecimal:   "decimal",
	KindChar:      "char",
	KindVarChar:   "varchar",
	KindText:      "text",
	KindBlob:      "blob",
	KindDate:      "date",
	KindTime:      "time",
	KindDateTime:  "datetime",
	KindTimestamp: "timestamp",
	KindJSON:      "json",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// TypeNamer renders a Kind in a target engine's DDL vocabulary.
type TypeNamer interface {
	// TypeName returns the column type for kind. params is the declared
	// parameter list including parentheses, e.g. "(10,2)", or "". key is
	// true for primary-key columns, which some engines cannot index as
	// unbounded text or binary.
	TypeName(kind Kind, params string, key bool) string

	// FallbackType is the maximal-width text type used when no rule matches.
	FallbackType() string
}

// Rule classifies a declared type. Match receives the declared type name
// without parameters (upper-cased, whitespace collapsed) as keyword, and the
// full upper-cased declaration as upper.
type Rule struct {
	Name  string
	Match func(keyword, upper string) bool
	Kind  Kind
}

// Keyword matches when the type name is one of words, or begins with one of
// them followed by a space ("TIMESTAMP WITH TIME ZONE" matches TIMESTAMP).
// It never matches inside a longer word, so TIME does not match TIMESTAMP.
func Keyword(words ...string) func(keyword, upper string) bool {
	return func(keyword, _ string) bool {
		for _, w := range words {
			if keyword == w || strings.HasPrefix(keyword, w+" ") {
				return true
			}
		}
		return false
	}
}

// Contains matches when any of subs occurs anywhere in the type name.
func Contains(subs ...string) func(keyword, upper string) bool {
	return func(keyword, _ string) bool {
		for _, s := range subs {
			if strings.Contains(keyword, s) {
				return true
			}
		}
		return false
	}
}

// DefaultRules is evaluated top to bottom. Multi-word names precede the
// single words they start with, and the substring section mirrors SQLite's
// own affinity rules with the date/time family ordered longest first.
var DefaultRules = []Rule{
	// Keyword rules
	{Name: "boolean", Match: Keyword("BOOLEAN", "BOOL"), Kind: KindBoolean},
	{Name: "tinyint", Match: Keyword("TINYINT"), Kind: KindTinyInt},
	{Name: "smallint", Match: Keyword("SMALLINT", "INT2"), Kind: KindSmallInt},
	{Name: "bigint", Match: Keyword("BIGINT", "INT8", "UNSIGNED BIG INT"), Kind: KindBigInt},
	// SQLite stores INTEGER in up to eight bytes (it is the rowid type).
	{Name: "integer", Match: Keyword("INTEGER"), Kind: KindBigInt},
	{Name: "int", Match: Keyword("INT", "MEDIUMINT", "INT4"), Kind: KindInteger},
	// SQLite REAL is an 8-byte IEEE float; only an explicit FLOAT4 is single precision.
	{Name: "double", Match: Keyword("DOUBLE PRECISION", "DOUBLE", "FLOAT", "FLOAT8", "REAL"), Kind: KindDouble},
	{Name: "real", Match: Keyword("FLOAT4"), Kind: KindReal},
	{Name: "decimal", Match: Keyword("DECIMAL", "NUMERIC", "DEC"), Kind: KindDecimal},
	{Name: "varchar", Match: Keyword("VARCHAR", "NVARCHAR", "CHARACTER VARYING", "VARYING CHARACTER"), Kind: KindVarChar},
	{Name: "char", Match: Keyword("CHAR", "NCHAR", "CHARACTER", "NATIVE CHARACTER"), Kind: KindChar},
	{Name: "text", Match: Keyword("TEXT", "CLOB", "TINYTEXT", "MEDIUMTEXT", "LONGTEXT"), Kind: KindText},
	{Name: "blob", Match: Keyword("BLOB", "BYTEA", "BINARY", "VARBINARY", "LONGBLOB"), Kind: KindBlob},
	{Name: "timestamp", Match: Keyword("TIMESTAMP"), Kind: KindTimestamp},
	{Name: "datetime", Match: Keyword("DATETIME"), Kind: KindDateTime},
	{Name: "date", Match: Keyword("DATE"), Kind: KindDate},
	{Name: "time", Match: Keyword("TIME"), Kind: KindTime},
	{Name: "json", Match: Keyword("JSON", "JSONB"), Kind: KindJSON},

	// Substring (affinity) rules
	{Name: "affinity-integer", Match: Contains("INT"), Kind: KindBigInt},
	{Name: "affinity-text", Match: Contains("CHAR", "CLOB", "TEXT"), Kind: KindText},
	{Name: "affinity-blob", Match: Contains("BLOB"), Kind: KindBlob},
	{Name: "affinity-real", Match: Contains("REAL", "FLOA", "DOUB"), Kind: KindDouble},
	{Name: "affinity-timestamp", Match: Contains("TIMESTAMP"), Kind: KindTimestamp},
	{Name: "affinity-datetime", Match: Contains("DATETIME"), Kind: KindDateTime},
	{Name: "affinity-date", Match: Contains("DATE"), Kind: KindDate},
	{Name: "affinity-time", Match: Contains("TIME"), Kind: KindTime},
	{Name: "affinity-bool", Match: Contains("BOOL"), Kind: KindBoolean},
	{Name: "affinity-numeric", Match: Contains("DEC", "NUM"), Kind: KindDecimal},
}

// Mapper maps declared source types to target types.
type Mapper struct {
	rules []Rule
	namer TypeNamer
}

// New creates a Mapper using DefaultRules.
func New(namer TypeNamer) *Mapper {
	return NewWithRules(namer, DefaultRules)
}

// NewWithRules creates a Mapper with a custom ordered rule list.
func NewWithRules(namer TypeNamer, rules []Rule) *Mapper {
	return &Mapper{rules: rules, namer: namer}
}

// Split separates a declared type into its normalized name and its verbatim
// parameter list: "varchar (255)" yields ("VARCHAR", "(255)").
func Split(declared string) (keyword, params string) {
	s := strings.TrimSpace(declared)
	if i := strings.IndexByte(s, '('); i >= 0 {
		if j := strings.LastIndexByte(s, ')'); j > i {
			params = s[i : j+1]
		}
		s = s[:i]
	}
	keyword = strings.Join(strings.Fields(strings.ToUpper(s)), " ")
	return keyword, params
}

// Classify returns the Kind of a declared type and the name of the rule that
// matched. ok is false when no rule matched.
func (m *Mapper) Classify(declared string) (kind Kind, rule string, ok bool) {
	keyword, _ := Split(declared)
	if keyword == "" {
		return KindUnknown, "", false
	}
	upper := strings.ToUpper(declared)
	for _, r := range m.rules {
		if r.Match(keyword, upper) {
			return r.Kind, r.Name, true
		}
	}
	return KindUnknown, "", false
}

// Map converts a declared source type into a target type. When no rule
// matches it returns the target's fallback text type and ok=false.
func (m *Mapper) Map(declared string) (string, bool) {
	return m.MapColumn(declared, false)
}

// MapColumn is Map for a column that may be part of the primary key.
func (m *Mapper) MapColumn(declared string, key bool) (string, bool) {
	kind, _, ok := m.Classify(declared)
	if !ok {
		fallback := m.namer.FallbackType()
		if key {
			fallback = m.namer.TypeName(KindText, "", true)
		}
		logging.Warn("No type mapping for %q, using %s", declared, fallback)
		return fallback, false
	}

	_, params := Split(declared)
	switch kind {
	case KindChar, KindVarChar, KindDecimal:
	default:
		params = ""
	}
	return m.namer.TypeName(kind, params, key), true
}
