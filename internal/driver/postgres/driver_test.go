package postgres

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/johndauphine/sqlite-server-migrate/internal/config"
	"github.com/johndauphine/sqlite-server-migrate/internal/typemap"
)

func TestDSNURLEncoding(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		password string
		database string
	}{
		{"plain credentials", "admin", "secret", "mydb"},
		{"password with @", "admin", "pass@word", "mydb"},
		{"password with colon", "admin", "pass:word", "mydb"},
		{"password with slash", "admin", "pass/word", "mydb"},
		{"user with @", "user@domain", "secret", "mydb"},
		{"database with spaces", "admin", "secret", "my database"},
		{"complex password", "admin", "P@ss:w/rd?123", "mydb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn := DSN(&config.TargetConfig{
				Host: "localhost", Database: tt.database,
				User: tt.user, Password: tt.password, SSLMode: "disable",
			})

			u, err := url.Parse(dsn)
			if err != nil {
				t.Fatalf("DSN %q does not parse: %v", dsn, err)
			}
			if got := u.User.Username(); got != tt.user {
				t.Errorf("user = %q, want %q", got, tt.user)
			}
			if got, _ := u.User.Password(); got != tt.password {
				t.Errorf("password = %q, want %q", got, tt.password)
			}
			if got := strings.TrimPrefix(u.Path, "/"); got != tt.database {
				t.Errorf("database = %q, want %q", got, tt.database)
			}
			if u.Host != "localhost:5432" {
				t.Errorf("host = %q, want default port", u.Host)
			}
			if u.Query().Get("sslmode") != "disable" {
				t.Errorf("sslmode = %q", u.Query().Get("sslmode"))
			}
		})
	}
}

func TestDSNConnectTimeout(t *testing.T) {
	dsn := DSN(&config.TargetConfig{Host: "db", Port: 6543, Database: "d", ConnectTimeout: 15 * time.Second})
	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatal(err)
	}
	if u.Query().Get("connect_timeout") != "15" {
		t.Errorf("connect_timeout = %q, want 15", u.Query().Get("connect_timeout"))
	}
	if u.Query().Get("sslmode") != "prefer" {
		t.Errorf("sslmode default = %q, want prefer", u.Query().Get("sslmode"))
	}
	if u.Port() != "6543" {
		t.Errorf("port = %q", u.Port())
	}
}

func TestDialect(t *testing.T) {
	d := &Dialect{}

	if got := d.QualifyTable("public", `we"ird`); got != `"public"."we""ird"` {
		t.Errorf("QualifyTable = %s", got)
	}
	if got := d.ParameterPlaceholder(3); got != "$3" {
		t.Errorf("ParameterPlaceholder = %s", got)
	}

	ddl := d.CreateTableSQL("public", "users", []string{`"id" bigint NOT NULL`, `PRIMARY KEY ("id")`})
	if !strings.HasPrefix(ddl, `CREATE TABLE IF NOT EXISTS "public"."users" (`) {
		t.Errorf("unexpected DDL: %s", ddl)
	}

	tests := []struct {
		kind   typemap.Kind
		params string
		want   string
	}{
		{typemap.KindBoolean, "", "boolean"},
		{typemap.KindBigInt, "", "bigint"},
		{typemap.KindDouble, "", "double precision"},
		{typemap.KindDecimal, "(10,2)", "numeric(10,2)"},
		{typemap.KindVarChar, "(80)", "varchar(80)"},
		{typemap.KindText, "", "text"},
		{typemap.KindBlob, "", "bytea"},
		{typemap.KindTimestamp, "", "timestamp"},
		{typemap.KindJSON, "", "jsonb"},
	}
	for _, tt := range tests {
		if got := d.TypeName(tt.kind, tt.params, false); got != tt.want {
			t.Errorf("TypeName(%v) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestAdaptValue(t *testing.T) {
	d := &Dialect{}
	if got := d.AdaptValue(typemap.KindBoolean, int64(1)); got != true {
		t.Errorf("AdaptValue(1) = %v, want true", got)
	}
	if got := d.AdaptValue(typemap.KindBoolean, int64(0)); got != false {
		t.Errorf("AdaptValue(0) = %v, want false", got)
	}
	if got := d.AdaptValue(typemap.KindBigInt, int64(7)); got != int64(7) {
		t.Errorf("non-boolean value changed: %v", got)
	}
	if got := d.AdaptValue(typemap.KindBoolean, nil); got != nil {
		t.Errorf("nil changed: %v", got)
	}
}

func TestFloatingPointWidth(t *testing.T) {
	m := typemap.New(&Dialect{})
	for declared, want := range map[string]string{"REAL": "double precision", "FLOAT8": "double precision", "FLOAT4": "real"} {
		if got, _ := m.Map(declared); got != want {
			t.Errorf("Map(%q) = %q, want %q", declared, got, want)
		}
	}
}
