package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadBytesDefaults(t *testing.T) {
	yaml := `
source:
  path: /data/shop.db
target:
  host: db.internal
  database: shop
  user: app
`
	cfg, err := LoadBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}

	if cfg.Source.Type != "sqlite" {
		t.Errorf("source.type = %q, want sqlite", cfg.Source.Type)
	}
	if cfg.Target.Type != "mysql" {
		t.Errorf("target.type = %q, want mysql", cfg.Target.Type)
	}
	if cfg.Target.Port != 3306 {
		t.Errorf("target.port = %d, want 3306", cfg.Target.Port)
	}
	if cfg.Target.Charset != "utf8mb4" {
		t.Errorf("target.charset = %q, want utf8mb4", cfg.Target.Charset)
	}

	m := cfg.Migration
	if m.BatchSize != 1000 {
		t.Errorf("batch_size = %d, want 1000", m.BatchSize)
	}
	if !m.RollbackEnabled() {
		t.Error("create_rollback should default to true")
	}
	if m.MaxErrors != 5 {
		t.Errorf("max_errors = %d, want 5", m.MaxErrors)
	}
	if m.MaxFailedCheckpoints != 3 {
		t.Errorf("max_failed_checkpoints = %d, want 3", m.MaxFailedCheckpoints)
	}
	if m.MaxMigrationTime != 24*time.Hour {
		t.Errorf("max_migration_time = %v, want 24h", m.MaxMigrationTime)
	}
	if m.ValidationThreshold != 10000 {
		t.Errorf("validation_threshold = %d, want 10000", m.ValidationThreshold)
	}
	if m.SampleSize != 100 {
		t.Errorf("sample_size = %d, want 100", m.SampleSize)
	}
	if m.DataDir != DefaultDataDir() {
		t.Errorf("data_dir = %q, want %q", m.DataDir, DefaultDataDir())
	}
}

func TestLoadBytesOverrides(t *testing.T) {
	yaml := `
source:
  path: /data/shop.db
target:
  type: postgresql
  host: pg
  database: shop
migration:
  batch_size: 250
  create_rollback: false
  max_errors: 2
  max_migration_time: 90m
  include_tables: ["user*", "orders"]
cutover:
  stop_writers: "systemctl stop shop-api"
`
	cfg, err := LoadBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if cfg.Target.Type != "postgres" {
		t.Errorf("alias not canonicalized: %q", cfg.Target.Type)
	}
	if cfg.Target.Port != 5432 {
		t.Errorf("target.port = %d, want 5432", cfg.Target.Port)
	}
	if cfg.Target.Schema != "public" {
		t.Errorf("target.schema = %q, want public", cfg.Target.Schema)
	}
	if cfg.Migration.BatchSize != 250 {
		t.Errorf("batch_size = %d, want 250", cfg.Migration.BatchSize)
	}
	if cfg.Migration.RollbackEnabled() {
		t.Error("create_rollback: false was ignored")
	}
	if cfg.Migration.MaxErrors != 2 {
		t.Errorf("max_errors = %d, want 2", cfg.Migration.MaxErrors)
	}
	if cfg.Migration.MaxMigrationTime != 90*time.Minute {
		t.Errorf("max_migration_time = %v, want 90m", cfg.Migration.MaxMigrationTime)
	}
	if len(cfg.Migration.IncludeTables) != 2 {
		t.Errorf("include_tables = %v", cfg.Migration.IncludeTables)
	}
	if cfg.Cutover.StopWriters != "systemctl stop shop-api" {
		t.Errorf("cutover.stop_writers = %q", cfg.Cutover.StopWriters)
	}
}

func TestLoadBytesExpandsEnv(t *testing.T) {
	t.Setenv("MIGRATE_TEST_PASSWORD", "s3cr3t")
	yaml := `
source:
  path: /data/shop.db
target:
  host: db
  database: shop
  password: ${MIGRATE_TEST_PASSWORD}
`
	cfg, err := LoadBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if cfg.Target.Password != "s3cr3t" {
		t.Errorf("password = %q, want expanded value", cfg.Target.Password)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing source path",
			yaml:    "target: {host: h, database: d}",
			wantErr: "source.path is required",
		},
		{
			name:    "unsupported source",
			yaml:    "source: {type: oracle, path: x}\ntarget: {host: h, database: d}",
			wantErr: "source.type must be 'sqlite'",
		},
		{
			name:    "unknown target",
			yaml:    "source: {path: x}\ntarget: {type: db2, host: h, database: d}",
			wantErr: "target.type must be",
		},
		{
			name:    "missing target host",
			yaml:    "source: {path: x}\ntarget: {database: d}",
			wantErr: "target.host is required",
		},
		{
			name:    "missing target database",
			yaml:    "source: {path: x}\ntarget: {host: h}",
			wantErr: "target.database is required",
		},
		{
			name:    "sqlite target without path",
			yaml:    "source: {path: x}\ntarget: {type: sqlite}",
			wantErr: "target.path is required",
		},
		{
			name:    "sqlite target same file",
			yaml:    "source: {path: /tmp/a.db}\ntarget: {type: sqlite, path: /tmp/a.db}",
			wantErr: "must differ",
		},
		{
			name:    "negative throttle",
			yaml:    "source: {path: x}\ntarget: {host: h, database: d}\nmigration: {max_batches_per_second: -1}",
			wantErr: "max_batches_per_second",
		},
		{
			name:    "bad glob",
			yaml:    "source: {path: x}\ntarget: {host: h, database: d}\nmigration: {exclude_tables: [\"[\"]}",
			wantErr: "invalid table pattern",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	cfg := &Config{
		Source: SourceConfig{Path: "/tmp/src.db"},
		Target: TargetConfig{Type: "sqlite", Path: "/tmp/dst.db"},
	}
	if err := cfg.Normalize(); err != nil {
		t.Fatalf("first Normalize: %v", err)
	}
	first := *cfg
	if err := cfg.Normalize(); err != nil {
		t.Fatalf("second Normalize: %v", err)
	}
	if cfg.Migration.BatchSize != first.Migration.BatchSize || cfg.Target.Type != first.Target.Type {
		t.Errorf("Normalize changed an already-normalized config")
	}
	if cfg.Target.Port != 0 {
		t.Errorf("sqlite target should have no port, got %d", cfg.Target.Port)
	}
}

func TestSanitized(t *testing.T) {
	cfg := &Config{
		Target: TargetConfig{Password: "hunter2"},
		Slack:  SlackConfig{WebhookURL: "https://hooks.slack.com/services/x"},
	}
	s := cfg.Sanitized()
	if s.Target.Password != "[REDACTED]" {
		t.Errorf("password not redacted: %q", s.Target.Password)
	}
	if s.Slack.WebhookURL != "[REDACTED]" {
		t.Errorf("webhook not redacted: %q", s.Slack.WebhookURL)
	}
	if cfg.Target.Password != "hunter2" {
		t.Error("Sanitized modified the original")
	}
}

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"~", home},
		{"~/runs", filepath.Join(home, "runs")},
		{"/abs/path", "/abs/path"},
		{"rel~/x", "rel~/x"},
	}
	for _, tt := range tests {
		if got := expandTilde(tt.in); got != tt.want {
			t.Errorf("expandTilde(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadWithOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "source: {path: /tmp/src.db}\ntarget: {type: sqlite, path: /tmp/dst.db}\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadWithOptions(path, LoadOptions{SuppressWarnings: true})
	if err != nil {
		t.Fatalf("LoadWithOptions: %v", err)
	}
	if cfg.Target.Describe() != "sqlite:/tmp/dst.db" {
		t.Errorf("Describe() = %q", cfg.Target.Describe())
	}
}
