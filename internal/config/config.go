package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// expandTilde expands ~ or ~/ at the start of a path to the user's home directory
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// Config holds all configuration for a migration job
type Config struct {
	Source    SourceConfig    `yaml:"source"`
	Target    TargetConfig    `yaml:"target"`
	Migration MigrationConfig `yaml:"migration"`
	Cutover   CutoverConfig   `yaml:"cutover"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Slack     SlackConfig     `yaml:"slack"`
}

// SlackConfig holds Slack notification settings
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
	Enabled    bool   `yaml:"enabled"`
}

// SourceConfig points at the embedded source database file
type SourceConfig struct {
	Type string `yaml:"type"` // "sqlite" (only supported source)
	Path string `yaml:"path"` // Database file
}

// TargetConfig holds target database connection settings
type TargetConfig struct {
	Type            string        `yaml:"type"` // "mysql" (default), "postgres", "mssql" or "sqlite"
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Schema          string        `yaml:"schema"`            // PostgreSQL/MSSQL schema (default: public/dbo)
	Charset         string        `yaml:"charset"`           // MySQL: connection charset (default: utf8mb4)
	SSLMode         string        `yaml:"ssl_mode"`          // PostgreSQL: disable, require, verify-ca, verify-full (default: prefer)
	Encrypt         string        `yaml:"encrypt"`           // MSSQL: disable, false, true (default: true)
	TrustServerCert bool          `yaml:"trust_server_cert"` // MSSQL: trust server certificate
	Path            string        `yaml:"path"`              // SQLite target file (testing and local rehearsal)
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// MigrationConfig holds migration behavior settings
type MigrationConfig struct {
	BatchSize            int           `yaml:"batch_size"`
	CreateRollback       *bool         `yaml:"create_rollback"`
	IncludeTables        []string      `yaml:"include_tables"` // Only migrate these tables (glob patterns)
	ExcludeTables        []string      `yaml:"exclude_tables"` // Skip these tables (glob patterns)
	DataDir              string        `yaml:"data_dir"`
	IncrementalSync      bool          `yaml:"incremental_sync"`
	SampleValidation     bool          `yaml:"sample_validation"`
	SampleSize           int           `yaml:"sample_size"`
	ValidationThreshold  int64         `yaml:"validation_threshold"` // Max rows for primary-key set comparison
	MaxErrors            int           `yaml:"max_errors"`
	MaxMigrationTime     time.Duration `yaml:"max_migration_time"`
	MaxFailedCheckpoints int           `yaml:"max_failed_checkpoints"`
	MaxBatchesPerSecond  int           `yaml:"max_batches_per_second"` // 0 = unthrottled
	ConnectRetries       int           `yaml:"connect_retries"`
}

// CutoverConfig holds the environment-specific cutover hooks. Each hook is a
// shell command; an empty command is a no-op.
type CutoverConfig struct {
	StopWriters   string        `yaml:"stop_writers"`
	SwitchConfig  string        `yaml:"switch_config"`
	ResumeWriters string        `yaml:"resume_writers"`
	Timeout       time.Duration `yaml:"timeout"`
}

// MonitorConfig controls the monitoring surface.
type MonitorConfig struct {
	Listen   string        `yaml:"listen"`   // HTTP listen address, loopback only (127.0.0.1:8080); empty disables the server
	Interval time.Duration `yaml:"interval"` // Metrics push interval
}

// RollbackEnabled reports whether rollback points are created before data is written.
func (m *MigrationConfig) RollbackEnabled() bool {
	return m.CreateRollback == nil || *m.CreateRollback
}

// SetCreateRollback overrides the rollback toggle.
func (m *MigrationConfig) SetCreateRollback(v bool) {
	m.CreateRollback = &v
}

// LoadOptions controls configuration loading behavior.
type LoadOptions struct {
	SuppressWarnings bool
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	return LoadWithOptions(path, LoadOptions{})
}

// LoadWithOptions reads configuration from a YAML file with options.
func LoadWithOptions(path string, opts LoadOptions) (*Config, error) {
	// Config files carry credentials
	if warning := checkFilePermissions(path); warning != "" && !opts.SuppressWarnings {
		fmt.Fprint(os.Stderr, warning)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return LoadBytes(data)
}

// LoadBytes reads configuration from YAML bytes.
func LoadBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize applies defaults and validates the configuration. It is safe to
// call more than once.
func (c *Config) Normalize() error {
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DefaultDataDir returns the default data directory for run artifacts.
func DefaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".sqlite-server-migrate")
}

var targetAliases = map[string]string{
	"mysql":      "mysql",
	"mariadb":    "mysql",
	"postgres":   "postgres",
	"postgresql": "postgres",
	"pg":         "postgres",
	"mssql":      "mssql",
	"sqlserver":  "mssql",
	"sqlite":     "sqlite",
	"sqlite3":    "sqlite",
}

var defaultPorts = map[string]int{
	"mysql":    3306,
	"postgres": 5432,
	"mssql":    1433,
}

func (c *Config) applyDefaults() {
	// Source defaults
	if c.Source.Type == "" || strings.EqualFold(c.Source.Type, "sqlite3") {
		c.Source.Type = "sqlite"
	}
	c.Source.Type = strings.ToLower(c.Source.Type)
	c.Source.Path = expandTilde(c.Source.Path)

	// Target defaults
	if c.Target.Type == "" {
		c.Target.Type = "mysql"
	}
	if canonical, ok := targetAliases[strings.ToLower(c.Target.Type)]; ok {
		c.Target.Type = canonical
	}
	if c.Target.Port == 0 {
		c.Target.Port = defaultPorts[c.Target.Type]
	}
	if c.Target.Schema == "" {
		switch c.Target.Type {
		case "postgres":
			c.Target.Schema = "public"
		case "mssql":
			c.Target.Schema = "dbo"
		}
	}
	if c.Target.Charset == "" && c.Target.Type == "mysql" {
		c.Target.Charset = "utf8mb4"
	}
	if c.Target.SSLMode == "" {
		c.Target.SSLMode = "prefer"
	}
	if c.Target.Encrypt == "" {
		c.Target.Encrypt = "true"
	}
	if c.Target.ConnectTimeout == 0 {
		c.Target.ConnectTimeout = 10 * time.Second
	}
	c.Target.Path = expandTilde(c.Target.Path)

	// Migration defaults
	if c.Migration.BatchSize <= 0 {
		c.Migration.BatchSize = 1000
	}
	if c.Migration.DataDir == "" {
		c.Migration.DataDir = DefaultDataDir()
	} else {
		c.Migration.DataDir = expandTilde(c.Migration.DataDir)
	}
	if c.Migration.SampleSize == 0 {
		c.Migration.SampleSize = 100
	}
	if c.Migration.ValidationThreshold == 0 {
		c.Migration.ValidationThreshold = 10000
	}
	if c.Migration.MaxErrors == 0 {
		c.Migration.MaxErrors = 5
	}
	if c.Migration.MaxMigrationTime == 0 {
		c.Migration.MaxMigrationTime = 24 * time.Hour
	}
	if c.Migration.MaxFailedCheckpoints == 0 {
		c.Migration.MaxFailedCheckpoints = 3
	}
	if c.Migration.ConnectRetries == 0 {
		c.Migration.ConnectRetries = 3
	}

	if c.Cutover.Timeout == 0 {
		c.Cutover.Timeout = 5 * time.Minute
	}
	if c.Monitor.Interval == 0 {
		c.Monitor.Interval = 5 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Source.Type != "sqlite" {
		return fmt.Errorf("source.type must be 'sqlite', got '%s'", c.Source.Type)
	}
	if c.Source.Path == "" {
		return fmt.Errorf("source.path is required")
	}

	if _, ok := defaultPorts[c.Target.Type]; !ok && c.Target.Type != "sqlite" {
		return fmt.Errorf("target.type must be 'mysql', 'postgres', 'mssql' or 'sqlite', got '%s'", c.Target.Type)
	}
	if c.Target.Type == "sqlite" {
		if c.Target.Path == "" {
			return fmt.Errorf("target.path is required for a sqlite target")
		}
		if filepath.Clean(c.Target.Path) == filepath.Clean(c.Source.Path) {
			return fmt.Errorf("target.path must differ from source.path")
		}
	} else {
		if c.Target.Host == "" {
			return fmt.Errorf("target.host is required")
		}
		if c.Target.Database == "" {
			return fmt.Errorf("target.database is required")
		}
	}

	if c.Migration.MaxErrors < 0 {
		return fmt.Errorf("migration.max_errors must be positive")
	}
	if c.Migration.MaxFailedCheckpoints < 0 {
		return fmt.Errorf("migration.max_failed_checkpoints must be positive")
	}
	if c.Migration.MaxMigrationTime < 0 {
		return fmt.Errorf("migration.max_migration_time must be positive")
	}
	if c.Migration.SampleSize < 0 {
		return fmt.Errorf("migration.sample_size must be positive")
	}
	if c.Migration.MaxBatchesPerSecond < 0 {
		return fmt.Errorf("migration.max_batches_per_second must not be negative")
	}
	for _, p := range append(append([]string{}, c.Migration.IncludeTables...), c.Migration.ExcludeTables...) {
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("invalid table pattern %q: %w", p, err)
		}
	}
	return nil
}

// Sanitized returns a copy of the config with sensitive fields redacted
func (c *Config) Sanitized() *Config {
	sanitized := *c // shallow copy

	if sanitized.Target.Password != "" {
		sanitized.Target.Password = "[REDACTED]"
	}
	if sanitized.Slack.WebhookURL != "" {
		sanitized.Slack.WebhookURL = "[REDACTED]"
	}

	return &sanitized
}

// Describe returns a short human-readable label for the target endpoint.
func (t *TargetConfig) Describe() string {
	if t.Type == "sqlite" {
		return "sqlite:" + t.Path
	}
	return fmt.Sprintf("%s://%s:%d/%s", t.Type, t.Host, t.Port, t.Database)
}
