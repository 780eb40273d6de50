package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultFile is the project config file looked up in the working directory.
const DefaultFile = "verify-contracts.toml"

// Supported backends and storage types
const (
	BackendHardhat = "hardhat"
	BackendHTTP    = "http"

	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageNone     = "none"
)

// Config holds all configuration for a verification run
type Config struct {
	DeploymentsDir string         `toml:"deployments_dir" yaml:"deployments_dir"`
	StopOnFatal    bool           `toml:"stop_on_fatal" yaml:"stop_on_fatal"`
	Verifier       VerifierConfig `toml:"verifier" yaml:"verifier"`
	Storage        StorageConfig  `toml:"storage" yaml:"storage"`
	Logging        LoggingConfig  `toml:"logging" yaml:"logging"`
	Metrics        MetricsConfig  `toml:"metrics" yaml:"metrics"`

	// File is the config file that was loaded, if any.
	File string `toml:"-" yaml:"file,omitempty"`
}

// VerifierConfig selects and configures the verification backend
type VerifierConfig struct {
	Backend        string `toml:"backend" yaml:"backend"`
	URL            string `toml:"url" yaml:"url"`
	APIKey         string `toml:"api_key" yaml:"api_key"`
	HardhatCommand string `toml:"hardhat_command" yaml:"hardhat_command"`
	ProjectDir     string `toml:"project_dir" yaml:"project_dir"`
	CallTimeout    int    `toml:"call_timeout" yaml:"call_timeout"` // seconds
	RequestsPerMin int    `toml:"requests_per_min" yaml:"requests_per_min"`
}

// StorageConfig holds verification ledger settings
type StorageConfig struct {
	Type        string `toml:"type" yaml:"type"` // "sqlite", "postgres" or "none"
	SQLitePath  string `toml:"sqlite_path" yaml:"sqlite_path"`
	DatabaseURL string `toml:"database_url" yaml:"database_url"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"` // "auto", "text" or "json"
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled  bool   `toml:"enabled" yaml:"enabled"`
	Textfile string `toml:"textfile" yaml:"textfile"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		DeploymentsDir: "./deployments",
		Verifier: VerifierConfig{
			Backend:        BackendHardhat,
			URL:            "http://localhost:8080",
			HardhatCommand: "npx hardhat",
			ProjectDir:     ".",
			CallTimeout:    120,
		},
		Storage: StorageConfig{
			Type:       StorageSQLite,
			SQLitePath: "./data/verify-contracts.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load builds the configuration from defaults, the optional project file
// and environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	cfg := Defaults()

	path, required := os.Getenv("VERIFY_CONFIG"), true
	if path == "" {
		path, required = DefaultFile, false
	}
	if err := cfg.loadFile(path, required); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	storageType := c.Storage.Type
	c.Storage.Type = ""
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys in config file %s: %s", path, strings.Join(keys, ", "))
	}
	if c.Storage.Type == "" {
		c.Storage.Type = impliedStorage(storageType, c.Storage.DatabaseURL)
	}
	c.File = path
	return nil
}

func (c *Config) applyEnv() {
	c.DeploymentsDir = getEnv("DEPLOYMENTS_DIR", c.DeploymentsDir)
	c.StopOnFatal = getEnvBool("VERIFY_STOP_ON_FATAL", c.StopOnFatal)

	c.Verifier.Backend = getEnv("VERIFIER_BACKEND", c.Verifier.Backend)
	c.Verifier.URL = getEnv("VERIFIER_URL", c.Verifier.URL)
	c.Verifier.APIKey = getEnv("VERIFIER_API_KEY", c.Verifier.APIKey)
	c.Verifier.HardhatCommand = getEnv("HARDHAT_COMMAND", c.Verifier.HardhatCommand)
	c.Verifier.ProjectDir = getEnv("HARDHAT_PROJECT_DIR", c.Verifier.ProjectDir)
	c.Verifier.CallTimeout = getEnvInt("VERIFY_CALL_TIMEOUT", c.Verifier.CallTimeout)
	c.Verifier.RequestsPerMin = getEnvInt("VERIFY_RATE_LIMIT_RPM", c.Verifier.RequestsPerMin)

	storageType := os.Getenv("STORAGE_TYPE")
	c.Storage.SQLitePath = getEnv("SQLITE_PATH", c.Storage.SQLitePath)
	c.Storage.DatabaseURL = getEnv("DATABASE_URL", c.Storage.DatabaseURL)
	if storageType != "" {
		c.Storage.Type = storageType
	} else if os.Getenv("DATABASE_URL") != "" {
		c.Storage.Type = impliedStorage(c.Storage.Type, c.Storage.DatabaseURL)
	}

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)

	c.Metrics.Enabled = getEnvBool("METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Textfile = getEnv("METRICS_TEXTFILE", c.Metrics.Textfile)
}

// If DATABASE_URL is set, default to postgres
func impliedStorage(current, databaseURL string) string {
	if databaseURL != "" && current == StorageSQLite {
		return StoragePostgres
	}
	return current
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	var errs []error

	switch c.Verifier.Backend {
	case BackendHardhat:
		if strings.TrimSpace(c.Verifier.HardhatCommand) == "" {
			errs = append(errs, errors.New("verifier.hardhat_command cannot be empty"))
		}
	case BackendHTTP:
		if u, err := url.Parse(c.Verifier.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("verifier.url %q is not an absolute URL", c.Verifier.URL))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown verifier backend %q (want %s or %s)", c.Verifier.Backend, BackendHardhat, BackendHTTP))
	}
	if c.Verifier.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("verifier.call_timeout must be positive, got %d", c.Verifier.CallTimeout))
	}
	if c.Verifier.RequestsPerMin < 0 {
		errs = append(errs, fmt.Errorf("verifier.requests_per_min cannot be negative, got %d", c.Verifier.RequestsPerMin))
	}

	switch c.Storage.Type {
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path cannot be empty"))
		}
	case StoragePostgres:
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, errors.New("storage.database_url is required for postgres"))
		}
	case StorageNone:
	default:
		errs = append(errs, fmt.Errorf("unknown storage type %q", c.Storage.Type))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "", "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// CallTimeout returns the per-call verifier timeout.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Verifier.CallTimeout) * time.Second
}

// Redacted returns a copy safe to print, with secrets masked.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Verifier.APIKey != "" {
		out.Verifier.APIKey = maskSecret(out.Verifier.APIKey)
	}
	if u, err := url.Parse(out.Storage.DatabaseURL); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
			out.Storage.DatabaseURL = u.String()
		}
	}
	return &out
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}
