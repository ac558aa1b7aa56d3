// Package config loads ingester, migrate and server settings.
//
// Precedence, lowest first: defaults, .env, config file, SHAPELETS_* environment, flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "SHAPELETS"

	// LegacyConfigFile is the JSON settings file written by earlier setup tooling
	LegacyConfigFile = ".config"
	// LegacyDatabaseName is appended to database_path from the legacy config
	LegacyDatabaseName = "air.db"

	DefaultBatchSize = 500
)

// Config holds all runtime settings. It is read once at startup.
type Config struct {
	InputDir    string `mapstructure:"input_dir"`
	Recursive   bool   `mapstructure:"recursive"`
	DryRun      bool   `mapstructure:"dry_run"`
	Limit       int    `mapstructure:"limit"`
	Verbose     bool   `mapstructure:"verbose"`
	BatchSize   int    `mapstructure:"batch_size"`
	MetricsFile string `mapstructure:"metrics_file"`

	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	// URL is a SQLite file path or a postgres:// DSN
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// flagKeys maps command line flag names to configuration keys
var flagKeys = map[string]string{
	"input-dir":    "input_dir",
	"recursive":    "recursive",
	"dry-run":      "dry_run",
	"limit":        "limit",
	"verbose":      "verbose",
	"batch-size":   "batch_size",
	"metrics-file": "metrics_file",
	"db":           "database.url",
	"host":         "server.host",
	"port":         "server.port",
	"log-level":    "logging.level",
}

var logLevels = []string{"debug", "info", "warn", "error"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input_dir", "")
	v.SetDefault("recursive", true)
	v.SetDefault("dry_run", false)
	v.SetDefault("limit", 0)
	v.SetDefault("verbose", false)
	v.SetDefault("batch_size", DefaultBatchSize)
	v.SetDefault("metrics_file", "")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("logging.level", "info")

	// legacy keys
	v.SetDefault("data_path", "")
	v.SetDefault("database_path", "")
}

// LoadConfig builds the configuration from all sources.
// path names a config file; when empty a legacy .config in the working
// directory is used if present. flags may be nil.
func LoadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	// a missing .env is not an error
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key, ok := flagKeys[f.Name]
			if !ok || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(key, f)
		})
		if bindErr != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path == "" {
		if _, err := os.Stat(LegacyConfigFile); err == nil {
			path = LegacyConfigFile
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		ext := strings.TrimPrefix(filepath.Ext(path), ".")
		if !slices.Contains(viper.SupportedExts, ext) {
			v.SetConfigType("json")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading configuration file '%s': %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if cfg.InputDir == "" {
		cfg.InputDir = v.GetString("data_path")
	}
	if cfg.Database.URL == "" {
		if dir := v.GetString("database_path"); dir != "" {
			cfg.Database.URL = filepath.Join(dir, LegacyDatabaseName)
		}
	}
	if cfg.Verbose {
		cfg.Logging.Level = "debug"
	}

	return cfg, nil
}

// Validate fills remaining defaults and rejects invalid settings
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		c.Database.URL = LegacyDatabaseName
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	var errs []error
	if c.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", c.BatchSize))
	}
	if c.Limit < 0 {
		errs = append(errs, fmt.Errorf("limit must not be negative, got %d", c.Limit))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port out of range: %d", c.Server.Port))
	}
	if !slices.Contains(logLevels, strings.ToLower(c.Logging.Level)) {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Logging.Level))
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		errs = append(errs, errors.New("database connection limits must not be negative"))
	}
	return errors.Join(errs...)
}
