package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration for the mailstore CLI.
type Config struct {
	Store   StoreConfig   `koanf:"store"`
	Catalog CatalogConfig `koanf:"catalog"`
	Logging LoggingConfig `koanf:"logging"`
}

// StoreConfig holds mailbox storage configuration.
type StoreConfig struct {
	Path       string `koanf:"path"`        // Root maildir path
	Layout     string `koanf:"layout"`      // "maildir++" or "fs"
	Separator  string `koanf:"separator"`   // Folder separator character (maildir++)
	Lazy       bool   `koanf:"lazy"`        // Accept bounded index staleness
	LazyPeriod string `koanf:"lazy_period"` // Staleness window, e.g. "5s"
	Xattr      bool   `koanf:"xattr"`       // Cache hashes/dates in extended attributes
}

// CatalogConfig holds SQLite catalog configuration.
type CatalogConfig struct {
	Path string `koanf:"path"` // Catalog database path; empty disables
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
	Output string `koanf:"output"` // stdout, stderr, or file path
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Layout:     "maildir++",
			Separator:  ".",
			Lazy:       false,
			LazyPeriod: "5s",
			Xattr:      false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults when
// the file does not exist.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if !filepath.IsAbs(c.Store.Path) {
		return fmt.Errorf("store.path must be an absolute path (got: %s)", c.Store.Path)
	}

	switch c.Store.Layout {
	case "", "maildir++", "fs":
	default:
		return fmt.Errorf("store.layout must be one of: maildir++, fs (got: %s)", c.Store.Layout)
	}

	if len(c.Store.Separator) > 1 {
		return fmt.Errorf("store.separator must be a single character (got: %s)", c.Store.Separator)
	}
	if c.Store.Separator == "/" {
		return fmt.Errorf("store.separator \"/\" is reserved for the fs layout")
	}

	if c.Store.LazyPeriod != "" {
		d, err := time.ParseDuration(c.Store.LazyPeriod)
		if err != nil {
			return fmt.Errorf("store.lazy_period is invalid: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("store.lazy_period must be positive (got: %s)", c.Store.LazyPeriod)
		}
		if d > time.Hour {
			return fmt.Errorf("store.lazy_period is too long, maximum is 1h (got: %s)", c.Store.LazyPeriod)
		}
	}

	if c.Catalog.Path != "" && !filepath.IsAbs(c.Catalog.Path) {
		return fmt.Errorf("catalog.path must be an absolute path (got: %s)", c.Catalog.Path)
	}

	if c.Logging.Level != "" {
		validLevels := map[string]bool{
			"debug": true, "info": true, "warn": true, "error": true,
		}
		if !validLevels[c.Logging.Level] {
			return fmt.Errorf("logging.level must be one of: debug, info, warn, error (got: %s)", c.Logging.Level)
		}
	}

	if c.Logging.Format != "" {
		validFormats := map[string]bool{"json": true, "text": true}
		if !validFormats[c.Logging.Format] {
			return fmt.Errorf("logging.format must be one of: json, text (got: %s)", c.Logging.Format)
		}
	}

	return nil
}

// LazyPeriodDuration returns the parsed lazy period, or zero when unset.
func (c *Config) LazyPeriodDuration() time.Duration {
	if c.Store.LazyPeriod == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Store.LazyPeriod)
	if err != nil {
		return 0
	}
	return d
}
