package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata" // zone database for hosts without one

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	defaultListen    = "127.0.0.1:8080"
	defaultTimezone  = "UTC"
	defaultDatabase  = "./var/calfeed.db"
	defaultProductID = "-//calfeed//Calendar Export//EN"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the ingest API and metrics.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

type LogConfig struct {
	// Level is one of debug, info, error.
	Level string `yaml:"level" json:"level" validate:"oneof=debug info error"`
	// Format is json or console.
	Format string `yaml:"format" json:"format" validate:"oneof=json console"`
}

// PublishConfig drives the scheduled .ics writer. It is disabled while
// Cron or Dir is empty.
type PublishConfig struct {
	Cron        string   `yaml:"cron" json:"cron"`
	Dir         string   `yaml:"dir" json:"dir"`
	Owners      []string `yaml:"owners" json:"owners" validate:"dive,required"`
	Concurrency int      `yaml:"concurrency" json:"concurrency" validate:"gte=1,lte=64"`
}

func (p PublishConfig) Enabled() bool {
	return p.Cron != "" && p.Dir != ""
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen" validate:"required,hostname_port"`

	// Timezone is the IANA zone in which naive dates are read and points are emitted.
	Timezone string `yaml:"timezone" json:"timezone" validate:"required"`

	// Database is the SQLite file holding raw event documents.
	Database string `yaml:"database" json:"database" validate:"required"`

	// ProductID is written as PRODID on every exported calendar.
	ProductID string `yaml:"product_id" json:"product_id" validate:"required"`

	// CalendarName, if set, is written as X-WR-CALNAME.
	CalendarName string `yaml:"calendar_name" json:"calendar_name"`

	// Categories maps a raw event source tag to its CATEGORIES label.
	Categories map[string]string `yaml:"categories" json:"categories"`

	Log LogConfig `yaml:"log" json:"log"`

	// BasicAuth, if set with both fields, guards /api/* and /metrics.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Publish PublishConfig `yaml:"publish" json:"publish"`
}

// DefaultCategories are the recognized source tags.
func DefaultCategories() map[string]string {
	return map[string]string{
		"google":  "Google Calendar",
		"outlook": "Outlook Calendar",
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:     defaultListen,
		Timezone:   defaultTimezone,
		Database:   defaultDatabase,
		ProductID:  defaultProductID,
		Categories: DefaultCategories(),
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Publish: PublishConfig{
			Owners:      []string{},
			Concurrency: 4,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.Database == "" {
		c.Database = defaultDatabase
	}
	if c.ProductID == "" {
		c.ProductID = defaultProductID
	}
	if c.Categories == nil {
		c.Categories = DefaultCategories()
	}
	switch c.Log.Level {
	case "debug", "info", "error":
	default:
		c.Log.Level = "info"
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		c.Log.Format = "json"
	}
	if c.Publish.Owners == nil {
		c.Publish.Owners = []string{}
	}
	if c.Publish.Concurrency <= 0 {
		c.Publish.Concurrency = 4
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints plus the timezone and cron expression.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid config: timezone %q: %w", c.Timezone, err)
	}
	if c.Publish.Cron != "" {
		if _, err := cron.ParseStandard(c.Publish.Cron); err != nil {
			return fmt.Errorf("invalid config: publish.cron %q: %w", c.Publish.Cron, err)
		}
	}
	return nil
}

// Location resolves Timezone, falling back to UTC when it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is unmarshalled, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0o600)
}

// WriteFileAtomic writes data to a temp file in path's directory, then
// renames it over path, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calfeed-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
