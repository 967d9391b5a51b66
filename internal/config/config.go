// Package config loads shadowbook's yaml configuration with environment
// overrides and validates the source precedence order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/basket/shadowbook/internal/identity"
	"github.com/basket/shadowbook/internal/otel"
)

// SourceFileConfig points a built-in file adapter at a source's JSON export.
type SourceFileConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SourcesConfig configures which sources sync and in what match priority.
type SourcesConfig struct {
	// Precedence is the total match-priority order. Empty uses the default:
	// import, backup, address_book, mailbox.
	Precedence  []string         `yaml:"precedence"`
	AddressBook SourceFileConfig `yaml:"address_book"`
	Backup      SourceFileConfig `yaml:"backup"`
	Mailbox     SourceFileConfig `yaml:"mailbox"`
}

// SyncConfig controls the background full-sync schedule.
type SyncConfig struct {
	// Schedule is a standard 5-field cron expression.
	Schedule string `yaml:"schedule"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	UserID              string `yaml:"user_id"`
	DBPath              string `yaml:"db_path"`
	DBKeyFile           string `yaml:"db_key_file"`
	LogLevel            string `yaml:"log_level"`
	QueryTimeoutSeconds int    `yaml:"query_timeout_seconds"`

	Sources SourcesConfig `yaml:"sources"`
	Sync    SyncConfig    `yaml:"sync"`
	Otel    otel.Config   `yaml:"otel"`
}

func defaultConfig() Config {
	return Config{
		UserID:              "local",
		LogLevel:            "info",
		QueryTimeoutSeconds: 30,
		Sync:                SyncConfig{Schedule: "*/30 * * * *"},
	}
}

func HomeDir() string {
	if override := os.Getenv("SHADOWBOOK_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".shadowbook")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create shadowbook home: %w", err)
	}

	configPath := filepath.Join(cfg.HomeDir, "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if _, err := cfg.Precedence(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("SHADOWBOOK_USER"); raw != "" {
		cfg.UserID = raw
	}
	if raw := os.Getenv("SHADOWBOOK_DB_PATH"); raw != "" {
		cfg.DBPath = raw
	}
	if raw := os.Getenv("SHADOWBOOK_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("SHADOWBOOK_SYNC_SCHEDULE"); raw != "" {
		cfg.Sync.Schedule = raw
	}
	if raw := os.Getenv("SHADOWBOOK_QUERY_TIMEOUT_SECONDS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.QueryTimeoutSeconds = n
		}
	}
}

func normalize(cfg *Config) {
	if cfg.UserID == "" {
		cfg.UserID = "local"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.HomeDir, "shadowbook.db")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.QueryTimeoutSeconds <= 0 {
		cfg.QueryTimeoutSeconds = 30
	}
	if cfg.Sync.Schedule == "" {
		cfg.Sync.Schedule = "*/30 * * * *"
	}
}

// Precedence parses and validates the configured match-priority order. The
// order must be total and stable: every known source exactly once. An empty
// configuration yields the default order.
func (c Config) Precedence() ([]identity.Source, error) {
	if len(c.Sources.Precedence) == 0 {
		return identity.DefaultPrecedence(), nil
	}
	seen := make(map[identity.Source]bool, len(c.Sources.Precedence))
	out := make([]identity.Source, 0, len(c.Sources.Precedence))
	for _, raw := range c.Sources.Precedence {
		src, err := identity.ParseSource(raw)
		if err != nil {
			return nil, fmt.Errorf("sources.precedence: %w", err)
		}
		if seen[src] {
			return nil, fmt.Errorf("sources.precedence: %q listed twice", src)
		}
		seen[src] = true
		out = append(out, src)
	}
	for _, src := range identity.DefaultPrecedence() {
		if !seen[src] {
			return nil, fmt.Errorf("sources.precedence: missing %q, the order must be total", src)
		}
	}
	return out, nil
}

// SourceFiles returns the enabled file-adapter configurations by source tag.
func (c Config) SourceFiles() map[identity.Source]SourceFileConfig {
	out := make(map[identity.Source]SourceFileConfig, 3)
	if c.Sources.AddressBook.Enabled {
		out[identity.SourceAddressBook] = c.Sources.AddressBook
	}
	if c.Sources.Backup.Enabled {
		out[identity.SourceBackup] = c.Sources.Backup
	}
	if c.Sources.Mailbox.Enabled {
		out[identity.SourceMailbox] = c.Sources.Mailbox
	}
	return out
}
