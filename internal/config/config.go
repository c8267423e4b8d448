package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xiy/lore-mcp/pkg/types"
)

// Temperature holds the tiering policy: ordered thresholds plus a per-tier
// retention fraction hint used by the compression strategies. The warm
// threshold is measured in hours; the colder thresholds are measured in
// days.
type Temperature struct {
	Enabled         bool                   `yaml:"enabled"`
	WarmAfterHours  float64                `yaml:"warm_after_hours"`
	CoolAfterDays   float64                `yaml:"cool_after_days"`
	ColdAfterDays   float64                `yaml:"cold_after_days"`
	FrozenAfterDays float64                `yaml:"frozen_after_days"`
	Retention       map[types.Tier]float64 `yaml:"retention"`
}

// Config contains runtime configuration for lore-mcp.
type Config struct {
	ServerName            string      `yaml:"server_name"`
	DBPath                string      `yaml:"db_path"`
	LogLevel              string      `yaml:"log_level"`
	ReportIntervalSeconds int         `yaml:"report_interval_seconds"`
	Temperature           Temperature `yaml:"temperature"`
}

// Default returns a Config populated with safe defaults.
func Default() Config {
	return Config{
		ServerName:            "lore-mcp",
		DBPath:                filepath.Join(userHomeDir(), ".lore-mcp", "entities.db"),
		LogLevel:              "info",
		ReportIntervalSeconds: 300,
		Temperature: Temperature{
			Enabled:         true,
			WarmAfterHours:  1,
			CoolAfterDays:   1,
			ColdAfterDays:   7,
			FrozenAfterDays: 30,
			Retention: map[types.Tier]float64{
				types.TierWarm:   0.7,
				types.TierCool:   0.4,
				types.TierCold:   0.15,
				types.TierFrozen: 0.05,
			},
		},
	}
}

// Load loads config from disk; if path does not exist, default config is returned.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks configuration sanity.
func (c *Config) Validate() error {
	if c.ServerName == "" {
		return errors.New("server_name must not be empty")
	}
	if c.DBPath == "" {
		return errors.New("db_path must not be empty")
	}
	if c.ReportIntervalSeconds <= 0 {
		return errors.New("report_interval_seconds must be > 0")
	}
	return c.Temperature.Validate()
}

// Validate checks that thresholds are strictly increasing once normalized
// to hours and that every non-hot tier has a usable retention fraction.
func (t *Temperature) Validate() error {
	bounds := []struct {
		name  string
		hours float64
	}{
		{"warm_after_hours", t.WarmAfterHours},
		{"cool_after_days", t.CoolAfterDays * 24},
		{"cold_after_days", t.ColdAfterDays * 24},
		{"frozen_after_days", t.FrozenAfterDays * 24},
	}
	prev := 0.0
	for _, b := range bounds {
		if b.hours <= prev {
			return fmt.Errorf("temperature threshold %s must increase past the previous boundary", b.name)
		}
		prev = b.hours
	}

	for _, tier := range []types.Tier{types.TierWarm, types.TierCool, types.TierCold, types.TierFrozen} {
		frac, ok := t.Retention[tier]
		if !ok {
			return fmt.Errorf("temperature retention missing tier %s", tier)
		}
		if frac <= 0 || frac > 1 {
			return fmt.Errorf("temperature retention for %s must be in (0, 1], got %v", tier, frac)
		}
	}
	return nil
}

// EnsurePaths creates parent directories for config-managed paths.
func (c *Config) EnsurePaths() error {
	c.DBPath = ExpandPath(c.DBPath)
	parent := filepath.Dir(c.DBPath)
	if parent == "." {
		return nil
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create db parent dir: %w", err)
	}
	return nil
}

// ExpandPath expands "~/" to the current user's home directory.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p == "~" {
		return userHomeDir()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(userHomeDir(), p[2:])
	}
	return p
}

func userHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
