// Package config loads cityforge settings from a YAML file and the
// environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/cityforge/internal/params"
)

// Environment variables carrying secrets. They are never read from the file.
const (
	EnvAdminKey     = "CITYFORGE_ADMIN_KEY"
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvWeatherKey   = "OPENWEATHER_API_KEY"
	EnvRandomKey    = "RANDOM_ORG_API_KEY"
)

// Config is the full runtime configuration.
type Config struct {
	Addr             string        `yaml:"addr"`
	DBPath           string        `yaml:"db_path"`
	Seed             int64         `yaml:"seed"` // 0 picks a fresh seed at startup
	FleetSize        int           `yaml:"fleet_size"`
	CacheSize        int           `yaml:"cache_size"`
	GenerateDelay    time.Duration `yaml:"generate_delay"`
	AutosaveInterval time.Duration `yaml:"autosave_interval"`
	Speed            float64       `yaml:"speed"`

	Log struct {
		Level  string `yaml:"level"`  // debug, info, warn, error
		Format string `yaml:"format"` // auto, text, json
	} `yaml:"log"`

	Weather struct {
		Location string `yaml:"location"`
	} `yaml:"weather"`

	Advisor struct {
		Model        string `yaml:"model"`
		MaxPerMinute int    `yaml:"max_per_minute"`
	} `yaml:"advisor"`

	// City is the parameter set a fresh session starts from.
	City params.CityParameters `yaml:"city"`

	AdminKey     string `yaml:"-"`
	AnthropicKey string `yaml:"-"`
	WeatherKey   string `yaml:"-"`
	RandomKey    string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() Config {
	c := Config{
		Addr:             ":8080",
		DBPath:           "data/cityforge.db",
		Seed:             1,
		FleetSize:        16,
		CacheSize:        16,
		GenerateDelay:    3 * time.Second,
		AutosaveInterval: time.Minute,
		Speed:            1,
		City:             params.Default(),
	}
	c.Log.Level = "info"
	c.Log.Format = "auto"
	c.Advisor.MaxPerMinute = 20
	return c
}

// Load reads path over the defaults. An empty path yields the defaults. Keys
// missing from the file keep their default values.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// ApplyEnv fills the secrets from getenv (os.Getenv in production).
func (c *Config) ApplyEnv(getenv func(string) string) {
	c.AdminKey = getenv(EnvAdminKey)
	c.AnthropicKey = getenv(EnvAnthropicKey)
	c.WeatherKey = getenv(EnvWeatherKey)
	c.RandomKey = getenv(EnvRandomKey)
}

// Validate checks the settings that cannot be clamped silently.
func (c Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("addr must be set")
	case c.FleetSize < 0:
		return fmt.Errorf("fleet_size must not be negative")
	case c.CacheSize < 1:
		return fmt.Errorf("cache_size must be at least 1")
	case c.GenerateDelay < 0:
		return fmt.Errorf("generate_delay must not be negative")
	case c.Speed < 0:
		return fmt.Errorf("speed must not be negative")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if err := c.City.Validate(); err != nil {
		return fmt.Errorf("city: %w", err)
	}
	return nil
}

// ParseLevel maps a level name to its slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
