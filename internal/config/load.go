package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Load reads a YAML or TOML file, chosen by extension, over the defaults.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	return cfg, nil
}

// ApplyEnv overrides scalar settings from RELAY_* environment variables.
func (c *Config) ApplyEnv() {
	c.DBPath = GetEnvString(EnvPrefix+"DB_PATH", c.DBPath)
	c.LogLevel = GetEnvString(EnvPrefix+"LOG_LEVEL", c.LogLevel)
	c.Listen = GetEnvString(EnvPrefix+"LISTEN", c.Listen)
	c.BaseURL = GetEnvString(EnvPrefix+"BASE_URL", c.BaseURL)
	c.WorkerCount = GetEnvInt(EnvPrefix+"WORKER_COUNT", c.WorkerCount)
	c.DefaultSchedule = GetEnvString(EnvPrefix+"DEFAULT_SCHEDULE", c.DefaultSchedule)
	c.ResyncInterval = GetEnvDuration(EnvPrefix+"RESYNC_INTERVAL", c.ResyncInterval)
	c.RetentionDays = GetEnvInt(EnvPrefix+"RETENTION_DAYS", c.RetentionDays)

	c.Fetch.UserAgent = GetEnvString(EnvPrefix+"FETCH_USER_AGENT", c.Fetch.UserAgent)
	c.Fetch.Timeout = GetEnvDuration(EnvPrefix+"FETCH_TIMEOUT", c.Fetch.Timeout)
	c.Fetch.Retries = GetEnvInt(EnvPrefix+"FETCH_RETRIES", c.Fetch.Retries)
	c.Fetch.MaxItems = GetEnvInt(EnvPrefix+"FETCH_MAX_ITEMS", c.Fetch.MaxItems)

	c.Delivery.UserAgent = GetEnvString(EnvPrefix+"DELIVERY_USER_AGENT", c.Delivery.UserAgent)
	c.Delivery.Timeout = GetEnvDuration(EnvPrefix+"DELIVERY_TIMEOUT", c.Delivery.Timeout)
}
