package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Config holds all configuration for the application
type Config struct {
	DBPath   string `yaml:"db_path" toml:"db_path"`
	LogLevel string `yaml:"log_level" toml:"log_level"`

	// Server settings
	Listen  string `yaml:"listen" toml:"listen"`
	BaseURL string `yaml:"base_url" toml:"base_url"`

	// Scheduling settings
	WorkerCount     int           `yaml:"workers" toml:"workers"`
	DefaultSchedule string        `yaml:"default_schedule" toml:"default_schedule"`
	ResyncInterval  time.Duration `yaml:"resync_interval" toml:"resync_interval"`
	RetentionDays   int           `yaml:"retention_days" toml:"retention_days"`

	Fetch    FetchConfig    `yaml:"fetch" toml:"fetch"`
	Delivery DeliveryConfig `yaml:"delivery" toml:"delivery"`

	Owners []OwnerConfig `yaml:"owners" toml:"owners"`
}

// FetchConfig tunes the feed HTTP client.
type FetchConfig struct {
	UserAgent    string        `yaml:"user_agent" toml:"user_agent"`
	Timeout      time.Duration `yaml:"timeout" toml:"timeout"`
	Retries      int           `yaml:"retries" toml:"retries"`
	MaxItems     int           `yaml:"max_items" toml:"max_items"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" toml:"max_body_bytes"`
}

// DeliveryConfig tunes the outbound delivery client.
type DeliveryConfig struct {
	UserAgent string        `yaml:"user_agent" toml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout" toml:"timeout"`
}

// OwnerConfig seeds an owner with its sources and recipients.
type OwnerConfig struct {
	Username       string            `yaml:"username" toml:"username"`
	DisplayName    string            `yaml:"display_name" toml:"display_name"`
	Summary        string            `yaml:"summary" toml:"summary"`
	PrivateKeyFile string            `yaml:"private_key_file" toml:"private_key_file"`
	PublicKeyFile  string            `yaml:"public_key_file" toml:"public_key_file"`
	Inactive       bool              `yaml:"inactive" toml:"inactive"`
	Sources        []SourceConfig    `yaml:"sources" toml:"sources"`
	Recipients     []RecipientConfig `yaml:"recipients" toml:"recipients"`
}

// SourceConfig seeds a feed subscription. Nil flags default to true.
type SourceConfig struct {
	URL         string `yaml:"url" toml:"url"`
	Title       string `yaml:"title" toml:"title"`
	Description string `yaml:"description" toml:"description"`
	Schedule    string `yaml:"schedule" toml:"schedule"`
	AutoDeliver *bool  `yaml:"auto_deliver" toml:"auto_deliver"`
	Active      *bool  `yaml:"active" toml:"active"`
}

// RecipientConfig seeds a subscribed endpoint.
type RecipientConfig struct {
	Actor string `yaml:"actor" toml:"actor"`
	Inbox string `yaml:"inbox" toml:"inbox"`
	Name  string `yaml:"name" toml:"name"`
}

// DefaultConfig returns an initial configuration with hardcoded defaults.
func DefaultConfig() *Config {
	return &Config{
		DBPath:          DefaultDBPath,
		LogLevel:        DefaultLogLevel,
		Listen:          DefaultListen,
		BaseURL:         DefaultBaseURL,
		WorkerCount:     DefaultWorkerCount,
		DefaultSchedule: DefaultSchedule,
		ResyncInterval:  time.Duration(DefaultResyncMinutes) * time.Minute,
		RetentionDays:   DefaultRetentionDays,
		Fetch: FetchConfig{
			UserAgent: DefaultUserAgent,
			Timeout:   time.Duration(DefaultFetchTimeout) * time.Second,
			Retries:   DefaultFetchRetries,
		},
		Delivery: DeliveryConfig{
			UserAgent: DefaultUserAgent,
			Timeout:   time.Duration(DefaultDeliveryTimeout) * time.Second,
		},
	}
}

// Level parses LogLevel, falling back to info.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return level
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.BaseURL == "" {
		errs = append(errs, errors.New("base_url is required"))
	}
	if c.WorkerCount < 0 {
		errs = append(errs, errors.New("workers must not be negative"))
	}
	if c.DefaultSchedule == "" {
		errs = append(errs, errors.New("default_schedule is required"))
	}
	if c.ResyncInterval < 0 {
		errs = append(errs, errors.New("resync_interval must not be negative"))
	}
	if c.Fetch.Retries < 0 {
		errs = append(errs, errors.New("fetch.retries must not be negative"))
	}
	if c.LogLevel != "" {
		if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
			errs = append(errs, fmt.Errorf("log_level: %w", err))
		}
	}

	seen := make(map[string]bool)
	for i, o := range c.Owners {
		if o.Username == "" {
			errs = append(errs, fmt.Errorf("owners[%d]: username is required", i))
			continue
		}
		if seen[o.Username] {
			errs = append(errs, fmt.Errorf("owners[%d]: duplicate username %q", i, o.Username))
		}
		seen[o.Username] = true
		for j, s := range o.Sources {
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("owners[%d].sources[%d]: url is required", i, j))
			}
		}
		for j, r := range o.Recipients {
			if r.Inbox == "" {
				errs = append(errs, fmt.Errorf("owners[%d].recipients[%d]: inbox is required", i, j))
			}
		}
	}
	return errors.Join(errs...)
}
