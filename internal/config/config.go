// Package config handles taskpilot configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./taskpilot.yaml, ~/.config/taskpilot/taskpilot.yaml,
// /etc/taskpilot/taskpilot.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"taskpilot.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "taskpilot", "taskpilot.yaml"))
	}

	paths = append(paths, "/etc/taskpilot/taskpilot.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all taskpilot configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Assistant AssistantConfig `yaml:"assistant"`
	Events    EventsConfig    `yaml:"events"`
	LogLevel  string          `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// DatabaseConfig defines the SQLite database location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig defines JWT settings. The secret signs and verifies
// HS256 tokens and must be shared with any frontend that mints them.
type AuthConfig struct {
	Secret        string `yaml:"secret"`
	TokenTTLHours int    `yaml:"token_ttl_hours"` // Default: 24
}

// TokenTTL returns the configured token lifetime.
func (a AuthConfig) TokenTTL() time.Duration {
	hours := a.TokenTTLHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// AssistantConfig defines the remote assistant provider settings.
type AssistantConfig struct {
	APIKey      string `yaml:"api_key"`
	AssistantID string `yaml:"assistant_id"`
	// BaseURL overrides the provider endpoint (tests, proxies).
	BaseURL string `yaml:"base_url"`
	// PollIntervalMS is the wait between run status polls (default 1000).
	PollIntervalMS int `yaml:"poll_interval_ms"`
	// MaxIterations bounds the poll loop (default 10).
	MaxIterations int `yaml:"max_iterations"`
}

// PollInterval returns the configured poll backoff.
func (a AssistantConfig) PollInterval() time.Duration {
	ms := a.PollIntervalMS
	if ms <= 0 {
		ms = 1000
	}
	return time.Duration(ms) * time.Millisecond
}

// EventsConfig defines the MQTT event bus settings. When Broker is
// empty, event publishing is disabled.
type EventsConfig struct {
	Broker   string `yaml:"broker"` // e.g. mqtt://broker:1883
	Topic    string `yaml:"topic"`  // Default: taskpilot/events
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen:   ListenConfig{Port: 8080},
		Database: DatabaseConfig{Path: "taskpilot.db"},
		Auth:     AuthConfig{TokenTTLHours: 24},
		Assistant: AssistantConfig{
			PollIntervalMS: 1000,
			MaxIterations:  10,
		},
		Events: EventsConfig{Topic: "taskpilot/events"},
	}
}

// Validate checks that the settings required for serving are present.
func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}
	if len(c.Auth.Secret) < 32 {
		return fmt.Errorf("auth.secret must be at least 32 characters")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}
