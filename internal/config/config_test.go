package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskpilot.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
listen:
  port: 9090
database:
  path: /tmp/tp.db
auth:
  secret: "0123456789abcdef0123456789abcdef"
  token_ttl_hours: 12
assistant:
  api_key: sk-test
  assistant_id: asst_123
  max_iterations: 5
events:
  broker: mqtt://localhost:1883
log_level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Listen.Port != 9090 {
		t.Errorf("Listen.Port = %d, want 9090", cfg.Listen.Port)
	}
	if cfg.Database.Path != "/tmp/tp.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Assistant.MaxIterations != 5 {
		t.Errorf("Assistant.MaxIterations = %d, want 5", cfg.Assistant.MaxIterations)
	}
	if got := cfg.Auth.TokenTTL().Hours(); got != 12 {
		t.Errorf("TokenTTL = %v hours, want 12", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadEnvExpansion(t *testing.T) {
	t.Setenv("TP_TEST_SECRET", "secret-from-env-0123456789abcdef")
	path := writeConfig(t, `
auth:
  secret: "${TP_TEST_SECRET}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.Secret != "secret-from-env-0123456789abcdef" {
		t.Errorf("Auth.Secret = %q, env expansion failed", cfg.Auth.Secret)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Listen.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Listen.Port)
	}
	if cfg.Assistant.MaxIterations != 10 {
		t.Errorf("default max_iterations = %d, want 10", cfg.Assistant.MaxIterations)
	}
	if got := cfg.Assistant.PollInterval().Milliseconds(); got != 1000 {
		t.Errorf("default poll interval = %dms, want 1000", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "valid",
			mutate: func(c *Config) { c.Auth.Secret = "0123456789abcdef0123456789abcdef" },
		},
		{
			name:    "missing secret",
			mutate:  func(c *Config) {},
			wantErr: true,
		},
		{
			name:    "short secret",
			mutate:  func(c *Config) { c.Auth.Secret = "short" },
			wantErr: true,
		},
		{
			name: "missing database path",
			mutate: func(c *Config) {
				c.Auth.Secret = "0123456789abcdef0123456789abcdef"
				c.Database.Path = ""
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"trace", LevelTrace, false},
		{"DEBUG", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}

	for _, tc := range tests {
		got, err := ParseLogLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
