package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/meshward/p2pmux/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if len(cfg.Listen) != 1 || cfg.Listen[0] != "/ip4/0.0.0.0/tcp/4001" {
		t.Errorf("Listen = %v, want [/ip4/0.0.0.0/tcp/4001]", cfg.Listen)
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if cfg.Session.SendEventSize != 512 {
		t.Errorf("Session.SendEventSize = %d, want 512", cfg.Session.SendEventSize)
	}

	if cfg.Session.Timeout != 10*time.Second {
		t.Errorf("Session.Timeout = %v, want %v", cfg.Session.Timeout, 10*time.Second)
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
listen:
  - "/ip4/0.0.0.0/tcp/5001"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
session:
  send_event_size: 128
  recv_event_size: 128
  timeout: "5s"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if len(cfg.Listen) != 1 || cfg.Listen[0] != "/ip4/0.0.0.0/tcp/5001" {
		t.Errorf("Listen = %v, want [/ip4/0.0.0.0/tcp/5001]", cfg.Listen)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Session.SendEventSize != 128 {
		t.Errorf("Session.SendEventSize = %d, want 128", cfg.Session.SendEventSize)
	}

	if cfg.Session.Timeout != 5*time.Second {
		t.Errorf("Session.Timeout = %v, want %v", cfg.Session.Timeout, 5*time.Second)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	yamlContent := `
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}

	if cfg.Session.Timeout != 10*time.Second {
		t.Errorf("Session.Timeout = %v, want default %v", cfg.Session.Timeout, 10*time.Second)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "nil listen",
			modify: func(cfg *config.Config) {
				cfg.Listen = nil
			},
			wantErr: config.ErrNoListenAddrs,
		},
		{
			name: "zero send event size",
			modify: func(cfg *config.Config) {
				cfg.Session.SendEventSize = 0
			},
			wantErr: config.ErrInvalidEventSize,
		},
		{
			name: "zero recv event size",
			modify: func(cfg *config.Config) {
				cfg.Session.RecvEventSize = 0
			},
			wantErr: config.ErrInvalidEventSize,
		},
		{
			name: "zero timeout",
			modify: func(cfg *config.Config) {
				cfg.Session.Timeout = 0
			},
			wantErr: config.ErrInvalidTimeout,
		},
		{
			name: "negative timeout",
			modify: func(cfg *config.Config) {
				cfg.Session.Timeout = -time.Second
			},
			wantErr: config.ErrInvalidTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDuplicateProtocol(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Protos = []config.ProtocolEntry{
		{Name: "ping", Versions: []string{"1.0.0"}},
		{Name: "ping", Versions: []string{"1.0.1"}},
	}

	err := config.Validate(cfg)
	if !errors.Is(err, config.ErrDuplicateProtocol) {
		t.Errorf("Validate() error = %v, want %v", err, config.ErrDuplicateProtocol)
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func TestLoadWithProtocols(t *testing.T) {
	t.Parallel()

	yamlContent := `
protocols:
  - name: ping
    versions: ["1.0.0"]
    framed: true
  - name: gossip
    versions: ["1.0.0", "1.1.0"]
    framed: true
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if len(cfg.Protos) != 2 {
		t.Fatalf("Protos count = %d, want 2", len(cfg.Protos))
	}

	if cfg.Protos[0].Name != "ping" {
		t.Errorf("Protos[0].Name = %q, want %q", cfg.Protos[0].Name, "ping")
	}
	if len(cfg.Protos[1].Versions) != 2 {
		t.Errorf("Protos[1].Versions = %v, want 2 entries", cfg.Protos[1].Versions)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("P2PMUX_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

func TestLoadEnvOverridesMetrics(t *testing.T) {
	yamlContent := `
metrics:
  addr: ":9100"
  path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("P2PMUX_METRICS_ADDR", ":9200")
	t.Setenv("P2PMUX_METRICS_PATH", "/custom")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q (from env)", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom" {
		t.Errorf("Metrics.Path = %q, want %q (from env)", cfg.Metrics.Path, "/custom")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "p2pmux.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
