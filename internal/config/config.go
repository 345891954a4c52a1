// Package config manages the p2pmux daemon configuration using koanf/v2.
//
// Supports YAML files, environment variables, and live reload via fsnotify.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete p2pmux configuration.
type Config struct {
	Identity IdentityConfig  `koanf:"identity"`
	Listen   []string        `koanf:"listen"`
	Session  SessionConfig   `koanf:"session"`
	Yamux    YamuxConfig     `koanf:"yamux"`
	Metrics  MetricsConfig   `koanf:"metrics"`
	Log      LogConfig       `koanf:"log"`
	Protos   []ProtocolEntry `koanf:"protocols"`
}

// IdentityConfig controls where the node's long-term Ed25519 keypair is
// kept.
type IdentityConfig struct {
	// KeyFile is a path to a PEM-free raw seed file; generated on first
	// run if absent.
	KeyFile string `koanf:"key_file"`
}

// SessionConfig holds the per-session tuning knobs described in §8:
// send/recv event channel sizes, buffer-retention-on-teardown, and the
// handshake/dial timeout.
type SessionConfig struct {
	// SendEventSize bounds the priority send buffer's soft high-watermark.
	SendEventSize int `koanf:"send_event_size"`

	// RecvEventSize bounds each substream's inbound handler channel,
	// which is the mechanism backpressure rides on.
	RecvEventSize int `koanf:"recv_event_size"`

	// KeepBuffer, when true, preserves a substream's undelivered upward
	// events across teardown instead of discarding them immediately.
	KeepBuffer bool `koanf:"keep_buffer"`

	// Timeout bounds dials and transport handshakes.
	Timeout time.Duration `koanf:"timeout"`

	// MaxConnections is passed to netmux.Config.MaxConnections. The
	// Service does not read that field, so the number of concurrently
	// attached sessions is not capped.
	MaxConnections int `koanf:"max_connections"`

	// MaxKnownAddrs is a capacity for an AddrKnown set. p2pd builds no
	// AddrKnown set, so the value is loaded but not used.
	MaxKnownAddrs int `koanf:"max_known_addrs"`
}

// YamuxConfig tunes the reference stream multiplexer.
type YamuxConfig struct {
	MaxStreams    uint32 `koanf:"max_streams"`
	AcceptBacklog int    `koanf:"accept_backlog"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// ProtocolEntry declaratively registers a protocol this node should
// advertise; concrete handler wiring happens in code, this only carries
// the metadata needed before handlers exist (name, versions, framing).
type ProtocolEntry struct {
	Name     string   `koanf:"name"`
	Versions []string `koanf:"versions"`
	Framed   bool     `koanf:"framed"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Identity: IdentityConfig{KeyFile: "p2pmux.key"},
		Listen:   []string{"/ip4/0.0.0.0/tcp/4001"},
		Session: SessionConfig{
			SendEventSize:  512,
			RecvEventSize:  512,
			KeepBuffer:     false,
			Timeout:        10 * time.Second,
			MaxConnections: 65535,
			MaxKnownAddrs:  5000,
		},
		Yamux: YamuxConfig{
			MaxStreams:    4096,
			AcceptBacklog: 256,
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for p2pmux configuration.
// Variables are named P2PMUX_<section>_<key>, e.g., P2PMUX_METRICS_ADDR.
// Every underscore after the prefix becomes a key separator, so keys whose
// own name contains an underscore (session.send_event_size) cannot be set
// this way.
const envPrefix = "P2PMUX_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (P2PMUX_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms P2PMUX_METRICS_ADDR -> metrics.addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"identity.key_file":      defaults.Identity.KeyFile,
		"session.send_event_size": defaults.Session.SendEventSize,
		"session.recv_event_size": defaults.Session.RecvEventSize,
		"session.keep_buffer":     defaults.Session.KeepBuffer,
		"session.timeout":         defaults.Session.Timeout.String(),
		"session.max_connections": defaults.Session.MaxConnections,
		"session.max_known_addrs": defaults.Session.MaxKnownAddrs,
		"yamux.max_streams":       defaults.Yamux.MaxStreams,
		"yamux.accept_backlog":    defaults.Yamux.AcceptBacklog,
		"metrics.addr":            defaults.Metrics.Addr,
		"metrics.path":            defaults.Metrics.Path,
		"log.level":               defaults.Log.Level,
		"log.format":              defaults.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	for i, addr := range defaults.Listen {
		if err := k.Set(fmt.Sprintf("listen.%d", i), addr); err != nil {
			return fmt.Errorf("set default listen[%d]: %w", i, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrNoListenAddrs indicates the configuration names no listen
	// multiaddrs at all (dial-only nodes must set listen to an empty list
	// explicitly via an empty YAML sequence, not by omission).
	ErrNoListenAddrs = errors.New("listen must name at least one multiaddr, or an explicit empty list")

	// ErrInvalidEventSize indicates a non-positive channel size.
	ErrInvalidEventSize = errors.New("session.send_event_size and session.recv_event_size must be > 0")

	// ErrInvalidTimeout indicates a non-positive session timeout.
	ErrInvalidTimeout = errors.New("session.timeout must be > 0")

	// ErrDuplicateProtocol indicates two protocol entries share a name.
	ErrDuplicateProtocol = errors.New("duplicate protocol name")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Listen == nil {
		return ErrNoListenAddrs
	}

	if cfg.Session.SendEventSize <= 0 || cfg.Session.RecvEventSize <= 0 {
		return ErrInvalidEventSize
	}

	if cfg.Session.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	if err := validateProtocols(cfg.Protos); err != nil {
		return err
	}

	return nil
}

func validateProtocols(protos []ProtocolEntry) error {
	seen := make(map[string]struct{}, len(protos))
	for _, p := range protos {
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("protocol %q: %w", p.Name, ErrDuplicateProtocol)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
