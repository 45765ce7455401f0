// Package config loads and normalizes the relay configuration from YAML or
// JSON-with-comments files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/nghyane/claude-relay/internal/json"
)

const DefaultPort = 8082

// Config is the root configuration.
type Config struct {
	Host  string `yaml:"host" json:"host"`
	Port  int    `yaml:"port" json:"port"`
	Debug bool   `yaml:"debug" json:"debug"`

	LoggingToFile bool   `yaml:"logging-to-file" json:"logging-to-file"`
	LogDir        string `yaml:"log-dir,omitempty" json:"log-dir,omitempty"`

	// APIKeys, when non-empty, are required on inbound requests via x-api-key
	// or Authorization: Bearer.
	APIKeys []string `yaml:"api-keys,omitempty" json:"api-keys,omitempty"`

	// ProxyURL is the default outbound proxy for providers without their own.
	ProxyURL string `yaml:"proxy-url,omitempty" json:"proxy-url,omitempty"`

	// RequestRetry is the number of retries on 429/5xx before the first byte.
	RequestRetry int `yaml:"request-retry" json:"request-retry"`
	// MaxRetryInterval caps the backoff between retries, in seconds.
	MaxRetryInterval int `yaml:"max-retry-interval" json:"max-retry-interval"`
	// StreamIdleTimeout aborts an upstream stream that goes silent, e.g. "5m".
	StreamIdleTimeout string `yaml:"stream-idle-timeout,omitempty" json:"stream-idle-timeout,omitempty"`

	Providers []Provider    `yaml:"providers" json:"providers"`
	Routing   RoutingConfig `yaml:"routing" json:"routing"`
	Usage     UsageConfig   `yaml:"usage" json:"usage"`
	Metrics   MetricsConfig `yaml:"metrics" json:"metrics"`
}

// RoutingConfig maps Claude model families onto upstream models. Targets are
// "provider/model" or a bare model name.
type RoutingConfig struct {
	Opus     string `yaml:"opus,omitempty" json:"opus,omitempty"`
	Sonnet   string `yaml:"sonnet,omitempty" json:"sonnet,omitempty"`
	Haiku    string `yaml:"haiku,omitempty" json:"haiku,omitempty"`
	Fallback string `yaml:"fallback,omitempty" json:"fallback,omitempty"`
}

// UsageConfig controls usage persistence.
type UsageConfig struct {
	// DSN selects the backend: sqlite://path or postgres://...; empty disables.
	DSN           string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	BatchSize     int    `yaml:"batch-size,omitempty" json:"batch-size,omitempty"`
	FlushInterval string `yaml:"flush-interval,omitempty" json:"flush-interval,omitempty"`
	RetentionDays int    `yaml:"retention-days,omitempty" json:"retention-days,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
}

// NewDefaultConfig returns a config with every default applied.
func NewDefaultConfig() *Config {
	return &Config{
		Port:             DefaultPort,
		RequestRetry:     2,
		MaxRetryInterval: 30,
		Metrics:          MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// LoadConfig reads the file at path. Files ending in .json, .jsonc or .hujson
// are parsed as JSON with comments and trailing commas; anything else as YAML.
func LoadConfig(path string) (*Config, error) {
	return LoadConfigOptional(path, false)
}

// LoadConfigOptional is LoadConfig that returns defaults instead of an error
// when optional is set and the file does not exist.
func LoadConfigOptional(path string, optional bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			cfg := NewDefaultConfig()
			cfg.Sanitize()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes config bytes. ext selects the format as in LoadConfig.
func Parse(data []byte, ext string) (*Config, error) {
	cfg := NewDefaultConfig()
	if len(strings.TrimSpace(string(data))) == 0 {
		cfg.Sanitize()
		return cfg, nil
	}
	switch strings.ToLower(ext) {
	case ".json", ".jsonc", ".hujson":
		std, err := hujson.Standardize(data)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(std, cfg); err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Sanitize trims and deduplicates user-supplied values in place.
func (cfg *Config) Sanitize() {
	if cfg == nil {
		return
	}
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.ProxyURL = strings.TrimSpace(cfg.ProxyURL)
	cfg.APIKeys = normalizeList(cfg.APIKeys)
	cfg.Providers = SanitizeProviders(cfg.Providers)
	cfg.Routing.Opus = strings.TrimSpace(cfg.Routing.Opus)
	cfg.Routing.Sonnet = strings.TrimSpace(cfg.Routing.Sonnet)
	cfg.Routing.Haiku = strings.TrimSpace(cfg.Routing.Haiku)
	cfg.Routing.Fallback = strings.TrimSpace(cfg.Routing.Fallback)
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// Validate reports configuration errors that make the server unusable.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("port %d out of range", cfg.Port)
	}
	if cfg.RequestRetry < 0 {
		return fmt.Errorf("request-retry must not be negative")
	}
	return nil
}

// Addr returns the listen address.
func (cfg *Config) Addr() string {
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("%s:%d", cfg.Host, port)
}

// NormalizeHeaders trims header names and values and drops empty entries.
// It returns nil when nothing remains.
func NormalizeHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// GenerateDefaultConfigYAML returns a commented starter configuration.
func GenerateDefaultConfigYAML() []byte {
	return []byte(`# claude-relay configuration
port: 8082

# Require one of these keys on inbound requests (x-api-key or Bearer).
api-keys: []

request-retry: 2
max-retry-interval: 30
stream-idle-timeout: 5m

providers:
  - name: openai
    base-url: https://api.openai.com/v1
    api-key: ""
    models:
      - name: gpt-4o
        alias: claude-sonnet-4-20250514
      - name: gpt-4o-mini
    # Split multi-tool-result turns into serialized calls for backends that
    # reject several tool messages in one request.
    multi-tool-result-intolerant: false
    requests-per-second: 0

routing:
  opus: gpt-4o
  sonnet: gpt-4o
  haiku: gpt-4o-mini
  fallback: gpt-4o

usage:
  dsn: ""
  flush-interval: 5s
  retention-days: 30

metrics:
  enabled: true
`)
}
