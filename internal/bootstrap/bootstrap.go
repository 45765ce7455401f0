// Package bootstrap loads the configuration shared by every command.
package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/nghyane/claude-relay/internal/config"
	log "github.com/nghyane/claude-relay/internal/logging"
	"github.com/nghyane/claude-relay/internal/util"
)

// DefaultConfigPath is used when neither --config nor CLAUDE_RELAY_CONFIG is set.
const DefaultConfigPath = "$XDG_CONFIG_HOME/claude-relay/config.yaml"

// Result contains the result of bootstrapping the application.
type Result struct {
	Config         *config.Config
	ConfigFilePath string
	// ConfigFileExists is false when only defaults and the environment apply.
	ConfigFileExists bool
}

// Bootstrap loads .env from the working directory, then the config file,
// then applies environment overrides. A missing config file is not an error.
func Bootstrap(configPath string) (*Result, error) {
	if wd, err := os.Getwd(); err == nil {
		if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil && !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	path, err := ResolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}
	_, statErr := os.Stat(path)

	cfg, err := config.LoadConfigOptional(path, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	ApplyEnvOverrides(cfg)
	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Result{
		Config:           cfg,
		ConfigFilePath:   path,
		ConfigFileExists: statErr == nil,
	}, nil
}

// ResolveConfigPath picks the config file: the flag, then CLAUDE_RELAY_CONFIG,
// then the XDG default.
func ResolveConfigPath(flagValue string) (string, error) {
	path := flagValue
	if path == "" {
		if env, ok := config.LookupEnv("CLAUDE_RELAY_CONFIG"); ok {
			path = env
		}
	}
	if path == "" {
		path = DefaultConfigPath
		if os.Getenv("XDG_CONFIG_HOME") == "" {
			path = "~/.config/claude-relay/config.yaml"
		}
	}
	resolved, err := util.ExpandPath(path)
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	return resolved, nil
}

// ApplyEnvOverrides applies environment variable overrides on top of the file.
func ApplyEnvOverrides(cfg *config.Config) {
	if port, ok := config.LookupEnvInt("CLAUDE_RELAY_PORT"); ok {
		cfg.Port = port
		log.Infof("port overridden by env: %d", port)
	}

	if debug, ok := config.LookupEnvBool("CLAUDE_RELAY_DEBUG"); ok {
		cfg.Debug = debug
	}

	if keys, ok := config.LookupEnv("CLAUDE_RELAY_API_KEYS"); ok {
		cfg.APIKeys = nil
		for _, k := range strings.Split(keys, ",") {
			if trimmed := strings.TrimSpace(k); trimmed != "" {
				cfg.APIKeys = append(cfg.APIKeys, trimmed)
			}
		}
		log.Infof("API keys overridden by env: %d keys", len(cfg.APIKeys))
	}

	if dsn, ok := config.LookupEnv("CLAUDE_RELAY_USAGE_DSN"); ok {
		cfg.Usage.DSN = dsn
		log.Info("usage DSN overridden by env")
	}

	if proxyURL, ok := config.LookupEnv("CLAUDE_RELAY_PROXY_URL"); ok {
		cfg.ProxyURL = proxyURL
		log.Info("proxy URL overridden by env")
	}

	if loggingToFile, ok := config.LookupEnvBool("CLAUDE_RELAY_LOGGING_TO_FILE"); ok {
		cfg.LoggingToFile = loggingToFile
	}

	if retry, ok := config.LookupEnvInt("CLAUDE_RELAY_REQUEST_RETRY"); ok {
		cfg.RequestRetry = retry
		log.Infof("request retry overridden by env: %d", retry)
	}

	applyShorthandProvider(cfg)
}

// applyShorthandProvider turns OPENAI_API_KEY / OPENAI_BASE_URL and
// BIG_MODEL / SMALL_MODEL into a single provider when the config defines
// none. Opus and sonnet map to the big model, haiku to the small one.
func applyShorthandProvider(cfg *config.Config) {
	if len(cfg.Providers) > 0 {
		return
	}
	key, hasKey := config.LookupEnv("OPENAI_API_KEY")
	baseURL, hasURL := config.LookupEnv("OPENAI_BASE_URL")
	if !hasKey && !hasURL {
		return
	}
	if !hasURL {
		baseURL = "https://api.openai.com/v1"
	}
	big, ok := config.LookupEnv("BIG_MODEL")
	if !ok {
		big = "gpt-4o"
	}
	small, ok := config.LookupEnv("SMALL_MODEL")
	if !ok {
		small = "gpt-4o-mini"
	}

	models := []config.ProviderModel{{Name: big}}
	if small != big {
		models = append(models, config.ProviderModel{Name: small})
	}
	cfg.Providers = []config.Provider{{
		Name:    "openai",
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  key,
		Models:  models,
	}}
	cfg.Routing = config.RoutingConfig{Opus: big, Sonnet: big, Haiku: small, Fallback: big}
	log.Infof("using single provider from environment: %s (big=%s, small=%s)", baseURL, big, small)
}

// WriteDefaultConfig creates a starter config at path unless one exists.
func WriteDefaultConfig(path string, force bool) (bool, error) {
	if _, err := os.Stat(path); err == nil && !force {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return false, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, config.GenerateDefaultConfigYAML(), 0o600); err != nil {
		return false, fmt.Errorf("failed to write config: %w", err)
	}
	return true, nil
}
