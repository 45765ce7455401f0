package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nghyane/claude-relay/internal/config"
)

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("CLAUDE_RELAY_PORT", "9999")
	t.Setenv("CLAUDE_RELAY_API_KEYS", " a, b ,,a")
	t.Setenv("CLAUDE_RELAY_USAGE_DSN", "sqlite://~/usage.db")
	t.Setenv("CLAUDE_RELAY_REQUEST_RETRY", "5")

	cfg := config.NewDefaultConfig()
	ApplyEnvOverrides(cfg)
	cfg.Sanitize()

	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Port)
	}
	if len(cfg.APIKeys) != 2 || cfg.APIKeys[0] != "a" || cfg.APIKeys[1] != "b" {
		t.Errorf("APIKeys = %v, want [a b]", cfg.APIKeys)
	}
	if cfg.Usage.DSN != "sqlite://~/usage.db" {
		t.Errorf("Usage.DSN = %q", cfg.Usage.DSN)
	}
	if cfg.RequestRetry != 5 {
		t.Errorf("RequestRetry = %d, want 5", cfg.RequestRetry)
	}
}

func TestShorthandProvider(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:11434/v1/")
	t.Setenv("BIG_MODEL", "qwen-big")
	t.Setenv("SMALL_MODEL", "qwen-small")

	cfg := config.NewDefaultConfig()
	ApplyEnvOverrides(cfg)

	if len(cfg.Providers) != 1 {
		t.Fatalf("providers = %+v", cfg.Providers)
	}
	p := cfg.Providers[0]
	if p.BaseURL != "http://localhost:11434/v1" || p.APIKey != "sk-env" || len(p.Models) != 2 {
		t.Errorf("provider = %+v", p)
	}
	if cfg.Routing.Opus != "qwen-big" || cfg.Routing.Haiku != "qwen-small" || cfg.Routing.Fallback != "qwen-big" {
		t.Errorf("routing = %+v", cfg.Routing)
	}

	withFile := config.NewDefaultConfig()
	withFile.Providers = []config.Provider{{Name: "file", BaseURL: "http://x"}}
	ApplyEnvOverrides(withFile)
	if len(withFile.Providers) != 1 || withFile.Providers[0].Name != "file" {
		t.Errorf("shorthand replaced configured providers: %+v", withFile.Providers)
	}
}

func TestBootstrapMissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "absent.yaml")

	res, err := Bootstrap(path)
	if err != nil {
		t.Fatal(err)
	}
	if res.ConfigFileExists {
		t.Error("ConfigFileExists = true for a missing file")
	}
	if res.Config.Port != config.DefaultPort {
		t.Errorf("Port = %d, want %d", res.Config.Port, config.DefaultPort)
	}
}

func TestBootstrapReadsDotEnvAndFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("CLAUDE_RELAY_PORT=7001\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("CLAUDE_RELAY_PORT") })

	path := filepath.Join(dir, "config.yaml")
	created, err := WriteDefaultConfig(path, false)
	if err != nil || !created {
		t.Fatalf("WriteDefaultConfig = %v, %v", created, err)
	}
	if again, _ := WriteDefaultConfig(path, false); again {
		t.Error("WriteDefaultConfig overwrote an existing file without force")
	}

	res, err := Bootstrap(path)
	if err != nil {
		t.Fatal(err)
	}
	if !res.ConfigFileExists || res.ConfigFilePath != path {
		t.Errorf("result = %+v", res)
	}
	if res.Config.Port != 7001 {
		t.Errorf("Port = %d, want the .env override 7001", res.Config.Port)
	}
	if len(res.Config.Providers) == 0 {
		t.Error("providers from the starter config were not loaded")
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("CLAUDE_RELAY_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	got, err := ResolveConfigPath("")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/xdg/claude-relay/config.yaml" {
		t.Errorf("ResolveConfigPath(\"\") = %q", got)
	}

	t.Setenv("CLAUDE_RELAY_CONFIG", "/etc/relay.jsonc")
	if got, _ := ResolveConfigPath(""); got != "/etc/relay.jsonc" {
		t.Errorf("env path = %q", got)
	}
	if got, _ := ResolveConfigPath("/flag.yaml"); got != "/flag.yaml" {
		t.Errorf("flag path = %q", got)
	}
}
