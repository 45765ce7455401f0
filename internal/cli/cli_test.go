package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/nghyane/claude-relay/internal/config"
	"github.com/nghyane/claude-relay/internal/registry"
	"github.com/nghyane/claude-relay/internal/runtime/executor"
)

func TestIdleTimeout(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", executor.DefaultStreamIdleTimeout},
		{"90s", 90 * time.Second},
		{"0", -1},
		{"nonsense", executor.DefaultStreamIdleTimeout},
	}
	for _, tt := range tests {
		cfg := config.NewDefaultConfig()
		cfg.StreamIdleTimeout = tt.in
		if got := idleTimeout(cfg); got != tt.want {
			t.Errorf("idleTimeout(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPrintRoutes(t *testing.T) {
	var buf bytes.Buffer
	if err := printRoutes(&buf, registry.NewModelRegistry(nil)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "no routes") {
		t.Errorf("empty registry output = %q", buf.String())
	}

	cfg := config.NewDefaultConfig()
	cfg.Providers = []config.Provider{{
		Name:    "local",
		BaseURL: "http://localhost:11434/v1",
		Models:  []config.ProviderModel{{Name: "qwen2.5-coder", Alias: "claude-sonnet-4"}},
	}}
	cfg.Sanitize()

	buf.Reset()
	if err := printRoutes(&buf, registry.NewModelRegistry(cfg)); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "PATTERN") {
		t.Errorf("missing header: %q", out)
	}
	if !strings.Contains(out, "claude-sonnet-4") || !strings.Contains(out, "qwen2.5-coder") {
		t.Errorf("route table = %q", out)
	}
}
