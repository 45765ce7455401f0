package logging

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestSetLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected log.Level
	}{
		{"debug lowercase", "debug", log.DebugLevel},
		{"debug uppercase", "DEBUG", log.DebugLevel},
		{"verbose", "verbose", log.DebugLevel},
		{"info", "info", log.InfoLevel},
		{"warn", "warn", log.WarnLevel},
		{"warning mixed case", "Warning", log.WarnLevel},
		{"error", "ERROR", log.ErrorLevel},
		{"quiet", "quiet", log.FatalLevel},
		{"silent", "SILENT", log.FatalLevel},
		{"padded", "  debug ", log.DebugLevel},
		{"empty string", "", log.InfoLevel},
		{"unknown string", "foobar", log.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log.SetLevel(log.PanicLevel)

			SetLogLevel(tt.input)

			if got := log.GetLevel(); got != tt.expected {
				t.Errorf("SetLogLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestConfigureLogOutputToFile(t *testing.T) {
	dir := t.TempDir()
	if err := ConfigureLogOutput(true, dir); err != nil {
		t.Fatalf("ConfigureLogOutput: %v", err)
	}
	defer func() { _ = ConfigureLogOutput(false, "") }()

	log.SetLevel(log.InfoLevel)
	log.Info("written to file")

	data, err := os.ReadFile(filepath.Join(dir, defaultLogFile))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected log file to contain output")
	}
}
