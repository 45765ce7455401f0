package config

import (
	"fmt"
	"strings"
)

// DSN is a parsed usage-store connection string.
type DSN struct {
	// Backend is "sqlite" or "postgres".
	Backend string
	// Path is the sqlite database file.
	Path string
	// URL is the full postgres connection URL.
	URL string
}

// ParseDSN parses sqlite://path, sqlite:path, postgres:// and postgresql://
// strings. An empty string yields nil, nil.
func ParseDSN(raw string) (*DSN, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	switch {
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return &DSN{Backend: "postgres", URL: raw}, nil
	case strings.HasPrefix(raw, "sqlite://"):
		return sqliteDSN(strings.TrimPrefix(raw, "sqlite://"))
	case strings.HasPrefix(raw, "sqlite:"):
		return sqliteDSN(strings.TrimPrefix(raw, "sqlite:"))
	}
	return nil, fmt.Errorf("unsupported DSN %q (use sqlite:// or postgres://)", raw)
}

func sqliteDSN(path string) (*DSN, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite DSN needs a file path")
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := userHomeDir(); err == nil {
			path = home + path[1:]
		}
	}
	return &DSN{Backend: "sqlite", Path: path}, nil
}
