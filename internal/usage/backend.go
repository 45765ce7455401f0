// Package usage counts and persists per-request token usage.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/nghyane/claude-relay/internal/config"
)

// Backend persists usage records. Implementations must be safe for
// concurrent use.
type Backend interface {
	// Enqueue queues a record without blocking; a full queue drops it.
	Enqueue(record Record)
	// Flush writes every queued record.
	Flush(ctx context.Context) error

	QueryGlobalStats(ctx context.Context, since time.Time) (*AggregatedStats, error)
	QueryDailyStats(ctx context.Context, since time.Time) ([]DailyStats, error)
	QueryModelStats(ctx context.Context, since time.Time) ([]ModelStats, error)

	// Cleanup removes records requested before the given time.
	Cleanup(ctx context.Context, before time.Time) (int64, error)

	// Start launches the write and retention loops.
	Start() error
	// Stop flushes pending records and releases the store.
	Stop() error
}

type BackendConfig struct {
	// DSN is sqlite://path or postgres://...
	DSN           string
	BatchSize     int
	FlushInterval time.Duration
	RetentionDays int
}

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
	defaultRetentionDays = 30
	queueSize            = 1000
)

// BackendConfigFrom converts the usage section of the config file.
func BackendConfigFrom(cfg config.UsageConfig) BackendConfig {
	bc := BackendConfig{DSN: cfg.DSN, BatchSize: cfg.BatchSize, RetentionDays: cfg.RetentionDays}
	if d, err := time.ParseDuration(cfg.FlushInterval); err == nil {
		bc.FlushInterval = d
	}
	return bc
}

func (c BackendConfig) withDefaults() BackendConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = defaultRetentionDays
	}
	return c
}

// NewBackend opens the backend the DSN names.
func NewBackend(cfg BackendConfig) (Backend, error) {
	parsed, err := config.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if parsed == nil {
		return nil, fmt.Errorf("usage DSN is required (use sqlite:// or postgres://)")
	}
	switch parsed.Backend {
	case "postgres":
		return NewPostgresBackend(parsed.URL, cfg)
	case "sqlite":
		return NewSQLiteBackend(parsed.Path, cfg)
	}
	return nil, fmt.Errorf("unknown usage backend %q", parsed.Backend)
}
