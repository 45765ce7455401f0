package usage

import (
	"context"
	"time"

	log "github.com/nghyane/claude-relay/internal/logging"
	"github.com/nghyane/claude-relay/internal/runtime/executor"
)

// LoggerPlugin is the executor observer that keeps the live counters and
// hands every finished request to the backend, when one is configured.
type LoggerPlugin struct {
	counters *Counters
	backend  Backend
	now      func() time.Time
}

var _ executor.Observer = (*LoggerPlugin)(nil)

// NewLoggerPlugin returns a plugin over backend. A nil backend keeps
// counters only.
func NewLoggerPlugin(backend Backend) *LoggerPlugin {
	return &LoggerPlugin{
		counters: NewCounters(),
		backend:  backend,
		now:      time.Now,
	}
}

func (p *LoggerPlugin) OnUsage(_ context.Context, ev executor.UsageEvent) {
	if p == nil {
		return
	}
	r := RecordFromEvent(ev, p.now())
	p.counters.Record(r)
	if p.backend != nil {
		p.backend.Enqueue(r)
	}
	entry := log.WithFields(log.Fields{
		"request_id": r.RequestID,
		"provider":   r.Provider,
		"model":      r.Model,
		"input":      r.InputTokens,
		"output":     r.OutputTokens,
		"calls":      r.Calls,
		"latency_ms": r.LatencyMs,
	})
	if r.Estimated {
		entry = entry.WithField("estimated", true)
	}
	if ev.Err != nil {
		entry.WithError(ev.Err).Debug("request failed")
		return
	}
	entry.Debug("request completed")
}

func (p *LoggerPlugin) OnUpstreamCall(context.Context, executor.UpstreamCall) {
	if p != nil {
		p.counters.AddUpstreamCall()
	}
}

func (p *LoggerPlugin) OnBatch(context.Context, executor.BatchEvent) {
	if p != nil {
		p.counters.AddBatch()
	}
}

// Counters returns the live totals.
func (p *LoggerPlugin) Counters() CounterSnapshot {
	if p == nil {
		return CounterSnapshot{}
	}
	return p.counters.Snapshot()
}

func (p *LoggerPlugin) Backend() Backend {
	if p == nil {
		return nil
	}
	return p.backend
}

// Snapshot builds the /v0/usage view. Stored aggregates are included only
// when a backend is configured.
func (p *LoggerPlugin) Snapshot(ctx context.Context, since time.Time) (*Snapshot, error) {
	s := &Snapshot{Counters: p.Counters()}
	if p == nil || p.backend == nil {
		return s, nil
	}
	stored, err := p.backend.QueryGlobalStats(ctx, since)
	if err != nil {
		return nil, err
	}
	daily, err := p.backend.QueryDailyStats(ctx, since)
	if err != nil {
		return nil, err
	}
	models, err := p.backend.QueryModelStats(ctx, since)
	if err != nil {
		return nil, err
	}
	s.Since = &since
	s.Stored = stored
	s.Daily = daily
	s.Models = models
	return s, nil
}

// Stop flushes and closes the backend.
func (p *LoggerPlugin) Stop() error {
	if p == nil || p.backend == nil {
		return nil
	}
	return p.backend.Stop()
}

// Initialize opens and starts the configured backend and seeds the counters
// from its history. An empty DSN yields a counters-only plugin.
func Initialize(cfg BackendConfig) (*LoggerPlugin, error) {
	if cfg.DSN == "" {
		return NewLoggerPlugin(nil), nil
	}
	backend, err := NewBackend(cfg)
	if err != nil {
		return nil, err
	}
	if err := backend.Start(); err != nil {
		_ = backend.Stop()
		return nil, err
	}
	plugin := NewLoggerPlugin(backend)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stats, err := backend.QueryGlobalStats(ctx, time.Time{})
	if err != nil {
		log.Warnf("failed to bootstrap usage counters from history: %v", err)
	} else if stats != nil {
		plugin.counters.Bootstrap(*stats)
		log.Infof("bootstrapped usage counters: %d requests, %d tokens", stats.TotalRequests, stats.TotalTokens)
	}
	return plugin, nil
}
