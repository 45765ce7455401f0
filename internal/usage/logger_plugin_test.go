package usage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nghyane/claude-relay/internal/runtime/executor"
	"github.com/nghyane/claude-relay/internal/translator/ir"
)

type memoryBackend struct {
	mu      sync.Mutex
	records []Record
	stats   *AggregatedStats
	stopped bool
}

func (m *memoryBackend) Enqueue(r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
}

func (m *memoryBackend) Flush(context.Context) error { return nil }

func (m *memoryBackend) QueryGlobalStats(context.Context, time.Time) (*AggregatedStats, error) {
	if m.stats == nil {
		return nil, errors.New("no stats")
	}
	return m.stats, nil
}

func (m *memoryBackend) QueryDailyStats(context.Context, time.Time) ([]DailyStats, error) {
	return []DailyStats{{Day: "2026-03-01", Requests: 1}}, nil
}

func (m *memoryBackend) QueryModelStats(context.Context, time.Time) ([]ModelStats, error) {
	return nil, nil
}

func (m *memoryBackend) Cleanup(context.Context, time.Time) (int64, error) { return 0, nil }
func (m *memoryBackend) Start() error                                      { return nil }
func (m *memoryBackend) Stop() error                                       { m.stopped = true; return nil }

func TestRecordFromEvent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := RecordFromEvent(executor.UsageEvent{
		RequestID: "req_1",
		Provider:  "p",
		Usage:     &ir.Usage{PromptTokens: 12, CompletionTokens: 3, Estimated: true},
		Latency:   1500 * time.Millisecond,
		Calls:     2,
	}, now)

	if r.Model != "unknown" {
		t.Errorf("Model = %q, want unknown", r.Model)
	}
	if r.TotalTokens != 15 || !r.Estimated {
		t.Errorf("tokens = %d estimated=%v", r.TotalTokens, r.Estimated)
	}
	if r.LatencyMs != 1500 || !r.RequestedAt.Equal(now.Add(-1500*time.Millisecond)) {
		t.Errorf("timing = %d %v", r.LatencyMs, r.RequestedAt)
	}
}

func TestLoggerPluginCountsAndEnqueues(t *testing.T) {
	mem := &memoryBackend{stats: &AggregatedStats{TotalRequests: 9}}
	p := NewLoggerPlugin(mem)
	ctx := context.Background()

	p.OnUpstreamCall(ctx, executor.UpstreamCall{Provider: "p"})
	p.OnUpstreamCall(ctx, executor.UpstreamCall{Provider: "p"})
	p.OnBatch(ctx, executor.BatchEvent{Size: 2, Completed: 2})
	p.OnUsage(ctx, executor.UsageEvent{Provider: "p", Model: "m", Usage: &ir.Usage{PromptTokens: 4, CompletionTokens: 6, TotalTokens: 10}})
	p.OnUsage(ctx, executor.UsageEvent{Provider: "p", Model: "m", Failed: true, Err: errors.New("boom")})

	c := p.Counters()
	want := CounterSnapshot{TotalRequests: 2, SuccessCount: 1, FailureCount: 1, InputTokens: 4, OutputTokens: 6, TotalTokens: 10, UpstreamCalls: 2, Batches: 1}
	if c != want {
		t.Errorf("counters = %+v, want %+v", c, want)
	}
	if len(mem.records) != 2 {
		t.Errorf("enqueued %d records, want 2", len(mem.records))
	}

	snap, err := p.Snapshot(ctx, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if snap.Stored == nil || snap.Stored.TotalRequests != 9 || len(snap.Daily) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}

	if err := p.Stop(); err != nil || !mem.stopped {
		t.Errorf("Stop err=%v stopped=%v", err, mem.stopped)
	}
}

func TestLoggerPluginWithoutBackend(t *testing.T) {
	p, err := Initialize(BackendConfig{})
	if err != nil {
		t.Fatal(err)
	}
	p.OnUsage(context.Background(), executor.UsageEvent{Usage: &ir.Usage{TotalTokens: 3}})

	snap, err := p.Snapshot(context.Background(), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if snap.Stored != nil || snap.Since != nil {
		t.Errorf("counters-only snapshot has stored data: %+v", snap)
	}
	if snap.Counters.TotalTokens != 3 {
		t.Errorf("TotalTokens = %d", snap.Counters.TotalTokens)
	}
	if err := p.Stop(); err != nil {
		t.Error(err)
	}
}

func TestInitializeBootstrapsFromSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")
	seed, err := NewSQLiteBackend(path, BackendConfig{})
	if err != nil {
		t.Fatal(err)
	}
	seed.Enqueue(Record{Provider: "p", Model: "m", InputTokens: 5, TotalTokens: 5, RequestedAt: time.Now()})
	if err := seed.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	seed.db.Close()

	p, err := Initialize(BackendConfig{DSN: "sqlite://" + path})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer p.Stop()
	if c := p.Counters(); c.TotalRequests != 1 || c.InputTokens != 5 {
		t.Errorf("bootstrapped counters = %+v", c)
	}
}

func TestPostgresBackend(t *testing.T) {
	dsn := os.Getenv("CLAUDE_RELAY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CLAUDE_RELAY_TEST_POSTGRES_DSN not set")
	}
	b, err := NewPostgresBackend(dsn, BackendConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Stop()
	ctx := context.Background()
	marker := time.Now().UTC().Add(-time.Second)
	b.Enqueue(Record{RequestID: "pg_test", Provider: "p", Model: "m", InputTokens: 2, OutputTokens: 1, TotalTokens: 3, RequestedAt: time.Now()})
	if err := b.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	g, err := b.QueryGlobalStats(ctx, marker)
	if err != nil {
		t.Fatal(err)
	}
	if g.TotalRequests < 1 || g.TotalTokens < 3 {
		t.Errorf("global = %+v", *g)
	}
	if _, err := b.QueryDailyStats(ctx, marker); err != nil {
		t.Error(err)
	}
	if _, err := b.QueryModelStats(ctx, marker); err != nil {
		t.Error(err)
	}
}
