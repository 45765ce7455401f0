package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLite(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "nested", "usage.db"), BackendConfig{BatchSize: 2})
	if err != nil {
		t.Fatalf("NewSQLiteBackend: %v", err)
	}
	t.Cleanup(func() { _ = b.db.Close() })
	return b
}

func TestSQLiteBackendFlushAndQuery(t *testing.T) {
	b := newTestSQLite(t)
	ctx := context.Background()
	day1 := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Hour)

	b.Enqueue(Record{ClientModel: "claude-sonnet-4", Provider: "p1", Model: "gpt-4o", InputTokens: 10, OutputTokens: 5, TotalTokens: 15, LatencyMs: 100, RequestedAt: day1})
	b.Enqueue(Record{ClientModel: "claude-sonnet-4", Provider: "p1", Model: "gpt-4o", InputTokens: 20, OutputTokens: 5, TotalTokens: 25, LatencyMs: 300, RequestedAt: day2})
	b.Enqueue(Record{ClientModel: "claude-haiku-4", Provider: "p2", Model: "mini", Failed: true, RequestedAt: day2})
	if err := b.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	g, err := b.QueryGlobalStats(ctx, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	want := AggregatedStats{TotalRequests: 3, SuccessCount: 2, FailureCount: 1, InputTokens: 30, OutputTokens: 10, TotalTokens: 40}
	if *g != want {
		t.Errorf("global = %+v, want %+v", *g, want)
	}

	daily, err := b.QueryDailyStats(ctx, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(daily) != 2 || daily[0].Day != "2026-03-01" || daily[1].Day != "2026-03-02" {
		t.Fatalf("daily = %+v", daily)
	}
	if daily[1].Requests != 2 || daily[1].Tokens != 25 {
		t.Errorf("second day = %+v", daily[1])
	}

	models, err := b.QueryModelStats(ctx, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 {
		t.Fatalf("models = %+v", models)
	}
	top := models[0]
	if top.ClientModel != "claude-sonnet-4" || top.Requests != 2 || top.AvgLatencyMs != 200 {
		t.Errorf("top model = %+v", top)
	}
	if models[1].FailureCount != 1 {
		t.Errorf("failed model = %+v", models[1])
	}

	since, err := b.QueryGlobalStats(ctx, day2)
	if err != nil {
		t.Fatal(err)
	}
	if since.TotalRequests != 2 {
		t.Errorf("requests since %v = %d, want 2", day2, since.TotalRequests)
	}
}

func TestSQLiteBackendCleanup(t *testing.T) {
	b := newTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	b.Enqueue(Record{Provider: "p", Model: "m", RequestedAt: now.AddDate(0, 0, -40)})
	b.Enqueue(Record{Provider: "p", Model: "m", RequestedAt: now})
	if err := b.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	n, err := b.Cleanup(ctx, now.AddDate(0, 0, -30))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Cleanup removed %d rows, want 1", n)
	}
}

func TestSQLiteBackendStopWritesQueued(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")
	b, err := NewSQLiteBackend(path, BackendConfig{FlushInterval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	b.Enqueue(Record{Provider: "p", Model: "m", TotalTokens: 7, RequestedAt: time.Now()})
	if err := b.Stop(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewSQLiteBackend(path, BackendConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.db.Close()
	g, err := reopened.QueryGlobalStats(context.Background(), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if g.TotalRequests != 1 || g.TotalTokens != 7 {
		t.Errorf("after restart = %+v", *g)
	}
}
