package usage

import (
	"time"

	"github.com/nghyane/claude-relay/internal/runtime/executor"
)

// Record is one client request as persisted.
type Record struct {
	RequestID    string
	ClientModel  string
	Provider     string
	Model        string
	Stream       bool
	StopReason   string
	Calls        int
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	Estimated    bool
	Failed       bool
	LatencyMs    int64
	RequestedAt  time.Time
}

// RecordFromEvent flattens a usage event. RequestedAt is derived from the
// latency so that it marks when the request arrived.
func RecordFromEvent(ev executor.UsageEvent, now time.Time) Record {
	r := Record{
		RequestID:   ev.RequestID,
		ClientModel: ev.ClientModel,
		Provider:    ev.Provider,
		Model:       ev.Model,
		Stream:      ev.Stream,
		StopReason:  ev.StopReason,
		Calls:       ev.Calls,
		Failed:      ev.Failed,
		LatencyMs:   ev.Latency.Milliseconds(),
		RequestedAt: now.Add(-ev.Latency).UTC(),
	}
	if r.Model == "" {
		r.Model = "unknown"
	}
	if u := ev.Usage; u != nil {
		r.InputTokens = int64(u.PromptTokens)
		r.OutputTokens = int64(u.CompletionTokens)
		r.TotalTokens = int64(u.TotalTokens)
		if r.TotalTokens == 0 {
			r.TotalTokens = r.InputTokens + r.OutputTokens
		}
		r.Estimated = u.Estimated
	}
	return r
}

type AggregatedStats struct {
	TotalRequests int64 `json:"total_requests"`
	SuccessCount  int64 `json:"success_count"`
	FailureCount  int64 `json:"failure_count"`
	InputTokens   int64 `json:"input_tokens"`
	OutputTokens  int64 `json:"output_tokens"`
	TotalTokens   int64 `json:"total_tokens"`
}

type DailyStats struct {
	Day      string `json:"day"` // 2006-01-02, UTC
	Requests int64  `json:"requests"`
	Tokens   int64  `json:"tokens"`
}

// ModelStats aggregates by client model and the upstream it was routed to.
type ModelStats struct {
	ClientModel  string  `json:"client_model"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	Requests     int64   `json:"requests"`
	FailureCount int64   `json:"failure_count"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Snapshot is the GET /v0/usage response: live counters since start plus
// stored aggregates when a backend is configured.
type Snapshot struct {
	Counters CounterSnapshot  `json:"counters"`
	Since    *time.Time       `json:"since,omitempty"`
	Stored   *AggregatedStats `json:"stored,omitempty"`
	Daily    []DailyStats     `json:"daily,omitempty"`
	Models   []ModelStats     `json:"models,omitempty"`
}
