package usage

import "sync/atomic"

// Counters are the live totals served by /v0/usage. Historical detail comes
// from the backend.
type Counters struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	failureCount  atomic.Int64
	inputTokens   atomic.Int64
	outputTokens  atomic.Int64
	totalTokens   atomic.Int64
	estimated     atomic.Int64
	upstreamCalls atomic.Int64
	batches       atomic.Int64
}

func NewCounters() *Counters {
	return &Counters{}
}

// Record counts one client request.
func (c *Counters) Record(r Record) {
	if c == nil {
		return
	}
	c.totalRequests.Add(1)
	if r.Failed {
		c.failureCount.Add(1)
	} else {
		c.successCount.Add(1)
	}
	if r.Estimated {
		c.estimated.Add(1)
	}
	c.inputTokens.Add(r.InputTokens)
	c.outputTokens.Add(r.OutputTokens)
	c.totalTokens.Add(r.TotalTokens)
}

func (c *Counters) AddUpstreamCall() {
	if c != nil {
		c.upstreamCalls.Add(1)
	}
}

func (c *Counters) AddBatch() {
	if c != nil {
		c.batches.Add(1)
	}
}

func (c *Counters) Snapshot() CounterSnapshot {
	if c == nil {
		return CounterSnapshot{}
	}
	return CounterSnapshot{
		TotalRequests: c.totalRequests.Load(),
		SuccessCount:  c.successCount.Load(),
		FailureCount:  c.failureCount.Load(),
		InputTokens:   c.inputTokens.Load(),
		OutputTokens:  c.outputTokens.Load(),
		TotalTokens:   c.totalTokens.Load(),
		Estimated:     c.estimated.Load(),
		UpstreamCalls: c.upstreamCalls.Load(),
		Batches:       c.batches.Load(),
	}
}

// Bootstrap seeds the request and token totals from stored history. Call it
// once, before traffic starts.
func (c *Counters) Bootstrap(s AggregatedStats) {
	if c == nil {
		return
	}
	c.totalRequests.Store(s.TotalRequests)
	c.successCount.Store(s.SuccessCount)
	c.failureCount.Store(s.FailureCount)
	c.inputTokens.Store(s.InputTokens)
	c.outputTokens.Store(s.OutputTokens)
	c.totalTokens.Store(s.TotalTokens)
}

type CounterSnapshot struct {
	TotalRequests int64 `json:"total_requests"`
	SuccessCount  int64 `json:"success_count"`
	FailureCount  int64 `json:"failure_count"`
	InputTokens   int64 `json:"input_tokens"`
	OutputTokens  int64 `json:"output_tokens"`
	TotalTokens   int64 `json:"total_tokens"`
	// Estimated counts requests whose usage was estimated locally.
	Estimated     int64 `json:"estimated"`
	UpstreamCalls int64 `json:"upstream_calls"`
	Batches       int64 `json:"batches"`
}
