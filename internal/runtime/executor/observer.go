package executor

import (
	"context"
	"time"

	"github.com/nghyane/claude-relay/internal/translator/ir"
)

// UpstreamCall describes one HTTP attempt against a provider.
type UpstreamCall struct {
	Provider   string
	Model      string
	Stream     bool
	Attempt    int
	StatusCode int
	Duration   time.Duration
	Err        error
}

// UsageEvent is reported once per client request after the response is complete.
type UsageEvent struct {
	RequestID   string
	ClientModel string
	Provider    string
	Model       string
	Stream      bool
	Usage       *ir.Usage
	StopReason  string
	Calls       int
	Latency     time.Duration
	Failed      bool
	Err         error
}

// BatchEvent is reported when a turn was split into serialized calls.
type BatchEvent struct {
	Provider  string
	Model     string
	Size      int
	Completed int
	Stream    bool
	Err       error
}

// Observer receives executor events. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	OnUpstreamCall(ctx context.Context, call UpstreamCall)
	OnUsage(ctx context.Context, ev UsageEvent)
	OnBatch(ctx context.Context, ev BatchEvent)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) OnUpstreamCall(context.Context, UpstreamCall) {}
func (NopObserver) OnUsage(context.Context, UsageEvent)          {}
func (NopObserver) OnBatch(context.Context, BatchEvent)          {}

// Observers fans events out to several observers in order.
type Observers []Observer

func (o Observers) OnUpstreamCall(ctx context.Context, call UpstreamCall) {
	for _, obs := range o {
		obs.OnUpstreamCall(ctx, call)
	}
}

func (o Observers) OnUsage(ctx context.Context, ev UsageEvent) {
	for _, obs := range o {
		obs.OnUsage(ctx, ev)
	}
}

func (o Observers) OnBatch(ctx context.Context, ev BatchEvent) {
	for _, obs := range o {
		obs.OnBatch(ctx, ev)
	}
}
