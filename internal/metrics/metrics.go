// Package metrics exposes Prometheus metrics for the relay.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	log "github.com/nghyane/claude-relay/internal/logging"
	"github.com/nghyane/claude-relay/internal/runtime/executor"
)

// LLMBuckets spans 100ms to 2m.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

const namespace = "claude_relay"

// Recorder owns the relay's collectors. It implements executor.Observer.
type Recorder struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	streamsActive   prometheus.Gauge

	upstreamCalls   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	tokens          *prometheus.CounterVec
	turns           *prometheus.CounterVec
	batches         *prometheus.CounterVec
	batchSize       prometheus.Histogram

	translationWarnings *prometheus.CounterVec
	breakerState        *prometheus.GaugeVec
}

var _ executor.Observer = (*Recorder)(nil)

// New registers every collector, plus the Go and process collectors, on a
// fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Inbound HTTP requests",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Inbound request duration",
			Buckets:   LLMBuckets,
		}, []string{"method", "route"}),
		streamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Streaming responses in flight",
		}),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "HTTP attempts against upstream providers",
		}, []string{"provider", "model", "status"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_latency_seconds",
			Help:      "Upstream time to response headers",
			Buckets:   LLMBuckets,
		}, []string{"provider", "model"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens by direction; source is reported or estimated",
		}, []string{"provider", "model", "direction", "source"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed client turns",
		}, []string{"provider", "model", "stream", "outcome"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_result_batches_total",
			Help:      "Turns split into serialized upstream calls",
		}, []string{"provider", "outcome"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_result_batch_size",
			Help:      "Upstream calls per split turn",
			Buckets:   []float64{2, 3, 4, 6, 8, 12, 16},
		}),
		translationWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translation_warnings_total",
			Help:      "Lossy or ambiguous translations, by kind",
		}, []string{"kind"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "0 closed, 1 half-open, 2 open",
		}, []string{"breaker"}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.requests,
		r.requestDuration,
		r.streamsActive,
		r.upstreamCalls,
		r.upstreamLatency,
		r.tokens,
		r.turns,
		r.batches,
		r.batchSize,
		r.translationWarnings,
		r.breakerState,
	)
	return r
}

// Registry returns the registry the collectors live on.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) OnUpstreamCall(_ context.Context, c executor.UpstreamCall) {
	status := "error"
	if c.StatusCode > 0 {
		status = strconv.Itoa(c.StatusCode)
	}
	r.upstreamCalls.WithLabelValues(c.Provider, c.Model, status).Inc()
	if c.StatusCode > 0 {
		r.upstreamLatency.WithLabelValues(c.Provider, c.Model).Observe(c.Duration.Seconds())
	}
}

func (r *Recorder) OnUsage(_ context.Context, ev executor.UsageEvent) {
	outcome := "ok"
	if ev.Failed {
		outcome = "error"
	}
	r.turns.WithLabelValues(ev.Provider, ev.Model, strconv.FormatBool(ev.Stream), outcome).Inc()
	if ev.Usage == nil {
		return
	}
	source := "reported"
	if ev.Usage.Estimated {
		source = "estimated"
	}
	r.tokens.WithLabelValues(ev.Provider, ev.Model, "input", source).Add(float64(ev.Usage.PromptTokens))
	r.tokens.WithLabelValues(ev.Provider, ev.Model, "output", source).Add(float64(ev.Usage.CompletionTokens))
}

func (r *Recorder) OnBatch(_ context.Context, ev executor.BatchEvent) {
	outcome := "ok"
	if ev.Err != nil {
		outcome = "error"
	}
	r.batches.WithLabelValues(ev.Provider, outcome).Inc()
	r.batchSize.Observe(float64(ev.Size))
}

// BreakerStateChange matches the executor's OnBreakerChange hook.
func (r *Recorder) BreakerStateChange(name string, from, to gobreaker.State) {
	r.breakerState.WithLabelValues(name).Set(breakerValue(to))
	log.Warnf("circuit breaker %s: %s -> %s", name, from, to)
}

func breakerValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}

// StreamStarted marks a streaming response in flight; call the returned
// func when it ends.
func (r *Recorder) StreamStarted() func() {
	r.streamsActive.Inc()
	return r.streamsActive.Dec
}

func (r *Recorder) observeRequest(method, route string, status int, d time.Duration) {
	r.requests.WithLabelValues(method, route, strconv.Itoa(status/100)+"xx").Inc()
	r.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Hook returns a logrus hook that counts translation warnings by kind.
func (r *Recorder) Hook() logrus.Hook { return translationHook{r.translationWarnings} }

type translationHook struct {
	counter *prometheus.CounterVec
}

func (translationHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.WarnLevel}
}

func (h translationHook) Fire(e *logrus.Entry) error {
	kind, ok := e.Data[log.TranslationField].(string)
	if !ok || kind == "" {
		return nil
	}
	h.counter.WithLabelValues(kind).Inc()
	return nil
}
