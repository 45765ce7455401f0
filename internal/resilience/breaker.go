package resilience

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	FailureRatio     float64
	MinRequests      uint32
	OnStateChange    func(name string, from, to gobreaker.State)
	IsSuccessful     func(err error) bool
}

// CountsAsSuccess decides whether err trips the breaker. Client-side failures
// (4xx other than 429, cancellation) say nothing about upstream health.
func CountsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var se StatusError
	if errors.As(err, &se) {
		code := se.HTTPStatus()
		return code < 500 && code != http.StatusTooManyRequests
	}
	return false
}

func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         10 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.5,
		MinRequests:      10,
		IsSuccessful:     CountsAsSuccess,
	}
}

func (cfg BreakerConfig) settings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= cfg.FailureThreshold {
				return true
			}
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: cfg.OnStateChange,
		IsSuccessful:  cfg.IsSuccessful,
	}
}

// CircuitBreaker guards synchronous upstream calls.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(cfg.settings())}
}

func (c *CircuitBreaker) Execute(fn func() (any, error)) (any, error) {
	return c.cb.Execute(fn)
}

func (c *CircuitBreaker) State() gobreaker.State   { return c.cb.State() }
func (c *CircuitBreaker) Counts() gobreaker.Counts { return c.cb.Counts() }
func (c *CircuitBreaker) Name() string             { return c.cb.Name() }

// StreamingCircuitBreaker guards streams, whose outcome is known only after
// the body has been consumed. Allow returns a done callback that must be
// called exactly once with the stream's result.
type StreamingCircuitBreaker struct {
	cb           *gobreaker.TwoStepCircuitBreaker
	isSuccessful func(error) bool
}

func NewStreamingCircuitBreaker(cfg BreakerConfig) *StreamingCircuitBreaker {
	isSuccessful := cfg.IsSuccessful
	if isSuccessful == nil {
		isSuccessful = func(err error) bool { return err == nil }
	}
	return &StreamingCircuitBreaker{
		cb:           gobreaker.NewTwoStepCircuitBreaker(cfg.settings()),
		isSuccessful: isSuccessful,
	}
}

// Allow returns gobreaker.ErrOpenState or ErrTooManyRequests when the call
// must not proceed.
func (s *StreamingCircuitBreaker) Allow() (done func(err error), err error) {
	report, err := s.cb.Allow()
	if err != nil {
		return nil, err
	}
	var once sync.Once
	return func(err error) {
		once.Do(func() { report(s.isSuccessful(err)) })
	}, nil
}

func (s *StreamingCircuitBreaker) State() gobreaker.State   { return s.cb.State() }
func (s *StreamingCircuitBreaker) Counts() gobreaker.Counts { return s.cb.Counts() }
func (s *StreamingCircuitBreaker) Name() string             { return s.cb.Name() }

// BreakerPair holds the breakers of one provider.
type BreakerPair struct {
	Sync   *CircuitBreaker
	Stream *StreamingCircuitBreaker
}

// BreakerSet lazily creates one BreakerPair per provider name.
type BreakerSet struct {
	mu            sync.Mutex
	pairs         map[string]*BreakerPair
	onStateChange func(name string, from, to gobreaker.State)
}

func NewBreakerSet(onStateChange func(name string, from, to gobreaker.State)) *BreakerSet {
	return &BreakerSet{pairs: make(map[string]*BreakerPair), onStateChange: onStateChange}
}

func (b *BreakerSet) Get(provider string) *BreakerPair {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pairs[provider]; ok {
		return p
	}
	syncCfg := DefaultBreakerConfig(provider)
	syncCfg.OnStateChange = b.onStateChange
	streamCfg := DefaultBreakerConfig(provider + "/stream")
	streamCfg.OnStateChange = b.onStateChange
	p := &BreakerPair{
		Sync:   NewCircuitBreaker(syncCfg),
		Stream: NewStreamingCircuitBreaker(streamCfg),
	}
	b.pairs[provider] = p
	return p
}
