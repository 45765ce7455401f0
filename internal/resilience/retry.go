package resilience

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sony/gobreaker"
)

// StatusError is implemented by errors that carry an upstream HTTP status.
type StatusError interface {
	error
	HTTPStatus() int
}

type RetryConfig struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterDelay time.Duration
}

var DefaultRetryConfig = RetryConfig{
	MaxRetries:  2,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    30 * time.Second,
	JitterDelay: 250 * time.Millisecond,
}

// RetryConfigFor builds a config from the request-retry and
// max-retry-interval settings.
func RetryConfigFor(retries int, maxInterval time.Duration) RetryConfig {
	cfg := DefaultRetryConfig
	if retries < 0 {
		retries = 0
	}
	cfg.MaxRetries = retries
	if maxInterval > 0 {
		cfg.MaxDelay = maxInterval
	}
	if cfg.BaseDelay > cfg.MaxDelay {
		cfg.BaseDelay = cfg.MaxDelay
	}
	return cfg
}

// Retryable reports whether another attempt may succeed: transport failures,
// 429 and 5xx. Cancellation and an open breaker are final.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var se StatusError
	if errors.As(err, &se) {
		code := se.HTTPStatus()
		return code == http.StatusTooManyRequests || code >= 500
	}
	return true
}

// NewRetryPolicy returns a policy that retries Retryable errors with
// exponential, jittered backoff and hands back the last failure once
// attempts run out.
func NewRetryPolicy[R any](cfg RetryConfig, onRetry func(attempt int, err error)) retrypolicy.RetryPolicy[R] {
	builder := retrypolicy.NewBuilder[R]().
		HandleIf(func(_ R, err error) bool { return Retryable(err) }).
		WithMaxRetries(cfg.MaxRetries).
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		ReturnLastFailure()
	if cfg.JitterDelay > 0 {
		builder = builder.WithJitter(cfg.JitterDelay)
	}
	if onRetry != nil {
		builder = builder.OnRetry(func(e failsafe.ExecutionEvent[R]) {
			onRetry(e.Attempts(), e.LastError())
		})
	}
	return builder.Build()
}

// Executor runs a function under a retry policy, counting every attempt
// against an optional circuit breaker.
type Executor[R any] struct {
	policy  retrypolicy.RetryPolicy[R]
	breaker *CircuitBreaker
}

func NewExecutor[R any](cfg RetryConfig, breaker *CircuitBreaker, onRetry func(attempt int, err error)) *Executor[R] {
	return &Executor[R]{
		policy:  NewRetryPolicy[R](cfg, onRetry),
		breaker: breaker,
	}
}

func (e *Executor[R]) Execute(ctx context.Context, fn func() (R, error)) (R, error) {
	attempt := fn
	if e.breaker != nil {
		attempt = func() (R, error) {
			v, err := e.breaker.Execute(func() (any, error) { return fn() })
			if err != nil {
				var zero R
				if r, ok := v.(R); ok {
					return r, err
				}
				return zero, err
			}
			return v.(R), nil
		}
	}
	return failsafe.With[R](e.policy).WithContext(ctx).Get(attempt)
}

func (e *Executor[R]) CircuitBreaker() *CircuitBreaker {
	return e.breaker
}
