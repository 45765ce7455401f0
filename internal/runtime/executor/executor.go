// Package executor sends translated requests to Chat Completions upstreams
// and turns their responses back into Claude messages and event streams.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tidwall/sjson"
	"golang.org/x/time/rate"

	log "github.com/nghyane/claude-relay/internal/logging"
	"github.com/nghyane/claude-relay/internal/registry"
	"github.com/nghyane/claude-relay/internal/resilience"
	"github.com/nghyane/claude-relay/internal/util"
)

const DefaultStreamIdleTimeout = 5 * time.Minute

// Upstream is the transport the Batcher drives.
type Upstream interface {
	// Execute performs a non-streaming call and returns the decoded body.
	Execute(ctx context.Context, route *registry.Route, body []byte) ([]byte, error)
	// OpenStream performs a streaming call and returns the decoded event
	// stream once the upstream answered 2xx.
	OpenStream(ctx context.Context, route *registry.Route, body []byte) (io.ReadCloser, error)
}

type Options struct {
	Retry       resilience.RetryConfig
	IdleTimeout time.Duration
	Transports  *resilience.TransportCache
	Observer    Observer
	// OnBreakerChange is told about every breaker state transition.
	OnBreakerChange func(name string, from, to gobreaker.State)
}

// OpenAIExecutor calls {base-url}/chat/completions with per-provider rate
// limiting, circuit breaking, key rotation and retries before the first byte.
type OpenAIExecutor struct {
	transports *resilience.TransportCache
	breakers   *resilience.BreakerSet
	limiters   *limiterSet
	obs        Observer

	retry    atomic.Pointer[resilience.RetryConfig]
	idle     atomic.Int64
	rotation atomic.Uint64
}

func NewOpenAIExecutor(opts Options) *OpenAIExecutor {
	if opts.Transports == nil {
		opts.Transports = resilience.NewTransportCache(resilience.DefaultTransportSettings)
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = DefaultStreamIdleTimeout
	}
	e := &OpenAIExecutor{
		transports: opts.Transports,
		breakers:   resilience.NewBreakerSet(opts.OnBreakerChange),
		limiters:   &limiterSet{m: make(map[string]*rate.Limiter)},
		obs:        opts.Observer,
	}
	e.SetRetry(opts.Retry)
	e.SetIdleTimeout(opts.IdleTimeout)
	return e
}

// SetRetry replaces the retry settings for subsequent calls.
func (e *OpenAIExecutor) SetRetry(cfg resilience.RetryConfig) {
	e.retry.Store(&cfg)
}

// SetIdleTimeout replaces the stream idle timeout; negative disables it.
func (e *OpenAIExecutor) SetIdleTimeout(d time.Duration) {
	e.idle.Store(int64(d))
}

func (e *OpenAIExecutor) idleTimeout() time.Duration {
	d := time.Duration(e.idle.Load())
	if d < 0 {
		return 0
	}
	return d
}

// Execute implements Upstream.
func (e *OpenAIExecutor) Execute(ctx context.Context, route *registry.Route, body []byte) ([]byte, error) {
	body, err := prepareBody(route, body)
	if err != nil {
		return nil, err
	}
	pair := e.breakers.Get(route.Provider)
	start := int(e.rotation.Add(1))
	attempt := 0
	ex := resilience.NewExecutor[[]byte](*e.retry.Load(), pair.Sync, e.logRetry(route))
	return ex.Execute(ctx, func() ([]byte, error) {
		n := attempt
		attempt++
		resp, err := e.do(ctx, route, body, false, start+n, n)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		rc, err := util.DecodeBody(resp.Header.Get("Content-Encoding"), resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", route.Provider, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("%s: read response: %w", route.Provider, err)
		}
		return data, nil
	})
}

// OpenStream implements Upstream. Retries apply only until the upstream
// answers; the breaker learns the outcome when the returned body is closed.
func (e *OpenAIExecutor) OpenStream(ctx context.Context, route *registry.Route, body []byte) (io.ReadCloser, error) {
	body, err := prepareBody(route, body)
	if err != nil {
		return nil, err
	}
	breaker := e.breakers.Get(route.Provider).Stream
	start := int(e.rotation.Add(1))
	attempt := 0
	ex := resilience.NewExecutor[io.ReadCloser](*e.retry.Load(), nil, e.logRetry(route))
	return ex.Execute(ctx, func() (io.ReadCloser, error) {
		n := attempt
		attempt++
		done, err := breaker.Allow()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", route.Provider, err)
		}
		resp, err := e.do(ctx, route, body, true, start+n, n)
		if err != nil {
			done(err)
			return nil, err
		}
		sr := NewStreamReader(ctx, resp.Body, e.idleTimeout(), route.Provider, done)
		rc, err := util.DecodeBody(resp.Header.Get("Content-Encoding"), sr)
		if err != nil {
			sr.Close()
			return nil, fmt.Errorf("%s: %w", route.Provider, err)
		}
		return rc, nil
	})
}

// do performs one HTTP attempt. Non-2xx answers come back as *UpstreamError
// with the body already closed.
func (e *OpenAIExecutor) do(ctx context.Context, route *registry.Route, body []byte, stream bool, keyIndex, attempt int) (*http.Response, error) {
	if lim := e.limiters.get(route); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s: rate limiter: %w", route.Provider, err)
		}
	}

	key := route.Key(keyIndex)
	client, err := e.transports.Client(key.ProxyURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", route.Provider, err)
	}

	url := route.BaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", route.Provider, err)
	}
	setHeaders(req, route, key.Key, stream)

	started := time.Now()
	resp, err := client.Do(req)
	call := UpstreamCall{
		Provider: route.Provider,
		Model:    route.Model,
		Stream:   stream,
		Attempt:  attempt,
		Duration: time.Since(started),
	}
	if err != nil {
		call.Err = err
		e.obs.OnUpstreamCall(ctx, call)
		return nil, fmt.Errorf("%s: %w", route.Provider, err)
	}
	call.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ue := HandleHTTPError(resp, route.Provider)
		resp.Body.Close()
		call.Err = ue
		e.obs.OnUpstreamCall(ctx, call)
		return nil, ue
	}
	e.obs.OnUpstreamCall(ctx, call)
	return resp, nil
}

func (e *OpenAIExecutor) logRetry(route *registry.Route) func(int, error) {
	return func(attempt int, err error) {
		log.WithField("provider", route.Provider).Warnf("retrying upstream call (attempt %d): %v", attempt+1, err)
	}
}

func setHeaders(req *http.Request, route *registry.Route, apiKey string, stream bool) {
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	req.Header.Set("Accept-Encoding", util.AcceptEncoding)
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	for k, v := range route.Headers {
		req.Header.Set(k, v)
	}
}

// prepareBody merges the route's extra-body fields into the request. Keys
// are dotted sjson paths and are applied in sorted order.
func prepareBody(route *registry.Route, body []byte) ([]byte, error) {
	if len(route.ExtraBody) == 0 {
		return body, nil
	}
	keys := make([]string, 0, len(route.ExtraBody))
	for k := range route.ExtraBody {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var err error
	for _, k := range keys {
		body, err = sjson.SetBytes(body, k, route.ExtraBody[k])
		if err != nil {
			return nil, fmt.Errorf("apply extra-body %q: %w", k, err)
		}
	}
	return body, nil
}

// limiterSet keeps one token bucket per provider, resized when the route's
// settings change on reload.
type limiterSet struct {
	mu sync.Mutex
	m  map[string]*rate.Limiter
}

func (l *limiterSet) get(route *registry.Route) *rate.Limiter {
	if route.RequestsPerSecond <= 0 {
		return nil
	}
	burst := route.Burst
	if burst <= 0 {
		burst = int(math.Ceil(route.RequestsPerSecond))
	}
	limit := rate.Limit(route.RequestsPerSecond)

	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.m[route.Provider]
	if !ok {
		lim = rate.NewLimiter(limit, burst)
		l.m[route.Provider] = lim
		return lim
	}
	if lim.Limit() != limit {
		lim.SetLimit(limit)
	}
	if lim.Burst() != burst {
		lim.SetBurst(burst)
	}
	return lim
}
