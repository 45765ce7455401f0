package executor

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/nghyane/claude-relay/internal/logging"
)

// ErrStreamIdle is reported when the upstream stops sending before the stream ends.
var ErrStreamIdle = errors.New("upstream stream idle timeout")

// StreamReader wraps an upstream body with context-aware cancellation and
// idle detection.
//
// When ctx is cancelled the body is closed at once, unblocking any pending
// Read. A watchdog closes the body when no bytes arrive for idleTimeout.
// The first read failure is kept and handed to onDone exactly once, on Close.
type StreamReader struct {
	body         io.ReadCloser
	ctx          context.Context
	closed       atomic.Bool
	closeOnce    sync.Once
	closeErr     error
	lastActivity atomic.Int64 // UnixNano
	idleTimeout  time.Duration
	stopWatchdog chan struct{}
	stopOnce     sync.Once
	provider     string

	errMu   sync.Mutex
	readErr error
	onDone  func(err error)
}

// NewStreamReader starts watching body. idleTimeout 0 disables the watchdog;
// onDone may be nil.
func NewStreamReader(ctx context.Context, body io.ReadCloser, idleTimeout time.Duration, provider string, onDone func(err error)) *StreamReader {
	sr := &StreamReader{
		body:         body,
		ctx:          ctx,
		idleTimeout:  idleTimeout,
		stopWatchdog: make(chan struct{}),
		provider:     provider,
		onDone:       onDone,
	}
	sr.touch()

	go sr.watchContext()
	if idleTimeout > 0 {
		go sr.watchIdle()
	}
	return sr
}

func (sr *StreamReader) touch() {
	sr.lastActivity.Store(time.Now().UnixNano())
}

func (sr *StreamReader) watchContext() {
	select {
	case <-sr.ctx.Done():
		sr.fail(sr.ctx.Err())
		sr.closeWithReason("context cancelled")
	case <-sr.stopWatchdog:
	}
}

// watchIdle checks at a quarter of the timeout, capped at 30s.
func (sr *StreamReader) watchIdle() {
	interval := sr.idleTimeout / 4
	if interval > 30*time.Second {
		interval = 30 * time.Second
	}
	if interval <= 0 {
		interval = sr.idleTimeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sr.ctx.Done():
			return
		case <-sr.stopWatchdog:
			return
		case <-ticker.C:
			if sr.closed.Load() {
				return
			}
			idle := time.Since(time.Unix(0, sr.lastActivity.Load()))
			if idle > sr.idleTimeout {
				log.Warnf("%s: stream stalled for %v (limit %v), closing", sr.provider, idle.Round(time.Millisecond), sr.idleTimeout)
				sr.fail(ErrStreamIdle)
				sr.closeWithReason("idle timeout")
				return
			}
		}
	}
}

func (sr *StreamReader) fail(err error) {
	sr.errMu.Lock()
	if sr.readErr == nil {
		sr.readErr = err
	}
	sr.errMu.Unlock()
}

// Err returns the first failure seen, or nil.
func (sr *StreamReader) Err() error {
	sr.errMu.Lock()
	defer sr.errMu.Unlock()
	return sr.readErr
}

// Read implements io.Reader. After the body was closed by the watchdog or
// cancellation, Read returns the recorded failure.
func (sr *StreamReader) Read(p []byte) (int, error) {
	if sr.closed.Load() {
		if err := sr.Err(); err != nil {
			return 0, err
		}
		return 0, io.EOF
	}
	n, err := sr.body.Read(p)
	if n > 0 {
		sr.touch()
	}
	if err != nil && err != io.EOF {
		if recorded := sr.Err(); recorded != nil {
			return n, recorded
		}
		sr.fail(err)
	}
	return n, err
}

func (sr *StreamReader) closeWithReason(reason string) {
	sr.closeOnce.Do(func() {
		sr.closed.Store(true)
		sr.closeErr = sr.body.Close()
		log.Debugf("%s: stream closed: %s", sr.provider, reason)
	})
}

// Close implements io.Closer. Safe to call multiple times; onDone runs on
// the first call.
func (sr *StreamReader) Close() error {
	sr.closeWithReason("explicit close")
	sr.stopOnce.Do(func() {
		close(sr.stopWatchdog)
		if sr.onDone != nil {
			sr.onDone(sr.Err())
		}
	})
	return sr.closeErr
}
