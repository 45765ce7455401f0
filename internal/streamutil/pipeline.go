// Package streamutil runs producer goroutines that feed a bounded channel.
package streamutil

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const DefaultBufferSize = 64

// Pipeline owns an errgroup of producers and the channel they write to. The
// channel is closed once every producer has returned.
type Pipeline[T any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	output chan T

	onComplete func(err error, elapsed time.Duration)
	startTime  time.Time
	closeOnce  sync.Once
	err        error
}

// PipelineConfig holds configuration for creating a new pipeline.
type PipelineConfig struct {
	// BufferSize bounds how far producers may run ahead of the consumer.
	BufferSize int
	// OnComplete is called once after the output channel closes.
	OnComplete func(err error, elapsed time.Duration)
}

func NewPipeline[T any](parent context.Context, cfg PipelineConfig) *Pipeline[T] {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	ctx, cancel := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)
	return &Pipeline[T]{
		ctx:        gctx,
		cancel:     cancel,
		group:      g,
		output:     make(chan T, cfg.BufferSize),
		onComplete: cfg.OnComplete,
		startTime:  time.Now(),
	}
}

func (p *Pipeline[T]) Context() context.Context { return p.ctx }

func (p *Pipeline[T]) Output() <-chan T { return p.output }

// Go starts a producer. A non-nil error cancels the other producers.
func (p *Pipeline[T]) Go(f func(ctx context.Context) error) {
	p.group.Go(func() error { return f(p.ctx) })
}

// Send blocks until v is queued or the pipeline is cancelled.
func (p *Pipeline[T]) Send(v T) bool {
	select {
	case p.output <- v:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// Close waits for the producers, closes the output channel and returns the
// first producer error.
func (p *Pipeline[T]) Close() error {
	p.closeOnce.Do(func() {
		p.err = p.group.Wait()
		close(p.output)
		if p.onComplete != nil {
			p.onComplete(p.err, time.Since(p.startTime))
		}
		p.cancel()
	})
	return p.err
}

// Start closes the pipeline in the background once the producers finish.
func (p *Pipeline[T]) Start() {
	go func() { _ = p.Close() }()
}

// Cancel stops the producers; the consumer should still drain Output.
func (p *Pipeline[T]) Cancel() { p.cancel() }
