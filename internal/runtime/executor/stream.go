package executor

import (
	"bufio"
	"context"
	"io"
	"sync"

	log "github.com/nghyane/claude-relay/internal/logging"
	"github.com/nghyane/claude-relay/internal/sseutil"
	"github.com/nghyane/claude-relay/internal/translator/from_ir"
	"github.com/nghyane/claude-relay/internal/translator/to_ir"
)

const (
	scanBufferSize = 64 << 10
	// maxLineSize bounds a single SSE line; large tool arguments can arrive
	// in one chunk.
	maxLineSize = 2 << 20
)

var scanBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, scanBufferSize)
		return &b
	},
}

// pump feeds one upstream event stream into cs and hands every non-empty
// batch of Claude events to send. It returns nil at [DONE], at EOF and once
// cs has terminated. Malformed chunks are skipped.
func pump(ctx context.Context, r io.Reader, cs *from_ir.ClaudeStream, send func([]from_ir.ClaudeEvent) bool) error {
	bufp := scanBufPool.Get().(*[]byte)
	defer scanBufPool.Put(bufp)

	sc := bufio.NewScanner(r)
	sc.Buffer(*bufp, maxLineSize)
	for sc.Scan() {
		payload, ok := sseutil.Payload(sc.Bytes())
		if !ok {
			continue
		}
		if sseutil.IsDone(payload) {
			return nil
		}
		events, err := to_ir.ParseOpenAIChunk(payload)
		if err != nil {
			log.TranslationWarnf("malformed_chunk", "skipping upstream chunk: %v", err)
			continue
		}
		if out := cs.Apply(events); len(out) > 0 {
			if !send(out) {
				if err := ctx.Err(); err != nil {
					return err
				}
				return context.Canceled
			}
		}
		if cs.Terminated() {
			return nil
		}
	}
	return sc.Err()
}
