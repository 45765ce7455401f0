// Package sseutil reads upstream SSE lines and writes client SSE responses.
package sseutil

import (
	"bytes"
	"io"
	"net/http"
)

var (
	dataTag    = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// Payload returns the data of one SSE line. Blank lines, comments and the
// event/id/retry fields yield ok=false. Some backends send bare JSON lines
// without the data: prefix; those are accepted as-is.
func Payload(line []byte) (payload []byte, ok bool) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] == ':' {
		return nil, false
	}
	if bytes.HasPrefix(trimmed, dataTag) {
		payload = bytes.TrimSpace(trimmed[len(dataTag):])
		return payload, len(payload) > 0
	}
	if trimmed[0] == '{' || bytes.Equal(trimmed, doneMarker) {
		return trimmed, true
	}
	return nil, false
}

// IsDone reports whether payload is the [DONE] end-of-stream marker.
func IsDone(payload []byte) bool {
	return bytes.Equal(payload, doneMarker)
}

// SetHeaders prepares h for an event stream response.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Writer writes pre-framed events and flushes after each batch.
type Writer struct {
	w io.Writer
	f http.Flusher
}

func NewWriter(w io.Writer) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, f: f}
}

// Write writes frames in order and flushes once.
func (w *Writer) Write(frames ...[]byte) error {
	for _, frame := range frames {
		if _, err := w.w.Write(frame); err != nil {
			return err
		}
	}
	if w.f != nil {
		w.f.Flush()
	}
	return nil
}
