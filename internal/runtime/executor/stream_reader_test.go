package executor

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// mockReadCloser wraps a reader to implement io.ReadCloser
type mockReadCloser struct {
	reader io.Reader
	closed atomic.Bool
	block  chan struct{}
}

func (m *mockReadCloser) Read(p []byte) (int, error) {
	if m.block != nil {
		<-m.block
		return 0, errors.New("read on closed body")
	}
	return m.reader.Read(p)
}

func (m *mockReadCloser) Close() error {
	if m.closed.CompareAndSwap(false, true) && m.block != nil {
		close(m.block)
	}
	return nil
}

func (m *mockReadCloser) IsClosed() bool {
	return m.closed.Load()
}

func TestStreamReader_BasicRead(t *testing.T) {
	data := "Hello, World!"
	mock := &mockReadCloser{reader: strings.NewReader(data)}

	sr := NewStreamReader(context.Background(), mock, 0, "test", nil)
	defer sr.Close()

	got, err := io.ReadAll(sr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != data {
		t.Fatalf("expected %q, got %q", data, got)
	}
}

func TestStreamReader_ContextCancellation(t *testing.T) {
	mock := &mockReadCloser{block: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	var doneErr error
	sr := NewStreamReader(ctx, mock, 0, "test", func(err error) { doneErr = err })

	readErr := make(chan error, 1)
	go func() {
		_, err := sr.Read(make([]byte, 8))
		readErr <- err
	}()

	cancel()

	select {
	case err := <-readErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Read after cancel = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Read still blocked after cancellation")
	}
	if !mock.IsClosed() {
		t.Fatal("body should be closed after context cancellation")
	}

	sr.Close()
	if !errors.Is(doneErr, context.Canceled) {
		t.Errorf("onDone err = %v, want context.Canceled", doneErr)
	}
}

func TestStreamReader_Close(t *testing.T) {
	mock := &mockReadCloser{reader: strings.NewReader("test")}
	calls := 0
	sr := NewStreamReader(context.Background(), mock, 0, "test", func(err error) {
		calls++
		if err != nil {
			t.Errorf("onDone err = %v, want nil", err)
		}
	})

	if err := sr.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if err := sr.Close(); err != nil {
		t.Fatalf("second close error: %v", err)
	}
	if calls != 1 {
		t.Errorf("onDone called %d times, want 1", calls)
	}

	if _, err := sr.Read(make([]byte, 10)); err != io.EOF {
		t.Fatalf("expected EOF after close, got: %v", err)
	}
}

func TestStreamReader_ActivityTracking(t *testing.T) {
	mock := &mockReadCloser{reader: strings.NewReader("Line 1\nLine 2\nLine 3\n")}

	sr := NewStreamReader(context.Background(), mock, 10*time.Second, "test", nil)
	defer sr.Close()

	initial := time.Unix(0, sr.lastActivity.Load())
	time.Sleep(10 * time.Millisecond)
	sr.Read(make([]byte, 10))

	if updated := time.Unix(0, sr.lastActivity.Load()); !updated.After(initial) {
		t.Fatal("lastActivity should be updated after read")
	}
}

func TestStreamReader_IdleTimeout(t *testing.T) {
	mock := &mockReadCloser{block: make(chan struct{})}

	var doneErr error
	sr := NewStreamReader(context.Background(), mock, 40*time.Millisecond, "test", func(err error) { doneErr = err })

	_, err := sr.Read(make([]byte, 8))
	if !errors.Is(err, ErrStreamIdle) {
		t.Fatalf("Read on stalled body = %v, want ErrStreamIdle", err)
	}
	if !mock.IsClosed() {
		t.Fatal("idle watchdog did not close the body")
	}
	sr.Close()
	if !errors.Is(doneErr, ErrStreamIdle) {
		t.Errorf("onDone err = %v, want ErrStreamIdle", doneErr)
	}
}
