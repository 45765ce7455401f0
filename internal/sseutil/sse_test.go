package sseutil

import (
	"net/http/httptest"
	"testing"
)

func TestPayload(t *testing.T) {
	tests := []struct {
		line   string
		want   string
		wantOK bool
	}{
		{`data: {"id":"1"}`, `{"id":"1"}`, true},
		{`data:{"id":"1"}`, `{"id":"1"}`, true},
		{"data: [DONE]\r", "[DONE]", true},
		{`{"id":"bare"}`, `{"id":"bare"}`, true},
		{"", "", false},
		{"   ", "", false},
		{": keep-alive", "", false},
		{"event: message", "", false},
		{"id: 7", "", false},
		{"data:", "", false},
	}
	for _, tt := range tests {
		got, ok := Payload([]byte(tt.line))
		if ok != tt.wantOK || string(got) != tt.want {
			t.Errorf("Payload(%q) = %q, %v; want %q, %v", tt.line, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestIsDone(t *testing.T) {
	if !IsDone([]byte("[DONE]")) {
		t.Error("IsDone([DONE]) = false")
	}
	if IsDone([]byte(`{"done":true}`)) {
		t.Error("IsDone(json) = true")
	}
}

func TestWriterFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	SetHeaders(rec.Header())
	w := NewWriter(rec)
	if err := w.Write([]byte("event: ping\ndata: {}\n\n"), []byte("event: message_stop\ndata: {}\n\n")); err != nil {
		t.Fatal(err)
	}
	if !rec.Flushed {
		t.Error("writer did not flush")
	}
	if got := rec.Header().Get("X-Accel-Buffering"); got != "no" {
		t.Errorf("X-Accel-Buffering = %q", got)
	}
	if got := rec.Body.String(); got != "event: ping\ndata: {}\n\nevent: message_stop\ndata: {}\n\n" {
		t.Errorf("body = %q", got)
	}
}
