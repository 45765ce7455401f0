package json

import (
	"bytes"
	"testing"
)

func TestMarshalSortsMapKeys(t *testing.T) {
	got, err := Marshal(map[string]any{"b": 1, "a": "x"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(got) != `{"a":"x","b":1}` {
		t.Errorf("Marshal() = %s, want sorted keys", got)
	}
}

func TestUnmarshalString(t *testing.T) {
	var v struct {
		Name string `json:"name"`
	}
	if err := UnmarshalString(`{"name":"read_file"}`, &v); err != nil {
		t.Fatalf("UnmarshalString: %v", err)
	}
	if v.Name != "read_file" {
		t.Errorf("Name = %q, want %q", v.Name, "read_file")
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{`{}`, true},
		{`{"a":[1,2]}`, true},
		{`{"a":}`, false},
		{`{"a":1}{"b":2}`, false},
	}
	for _, tt := range tests {
		if got := Valid([]byte(tt.in)); got != tt.want {
			t.Errorf("Valid(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEncoderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf).Encode(map[string]int{"n": 3}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var out map[string]int
	if err := NewDecoder(&buf).Decode(&out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out["n"] != 3 {
		t.Errorf("n = %d, want 3", out["n"])
	}
}
