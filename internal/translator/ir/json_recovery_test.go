package ir

import (
	"reflect"
	"testing"
)

func TestParseToolArguments(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want any
	}{
		{
			name: "well formed object",
			in:   `{"query":"normal"}`,
			want: map[string]any{"query": "normal"},
		},
		{
			name: "concatenated objects",
			in:   `{"query":"a"}{"query":"b"}`,
			want: []any{map[string]any{"query": "a"}, map[string]any{"query": "b"}},
		},
		{
			name: "concatenated with separators",
			in:   `{"a":1} , {"b":2}`,
			want: []any{map[string]any{"a": float64(1)}, map[string]any{"b": float64(2)}},
		},
		{
			name: "braces inside strings",
			in:   `{"p":"}{"}{"q":"\"{"}`,
			want: []any{map[string]any{"p": "}{"}, map[string]any{"q": `"{`}},
		},
		{
			name: "trailing garbage keeps the complete object",
			in:   `{"path":"/tmp"} trailing`,
			want: map[string]any{"path": "/tmp"},
		},
		{
			name: "empty",
			in:   "   ",
			want: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseToolArguments(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseToolArguments(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseToolArgumentsSentinel(t *testing.T) {
	in := `{"invalid": json}`
	got, ok := ParseToolArguments(in).(map[string]any)
	if !ok {
		t.Fatalf("ParseToolArguments(%q) did not return an object", in)
	}
	if got[RawArgumentsKey] != in {
		t.Errorf("raw_arguments = %v, want %q", got[RawArgumentsKey], in)
	}
	if msg, _ := got[ParseErrorKey].(string); msg == "" {
		t.Errorf("parse_error missing in %v", got)
	}
}

func TestParseToolArgumentsTruncated(t *testing.T) {
	in := `{"path": "/home/us`
	got, ok := ParseToolArguments(in).(map[string]any)
	if !ok || got[RawArgumentsKey] != in {
		t.Errorf("ParseToolArguments(%q) = %#v, want sentinel", in, got)
	}
}

func TestToolInputObject(t *testing.T) {
	obj := ToolInputObject(`{"a":1}`)
	if obj["a"] != float64(1) {
		t.Errorf("ToolInputObject(object) = %v", obj)
	}

	wrapped := ToolInputObject(`{"a":1}{"b":2}`)
	list, ok := wrapped[RecoveredObjectsKey].([]any)
	if !ok || len(list) != 2 {
		t.Errorf("ToolInputObject(concatenated) = %v, want two recovered objects", wrapped)
	}

	scalar := ToolInputObject(`"just a string"`)
	if scalar[RawArgumentsKey] != `"just a string"` {
		t.Errorf("ToolInputObject(scalar) = %v, want raw text kept", scalar)
	}
}
