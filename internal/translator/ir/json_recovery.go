package ir

import (
	"strings"

	"github.com/nghyane/claude-relay/internal/json"
)

// Keys of the payload returned when tool arguments cannot be recovered.
const (
	RawArgumentsKey     = "raw_arguments"
	ParseErrorKey       = "parse_error"
	RecoveredObjectsKey = "recovered_objects"
)

// ParseToolArguments decodes accumulated tool-call argument text. It never
// fails: strict JSON is returned as decoded; otherwise the complete top-level
// objects found by a brace scan are returned (one object alone, several as a
// list); if none are found the result carries the raw text and parse error.
func ParseToolArguments(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]any{}
	}

	var v any
	err := json.UnmarshalString(trimmed, &v)
	if err == nil {
		return v
	}

	objects := scanTopLevelObjects(trimmed)
	switch len(objects) {
	case 0:
		return map[string]any{
			RawArgumentsKey: raw,
			ParseErrorKey:   err.Error(),
		}
	case 1:
		return objects[0]
	default:
		list := make([]any, len(objects))
		for i, o := range objects {
			list[i] = o
		}
		return list
	}
}

// ToolInputObject is ParseToolArguments narrowed to a JSON object, as required
// for a tool_use input. Recovered lists and non-object values are wrapped
// together with the raw text.
func ToolInputObject(raw string) map[string]any {
	switch v := ParseToolArguments(raw).(type) {
	case map[string]any:
		return v
	case []any:
		return map[string]any{
			RawArgumentsKey:     raw,
			RecoveredObjectsKey: v,
		}
	default:
		return map[string]any{
			RawArgumentsKey: raw,
			ParseErrorKey:   "arguments are not a JSON object",
		}
	}
}

// scanTopLevelObjects splits text into the syntactically complete top-level
// objects it contains, tracking string literals so braces inside strings are
// ignored. Bytes between objects are skipped.
func scanTopLevelObjects(text string) []map[string]any {
	var out []map[string]any
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				var obj map[string]any
				if err := json.UnmarshalString(text[start:i+1], &obj); err == nil {
					out = append(out, obj)
				}
				start = -1
			}
		}
	}
	return out
}
