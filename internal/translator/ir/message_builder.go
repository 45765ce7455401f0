package ir

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/nghyane/claude-relay/internal/json"
)

// CombineTextParts joins the text parts of msg with sep.
// Single-part messages are returned without allocating.
func CombineTextParts(msg Message, sep string) string {
	count := 0
	var single string
	for _, part := range msg.Content {
		if part.Type == ContentTypeText && part.Text != "" {
			count++
			single = part.Text
			if count > 1 {
				break
			}
		}
	}

	if count == 0 {
		return ""
	}
	if count == 1 {
		return single
	}

	var b strings.Builder
	b.Grow(count * 256)
	first := true
	for _, part := range msg.Content {
		if part.Type == ContentTypeText && part.Text != "" {
			if !first {
				b.WriteString(sep)
			}
			b.WriteString(part.Text)
			first = false
		}
	}
	return b.String()
}

// BuildToolCallMap creates a map of tool call ID to function name.
func BuildToolCallMap(messages []Message) map[string]string {
	m := make(map[string]string, 8)
	for _, msg := range messages {
		if msg.Role == RoleAssistant {
			for _, tc := range msg.ToolCalls {
				m[tc.ID] = tc.Name
			}
		}
	}
	return m
}

// NormalizeArgs returns args as a JSON object string. Empty input becomes
// "{}"; text that is not valid JSON is wrapped as a JSON string.
func NormalizeArgs(args string) string {
	trimmed := strings.TrimSpace(args)
	if trimmed == "" {
		return "{}"
	}
	if !json.Valid([]byte(trimmed)) {
		b, _ := json.Marshal(trimmed)
		return string(b)
	}
	return trimmed
}

// ParseOpenAIStyleToolCalls parses a tool_calls array. Entries without a
// "type" are accepted since several compatible backends omit it.
func ParseOpenAIStyleToolCalls(toolCalls []gjson.Result) []ToolCall {
	result := make([]ToolCall, 0, len(toolCalls))
	for _, tc := range toolCalls {
		if typ := tc.Get("type").String(); typ != "" && typ != "function" {
			continue
		}
		args := tc.Get("function.arguments")
		argText := args.String()
		if args.IsObject() {
			argText = args.Raw
		}
		result = append(result, ToolCall{
			ID:   tc.Get("id").String(),
			Name: tc.Get("function.name").String(),
			Args: argText,
		})
	}
	return result
}

// IsToolResultMessage reports whether m is a tool-role message carrying a result.
func IsToolResultMessage(m *Message) bool {
	if m.Role != RoleTool {
		return false
	}
	for _, p := range m.Content {
		if p.Type == ContentTypeToolResult && p.ToolResult != nil {
			return true
		}
	}
	return false
}

// LastToolResultGroup returns the [start, end) range of the last contiguous
// run of tool-result messages, or (-1, -1) when there is none. Messages of
// any role may follow the group.
func LastToolResultGroup(messages []Message) (start, end int) {
	end = -1
	for i := len(messages) - 1; i >= 0; i-- {
		if IsToolResultMessage(&messages[i]) {
			end = i + 1
			break
		}
	}
	if end < 0 {
		return -1, -1
	}
	start = end - 1
	for start > 0 && IsToolResultMessage(&messages[start-1]) {
		start--
	}
	return start, end
}
