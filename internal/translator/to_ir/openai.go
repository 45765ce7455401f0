package to_ir

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/nghyane/claude-relay/internal/translator/ir"
)

// ErrEmptyChoices is returned when a completed response carries no choice.
var ErrEmptyChoices = errors.New("upstream response has no choices")

// OpenAIResponse is a decoded non-streaming chat completion.
type OpenAIResponse struct {
	ID                 string
	Message            ir.Message
	FinishReason       ir.FinishReason
	NativeFinishReason string
	StopSequence       string
	// Usage is nil when the upstream reported none.
	Usage *ir.Usage
}

// UpstreamErrorMessage extracts the message of an {"error":{...}} payload.
func UpstreamErrorMessage(parsed gjson.Result) (string, bool) {
	e := parsed.Get("error")
	if !e.Exists() || e.Type == gjson.Null {
		return "", false
	}
	if e.Type == gjson.String {
		return e.String(), true
	}
	if msg := e.Get("message").String(); msg != "" {
		return msg, true
	}
	return e.Raw, true
}

// ParseOpenAIResponse decodes a chat completion body.
func ParseOpenAIResponse(body []byte) (*OpenAIResponse, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("upstream response is not valid JSON")
	}
	parsed := gjson.ParseBytes(body)
	if msg, ok := UpstreamErrorMessage(parsed); ok {
		return nil, fmt.Errorf("upstream error: %s", msg)
	}

	choice := parsed.Get("choices.0")
	if !choice.Exists() {
		return nil, ErrEmptyChoices
	}

	out := &OpenAIResponse{
		ID:      parsed.Get("id").String(),
		Message: ir.Message{Role: ir.RoleAssistant},
		Usage:   ParseOpenAIUsage(parsed.Get("usage")),
	}
	native := choice.Get("finish_reason").String()
	out.NativeFinishReason = native
	out.FinishReason = MapOpenAIFinishReason(native)
	out.StopSequence = matchedStop(choice)

	message := choice.Get("message")
	if text := messageText(message.Get("content")); text != "" {
		out.Message.Content = append(out.Message.Content, ir.ContentPart{Type: ir.ContentTypeText, Text: text})
	}
	out.Message.ToolCalls = ir.ParseOpenAIStyleToolCalls(message.Get("tool_calls").Array())
	if fc := message.Get("function_call"); fc.IsObject() && len(out.Message.ToolCalls) == 0 {
		out.Message.ToolCalls = append(out.Message.ToolCalls, ir.ToolCall{
			Name: fc.Get("name").String(),
			Args: fc.Get("arguments").String(),
		})
	}
	return out, nil
}

// messageText accepts both string content and the content-part array some
// compatible backends return.
func messageText(content gjson.Result) string {
	if content.IsArray() {
		var text string
		for _, p := range content.Array() {
			if p.Get("type").String() == "text" {
				text += p.Get("text").String()
			}
		}
		return text
	}
	return content.String()
}

// ParseOpenAIUsage reads a usage object; nil when absent or empty.
func ParseOpenAIUsage(u gjson.Result) *ir.Usage {
	if !u.IsObject() {
		return nil
	}
	prompt := u.Get("prompt_tokens")
	completion := u.Get("completion_tokens")
	if !prompt.Exists() && !completion.Exists() {
		return nil
	}
	usage := &ir.Usage{
		PromptTokens:     int(prompt.Int()),
		CompletionTokens: int(completion.Int()),
		TotalTokens:      int(u.Get("total_tokens").Int()),
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}

// MapOpenAIFinishReason normalizes an upstream finish_reason.
func MapOpenAIFinishReason(reason string) ir.FinishReason {
	switch reason {
	case "stop", "end_turn", "eos":
		return ir.FinishReasonStop
	case "length", "max_tokens":
		return ir.FinishReasonLength
	case "tool_calls", "function_call", "tool_use":
		return ir.FinishReasonToolCalls
	case "content_filter":
		return ir.FinishReasonContentFilter
	case "":
		return ""
	default:
		return ir.FinishReasonUnknown
	}
}

// matchedStop returns the stop string reported by backends (vLLM, SGLang)
// that expose it as choices[].stop_reason.
func matchedStop(choice gjson.Result) string {
	if sr := choice.Get("stop_reason"); sr.Type == gjson.String {
		return sr.String()
	}
	return ""
}

// ParseOpenAIChunk decodes one streamed chunk payload (the text after
// "data: ") into ordered events. A role marker comes first, then text, then
// tool fragments, then the finish reason and usage.
func ParseOpenAIChunk(data []byte) ([]ir.UnifiedEvent, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("malformed chunk: %.120s", data)
	}
	parsed := gjson.ParseBytes(data)
	if msg, ok := UpstreamErrorMessage(parsed); ok {
		return []ir.UnifiedEvent{{Type: ir.EventTypeError, Error: errors.New(msg)}}, nil
	}

	var events []ir.UnifiedEvent
	choice := parsed.Get("choices.0")
	if choice.Exists() {
		delta := choice.Get("delta")
		if delta.Get("role").String() == string(ir.RoleAssistant) {
			events = append(events, ir.UnifiedEvent{Type: ir.EventTypeMessageStart})
		}
		if text := messageText(delta.Get("content")); text != "" {
			events = append(events, ir.UnifiedEvent{Type: ir.EventTypeToken, Content: text})
		}
		for pos, tc := range delta.Get("tool_calls").Array() {
			idx := pos
			if v := tc.Get("index"); v.Exists() {
				idx = int(v.Int())
			}
			args := tc.Get("function.arguments")
			fragment := args.String()
			if args.IsObject() {
				fragment = args.Raw
			}
			events = append(events, ir.UnifiedEvent{
				Type:          ir.EventTypeToolCallDelta,
				ToolCallIndex: idx,
				ToolCall: &ir.ToolCall{
					ID:          tc.Get("id").String(),
					Name:        tc.Get("function.name").String(),
					PartialArgs: fragment,
				},
			})
		}
		if native := choice.Get("finish_reason").String(); native != "" {
			events = append(events, ir.UnifiedEvent{
				Type:               ir.EventTypeFinish,
				FinishReason:       MapOpenAIFinishReason(native),
				NativeFinishReason: native,
				StopSequence:       matchedStop(choice),
			})
		}
	}

	if usage := ParseOpenAIUsage(parsed.Get("usage")); usage != nil {
		events = append(events, ir.UnifiedEvent{Type: ir.EventTypeUsage, Usage: usage})
	}
	return events, nil
}
