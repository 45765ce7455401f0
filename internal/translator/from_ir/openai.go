package from_ir

import (
	"fmt"
	"strings"

	"github.com/tidwall/sjson"

	"github.com/nghyane/claude-relay/internal/json"
	log "github.com/nghyane/claude-relay/internal/logging"
	"github.com/nghyane/claude-relay/internal/translator/ir"
)

// ToOpenAIRequest renders req as a Chat Completions body for upstreamModel.
// Tool call ids are passed through corr so that tool results sent later in
// the same session still line up.
func ToOpenAIRequest(req *ir.UnifiedChatRequest, upstreamModel string, corr *ir.ToolIDCorrelator) ([]byte, error) {
	if corr == nil {
		corr = ir.NewToolIDCorrelator()
	}
	model := upstreamModel
	if model == "" {
		model = req.Model
	}
	m := map[string]any{
		"model":    model,
		"messages": buildOpenAIMessages(req.Messages, corr),
	}
	if req.MaxTokens != nil {
		m["max_tokens"] = *req.MaxTokens
	}
	if req.Temperature != nil {
		m["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		m["top_p"] = *req.TopP
	}
	if len(req.StopSequences) > 0 {
		m["stop"] = req.StopSequences
	}
	if req.User != "" {
		m["user"] = req.User
	}
	if req.Stream {
		m["stream"] = true
	}
	if len(req.Tools) > 0 {
		tools := make([]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": ir.BuiltinDescription(t),
					"parameters":  ir.ToolParameters(t),
				},
			})
		}
		m["tools"] = tools
		applyToolChoice(m, req.ToolChoice)
	}

	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal openai request: %w", err)
	}
	if req.Stream {
		if body, err = sjson.SetBytes(body, "stream_options.include_usage", true); err != nil {
			return nil, fmt.Errorf("set stream_options: %w", err)
		}
	}
	return body, nil
}

func applyToolChoice(m map[string]any, tc *ir.ToolChoice) {
	if tc == nil {
		return
	}
	switch tc.Mode {
	case ir.ToolChoiceAuto:
		m["tool_choice"] = "auto"
	case ir.ToolChoiceAny:
		// Chat Completions "required" is not honored by every compatible
		// backend, so any degrades to auto.
		log.Debug("tool_choice any has no portable equivalent, sending auto")
		m["tool_choice"] = "auto"
	case ir.ToolChoiceNone:
		m["tool_choice"] = "none"
	case ir.ToolChoiceSpecific:
		m["tool_choice"] = map[string]any{
			"type":     "function",
			"function": map[string]any{"name": tc.Name},
		}
	}
	if tc.DisableParallel {
		m["parallel_tool_calls"] = false
	}
}

func buildOpenAIMessages(messages []ir.Message, corr *ir.ToolIDCorrelator) []any {
	out := make([]any, 0, len(messages)+1)

	var system []string
	for _, msg := range messages {
		if msg.Role != ir.RoleSystem {
			continue
		}
		for _, p := range msg.Content {
			if p.Type == ir.ContentTypeText {
				if p.Text != "" {
					system = append(system, p.Text)
				}
				continue
			}
			log.Debugf("dropping non-text system block of type %s", p.Type)
		}
	}
	if len(system) > 0 {
		out = append(out, map[string]any{"role": "system", "content": strings.Join(system, "\n")})
	}

	// Images returned by tools cannot ride on a tool message, so they are
	// collected and sent as a user message once the tool run ends.
	var toolImages []any
	flushImages := func() {
		if len(toolImages) > 0 {
			out = append(out, map[string]any{"role": "user", "content": toolImages})
			toolImages = nil
		}
	}

	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case ir.RoleSystem:
			continue
		case ir.RoleTool:
			for _, p := range msg.Content {
				if p.Type != ir.ContentTypeToolResult || p.ToolResult == nil {
					continue
				}
				tr := p.ToolResult
				content := tr.Result
				if tr.IsError {
					content = "Error: " + content
				}
				out = append(out, map[string]any{
					"role":         "tool",
					"tool_call_id": corr.Correlate(tr.ToolCallID),
					"content":      content,
				})
				for _, img := range tr.Images {
					toolImages = append(toolImages, imageURLPart(img))
				}
			}
			continue
		}

		flushImages()
		switch msg.Role {
		case ir.RoleUser:
			if content, ok := userContent(msg); ok {
				out = append(out, map[string]any{"role": "user", "content": content})
			}
		case ir.RoleAssistant:
			out = append(out, assistantMessage(msg, corr))
		}
	}
	flushImages()
	return out
}

// userContent returns a plain string for a single text block and a part list
// otherwise. ok is false when nothing sendable remains.
func userContent(msg *ir.Message) (any, bool) {
	parts := make([]any, 0, len(msg.Content))
	texts := 0
	for _, p := range msg.Content {
		switch p.Type {
		case ir.ContentTypeText:
			texts++
			parts = append(parts, map[string]any{"type": "text", "text": p.Text})
		case ir.ContentTypeImage:
			if p.Image != nil {
				parts = append(parts, imageURLPart(p.Image))
			}
		case ir.ContentTypeUnknown:
			log.TranslationWarnf("unknown_block", "dropping content block with no upstream equivalent: %.80s", p.Raw)
		}
	}
	if len(parts) == 0 {
		return nil, false
	}
	if len(parts) == 1 && texts == 1 {
		return msg.Content[firstText(msg)].Text, true
	}
	return parts, true
}

func firstText(msg *ir.Message) int {
	for i, p := range msg.Content {
		if p.Type == ir.ContentTypeText {
			return i
		}
	}
	return -1
}

func assistantMessage(msg *ir.Message, corr *ir.ToolIDCorrelator) map[string]any {
	out := map[string]any{"role": "assistant"}
	var texts []string
	for _, p := range msg.Content {
		switch p.Type {
		case ir.ContentTypeText:
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
		case ir.ContentTypeUnknown:
			log.TranslationWarnf("unknown_block", "dropping assistant block with no upstream equivalent: %.80s", p.Raw)
		}
	}

	if len(msg.ToolCalls) > 0 {
		calls := make([]any, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			calls = append(calls, map[string]any{
				"id":   corr.Correlate(tc.ID),
				"type": "function",
				"function": map[string]any{
					"name":      tc.Name,
					"arguments": ir.NormalizeArgs(tc.Args),
				},
			})
		}
		out["tool_calls"] = calls
	}

	switch {
	case len(texts) > 0:
		out["content"] = strings.Join(texts, "\n")
	case len(msg.ToolCalls) > 0:
		out["content"] = nil
	default:
		out["content"] = ""
	}
	return out
}

func imageURLPart(img *ir.ImagePart) map[string]any {
	return map[string]any{
		"type":      "image_url",
		"image_url": map[string]any{"url": img.DataURI()},
	}
}
