// Package to_ir parses provider wire formats into the unified IR.
package to_ir

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	log "github.com/nghyane/claude-relay/internal/logging"
	"github.com/nghyane/claude-relay/internal/translator/ir"
)

// RequestError reports a malformed inbound request. It maps to a Claude
// invalid_request_error and never reaches the upstream.
type RequestError struct {
	Field   string
	Message string
}

func (e *RequestError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, format string, args ...any) *RequestError {
	return &RequestError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ParseClaudeRequest converts a Claude Messages API body into the IR.
func ParseClaudeRequest(body []byte) (*ir.UnifiedChatRequest, error) {
	return parseClaudeRequest(body, true)
}

// ParseCountTokensRequest parses a count_tokens body, which has the shape of
// a messages request without max_tokens.
func ParseCountTokensRequest(body []byte) (*ir.UnifiedChatRequest, error) {
	return parseClaudeRequest(body, false)
}

func parseClaudeRequest(body []byte, requireMaxTokens bool) (*ir.UnifiedChatRequest, error) {
	if !gjson.ValidBytes(body) {
		return nil, invalid("", "request body is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, invalid("", "request body must be a JSON object")
	}

	req := &ir.UnifiedChatRequest{
		Model:  strings.TrimSpace(root.Get("model").String()),
		Stream: root.Get("stream").Bool(),
	}
	if req.Model == "" {
		return nil, invalid("model", "field required")
	}

	if mt := root.Get("max_tokens"); mt.Exists() {
		n := int(mt.Int())
		if mt.Type != gjson.Number || n < 1 {
			return nil, invalid("max_tokens", "must be a positive integer")
		}
		req.MaxTokens = &n
	} else if requireMaxTokens {
		return nil, invalid("max_tokens", "field required")
	}
	if v := root.Get("temperature"); v.Exists() && v.Type == gjson.Number {
		f := v.Float()
		req.Temperature = &f
	}
	if v := root.Get("top_p"); v.Exists() && v.Type == gjson.Number {
		f := v.Float()
		req.TopP = &f
	}
	if v := root.Get("top_k"); v.Exists() && v.Type == gjson.Number {
		k := int(v.Int())
		req.TopK = &k
	}
	for _, s := range root.Get("stop_sequences").Array() {
		if s.String() != "" {
			req.StopSequences = append(req.StopSequences, s.String())
		}
	}
	req.User = root.Get("metadata.user_id").String()

	if sys := parseSystem(root.Get("system")); sys != nil {
		req.Messages = append(req.Messages, *sys)
	}

	msgs := root.Get("messages")
	if !msgs.IsArray() || len(msgs.Array()) == 0 {
		return nil, invalid("messages", "must be a non-empty array")
	}
	for i, m := range msgs.Array() {
		parsed, err := parseMessage(i, m)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, parsed...)
	}

	tools, err := parseTools(root.Get("tools"))
	if err != nil {
		return nil, err
	}
	req.Tools = tools
	req.ToolChoice = parseToolChoice(root.Get("tool_choice"))

	return req, nil
}

// parseSystem collapses the system prompt into one text-only message.
func parseSystem(sys gjson.Result) *ir.Message {
	if !sys.Exists() {
		return nil
	}
	msg := ir.Message{Role: ir.RoleSystem}
	switch {
	case sys.Type == gjson.String:
		if sys.String() != "" {
			msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeText, Text: sys.String()})
		}
	case sys.IsArray():
		for _, block := range sys.Array() {
			if block.Get("type").String() != ir.ClaudeBlockText {
				log.Debugf("dropping non-text system block of type %q", block.Get("type").String())
				continue
			}
			if text := block.Get("text").String(); text != "" {
				msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeText, Text: text})
			}
		}
	}
	if len(msg.Content) == 0 {
		return nil
	}
	return &msg
}

// parseMessage converts one Claude turn. A user turn holding tool results
// expands into tool-role messages followed by the remaining user content.
func parseMessage(i int, m gjson.Result) ([]ir.Message, error) {
	field := fmt.Sprintf("messages.%d", i)
	role := m.Get("role").String()
	if role != string(ir.RoleUser) && role != string(ir.RoleAssistant) {
		return nil, invalid(field+".role", "must be \"user\" or \"assistant\", got %q", role)
	}

	content := m.Get("content")
	msg := ir.Message{Role: ir.Role(role)}
	var toolMsgs []ir.Message

	switch {
	case content.Type == gjson.String:
		msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeText, Text: content.String()})
	case content.IsArray():
		for j, block := range content.Array() {
			if err := parseBlock(fmt.Sprintf("%s.content.%d", field, j), block, &msg, &toolMsgs); err != nil {
				return nil, err
			}
		}
	case !content.Exists() || content.Type == gjson.Null:
		// empty assistant prefill
	default:
		return nil, invalid(field+".content", "must be a string or an array of content blocks")
	}

	out := toolMsgs
	if len(msg.Content) > 0 || len(msg.ToolCalls) > 0 || (msg.Role == ir.RoleAssistant && len(toolMsgs) == 0) {
		out = append(out, msg)
	}
	return out, nil
}

func parseBlock(field string, block gjson.Result, msg *ir.Message, toolMsgs *[]ir.Message) error {
	switch typ := block.Get("type").String(); typ {
	case ir.ClaudeBlockText:
		msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeText, Text: block.Get("text").String()})

	case ir.ClaudeBlockImage:
		img := parseImageSource(block.Get("source"))
		if img == nil {
			return invalid(field+".source", "unsupported image source")
		}
		msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeImage, Image: img})

	case ir.ClaudeBlockToolUse:
		if msg.Role != ir.RoleAssistant {
			return invalid(field, "tool_use blocks are only valid in assistant turns")
		}
		name := block.Get("name").String()
		if name == "" {
			return invalid(field+".name", "field required")
		}
		args := "{}"
		if in := block.Get("input"); in.Exists() && in.IsObject() {
			args = in.Raw
		}
		msg.ToolCalls = append(msg.ToolCalls, ir.ToolCall{
			ID:   block.Get("id").String(),
			Name: name,
			Args: args,
		})

	case ir.ClaudeBlockToolResult:
		if msg.Role != ir.RoleUser {
			return invalid(field, "tool_result blocks are only valid in user turns")
		}
		id := block.Get("tool_use_id").String()
		if id == "" {
			return invalid(field+".tool_use_id", "field required")
		}
		tr := &ir.ToolResultPart{ToolCallID: id, IsError: block.Get("is_error").Bool()}
		parseToolResultContent(block.Get("content"), tr)
		*toolMsgs = append(*toolMsgs, ir.Message{
			Role:    ir.RoleTool,
			Content: []ir.ContentPart{{Type: ir.ContentTypeToolResult, ToolResult: tr}},
		})

	case "thinking", "redacted_thinking":
		// no equivalent upstream

	default:
		log.TranslationWarnf("unknown_block", "unrecognized content block type %q at %s, keeping as unknown", typ, field)
		msg.Content = append(msg.Content, ir.ContentPart{Type: ir.ContentTypeUnknown, Raw: block.Raw})
	}
	return nil
}

func parseImageSource(src gjson.Result) *ir.ImagePart {
	switch src.Get("type").String() {
	case "base64":
		data := src.Get("data").String()
		if data == "" {
			return nil
		}
		return &ir.ImagePart{MimeType: src.Get("media_type").String(), Data: data}
	case "url":
		if u := src.Get("url").String(); u != "" {
			return &ir.ImagePart{URL: u}
		}
	}
	return nil
}

func parseToolResultContent(content gjson.Result, tr *ir.ToolResultPart) {
	switch {
	case content.Type == gjson.String:
		tr.Result = content.String()
	case content.IsArray():
		var texts []string
		for _, b := range content.Array() {
			switch b.Get("type").String() {
			case ir.ClaudeBlockText:
				texts = append(texts, b.Get("text").String())
			case ir.ClaudeBlockImage:
				if img := parseImageSource(b.Get("source")); img != nil {
					tr.Images = append(tr.Images, img)
				}
			default:
				log.Debugf("dropping tool_result block of type %q", b.Get("type").String())
			}
		}
		tr.Result = strings.Join(texts, "\n")
	case content.Exists() && content.Type != gjson.Null:
		tr.Result = content.Raw
	}
}

func parseTools(tools gjson.Result) ([]ir.ToolDefinition, error) {
	if !tools.Exists() || tools.Type == gjson.Null {
		return nil, nil
	}
	if !tools.IsArray() {
		return nil, invalid("tools", "must be an array")
	}
	var out []ir.ToolDefinition
	for i, t := range tools.Array() {
		name := t.Get("name").String()
		if name == "" {
			return nil, invalid(fmt.Sprintf("tools.%d.name", i), "field required")
		}
		def := ir.ToolDefinition{
			Name:        name,
			Description: t.Get("description").String(),
			BuiltinType: t.Get("type").String(),
		}
		schema := t.Get("input_schema")
		if schema.IsObject() {
			def.Kind = ir.BuiltinCustom
			if m, ok := schema.Value().(map[string]any); ok {
				def.Parameters = m
			}
		} else {
			def.Kind = ir.ClassifyToolType(def.BuiltinType)
		}
		out = append(out, def)
	}
	return out, nil
}

func parseToolChoice(tc gjson.Result) *ir.ToolChoice {
	if !tc.IsObject() {
		return nil
	}
	choice := &ir.ToolChoice{
		Mode:            ir.ToolChoiceMode(tc.Get("type").String()),
		DisableParallel: tc.Get("disable_parallel_tool_use").Bool(),
	}
	switch choice.Mode {
	case ir.ToolChoiceAuto, ir.ToolChoiceAny, ir.ToolChoiceNone:
	case ir.ToolChoiceSpecific:
		choice.Name = tc.Get("name").String()
		if choice.Name == "" {
			log.TranslationWarnf("tool_choice", "tool_choice of type tool without a name, using auto")
			choice.Mode = ir.ToolChoiceAuto
		}
	default:
		log.TranslationWarnf("tool_choice", "unknown tool_choice type %q, using auto", choice.Mode)
		choice.Mode = ir.ToolChoiceAuto
	}
	return choice
}
