package from_ir

import (
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/nghyane/claude-relay/internal/json"
	log "github.com/nghyane/claude-relay/internal/logging"
	"github.com/nghyane/claude-relay/internal/translator/ir"
	"github.com/nghyane/claude-relay/internal/translator/to_ir"
)

// Session carries the per-request values shared by the response and stream
// builders.
type Session struct {
	// Model is the model id the client asked for, echoed back verbatim.
	Model     string
	MessageID string
	// Correlator is the request's tool id mapping; nil gets a fresh one.
	Correlator *ir.ToolIDCorrelator
	// Estimate is the prompt estimate used until the upstream reports usage.
	Estimate      *ir.Usage
	StopSequences []string
}

func (s *Session) correlator() *ir.ToolIDCorrelator {
	if s.Correlator == nil {
		s.Correlator = ir.NewToolIDCorrelator()
	}
	return s.Correlator
}

func (s *Session) estimatedPrompt() int {
	if s.Estimate == nil {
		return 0
	}
	return s.Estimate.PromptTokens
}

// MapStopReason converts an upstream finish into a Claude stop reason and the
// matched stop sequence, if any.
func MapStopReason(reason ir.FinishReason, native, stopSeq string, requested []string, hadToolCalls bool) (string, string) {
	if stopSeq != "" && slices.Contains(requested, stopSeq) {
		return ir.ClaudeStopStopSequence, stopSeq
	}
	switch reason {
	case ir.FinishReasonStop, "":
		if hadToolCalls {
			return ir.ClaudeStopToolUse, ""
		}
		return ir.ClaudeStopEndTurn, ""
	case ir.FinishReasonLength:
		return ir.ClaudeStopMaxTokens, ""
	case ir.FinishReasonToolCalls:
		return ir.ClaudeStopToolUse, ""
	case ir.FinishReasonContentFilter:
		log.Debugf("upstream finished with content_filter, reporting end_turn")
		return ir.ClaudeStopEndTurn, ""
	}
	log.TranslationWarnf("finish_reason", "unknown upstream finish_reason %q, reporting end_turn", native)
	return ir.ClaudeStopEndTurn, ""
}

// ResponseUsage returns the usage to report for resp: the upstream's when
// present, otherwise an estimate from the prompt estimate and output size.
func ResponseUsage(resp *to_ir.OpenAIResponse, sess *Session) *ir.Usage {
	runes := 0
	for _, p := range resp.Message.Content {
		runes += utf8.RuneCountInString(p.Text)
	}
	for _, tc := range resp.Message.ToolCalls {
		runes += utf8.RuneCountInString(tc.Args)
	}
	out := (runes + 3) / 4
	est := &ir.Usage{
		PromptTokens:     sess.estimatedPrompt(),
		CompletionTokens: out,
		TotalTokens:      sess.estimatedPrompt() + out,
		Estimated:        true,
	}
	return ir.MergeUsage(est, resp.Usage)
}

type claudeMessage struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []any          `json:"content"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        ir.ClaudeUsage `json:"usage"`
}

// ToClaudeResponse renders a completed upstream response as a Claude message.
// usage overrides the usage derived from resp; batches pass their sum.
func ToClaudeResponse(resp *to_ir.OpenAIResponse, usage *ir.Usage, sess *Session) ([]byte, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil upstream response")
	}
	corr := sess.correlator()
	if usage == nil {
		usage = ResponseUsage(resp, sess)
	}

	content := make([]any, 0, 1+len(resp.Message.ToolCalls))
	if text := ir.CombineTextParts(resp.Message, ""); text != "" {
		content = append(content, map[string]any{"type": ir.ClaudeBlockText, "text": text})
	}
	tools := 0
	for _, tc := range resp.Message.ToolCalls {
		if tc.Name == "" {
			log.TranslationWarnf("tool_without_name", "dropping upstream tool call %q without a name", tc.ID)
			continue
		}
		content = append(content, map[string]any{
			"type":  ir.ClaudeBlockToolUse,
			"id":    corr.Adopt(tc.ID),
			"name":  tc.Name,
			"input": ir.ToolInputObject(tc.Args),
		})
		tools++
	}

	stop, seq := MapStopReason(resp.FinishReason, resp.NativeFinishReason, resp.StopSequence, sess.StopSequences, tools > 0)
	if stop == ir.ClaudeStopToolUse && tools == 0 {
		stop = ir.ClaudeStopEndTurn
	}
	msg := claudeMessage{
		ID:         sess.MessageID,
		Type:       "message",
		Role:       string(ir.RoleAssistant),
		Model:      sess.Model,
		Content:    content,
		StopReason: stop,
		Usage:      ir.ToClaudeUsage(usage),
	}
	if msg.ID == "" {
		msg.ID = ir.GenMessageID()
	}
	if seq != "" {
		msg.StopSequence = &seq
	}
	return json.Marshal(&msg)
}
