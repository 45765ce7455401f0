package ir

import (
	"unicode/utf8"

	"github.com/nghyane/claude-relay/internal/json"
)

// ImageTokenEstimate is the flat cost charged per image when estimating.
const ImageTokenEstimate = 1600

// EstimateTokens approximates the token count of text as ceil(chars/4).
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// EstimateRequestUsage approximates prompt tokens for a request: system and
// message text, tool call names plus arguments, tool result bodies and a flat
// cost per image. Tool definitions are counted by their serialized schema.
func EstimateRequestUsage(req *UnifiedChatRequest) *Usage {
	if req == nil {
		return &Usage{Estimated: true}
	}
	total := 0
	for i := range req.Messages {
		total += estimateMessage(&req.Messages[i])
	}
	for _, t := range req.Tools {
		total += EstimateTokens(t.Name) + EstimateTokens(t.Description)
		if t.Parameters != nil {
			if b, err := json.Marshal(t.Parameters); err == nil {
				total += EstimateTokens(string(b))
			}
		}
	}
	return &Usage{PromptTokens: total, TotalTokens: total, Estimated: true}
}

func estimateMessage(m *Message) int {
	total := 0
	for _, p := range m.Content {
		switch p.Type {
		case ContentTypeText:
			total += EstimateTokens(p.Text)
		case ContentTypeImage:
			total += ImageTokenEstimate
		case ContentTypeToolResult:
			if p.ToolResult != nil {
				total += EstimateTokens(p.ToolResult.Result)
				total += ImageTokenEstimate * len(p.ToolResult.Images)
			}
		}
	}
	for _, tc := range m.ToolCalls {
		total += EstimateTokens(tc.Name) + EstimateTokens(tc.Args)
	}
	return total
}

// MergeUsage folds next into current. Authoritative counts replace estimates
// outright and are never added to them; between two authoritative values the
// per-field maximum wins so reported usage never shrinks. An estimate never
// replaces an authoritative value.
func MergeUsage(current, next *Usage) *Usage {
	switch {
	case next == nil:
		return current
	case current == nil:
		u := *next
		return &u
	case current.Estimated && !next.Estimated:
		u := *next
		return &u
	case !current.Estimated && next.Estimated:
		return current
	}
	u := Usage{
		PromptTokens:     max(current.PromptTokens, next.PromptTokens),
		CompletionTokens: max(current.CompletionTokens, next.CompletionTokens),
		Estimated:        current.Estimated,
	}
	u.TotalTokens = max(u.PromptTokens+u.CompletionTokens, current.TotalTokens, next.TotalTokens)
	return &u
}

// SumUsage adds usage across serialized calls of one logical turn. The result
// is estimated if any part was.
func SumUsage(parts ...*Usage) *Usage {
	var out Usage
	for _, p := range parts {
		if p == nil {
			continue
		}
		out.PromptTokens += p.PromptTokens
		out.CompletionTokens += p.CompletionTokens
		out.TotalTokens += p.TotalTokens
		out.Estimated = out.Estimated || p.Estimated
	}
	return &out
}
