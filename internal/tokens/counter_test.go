package tokens

import (
	"testing"

	"github.com/tiktoken-go/tokenizer"

	"github.com/nghyane/claude-relay/internal/translator/ir"
)

func TestEncodingFor(t *testing.T) {
	tests := []struct {
		model string
		want  tokenizer.Encoding
	}{
		{"gpt-4o-mini", tokenizer.O200kBase},
		{"openai/gpt-4.1", tokenizer.O200kBase},
		{"gpt-4-turbo", tokenizer.Cl100kBase},
		{"GPT-3.5-turbo", tokenizer.Cl100kBase},
		{"deepseek-chat", tokenizer.O200kBase},
		{"", tokenizer.O200kBase},
	}
	for _, tt := range tests {
		if got := encodingFor(tt.model); got != tt.want {
			t.Errorf("encodingFor(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}
}

func TestCountRequest(t *testing.T) {
	req := &ir.UnifiedChatRequest{
		Messages: []ir.Message{
			{Role: ir.RoleSystem, Content: []ir.ContentPart{{Type: ir.ContentTypeText, Text: "You are terse."}}},
			{Role: ir.RoleUser, Content: []ir.ContentPart{{Type: ir.ContentTypeText, Text: "Hello, world"}}},
		},
	}
	c := &Counter{}
	n := c.CountRequest(req, "gpt-4o")
	if n <= replyPriming+2*messageOverhead {
		t.Errorf("CountRequest = %d, want more than the framing overhead", n)
	}
	if again := c.CountRequest(req, "gpt-4o"); again != n {
		t.Errorf("CountRequest not deterministic: %d then %d", n, again)
	}
}

func TestCountRequestChargesImagesAndTools(t *testing.T) {
	base := &ir.UnifiedChatRequest{Messages: []ir.Message{
		{Role: ir.RoleUser, Content: []ir.ContentPart{{Type: ir.ContentTypeText, Text: "describe"}}},
	}}
	withImage := base.Clone()
	withImage.Messages[0].Content = append([]ir.ContentPart{}, base.Messages[0].Content...)
	withImage.Messages[0].Content = append(withImage.Messages[0].Content, ir.ContentPart{
		Type: ir.ContentTypeImage, Image: &ir.ImagePart{MimeType: "image/png", Data: "AAAA"},
	})
	withTool := base.Clone()
	withTool.Tools = []ir.ToolDefinition{{
		Name:        "get_weather",
		Description: "Look up the weather",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{"city": map[string]any{"type": "string"}}},
	}}

	c := Default()
	plain := c.CountRequest(base, "")
	if got := c.CountRequest(withImage, ""); got != plain+ir.ImageTokenEstimate {
		t.Errorf("image request = %d, want %d", got, plain+ir.ImageTokenEstimate)
	}
	if got := c.CountRequest(withTool, ""); got <= plain {
		t.Errorf("tool request = %d, want more than %d", got, plain)
	}
}
