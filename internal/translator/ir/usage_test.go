package ir

import "testing"

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"héllo wörld", 3},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.in); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEstimateRequestUsage(t *testing.T) {
	req := &UnifiedChatRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: []ContentPart{{Type: ContentTypeText, Text: "12345678"}}},
			{Role: RoleUser, Content: []ContentPart{
				{Type: ContentTypeText, Text: "abcd"},
				{Type: ContentTypeImage, Image: &ImagePart{MimeType: "image/png", Data: "AAAA"}},
			}},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "t1", Name: "read", Args: `{"p":1}`}}},
			{Role: RoleTool, Content: []ContentPart{{Type: ContentTypeToolResult, ToolResult: &ToolResultPart{ToolCallID: "t1", Result: "ok"}}}},
		},
	}
	got := EstimateRequestUsage(req)
	// system 2 + text 1 + image + name 1 + args 2 + result 1
	want := 2 + 1 + ImageTokenEstimate + 1 + 2 + 1
	if got.PromptTokens != want {
		t.Errorf("EstimateRequestUsage().PromptTokens = %d, want %d", got.PromptTokens, want)
	}
	if !got.Estimated {
		t.Error("EstimateRequestUsage() should be marked estimated")
	}
}

func TestMergeUsageAuthoritativeOverridesEstimate(t *testing.T) {
	est := &Usage{PromptTokens: 500, CompletionTokens: 40, TotalTokens: 540, Estimated: true}
	real := &Usage{PromptTokens: 120, CompletionTokens: 30, TotalTokens: 150}

	got := MergeUsage(est, real)
	if got.PromptTokens != 120 || got.CompletionTokens != 30 || got.Estimated {
		t.Errorf("MergeUsage(estimate, authoritative) = %+v, want authoritative values", got)
	}

	got = MergeUsage(got, est)
	if got.PromptTokens != 120 || got.Estimated {
		t.Errorf("estimate replaced authoritative usage: %+v", got)
	}
}

func TestMergeUsageMonotonic(t *testing.T) {
	a := &Usage{PromptTokens: 100, CompletionTokens: 10, TotalTokens: 110}
	b := &Usage{PromptTokens: 100, CompletionTokens: 5, TotalTokens: 105}

	got := MergeUsage(a, b)
	if got.CompletionTokens != 10 || got.TotalTokens != 110 {
		t.Errorf("MergeUsage shrank usage: %+v", got)
	}
}

func TestSumUsage(t *testing.T) {
	got := SumUsage(
		&Usage{PromptTokens: 10, CompletionTokens: 1, TotalTokens: 11},
		nil,
		&Usage{PromptTokens: 20, CompletionTokens: 2, TotalTokens: 22, Estimated: true},
	)
	if got.PromptTokens != 30 || got.CompletionTokens != 3 || got.TotalTokens != 33 {
		t.Errorf("SumUsage() = %+v", got)
	}
	if !got.Estimated {
		t.Error("SumUsage() should carry the estimated flag")
	}
}
