package from_ir

import (
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/nghyane/claude-relay/internal/translator/ir"
	"github.com/nghyane/claude-relay/internal/translator/to_ir"
)

func TestMapStopReason(t *testing.T) {
	tests := []struct {
		reason  ir.FinishReason
		stopSeq string
		tools   bool
		want    string
		wantSeq string
	}{
		{ir.FinishReasonStop, "", false, ir.ClaudeStopEndTurn, ""},
		{ir.FinishReasonStop, "", true, ir.ClaudeStopToolUse, ""},
		{ir.FinishReasonLength, "", false, ir.ClaudeStopMaxTokens, ""},
		{ir.FinishReasonToolCalls, "", true, ir.ClaudeStopToolUse, ""},
		{ir.FinishReasonContentFilter, "", false, ir.ClaudeStopEndTurn, ""},
		{ir.FinishReasonUnknown, "", false, ir.ClaudeStopEndTurn, ""},
		{ir.FinishReasonStop, "END", false, ir.ClaudeStopStopSequence, "END"},
		{ir.FinishReasonStop, "other", false, ir.ClaudeStopEndTurn, ""},
	}
	for _, tt := range tests {
		got, seq := MapStopReason(tt.reason, string(tt.reason), tt.stopSeq, []string{"END"}, tt.tools)
		if got != tt.want || seq != tt.wantSeq {
			t.Errorf("MapStopReason(%q, stop=%q, tools=%v) = (%q, %q), want (%q, %q)",
				tt.reason, tt.stopSeq, tt.tools, got, seq, tt.want, tt.wantSeq)
		}
	}
}

func TestToClaudeResponse(t *testing.T) {
	resp, err := to_ir.ParseOpenAIResponse([]byte(`{
		"id":"chatcmpl-9",
		"choices":[{"finish_reason":"tool_calls","message":{"role":"assistant","content":"Searching.",
			"tool_calls":[
				{"id":"call_s1","type":"function","function":{"name":"search","arguments":"{\"query\":\"a\"}{\"query\":\"b\"}"}},
				{"id":"","type":"function","function":{"name":"noop","arguments":"{\"invalid\": json}"}},
				{"id":"call_x","type":"function","function":{"name":"","arguments":"{}"}}
			]}}],
		"usage":{"prompt_tokens":100,"completion_tokens":20,"total_tokens":120}
	}`))
	if err != nil {
		t.Fatalf("ParseOpenAIResponse: %v", err)
	}
	sess := &Session{Model: "claude-opus-4", MessageID: "msg_fixed"}
	body, err := ToClaudeResponse(resp, nil, sess)
	if err != nil {
		t.Fatalf("ToClaudeResponse: %v", err)
	}
	out := gjson.ParseBytes(body)

	if out.Get("id").String() != "msg_fixed" || out.Get("model").String() != "claude-opus-4" || out.Get("type").String() != "message" {
		t.Errorf("envelope = %s", out.Raw)
	}
	if out.Get("stop_reason").String() != ir.ClaudeStopToolUse || out.Get("stop_sequence").Type != gjson.Null {
		t.Errorf("stop = %s / %s", out.Get("stop_reason").Raw, out.Get("stop_sequence").Raw)
	}
	if out.Get("usage.input_tokens").Int() != 100 || out.Get("usage.output_tokens").Int() != 20 {
		t.Errorf("usage = %s", out.Get("usage").Raw)
	}

	content := out.Get("content").Array()
	if len(content) != 3 {
		t.Fatalf("content = %s, want text + 2 tool_use (nameless dropped)", out.Get("content").Raw)
	}
	if content[0].Get("text").String() != "Searching." {
		t.Errorf("text block = %s", content[0].Raw)
	}
	first := content[1]
	if first.Get("id").String() != "call_s1" {
		t.Errorf("adopted id = %s", first.Get("id").Raw)
	}
	if first.Get("input.recovered_objects.#").Int() != 2 {
		t.Errorf("concatenated arguments input = %s", first.Get("input").Raw)
	}
	second := content[2]
	if !strings.HasPrefix(second.Get("id").String(), "toolu_") {
		t.Errorf("synthetic id = %s", second.Get("id").Raw)
	}
	if !second.Get("input.parse_error").Exists() || second.Get("input.raw_arguments").String() != `{"invalid": json}` {
		t.Errorf("sentinel input = %s", second.Get("input").Raw)
	}
	if sess.Correlator.Correlate("call_s1") != "call_s1" {
		t.Error("adopted id does not map back to the upstream id")
	}
}

func TestToClaudeResponseEstimatesAndStopSequence(t *testing.T) {
	resp, err := to_ir.ParseOpenAIResponse([]byte(`{"choices":[{"finish_reason":"stop","stop_reason":"</answer>","message":{"content":"12345678"}}]}`))
	if err != nil {
		t.Fatalf("ParseOpenAIResponse: %v", err)
	}
	sess := &Session{Model: "m", Estimate: &ir.Usage{PromptTokens: 33, Estimated: true}, StopSequences: []string{"</answer>"}}
	body, err := ToClaudeResponse(resp, nil, sess)
	if err != nil {
		t.Fatalf("ToClaudeResponse: %v", err)
	}
	out := gjson.ParseBytes(body)
	if out.Get("stop_reason").String() != ir.ClaudeStopStopSequence || out.Get("stop_sequence").String() != "</answer>" {
		t.Errorf("stop = %s / %s", out.Get("stop_reason").Raw, out.Get("stop_sequence").Raw)
	}
	if out.Get("usage.input_tokens").Int() != 33 || out.Get("usage.output_tokens").Int() != 2 {
		t.Errorf("estimated usage = %s", out.Get("usage").Raw)
	}
	if !strings.HasPrefix(out.Get("id").String(), "msg_") {
		t.Errorf("generated id = %s", out.Get("id").Raw)
	}
}

func TestToClaudeResponseUsageOverride(t *testing.T) {
	resp, err := to_ir.ParseOpenAIResponse([]byte(`{"choices":[{"finish_reason":"stop","message":{"content":""}}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`))
	if err != nil {
		t.Fatalf("ParseOpenAIResponse: %v", err)
	}
	body, err := ToClaudeResponse(resp, &ir.Usage{PromptTokens: 30, CompletionTokens: 9}, &Session{Model: "m"})
	if err != nil {
		t.Fatalf("ToClaudeResponse: %v", err)
	}
	out := gjson.ParseBytes(body)
	if out.Get("usage.input_tokens").Int() != 30 || out.Get("usage.output_tokens").Int() != 9 {
		t.Errorf("usage = %s", out.Get("usage").Raw)
	}
	if out.Get("content.#").Int() != 0 || out.Get("stop_reason").String() != ir.ClaudeStopEndTurn {
		t.Errorf("empty response = %s", out.Raw)
	}
}
