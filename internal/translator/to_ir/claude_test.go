package to_ir

import (
	"errors"
	"testing"

	"github.com/nghyane/claude-relay/internal/translator/ir"
)

func TestParseClaudeRequestBasic(t *testing.T) {
	body := `{
		"model": "claude-sonnet-4-20250514",
		"max_tokens": 1024,
		"system": [{"type":"text","text":"be brief"},{"type":"text","text":"be kind","cache_control":{"type":"ephemeral"}}],
		"temperature": 0.2,
		"stop_sequences": ["END"],
		"stream": true,
		"metadata": {"user_id": "u-1"},
		"messages": [{"role":"user","content":"hello"}]
	}`
	req, err := ParseClaudeRequest([]byte(body))
	if err != nil {
		t.Fatalf("ParseClaudeRequest: %v", err)
	}
	if req.Model != "claude-sonnet-4-20250514" || !req.Stream || req.User != "u-1" {
		t.Errorf("request = %+v", req)
	}
	if req.MaxTokens == nil || *req.MaxTokens != 1024 {
		t.Errorf("MaxTokens = %v", req.MaxTokens)
	}
	if req.Temperature == nil || *req.Temperature != 0.2 {
		t.Errorf("Temperature = %v", req.Temperature)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != ir.RoleSystem {
		t.Fatalf("messages = %+v", req.Messages)
	}
	if got := ir.CombineTextParts(req.Messages[0], "\n"); got != "be brief\nbe kind" {
		t.Errorf("system = %q", got)
	}
}

func TestParseClaudeRequestToolTurns(t *testing.T) {
	body := `{
		"model": "m", "max_tokens": 10,
		"messages": [
			{"role":"user","content":"list files"},
			{"role":"assistant","content":[
				{"type":"text","text":"Checking."},
				{"type":"tool_use","id":"toolu_1","name":"ls","input":{"path":"/"}},
				{"type":"tool_use","id":"toolu_2","name":"ls","input":{"path":"/tmp"}}
			]},
			{"role":"user","content":[
				{"type":"tool_result","tool_use_id":"toolu_1","content":"a\nb"},
				{"type":"tool_result","tool_use_id":"toolu_2","is_error":true,"content":[{"type":"text","text":"denied"}]},
				{"type":"text","text":"thanks"}
			]}
		]
	}`
	req, err := ParseClaudeRequest([]byte(body))
	if err != nil {
		t.Fatalf("ParseClaudeRequest: %v", err)
	}
	roles := make([]ir.Role, len(req.Messages))
	for i, m := range req.Messages {
		roles[i] = m.Role
	}
	want := []ir.Role{ir.RoleUser, ir.RoleAssistant, ir.RoleTool, ir.RoleTool, ir.RoleUser}
	if len(roles) != len(want) {
		t.Fatalf("roles = %v, want %v", roles, want)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("roles = %v, want %v", roles, want)
		}
	}

	asst := req.Messages[1]
	if len(asst.ToolCalls) != 2 || asst.ToolCalls[0].Args != `{"path":"/"}` {
		t.Errorf("tool calls = %+v", asst.ToolCalls)
	}
	second := req.Messages[3].Content[0].ToolResult
	if second.ToolCallID != "toolu_2" || !second.IsError || second.Result != "denied" {
		t.Errorf("tool result = %+v", second)
	}
}

func TestParseClaudeRequestImagesAndUnknownBlocks(t *testing.T) {
	body := `{"model":"m","max_tokens":5,"messages":[{"role":"user","content":[
		{"type":"image","source":{"type":"base64","media_type":"image/jpeg","data":"QUJD"}},
		{"type":"document","source":{"type":"text","data":"doc"}},
		{"type":"text","text":"what is this"}
	]}]}`
	req, err := ParseClaudeRequest([]byte(body))
	if err != nil {
		t.Fatalf("ParseClaudeRequest: %v", err)
	}
	parts := req.Messages[0].Content
	if len(parts) != 3 {
		t.Fatalf("parts = %+v", parts)
	}
	if parts[0].Type != ir.ContentTypeImage || parts[0].Image.DataURI() != "data:image/jpeg;base64,QUJD" {
		t.Errorf("image part = %+v", parts[0])
	}
	if parts[1].Type != ir.ContentTypeUnknown || parts[1].Raw == "" {
		t.Errorf("unknown part = %+v", parts[1])
	}
}

func TestParseClaudeRequestTools(t *testing.T) {
	body := `{"model":"m","max_tokens":5,"messages":[{"role":"user","content":"x"}],
		"tools":[
			{"name":"get_weather","description":"w","input_schema":{"type":"object","properties":{"city":{"type":"string"}}}},
			{"type":"bash_20250124","name":"bash"},
			{"type":"mystery_20990101","name":"mystery"}
		],
		"tool_choice":{"type":"any","disable_parallel_tool_use":true}}`
	req, err := ParseClaudeRequest([]byte(body))
	if err != nil {
		t.Fatalf("ParseClaudeRequest: %v", err)
	}
	if len(req.Tools) != 3 {
		t.Fatalf("tools = %+v", req.Tools)
	}
	if req.Tools[0].Kind != ir.BuiltinCustom || req.Tools[0].Parameters["type"] != "object" {
		t.Errorf("custom tool = %+v", req.Tools[0])
	}
	if req.Tools[1].Kind != ir.BuiltinBash || req.Tools[2].Kind != ir.BuiltinUnknown {
		t.Errorf("built-in kinds = %v, %v", req.Tools[1].Kind, req.Tools[2].Kind)
	}
	if req.ToolChoice == nil || req.ToolChoice.Mode != ir.ToolChoiceAny || !req.ToolChoice.DisableParallel {
		t.Errorf("tool choice = %+v", req.ToolChoice)
	}
}

func TestParseClaudeRequestErrors(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"invalid json", `{"model":`, ""},
		{"missing model", `{"max_tokens":1,"messages":[{"role":"user","content":"x"}]}`, "model"},
		{"missing max_tokens", `{"model":"m","messages":[{"role":"user","content":"x"}]}`, "max_tokens"},
		{"zero max_tokens", `{"model":"m","max_tokens":0,"messages":[{"role":"user","content":"x"}]}`, "max_tokens"},
		{"empty messages", `{"model":"m","max_tokens":1,"messages":[]}`, "messages"},
		{"bad role", `{"model":"m","max_tokens":1,"messages":[{"role":"system","content":"x"}]}`, "messages.0.role"},
		{"tool_use in user turn", `{"model":"m","max_tokens":1,"messages":[{"role":"user","content":[{"type":"tool_use","id":"a","name":"b","input":{}}]}]}`, "messages.0.content.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseClaudeRequest([]byte(tt.body))
			var reqErr *RequestError
			if !errors.As(err, &reqErr) {
				t.Fatalf("ParseClaudeRequest() error = %v, want *RequestError", err)
			}
			if reqErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", reqErr.Field, tt.field)
			}
		})
	}
}
