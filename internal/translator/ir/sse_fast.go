// Package ir holds the provider-neutral request/event model and the Claude SSE
// builders used on the streaming hot path.
package ir

import (
	"sync"

	"github.com/nghyane/claude-relay/internal/json"
)

// BuildSSEEvent frames one named server-sent event.
func BuildSSEEvent(eventType string, jsonData []byte) []byte {
	buf := make([]byte, 0, len("event: \ndata: \n\n")+len(eventType)+len(jsonData))
	buf = append(buf, "event: "...)
	buf = append(buf, eventType...)
	buf = append(buf, "\ndata: "...)
	buf = append(buf, jsonData...)
	return append(buf, "\n\n"...)
}

// -----------------------------------------------------------------------------
// Claude message envelope events
// -----------------------------------------------------------------------------

type ClaudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToClaudeUsage converts IR usage into the Claude wire shape.
func ToClaudeUsage(u *Usage) ClaudeUsage {
	if u == nil {
		return ClaudeUsage{}
	}
	return ClaudeUsage{InputTokens: u.PromptTokens, OutputTokens: u.CompletionTokens}
}

type ClaudeMessageStart struct {
	Type    string             `json:"type"`
	Message ClaudeStartMessage `json:"message"`
}

type ClaudeStartMessage struct {
	ID           string      `json:"id"`
	Type         string      `json:"type"`
	Role         string      `json:"role"`
	Content      []any       `json:"content"`
	Model        string      `json:"model"`
	StopReason   *string     `json:"stop_reason"`
	StopSequence *string     `json:"stop_sequence"`
	Usage        ClaudeUsage `json:"usage"`
}

func BuildClaudeMessageStartSSE(messageID, model string, inputTokens int) []byte {
	d := ClaudeMessageStart{
		Type: ClaudeSSEMessageStart,
		Message: ClaudeStartMessage{
			ID:      messageID,
			Type:    "message",
			Role:    string(RoleAssistant),
			Content: []any{},
			Model:   model,
			Usage:   ClaudeUsage{InputTokens: inputTokens},
		},
	}
	jb, _ := json.Marshal(&d)
	return BuildSSEEvent(ClaudeSSEMessageStart, jb)
}

type ClaudeMessageDelta struct {
	Type  string                  `json:"type"`
	Delta ClaudeMessageDeltaInner `json:"delta"`
	Usage ClaudeUsage             `json:"usage"`
}

type ClaudeMessageDeltaInner struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

func BuildClaudeMessageDeltaSSE(stopReason, stopSequence string, usage *Usage) []byte {
	d := ClaudeMessageDelta{
		Type:  ClaudeSSEMessageDelta,
		Delta: ClaudeMessageDeltaInner{StopReason: stopReason},
		Usage: ToClaudeUsage(usage),
	}
	if stopSequence != "" {
		d.Delta.StopSequence = &stopSequence
	}
	jb, _ := json.Marshal(&d)
	return BuildSSEEvent(ClaudeSSEMessageDelta, jb)
}

var claudeMessageStopSSE = BuildSSEEvent(ClaudeSSEMessageStop, []byte(`{"type":"message_stop"}`))

func BuildClaudeMessageStopSSE() []byte {
	out := make([]byte, len(claudeMessageStopSSE))
	copy(out, claudeMessageStopSSE)
	return out
}

var claudePingSSE = BuildSSEEvent(ClaudeSSEPing, []byte(`{"type":"ping"}`))

func BuildClaudePingSSE() []byte {
	out := make([]byte, len(claudePingSSE))
	copy(out, claudePingSSE)
	return out
}

type ClaudeErrorEvent struct {
	Type  string           `json:"type"`
	Error ClaudeErrorInner `json:"error"`
}

type ClaudeErrorInner struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func BuildClaudeErrorSSE(errType, message string) []byte {
	jb, _ := json.Marshal(&ClaudeErrorEvent{
		Type:  ClaudeSSEError,
		Error: ClaudeErrorInner{Type: errType, Message: message},
	})
	return BuildSSEEvent(ClaudeSSEError, jb)
}

// -----------------------------------------------------------------------------
// Text blocks
// -----------------------------------------------------------------------------

type ClaudeTextBlockStart struct {
	Type         string                 `json:"type"`
	Index        int                    `json:"index"`
	ContentBlock ClaudeTextContentBlock `json:"content_block"`
}

type ClaudeTextContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func BuildClaudeTextBlockStartSSE(index int) []byte {
	jb, _ := json.Marshal(&ClaudeTextBlockStart{
		Type:         ClaudeSSEContentBlockStart,
		Index:        index,
		ContentBlock: ClaudeTextContentBlock{Type: ClaudeBlockText},
	})
	return BuildSSEEvent(ClaudeSSEContentBlockStart, jb)
}

type ClaudeTextDelta struct {
	Type  string               `json:"type"`
	Index int                  `json:"index"`
	Delta ClaudeTextDeltaInner `json:"delta"`
}

type ClaudeTextDeltaInner struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

var claudeTextDeltaPool = sync.Pool{
	New: func() any {
		return &ClaudeTextDelta{
			Type:  ClaudeSSEContentBlockDelta,
			Delta: ClaudeTextDeltaInner{Type: ClaudeDeltaText},
		}
	},
}

// BuildClaudeTextDeltaSSE builds a text_delta event.
func BuildClaudeTextDeltaSSE(index int, text string) []byte {
	d := claudeTextDeltaPool.Get().(*ClaudeTextDelta)
	defer func() {
		d.Index = 0
		d.Delta.Text = ""
		claudeTextDeltaPool.Put(d)
	}()

	d.Index = index
	d.Delta.Text = text

	jb, _ := json.Marshal(d)
	return BuildSSEEvent(ClaudeSSEContentBlockDelta, jb)
}

// ClaudeContentBlockStop represents a content block stop event.
type ClaudeContentBlockStop struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

var claudeContentBlockStopPool = sync.Pool{
	New: func() any {
		return &ClaudeContentBlockStop{Type: ClaudeSSEContentBlockStop}
	},
}

func BuildClaudeContentBlockStopSSE(index int) []byte {
	d := claudeContentBlockStopPool.Get().(*ClaudeContentBlockStop)
	defer func() {
		d.Index = 0
		claudeContentBlockStopPool.Put(d)
	}()

	d.Index = index

	jb, _ := json.Marshal(d)
	return BuildSSEEvent(ClaudeSSEContentBlockStop, jb)
}

// -----------------------------------------------------------------------------
// Tool use blocks
// -----------------------------------------------------------------------------

type ClaudeToolCallBlockStart struct {
	Type         string                     `json:"type"`
	Index        int                        `json:"index"`
	ContentBlock ClaudeToolCallContentBlock `json:"content_block"`
}

type ClaudeToolCallContentBlock struct {
	Type  string         `json:"type"`
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

type ClaudeToolCallInputDelta struct {
	Type  string                        `json:"type"`
	Index int                           `json:"index"`
	Delta ClaudeToolCallInputDeltaInner `json:"delta"`
}

type ClaudeToolCallInputDeltaInner struct {
	Type        string `json:"type"`
	PartialJSON string `json:"partial_json"`
}

var emptyInputMap = map[string]any{}

var claudeToolCallBlockStartPool = sync.Pool{
	New: func() any {
		return &ClaudeToolCallBlockStart{
			Type: ClaudeSSEContentBlockStart,
			ContentBlock: ClaudeToolCallContentBlock{
				Type:  ClaudeBlockToolUse,
				Input: emptyInputMap,
			},
		}
	},
}

var claudeToolCallInputDeltaPool = sync.Pool{
	New: func() any {
		return &ClaudeToolCallInputDelta{
			Type:  ClaudeSSEContentBlockDelta,
			Delta: ClaudeToolCallInputDeltaInner{Type: ClaudeDeltaInputJSON},
		}
	},
}

func BuildClaudeToolCallBlockStartSSE(index int, toolID, name string) []byte {
	d := claudeToolCallBlockStartPool.Get().(*ClaudeToolCallBlockStart)
	defer func() {
		d.Index = 0
		d.ContentBlock.ID = ""
		d.ContentBlock.Name = ""
		claudeToolCallBlockStartPool.Put(d)
	}()

	d.Index = index
	d.ContentBlock.ID = toolID
	d.ContentBlock.Name = name

	jb, _ := json.Marshal(d)
	return BuildSSEEvent(ClaudeSSEContentBlockStart, jb)
}

func BuildClaudeToolCallInputDeltaSSE(index int, partialJSON string) []byte {
	d := claudeToolCallInputDeltaPool.Get().(*ClaudeToolCallInputDelta)
	defer func() {
		d.Index = 0
		d.Delta.PartialJSON = ""
		claudeToolCallInputDeltaPool.Put(d)
	}()

	d.Index = index
	d.Delta.PartialJSON = partialJSON

	jb, _ := json.Marshal(d)
	return BuildSSEEvent(ClaudeSSEContentBlockDelta, jb)
}
