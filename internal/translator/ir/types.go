package ir

type EventType string

const (
	EventTypeMessageStart  EventType = "message_start"
	EventTypeToken         EventType = "token"
	EventTypeToolCallDelta EventType = "tool_call_delta"
	EventTypeUsage         EventType = "usage"
	EventTypeError         EventType = "error"
	EventTypeFinish        EventType = "finish"
)

type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonContentFilter FinishReason = "content_filter"
	FinishReasonError         FinishReason = "error"
	FinishReasonUnknown       FinishReason = "unknown"
)

// UnifiedEvent is one decoded fact from an upstream stream chunk. A single
// chunk can yield several events; they must be applied in order.
type UnifiedEvent struct {
	Type          EventType
	Content       string
	ToolCall      *ToolCall
	ToolCallIndex int
	Error         error
	Usage         *Usage
	FinishReason  FinishReason
	// NativeFinishReason keeps the upstream string for logging unknown values.
	NativeFinishReason string
	// StopSequence is the matched stop string when the backend reports one.
	StopSequence string
}

// Usage counts tokens for one exchange. Estimated marks values derived from
// character counts rather than reported by the upstream.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Estimated        bool
}

// ToolCall represents a request from the model to execute a tool.
type ToolCall struct {
	ID   string
	Name string
	// Args is the complete JSON argument text.
	Args string
	// PartialArgs carries one streamed argument fragment.
	PartialArgs string
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ContentType selects the populated variant of a ContentPart.
type ContentType string

const (
	ContentTypeText       ContentType = "text"
	ContentTypeImage      ContentType = "image"
	ContentTypeToolResult ContentType = "tool_result"
	ContentTypeUnknown    ContentType = "unknown"
)

// ContentPart is a closed union: exactly one of Text, Image, ToolResult or Raw
// is meaningful, chosen by Type.
type ContentPart struct {
	Type       ContentType
	Text       string
	Image      *ImagePart
	ToolResult *ToolResultPart
	// Raw keeps the original JSON of a block type this gateway does not know.
	Raw string
}

type ImagePart struct {
	MimeType string
	Data     string
	URL      string
}

// DataURI renders base64 image data as a data URI, or returns URL as-is.
func (p *ImagePart) DataURI() string {
	if p == nil {
		return ""
	}
	if p.Data == "" {
		return p.URL
	}
	mt := p.MimeType
	if mt == "" {
		mt = "image/png"
	}
	return "data:" + mt + ";base64," + p.Data
}

type ToolResultPart struct {
	ToolCallID string
	Result     string
	IsError    bool
	Images     []*ImagePart
}

type Message struct {
	Role      Role
	Content   []ContentPart
	ToolCalls []ToolCall
}

// ToolDefinition represents a tool capability exposed to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
	Kind        BuiltinKind
	// BuiltinType is the versioned Claude type string, e.g. "bash_20250124".
	BuiltinType string
}

type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceAny      ToolChoiceMode = "any"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceSpecific ToolChoiceMode = "tool"
)

type ToolChoice struct {
	Mode            ToolChoiceMode
	Name            string
	DisableParallel bool
}

// UnifiedChatRequest is the provider-neutral form of an inbound request.
type UnifiedChatRequest struct {
	Model         string
	Messages      []Message
	Tools         []ToolDefinition
	ToolChoice    *ToolChoice
	Temperature   *float64
	TopP          *float64
	TopK          *int
	MaxTokens     *int
	StopSequences []string
	Stream        bool
	// User is the caller-supplied end-user id (metadata.user_id).
	User string
}

// Clone returns a copy whose Messages slice can be rearranged without
// touching the original. Message contents are shared.
func (r *UnifiedChatRequest) Clone() *UnifiedChatRequest {
	if r == nil {
		return nil
	}
	out := *r
	out.Messages = make([]Message, len(r.Messages))
	copy(out.Messages, r.Messages)
	return &out
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
