package ir

// Claude SSE event names.
const (
	ClaudeSSEMessageStart      = "message_start"
	ClaudeSSEMessageDelta      = "message_delta"
	ClaudeSSEMessageStop       = "message_stop"
	ClaudeSSEContentBlockStart = "content_block_start"
	ClaudeSSEContentBlockDelta = "content_block_delta"
	ClaudeSSEContentBlockStop  = "content_block_stop"
	ClaudeSSEPing              = "ping"
	ClaudeSSEError             = "error"
)

// Claude content block and delta types.
const (
	ClaudeBlockText       = "text"
	ClaudeBlockImage      = "image"
	ClaudeBlockToolUse    = "tool_use"
	ClaudeBlockToolResult = "tool_result"

	ClaudeDeltaText      = "text_delta"
	ClaudeDeltaInputJSON = "input_json_delta"
)

// Claude stop reasons.
const (
	ClaudeStopEndTurn      = "end_turn"
	ClaudeStopMaxTokens    = "max_tokens"
	ClaudeStopToolUse      = "tool_use"
	ClaudeStopStopSequence = "stop_sequence"
)

// Claude error types used in the {"type":"error"} envelope.
const (
	ClaudeErrInvalidRequest = "invalid_request_error"
	ClaudeErrAuthentication = "authentication_error"
	ClaudeErrPermission     = "permission_error"
	ClaudeErrNotFound       = "not_found_error"
	ClaudeErrRateLimit      = "rate_limit_error"
	ClaudeErrAPI            = "api_error"
	ClaudeErrOverloaded     = "overloaded_error"
)

// ClaudeErrorType maps an HTTP status onto the Claude error type.
func ClaudeErrorType(status int) string {
	switch {
	case status == 401:
		return ClaudeErrAuthentication
	case status == 403:
		return ClaudeErrPermission
	case status == 404:
		return ClaudeErrNotFound
	case status == 429:
		return ClaudeErrRateLimit
	case status == 503, status == 529:
		return ClaudeErrOverloaded
	case status >= 400 && status < 500:
		return ClaudeErrInvalidRequest
	}
	return ClaudeErrAPI
}
