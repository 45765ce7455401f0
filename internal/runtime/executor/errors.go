package executor

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	log "github.com/nghyane/claude-relay/internal/logging"
	"github.com/nghyane/claude-relay/internal/translator/to_ir"
	"github.com/nghyane/claude-relay/internal/util"
)

// maxErrorBody bounds how much of an upstream error body is kept.
const maxErrorBody = 64 << 10

// UpstreamError is a non-2xx response from a provider.
type UpstreamError struct {
	URL        string
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s returned %d: %s", e.URL, e.StatusCode, e.Message())
}

// HTTPStatus implements resilience.StatusError.
func (e *UpstreamError) HTTPStatus() int { return e.StatusCode }

// Message extracts the provider's error message, falling back to the raw
// body or the status text.
func (e *UpstreamError) Message() string {
	if gjson.ValidBytes(e.Body) {
		if msg, ok := to_ir.UpstreamErrorMessage(gjson.ParseBytes(e.Body)); ok {
			return msg
		}
	}
	if body := strings.TrimSpace(string(e.Body)); body != "" {
		if len(body) > 512 {
			body = body[:512] + "..."
		}
		return body
	}
	return http.StatusText(e.StatusCode)
}

// HandleHTTPError reads an error response into an UpstreamError.
// The caller must still close resp.Body.
func HandleHTTPError(resp *http.Response, provider string) *UpstreamError {
	ue := &UpstreamError{StatusCode: resp.StatusCode}
	if resp.Request != nil && resp.Request.URL != nil {
		ue.URL = resp.Request.URL.Redacted()
	}
	var body io.Reader = resp.Body
	if decoded, err := util.DecodeBody(resp.Header.Get("Content-Encoding"), resp.Body); err == nil {
		defer decoded.Close()
		body = decoded
	}
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		log.Debugf("%s: reading error body: %v", provider, err)
	}
	ue.Body = data
	log.Debugf("%s: error status %d: %s", provider, resp.StatusCode, ue.Message())
	return ue
}

// BatchError reports which call of a serialized batch failed. The batch
// produces no partial result.
type BatchError struct {
	Call  int
	Total int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batched call %d/%d failed: %v", e.Call, e.Total, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }
