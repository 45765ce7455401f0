package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker"

	log "github.com/nghyane/claude-relay/internal/logging"
	"github.com/nghyane/claude-relay/internal/registry"
	"github.com/nghyane/claude-relay/internal/runtime/executor"
	"github.com/nghyane/claude-relay/internal/translator/ir"
	"github.com/nghyane/claude-relay/internal/translator/to_ir"
)

// ErrorResponse is the Claude error envelope.
type ErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func respondError(c *gin.Context, status int, errType, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Type:  "error",
		Error: ErrorDetail{Type: errType, Message: message},
	})
}

// classify maps an error from parsing, routing or the upstream onto an HTTP
// status and Claude error type.
func classify(err error) (status int, errType, message string) {
	var reqErr *to_ir.RequestError
	if errors.As(err, &reqErr) {
		return http.StatusBadRequest, ir.ClaudeErrInvalidRequest, reqErr.Error()
	}
	var ue *executor.UpstreamError
	if errors.As(err, &ue) {
		msg := ue.Message()
		var be *executor.BatchError
		if errors.As(err, &be) {
			msg = be.Error()
		}
		return ue.StatusCode, ir.ClaudeErrorType(ue.StatusCode), msg
	}
	switch {
	case errors.Is(err, registry.ErrNoProviders):
		return http.StatusServiceUnavailable, ir.ClaudeErrAPI, err.Error()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return http.StatusServiceUnavailable, ir.ClaudeErrOverloaded, "upstream temporarily unavailable: " + err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ir.ClaudeErrAPI, "upstream timed out"
	}
	return http.StatusBadGateway, ir.ClaudeErrAPI, err.Error()
}

func respondErr(c *gin.Context, err error) {
	status, errType, message := classify(err)
	if status >= http.StatusInternalServerError {
		log.WithField("request_id", c.GetString(log.RequestIDKey)).WithError(err).Warn("request failed")
	}
	_ = c.Error(err)
	respondError(c, status, errType, message)
}
