package api

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nghyane/claude-relay/internal/translator/ir"
	"github.com/nghyane/claude-relay/internal/util"
)

// maxRequestBody caps inbound bodies after decompression.
const maxRequestBody = 32 << 20

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "*")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// authMiddleware accepts x-api-key or a Bearer token matching one of the
// configured keys. With no keys configured every request passes.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		keys := s.getConfig().APIKeys
		if len(keys) == 0 {
			c.Next()
			return
		}
		presented := strings.TrimSpace(c.GetHeader("x-api-key"))
		if presented == "" {
			if auth := c.GetHeader("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
				presented = strings.TrimSpace(auth[7:])
			}
		}
		if presented == "" {
			respondError(c, http.StatusUnauthorized, ir.ClaudeErrAuthentication, "missing API key")
			return
		}
		for _, k := range keys {
			if subtle.ConstantTimeCompare([]byte(k), []byte(presented)) == 1 {
				c.Next()
				return
			}
		}
		respondError(c, http.StatusUnauthorized, ir.ClaudeErrAuthentication, "invalid API key")
	}
}

// decompressMiddleware decodes gzip, deflate, br and zstd request bodies and
// bounds the decoded size.
func decompressMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		enc := strings.ToLower(strings.TrimSpace(c.GetHeader("Content-Encoding")))
		if enc == "" || enc == "identity" || c.Request.Body == nil {
			c.Next()
			return
		}
		body, err := util.DecodeBody(enc, c.Request.Body)
		if err != nil {
			respondError(c, http.StatusBadRequest, ir.ClaudeErrInvalidRequest, "cannot decode request body: "+err.Error())
			return
		}
		defer body.Close()

		decoded, err := io.ReadAll(io.LimitReader(body, maxRequestBody+1))
		if err != nil {
			respondError(c, http.StatusBadRequest, ir.ClaudeErrInvalidRequest, "failed to decompress request body")
			return
		}
		if len(decoded) > maxRequestBody {
			respondError(c, http.StatusRequestEntityTooLarge, ir.ClaudeErrInvalidRequest, "decompressed request body too large")
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(decoded))
		c.Request.ContentLength = int64(len(decoded))
		c.Request.Header.Del("Content-Encoding")
		c.Next()
	}
}

func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge, ir.ClaudeErrInvalidRequest, "request body too large")
			return nil, false
		}
		respondError(c, http.StatusBadRequest, ir.ClaudeErrInvalidRequest, "failed to read request body")
		return nil, false
	}
	return body, true
}
