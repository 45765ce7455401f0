package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	log "github.com/nghyane/claude-relay/internal/logging"
	"github.com/nghyane/claude-relay/internal/registry"
	"github.com/nghyane/claude-relay/internal/runtime/executor"
	"github.com/nghyane/claude-relay/internal/sseutil"
	"github.com/nghyane/claude-relay/internal/translator/from_ir"
	"github.com/nghyane/claude-relay/internal/translator/ir"
	"github.com/nghyane/claude-relay/internal/translator/to_ir"
)

func (s *Server) handleMessages(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	req, err := to_ir.ParseClaudeRequest(body)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.Set("model", req.Model)

	route, err := s.registry.Resolve(req.Model)
	if err != nil {
		respondErr(c, err)
		return
	}
	turn := &executor.Turn{
		RequestID: c.GetString(log.RequestIDKey),
		Route:     route,
		Request:   req,
		Session: &from_ir.Session{
			Model:         req.Model,
			MessageID:     ir.GenMessageID(),
			Correlator:    ir.NewToolIDCorrelator(),
			StopSequences: req.StopSequences,
		},
	}

	if req.Stream {
		s.streamMessages(c, turn)
		return
	}
	out, err := s.batcher.Complete(c.Request.Context(), turn)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", out)
}

// streamMessages answers with SSE. Errors before the first upstream byte get
// a normal JSON error response; later ones arrive inside the stream.
func (s *Server) streamMessages(c *gin.Context, turn *executor.Turn) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events, err := s.batcher.Stream(ctx, turn)
	if err != nil {
		respondErr(c, err)
		return
	}
	if s.metrics != nil {
		defer s.metrics.StreamStarted()()
	}

	sseutil.SetHeaders(c.Writer.Header())
	c.Status(http.StatusOK)
	w := sseutil.NewWriter(c.Writer)

	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-events:
			if !ok {
				return
			}
			frames := make([][]byte, len(batch))
			for i, ev := range batch {
				frames[i] = ev.SSE()
			}
			if err := w.Write(frames...); err != nil {
				log.WithField("request_id", turn.RequestID).Debugf("client write failed: %v", err)
				return
			}
			ping.Reset(s.pingInterval)
		case <-ping.C:
			if err := w.Write(ir.BuildClaudePingSSE()); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleCountTokens(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	req, err := to_ir.ParseCountTokensRequest(body)
	if err != nil {
		respondErr(c, err)
		return
	}
	upstream := ""
	if route, err := s.registry.Resolve(req.Model); err == nil {
		upstream = route.Model
	}
	c.JSON(http.StatusOK, gin.H{"input_tokens": s.counter.CountRequest(req, upstream)})
}

type modelList struct {
	Data    []registry.ModelInfo `json:"data"`
	HasMore bool                 `json:"has_more"`
	FirstID string               `json:"first_id,omitempty"`
	LastID  string               `json:"last_id,omitempty"`
}

func (s *Server) handleModels(c *gin.Context) {
	models := s.registry.Models()
	resp := modelList{Data: models}
	if len(models) > 0 {
		resp.FirstID = models[0].ID
		resp.LastID = models[len(models)-1].ID
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleModel(c *gin.Context) {
	id := c.Param("model")
	for _, m := range s.registry.Models() {
		if m.ID == id {
			c.JSON(http.StatusOK, m)
			return
		}
	}
	respondError(c, http.StatusNotFound, ir.ClaudeErrNotFound, "model "+strconv.Quote(id)+" not found")
}

func (s *Server) handleHealth(c *gin.Context) {
	log.SkipGinRequestLogging(c)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleUsage reports live counters and, with a backend, aggregates over the
// last ?days= days (default 7).
func (s *Server) handleUsage(c *gin.Context) {
	if s.usage == nil {
		respondError(c, http.StatusNotFound, ir.ClaudeErrNotFound, "usage tracking is disabled")
		return
	}
	days := 7
	if v := c.Query("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(c, http.StatusBadRequest, ir.ClaudeErrInvalidRequest, "days must be a positive integer")
			return
		}
		days = n
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	snap, err := s.usage.Snapshot(ctx, since)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			respondError(c, http.StatusGatewayTimeout, ir.ClaudeErrAPI, "usage query timed out")
			return
		}
		respondError(c, http.StatusInternalServerError, ir.ClaudeErrAPI, "usage query failed: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, snap)
}
