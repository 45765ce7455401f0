// Package tokens counts prompt tokens for count_tokens requests.
package tokens

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
	"golang.org/x/sync/singleflight"

	"github.com/nghyane/claude-relay/internal/json"
	log "github.com/nghyane/claude-relay/internal/logging"
	"github.com/nghyane/claude-relay/internal/translator/ir"
)

// Per-message and per-reply framing overhead of the chat format.
const (
	messageOverhead = 3
	replyPriming    = 3
)

// Counter counts tokens with a BPE codec chosen by upstream model. Codecs
// are loaded once per encoding and shared.
type Counter struct {
	codecs sync.Map // tokenizer.Encoding -> tokenizer.Codec
	sf     singleflight.Group
}

var defaultCounter = &Counter{}

// Default returns the process-wide counter.
func Default() *Counter { return defaultCounter }

// encodingFor picks the encoding for an upstream model; o200k_base unless
// the model is known to predate it.
func encodingFor(model string) tokenizer.Encoding {
	m := strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndexByte(m, '/'); i >= 0 {
		m = m[i+1:]
	}
	switch {
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "gpt-4.1"):
		return tokenizer.O200kBase
	case strings.HasPrefix(m, "gpt-4"), strings.HasPrefix(m, "gpt-3.5"):
		return tokenizer.Cl100kBase
	}
	return tokenizer.O200kBase
}

func (c *Counter) codec(enc tokenizer.Encoding) (tokenizer.Codec, error) {
	if cached, ok := c.codecs.Load(enc); ok {
		return cached.(tokenizer.Codec), nil
	}
	v, err, _ := c.sf.Do(string(enc), func() (any, error) {
		codec, err := tokenizer.Get(enc)
		if err != nil {
			return nil, err
		}
		actual, _ := c.codecs.LoadOrStore(enc, codec)
		return actual, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(tokenizer.Codec), nil
}

// CountRequest returns the prompt token count of req as sent to
// upstreamModel. When no codec can be loaded it falls back to the
// character estimate.
func (c *Counter) CountRequest(req *ir.UnifiedChatRequest, upstreamModel string) int {
	codec, err := c.codec(encodingFor(upstreamModel))
	if err != nil {
		log.Warnf("tokenizer unavailable, using estimate: %v", err)
		return ir.EstimateRequestUsage(req).PromptTokens
	}
	count := func(text string) int {
		if text == "" {
			return 0
		}
		ids, _, err := codec.Encode(text)
		if err != nil {
			return ir.EstimateTokens(text)
		}
		return len(ids)
	}

	total := replyPriming
	for i := range req.Messages {
		m := &req.Messages[i]
		total += messageOverhead
		for _, p := range m.Content {
			switch p.Type {
			case ir.ContentTypeText:
				total += count(p.Text)
			case ir.ContentTypeImage:
				total += ir.ImageTokenEstimate
			case ir.ContentTypeToolResult:
				if p.ToolResult != nil {
					total += count(p.ToolResult.Result)
					total += ir.ImageTokenEstimate * len(p.ToolResult.Images)
				}
			}
		}
		for _, tc := range m.ToolCalls {
			total += count(tc.Name) + count(tc.Args)
		}
	}
	for _, t := range req.Tools {
		total += count(t.Name) + count(ir.BuiltinDescription(t))
		if b, err := json.Marshal(ir.ToolParameters(t)); err == nil {
			total += count(string(b))
		}
	}
	return total
}
