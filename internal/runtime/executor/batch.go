package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tidwall/gjson"

	log "github.com/nghyane/claude-relay/internal/logging"
	"github.com/nghyane/claude-relay/internal/registry"
	"github.com/nghyane/claude-relay/internal/resilience"
	"github.com/nghyane/claude-relay/internal/streamutil"
	"github.com/nghyane/claude-relay/internal/translator/from_ir"
	"github.com/nghyane/claude-relay/internal/translator/ir"
	"github.com/nghyane/claude-relay/internal/translator/to_ir"
)

// Turn is one client request bound to its resolved route.
type Turn struct {
	RequestID string
	Route     *registry.Route
	Request   *ir.UnifiedChatRequest
	Session   *from_ir.Session
}

// Batcher runs a turn as one upstream call, or as several serialized calls
// when the route cannot take more than one tool result per request.
type Batcher struct {
	exec Upstream
	obs  Observer
}

func NewBatcher(exec Upstream, obs Observer) *Batcher {
	if obs == nil {
		obs = NopObserver{}
	}
	return &Batcher{exec: exec, obs: obs}
}

// Split breaks req into one request per message of its pending tool-result
// group, the last group with no assistant message after it. Each part keeps
// every other message, and the assistant message that issued the calls is
// narrowed to the call the part answers. Earlier multi-result groups are
// unrolled into assistant/tool pairs so no part carries adjacent tool
// messages. Requests with fewer than two pending results come back as a
// single part.
func Split(req *ir.UnifiedChatRequest) []*ir.UnifiedChatRequest {
	start, end := ir.LastToolResultGroup(req.Messages)
	if start >= 0 && followedByAssistant(req.Messages[end:]) {
		start, end = -1, -1
	}
	if start < 0 {
		msgs, changed := unrollToolResultGroups(req.Messages)
		if !changed {
			return []*ir.UnifiedChatRequest{req}
		}
		part := *req
		part.Messages = msgs
		return []*ir.UnifiedChatRequest{&part}
	}

	history, changed := unrollToolResultGroups(req.Messages[:start])
	group, tail := req.Messages[start:end], req.Messages[end:]
	if len(group) < 2 {
		if !changed {
			return []*ir.UnifiedChatRequest{req}
		}
		part := *req
		part.Messages = append(append(history, group...), tail...)
		return []*ir.UnifiedChatRequest{&part}
	}
	issuer := -1
	if n := len(history); n > 0 && history[n-1].Role == ir.RoleAssistant {
		issuer = n - 1
	}

	parts := make([]*ir.UnifiedChatRequest, 0, len(group))
	for i := range group {
		part := *req
		msgs := make([]ir.Message, 0, len(history)+1+len(tail))
		msgs = append(msgs, history...)
		if issuer >= 0 {
			msgs[issuer] = narrowToolCalls(msgs[issuer], toolResultID(&group[i]))
		}
		msgs = append(msgs, group[i])
		msgs = append(msgs, tail...)
		part.Messages = msgs
		parts = append(parts, &part)
	}
	return parts
}

func followedByAssistant(msgs []ir.Message) bool {
	for i := range msgs {
		if msgs[i].Role == ir.RoleAssistant {
			return true
		}
	}
	return false
}

// unrollToolResultGroups rewrites each run of two or more tool results into
// alternating pairs: the issuing assistant message narrowed to one call, then
// that call's result. The first pair keeps the assistant's text and any call
// no result answers. Runs whose results do not all match a call of the
// preceding assistant message are left as they are. msgs is not modified.
func unrollToolResultGroups(msgs []ir.Message) ([]ir.Message, bool) {
	var out []ir.Message
	changed := false
	for i := 0; i < len(msgs); {
		if !ir.IsToolResultMessage(&msgs[i]) {
			out = append(out, msgs[i])
			i++
			continue
		}
		j := i + 1
		for j < len(msgs) && ir.IsToolResultMessage(&msgs[j]) {
			j++
		}
		n := len(out)
		if j-i < 2 || n == 0 || out[n-1].Role != ir.RoleAssistant || !answersAll(out[n-1], msgs[i:j]) {
			out = append(out, msgs[i:j]...)
			i = j
			continue
		}

		issuer := out[n-1]
		out = out[:n-1]
		answered := make(map[string]bool, j-i)
		for k := i; k < j; k++ {
			answered[toolResultID(&msgs[k])] = true
		}
		for k := i; k < j; k++ {
			a := issuer
			a.ToolCalls = []ir.ToolCall{callByID(issuer, toolResultID(&msgs[k]))}
			if k == i {
				for _, tc := range issuer.ToolCalls {
					if !answered[tc.ID] {
						a.ToolCalls = append(a.ToolCalls, tc)
					}
				}
			} else {
				a.Content = nil
			}
			out = append(out, a, msgs[k])
		}
		changed = true
		i = j
	}
	return out, changed
}

func answersAll(issuer ir.Message, results []ir.Message) bool {
	for k := range results {
		id := toolResultID(&results[k])
		found := false
		for _, tc := range issuer.ToolCalls {
			if tc.ID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func callByID(m ir.Message, id string) ir.ToolCall {
	for _, tc := range m.ToolCalls {
		if tc.ID == id {
			return tc
		}
	}
	return ir.ToolCall{ID: id}
}

func toolResultID(m *ir.Message) string {
	for _, p := range m.Content {
		if p.Type == ir.ContentTypeToolResult && p.ToolResult != nil {
			return p.ToolResult.ToolCallID
		}
	}
	return ""
}

// narrowToolCalls keeps only the call with id. A message without that call
// is returned unchanged.
func narrowToolCalls(m ir.Message, id string) ir.Message {
	for _, tc := range m.ToolCalls {
		if tc.ID == id {
			m.ToolCalls = []ir.ToolCall{tc}
			return m
		}
	}
	log.TranslationWarnf("batch_unmatched_result", "tool result %q has no matching tool call, keeping all calls", id)
	return m
}

func (b *Batcher) parts(t *Turn, stream bool) []*ir.UnifiedChatRequest {
	var parts []*ir.UnifiedChatRequest
	if t.Route.MultiToolResultIntolerant {
		parts = Split(t.Request)
	} else {
		parts = []*ir.UnifiedChatRequest{t.Request}
	}
	for i, p := range parts {
		if p.Stream != stream {
			c := p.Clone()
			c.Stream = stream
			parts[i] = c
		}
	}
	if t.Session.Correlator == nil {
		t.Session.Correlator = ir.NewToolIDCorrelator()
	}
	if len(parts) > 1 {
		log.WithField("request_id", t.RequestID).Debugf("splitting %d tool results into serialized calls to %s", len(parts), t.Route.Provider)
	}
	return parts
}

func batchErr(call, total int, err error) error {
	if total <= 1 || err == nil {
		return err
	}
	return &BatchError{Call: call, Total: total, Err: err}
}

// Complete runs a non-streaming turn and returns the Claude response body.
// Batched usage is the sum over every call; content comes from the last call.
func (b *Batcher) Complete(ctx context.Context, t *Turn) ([]byte, error) {
	parts := b.parts(t, false)
	n := len(parts)
	started := time.Now()

	var (
		usages []*ir.Usage
		last   *to_ir.OpenAIResponse
		sess   from_ir.Session
		err    error
		done   int
	)
	for i, part := range parts {
		sess = *t.Session
		sess.Estimate = ir.EstimateRequestUsage(part)
		var resp *to_ir.OpenAIResponse
		resp, err = b.completeOne(ctx, t.Route, part, &sess)
		if err != nil {
			err = batchErr(i+1, n, err)
			break
		}
		usages = append(usages, from_ir.ResponseUsage(resp, &sess))
		last = resp
		done++
	}

	var out []byte
	usage := ir.SumUsage(usages...)
	if err == nil {
		out, err = from_ir.ToClaudeResponse(last, usage, &sess)
	}
	b.report(ctx, t, false, usage, gjson.GetBytes(out, "stop_reason").String(), done, time.Since(started), err)
	if n > 1 {
		b.obs.OnBatch(ctx, BatchEvent{Provider: t.Route.Provider, Model: t.Route.Model, Size: n, Completed: done, Err: err})
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Batcher) completeOne(ctx context.Context, route *registry.Route, part *ir.UnifiedChatRequest, sess *from_ir.Session) (*to_ir.OpenAIResponse, error) {
	body, err := from_ir.ToOpenAIRequest(part, route.Model, sess.Correlator)
	if err != nil {
		return nil, err
	}
	raw, err := b.exec.Execute(ctx, route, body)
	if err != nil {
		return nil, err
	}
	resp, err := to_ir.ParseOpenAIResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", route.Provider, err)
	}
	return resp, nil
}

// Stream runs a streaming turn. The first upstream call is opened before
// returning so that its failure can still be answered with an HTTP error;
// later failures arrive as a single error event. The channel closes when the
// turn is over.
func (b *Batcher) Stream(ctx context.Context, t *Turn) (<-chan []from_ir.ClaudeEvent, error) {
	parts := b.parts(t, true)
	n := len(parts)
	started := time.Now()
	sess := t.Session

	sess.Estimate = ir.EstimateRequestUsage(parts[0])
	first, err := b.openOne(ctx, t.Route, parts[0], sess)
	if err != nil {
		err = batchErr(1, n, err)
		b.report(ctx, t, true, nil, "", 0, time.Since(started), err)
		if n > 1 {
			b.obs.OnBatch(ctx, BatchEvent{Provider: t.Route.Provider, Model: t.Route.Model, Size: n, Stream: true, Err: err})
		}
		return nil, err
	}

	cs := from_ir.NewClaudeStream(sess)
	cs.SuppressTerminal = n > 1
	p := streamutil.NewPipeline[[]from_ir.ClaudeEvent](ctx, streamutil.PipelineConfig{})
	p.Go(func(ctx context.Context) error {
		var (
			err  error
			done int
			rc   = first
		)
		for i, part := range parts {
			if i > 0 {
				cs.BeginPartial()
				sess.Estimate = ir.EstimateRequestUsage(part)
				if rc, err = b.openOne(ctx, t.Route, part, sess); err != nil {
					err = batchErr(i+1, n, err)
					break
				}
			}
			err = pump(ctx, rc, cs, p.Send)
			rc.Close()
			if err != nil {
				err = batchErr(i+1, n, err)
				break
			}
			if cs.Terminated() && !cs.CallDone() {
				err = batchErr(i+1, n, errors.New("upstream reported a stream error"))
				break
			}
			if out := cs.Finish(); len(out) > 0 {
				p.Send(out)
			}
			done++
		}

		switch {
		case err != nil && ctx.Err() == nil:
			errType, msg := ErrorEvent(err)
			if out := cs.FailWith(errType, msg); len(out) > 0 {
				p.Send(out)
			}
		case err == nil && n > 1:
			p.Send(cs.Close())
		}
		if err != nil && ctx.Err() != nil {
			log.WithField("request_id", t.RequestID).Debugf("client went away during stream: %v", err)
		}

		b.report(ctx, t, true, cs.Usage(), cs.StopReason(), done, time.Since(started), err)
		if n > 1 {
			b.obs.OnBatch(ctx, BatchEvent{Provider: t.Route.Provider, Model: t.Route.Model, Size: n, Completed: done, Stream: true, Err: err})
		}
		return nil
	})
	p.Start()
	return p.Output(), nil
}

func (b *Batcher) openOne(ctx context.Context, route *registry.Route, part *ir.UnifiedChatRequest, sess *from_ir.Session) (io.ReadCloser, error) {
	body, err := from_ir.ToOpenAIRequest(part, route.Model, sess.Correlator)
	if err != nil {
		return nil, err
	}
	return b.exec.OpenStream(ctx, route, body)
}

func (b *Batcher) report(ctx context.Context, t *Turn, stream bool, usage *ir.Usage, stop string, calls int, latency time.Duration, err error) {
	b.obs.OnUsage(ctx, UsageEvent{
		RequestID:   t.RequestID,
		ClientModel: t.Session.Model,
		Provider:    t.Route.Provider,
		Model:       t.Route.Model,
		Stream:      stream,
		Usage:       usage,
		StopReason:  stop,
		Calls:       calls,
		Latency:     latency,
		Failed:      err != nil,
		Err:         err,
	})
}

// ErrorEvent picks the Claude error type and message for err.
func ErrorEvent(err error) (errType, message string) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ir.ClaudeErrorType(ue.StatusCode), ue.Message()
	}
	var se resilience.StatusError
	if errors.As(err, &se) {
		return ir.ClaudeErrorType(se.HTTPStatus()), err.Error()
	}
	return ir.ClaudeErrAPI, err.Error()
}
