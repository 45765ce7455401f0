package from_ir

import (
	"unicode/utf8"

	log "github.com/nghyane/claude-relay/internal/logging"
	"github.com/nghyane/claude-relay/internal/translator/ir"
)

// ClaudeEvent is one framed Claude SSE event. Index is the content block index
// for block events and -1 otherwise.
type ClaudeEvent struct {
	Type  string
	Index int
	data  []byte
}

// SSE returns the event as "event: X\ndata: {...}\n\n".
func (e ClaudeEvent) SSE() []byte { return e.data }

// ClaudeStream rebuilds the Claude event grammar from decoded Chat
// Completions chunks. One instance serves one client response and must be
// driven from a single goroutine.
type ClaudeStream struct {
	sess *Session

	// SuppressTerminal withholds message_delta and message_stop so several
	// upstream calls can feed one client stream; Close emits them.
	SuppressTerminal bool

	started   bool
	nextIndex int
	textOpen  bool
	textIndex int
	tools     *ir.ToolCallArena

	// per upstream call
	toolOpened  bool
	finished    bool
	callDone    bool
	committed   bool
	callUsage   *ir.Usage
	outputRunes int

	stopReason string
	stopSeq    string
	total      *ir.Usage
	terminated bool
}

func NewClaudeStream(sess *Session) *ClaudeStream {
	if sess.MessageID == "" {
		sess.MessageID = ir.GenMessageID()
	}
	sess.correlator()
	return &ClaudeStream{sess: sess, tools: ir.NewToolCallArena()}
}

// Apply consumes the events decoded from one upstream chunk.
func (s *ClaudeStream) Apply(events []ir.UnifiedEvent) []ClaudeEvent {
	var out []ClaudeEvent
	for i := range events {
		if s.terminated {
			break
		}
		ev := &events[i]
		switch ev.Type {
		case ir.EventTypeMessageStart:
			out = s.ensureStarted(out)
		case ir.EventTypeToken:
			out = s.text(out, ev.Content)
		case ir.EventTypeToolCallDelta:
			out = s.toolFragment(out, ev)
		case ir.EventTypeFinish:
			out = s.finish(out, ev)
		case ir.EventTypeUsage:
			out = s.usage(out, ev.Usage)
		case ir.EventTypeError:
			msg := "upstream stream error"
			if ev.Error != nil {
				msg = ev.Error.Error()
			}
			out = append(out, s.FailWith(ir.ClaudeErrAPI, msg)...)
		}
	}
	return out
}

// Finish is called when the upstream stream ends ([DONE] or EOF). A stream
// that never reported a finish reason is closed with an inferred one.
func (s *ClaudeStream) Finish() []ClaudeEvent {
	if s.terminated || s.callDone {
		return nil
	}
	out := s.ensureStarted(nil)
	if !s.finished {
		out = s.closeBlocks(out)
		s.finished = true
		if s.toolOpened {
			s.stopReason = ir.ClaudeStopToolUse
		} else {
			s.stopReason = ir.ClaudeStopEndTurn
		}
		s.stopSeq = ""
		log.TranslationWarnf("missing_finish", "upstream stream ended without finish_reason, reporting %s", s.stopReason)
	}
	return s.terminal(out)
}

// Fail ends the stream with a single api_error event.
func (s *ClaudeStream) Fail(err error) []ClaudeEvent {
	msg := "upstream error"
	if err != nil {
		msg = err.Error()
	}
	return s.FailWith(ir.ClaudeErrAPI, msg)
}

// FailWith ends the stream with a single error event of errType. No
// message_stop follows.
func (s *ClaudeStream) FailWith(errType, message string) []ClaudeEvent {
	if s.terminated {
		return nil
	}
	s.terminated = true
	return []ClaudeEvent{{Type: ir.ClaudeSSEError, Index: -1, data: ir.BuildClaudeErrorSSE(errType, message)}}
}

// BeginPartial prepares for the next upstream call of a batch. Block
// numbering, the message_start state and accumulated usage carry over.
func (s *ClaudeStream) BeginPartial() {
	s.commit()
	s.tools.Reset()
	s.textOpen = false
	s.toolOpened = false
	s.finished = false
	s.callDone = false
	s.committed = false
	s.callUsage = nil
	s.outputRunes = 0
}

// Close emits the withheld message_delta, carrying the summed usage and the
// last stop reason, followed by message_stop.
func (s *ClaudeStream) Close() []ClaudeEvent {
	if s.terminated {
		return nil
	}
	out := s.ensureStarted(nil)
	if !s.callDone {
		out = s.closeBlocks(out)
		if s.stopReason == "" {
			s.stopReason = ir.ClaudeStopEndTurn
		}
	}
	s.commit()
	s.terminated = true
	return append(out,
		ClaudeEvent{Type: ir.ClaudeSSEMessageDelta, Index: -1, data: ir.BuildClaudeMessageDeltaSSE(s.stopReason, s.stopSeq, s.total)},
		ClaudeEvent{Type: ir.ClaudeSSEMessageStop, Index: -1, data: ir.BuildClaudeMessageStopSSE()},
	)
}

// Usage returns the usage accumulated so far, including the current call.
func (s *ClaudeStream) Usage() *ir.Usage {
	if s.committed {
		return ir.SumUsage(s.total)
	}
	return ir.SumUsage(s.total, s.callEffectiveUsage())
}

// StopReason returns the last recorded Claude stop reason.
func (s *ClaudeStream) StopReason() string { return s.stopReason }

// Terminated reports whether a terminal or error event has been emitted.
func (s *ClaudeStream) Terminated() bool { return s.terminated }

// CallDone reports whether the current upstream call has finished.
func (s *ClaudeStream) CallDone() bool { return s.callDone }

func (s *ClaudeStream) ensureStarted(out []ClaudeEvent) []ClaudeEvent {
	if s.started {
		return out
	}
	s.started = true
	return append(out, ClaudeEvent{
		Type:  ir.ClaudeSSEMessageStart,
		Index: -1,
		data:  ir.BuildClaudeMessageStartSSE(s.sess.MessageID, s.sess.Model, s.sess.estimatedPrompt()),
	})
}

func (s *ClaudeStream) text(out []ClaudeEvent, text string) []ClaudeEvent {
	if text == "" {
		return out
	}
	if s.finished {
		log.Warnf("dropping text received after finish_reason (%d bytes)", len(text))
		return out
	}
	out = s.ensureStarted(out)
	if !s.textOpen {
		s.textIndex = s.nextIndex
		s.nextIndex++
		s.textOpen = true
		out = append(out, ClaudeEvent{Type: ir.ClaudeSSEContentBlockStart, Index: s.textIndex, data: ir.BuildClaudeTextBlockStartSSE(s.textIndex)})
	}
	s.outputRunes += utf8.RuneCountInString(text)
	return append(out, ClaudeEvent{Type: ir.ClaudeSSEContentBlockDelta, Index: s.textIndex, data: ir.BuildClaudeTextDeltaSSE(s.textIndex, text)})
}

func (s *ClaudeStream) toolFragment(out []ClaudeEvent, ev *ir.UnifiedEvent) []ClaudeEvent {
	if ev.ToolCall == nil {
		return out
	}
	if s.finished {
		log.Warnf("protocol violation: tool call fragment for index %d after finish_reason, dropped", ev.ToolCallIndex)
		return out
	}
	tc := s.tools.GetOrCreate(ev.ToolCallIndex)
	if tc.Phase == ir.ToolCallClosed {
		log.Warnf("protocol violation: fragment for closed tool call index %d, dropped", ev.ToolCallIndex)
		return out
	}
	out = s.ensureStarted(out)
	if tc.ID == "" && ev.ToolCall.ID != "" {
		tc.ID = ev.ToolCall.ID
	}
	if tc.Name == "" && ev.ToolCall.Name != "" {
		tc.Name = ev.ToolCall.Name
	}
	if frag := ev.ToolCall.PartialArgs; frag != "" {
		tc.AppendArgs(frag)
		s.outputRunes += utf8.RuneCountInString(frag)
		if tc.Phase == ir.ToolCallStreaming {
			out = append(out, ClaudeEvent{Type: ir.ClaudeSSEContentBlockDelta, Index: tc.OutputIndex, data: ir.BuildClaudeToolCallInputDeltaSSE(tc.OutputIndex, frag)})
		}
	}
	if tc.Ready() {
		out = s.openTool(out, tc)
	}
	return out
}

func (s *ClaudeStream) openTool(out []ClaudeEvent, tc *ir.AccumulatingToolCall) []ClaudeEvent {
	out = s.closeText(out)
	// Equals i+1 after a text block and i otherwise when upstream indices are
	// dense; the counter also keeps sparse or out-of-order indices unique.
	tc.OutputIndex = s.nextIndex
	s.nextIndex++
	tc.Phase = ir.ToolCallStreaming
	s.toolOpened = true
	id := s.sess.Correlator.Adopt(tc.ID)
	out = append(out, ClaudeEvent{Type: ir.ClaudeSSEContentBlockStart, Index: tc.OutputIndex, data: ir.BuildClaudeToolCallBlockStartSSE(tc.OutputIndex, id, tc.Name)})
	if pending := tc.TakePending(); pending != "" {
		out = append(out, ClaudeEvent{Type: ir.ClaudeSSEContentBlockDelta, Index: tc.OutputIndex, data: ir.BuildClaudeToolCallInputDeltaSSE(tc.OutputIndex, pending)})
	}
	return out
}

func (s *ClaudeStream) closeText(out []ClaudeEvent) []ClaudeEvent {
	if !s.textOpen {
		return out
	}
	s.textOpen = false
	return append(out, ClaudeEvent{Type: ir.ClaudeSSEContentBlockStop, Index: s.textIndex, data: ir.BuildClaudeContentBlockStopSSE(s.textIndex)})
}

// closeBlocks closes the text block and every tool call. Calls that never
// opened are opened first when they have a name, with a synthetic id if the
// upstream sent none.
func (s *ClaudeStream) closeBlocks(out []ClaudeEvent) []ClaudeEvent {
	out = s.closeText(out)
	s.tools.Each(func(tc *ir.AccumulatingToolCall) {
		if tc.Phase == ir.ToolCallOpen {
			if tc.Name == "" {
				log.TranslationWarnf("tool_without_name", "dropping tool call at index %d without a name", tc.UpstreamIndex)
				tc.Phase = ir.ToolCallClosed
				return
			}
			out = s.openTool(out, tc)
		}
		if tc.Phase == ir.ToolCallStreaming {
			tc.Phase = ir.ToolCallClosed
			out = append(out, ClaudeEvent{Type: ir.ClaudeSSEContentBlockStop, Index: tc.OutputIndex, data: ir.BuildClaudeContentBlockStopSSE(tc.OutputIndex)})
		}
	})
	return out
}

func (s *ClaudeStream) finish(out []ClaudeEvent, ev *ir.UnifiedEvent) []ClaudeEvent {
	if s.finished {
		return out
	}
	out = s.ensureStarted(out)
	out = s.closeBlocks(out)
	s.finished = true
	s.stopReason, s.stopSeq = MapStopReason(ev.FinishReason, ev.NativeFinishReason, ev.StopSequence, s.sess.StopSequences, s.toolOpened)
	if s.stopReason == ir.ClaudeStopToolUse && !s.toolOpened {
		s.stopReason = ir.ClaudeStopEndTurn
	}
	return out
}

// usage folds authoritative usage into the call. The terminal events of a
// finished call wait for it.
func (s *ClaudeStream) usage(out []ClaudeEvent, u *ir.Usage) []ClaudeEvent {
	if u == nil || s.callDone {
		return out
	}
	s.callUsage = ir.MergeUsage(s.callUsage, u)
	if s.finished {
		return s.terminal(out)
	}
	return out
}

func (s *ClaudeStream) terminal(out []ClaudeEvent) []ClaudeEvent {
	s.callDone = true
	if s.SuppressTerminal {
		return out
	}
	s.terminated = true
	return append(out,
		ClaudeEvent{Type: ir.ClaudeSSEMessageDelta, Index: -1, data: ir.BuildClaudeMessageDeltaSSE(s.stopReason, s.stopSeq, s.callEffectiveUsage())},
		ClaudeEvent{Type: ir.ClaudeSSEMessageStop, Index: -1, data: ir.BuildClaudeMessageStopSSE()},
	)
}

func (s *ClaudeStream) callEffectiveUsage() *ir.Usage {
	out := (s.outputRunes + 3) / 4
	prompt := s.sess.estimatedPrompt()
	est := &ir.Usage{PromptTokens: prompt, CompletionTokens: out, TotalTokens: prompt + out, Estimated: true}
	return ir.MergeUsage(est, s.callUsage)
}

func (s *ClaudeStream) commit() {
	if s.committed || !s.started {
		return
	}
	s.committed = true
	if s.total == nil {
		s.total = ir.SumUsage(s.callEffectiveUsage())
		return
	}
	s.total = ir.SumUsage(s.total, s.callEffectiveUsage())
}
