package ir

import "strings"

// ToolCallPhase is the lifecycle of one streamed tool call.
type ToolCallPhase int

const (
	// ToolCallOpen: seen, but id or name still missing, no block emitted.
	ToolCallOpen ToolCallPhase = iota
	// ToolCallStreaming: content_block_start emitted, deltas flowing.
	ToolCallStreaming
	// ToolCallClosed: content_block_stop emitted; further fragments are dropped.
	ToolCallClosed
)

// AccumulatingToolCall collects the pieces of one tool call addressed by its
// upstream positional index.
type AccumulatingToolCall struct {
	UpstreamIndex int
	ID            string
	Name          string
	Phase         ToolCallPhase
	OutputIndex   int
	args          strings.Builder
	pending       strings.Builder
}

// Args returns every argument fragment received so far.
func (c *AccumulatingToolCall) Args() string { return c.args.String() }

// Ready reports whether the block can be opened.
func (c *AccumulatingToolCall) Ready() bool {
	return c.Phase == ToolCallOpen && c.ID != "" && c.Name != ""
}

// AppendArgs records a fragment. Fragments received before the block opens
// are also held as pending so they can be flushed in one delta.
func (c *AccumulatingToolCall) AppendArgs(fragment string) {
	c.args.WriteString(fragment)
	if c.Phase == ToolCallOpen {
		c.pending.WriteString(fragment)
	}
}

// TakePending returns and clears the pre-open fragments.
func (c *AccumulatingToolCall) TakePending() string {
	s := c.pending.String()
	c.pending.Reset()
	return s
}

// ToolCallArena holds the tool calls of one stream session keyed by the small
// integer index the upstream assigns. Insertion order is preserved so calls can
// be closed deterministically.
type ToolCallArena struct {
	calls map[int]*AccumulatingToolCall
	order []int
}

func NewToolCallArena() *ToolCallArena {
	return &ToolCallArena{calls: make(map[int]*AccumulatingToolCall)}
}

// Get returns the call at index, or nil.
func (a *ToolCallArena) Get(index int) *AccumulatingToolCall {
	return a.calls[index]
}

// GetOrCreate returns the call at index, creating it on first reference.
func (a *ToolCallArena) GetOrCreate(index int) *AccumulatingToolCall {
	if c, ok := a.calls[index]; ok {
		return c
	}
	c := &AccumulatingToolCall{UpstreamIndex: index, OutputIndex: -1}
	a.calls[index] = c
	a.order = append(a.order, index)
	return c
}

// Each visits calls in first-reference order.
func (a *ToolCallArena) Each(fn func(*AccumulatingToolCall)) {
	for _, idx := range a.order {
		fn(a.calls[idx])
	}
}

// Len returns the number of calls seen.
func (a *ToolCallArena) Len() int { return len(a.order) }

// Reset frees all calls.
func (a *ToolCallArena) Reset() {
	clear(a.calls)
	a.order = a.order[:0]
}
