package ir

import "testing"

func TestToolCallArenaLifecycle(t *testing.T) {
	a := NewToolCallArena()

	c := a.GetOrCreate(1)
	c.AppendArgs(`{"pa`)
	if c.Ready() {
		t.Fatal("call without id/name should not be ready")
	}
	c.ID, c.Name = "call_1", "read_file"
	if !c.Ready() {
		t.Fatal("call with id and name should be ready")
	}
	if got := c.TakePending(); got != `{"pa` {
		t.Errorf("TakePending() = %q, want %q", got, `{"pa`)
	}
	c.Phase = ToolCallStreaming
	c.AppendArgs(`th":"x"}`)
	if got := c.TakePending(); got != "" {
		t.Errorf("TakePending() after open = %q, want empty", got)
	}
	if got := c.Args(); got != `{"path":"x"}` {
		t.Errorf("Args() = %q, want full buffer", got)
	}

	if a.GetOrCreate(1) != c {
		t.Error("GetOrCreate should return the existing call")
	}
}

func TestToolCallArenaOrder(t *testing.T) {
	a := NewToolCallArena()
	a.GetOrCreate(2)
	a.GetOrCreate(0)
	a.GetOrCreate(2)

	var seen []int
	a.Each(func(c *AccumulatingToolCall) { seen = append(seen, c.UpstreamIndex) })
	if len(seen) != 2 || seen[0] != 2 || seen[1] != 0 {
		t.Errorf("Each order = %v, want [2 0]", seen)
	}

	a.Reset()
	if a.Len() != 0 || a.Get(2) != nil {
		t.Error("Reset should drop all calls")
	}
}
