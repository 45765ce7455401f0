package ir

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	log "github.com/nghyane/claude-relay/internal/logging"
)

// maxProviderToolIDLen bounds derived ids; OpenAI rejects tool_call ids over 64 bytes.
const maxProviderToolIDLen = 64

// GenToolCallID returns a fresh OpenAI-style tool call id.
func GenToolCallID() string {
	return "call_" + compactUUID()
}

// GenClaudeToolCallID returns a fresh Claude-style tool use id.
func GenClaudeToolCallID() string {
	return "toolu_" + compactUUID()
}

func compactUUID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:24]
}

// ToolIDCorrelator keeps a bijection between client-side (local) tool ids and
// the ids sent to the upstream provider. One correlator lives for exactly one
// request and is not safe for concurrent use.
type ToolIDCorrelator struct {
	toProvider map[string]string
	toLocal    map[string]string
	synthetic  int
}

func NewToolIDCorrelator() *ToolIDCorrelator {
	return &ToolIDCorrelator{
		toProvider: make(map[string]string),
		toLocal:    make(map[string]string),
	}
}

// Correlate returns the provider id for localID, deriving and recording one
// on first use. Repeated calls return the same value.
func (c *ToolIDCorrelator) Correlate(localID string) string {
	if pid, ok := c.toProvider[localID]; ok {
		return pid
	}
	base := sanitizeToolID(localID)
	if base == "" {
		c.synthetic++
		base = "call_" + strconv.Itoa(c.synthetic)
	}
	pid := c.disambiguate(base, c.toLocal)
	c.record(localID, pid)
	return pid
}

// Resolve maps a provider id back to the local id. Unknown ids are returned
// unchanged.
func (c *ToolIDCorrelator) Resolve(providerID string) string {
	if lid, ok := c.toLocal[providerID]; ok {
		return lid
	}
	log.TranslationWarnf("tool_id_miss", "tool id correlator: no local id for provider id %q, passing through", providerID)
	return providerID
}

// Adopt maps an id generated by the upstream into the local namespace. Legal,
// unused ids map to themselves; an empty id gets a synthetic Claude id.
func (c *ToolIDCorrelator) Adopt(providerID string) string {
	if providerID == "" {
		lid := GenClaudeToolCallID()
		pid := c.disambiguate(sanitizeToolID(lid), c.toLocal)
		c.record(lid, pid)
		return lid
	}
	if lid, ok := c.toLocal[providerID]; ok {
		return lid
	}
	lid := c.disambiguate(providerID, c.toProvider)
	c.record(lid, providerID)
	return lid
}

// Len reports the number of recorded pairs.
func (c *ToolIDCorrelator) Len() int {
	return len(c.toProvider)
}

func (c *ToolIDCorrelator) record(localID, providerID string) {
	c.toProvider[localID] = providerID
	c.toLocal[providerID] = localID
}

// disambiguate appends _2, _3, ... until candidate is not a key of taken.
func (c *ToolIDCorrelator) disambiguate(candidate string, taken map[string]string) string {
	if _, used := taken[candidate]; !used {
		return candidate
	}
	for n := 2; ; n++ {
		suffix := "_" + strconv.Itoa(n)
		base := candidate
		if len(base)+len(suffix) > maxProviderToolIDLen {
			base = base[:maxProviderToolIDLen-len(suffix)]
		}
		next := base + suffix
		if _, used := taken[next]; !used {
			return next
		}
	}
}

// sanitizeToolID replaces characters outside [A-Za-z0-9_-] and truncates.
func sanitizeToolID(id string) string {
	if id == "" {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
		if sb.Len() >= maxProviderToolIDLen {
			break
		}
	}
	out := sb.String()
	if len(out) > maxProviderToolIDLen {
		out = out[:maxProviderToolIDLen]
	}
	return out
}

// GenMessageID returns a fresh Claude message id.
func GenMessageID() string {
	return "msg_" + compactUUID()
}
