package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nghyane/claude-relay/internal/config"
	log "github.com/nghyane/claude-relay/internal/logging"
)

// ModelRegistry uses Copy-on-Write for lock-free reads.
// Reads: Load atomic pointer, work with immutable snapshot.
// Writes: Lock writerMu, build a new state, store atomically.
type ModelRegistry struct {
	state    atomic.Pointer[registryState]
	writerMu sync.Mutex
	now      func() time.Time
}

var getGlobalRegistry = sync.OnceValue(func() *ModelRegistry {
	return NewModelRegistry(nil)
})

// GetGlobalRegistry returns the process-wide route table.
func GetGlobalRegistry() *ModelRegistry {
	return getGlobalRegistry()
}

// NewModelRegistry builds a route table from cfg; a nil cfg yields an empty table.
func NewModelRegistry(cfg *config.Config) *ModelRegistry {
	r := &ModelRegistry{now: time.Now}
	r.state.Store(buildState(cfg, r.now()))
	return r
}

func (r *ModelRegistry) snapshot() *registryState {
	return r.state.Load()
}

// Update swaps in a snapshot built from cfg. In-flight requests keep the
// route they already resolved.
func (r *ModelRegistry) Update(cfg *config.Config) {
	if r == nil {
		return
	}
	r.writerMu.Lock()
	defer r.writerMu.Unlock()

	next := buildState(cfg, r.now())
	r.state.Store(next)
	log.Infof("route table updated: %d providers, %d models", len(next.providers), len(next.models))
}

// Resolve maps a Claude model id onto an upstream route.
func (r *ModelRegistry) Resolve(model string) (*Route, error) {
	s := r.snapshot()
	if len(s.providers) == 0 {
		return nil, ErrNoProviders
	}
	route := s.lookup(model)
	if route == nil {
		return nil, fmt.Errorf("no route for model %q", model)
	}
	log.Debugf("route %s -> %s/%s (%s)", model, route.Provider, route.Model, route.MatchedBy)
	return route, nil
}

// Models lists the Claude-facing model ids in config order.
func (r *ModelRegistry) Models() []ModelInfo {
	s := r.snapshot()
	out := make([]ModelInfo, len(s.models))
	copy(out, s.models)
	return out
}

// Routes lists every rule of the current table in match order.
func (r *ModelRegistry) Routes() []RouteEntry {
	s := r.snapshot()
	out := make([]RouteEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Providers returns the base route of every configured provider.
func (r *ModelRegistry) Providers() []*Route {
	s := r.snapshot()
	out := make([]*Route, len(s.providers))
	copy(out, s.providers)
	return out
}
