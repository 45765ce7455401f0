package registry

import (
	"strings"
	"time"

	"github.com/nghyane/claude-relay/internal/config"
)

// familyOrder is checked in sequence; the first substring found in the
// requested model id wins.
var familyOrder = []string{"haiku", "sonnet", "opus"}

// registryState holds the immutable route snapshot for the copy-on-write pattern.
// All fields are treated as immutable after creation - never modify in place.
type registryState struct {
	// providers keeps config order; the first entry is the default target.
	providers []*Route
	byName    map[string]*Route
	// exact maps aliases and upstream model names to a route.
	exact    map[string]*Route
	family   map[string]*Route
	fallback *Route
	models   []ModelInfo
	entries  []RouteEntry
}

func newRegistryState() *registryState {
	return &registryState{
		byName: make(map[string]*Route),
		exact:  make(map[string]*Route),
		family: make(map[string]*Route),
	}
}

// buildState derives a fresh snapshot from cfg. Later duplicates of an alias
// or model name never shadow the first declaration.
func buildState(cfg *config.Config, now time.Time) *registryState {
	s := newRegistryState()
	if cfg == nil {
		return s
	}
	created := now.UTC().Format(time.RFC3339)
	seenModel := make(map[string]struct{})

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		base := routeForProvider(p, cfg.ProxyURL)
		s.providers = append(s.providers, base)
		if _, ok := s.byName[base.Provider]; !ok {
			s.byName[base.Provider] = base
		}

		for _, m := range p.Models {
			for _, key := range []string{m.Alias, m.Name} {
				if key == "" {
					continue
				}
				if _, taken := s.exact[key]; !taken {
					s.exact[key] = base.WithModel(m.Name, MatchExact)
					s.entries = append(s.entries, RouteEntry{Pattern: key, Kind: MatchExact, Provider: base.Provider, Model: m.Name})
				}
			}
			id := m.Alias
			if id == "" {
				id = m.Name
			}
			if _, dup := seenModel[id]; dup {
				continue
			}
			seenModel[id] = struct{}{}
			s.models = append(s.models, ModelInfo{
				Type:        "model",
				ID:          id,
				DisplayName: id,
				CreatedAt:   created,
				Provider:    base.Provider,
				Upstream:    m.Name,
			})
		}
	}

	targets := map[string]string{
		"haiku":  cfg.Routing.Haiku,
		"sonnet": cfg.Routing.Sonnet,
		"opus":   cfg.Routing.Opus,
	}
	for _, fam := range familyOrder {
		if r := s.resolveTarget(targets[fam], MatchFamily); r != nil {
			s.family[fam] = r
			s.entries = append(s.entries, RouteEntry{Pattern: "*" + fam + "*", Kind: MatchFamily, Provider: r.Provider, Model: r.Model})
		}
	}

	s.fallback = s.resolveTarget(cfg.Routing.Fallback, MatchFallback)
	if s.fallback == nil && len(s.providers) > 0 {
		first := s.providers[0]
		for i := range cfg.Providers {
			if cfg.Providers[i].GetDisplayName() == first.Provider && len(cfg.Providers[i].Models) > 0 {
				s.fallback = first.WithModel(cfg.Providers[i].Models[0].Name, MatchFallback)
				break
			}
		}
	}
	if s.fallback != nil {
		s.entries = append(s.entries, RouteEntry{Pattern: "*", Kind: MatchFallback, Provider: s.fallback.Provider, Model: s.fallback.Model})
	}
	return s
}

// resolveTarget turns a "provider/model" or bare model target into a route.
// A bare name resolves through the exact table first, so targets may name an
// alias; anything else goes to the first provider verbatim.
func (s *registryState) resolveTarget(target string, kind MatchKind) *Route {
	target = strings.TrimSpace(target)
	if target == "" || len(s.providers) == 0 {
		return nil
	}
	if i := strings.IndexByte(target, '/'); i > 0 {
		if base, ok := s.byName[target[:i]]; ok {
			return base.WithModel(target[i+1:], kind)
		}
	}
	if r, ok := s.exact[target]; ok {
		return r.WithModel(r.Model, kind)
	}
	return s.providers[0].WithModel(target, kind)
}

// lookup applies exact, then family, then fallback matching. When nothing
// matches and no fallback exists, the model id is passed to the first
// provider unchanged.
func (s *registryState) lookup(model string) *Route {
	if r, ok := s.exact[model]; ok {
		return r
	}
	if i := strings.IndexByte(model, '/'); i > 0 {
		if base, ok := s.byName[model[:i]]; ok {
			return base.WithModel(model[i+1:], MatchExact)
		}
	}
	lower := strings.ToLower(model)
	for _, fam := range familyOrder {
		if !strings.Contains(lower, fam) {
			continue
		}
		if r, ok := s.family[fam]; ok {
			return r
		}
		break
	}
	if s.fallback != nil {
		return s.fallback
	}
	if len(s.providers) > 0 {
		return s.providers[0].WithModel(model, MatchFallback)
	}
	return nil
}
