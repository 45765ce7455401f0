package registry

import (
	"errors"

	"github.com/nghyane/claude-relay/internal/config"
)

// ErrNoProviders is returned when no enabled provider is configured.
var ErrNoProviders = errors.New("no upstream providers configured")

// MatchKind records which rule selected a route.
type MatchKind string

const (
	MatchExact    MatchKind = "exact"
	MatchFamily   MatchKind = "family"
	MatchFallback MatchKind = "fallback"
)

// Route is the resolved upstream target for one Claude model id. Routes are
// immutable once published in a snapshot.
type Route struct {
	Provider string
	Model    string
	BaseURL  string
	APIKeys  []config.ProviderAPIKey
	ProxyURL string
	Headers  map[string]string

	MultiToolResultIntolerant bool
	RequestsPerSecond         float64
	Burst                     int
	ExtraBody                 map[string]any

	MatchedBy MatchKind
}

// Key returns the credential for the given attempt, rotating across keys.
func (r *Route) Key(attempt int) config.ProviderAPIKey {
	if len(r.APIKeys) == 0 {
		return config.ProviderAPIKey{ProxyURL: r.ProxyURL}
	}
	if attempt < 0 {
		attempt = 0
	}
	k := r.APIKeys[attempt%len(r.APIKeys)]
	if k.ProxyURL == "" {
		k.ProxyURL = r.ProxyURL
	}
	return k
}

// WithModel returns a copy of r targeting model.
func (r *Route) WithModel(model string, kind MatchKind) *Route {
	out := *r
	out.Model = model
	out.MatchedBy = kind
	return &out
}

// ModelInfo is one entry of the Claude-shaped model list.
type ModelInfo struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	CreatedAt   string `json:"created_at"`
	// Provider and Upstream are for diagnostics only.
	Provider string `json:"-"`
	Upstream string `json:"-"`
}

// RouteEntry describes one rule of the table, for listing.
type RouteEntry struct {
	Pattern  string
	Kind     MatchKind
	Provider string
	Model    string
}

func routeForProvider(p *config.Provider, defaultProxy string) *Route {
	proxyURL := p.ProxyURL
	if proxyURL == "" {
		proxyURL = defaultProxy
	}
	keys := make([]config.ProviderAPIKey, 0, len(p.GetAPIKeys()))
	for _, k := range p.GetAPIKeys() {
		if k.ProxyURL == "" {
			k.ProxyURL = proxyURL
		}
		keys = append(keys, k)
	}
	var headers map[string]string
	if len(p.Headers) > 0 {
		headers = make(map[string]string, len(p.Headers))
		for k, v := range p.Headers {
			headers[k] = v
		}
	}
	return &Route{
		Provider:                  p.GetDisplayName(),
		BaseURL:                   p.BaseURL,
		APIKeys:                   keys,
		ProxyURL:                  proxyURL,
		Headers:                   headers,
		MultiToolResultIntolerant: p.MultiToolResultIntolerant,
		RequestsPerSecond:         p.RequestsPerSecond,
		Burst:                     p.Burst,
		ExtraBody:                 p.ExtraBody,
	}
}
