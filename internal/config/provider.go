package config

import "strings"

// ProviderType defines the wire protocol spoken by a provider.
type ProviderType string

const (
	// ProviderTypeOpenAI speaks Chat Completions (OpenAI, DeepSeek, Groq, vLLM, Ollama, etc.).
	ProviderTypeOpenAI ProviderType = "openai"
)

// Provider is one upstream Chat Completions endpoint.
type Provider struct {
	// Type defaults to openai.
	Type ProviderType `yaml:"type,omitempty" json:"type,omitempty"`

	// Name identifies the provider in routes ("name/model") and metrics.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Enabled allows disabling a provider without removing it. Default: true.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	APIKey string `yaml:"api-key,omitempty" json:"api-key,omitempty"`

	// APIKeys rotates across several keys, each with an optional proxy.
	APIKeys []ProviderAPIKey `yaml:"api-keys,omitempty" json:"api-keys,omitempty"`

	// BaseURL is the API root; /chat/completions is appended.
	BaseURL string `yaml:"base-url" json:"base-url"`

	ProxyURL string `yaml:"proxy-url,omitempty" json:"proxy-url,omitempty"`

	// Headers adds custom HTTP headers to requests.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	Models []ProviderModel `yaml:"models,omitempty" json:"models,omitempty"`

	// MultiToolResultIntolerant marks backends that reject several tool
	// messages in one request; such turns are split into serialized calls.
	MultiToolResultIntolerant bool `yaml:"multi-tool-result-intolerant,omitempty" json:"multi-tool-result-intolerant,omitempty"`

	// RequestsPerSecond limits outbound calls; 0 disables the limiter.
	RequestsPerSecond float64 `yaml:"requests-per-second,omitempty" json:"requests-per-second,omitempty"`
	Burst             int     `yaml:"burst,omitempty" json:"burst,omitempty"`

	// ExtraBody is merged into every outbound request body.
	ExtraBody map[string]any `yaml:"extra-body,omitempty" json:"extra-body,omitempty"`
}

// ProviderAPIKey represents an API key with optional per-key settings.
type ProviderAPIKey struct {
	Key string `yaml:"key" json:"key"`

	// ProxyURL overrides the provider's proxy for this key.
	ProxyURL string `yaml:"proxy-url,omitempty" json:"proxy-url,omitempty"`
}

// ProviderModel defines a model available from this provider.
type ProviderModel struct {
	// Name is the model name sent upstream.
	Name string `yaml:"name" json:"name"`

	// Alias is the Claude model id that selects this model exactly.
	Alias string `yaml:"alias,omitempty" json:"alias,omitempty"`
}

// IsEnabled returns true if the provider is enabled (default: true).
func (p *Provider) IsEnabled() bool {
	if p.Enabled == nil {
		return true
	}
	return *p.Enabled
}

// GetAPIKeys returns all API keys for this provider.
// If APIKey is set and APIKeys is empty, returns APIKey as a single entry.
// Keyless local backends get one empty entry.
func (p *Provider) GetAPIKeys() []ProviderAPIKey {
	if len(p.APIKeys) > 0 {
		return p.APIKeys
	}
	return []ProviderAPIKey{{Key: p.APIKey, ProxyURL: p.ProxyURL}}
}

// GetDisplayName returns the display name for this provider.
// Falls back to the base URL host if name is not set.
func (p *Provider) GetDisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	host := p.BaseURL
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	if host == "" {
		return string(p.Type)
	}
	return host
}

// HasModel reports whether name is declared as a model or alias.
func (p *Provider) HasModel(name string) bool {
	for _, m := range p.Models {
		if m.Name == name || m.Alias == name {
			return true
		}
	}
	return false
}

// Validate checks if the provider configuration is valid.
func (p *Provider) Validate() error {
	if p.Type != ProviderTypeOpenAI {
		return &ProviderValidationError{Field: "type", Message: "unsupported type " + string(p.Type)}
	}
	if p.BaseURL == "" {
		return &ProviderValidationError{Field: "base-url", Message: "base-url is required"}
	}
	if !strings.HasPrefix(p.BaseURL, "http://") && !strings.HasPrefix(p.BaseURL, "https://") {
		return &ProviderValidationError{Field: "base-url", Message: "base-url must be http or https"}
	}
	if p.RequestsPerSecond < 0 {
		return &ProviderValidationError{Field: "requests-per-second", Message: "must not be negative"}
	}
	return nil
}

// ProviderValidationError represents a validation error for provider config.
type ProviderValidationError struct {
	Field   string
	Message string
}

func (e *ProviderValidationError) Error() string {
	return "provider config error: " + e.Field + ": " + e.Message
}

// SanitizeProviders normalizes the providers list and drops entries that are
// disabled, invalid or duplicated.
func SanitizeProviders(providers []Provider) []Provider {
	if len(providers) == 0 {
		return nil
	}

	result := make([]Provider, 0, len(providers))
	seen := make(map[string]struct{})

	for i := range providers {
		p := &providers[i]

		if !p.IsEnabled() {
			continue
		}

		p.Type = ProviderType(strings.TrimSpace(strings.ToLower(string(p.Type))))
		if p.Type == "" {
			p.Type = ProviderTypeOpenAI
		}
		p.Name = strings.TrimSpace(p.Name)
		p.APIKey = strings.TrimSpace(p.APIKey)
		p.BaseURL = strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
		p.ProxyURL = strings.TrimSpace(p.ProxyURL)
		p.Headers = NormalizeHeaders(p.Headers)

		validKeys := make([]ProviderAPIKey, 0, len(p.APIKeys))
		for _, k := range p.APIKeys {
			k.Key = strings.TrimSpace(k.Key)
			k.ProxyURL = strings.TrimSpace(k.ProxyURL)
			if k.ProxyURL == "" {
				k.ProxyURL = p.ProxyURL
			}
			if k.Key != "" {
				validKeys = append(validKeys, k)
			}
		}
		p.APIKeys = validKeys

		validModels := make([]ProviderModel, 0, len(p.Models))
		for _, m := range p.Models {
			m.Name = strings.TrimSpace(m.Name)
			m.Alias = strings.TrimSpace(m.Alias)
			if m.Name != "" {
				validModels = append(validModels, m)
			}
		}
		p.Models = validModels

		if err := p.Validate(); err != nil {
			continue
		}

		uniqueKey := p.GetDisplayName() + "|" + p.BaseURL
		if _, exists := seen[uniqueKey]; exists {
			continue
		}
		seen[uniqueKey] = struct{}{}

		result = append(result, *p)
	}

	return result
}

// GetProviderByName returns a provider by its display name.
func (cfg *Config) GetProviderByName(name string) *Provider {
	if cfg == nil {
		return nil
	}
	for i := range cfg.Providers {
		if cfg.Providers[i].GetDisplayName() == name {
			return &cfg.Providers[i]
		}
	}
	return nil
}
