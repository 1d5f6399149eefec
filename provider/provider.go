package provider

import (
	"context"
	"errors"
	"fmt"

	openai_provider "github.com/mohammad-safakhou/netriage/provider/openai"

	"github.com/mohammad-safakhou/netriage/config"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
	Gemini    Client = "gemini"
)

// Provider is the opaque reasoning function behind every decision step. The
// core never sees model invocation details: it hands over a prompt and gets
// back either free text or a structured object.
type Provider interface {
	// Generate returns free-text output for a prompt.
	Generate(ctx context.Context, system, user, model string) (string, error)

	// GenerateStructured demands strict JSON output and unmarshals it into out.
	GenerateStructured(ctx context.Context, system, user, model string, out any) error

	// Name identifies the provider for telemetry.
	Name() string
}

// NewProvider creates an LLM client from a provider configuration.
func NewProvider(cfg config.LLMProviderConfig) (Provider, error) {
	switch Client(cfg.Type) {
	case OpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("openai provider requires api_key")
		}
		return openai_provider.NewClient(cfg.APIKey, cfg.BaseURL, cfg.MaxRetries, cfg.Timeout), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	case Gemini:
		return nil, errors.New("gemini client not implemented yet")
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Type)
	}
}

// Registry resolves provider names to constructed clients. Built once at
// startup; unconfigured optional providers simply stay absent.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry constructs every configured provider. A provider that fails to
// construct aborts startup; a provider that is merely absent does not.
func NewRegistry(cfg config.LLMConfig) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider, len(cfg.Providers))}
	for name, pc := range cfg.Providers {
		p, err := NewProvider(pc)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		r.providers[name] = p
	}
	return r, nil
}

// NewStaticRegistry wraps pre-built providers. Useful for wiring fakes.
func NewStaticRegistry(providers map[string]Provider) *Registry {
	return &Registry{providers: providers}
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", name)
	}
	return p, nil
}

// Names lists the configured provider names.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	return out
}
