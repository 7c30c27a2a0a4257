// Package keys decides how a model is reached: with a direct provider key or
// through the aggregator gateway.
package keys

import (
	"errors"
	"fmt"

	"frugal/internal/catalog"
	"frugal/internal/config"
)

// Gateway is the aggregator provider id. It speaks the OpenAI dialect and can
// serve any catalog model behind a single key.
const Gateway = "openrouter"

// defaultBaseURLs are the upstream endpoints per provider.
var defaultBaseURLs = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"anthropic":  "https://api.anthropic.com",
	"google":     "https://generativelanguage.googleapis.com",
	"openrouter": "https://openrouter.ai/api/v1",
}

// ErrUnreachable means no key (direct or gateway) can serve the model.
var ErrUnreachable = errors.New("no provider key configured for model")

// Access is everything needed to dispatch a request upstream.
type Access struct {
	APIKey     string
	BaseURL    string
	Provider   string // the provider actually dialed ("openrouter" when via gateway)
	ViaGateway bool
}

// Dialect returns the wire dialect of the upstream this access points at.
func (a Access) Dialect() catalog.Dialect {
	if a.ViaGateway {
		return catalog.DialectOpenAI
	}
	return catalog.NativeDialect(a.Provider)
}

// Resolver maps models to access credentials.
type Resolver struct {
	cfg *config.Config
}

// NewResolver creates a resolver over the loaded configuration.
func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve picks access for a model id:
//  1. providers that need dialect translation go via the gateway when a
//     gateway key exists (the gateway already speaks the OpenAI dialect),
//  2. a direct key for an OpenAI-dialect provider is used as-is,
//  3. any remaining model falls back to the gateway,
//  4. a direct key for a translated-dialect provider is used when there is
//     no gateway to hide the translation behind,
//  5. otherwise the model is unreachable.
func (r *Resolver) Resolve(modelID string) (Access, error) {
	provider := catalog.ProviderOf(modelID)
	if provider == "" {
		return Access{}, fmt.Errorf("model %q has no provider prefix: %w", modelID, ErrUnreachable)
	}

	gatewayKey := r.cfg.APIKey(Gateway)
	directKey := r.cfg.APIKey(provider)

	if catalog.NativeDialect(provider) != catalog.DialectOpenAI && gatewayKey != "" {
		return r.gateway(gatewayKey), nil
	}
	if directKey != "" {
		return r.direct(provider, directKey), nil
	}
	if gatewayKey != "" {
		return r.gateway(gatewayKey), nil
	}
	return Access{}, fmt.Errorf("model %q: %w", modelID, ErrUnreachable)
}

// Reachable reports whether Resolve would succeed for the model.
func (r *Resolver) Reachable(modelID string) bool {
	_, err := r.Resolve(modelID)
	return err == nil
}

// HasGateway reports whether a gateway key is configured.
func (r *Resolver) HasGateway() bool {
	return r.cfg.APIKey(Gateway) != ""
}

// GatewayBaseURL returns the gateway endpoint, honoring any override.
func (r *Resolver) GatewayBaseURL() string {
	if base := r.cfg.BaseURL(Gateway); base != "" {
		return base
	}
	return defaultBaseURLs[Gateway]
}

// AccessibleProviders lists providers whose models can currently be served,
// directly or via the gateway.
func (r *Resolver) AccessibleProviders(reg *catalog.Registry) []string {
	var out []string
	for _, p := range reg.Providers() {
		probe := p + "/probe"
		if r.Reachable(probe) {
			out = append(out, p)
		}
	}
	return out
}

func (r *Resolver) direct(provider, key string) Access {
	base := r.cfg.BaseURL(provider)
	if base == "" {
		base = defaultBaseURLs[provider]
	}
	return Access{APIKey: key, BaseURL: base, Provider: provider}
}

func (r *Resolver) gateway(key string) Access {
	base := r.cfg.BaseURL(Gateway)
	if base == "" {
		base = defaultBaseURLs[Gateway]
	}
	return Access{APIKey: key, BaseURL: base, Provider: Gateway, ViaGateway: true}
}
