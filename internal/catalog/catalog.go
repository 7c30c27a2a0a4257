// Package catalog holds the static model registry: which models exist, who
// serves them, what they cost, and which wire dialect their provider speaks.
package catalog

import (
	"sort"
	"strings"
)

// Dialect identifies the wire shape of a provider's HTTP API.
type Dialect int

const (
	// DialectOpenAI is the OpenAI-compatible chat completions shape.
	DialectOpenAI Dialect = iota

	// DialectAnthropic is the "messages" shape with a top-level system field
	// and input_tokens/output_tokens usage.
	DialectAnthropic

	// DialectGemini is the streamed generate-content shape over SSE.
	DialectGemini
)

// String returns a human-readable name for the dialect.
func (d Dialect) String() string {
	switch d {
	case DialectOpenAI:
		return "openai"
	case DialectAnthropic:
		return "anthropic"
	case DialectGemini:
		return "gemini"
	default:
		return "unknown"
	}
}

// AutoModel is the reserved model id that means "let the router choose".
const AutoModel = "auto"

// Model is an immutable catalog entry.
type Model struct {
	// ID is "<provider>/<name>", e.g. "anthropic/claude-sonnet-4".
	ID string `json:"id"`

	// Provider is the provider prefix of the ID.
	Provider string `json:"provider"`

	// ContextWindow is the maximum context size in tokens.
	ContextWindow int `json:"context_window"`

	// InputPerMTok and OutputPerMTok are USD prices per million tokens.
	InputPerMTok  float64 `json:"input_per_mtok"`
	OutputPerMTok float64 `json:"output_per_mtok"`

	// Agentic marks models eligible for the agentic tier table
	// (strong tool-calling behavior).
	Agentic bool `json:"agentic"`
}

// Name returns the provider-native model name (ID without the provider prefix).
func (m Model) Name() string {
	if i := strings.IndexByte(m.ID, '/'); i >= 0 {
		return m.ID[i+1:]
	}
	return m.ID
}

// BlendedPrice is the input+output price sum, used to rank models by cost.
func (m Model) BlendedPrice() float64 {
	return m.InputPerMTok + m.OutputPerMTok
}

// providerDialects maps provider prefixes to their native dialect.
var providerDialects = map[string]Dialect{
	"openai":     DialectOpenAI,
	"openrouter": DialectOpenAI,
	"anthropic":  DialectAnthropic,
	"google":     DialectGemini,
}

// NativeDialect returns the wire dialect a provider speaks natively.
// Unknown providers are assumed OpenAI-compatible.
func NativeDialect(provider string) Dialect {
	if d, ok := providerDialects[provider]; ok {
		return d
	}
	return DialectOpenAI
}

// modelAliases maps short or legacy model ids to their catalog ids.
// Provider-specific trivia (dated snapshots, renamed families) lives here
// rather than in code.
var modelAliases = map[string]string{
	"anthropic/claude-sonnet":          "anthropic/claude-sonnet-4",
	"anthropic/claude-haiku":           "anthropic/claude-3-5-haiku",
	"anthropic/claude-opus":            "anthropic/claude-opus-4",
	"anthropic/claude-sonnet-4-latest": "anthropic/claude-sonnet-4",
	"google/gemini-flash":              "google/gemini-2.0-flash",
	"google/gemini-pro":                "google/gemini-2.5-pro",
	"openai/gpt-4o-latest":             "openai/gpt-4o",
}

// defaultModels is the built-in registry. At least one model per tier must be
// resolvable with only a gateway key, which holds because the gateway serves
// every entry here.
var defaultModels = []Model{
	{ID: "openai/gpt-4o-mini", Provider: "openai", ContextWindow: 128_000, InputPerMTok: 0.15, OutputPerMTok: 0.60},
	{ID: "openai/gpt-4o", Provider: "openai", ContextWindow: 128_000, InputPerMTok: 2.50, OutputPerMTok: 10.0, Agentic: true},
	{ID: "openai/o3-mini", Provider: "openai", ContextWindow: 200_000, InputPerMTok: 1.10, OutputPerMTok: 4.40},
	{ID: "anthropic/claude-3-5-haiku", Provider: "anthropic", ContextWindow: 200_000, InputPerMTok: 0.80, OutputPerMTok: 4.0, Agentic: true},
	{ID: "anthropic/claude-sonnet-4", Provider: "anthropic", ContextWindow: 200_000, InputPerMTok: 3.0, OutputPerMTok: 15.0, Agentic: true},
	{ID: "anthropic/claude-opus-4", Provider: "anthropic", ContextWindow: 200_000, InputPerMTok: 15.0, OutputPerMTok: 75.0, Agentic: true},
	{ID: "google/gemini-2.0-flash", Provider: "google", ContextWindow: 1_048_576, InputPerMTok: 0.10, OutputPerMTok: 0.40},
	{ID: "google/gemini-2.5-pro", Provider: "google", ContextWindow: 1_048_576, InputPerMTok: 1.25, OutputPerMTok: 10.0},
}

// Registry is the model catalog. It is immutable after construction and safe
// for concurrent reads.
type Registry struct {
	models map[string]Model
	order  []string
}

// NewRegistry creates a registry with the built-in model table.
func NewRegistry() *Registry {
	return NewRegistryWith(defaultModels)
}

// NewRegistryWith creates a registry from an explicit model list.
// Useful for tests and config-driven catalogs.
func NewRegistryWith(models []Model) *Registry {
	r := &Registry{models: make(map[string]Model, len(models))}
	for _, m := range models {
		if m.Provider == "" {
			if i := strings.IndexByte(m.ID, '/'); i >= 0 {
				m.Provider = m.ID[:i]
			}
		}
		r.models[m.ID] = m
		r.order = append(r.order, m.ID)
	}
	return r
}

// Lookup finds a model by id, resolving aliases and date-suffixed variants
// (e.g. "anthropic/claude-sonnet-4-20250514" matches "anthropic/claude-sonnet-4").
func (r *Registry) Lookup(id string) (Model, bool) {
	if m, ok := r.models[id]; ok {
		return m, true
	}
	if canonical, ok := modelAliases[id]; ok {
		if m, ok := r.models[canonical]; ok {
			return m, true
		}
	}
	// Prefix match for dated snapshots.
	for mid, m := range r.models {
		if strings.HasPrefix(id, mid+"-") || strings.HasPrefix(id, mid+"@") {
			return m, true
		}
	}
	return Model{}, false
}

// Models returns all catalog entries in registration order.
func (r *Registry) Models() []Model {
	out := make([]Model, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.models[id])
	}
	return out
}

// ModelsByPrice returns all entries sorted cheapest-first by blended price.
func (r *Registry) ModelsByPrice() []Model {
	out := r.Models()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].BlendedPrice() < out[j].BlendedPrice()
	})
	return out
}

// Providers returns the distinct provider prefixes present in the catalog.
func (r *Registry) Providers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range r.order {
		p := r.models[id].Provider
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// ProviderOf splits a model id into its provider prefix. Returns "" when the
// id carries no prefix.
func ProviderOf(id string) string {
	if i := strings.IndexByte(id, '/'); i >= 0 {
		return id[:i]
	}
	return ""
}

// EstimateCost returns the projected USD cost for a model given token counts.
func EstimateCost(m Model, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1_000_000.0*m.InputPerMTok +
		float64(outputTokens)/1_000_000.0*m.OutputPerMTok
}
