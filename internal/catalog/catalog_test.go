package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_Exact(t *testing.T) {
	r := NewRegistry()

	m, ok := r.Lookup("anthropic/claude-sonnet-4")
	require.True(t, ok)
	assert.Equal(t, "anthropic", m.Provider)
	assert.Equal(t, 200_000, m.ContextWindow)
}

func TestLookup_Alias(t *testing.T) {
	r := NewRegistry()

	m, ok := r.Lookup("anthropic/claude-sonnet")
	require.True(t, ok)
	assert.Equal(t, "anthropic/claude-sonnet-4", m.ID)
}

func TestLookup_DateSuffix(t *testing.T) {
	r := NewRegistry()

	m, ok := r.Lookup("anthropic/claude-sonnet-4-20250514")
	require.True(t, ok)
	assert.Equal(t, "anthropic/claude-sonnet-4", m.ID)
}

func TestLookup_Unknown(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Lookup("acme/unobtainium")
	assert.False(t, ok)
}

func TestModelName(t *testing.T) {
	m := Model{ID: "google/gemini-2.0-flash"}
	assert.Equal(t, "gemini-2.0-flash", m.Name())

	bare := Model{ID: "gpt-4o"}
	assert.Equal(t, "gpt-4o", bare.Name())
}

func TestNativeDialect(t *testing.T) {
	assert.Equal(t, DialectAnthropic, NativeDialect("anthropic"))
	assert.Equal(t, DialectGemini, NativeDialect("google"))
	assert.Equal(t, DialectOpenAI, NativeDialect("openai"))
	assert.Equal(t, DialectOpenAI, NativeDialect("openrouter"))
	assert.Equal(t, DialectOpenAI, NativeDialect("somebody-else"))
}

func TestModelsByPrice(t *testing.T) {
	r := NewRegistry()

	byPrice := r.ModelsByPrice()
	require.NotEmpty(t, byPrice)
	for i := 1; i < len(byPrice); i++ {
		assert.LessOrEqual(t, byPrice[i-1].BlendedPrice(), byPrice[i].BlendedPrice())
	}
}

func TestEstimateCost(t *testing.T) {
	m := Model{InputPerMTok: 1.0, OutputPerMTok: 2.0}

	cost := EstimateCost(m, 1_000_000, 500_000)
	assert.InDelta(t, 2.0, cost, 1e-9)
	assert.Equal(t, 0.0, EstimateCost(m, 0, 0))
}

func TestProviderOf(t *testing.T) {
	assert.Equal(t, "openai", ProviderOf("openai/gpt-4o"))
	assert.Equal(t, "", ProviderOf("auto"))
}
