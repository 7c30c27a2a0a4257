package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frugal/internal/routing"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FileKeys(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{
		"port": 9999,
		"providers": {
			"anthropic": {"api_key": "sk-ant-test"},
			"openrouter": {"api_key": "sk-or-test", "base_url": "https://example.invalid/api/v1"}
		}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "sk-ant-test", cfg.APIKey("anthropic"))
	assert.Equal(t, "https://example.invalid/api/v1", cfg.BaseURL("openrouter"))
	assert.True(t, cfg.HasAnyKey())
}

func TestLoad_MissingFileUsesEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env-test")
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)

	assert.Equal(t, "sk-env-test", cfg.APIKey("openai"))
	assert.Equal(t, DefaultPort, cfg.Port)
}

func TestLoad_EnvDoesNotOverrideFile(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-from-env")
	path := writeConfig(t, t.TempDir(), `{"providers":{"anthropic":{"api_key":"sk-from-file"}}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-file", cfg.APIKey("anthropic"))
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("MY_SECRET", "sk-expanded")
	path := writeConfig(t, t.TempDir(), `{"providers":{"openai":{"api_key":"${MY_SECRET}"}}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-expanded", cfg.APIKey("openai"))
}

func TestLoad_PortEnvOverride(t *testing.T) {
	t.Setenv("FRUGAL_PORT", "12345")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, 12345, cfg.Port)
}

func TestLoad_RoutingYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"providers":{}}`)
	routingYAML := `
scoring:
  reasoning_cutoff: 12
tiers:
  simple:
    primary: openai/gpt-4o-mini
    fallback: [google/gemini-2.0-flash]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "routing.yaml"), []byte(routingYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, float64(12), cfg.Routing.Scoring.ReasoningCutoff)

	tables := cfg.Tables()
	assert.Equal(t, "openai/gpt-4o-mini", tables.Tiers[routing.TierSimple].Primary)
	// Unspecified tiers keep their defaults.
	assert.NotEmpty(t, tables.Tiers[routing.TierReasoning].Primary)
}

func TestLoad_BadJSON(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `{not json`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestDisabled(t *testing.T) {
	t.Setenv("FRUGAL_DISABLED", "")
	assert.False(t, Disabled())

	t.Setenv("FRUGAL_DISABLED", "1")
	assert.True(t, Disabled())

	t.Setenv("FRUGAL_DISABLED", "TRUE")
	assert.True(t, Disabled())
}

func TestConfiguredProviders_StableOrder(t *testing.T) {
	cfg := &Config{Providers: map[string]ProviderConfig{
		"google":    {APIKey: "g"},
		"openai":    {APIKey: "o"},
		"anthropic": {APIKey: "a"},
	}}
	assert.Equal(t, []string{"openai", "anthropic", "google"}, cfg.ConfiguredProviders())
}
