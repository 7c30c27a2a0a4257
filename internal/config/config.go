// Package config loads the proxy configuration: provider API keys from the
// JSON config file and environment, and routing overrides from routing.yaml.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"frugal/internal/routing"
)

// DefaultPort is the loopback port the proxy binds when nothing overrides it.
const DefaultPort = 11435

// envKeys maps provider ids to the environment variable carrying their key.
var envKeys = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"google":     "GEMINI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

// ProviderConfig holds access settings for one provider.
type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url,omitempty"` // override, e.g. a corporate proxy
}

// Config is the full proxy configuration.
type Config struct {
	Port      int                       `json:"port,omitempty"`
	Providers map[string]ProviderConfig `json:"providers"`

	// Routing holds scoring weights and tier tables, loaded from routing.yaml
	// next to the config file. Never part of the JSON file.
	Routing RoutingConfig `json:"-"`
}

// RoutingConfig mirrors routing.yaml.
type RoutingConfig struct {
	Scoring      routing.ScoringConfig         `yaml:"scoring"`
	Tiers        map[string]routing.TierConfig `yaml:"tiers"`
	AgenticTiers map[string]routing.TierConfig `yaml:"agentic_tiers"`
}

// DefaultDir returns the configuration directory (~/.frugal/frugal).
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".frugal"
	}
	return filepath.Join(home, ".frugal", "frugal")
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.json")
}

// Load reads configuration from the given path (DefaultPath when empty),
// merges environment variables on top, and loads routing.yaml from the same
// directory when present. A missing config file is not an error; env keys
// alone are a valid configuration.
func Load(path string) (*Config, error) {
	// .env in the working directory is a convenience for development setups.
	if err := godotenv.Load(); err == nil {
		log.Printf("[Config] Loaded environment from .env")
	}

	if path == "" {
		path = DefaultPath()
	}

	cfg := &Config{Providers: make(map[string]ProviderConfig)}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		if cfg.Providers == nil {
			cfg.Providers = make(map[string]ProviderConfig)
		}
	case os.IsNotExist(err):
		// Fine: run on env vars only.
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	// Expand ${ENV_VAR} references in config values.
	for id, pc := range cfg.Providers {
		pc.APIKey = expandEnv(pc.APIKey)
		pc.BaseURL = expandEnv(pc.BaseURL)
		cfg.Providers[id] = pc
	}

	// Env var keys fill providers the file didn't configure.
	for id, envName := range envKeys {
		if key := os.Getenv(envName); key != "" {
			pc := cfg.Providers[id]
			if pc.APIKey == "" {
				pc.APIKey = key
				cfg.Providers[id] = pc
			}
		}
	}

	if portStr := os.Getenv("FRUGAL_PORT"); portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil && p > 0 {
			cfg.Port = p
		} else {
			log.Printf("[Config] Ignoring invalid FRUGAL_PORT=%q", portStr)
		}
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	if err := cfg.loadRouting(filepath.Join(filepath.Dir(path), "routing.yaml")); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadRouting parses routing.yaml when it exists. Absence means defaults.
func (c *Config) loadRouting(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c.Routing); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	log.Printf("[Config] Loaded routing overrides from %s", path)
	return nil
}

// Disabled reports whether the FRUGAL_DISABLED kill switch is set.
func Disabled() bool {
	v := strings.ToLower(os.Getenv("FRUGAL_DISABLED"))
	return v == "1" || v == "true" || v == "yes"
}

// APIKey returns the configured key for a provider, or "".
func (c *Config) APIKey(provider string) string {
	return c.Providers[provider].APIKey
}

// BaseURL returns the configured base URL override for a provider, or "".
func (c *Config) BaseURL(provider string) string {
	return c.Providers[provider].BaseURL
}

// HasAnyKey reports whether at least one provider key is configured.
func (c *Config) HasAnyKey() bool {
	for _, pc := range c.Providers {
		if pc.APIKey != "" {
			return true
		}
	}
	return false
}

// ConfiguredProviders lists providers with a non-empty key, known providers
// first in a stable order.
func (c *Config) ConfiguredProviders() []string {
	var out []string
	for _, id := range []string{"openai", "anthropic", "google", "openrouter"} {
		if c.Providers[id].APIKey != "" {
			out = append(out, id)
		}
	}
	for id, pc := range c.Providers {
		if pc.APIKey != "" && envKeys[id] == "" {
			out = append(out, id)
		}
	}
	return out
}

// Tables converts the YAML tier tables into routing.Tables. Unknown tier names
// are skipped with a warning; an empty table falls back to defaults.
func (c *Config) Tables() routing.Tables {
	def := routing.DefaultTables()
	return routing.Tables{
		Tiers:        convertTiers(c.Routing.Tiers, def.Tiers),
		AgenticTiers: convertTiers(c.Routing.AgenticTiers, def.AgenticTiers),
	}
}

func convertTiers(src map[string]routing.TierConfig, def map[routing.Tier]routing.TierConfig) map[routing.Tier]routing.TierConfig {
	if len(src) == 0 {
		return def
	}
	out := make(map[routing.Tier]routing.TierConfig, len(def))
	for k, v := range def {
		out[k] = v
	}
	for name, tc := range src {
		tier, ok := routing.ParseTier(name)
		if !ok {
			log.Printf("[Config] Unknown tier %q in routing.yaml, skipping", name)
			continue
		}
		out[tier] = tc
	}
	return out
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references with environment values. Unset
// variables expand to "".
func expandEnv(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return envRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}
