package routing

import (
	"log"

	"frugal/internal/catalog"
)

// TierConfig binds a tier to its primary model and ordered fallback list.
type TierConfig struct {
	Primary  string   `yaml:"primary" json:"primary"`
	Fallback []string `yaml:"fallback" json:"fallback"`
}

// Candidates returns primary followed by the fallbacks.
func (tc TierConfig) Candidates() []string {
	out := make([]string, 0, 1+len(tc.Fallback))
	out = append(out, tc.Primary)
	out = append(out, tc.Fallback...)
	return out
}

// Tables holds the two tier-to-model tables: the default one and the agentic
// one consulted when a request looks like an agent tool-call loop.
type Tables struct {
	Tiers        map[Tier]TierConfig
	AgenticTiers map[Tier]TierConfig
}

// DefaultTables returns the built-in tier tables. Every referenced model must
// exist in the registry; NewSelector verifies that.
func DefaultTables() Tables {
	return Tables{
		Tiers: map[Tier]TierConfig{
			TierSimple: {
				Primary:  "google/gemini-2.0-flash",
				Fallback: []string{"openai/gpt-4o-mini", "anthropic/claude-3-5-haiku"},
			},
			TierMedium: {
				Primary:  "openai/gpt-4o-mini",
				Fallback: []string{"google/gemini-2.5-pro", "anthropic/claude-3-5-haiku"},
			},
			TierComplex: {
				Primary:  "anthropic/claude-sonnet-4",
				Fallback: []string{"google/gemini-2.5-pro", "openai/gpt-4o"},
			},
			TierReasoning: {
				Primary:  "openai/o3-mini",
				Fallback: []string{"anthropic/claude-opus-4", "google/gemini-2.5-pro"},
			},
		},
		AgenticTiers: map[Tier]TierConfig{
			TierSimple: {
				Primary:  "anthropic/claude-3-5-haiku",
				Fallback: []string{"openai/gpt-4o"},
			},
			TierMedium: {
				Primary:  "anthropic/claude-3-5-haiku",
				Fallback: []string{"anthropic/claude-sonnet-4", "openai/gpt-4o"},
			},
			TierComplex: {
				Primary:  "anthropic/claude-sonnet-4",
				Fallback: []string{"openai/gpt-4o", "anthropic/claude-opus-4"},
			},
			TierReasoning: {
				Primary:  "anthropic/claude-opus-4",
				Fallback: []string{"openai/o3-mini", "anthropic/claude-sonnet-4"},
			},
		},
	}
}

// ReachableFunc reports whether a model can currently be dispatched (a key or
// gateway fallback exists for its provider).
type ReachableFunc func(modelID string) bool

// Selector maps tiers to models with tier-widening when a whole tier is
// unreachable under the current key configuration.
type Selector struct {
	registry  *catalog.Registry
	tables    Tables
	reachable ReachableFunc
}

// NewSelector creates a selector. Tier entries referencing models missing from
// the registry are dropped with a warning rather than failing startup.
func NewSelector(reg *catalog.Registry, tables Tables, reachable ReachableFunc) *Selector {
	if tables.Tiers == nil {
		tables = DefaultTables()
	}
	tables.Tiers = pruneUnknown(reg, tables.Tiers)
	tables.AgenticTiers = pruneUnknown(reg, tables.AgenticTiers)
	if reachable == nil {
		reachable = func(string) bool { return true }
	}
	return &Selector{registry: reg, tables: tables, reachable: reachable}
}

func pruneUnknown(reg *catalog.Registry, tiers map[Tier]TierConfig) map[Tier]TierConfig {
	out := make(map[Tier]TierConfig, len(tiers))
	for tier, tc := range tiers {
		if _, ok := reg.Lookup(tc.Primary); !ok {
			log.Printf("[Selector] Dropping unknown primary %q from %s tier", tc.Primary, tier)
			tc.Primary = ""
		}
		var kept []string
		for _, fb := range tc.Fallback {
			if _, ok := reg.Lookup(fb); ok {
				kept = append(kept, fb)
			} else {
				log.Printf("[Selector] Dropping unknown fallback %q from %s tier", fb, tier)
			}
		}
		tc.Fallback = kept
		if tc.Primary == "" && len(kept) > 0 {
			tc.Primary = kept[0]
			tc.Fallback = kept[1:]
		}
		out[tier] = tc
	}
	return out
}

// Select returns the tier's primary model and ordered fallbacks. When no model
// in the requested tier is reachable, it widens to the next tier up, then
// down, until one is. The returned config always names at least one model;
// ok is false only when nothing in any tier is reachable.
func (s *Selector) Select(tier Tier, agentic bool) (TierConfig, bool) {
	tables := s.tables.Tiers
	if agentic && len(s.tables.AgenticTiers) > 0 {
		tables = s.tables.AgenticTiers
	}

	for _, t := range widenOrder(tier) {
		tc, ok := tables[t]
		if !ok {
			continue
		}
		for _, id := range tc.Candidates() {
			if id != "" && s.reachable(id) {
				if t != tier {
					log.Printf("[Selector] Tier %s empty under current keys, widened to %s", tier, t)
				}
				return tc, true
			}
		}
	}
	return TierConfig{}, false
}

// widenOrder yields the tier itself, then each tier above in order, then each
// below.
func widenOrder(tier Tier) []Tier {
	order := []Tier{tier}
	for t := tier + 1; t <= TierReasoning; t++ {
		order = append(order, t)
	}
	for t := tier - 1; t >= TierSimple; t-- {
		order = append(order, t)
	}
	return order
}

// Tables returns the selector's (pruned) tier tables.
func (s *Selector) Tables() Tables {
	return s.tables
}
