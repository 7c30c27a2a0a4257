package routing

import (
	"fmt"

	"frugal/internal/catalog"
)

// Decision records how a non-pinned request was routed, for logging and the
// usage ledger.
type Decision struct {
	Tier         Tier     `json:"tier"`
	Model        string   `json:"model"`
	CostEstimate float64  `json:"cost_estimate"`
	BaselineCost float64  `json:"baseline_cost"`
	Savings      float64  `json:"savings"`
	InputTokens  int      `json:"input_tokens"`
	OutputTokens int      `json:"output_tokens"`
	Fallbacks    int      `json:"fallbacks,omitempty"`
	Reasoning    string   `json:"reasoning"`
	Notes        []string `json:"notes,omitempty"`
}

// AddNote appends a routing note (rerouting, fallback, key-resolution detours).
func (d *Decision) AddNote(format string, args ...interface{}) {
	d.Notes = append(d.Notes, fmt.Sprintf(format, args...))
}

// NewDecision builds a Decision for a chosen model within a tier. The baseline
// is the most expensive candidate in the tier, so savings expresses how much
// routing saved against the worst-case choice. Savings is always in [0, 1] and
// the estimate never exceeds the baseline.
func NewDecision(reg *catalog.Registry, res Result, tc TierConfig, chosen string, inputTokens, outputTokens int) Decision {
	d := Decision{
		Tier:         res.Tier,
		Model:        chosen,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Reasoning:    fmt.Sprintf("classified %s (score %.1f)", res.Tier, res.Score),
	}
	if len(res.Signals) > 0 {
		d.Reasoning += ": " + res.Signals[0]
	}

	if m, ok := reg.Lookup(chosen); ok {
		d.CostEstimate = catalog.EstimateCost(m, inputTokens, outputTokens)
	}
	for _, id := range tc.Candidates() {
		if m, ok := reg.Lookup(id); ok {
			if c := catalog.EstimateCost(m, inputTokens, outputTokens); c > d.BaselineCost {
				d.BaselineCost = c
			}
		}
	}
	if d.CostEstimate > d.BaselineCost {
		d.BaselineCost = d.CostEstimate
	}
	if d.BaselineCost > 0 {
		d.Savings = (d.BaselineCost - d.CostEstimate) / d.BaselineCost
	}
	return d
}
