package routing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func classify(t *testing.T, user string) Result {
	t.Helper()
	return Classify(Input{UserPrompt: user, UserTokens: len(user) / 4, TotalTokens: len(user) / 4}, DefaultScoringConfig())
}

func TestClassify_Greeting(t *testing.T) {
	res := classify(t, "hello")
	assert.Equal(t, TierSimple, res.Tier)
	assert.Negative(t, res.Score)
}

func TestClassify_SimpleQuestion(t *testing.T) {
	res := classify(t, "What is the capital of France?")
	assert.Equal(t, TierSimple, res.Tier)
}

func TestClassify_ReasoningPrompt(t *testing.T) {
	res := classify(t, "Prove that sqrt(2) is irrational step by step using proof by contradiction")
	assert.Equal(t, TierReasoning, res.Tier)
	assert.NotEmpty(t, res.Signals)
}

func TestClassify_MultilingualReasoningCues(t *testing.T) {
	prompts := []string{
		"Beweise die Aussage Schritt für Schritt",
		"Démontre le théorème étape par étape",
		"докажи теорему шаг за шагом",
		"请一步一步证明这个定理",
	}
	for _, p := range prompts {
		res := classify(t, p)
		assert.GreaterOrEqual(t, res.Tier, TierComplex, "prompt: %s", p)
	}
}

func TestClassify_StructuredOutputFloorsMedium(t *testing.T) {
	res := classify(t, "List the planets. Respond in JSON.")
	assert.GreaterOrEqual(t, res.Tier, TierMedium)
}

func TestClassify_Deterministic(t *testing.T) {
	in := Input{UserPrompt: "Explain how TLS handshakes work", UserTokens: 8, TotalTokens: 900}
	cfg := DefaultScoringConfig()

	a := Classify(in, cfg)
	b := Classify(in, cfg)
	assert.Equal(t, a, b)
}

func TestClassify_SystemPromptNeverScanned(t *testing.T) {
	sys := strings.Repeat("You must reason step by step and prove everything. JSON schema tools. ", 700)
	user := "What is 2+2?"

	plain := Classify(Input{UserPrompt: user, UserTokens: 3, TotalTokens: 3}, DefaultScoringConfig())
	withSys := Classify(Input{
		UserPrompt:   user,
		SystemPrompt: sys,
		UserTokens:   3,
		TotalTokens:  3 + len(sys)/4,
	}, DefaultScoringConfig())

	// Reasoning keywords in the system prompt must not lift the tier past the
	// token-volume contribution; the result stays below COMPLEX.
	assert.Less(t, withSys.Tier, TierComplex)
	assert.LessOrEqual(t, plain.Tier, TierMedium)
}

func TestClassify_HardPinIsUserOnly(t *testing.T) {
	// Huge system prompt, tiny user prompt: no COMPLEX pin.
	res := Classify(Input{
		UserPrompt:  "hi",
		UserTokens:  1,
		TotalTokens: 150_000,
	}, DefaultScoringConfig())
	assert.Less(t, res.Tier, TierComplex)

	// Huge user prompt: pinned.
	res = Classify(Input{
		UserPrompt:  strings.Repeat("data ", 500),
		UserTokens:  125_000,
		TotalTokens: 125_000,
	}, DefaultScoringConfig())
	assert.Equal(t, TierComplex, res.Tier)
}

func TestClassify_ReasoningBeatsHardPin(t *testing.T) {
	res := Classify(Input{
		UserPrompt:  "Prove this lemma step by step and derive the bound: " + strings.Repeat("x ", 300),
		UserTokens:  125_000,
		TotalTokens: 125_000,
	}, DefaultScoringConfig())
	assert.Equal(t, TierReasoning, res.Tier)
}

func TestClassify_MonotoneEscalation(t *testing.T) {
	base := "Tell me about the weather in Lisbon today please and thanks"
	baseline := classify(t, base)

	for _, kw := range []string{"prove", "step by step", "chain of thought", "derive"} {
		escalated := classify(t, base+" "+kw)
		assert.GreaterOrEqual(t, escalated.Tier, baseline.Tier, "keyword: %s", kw)
	}
}

func TestClassify_CodeContent(t *testing.T) {
	with := classify(t, "Review this patch please and look carefully:\n```go\nfunc main() {}\n```")
	without := classify(t, "Review this patch please and look carefully")
	assert.Greater(t, with.Score, without.Score)
}

func TestTierForScore_ExactTieGoesLower(t *testing.T) {
	cfg := DefaultScoringConfig()
	cfg.ComplexCutoff = 6
	cfg.ReasoningCutoff = 6

	assert.Equal(t, TierComplex, tierForScore(6, cfg))
	assert.Equal(t, TierReasoning, tierForScore(6.5, cfg))
}

func TestTier_String(t *testing.T) {
	assert.Equal(t, "simple", TierSimple.String())
	assert.Equal(t, "medium", TierMedium.String())
	assert.Equal(t, "complex", TierComplex.String())
	assert.Equal(t, "reasoning", TierReasoning.String())
	assert.Equal(t, "unknown", Tier(42).String())
}

func TestWithDefaults_FillsZeroes(t *testing.T) {
	var cfg ScoringConfig
	filled := cfg.withDefaults()

	require.NotZero(t, filled.ReasoningCutoff)
	assert.Equal(t, DefaultScoringConfig(), filled)
}
