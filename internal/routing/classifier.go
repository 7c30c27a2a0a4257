// Package routing is the proxy's brain: a rule-based classifier that scores a
// prompt into a capability tier, and a selector that turns the tier into a
// concrete model plus fallback chain.
package routing

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tier is a capability/cost band. Higher tiers are more capable and more
// expensive.
type Tier int

const (
	TierSimple Tier = iota
	TierMedium
	TierComplex
	TierReasoning
)

// String returns a human-readable name for the tier.
func (t Tier) String() string {
	switch t {
	case TierSimple:
		return "simple"
	case TierMedium:
		return "medium"
	case TierComplex:
		return "complex"
	case TierReasoning:
		return "reasoning"
	default:
		return "unknown"
	}
}

// ParseTier resolves a tier name as used in routing.yaml.
func ParseTier(name string) (Tier, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "simple":
		return TierSimple, true
	case "medium":
		return TierMedium, true
	case "complex":
		return TierComplex, true
	case "reasoning":
		return TierReasoning, true
	default:
		return TierSimple, false
	}
}

// ScoringConfig holds the classifier's weights and cutoffs. All fields are
// overridable from routing.yaml; zero values are replaced with defaults.
type ScoringConfig struct {
	// Dimension weights. Negative weights push toward SIMPLE.
	ReasoningCueWeight     float64 `yaml:"reasoning_cue_weight"`
	ExtraCueWeight         float64 `yaml:"extra_cue_weight"`
	ShortPromptWeight      float64 `yaml:"short_prompt_weight"`
	LongPromptWeight       float64 `yaml:"long_prompt_weight"`
	TokenVolumeWeight      float64 `yaml:"token_volume_weight"`
	StructuredOutputWeight float64 `yaml:"structured_output_weight"`
	InterrogativeWeight    float64 `yaml:"interrogative_weight"`
	GreetingWeight         float64 `yaml:"greeting_weight"`
	CodeWeight             float64 `yaml:"code_weight"`

	// Token thresholds.
	MediumTokenThreshold  int `yaml:"medium_token_threshold"`
	ComplexTokenThreshold int `yaml:"complex_token_threshold"`

	// Tier cutoffs over the summed score.
	MediumCutoff    float64 `yaml:"medium_cutoff"`
	ComplexCutoff   float64 `yaml:"complex_cutoff"`
	ReasoningCutoff float64 `yaml:"reasoning_cutoff"`
}

// DefaultScoringConfig returns the built-in weights and cutoffs.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		ReasoningCueWeight:     8,
		ExtraCueWeight:         4,
		ShortPromptWeight:      -2,
		LongPromptWeight:       1,
		TokenVolumeWeight:      2,
		StructuredOutputWeight: 3,
		InterrogativeWeight:    -1,
		GreetingWeight:         -5,
		CodeWeight:             3,
		MediumTokenThreshold:   4_000,
		ComplexTokenThreshold:  100_000,
		MediumCutoff:           3,
		ComplexCutoff:          6,
		ReasoningCutoff:        8,
	}
}

// withDefaults fills zero-valued cutoffs/thresholds so a partial YAML override
// doesn't collapse every request into one tier.
func (c ScoringConfig) withDefaults() ScoringConfig {
	d := DefaultScoringConfig()
	if c.ReasoningCueWeight == 0 {
		c.ReasoningCueWeight = d.ReasoningCueWeight
	}
	if c.ExtraCueWeight == 0 {
		c.ExtraCueWeight = d.ExtraCueWeight
	}
	if c.ShortPromptWeight == 0 {
		c.ShortPromptWeight = d.ShortPromptWeight
	}
	if c.LongPromptWeight == 0 {
		c.LongPromptWeight = d.LongPromptWeight
	}
	if c.TokenVolumeWeight == 0 {
		c.TokenVolumeWeight = d.TokenVolumeWeight
	}
	if c.StructuredOutputWeight == 0 {
		c.StructuredOutputWeight = d.StructuredOutputWeight
	}
	if c.InterrogativeWeight == 0 {
		c.InterrogativeWeight = d.InterrogativeWeight
	}
	if c.GreetingWeight == 0 {
		c.GreetingWeight = d.GreetingWeight
	}
	if c.CodeWeight == 0 {
		c.CodeWeight = d.CodeWeight
	}
	if c.MediumTokenThreshold == 0 {
		c.MediumTokenThreshold = d.MediumTokenThreshold
	}
	if c.ComplexTokenThreshold == 0 {
		c.ComplexTokenThreshold = d.ComplexTokenThreshold
	}
	if c.MediumCutoff == 0 {
		c.MediumCutoff = d.MediumCutoff
	}
	if c.ComplexCutoff == 0 {
		c.ComplexCutoff = d.ComplexCutoff
	}
	if c.ReasoningCutoff == 0 {
		c.ReasoningCutoff = d.ReasoningCutoff
	}
	return c
}

// Input is everything the classifier looks at. The system prompt is never
// scanned for lexical cues; it contributes only through the total token
// volume, so tool-definition boilerplate can't lift every query's tier.
type Input struct {
	UserPrompt   string
	SystemPrompt string

	// UserTokens is the token estimate for the user prompt alone. Only this
	// count can trigger the hard COMPLEX pin.
	UserTokens int

	// TotalTokens is the estimate for the whole request (system + history).
	TotalTokens int
}

// Result is the classifier's verdict.
type Result struct {
	Tier    Tier     `json:"tier"`
	Score   float64  `json:"score"`
	Signals []string `json:"signals,omitempty"`
}

// reasoningCues match explicit requests for deliberate reasoning in the user
// prompt. Multilingual: en, de, fr, es, ru, zh, ja.
var reasoningCues = []*regexp.Regexp{
	regexp.MustCompile(`(?i)step[- ]by[- ]step`),
	regexp.MustCompile(`(?i)\bprove\b|\bproof\b`),
	regexp.MustCompile(`(?i)\bderive\b|\bderivation\b`),
	regexp.MustCompile(`(?i)chain[- ]of[- ]thought`),
	regexp.MustCompile(`(?i)think (?:it )?through|reason (?:about|through)`),
	regexp.MustCompile(`(?i)schritt für schritt|beweise?\b|herleiten`),
	regexp.MustCompile(`(?i)étape par étape|démontre[rz]?`),
	regexp.MustCompile(`(?i)paso a paso|demuestra`),
	regexp.MustCompile(`шаг за шагом|докажи|выведи`),
	regexp.MustCompile(`一步一步|逐步|证明|推导`),
	regexp.MustCompile(`段階的に|証明|ステップバイステップ`),
}

// structuredOutputMarkers request machine-readable output.
var structuredOutputMarkers = regexp.MustCompile(`(?i)\bjson\b|\byaml\b|\bschema\b|respond in\b`)

// interrogativeLeads are question openers, with common translations.
var interrogativeLeads = regexp.MustCompile(`(?i)^(who|what|when|where|why|how|which|was|wie|warum|que|qué|quién|pourquoi|comment|что|как|почему|什么|为什么|怎么|なぜ|何)\b`)

// codeMarkers detect code blocks or regex-looking content.
var codeMarkers = []*regexp.Regexp{
	regexp.MustCompile("```"),
	regexp.MustCompile(`(?m)^\s*(func|def|class|import|package|#include)\b`),
	regexp.MustCompile(`\(\?[imsx]*[:)-]`),
	regexp.MustCompile(`=~|\bs/[^/]+/[^/]*/\b`),
}

// Classify scores a request into a tier. It is a pure function of its inputs:
// same input, same result.
func Classify(in Input, cfg ScoringConfig) Result {
	cfg = cfg.withDefaults()

	var score float64
	var signals []string

	user := in.UserPrompt

	// 1. Explicit reasoning cues in the user prompt only.
	cues := 0
	for _, re := range reasoningCues {
		if re.MatchString(user) {
			cues++
		}
	}
	if cues > 0 {
		score += cfg.ReasoningCueWeight
		if cues > 1 {
			score += cfg.ExtraCueWeight
		}
		signals = append(signals, fmt.Sprintf("reasoning cues (%d)", cues))
	}

	// 2. User prompt length in code points.
	length := utf8.RuneCountInString(user)
	switch {
	case length <= 80:
		score += cfg.ShortPromptWeight
		signals = append(signals, "short prompt")
	case length > 400:
		score += cfg.LongPromptWeight
		signals = append(signals, "long prompt")
	}

	// 3. Token volume. The hard COMPLEX pin considers user tokens only.
	if in.TotalTokens > cfg.MediumTokenThreshold {
		score += cfg.TokenVolumeWeight
		signals = append(signals, "large token volume")
	}

	// 4. Structured output request. Scanned in the user prompt only, so a
	// tool-definition system prompt mentioning JSON can't lift the tier.
	structured := structuredOutputMarkers.MatchString(user)
	if structured {
		score += cfg.StructuredOutputWeight
		signals = append(signals, "structured output requested")
	}

	// 5. Interrogative shape.
	trimmed := strings.TrimSpace(user)
	if strings.HasSuffix(trimmed, "?") || interrogativeLeads.MatchString(trimmed) {
		score += cfg.InterrogativeWeight
		signals = append(signals, "interrogative shape")
	}

	// 6. Greeting / trivial-answer shape.
	if isTrivial(trimmed) {
		score += cfg.GreetingWeight
		signals = append(signals, "greeting/trivial")
	}

	// 7. Code or regex patterns in the user prompt.
	for _, re := range codeMarkers {
		if re.MatchString(user) {
			score += cfg.CodeWeight
			signals = append(signals, "code content")
			break
		}
	}

	tier := tierForScore(score, cfg)

	// Structured output floors the tier at MEDIUM.
	if structured && tier < TierMedium {
		tier = TierMedium
		signals = append(signals, "floored to medium (structured output)")
	}

	// Hard pin: a user prompt alone above the complex threshold is COMPLEX no
	// matter the score. A score-derived REASONING still wins (capability bias).
	if in.UserTokens > cfg.ComplexTokenThreshold && tier < TierComplex {
		tier = TierComplex
		signals = append(signals, "pinned to complex (user token volume)")
	}

	return Result{Tier: tier, Score: score, Signals: signals}
}

// tierForScore maps a score to a tier. An exactly-met threshold resolves to
// the lower tier when two cutoffs coincide (cost bias).
func tierForScore(score float64, cfg ScoringConfig) Tier {
	switch {
	case meets(score, cfg.ReasoningCutoff, cfg.ComplexCutoff):
		return TierReasoning
	case meets(score, cfg.ComplexCutoff, cfg.MediumCutoff):
		return TierComplex
	case score >= cfg.MediumCutoff:
		return TierMedium
	default:
		return TierSimple
	}
}

func meets(score, cutoff, lowerCutoff float64) bool {
	if cutoff == lowerCutoff {
		return score > cutoff
	}
	return score >= cutoff
}

// isTrivial reports greeting-shaped prompts: at most three words and no
// punctuation beyond sentence enders.
func isTrivial(s string) bool {
	if s == "" {
		return true
	}
	if len(strings.Fields(s)) > 3 {
		return false
	}
	for _, r := range s {
		if r == '?' || r == '!' || r == '.' {
			continue
		}
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return false
		}
	}
	return true
}
