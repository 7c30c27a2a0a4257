// Package tokens estimates token counts for routing and context-window checks.
package tokens

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// charsPerToken is the heuristic used when no BPE encoding is available
// (roughly right for English prose).
const charsPerToken = 4

// Estimator counts tokens with a tiktoken encoding when one can be loaded,
// falling back to a character heuristic otherwise. Routing only needs the
// estimate to be stable and in the right ballpark.
type Estimator struct {
	once     sync.Once
	encoding *tiktoken.Tiktoken
}

// NewEstimator creates an estimator. The encoding is loaded lazily on first use.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// Count returns the estimated token count for a string.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	e.once.Do(func() {
		// cl100k_base covers the GPT-4 family and is close enough for
		// cross-provider estimates. Failure leaves encoding nil.
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			e.encoding = enc
		}
	})
	if e.encoding != nil {
		return len(e.encoding.Encode(text, nil, nil))
	}
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	est := n / charsPerToken
	if est == 0 {
		est = 1
	}
	return est
}

// CountAll returns the summed estimate over several strings.
func (e *Estimator) CountAll(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += e.Count(t)
	}
	return total
}
