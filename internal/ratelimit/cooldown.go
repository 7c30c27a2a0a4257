// Package ratelimit tracks per-model upstream throttling so fallback can
// steer around models that recently answered 429.
package ratelimit

import (
	"sort"
	"sync"
	"time"
)

// DefaultCooldown is how long a 429 keeps a model deprioritized.
const DefaultCooldown = 60 * time.Second

// Cooldown is a read-mostly map of model id to last-throttled timestamp.
type Cooldown struct {
	mu       sync.RWMutex
	marks    map[string]time.Time
	cooldown time.Duration
	now      func() time.Time
}

// NewCooldown creates a cooldown map. A non-positive duration selects the
// default.
func NewCooldown(d time.Duration) *Cooldown {
	if d <= 0 {
		d = DefaultCooldown
	}
	return &Cooldown{
		marks:    make(map[string]time.Time),
		cooldown: d,
		now:      time.Now,
	}
}

// Mark records that the model was throttled now.
func (c *Cooldown) Mark(model string) {
	c.mu.Lock()
	c.marks[model] = c.now()
	c.mu.Unlock()
}

// IsLimited reports whether the model has an unexpired mark. Expired marks are
// dropped lazily.
func (c *Cooldown) IsLimited(model string) bool {
	c.mu.RLock()
	mark, ok := c.marks[model]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	if c.now().Sub(mark) < c.cooldown {
		return true
	}
	c.mu.Lock()
	// Re-check: Mark may have raced the upgrade.
	if mark, ok := c.marks[model]; ok && c.now().Sub(mark) >= c.cooldown {
		delete(c.marks, model)
	}
	c.mu.Unlock()
	return false
}

// MarkedAt returns the mark timestamp for a model, zero if none.
func (c *Cooldown) MarkedAt(model string) time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.marks[model]
}

// Prioritize orders models unlimited-first, preserving the input order among
// the unlimited and sorting the limited tail oldest-mark-first, so an
// all-limited chain is tried least recently throttled first.
func (c *Cooldown) Prioritize(models []string) []string {
	out := make([]string, 0, len(models))
	var limited []string
	for _, m := range models {
		if c.IsLimited(m) {
			limited = append(limited, m)
		} else {
			out = append(out, m)
		}
	}
	sort.SliceStable(limited, func(i, j int) bool {
		return c.MarkedAt(limited[i]).Before(c.MarkedAt(limited[j]))
	})
	return append(out, limited...)
}

// LeastRecentlyThrottled picks the single best candidate under the same
// ordering Prioritize applies: an unmarked model wins outright, otherwise the
// oldest mark does.
func (c *Cooldown) LeastRecentlyThrottled(models []string) string {
	ordered := c.Prioritize(models)
	if len(ordered) == 0 {
		return ""
	}
	return ordered[0]
}
