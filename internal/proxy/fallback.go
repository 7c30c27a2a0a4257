package proxy

import (
	"regexp"
)

// MaxFallbackAttempts caps total dispatches for one request.
const MaxFallbackAttempts = 3

// retryableStatuses are the upstream statuses that may trigger fallback.
var retryableStatuses = map[int]bool{
	400: true, 401: true, 402: true, 403: true, 429: true,
	500: true, 502: true, 503: true, 504: true,
}

// errorClassPatterns recognize provider error bodies worth falling back on:
// billing, quota, rate limiting, capacity, bad keys, missing models,
// overload. A 4xx without one of these is the client's own mistake and is
// surfaced as-is.
var errorClassPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)billing|payment|credit|insufficient.?funds`),
	regexp.MustCompile(`(?i)quota|exceeded.{0,20}limit`),
	regexp.MustCompile(`(?i)rate.?limit|too.?many.?requests`),
	regexp.MustCompile(`(?i)capacity|overloaded|over.?capacity`),
	regexp.MustCompile(`(?i)invalid.{0,10}(api.?)?key|authentication|unauthorized|expired.{0,10}key`),
	regexp.MustCompile(`(?i)model.{0,20}(unavailable|not.?found|does.?not.?exist|decommissioned)`),
}

// isRetryable reports whether an upstream failure should move to the next
// fallback candidate. Every 5xx in the set qualifies; a 4xx only when its
// body matches a known error class.
func isRetryable(status int, body []byte) bool {
	if !retryableStatuses[status] {
		return false
	}
	if status >= 500 {
		return true
	}
	for _, p := range errorClassPatterns {
		if p.Match(body) {
			return true
		}
	}
	return false
}
