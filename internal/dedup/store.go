// Package dedup coalesces identical concurrent requests and replays recently
// completed responses, so a client that double-fires a prompt pays for one
// upstream call.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long a completed response stays replayable.
	DefaultTTL = 30 * time.Second

	// DefaultMaxEntries bounds the completed-entry cache.
	DefaultMaxEntries = 256
)

// ErrAbandoned is returned to waiters when the owning request went away
// without completing (client disconnect).
var ErrAbandoned = errors.New("inflight request abandoned")

// Result is the captured upstream outcome shared between coalesced requests.
type Result struct {
	Status      int
	ContentType string
	Body        []byte
	Streamed    bool
	Model       string
}

// Flight represents one in-progress upstream call that other identical
// requests can wait on.
type Flight struct {
	done   chan struct{}
	result *Result
	err    error
}

// Wait blocks until the owner completes or abandons the flight, or ctx ends.
func (f *Flight) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type completedEntry struct {
	result  *Result
	expires time.Time
}

// Store is the dedup table. All methods are safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	inflight   map[string]*Flight
	completed  map[string]completedEntry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// NewStore creates a store with the given completed-entry TTL and size bound.
// Zero values select the defaults.
func NewStore(ttl time.Duration, maxEntries int) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Store{
		inflight:   make(map[string]*Flight),
		completed:  make(map[string]completedEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Key hashes a canonicalized outbound body. Decoding and re-encoding through
// a map sorts object keys, so field order in the client body does not split
// the dedup key.
func Key(body []byte) string {
	var decoded interface{}
	if err := json.Unmarshal(body, &decoded); err == nil {
		if canonical, err := json.Marshal(decoded); err == nil {
			body = canonical
		}
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// GetCached returns an unexpired completed response.
func (s *Store) GetCached(key string) (*Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.completed[key]
	if !ok {
		return nil, false
	}
	if s.now().After(entry.expires) {
		delete(s.completed, key)
		return nil, false
	}
	return entry.result, true
}

// GetInflight returns the flight currently owning this key, if any.
func (s *Store) GetInflight(key string) (*Flight, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.inflight[key]
	return f, ok
}

// MarkInflight claims the key. The bool reports ownership: true means the
// caller must later call Complete or RemoveInflight; false means another
// request already owns the key and the returned flight can be waited on.
func (s *Store) MarkInflight(key string) (*Flight, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.inflight[key]; ok {
		return f, false
	}
	f := &Flight{done: make(chan struct{})}
	s.inflight[key] = f
	return f, true
}

// Complete publishes the result to waiters and moves the entry to the
// completed cache.
func (s *Store) Complete(key string, result *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.inflight[key]
	if !ok {
		return
	}
	delete(s.inflight, key)
	f.result = result
	close(f.done)

	s.completed[key] = completedEntry{result: result, expires: s.now().Add(s.ttl)}
	s.evictLocked()
}

// RemoveInflight drops the claim without caching anything. Waiters receive
// ErrAbandoned and dispatch on their own.
func (s *Store) RemoveInflight(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.inflight[key]
	if !ok {
		return
	}
	delete(s.inflight, key)
	f.err = ErrAbandoned
	close(f.done)
}

// Sweep evicts expired completed entries outside the write path.
func (s *Store) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
}

// Len reports current entry counts, for the stats endpoint.
func (s *Store) Len() (inflight, completed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight), len(s.completed)
}

// evictLocked drops expired entries, then the oldest entries past the size
// bound. Caller holds the lock.
func (s *Store) evictLocked() {
	now := s.now()
	for key, entry := range s.completed {
		if now.After(entry.expires) {
			delete(s.completed, key)
		}
	}
	if len(s.completed) <= s.maxEntries {
		return
	}
	type aged struct {
		key     string
		expires time.Time
	}
	entries := make([]aged, 0, len(s.completed))
	for key, entry := range s.completed {
		entries = append(entries, aged{key, entry.expires})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].expires.Before(entries[j].expires) })
	for _, e := range entries[:len(entries)-s.maxEntries] {
		delete(s.completed, e.key)
	}
}
