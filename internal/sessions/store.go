// Package sessions pins routed conversations to a model, so follow-up turns
// in the same session do not flap between providers.
package sessions

import (
	"container/list"
	"net/http"
	"sync"
	"time"

	"frugal/internal/routing"
)

const (
	// DefaultTTL is how long a pin survives without activity.
	DefaultTTL = 30 * time.Minute

	// DefaultMaxEntries bounds the pin table.
	DefaultMaxEntries = 1024
)

// sessionHeaders are checked in order for a session id.
var sessionHeaders = []string{"X-Session-Id", "X-Request-Session"}

// Pin records the model a session was routed to.
type Pin struct {
	Model    string
	Tier     routing.Tier
	LastSeen time.Time
}

type entry struct {
	id  string
	pin Pin
}

// Store is a bounded LRU of session pins. Safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front = most recently used
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// NewStore creates a pin store. Zero values select the defaults.
func NewStore(ttl time.Duration, maxEntries int) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Store{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// SessionID extracts the client's session id from request headers: the first
// of X-Session-Id, X-Request-Session, or a cookie named "session".
func SessionID(r *http.Request) string {
	for _, h := range sessionHeaders {
		if v := r.Header.Get(h); v != "" {
			return v
		}
	}
	if c, err := r.Cookie("session"); err == nil && c.Value != "" {
		return c.Value
	}
	return ""
}

// Set pins a session to a model, refreshing its position.
func (s *Store) Set(id, model string, tier routing.Tier) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if el, ok := s.entries[id]; ok {
		el.Value.(*entry).pin = Pin{Model: model, Tier: tier, LastSeen: now}
		s.order.MoveToFront(el)
		return
	}
	el := s.order.PushFront(&entry{id: id, pin: Pin{Model: model, Tier: tier, LastSeen: now}})
	s.entries[id] = el

	s.sweepLocked(now)
	for len(s.entries) > s.maxEntries {
		s.evictOldestLocked()
	}
}

// Get returns an unexpired pin.
func (s *Store) Get(id string) (Pin, bool) {
	if id == "" {
		return Pin{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[id]
	if !ok {
		return Pin{}, false
	}
	e := el.Value.(*entry)
	if s.now().Sub(e.pin.LastSeen) > s.ttl {
		s.removeLocked(el)
		return Pin{}, false
	}
	return e.pin, true
}

// Touch refreshes a pin's TTL and recency.
func (s *Store) Touch(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[id]
	if !ok {
		return
	}
	el.Value.(*entry).pin.LastSeen = s.now()
	s.order.MoveToFront(el)
}

// Sweep evicts expired pins outside the write path.
func (s *Store) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(s.now())
}

// Len reports the current pin count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// sweepLocked drops expired pins from the cold end until it hits a live one.
// Amortized O(1): each entry is swept at most once.
func (s *Store) sweepLocked(now time.Time) {
	for {
		el := s.order.Back()
		if el == nil {
			return
		}
		if now.Sub(el.Value.(*entry).pin.LastSeen) <= s.ttl {
			return
		}
		s.removeLocked(el)
	}
}

func (s *Store) evictOldestLocked() {
	if el := s.order.Back(); el != nil {
		s.removeLocked(el)
	}
}

func (s *Store) removeLocked(el *list.Element) {
	s.order.Remove(el)
	delete(s.entries, el.Value.(*entry).id)
}
