// Package gatewaycatalog maps local model ids onto the aggregator gateway's
// own catalog, refreshed in the background.
package gatewaycatalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"frugal/internal/catalog"
)

// DefaultTTL is how long a fetched gateway catalog stays fresh.
const DefaultTTL = time.Hour

// modelList is the gateway's /models response shape.
type modelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Resolver maintains a local-id to gateway-id map. Lookups read the current
// map via pointer swap; a stale map is refreshed at most once concurrently.
type Resolver struct {
	client  *http.Client
	baseURL string
	apiKey  string
	reg     *catalog.Registry
	ttl     time.Duration

	mapping atomic.Pointer[map[string]string]

	mu        sync.Mutex
	fetchedAt time.Time
	now       func() time.Time
}

// NewResolver creates a resolver against the gateway's API base URL.
func NewResolver(client *http.Client, baseURL, apiKey string, reg *catalog.Registry, ttl time.Duration) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &Resolver{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		reg:     reg,
		ttl:     ttl,
		now:     time.Now,
	}
	empty := map[string]string{}
	r.mapping.Store(&empty)
	return r
}

// Resolve returns the gateway id for a local model id. Unmapped ids pass
// through unchanged; the gateway's own 4xx then drives fallback.
func (r *Resolver) Resolve(ctx context.Context, localID string) string {
	r.refreshIfStale(ctx)
	m := *r.mapping.Load()
	if gw, ok := m[localID]; ok {
		return gw
	}
	return localID
}

// refreshIfStale fetches the gateway catalog when the cached map has aged out.
// Errors keep the previous map; the next lookup retries.
func (r *Resolver) refreshIfStale(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.fetchedAt.IsZero() && r.now().Sub(r.fetchedAt) < r.ttl {
		return
	}

	ids, err := r.fetch(ctx)
	if err != nil {
		log.Printf("[GatewayCatalog] refresh failed: %v", err)
		// Back off a little so a dead gateway is not hammered per request.
		r.fetchedAt = r.now().Add(-r.ttl + 30*time.Second)
		return
	}

	mapping := buildMapping(r.reg.Models(), ids)
	r.mapping.Store(&mapping)
	r.fetchedAt = r.now()
	log.Printf("[GatewayCatalog] refreshed: %d gateway models, %d mapped", len(ids), len(mapping))
}

func (r *Resolver) fetch(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway /models returned %d", resp.StatusCode)
	}

	var list modelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode gateway model list: %w", err)
	}
	ids := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		if m.ID != "" {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

// buildMapping matches each local model against the gateway ids, by exact id
// first, then by bare-name suffix.
func buildMapping(local []catalog.Model, gatewayIDs []string) map[string]string {
	exact := make(map[string]bool, len(gatewayIDs))
	bySuffix := make(map[string]string)
	for _, id := range gatewayIDs {
		exact[id] = true
		name := id
		if idx := strings.Index(id, "/"); idx >= 0 {
			name = id[idx+1:]
		}
		if _, taken := bySuffix[name]; !taken {
			bySuffix[name] = id
		}
	}

	out := make(map[string]string)
	for _, m := range local {
		switch {
		case exact[m.ID]:
			out[m.ID] = m.ID
		default:
			if gw, ok := bySuffix[m.Name()]; ok {
				out[m.ID] = gw
			}
		}
	}
	return out
}
