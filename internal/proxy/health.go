package proxy

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"frugal/internal/catalog"
	"frugal/internal/dialect"
	"frugal/internal/keys"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	accessible := s.resolver.AccessibleProviders(s.registry)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":              "ok",
		"configuredProviders": s.cfg.ConfiguredProviders(),
		"gatewayFallback":     s.resolver.HasGateway(),
		"accessibleProviders": accessible,
		"modelCount":          len(s.registry.Models()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}

	snap := s.usage.Snapshot()
	period, err := s.usage.StatsSince(days)
	if err != nil {
		log.Printf("[Stats] ledger query: %v", err)
	}
	inflight, cached := s.dedup.Len()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"uptime":  snap,
		"period":  period,
		"days":    days,
		"dedup":   map[string]int{"inflight": inflight, "cached": cached},
		"pinned":  s.sessions.Len(),
		"queried": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleModels lists the models this instance can actually serve, plus the
// auto pseudo-model.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	created := time.Now().Unix()
	data := []map[string]interface{}{{
		"id":       catalog.AutoModel,
		"object":   "model",
		"created":  created,
		"owned_by": "frugal",
	}}
	for _, m := range s.registry.ModelsByPrice() {
		if !s.resolver.Reachable(m.ID) {
			continue
		}
		data = append(data, map[string]interface{}{
			"id":       m.ID,
			"object":   "model",
			"created":  created,
			"owned_by": m.Provider,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"object": "list",
		"data":   data,
	})
}

// handlePassthrough forwards any other /v1/* call to an OpenAI-dialect
// upstream, preferring the gateway.
func (s *Server) handlePassthrough(w http.ResponseWriter, r *http.Request) {
	access, ok := s.passthroughAccess()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no_provider_configured",
			"no passthrough upstream available")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to read body")
		return
	}

	url := strings.TrimRight(access.BaseURL, "/") + strings.TrimPrefix(r.URL.Path, "/v1")
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, url, strings.NewReader(string(body)))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	dialect.ApplyHeaders(req.Header, catalog.DialectOpenAI, access.APIKey, access.ViaGateway)
	if ct := r.Header.Get("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		writeError(w, http.StatusBadGateway, "bad_upstream", err.Error())
		return
	}
	defer resp.Body.Close()

	for k, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// passthroughAccess picks the upstream for raw /v1/* forwarding: the gateway
// when keyed, else the first configured OpenAI-dialect provider.
func (s *Server) passthroughAccess() (keys.Access, bool) {
	if s.resolver.HasGateway() {
		acc, err := s.resolver.Resolve(keys.Gateway + "/passthrough")
		if err == nil {
			return acc, true
		}
	}
	for _, p := range s.cfg.ConfiguredProviders() {
		if catalog.NativeDialect(p) != catalog.DialectOpenAI {
			continue
		}
		acc, err := s.resolver.Resolve(p + "/passthrough")
		if err == nil {
			return acc, true
		}
	}
	return keys.Access{}, false
}
