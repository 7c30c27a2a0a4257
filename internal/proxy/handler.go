package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"frugal/internal/catalog"
	"frugal/internal/dedup"
	"frugal/internal/dialect"
	"frugal/internal/routing"
	"frugal/internal/sessions"
	"frugal/internal/usage"
)

const maxBodyBytes = 32 << 20

// autoModels are the model names that hand routing to the classifier.
var autoModels = map[string]bool{
	"auto":        true,
	"frugal/auto": true,
}

// route is everything CLASSIFY and RESOLVE_KEY produced for one request.
type route struct {
	candidates []string
	tier       routing.Tier
	decision   *routing.Decision
	pinned     bool
}

func decodeJSON(r io.Reader, v interface{}) error {
	return json.NewDecoder(r).Decode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to read body")
		return
	}
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "body is not valid JSON")
		return
	}

	stream, _ := body["stream"].(bool)
	started := time.Now()

	rt := s.route(r, body)
	if len(rt.candidates) == 0 {
		writeError(w, http.StatusServiceUnavailable, "no_provider_configured",
			"no reachable model for this request")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	// The sink flushes SSE headers and starts heartbeating immediately, so a
	// streaming client sees bytes even while this request waits on a
	// coalesced flight or a slow upstream.
	var sink *streamSink
	if stream {
		sink = newStreamSink(w)
		defer sink.Close()
	}

	key := dedup.Key(raw)
	if res, ok := s.dedup.GetCached(key); ok {
		s.metrics.DedupHitsTotal.WithLabelValues("cached").Inc()
		s.replay(w, sink, res)
		s.recordUsage(rt, res.Model, started, true)
		return
	}

	flight, owner := s.dedup.MarkInflight(key)
	for !owner {
		res, err := flight.Wait(ctx)
		if err == nil && res != nil {
			s.metrics.DedupHitsTotal.WithLabelValues("coalesced").Inc()
			s.replay(w, sink, res)
			s.recordUsage(rt, res.Model, started, true)
			return
		}
		if err != dedup.ErrAbandoned {
			s.surfaceFailure(w, sink, http.StatusGatewayTimeout,
				[]byte(`{"error":{"code":"timeout","message":"request deadline exceeded"}}`))
			return
		}
		// The owner disconnected. Race the other waiters for the claim; a
		// loser waits on the winner's new flight instead of dispatching a
		// second upstream call.
		flight, owner = s.dedup.MarkInflight(key)
	}

	completed := false
	defer func() {
		if !completed {
			s.dedup.RemoveInflight(key)
		}
	}()

	res, errStatus, errBody := s.dispatch(ctx, w, body, rt, sink)
	if res == nil {
		s.dedup.RemoveInflight(key)
		completed = true
		if errStatus != 0 {
			s.surfaceFailure(w, sink, errStatus, errBody)
		}
		return
	}
	s.dedup.Complete(key, res)
	completed = true
	s.recordUsage(rt, res.Model, started, false)
}

// route implements CLASSIFY and candidate construction. A pinned session or
// an explicit model skips the classifier.
func (s *Server) route(r *http.Request, body map[string]interface{}) route {
	requested, _ := body["model"].(string)
	if requested == "" {
		requested = catalog.AutoModel
	}

	if !autoModels[requested] {
		if m, ok := s.registry.Lookup(requested); ok {
			tier := s.tierOf(m.ID)
			cands, _ := s.orderCandidates([]string{m.ID}, body)
			return route{candidates: cands, tier: tier}
		}
		// Unknown model: pass it through untouched and let the upstream
		// complain.
		cands, _ := s.orderCandidates([]string{requested}, body)
		return route{candidates: cands, tier: routing.TierMedium}
	}

	sessionID := sessions.SessionID(r)
	if pin, ok := s.sessions.Get(sessionID); ok {
		s.sessions.Touch(sessionID)
		tc, _ := s.selector.Select(pin.Tier, false)
		cands, _ := s.orderCandidates(dedupe(append([]string{pin.Model}, tc.Candidates()...)), body)
		return route{candidates: cands, tier: pin.Tier, pinned: true}
	}

	userText, systemText, totalTokens, userTokens := s.classifierInput(body)
	result := routing.Classify(routing.Input{
		UserPrompt:   userText,
		SystemPrompt: systemText,
		UserTokens:   userTokens,
		TotalTokens:  totalTokens,
	}, s.scoring)

	agentic := isAgentic(r, body)
	tc, ok := s.selector.Select(result.Tier, agentic)
	if !ok {
		return route{tier: result.Tier}
	}

	candidates, notes := s.orderCandidates(tc.Candidates(), body)
	if len(candidates) == 0 {
		return route{tier: result.Tier}
	}

	decision := routing.NewDecision(s.registry, result, tc, candidates[0], totalTokens, s.expectedOutputTokens(body))
	for _, n := range notes {
		decision.AddNote("%s", n)
	}
	if sessionID != "" {
		s.sessions.Set(sessionID, candidates[0], result.Tier)
	}
	log.Printf("[Router] tier=%s score=%.1f model=%s savings=%.0f%% signals=%v",
		result.Tier, result.Score, candidates[0], decision.Savings*100, result.Signals)
	if len(decision.Notes) > 0 {
		log.Printf("[Router] notes: %s", strings.Join(decision.Notes, "; "))
	}

	return route{candidates: candidates, tier: result.Tier, decision: &decision}
}

// classifierInput flattens the message list into classifier inputs.
func (s *Server) classifierInput(body map[string]interface{}) (userText, systemText string, totalTokens, userTokens int) {
	messages, _ := body["messages"].([]interface{})
	var users, systems []string
	var all []string
	for _, raw := range messages {
		msg, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		text := dialect.ContentText(msg["content"])
		all = append(all, text)
		switch role {
		case "user":
			users = append(users, text)
		case "system", "developer":
			systems = append(systems, text)
		}
	}
	userText = strings.Join(users, "\n")
	systemText = strings.Join(systems, "\n")
	userTokens = s.estimator.Count(userText)
	totalTokens = s.estimator.CountAll(all...)
	return userText, systemText, totalTokens, userTokens
}

// isAgentic decides whether the agentic routing table applies: either the
// client says so outright, or the conversation shows an ongoing tool loop.
func isAgentic(r *http.Request, body map[string]interface{}) bool {
	switch strings.ToLower(r.Header.Get("X-Frugal-Agentic")) {
	case "true", "1", "yes":
		return true
	}
	tools, hasTools := body["tools"].([]interface{})
	if !hasTools || len(tools) == 0 {
		return false
	}
	toolTurns := 0
	if messages, ok := body["messages"].([]interface{}); ok {
		for _, raw := range messages {
			msg, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			if role, _ := msg["role"].(string); role != "assistant" {
				continue
			}
			if calls, ok := msg["tool_calls"].([]interface{}); ok && len(calls) > 0 {
				toolTurns++
			}
		}
	}
	return toolTurns >= 2
}

// orderCandidates applies the RESOLVE_KEY and FALLBACK_NEXT filters:
// reachability, context-window fit, and rate-limit deprioritization. The
// returned notes say why the ordering differs from the tier's own, for the
// routing decision.
func (s *Server) orderCandidates(candidates []string, body map[string]interface{}) ([]string, []string) {
	needed := s.neededContext(body)

	var fit []string
	var notes []string
	for _, id := range candidates {
		if !s.resolver.Reachable(id) {
			notes = append(notes, fmt.Sprintf("skipped %s: unreachable with current keys", id))
			continue
		}
		if m, ok := s.registry.Lookup(id); ok && m.ContextWindow > 0 && m.ContextWindow < needed {
			log.Printf("[Router] skipping %s: context window %d < %d needed", id, m.ContextWindow, needed)
			notes = append(notes, fmt.Sprintf("skipped %s: context window %d < %d needed", id, m.ContextWindow, needed))
			continue
		}
		fit = append(fit, id)
	}
	if len(fit) == 0 {
		// Nothing fits the context estimate; fall back to the reachable
		// candidate with the largest window rather than failing outright.
		var best string
		bestWindow := -1
		for _, id := range candidates {
			if !s.resolver.Reachable(id) {
				continue
			}
			if m, ok := s.registry.Lookup(id); ok && m.ContextWindow > bestWindow {
				best, bestWindow = id, m.ContextWindow
			}
		}
		if best == "" {
			return nil, notes
		}
		notes = append(notes, fmt.Sprintf("no window fits %d tokens, using largest: %s", needed, best))
		fit = []string{best}
	}

	ordered := s.cooldown.Prioritize(fit)
	if ordered[0] != fit[0] {
		notes = append(notes, fmt.Sprintf("deprioritized %s: cooling down after 429", fit[0]))
	}
	return ordered, notes
}

// neededContext estimates input plus requested completion tokens.
func (s *Server) neededContext(body map[string]interface{}) int {
	messages, _ := body["messages"].([]interface{})
	var texts []string
	for _, raw := range messages {
		if msg, ok := raw.(map[string]interface{}); ok {
			texts = append(texts, dialect.ContentText(msg["content"]))
		}
	}
	return s.estimator.CountAll(texts...) + s.expectedOutputTokens(body)
}

func (s *Server) expectedOutputTokens(body map[string]interface{}) int {
	if v, ok := body["max_tokens"].(float64); ok {
		return int(v)
	}
	if v, ok := body["max_completion_tokens"].(float64); ok {
		return int(v)
	}
	return 4096
}

// tierOf finds which default tier a model sits in, for usage attribution of
// explicitly named models.
func (s *Server) tierOf(modelID string) routing.Tier {
	tables := s.selector.Tables()
	for tier := routing.TierSimple; tier <= routing.TierReasoning; tier++ {
		for _, id := range tables.Tiers[tier].Candidates() {
			if id == modelID {
				return tier
			}
		}
	}
	return routing.TierMedium
}

// dispatch runs the DISPATCH/FALLBACK_NEXT loop. A non-nil sink means the
// request is streaming and headers are already out. It returns the captured
// result on success; on failure it returns the status and body to surface.
func (s *Server) dispatch(ctx context.Context, w http.ResponseWriter, body map[string]interface{}, rt route, sink *streamSink) (*dedup.Result, int, []byte) {
	stream := sink != nil

	lastStatus := http.StatusServiceUnavailable
	lastBody := []byte(`{"error":{"code":"no_provider_configured","message":"all candidates failed"}}`)

	attempts := 0
	for _, model := range rt.candidates {
		if attempts >= MaxFallbackAttempts {
			break
		}
		if ctx.Err() != nil {
			return nil, http.StatusGatewayTimeout, []byte(`{"error":{"code":"timeout","message":"request deadline exceeded"}}`)
		}

		access, err := s.resolver.Resolve(model)
		if err != nil {
			continue
		}
		wireModel := model
		if access.ViaGateway && s.gwCatalog != nil {
			wireModel = s.gwCatalog.Resolve(ctx, model)
		}

		outBody, err := dialect.TranslateRequest(body, access.Dialect(), wireModel, access.ViaGateway)
		if err != nil {
			log.Printf("[Proxy] translate for %s: %v", model, err)
			continue
		}
		payload, err := json.Marshal(outBody)
		if err != nil {
			continue
		}

		attempts++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			dialect.UpstreamURL(access.BaseURL, access.Dialect(), wireModel, stream),
			bytes.NewReader(payload))
		if err != nil {
			continue
		}
		dialect.ApplyHeaders(req.Header, access.Dialect(), access.APIKey, access.ViaGateway)

		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, http.StatusGatewayTimeout, []byte(`{"error":{"code":"timeout","message":"request deadline exceeded"}}`)
			}
			log.Printf("[Proxy] dial %s: %v", model, err)
			s.metrics.FallbacksTotal.WithLabelValues(model).Inc()
			s.noteFallback(rt, "fallback from %s: dial error", model)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
			resp.Body.Close()
			lastStatus, lastBody = resp.StatusCode, errBody
			s.usage.RecordError(model)
			s.metrics.RequestsTotal.WithLabelValues(model, rt.tier.String(), fmt.Sprint(resp.StatusCode)).Inc()

			if resp.StatusCode == http.StatusTooManyRequests {
				s.cooldown.Mark(model)
				s.metrics.RateLimitsTotal.WithLabelValues(model).Inc()
			}
			if isRetryable(resp.StatusCode, errBody) {
				log.Printf("[Proxy] %s returned %d, trying next candidate", model, resp.StatusCode)
				s.metrics.FallbacksTotal.WithLabelValues(model).Inc()
				s.noteFallback(rt, "fallback from %s after %d", model, resp.StatusCode)
				continue
			}
			return nil, resp.StatusCode, errBody
		}

		var res *dedup.Result
		if stream {
			res, err = s.relayStream(ctx, sink, resp, access.Dialect(), model)
		} else {
			res, err = s.relayOnce(w, resp, access.Dialect(), model)
		}
		if err != nil {
			log.Printf("[Proxy] relay %s: %v", model, err)
			if sink != nil && sink.started() {
				// Bytes already reached the client; terminate the stream
				// in place instead of surfacing a second error.
				sink.writeErrorFrame(http.StatusBadGateway, "bad_upstream", "upstream stream broke")
				return nil, 0, nil
			}
			return nil, http.StatusBadGateway, []byte(`{"error":{"code":"bad_upstream","message":"malformed upstream response"}}`)
		}
		s.metrics.RequestsTotal.WithLabelValues(model, rt.tier.String(), "200").Inc()
		return res, 0, nil
	}
	return nil, lastStatus, lastBody
}

// noteFallback records a fallback hop on the routing decision, when one was
// made. Explicit-model and pinned requests carry no decision.
func (s *Server) noteFallback(rt route, format string, args ...interface{}) {
	if rt.decision == nil {
		return
	}
	rt.decision.AddNote(format, args...)
	rt.decision.Fallbacks++
}

// surfaceFailure reports a dispatch failure the right way for the transport:
// a status reply on the plain path, an error frame through the sink when SSE
// headers are already out.
func (s *Server) surfaceFailure(w http.ResponseWriter, sink *streamSink, status int, body []byte) {
	if sink != nil {
		sink.writeErrorFrame(status, "upstream_error", strings.TrimSpace(string(body)))
		return
	}
	var parsed map[string]interface{}
	if json.Unmarshal(body, &parsed) == nil && parsed["error"] != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(body)
		return
	}
	writeError(w, status, "upstream_error", strings.TrimSpace(string(body)))
}

// replay serves a stored result to a deduplicated request.
func (s *Server) replay(w http.ResponseWriter, sink *streamSink, res *dedup.Result) {
	if sink != nil {
		if res.Streamed {
			sink.WriteFrame(res.Body)
			return
		}
		// Stored as a plain completion; re-emit it as chunks so the client
		// still gets the stream it asked for.
		if frames, err := completionFrames(res.Body, res.Model); err == nil {
			for _, frame := range frames {
				sink.WriteFrame(frame)
			}
			return
		}
		sink.writeErrorFrame(http.StatusBadGateway, "bad_upstream", "stored response is not replayable")
		return
	}
	contentType := res.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(res.Status)
	w.Write(res.Body)
}

// recordUsage reports a completed request to the tracker and metrics.
func (s *Server) recordUsage(rt route, model string, started time.Time, cached bool) {
	latency := time.Since(started).Milliseconds()
	entry := usageEntry(rt, model, latency, cached)
	s.usage.Record(entry)

	s.metrics.RequestDuration.WithLabelValues(model).Observe(time.Since(started).Seconds())
	s.metrics.TokensTotal.WithLabelValues(model, "input").Add(float64(entry.InputTokens))
	s.metrics.TokensTotal.WithLabelValues(model, "output").Add(float64(entry.OutputTokens))
	if !cached {
		s.metrics.CostDollars.WithLabelValues(model).Add(entry.Cost)
		if delta := entry.Baseline - entry.Cost; delta > 0 {
			s.metrics.SavedDollars.Add(delta)
		}
	}
}

// usageEntry builds the ledger entry for a finished request. Cost figures
// come from the routing decision when one was made; explicit-model requests
// record zero cost deltas.
func usageEntry(rt route, model string, latencyMs int64, cached bool) usage.Entry {
	e := usage.Entry{Model: model, Tier: rt.tier, LatencyMs: latencyMs, Cached: cached}
	if rt.decision != nil {
		e.Cost = rt.decision.CostEstimate
		e.Baseline = rt.decision.BaselineCost
		e.Savings = rt.decision.Savings
		e.InputTokens = rt.decision.InputTokens
		e.OutputTokens = rt.decision.OutputTokens
		e.Fallbacks = rt.decision.Fallbacks
	}
	return e
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
