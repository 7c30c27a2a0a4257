// Package proxy is the HTTP front door: it routes chat-completion requests to
// the cheapest plausible model, translates dialects, streams replies, and
// falls back across providers on failure.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"frugal/internal/catalog"
	"frugal/internal/config"
	"frugal/internal/dedup"
	"frugal/internal/gatewaycatalog"
	"frugal/internal/keys"
	"frugal/internal/metrics"
	"frugal/internal/ratelimit"
	"frugal/internal/routing"
	"frugal/internal/sessions"
	"frugal/internal/tokens"
	"frugal/internal/usage"
)

const (
	// requestTimeout bounds one chat request end to end, fallbacks included.
	requestTimeout = 180 * time.Second

	// idleTimeout closes connections with no activity.
	idleTimeout = 5 * time.Minute

	// shutdownGrace is how long Shutdown waits before force-closing sockets.
	shutdownGrace = 4 * time.Second

	// bindRetries and bindRetryDelay govern the EADDRINUSE recovery loop.
	bindRetries    = 5
	bindRetryDelay = time.Second

	ledgerRetention = 30 * 24 * time.Hour
)

// ErrAlreadyRunning means a healthy instance already owns the port; starting
// again is a no-op.
var ErrAlreadyRunning = errors.New("proxy already running on this port")

// Server owns every store the request state machine touches.
type Server struct {
	cfg       *config.Config
	registry  *catalog.Registry
	resolver  *keys.Resolver
	selector  *routing.Selector
	scoring   routing.ScoringConfig
	estimator *tokens.Estimator
	dedup     *dedup.Store
	sessions  *sessions.Store
	cooldown  *ratelimit.Cooldown
	gwCatalog *gatewaycatalog.Resolver
	usage     *usage.Tracker
	metrics   *metrics.Metrics
	client    *http.Client
	cron      *cron.Cron

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// New wires a server from loaded configuration.
func New(cfg *config.Config) (*Server, error) {
	if !cfg.HasAnyKey() {
		return nil, errors.New("no provider API keys configured")
	}

	registry := catalog.NewRegistry()
	resolver := keys.NewResolver(cfg)
	selector := routing.NewSelector(registry, cfg.Tables(), resolver.Reachable)

	tracker, err := usage.NewTracker(filepath.Join(config.DefaultDir(), "usage.db"))
	if err != nil {
		log.Printf("[Proxy] usage ledger unavailable, tracking in memory: %v", err)
		tracker, _ = usage.NewTracker("")
	}

	s := &Server{
		cfg:       cfg,
		registry:  registry,
		resolver:  resolver,
		selector:  selector,
		scoring:   cfg.Routing.Scoring,
		estimator: tokens.NewEstimator(),
		dedup:     dedup.NewStore(0, 0),
		sessions:  sessions.NewStore(0, 0),
		cooldown:  ratelimit.NewCooldown(0),
		usage:     tracker,
		metrics:   metrics.New(),
		client: &http.Client{
			// Per-request deadlines come from the request context.
			Timeout: 0,
		},
		cron:  cron.New(),
		conns: make(map[net.Conn]struct{}),
	}

	if resolver.HasGateway() {
		s.gwCatalog = gatewaycatalog.NewResolver(
			nil, resolver.GatewayBaseURL(), cfg.APIKey(keys.Gateway), registry, 0)
	}

	if _, err := s.cron.AddFunc("@hourly", func() {
		s.dedup.Sweep()
		s.sessions.Sweep()
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule maintenance: %w", err)
	}
	if _, err := s.cron.AddFunc("@daily", func() {
		if err := s.usage.Purge(ledgerRetention); err != nil {
			log.Printf("[Proxy] ledger purge failed: %v", err)
		}
		snap := s.usage.Snapshot()
		log.Printf("[Proxy] daily rollup: %d requests, $%.4f spent, $%.4f saved",
			snap.Requests, snap.Cost, snap.Saved)
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule maintenance: %w", err)
	}

	return s, nil
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/metrics", s.metrics.Handler().ServeHTTP)
	mux.HandleFunc("/v1/models", s.handleModels)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/v1/", s.handlePassthrough)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "unknown path "+r.URL.Path)
	})
	return mux
}

// Start listens and serves until ctx is cancelled, then shuts down with a
// bounded grace period. If a healthy instance already owns the port, Start
// returns ErrAlreadyRunning.
func (s *Server) Start(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:     s.Handler(),
		IdleTimeout: idleTimeout,
		ConnState:   s.trackConn,
	}

	s.cron.Start()

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	log.Printf("[Proxy] listening on port %d (%d models, providers: %s)",
		s.cfg.Port, len(s.registry.Models()), strings.Join(s.resolver.AccessibleProviders(s.registry), ", "))

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Println("[Proxy] shutting down...")
	s.cron.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Proxy] graceful shutdown timed out, closing connections: %v", err)
		s.closeConns()
		server.Close()
	}
	if err := s.usage.Close(); err != nil {
		log.Printf("[Proxy] ledger close: %v", err)
	}
	return nil
}

// listen binds the port, recovering from a stale or racing listener: a
// healthy sibling turns the start into a no-op, anything else gets retried
// before giving up.
func (s *Server) listen() (net.Listener, error) {
	addr := fmt.Sprintf(":%d", s.cfg.Port)

	ln, err := net.Listen("tcp", addr)
	if err == nil {
		return ln, nil
	}
	if !isAddrInUse(err) {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	if s.probeSiblingHealth() {
		log.Printf("[Proxy] healthy instance already on port %d", s.cfg.Port)
		return nil, ErrAlreadyRunning
	}

	for i := 0; i < bindRetries; i++ {
		time.Sleep(bindRetryDelay)
		ln, err = net.Listen("tcp", addr)
		if err == nil {
			return ln, nil
		}
	}
	return nil, fmt.Errorf("listen %s after %d retries: %w", addr, bindRetries, err)
}

// probeSiblingHealth asks whoever holds the port whether it is one of us.
func (s *Server) probeSiblingHealth() bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", s.cfg.Port))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var health struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(resp.Body, &health); err != nil {
		return false
	}
	return health.Status == "ok"
}

func isAddrInUse(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return strings.Contains(opErr.Err.Error(), "address already in use")
	}
	return strings.Contains(err.Error(), "address already in use")
}

// trackConn keeps the set of open sockets so shutdown can force-close them.
func (s *Server) trackConn(conn net.Conn, state http.ConnState) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	switch state {
	case http.StateNew:
		s.conns[conn] = struct{}{}
	case http.StateClosed, http.StateHijacked:
		delete(s.conns, conn)
	}
}

func (s *Server) closeConns() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
	s.conns = make(map[net.Conn]struct{})
}
