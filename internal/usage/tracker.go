// Package usage records what every routed request cost and what routing saved,
// in memory for the stats endpoint and in a SQLite ledger for history.
package usage

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"frugal/internal/routing"
)

// Entry is one completed request.
type Entry struct {
	Model        string
	Tier         routing.Tier
	InputTokens  int
	OutputTokens int
	Cost         float64
	Baseline     float64
	Savings      float64
	LatencyMs    int64
	Fallbacks    int
	Cached       bool
}

// ModelStats aggregates per-model usage.
type ModelStats struct {
	Model          string    `json:"model"`
	Requests       int64     `json:"requests"`
	InputTokens    int64     `json:"input_tokens"`
	OutputTokens   int64     `json:"output_tokens"`
	Cost           float64   `json:"cost"`
	BaselineCost   float64   `json:"baseline_cost"`
	TotalLatencyMs int64     `json:"total_latency_ms"`
	AvgLatencyMs   float64   `json:"avg_latency_ms"`
	Errors         int64     `json:"errors"`
	LastUsed       time.Time `json:"last_used"`
}

// Snapshot is the point-in-time summary served by the stats endpoint.
type Snapshot struct {
	Since        time.Time              `json:"since"`
	Requests     int64                  `json:"requests"`
	CachedHits   int64                  `json:"cached_hits"`
	Cost         float64                `json:"cost"`
	BaselineCost float64                `json:"baseline_cost"`
	Saved        float64                `json:"saved"`
	Models       map[string]*ModelStats `json:"models"`
	Tiers        map[string]int64       `json:"tiers"`
}

// Tracker aggregates usage in memory and appends to the ledger when one is
// configured. Ledger failures are logged and swallowed; they never fail a
// request.
type Tracker struct {
	mu        sync.RWMutex
	models    map[string]*ModelStats
	tiers     map[string]int64
	requests  int64
	cached    int64
	cost      float64
	baseline  float64
	startTime time.Time

	db *sql.DB
}

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS requests (
	id TEXT PRIMARY KEY,
	ts DATETIME NOT NULL,
	model TEXT NOT NULL,
	tier TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost REAL NOT NULL,
	baseline REAL NOT NULL,
	savings REAL NOT NULL,
	latency_ms INTEGER NOT NULL,
	fallbacks INTEGER NOT NULL DEFAULT 0,
	cached INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_requests_ts ON requests (ts);
CREATE INDEX IF NOT EXISTS idx_requests_model ON requests (model);`

// NewTracker opens the ledger at dbPath. An empty path keeps the tracker
// memory-only.
func NewTracker(dbPath string) (*Tracker, error) {
	t := &Tracker{
		models:    make(map[string]*ModelStats),
		tiers:     make(map[string]int64),
		startTime: time.Now(),
	}
	if dbPath == "" {
		return t, nil
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage ledger: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure usage ledger: %w", err)
		}
	}
	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create usage ledger schema: %w", err)
	}
	t.db = db
	return t, nil
}

// Close closes the ledger.
func (t *Tracker) Close() error {
	if t.db == nil {
		return nil
	}
	return t.db.Close()
}

// Record adds a completed request to the aggregates and the ledger.
func (t *Tracker) Record(e Entry) {
	t.mu.Lock()
	now := time.Now()
	t.requests++
	if e.Cached {
		t.cached++
	}
	t.cost += e.Cost
	t.baseline += e.Baseline
	t.tiers[e.Tier.String()]++

	m, ok := t.models[e.Model]
	if !ok {
		m = &ModelStats{Model: e.Model}
		t.models[e.Model] = m
	}
	m.Requests++
	m.InputTokens += int64(e.InputTokens)
	m.OutputTokens += int64(e.OutputTokens)
	m.Cost += e.Cost
	m.BaselineCost += e.Baseline
	m.TotalLatencyMs += e.LatencyMs
	m.AvgLatencyMs = float64(m.TotalLatencyMs) / float64(m.Requests)
	m.LastUsed = now
	t.mu.Unlock()

	if t.db == nil {
		return
	}
	_, err := t.db.Exec(`
		INSERT INTO requests (id, ts, model, tier, input_tokens, output_tokens, cost, baseline, savings, latency_ms, fallbacks, cached)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), now, e.Model, e.Tier.String(), e.InputTokens, e.OutputTokens,
		e.Cost, e.Baseline, e.Savings, e.LatencyMs, e.Fallbacks, boolInt(e.Cached))
	if err != nil {
		log.Printf("[Usage] ledger insert failed: %v", err)
	}
}

// RecordError counts a failed request against the model.
func (t *Tracker) RecordError(model string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.models[model]
	if !ok {
		m = &ModelStats{Model: model}
		t.models[model] = m
	}
	m.Errors++
}

// Snapshot returns a copy of the in-memory aggregates.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	models := make(map[string]*ModelStats, len(t.models))
	for id, m := range t.models {
		copied := *m
		models[id] = &copied
	}
	tiers := make(map[string]int64, len(t.tiers))
	for k, v := range t.tiers {
		tiers[k] = v
	}
	return Snapshot{
		Since:        t.startTime,
		Requests:     t.requests,
		CachedHits:   t.cached,
		Cost:         t.cost,
		BaselineCost: t.baseline,
		Saved:        t.baseline - t.cost,
		Models:       models,
		Tiers:        tiers,
	}
}

// PeriodStats is a ledger aggregate over a time window.
type PeriodStats struct {
	Since    time.Time `json:"since"`
	Requests int64     `json:"requests"`
	Cost     float64   `json:"cost"`
	Baseline float64   `json:"baseline"`
	Saved    float64   `json:"saved"`
}

// StatsSince aggregates the ledger over the last N days. Memory-only trackers
// return zero stats.
func (t *Tracker) StatsSince(days int) (PeriodStats, error) {
	since := time.Now().AddDate(0, 0, -days)
	stats := PeriodStats{Since: since}
	if t.db == nil {
		return stats, nil
	}

	row := t.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(cost), 0), COALESCE(SUM(baseline), 0)
		FROM requests WHERE ts >= ?
	`, since)
	if err := row.Scan(&stats.Requests, &stats.Cost, &stats.Baseline); err != nil {
		return stats, fmt.Errorf("failed to query usage ledger: %w", err)
	}
	stats.Saved = stats.Baseline - stats.Cost
	return stats, nil
}

// Purge deletes ledger rows older than the retention window.
func (t *Tracker) Purge(retention time.Duration) error {
	if t.db == nil {
		return nil
	}
	cutoff := time.Now().Add(-retention)
	res, err := t.db.Exec(`DELETE FROM requests WHERE ts < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge usage ledger: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Printf("[Usage] purged %d ledger rows older than %s", n, cutoff.Format(time.RFC3339))
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
