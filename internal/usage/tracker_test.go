package usage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frugal/internal/routing"
)

func newLedgerTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := NewTracker(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestRecordAndSnapshot(t *testing.T) {
	tr, err := NewTracker("")
	require.NoError(t, err)

	tr.Record(Entry{
		Model: "google/gemini-2.0-flash", Tier: routing.TierSimple,
		InputTokens: 100, OutputTokens: 50,
		Cost: 0.001, Baseline: 0.01, Savings: 0.9, LatencyMs: 120,
	})
	tr.Record(Entry{
		Model: "google/gemini-2.0-flash", Tier: routing.TierSimple,
		InputTokens: 10, OutputTokens: 5,
		Cost: 0.0001, Baseline: 0.001, LatencyMs: 80, Cached: true,
	})
	tr.RecordError("openai/gpt-4o")

	snap := tr.Snapshot()
	assert.Equal(t, int64(2), snap.Requests)
	assert.Equal(t, int64(1), snap.CachedHits)
	assert.InDelta(t, 0.0011, snap.Cost, 1e-9)
	assert.InDelta(t, 0.011-0.0011, snap.Saved, 1e-9)
	assert.Equal(t, int64(2), snap.Tiers["SIMPLE"])

	m := snap.Models["google/gemini-2.0-flash"]
	require.NotNil(t, m)
	assert.Equal(t, int64(2), m.Requests)
	assert.Equal(t, int64(110), m.InputTokens)
	assert.InDelta(t, 100.0, m.AvgLatencyMs, 1e-9)

	assert.Equal(t, int64(1), snap.Models["openai/gpt-4o"].Errors)
}

func TestSnapshotIsACopy(t *testing.T) {
	tr, err := NewTracker("")
	require.NoError(t, err)
	tr.Record(Entry{Model: "m", Tier: routing.TierMedium, Cost: 1})

	snap := tr.Snapshot()
	snap.Models["m"].Cost = 999

	assert.InDelta(t, 1.0, tr.Snapshot().Models["m"].Cost, 1e-9)
}

func TestLedgerStatsSince(t *testing.T) {
	tr := newLedgerTracker(t)

	tr.Record(Entry{Model: "m", Tier: routing.TierComplex, Cost: 0.5, Baseline: 2.0, LatencyMs: 10})
	tr.Record(Entry{Model: "m", Tier: routing.TierComplex, Cost: 0.25, Baseline: 1.0, LatencyMs: 10})

	stats, err := tr.StatsSince(7)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Requests)
	assert.InDelta(t, 0.75, stats.Cost, 1e-9)
	assert.InDelta(t, 3.0, stats.Baseline, 1e-9)
	assert.InDelta(t, 2.25, stats.Saved, 1e-9)
}

func TestLedgerPurge(t *testing.T) {
	tr := newLedgerTracker(t)

	tr.Record(Entry{Model: "m", Tier: routing.TierSimple, Cost: 0.1, Baseline: 0.2})

	// A zero retention window purges everything recorded before now.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, tr.Purge(0))

	stats, err := tr.StatsSince(1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Requests)
}

func TestMemoryOnlyLedgerOps(t *testing.T) {
	tr, err := NewTracker("")
	require.NoError(t, err)

	stats, err := tr.StatsSince(30)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Requests)

	assert.NoError(t, tr.Purge(time.Hour))
	assert.NoError(t, tr.Close())
}
