package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_FieldOrderInsensitive(t *testing.T) {
	a := Key([]byte(`{"model":"auto","messages":[{"role":"user","content":"hi"}]}`))
	b := Key([]byte(`{"messages":[{"role":"user","content":"hi"}],"model":"auto"}`))
	c := Key([]byte(`{"model":"auto","messages":[{"role":"user","content":"bye"}]}`))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestKey_NonJSONStillHashes(t *testing.T) {
	assert.NotEqual(t, Key([]byte("raw a")), Key([]byte("raw b")))
}

func TestMarkInflight_SingleOwner(t *testing.T) {
	s := NewStore(0, 0)

	f1, owner1 := s.MarkInflight("k")
	f2, owner2 := s.MarkInflight("k")

	assert.True(t, owner1)
	assert.False(t, owner2)
	assert.Same(t, f1, f2)

	got, ok := s.GetInflight("k")
	require.True(t, ok)
	assert.Same(t, f1, got)
}

func TestCompleteWakesWaitersAndCaches(t *testing.T) {
	s := NewStore(0, 0)
	_, owner := s.MarkInflight("k")
	require.True(t, owner)

	waiter, _ := s.GetInflight("k")
	done := make(chan *Result, 1)
	go func() {
		res, _ := waiter.Wait(context.Background())
		done <- res
	}()

	s.Complete("k", &Result{Status: 200, Body: []byte("payload")})

	select {
	case res := <-done:
		require.NotNil(t, res)
		assert.Equal(t, []byte("payload"), res.Body)
	case <-time.After(time.Second):
		t.Fatal("waiter never woke")
	}

	cached, ok := s.GetCached("k")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), cached.Body)

	_, stillInflight := s.GetInflight("k")
	assert.False(t, stillInflight)
}

func TestRemoveInflight_AbandonsWaiters(t *testing.T) {
	s := NewStore(0, 0)
	s.MarkInflight("k")
	waiter, _ := s.GetInflight("k")

	s.RemoveInflight("k")

	_, err := waiter.Wait(context.Background())
	assert.ErrorIs(t, err, ErrAbandoned)

	_, cached := s.GetCached("k")
	assert.False(t, cached)
}

func TestWait_ContextCancel(t *testing.T) {
	s := NewStore(0, 0)
	s.MarkInflight("k")
	waiter, _ := s.GetInflight("k")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := waiter.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCachedEntryExpires(t *testing.T) {
	s := NewStore(time.Minute, 0)
	clock := time.Now()
	s.now = func() time.Time { return clock }

	s.MarkInflight("k")
	s.Complete("k", &Result{Status: 200})

	_, ok := s.GetCached("k")
	assert.True(t, ok)

	clock = clock.Add(2 * time.Minute)
	_, ok = s.GetCached("k")
	assert.False(t, ok)
}

func TestSizeBoundEvictsOldest(t *testing.T) {
	s := NewStore(time.Hour, 2)
	clock := time.Now()
	s.now = func() time.Time { return clock }

	for _, key := range []string{"a", "b", "c"} {
		s.MarkInflight(key)
		s.Complete(key, &Result{Status: 200})
		clock = clock.Add(time.Second)
	}

	_, completed := s.Len()
	assert.Equal(t, 2, completed)

	_, ok := s.GetCached("a")
	assert.False(t, ok, "oldest entry evicted")
	_, ok = s.GetCached("c")
	assert.True(t, ok)
}
