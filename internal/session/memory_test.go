package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTracker(ttl time.Duration, max int) (*MemoryTracker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	m := NewMemoryTracker(ttl, max)
	m.now = clock.Now
	return m, clock
}

func TestMemoryTrackerFirstTurnLifecycle(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestTracker(time.Hour, 10)

	seen, err := m.HasSeenFirstTurn(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, seen)

	first, err := m.CheckAndMark(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = m.CheckAndMark(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, first)

	seen, err = m.HasSeenFirstTurn(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, seen)

	require.NoError(t, m.MarkSeen(ctx, "s2"))
	require.NoError(t, m.MarkSeen(ctx, "s2"))
	seen, _ = m.HasSeenFirstTurn(ctx, "s2")
	assert.True(t, seen)
	assert.Equal(t, 2, m.Len())
}

func TestMemoryTrackerIndependentSessions(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestTracker(time.Hour, 10)

	first, _ := m.CheckAndMark(ctx, "a")
	assert.True(t, first)
	first, _ = m.CheckAndMark(ctx, "b")
	assert.True(t, first)
}

func TestMemoryTrackerConcurrentCheckAndMark(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryTracker(time.Hour, 1000)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, err := m.CheckAndMark(ctx, "shared")
			if err == nil && first {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestMemoryTrackerTTLExpiry(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestTracker(time.Minute, 10)

	var evicted []string
	m.SetEvictHook(func(id string, reason EvictReason) {
		evicted = append(evicted, fmt.Sprintf("%s:%s", id, reason))
	})

	_, _ = m.CheckAndMark(ctx, "s1")
	clock.Advance(30 * time.Second)
	seen, _ := m.HasSeenFirstTurn(ctx, "s1")
	assert.True(t, seen, "touch within ttl keeps the session alive")

	clock.Advance(59 * time.Second)
	seen, _ = m.HasSeenFirstTurn(ctx, "s1")
	assert.True(t, seen, "ttl is measured from the last touch")

	clock.Advance(time.Minute)
	first, _ := m.CheckAndMark(ctx, "s1")
	assert.True(t, first, "expired session starts over")
	assert.Equal(t, []string{"s1:expired"}, evicted)
}

func TestMemoryTrackerCapacityEvictsLeastRecent(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestTracker(time.Hour, 2)

	var evicted []string
	m.SetEvictHook(func(id string, reason EvictReason) {
		assert.Equal(t, EvictCapacity, reason)
		evicted = append(evicted, id)
	})

	_, _ = m.CheckAndMark(ctx, "a")
	clock.Advance(time.Second)
	_, _ = m.CheckAndMark(ctx, "b")
	clock.Advance(time.Second)
	_, _ = m.HasSeenFirstTurn(ctx, "a")
	_, _ = m.CheckAndMark(ctx, "c")

	assert.Equal(t, []string{"b"}, evicted)
	assert.Equal(t, 2, m.Len())
	seen, _ := m.HasSeenFirstTurn(ctx, "a")
	assert.True(t, seen)
	seen, _ = m.HasSeenFirstTurn(ctx, "b")
	assert.False(t, seen)
}

func TestMemoryTrackerExpireIdle(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestTracker(time.Minute, 10)

	var count atomic.Int32
	m.SetEvictHook(func(string, EvictReason) { count.Add(1) })

	_, _ = m.CheckAndMark(ctx, "old1")
	_, _ = m.CheckAndMark(ctx, "old2")
	clock.Advance(2 * time.Minute)
	_, _ = m.CheckAndMark(ctx, "fresh")

	m.expireIdle()
	assert.Equal(t, int32(2), count.Load())
	assert.Equal(t, 1, m.Len())
}

func TestMemoryTrackerJanitorStopsWithContext(t *testing.T) {
	m := NewMemoryTracker(time.Millisecond, 10)
	_, _ = m.CheckAndMark(context.Background(), "s1")

	ctx, cancel := context.WithCancel(context.Background())
	m.StartJanitor(ctx, 5*time.Millisecond)

	require.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
}

func TestMemoryTrackerClose(t *testing.T) {
	m := NewMemoryTracker(0, 0)
	_, _ = m.CheckAndMark(context.Background(), "s1")
	require.NoError(t, m.Close())
	assert.Equal(t, 0, m.Len())
}
