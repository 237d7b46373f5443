package httpserver

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HimethW/RFID-forklift/internal/adapter/metrics"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (g *connectionGuard) trackedLimiters() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.limiters)
}

func TestConnectionGuard_PerIPAcquireRelease(t *testing.T) {
	guard := newConnectionGuard(clockwork.NewFakeClock(), 2, 100, 100)

	ok, _ := guard.Acquire("10.0.0.1")
	assert.True(t, ok)
	ok, _ = guard.Acquire("10.0.0.1")
	assert.True(t, ok)

	ok, reason := guard.Acquire("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, metrics.RejectPerIPLimit, reason)
	assert.Equal(t, 2, guard.Count("10.0.0.1"))

	guard.Release("10.0.0.1")
	assert.Equal(t, 1, guard.Count("10.0.0.1"))

	ok, _ = guard.Acquire("10.0.0.1")
	assert.True(t, ok)
}

func TestConnectionGuard_IPsAreIndependent(t *testing.T) {
	guard := newConnectionGuard(clockwork.NewFakeClock(), 1, 100, 100)

	ok, _ := guard.Acquire("10.0.0.1")
	require.True(t, ok)
	ok, _ = guard.Acquire("10.0.0.2")
	assert.True(t, ok)
}

func TestConnectionGuard_ReleaseUnknownIPIsNoop(t *testing.T) {
	guard := newConnectionGuard(clockwork.NewFakeClock(), 1, 100, 100)

	guard.Release("10.0.0.9")
	guard.Release("10.0.0.9")

	assert.Zero(t, guard.Count("10.0.0.9"))
	ok, _ := guard.Acquire("10.0.0.9")
	assert.True(t, ok)
}

func TestConnectionGuard_RateLimitsNewConnections(t *testing.T) {
	clock := clockwork.NewFakeClock()
	guard := newConnectionGuard(clock, 100, 1, 2) // 1 conn/s, burst 2

	for range 2 {
		ok, _ := guard.Acquire("10.0.0.1")
		require.True(t, ok)
	}

	ok, reason := guard.Acquire("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, metrics.RejectRateLimit, reason)

	clock.Advance(time.Second)

	ok, _ = guard.Acquire("10.0.0.1")
	assert.True(t, ok)
}

func TestConnectionGuard_RateRefusalDoesNotHoldSlot(t *testing.T) {
	guard := newConnectionGuard(clockwork.NewFakeClock(), 100, 1, 1)

	ok, _ := guard.Acquire("10.0.0.1")
	require.True(t, ok)
	ok, _ = guard.Acquire("10.0.0.1")
	require.False(t, ok)

	assert.Equal(t, 1, guard.Count("10.0.0.1"))
}

func TestConnectionGuard_CleansUpIdleLimiters(t *testing.T) {
	clock := clockwork.NewFakeClock()
	guard := newConnectionGuard(clock, 100, 10, 10)

	guard.Acquire("10.0.0.1")
	guard.Acquire("10.0.0.2")
	require.Equal(t, 2, guard.trackedLimiters())

	clock.Advance(limiterIdleTTL + limiterCleanupInterval)
	guard.Acquire("10.0.0.3")

	assert.Equal(t, 1, guard.trackedLimiters())
}

func TestConnectionGuard_Concurrent(t *testing.T) {
	guard := newConnectionGuard(clockwork.NewFakeClock(), 50, 1000, 1000)
	var admitted atomic.Int64

	start := make(chan struct{})
	var wg sync.WaitGroup
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if ok, _ := guard.Acquire("10.0.0.1"); ok {
				admitted.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int64(50), admitted.Load())
	assert.Equal(t, 50, guard.Count("10.0.0.1"))
}
