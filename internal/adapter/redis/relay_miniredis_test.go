package redis

import (
	"context"
	"testing"
	"time"

	"github.com/HimethW/RFID-forklift/internal/domain"
	"github.com/HimethW/RFID-forklift/internal/platform/retry"
	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMiniredisClient returns a client wired like production (circuit breaker
// hook included) against an in-process Redis.
func newMiniredisClient(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), "redis://"+mr.Addr(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func runRelay(t *testing.T, relay *ScanRelay) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		relay.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-relay.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("relay subscription not confirmed")
	}
	require.NoError(t, relay.CheckSubscribed(context.Background()))
}

func TestScanRelay_Miniredis_DeliversToOtherInstancesOnly(t *testing.T) {
	client, _ := newMiniredisClient(t)
	localA := &recordingBroadcaster{}
	localB := &recordingBroadcaster{}
	relayA := NewScanRelay(client, localA, newTestRelayMetrics())
	mB := newTestRelayMetrics()
	relayB := NewScanRelay(client, localB, mB)
	runRelay(t, relayA)
	runRelay(t, relayB)

	scan := domain.Scan{TagID: "E200-3412", Timestamp: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	require.NoError(t, relayA.Publish(context.Background(), scan))

	require.Eventually(t, func() bool { return len(localB.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := localB.received()[0]
	assert.Equal(t, "E200-3412", got.TagID)
	assert.True(t, got.Timestamp.Equal(scan.Timestamp))
	assert.InDelta(t, 1, testutil.ToFloat64(mB.Received), 0)

	// Give a stray self-delivery time to show up before asserting its absence.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, localA.received())
}

func TestScanRelay_Miniredis_PublishCountsSuccess(t *testing.T) {
	client, _ := newMiniredisClient(t)
	m := newTestRelayMetrics()
	relay := NewScanRelay(client, &recordingBroadcaster{}, m)

	require.NoError(t, relay.Publish(context.Background(), domain.Scan{TagID: "A1", Timestamp: time.Now().UTC()}))

	assert.InDelta(t, 1, testutil.ToFloat64(m.Published), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.PublishErrors), 0)
}

func TestScanRelay_Miniredis_ServerErrorSurfacesOnPublish(t *testing.T) {
	client, mr := newMiniredisClient(t)
	m := newTestRelayMetrics()
	relay := NewScanRelay(client, &recordingBroadcaster{}, m)

	mr.SetError("LOADING Redis is loading the dataset in memory")

	err := relay.Publish(context.Background(), domain.Scan{TagID: "A1", Timestamp: time.Now().UTC()})

	require.Error(t, err)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PublishErrors), 0)
}

func fastSubscribePolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    200,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		Clock:          clockwork.NewRealClock(),
	}
}

func TestScanRelay_Miniredis_RetriesSubscriptionUntilRedisReturns(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	client := goredis.NewClient(&goredis.Options{Addr: addr, MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	mr.Close()

	relay := NewScanRelay(client, &recordingBroadcaster{}, newTestRelayMetrics())
	relay.policy = fastSubscribePolicy()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		relay.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	time.Sleep(100 * time.Millisecond)
	require.ErrorIs(t, relay.CheckSubscribed(context.Background()), errNotSubscribed)

	require.NoError(t, mr.Restart())

	select {
	case <-relay.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("relay did not resubscribe after Redis came back")
	}
	assert.NoError(t, relay.CheckSubscribed(context.Background()))
}

func TestScanRelay_StartReturnsWhenCancelledBeforeSubscribing(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	relay := NewScanRelay(client, &recordingBroadcaster{}, newTestRelayMetrics())
	relay.policy = fastSubscribePolicy()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		relay.Start(ctx)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
	assert.ErrorIs(t, relay.CheckSubscribed(context.Background()), errNotSubscribed)
}
