package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/HimethW/RFID-forklift/internal/adapter/metrics"
	"github.com/HimethW/RFID-forklift/internal/domain"
	"github.com/HimethW/RFID-forklift/internal/platform/retry"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

const scanChannel = "rfid:scans"

var errNotSubscribed = errors.New("scan relay not subscribed")

// subscribePolicy keeps trying until Start's context ends, so a Redis that
// comes up after the server still gets a subscriber.
var subscribePolicy = retry.Policy{
	MaxAttempts:    math.MaxInt32,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     30 * time.Second,
	Clock:          clockwork.NewRealClock(),
	OnRetry: func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Scan relay subscription failed, retrying", "channel", scanChannel, "attempt", attempt, "backoff", backoff, "error", err)
	},
}

// relayMessage is the pub/sub payload. Origin identifies the publishing
// instance so it can skip its own messages.
type relayMessage struct {
	Origin string      `json:"origin"`
	Scan   domain.Scan `json:"scan"`
}

var _ domain.ScanRelay = (*ScanRelay)(nil)

// ScanRelay forwards locally ingested scans to other instances over Redis
// pub/sub and delivers scans from other instances to the local broadcaster.
type ScanRelay struct {
	rdb        *goredis.Client
	instanceID string
	local      domain.ScanBroadcaster
	metrics    *metrics.RelayMetrics
	ready      chan struct{}
	policy     retry.Policy
}

func NewScanRelay(rdb *goredis.Client, local domain.ScanBroadcaster, m *metrics.RelayMetrics) *ScanRelay {
	return &ScanRelay{
		rdb:        rdb,
		instanceID: uuid.NewString(),
		local:      local,
		metrics:    m,
		ready:      make(chan struct{}),
		policy:     subscribePolicy,
	}
}

// InstanceID returns the identifier stamped on published messages.
func (r *ScanRelay) InstanceID() string {
	return r.instanceID
}

func (r *ScanRelay) Publish(ctx context.Context, scan domain.Scan) error {
	data, err := json.Marshal(relayMessage{Origin: r.instanceID, Scan: scan})
	if err != nil {
		return fmt.Errorf("failed to marshal relay message: %w", err)
	}

	if err := r.rdb.Publish(ctx, scanChannel, data).Err(); err != nil {
		r.metrics.PublishErrors.Inc()
		return fmt.Errorf("failed to publish scan: %w", err)
	}

	r.metrics.Published.Inc()
	return nil
}

// Ready is closed once the subscription is confirmed by Redis.
func (r *ScanRelay) Ready() <-chan struct{} {
	return r.ready
}

// CheckSubscribed fails until the subscription is confirmed. It backs the
// readiness probe, since a reachable Redis alone does not mean scans arrive.
func (r *ScanRelay) CheckSubscribed(context.Context) error {
	select {
	case <-r.ready:
		return nil
	default:
		return errNotSubscribed
	}
}

// Start subscribes to the scan channel and blocks until ctx is cancelled.
// A failed subscription is retried with backoff.
func (r *ScanRelay) Start(ctx context.Context) {
	pubsub, err := retry.Do(ctx, r.policy, retry.Always, r.subscribe)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("Scan relay subscription failed", "channel", scanChannel, "error", err)
		}
		return
	}
	defer func() { _ = pubsub.Close() }()

	close(r.ready)
	slog.Info("Scan relay subscribed", "channel", scanChannel, "instance_id", r.instanceID)

	ch := pubsub.Channel()
	for {
		select {
		case msg := <-ch:
			if msg == nil {
				return
			}
			r.handleMessage(msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

func (r *ScanRelay) subscribe(ctx context.Context) (*goredis.PubSub, error) {
	pubsub := r.rdb.Subscribe(ctx, scanChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	return pubsub, nil
}

func (r *ScanRelay) handleMessage(payload string) {
	var msg relayMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		r.metrics.DecodeErrors.Inc()
		slog.Warn("Failed to decode relay message", "error", err)
		return
	}

	if msg.Origin == r.instanceID {
		return
	}
	if msg.Scan.TagID == "" {
		r.metrics.DecodeErrors.Inc()
		slog.Warn("Relay message without tag id", "origin", msg.Origin)
		return
	}

	r.metrics.Received.Inc()
	r.local.Broadcast(msg.Scan)
}
