package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/HimethW/RFID-forklift/internal/adapter/metrics"
	"github.com/HimethW/RFID-forklift/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	commandTimeout     = 5 * time.Second  // Actor command timeout
	stopTimeout        = 10 * time.Second // Graceful shutdown timeout
	commandChannelSize = 256
	shutdownReason     = "Server shutting down"
)

// Drop reasons reported on the messages_dropped_total metric.
const (
	dropNotReady  = "not_ready"
	dropQueueFull = "queue_full"
)

// broadcasterCmd is the command interface for the Broadcaster actor.
type broadcasterCmd interface{ isBroadcasterCmd() }

type baseBroadcasterCmd struct{}

func (baseBroadcasterCmd) isBroadcasterCmd() {}

type registerCmd struct {
	baseBroadcasterCmd
	connection   *websocket.Conn
	errorChannel chan error
}

type unregisterCmd struct {
	baseBroadcasterCmd
	connection *websocket.Conn
}

type broadcastCmd struct {
	baseBroadcasterCmd
	payload []byte
}

type getClientCountCmd struct {
	baseBroadcasterCmd
	replyChannel chan int
}

type stopCmd struct {
	baseBroadcasterCmd
}

// Broadcaster is the subscriber registry and broadcast dispatcher.
// All registry state is owned by the run goroutine.
type Broadcaster struct {
	cmdCh       chan broadcasterCmd
	clock       clockwork.Clock
	clients     map[*websocket.Conn]*clientWriter
	metrics     *metrics.WebSocketMetrics
	done        chan struct{}
	stopOnce    sync.Once
	stopTimeout time.Duration
	maxClients  int
}

// NewBroadcaster creates a broadcaster and starts its actor goroutine.
// maxClients limits the number of concurrently registered subscribers.
func NewBroadcaster(clock clockwork.Clock, maxClients int, m *metrics.WebSocketMetrics) *Broadcaster {
	b := &Broadcaster{
		cmdCh:       make(chan broadcasterCmd, commandChannelSize),
		clock:       clock,
		clients:     make(map[*websocket.Conn]*clientWriter),
		metrics:     m,
		done:        make(chan struct{}),
		stopTimeout: stopTimeout,
		maxClients:  maxClients,
	}
	go b.run()
	return b
}

// send enqueues a command, giving up after commandTimeout or once the actor
// has exited.
func (b *Broadcaster) send(cmd broadcasterCmd) error {
	select {
	case b.cmdCh <- cmd:
		return nil
	case <-b.done:
		return domain.ErrBroadcasterClosed
	default:
	}

	timer := b.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case b.cmdCh <- cmd:
		return nil
	case <-b.done:
		return domain.ErrBroadcasterClosed
	case <-timer.Chan():
		return domain.ErrCommandTimeout
	}
}

// Register adds a subscriber and starts its writer.
// Returns an error (and closes the connection) if the connection limit is
// reached or the broadcaster is not running.
func (b *Broadcaster) Register(conn *websocket.Conn) error {
	errCh := make(chan error, 1)
	if err := b.send(registerCmd{connection: conn, errorChannel: errCh}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("register: %w", err)
	}

	timer := b.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-b.done:
		_ = conn.Close()
		return fmt.Errorf("register: %w", domain.ErrBroadcasterClosed)
	case <-timer.Chan():
		return fmt.Errorf("register command timed out after %v: %w", commandTimeout, domain.ErrCommandTimeout)
	}
}

// Unregister removes a subscriber and stops its writer.
// Unregistering an unknown or already removed connection is a no-op.
func (b *Broadcaster) Unregister(conn *websocket.Conn) {
	if err := b.send(unregisterCmd{connection: conn}); err != nil {
		slog.Debug("Unregister dropped", "error", err)
	}
}

// Broadcast marshals the scan once and hands it to every ready subscriber.
// It never reports delivery failures.
func (b *Broadcaster) Broadcast(scan domain.Scan) {
	data, err := json.Marshal(scan)
	if err != nil {
		slog.Error("Failed to marshal broadcast message", "error", err)
		return
	}

	if err := b.send(broadcastCmd{payload: data}); err != nil {
		slog.Warn("Broadcast dropped", "tag_id", scan.TagID, "error", err)
	}
}

// ClientCount returns the number of registered subscribers.
// Returns -1 if the command times out or the broadcaster is stopped.
func (b *Broadcaster) ClientCount() int {
	replyCh := make(chan int, 1)
	if err := b.send(getClientCountCmd{replyChannel: replyCh}); err != nil {
		return -1
	}

	timer := b.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-b.done:
		return -1
	case <-timer.Chan():
		slog.Warn("ClientCount timed out", "timeout", commandTimeout)
		return -1
	}
}

// Stop shuts down the broadcaster, sending a close frame to every subscriber.
// Blocks until the actor goroutine has exited or the stop timeout is reached.
// Safe to call more than once.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		if err := b.send(stopCmd{}); err != nil {
			return
		}

		timeout := b.clock.NewTimer(b.stopTimeout)
		defer timeout.Stop()

		select {
		case <-b.done:
			slog.Info("Broadcaster stopped gracefully")
		case <-timeout.Chan():
			slog.Warn("Broadcaster stop timeout exceeded", "timeout", b.stopTimeout)
		}
	})
}

func (b *Broadcaster) run() {
	defer close(b.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Broadcaster panic recovered", "panic", r)
			b.closeAllClients("broadcaster panic")
		}
	}()

	depthTicker := b.clock.NewTicker(1 * time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case <-depthTicker.Chan():
			depth := len(b.cmdCh)
			b.metrics.CommandQueueDepth.Set(float64(depth))

			if depth > commandChannelSize*4/5 {
				slog.Warn("Command channel near capacity", "depth", depth, "capacity", cap(b.cmdCh))
			}

		case cmd := <-b.cmdCh:
			switch c := cmd.(type) {
			case registerCmd:
				b.handleRegister(c)
			case unregisterCmd:
				b.handleUnregister(c)
			case broadcastCmd:
				b.handleBroadcast(c.payload)
			case getClientCountCmd:
				c.replyChannel <- len(b.clients)
			case stopCmd:
				b.handleStop()
				return
			default:
				slog.Warn("Broadcaster received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		}
	}
}

func (b *Broadcaster) handleRegister(c registerCmd) {
	if _, exists := b.clients[c.connection]; exists {
		c.errorChannel <- nil
		return
	}

	if len(b.clients) >= b.maxClients {
		slog.Warn("Rejecting client: max connections reached", "max_clients", b.maxClients)
		b.metrics.ConnectionsRejected.WithLabelValues(metrics.RejectGlobalLimit).Inc()
		_ = c.connection.Close()
		c.errorChannel <- fmt.Errorf("max websocket connections (%d) reached: %w", b.maxClients, domain.ErrTooManyClients)
		return
	}

	b.clients[c.connection] = newClientWriter(c.connection, b.clock, b.metrics)
	b.metrics.ActiveConnections.Set(float64(len(b.clients)))

	slog.Debug("Client registered", "remote_addr", c.connection.RemoteAddr().String(), "total_clients", len(b.clients))
	c.errorChannel <- nil
}

func (b *Broadcaster) handleUnregister(c unregisterCmd) {
	cw, exists := b.clients[c.connection]
	if !exists {
		return
	}

	cw.stop()
	delete(b.clients, c.connection)
	b.metrics.ActiveConnections.Set(float64(len(b.clients)))

	slog.Debug("Client unregistered", "remaining_clients", len(b.clients))
}

// handleBroadcast enqueues payload for every ready subscriber without
// blocking. Subscribers that are not ready or whose queue is full miss this
// message and stay registered.
func (b *Broadcaster) handleBroadcast(payload []byte) {
	for _, cw := range b.clients {
		if !cw.ready() {
			b.metrics.MessagesDropped.WithLabelValues(dropNotReady).Inc()
			continue
		}

		select {
		case cw.sendChannel <- payload:
		default:
			b.metrics.MessagesDropped.WithLabelValues(dropQueueFull).Inc()
			slog.Debug("Skipping slow client", "queued", len(cw.sendChannel))
		}
	}
}

func (b *Broadcaster) handleStop() {
	total := len(b.clients)
	slog.Info("Broadcaster shutting down", "total_clients", total)

	b.closeAllClients(shutdownReason)

	slog.Info("Broadcaster shutdown complete", "disconnected_clients", total)
}

// closeAllClients closes all client connections with the given reason.
// Used during panic recovery and graceful shutdown.
func (b *Broadcaster) closeAllClients(reason string) {
	for conn, cw := range b.clients {
		cw.stopGraceful(reason)
		delete(b.clients, conn)
	}
	b.metrics.ActiveConnections.Set(0)
}
