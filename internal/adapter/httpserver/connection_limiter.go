package httpserver

import (
	"sync"
	"time"

	"github.com/HimethW/RFID-forklift/internal/adapter/metrics"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	limiterCleanupInterval = 5 * time.Minute
	limiterIdleTTL         = 10 * time.Minute
)

// connectionGuard admits WebSocket upgrades per client IP: a token bucket on
// new connections and a cap on concurrent ones. The instance-wide cap lives in
// the broadcaster.
type connectionGuard struct {
	mu sync.Mutex

	open     map[string]int
	maxPerIP int

	limiters  map[string]*limiterEntry
	rate      rate.Limit
	burst     int
	clock     clockwork.Clock
	cleanupAt time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newConnectionGuard(clock clockwork.Clock, maxPerIP int, connectionsPerSecond float64, burst int) *connectionGuard {
	return &connectionGuard{
		open:      make(map[string]int),
		maxPerIP:  maxPerIP,
		limiters:  make(map[string]*limiterEntry),
		rate:      rate.Limit(connectionsPerSecond),
		burst:     burst,
		clock:     clock,
		cleanupAt: clock.Now().Add(limiterCleanupInterval),
	}
}

// Acquire reserves a connection slot for ip. On refusal it returns the
// metrics reason label.
func (g *connectionGuard) Acquire(ip string) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	if now.After(g.cleanupAt) {
		g.cleanup(now)
		g.cleanupAt = now.Add(limiterCleanupInterval)
	}

	entry, ok := g.limiters[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(g.rate, g.burst)}
		g.limiters[ip] = entry
	}
	entry.lastSeen = now

	if !entry.limiter.AllowN(now, 1) {
		return false, metrics.RejectRateLimit
	}
	if g.open[ip] >= g.maxPerIP {
		return false, metrics.RejectPerIPLimit
	}

	g.open[ip]++
	return true, ""
}

func (g *connectionGuard) Release(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if n := g.open[ip]; n > 1 {
		g.open[ip] = n - 1
	} else {
		delete(g.open, ip)
	}
}

// Count returns the number of open connections held by ip.
func (g *connectionGuard) Count(ip string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open[ip]
}

// cleanup drops idle limiters. Must be called with mu held.
func (g *connectionGuard) cleanup(now time.Time) {
	cutoff := now.Add(-limiterIdleTTL)
	for ip, entry := range g.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(g.limiters, ip)
		}
	}
}
