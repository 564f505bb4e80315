package path

import (
	"sync"
	"time"

	"github.com/go-i2p/crypto/rand"
	"golang.org/x/time/rate"

	"github.com/go-i2p/go-onionpath/lib/common"
)

// backoffFor returns the delay before the next build after fails
// consecutive failures: fails*step capped at limit, plus up to 25% jitter.
func backoffFor(fails int, step, limit time.Duration) time.Duration {
	if fails <= 0 || step <= 0 {
		return 0
	}
	d := time.Duration(fails) * step
	if limit > 0 && d > limit {
		d = limit
	}
	if quarter := int64(d / 4); quarter > 0 {
		d += time.Duration(rand.Int63n(quarter + 1))
	}
	return d
}

// EdgeLimiter allows one build attempt per first-hop relay per interval.
// Time is passed in so it follows the loop clock.
type EdgeLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	edges    map[common.RouterID]*rate.Limiter
}

// NewEdgeLimiter returns a limiter with the given per-edge interval. A
// non-positive interval disables limiting.
func NewEdgeLimiter(interval time.Duration) *EdgeLimiter {
	return &EdgeLimiter{
		interval: interval,
		edges:    make(map[common.RouterID]*rate.Limiter),
	}
}

// Allow reports whether a build may start through edge at now, consuming
// the edge's allowance if so.
func (e *EdgeLimiter) Allow(edge common.RouterID, now time.Time) bool {
	if e.interval <= 0 {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.edges[edge]
	if !ok {
		l = rate.NewLimiter(rate.Every(e.interval), 1)
		e.edges[edge] = l
	}
	return l.AllowN(now, 1)
}

// Cleanup forgets edges whose allowance has fully refilled.
func (e *EdgeLimiter) Cleanup(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, l := range e.edges {
		if l.TokensAt(now) >= 1 {
			delete(e.edges, id)
		}
	}
}

// Len returns the number of tracked edges.
func (e *EdgeLimiter) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.edges)
}
