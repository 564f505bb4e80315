package transit

import (
	"sync"
	"time"

	"github.com/go-i2p/logger"
	"golang.org/x/time/rate"

	"github.com/go-i2p/go-onionpath/lib/common"
)

const (
	// DefaultCommitsPerMinute is the sustained commit rate allowed per
	// neighbour.
	DefaultCommitsPerMinute = 120
	// DefaultCommitBurst is the burst allowance per neighbour.
	DefaultCommitBurst = 20
	// DefaultBanDuration is how long a neighbour that keeps exceeding its
	// rate is refused outright.
	DefaultBanDuration = 5 * time.Minute

	banAfterRejects = 10
	staleAfter      = 10 * time.Minute
)

// SourceLimiter rate limits commits per neighbouring router with a token
// bucket per source. Sources that keep hitting the limit are banned for a
// while. Time is always passed in so the limiter follows the loop clock.
type SourceLimiter struct {
	mu      sync.Mutex
	sources map[common.RouterID]*sourceState

	limit       rate.Limit
	burst       int
	banDuration time.Duration

	totalRequests   uint64
	totalRejections uint64
}

type sourceState struct {
	limiter     *rate.Limiter
	lastSeen    time.Time
	rejectCount int
	bannedUntil time.Time
}

// SourceLimiterStats summarises limiter activity.
type SourceLimiterStats struct {
	TrackedSources  int
	BannedSources   int
	TotalRequests   uint64
	TotalRejections uint64
}

// NewSourceLimiter allows perMinute commits per source with the given
// burst. Non-positive values select the defaults.
func NewSourceLimiter(perMinute, burst int, banDuration time.Duration) *SourceLimiter {
	if perMinute <= 0 {
		perMinute = DefaultCommitsPerMinute
	}
	if burst <= 0 {
		burst = DefaultCommitBurst
	}
	if banDuration <= 0 {
		banDuration = DefaultBanDuration
	}
	return &SourceLimiter{
		sources:     make(map[common.RouterID]*sourceState),
		limit:       rate.Every(time.Minute / time.Duration(perMinute)),
		burst:       burst,
		banDuration: banDuration,
	}
}

// Allow reports whether a commit from source may be processed at now.
func (sl *SourceLimiter) Allow(source common.RouterID, now time.Time) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.totalRequests++

	state, ok := sl.sources[source]
	if !ok {
		state = &sourceState{limiter: rate.NewLimiter(sl.limit, sl.burst)}
		sl.sources[source] = state
	}
	state.lastSeen = now

	if now.Before(state.bannedUntil) {
		sl.totalRejections++
		return false
	}
	if state.limiter.AllowN(now, 1) {
		state.rejectCount = 0
		return true
	}

	sl.totalRejections++
	state.rejectCount++
	if state.rejectCount > banAfterRejects {
		state.bannedUntil = now.Add(sl.banDuration)
		state.rejectCount = 0
		log.WithFields(logger.Fields{
			"at":           "(SourceLimiter) Allow",
			"reason":       "source_auto_banned",
			"source":       source.Short(),
			"ban_duration": sl.banDuration,
		}).Warn("banning source after repeated rate limit violations")
		return false
	}
	log.WithFields(logger.Fields{
		"at":     "(SourceLimiter) Allow",
		"reason": "rate_limit_exceeded",
		"source": source.Short(),
	}).Debug("rejecting commit")
	return false
}

// IsBanned reports whether source is banned at now.
func (sl *SourceLimiter) IsBanned(source common.RouterID, now time.Time) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	state, ok := sl.sources[source]
	return ok && now.Before(state.bannedUntil)
}

// Cleanup forgets sources that have been quiet for a while and are not
// banned.
func (sl *SourceLimiter) Cleanup(now time.Time) int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	removed := 0
	for id, state := range sl.sources {
		if now.Sub(state.lastSeen) > staleAfter && !now.Before(state.bannedUntil) {
			delete(sl.sources, id)
			removed++
		}
	}
	return removed
}

// Stats returns a snapshot of the limiter counters.
func (sl *SourceLimiter) Stats(now time.Time) SourceLimiterStats {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	s := SourceLimiterStats{
		TrackedSources:  len(sl.sources),
		TotalRequests:   sl.totalRequests,
		TotalRejections: sl.totalRejections,
	}
	for _, state := range sl.sources {
		if now.Before(state.bannedUntil) {
			s.BannedSources++
		}
	}
	return s
}
