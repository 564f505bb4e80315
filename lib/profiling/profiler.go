package profiling

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-i2p/logger"

	"github.com/go-i2p/go-onionpath/lib/common"
	"github.com/go-i2p/go-onionpath/lib/selector"
	"github.com/go-i2p/go-onionpath/lib/util/time/monotonic"
)

var log = logger.GetGoI2PLogger()

// DecayInterval is how often Tick halves every profile.
const DecayInterval = 5 * time.Minute

// Profiler holds the profiles of every relay seen so far. It is safe for
// concurrent use.
type Profiler struct {
	mu        sync.Mutex
	profiles  map[common.RouterID]*RouterProfile
	lastDecay time.Time
	clock     monotonic.Source
	disabled  atomic.Bool
}

// NewProfiler returns an empty, enabled profiler.
func NewProfiler(clock monotonic.Source) *Profiler {
	return &Profiler{
		profiles:  make(map[common.RouterID]*RouterProfile),
		lastDecay: clock.Now(),
		clock:     clock,
	}
}

// Enable turns profile checks on.
func (p *Profiler) Enable() { p.disabled.Store(false) }

// Disable makes every relay look good. Counters are still updated.
func (p *Profiler) Disable() { p.disabled.Store(true) }

// Len returns the number of profiled relays.
func (p *Profiler) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.profiles)
}

// Profile returns a copy of the profile for id.
func (p *Profiler) Profile(id common.RouterID) (RouterProfile, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prof, ok := p.profiles[id]
	if !ok {
		return RouterProfile{}, false
	}
	return *prof, true
}

// IsBadForPath reports whether id has failed too often to be used in a
// path. Unknown relays are never bad.
func (p *Profiler) IsBadForPath(id common.RouterID, chances uint64) bool {
	if p.disabled.Load() {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	prof, ok := p.profiles[id]
	if !ok {
		return false
	}
	return !prof.IsGoodForPath(chances)
}

// IsBadForConnect reports whether link attempts to id keep failing.
func (p *Profiler) IsBadForConnect(id common.RouterID, chances uint64) bool {
	if p.disabled.Load() {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	prof, ok := p.profiles[id]
	if !ok {
		return false
	}
	return !prof.IsGoodForConnect(chances)
}

func (p *Profiler) update(id common.RouterID, fn func(*RouterProfile)) {
	prof, ok := p.profiles[id]
	if !ok {
		prof = new(RouterProfile)
		p.profiles[id] = prof
	}
	fn(prof)
	prof.LastUpdated = p.clock.Now().UnixMilli()
}

// MarkConnectSuccess records a successful send to id.
func (p *Profiler) MarkConnectSuccess(id common.RouterID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.update(id, func(r *RouterProfile) { r.ConnectGood++ })
}

// MarkConnectTimeout records a failed send to id.
func (p *Profiler) MarkConnectTimeout(id common.RouterID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.update(id, func(r *RouterProfile) { r.ConnectTimeout++ })
}

// MarkHopFail records that id rejected a build.
func (p *Profiler) MarkHopFail(id common.RouterID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.update(id, func(r *RouterProfile) { r.PathFail++ })
}

// MarkPathTimeout records a build that never answered. The first hop is
// directly connected and is not blamed.
func (p *Profiler) MarkPathTimeout(hops []common.RouterID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, id := range hops {
		if i == 0 {
			continue
		}
		p.update(id, func(r *RouterProfile) { r.PathTimeout++ })
	}
}

// MarkPathSuccess credits every hop of an established path and forgives
// half of its earlier failures.
func (p *Profiler) MarkPathSuccess(hops []common.RouterID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := uint64(len(hops))
	for _, id := range hops {
		p.update(id, func(r *RouterProfile) {
			r.PathFail /= 2
			r.PathTimeout = 0
			r.PathSuccess += n
		})
	}
}

// ClearProfile forgets id.
func (p *Profiler) ClearProfile(id common.RouterID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.profiles, id)
}

// Tick decays every profile once DecayInterval has passed since the last
// decay.
func (p *Profiler) Tick() {
	now := p.clock.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	if now.Sub(p.lastDecay) < DecayInterval {
		return
	}
	for _, prof := range p.profiles {
		prof.Decay()
	}
	p.lastDecay = now
	log.WithFields(logger.Fields{
		"at":       "(Profiler) Tick",
		"profiles": len(p.profiles),
	}).Debug("decayed router profiles")
}

// PathFilter returns a selector filter rejecting relays that are bad for
// paths.
func (p *Profiler) PathFilter(chances uint64) selector.PeerFilter {
	return selector.NewFuncFilter("profile", func(r common.RelayDescriptor) bool {
		return !p.IsBadForPath(r.ID, chances)
	})
}

func (p *Profiler) snapshot() map[common.RouterID]RouterProfile {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[common.RouterID]RouterProfile, len(p.profiles))
	for id, prof := range p.profiles {
		out[id] = *prof
	}
	return out
}

func (p *Profiler) restore(id common.RouterID, prof RouterProfile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := prof
	p.profiles[id] = &cp
}
