package path

import (
	"sort"
	"time"

	"github.com/go-i2p/logger"

	"github.com/go-i2p/go-onionpath/lib/common"
	"github.com/go-i2p/go-onionpath/lib/env"
	"github.com/go-i2p/go-onionpath/lib/util/time/monotonic"
	"github.com/go-i2p/go-onionpath/lib/wire"
)

const (
	// IntroPublishInterval is how often a hidden service set republishes
	// its introduction points.
	IntroPublishInterval = 5 * time.Minute
	// TickInterval is how often a started PathSet runs Tick.
	TickInterval = time.Second
)

// Role says what a PathSet's paths are for.
type Role int

const (
	RoleTunnel Role = iota
	RoleHiddenService
	RoleExit
)

func (r Role) String() string {
	switch r {
	case RoleTunnel:
		return "tunnel"
	case RoleHiddenService:
		return "hidden-service"
	case RoleExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Config tunes a PathSet.
type Config struct {
	Hops              int
	DesiredPaths      int
	Lifetime          time.Duration
	BuildTimeout      time.Duration
	LatencyInterval   time.Duration
	MaxMissedProbes   int
	BuildRetryDelay   time.Duration
	MaxBuildBackoff   time.Duration
	EdgeBuildInterval time.Duration
}

// DefaultConfig returns the path defaults.
func DefaultConfig() Config {
	return Config{
		Hops:              4,
		DesiredPaths:      4,
		Lifetime:          20 * time.Minute,
		BuildTimeout:      30 * time.Second,
		LatencyInterval:   20 * time.Second,
		MaxMissedProbes:   3,
		BuildRetryDelay:   500 * time.Millisecond,
		MaxBuildBackoff:   30 * time.Second,
		EdgeBuildInterval: 500 * time.Millisecond,
	}
}

type pathKey struct {
	router common.RouterID
	id     common.PathID
}

// PathSet keeps DesiredPaths paths of one role alive. It owns its paths;
// everything else refers to them by first hop and PathID. All methods run
// on the logic loop except Start.
type PathSet struct {
	ctx     *env.Context
	name    string
	role    Role
	cfg     Config
	builder *Builder

	paths map[pathKey]*Path
	jobs  map[pathKey]*BuildJob

	stats            BuildStats
	consecutiveFails int
	nextBuild        time.Time
	lastIntro        time.Time
	rr               int

	onData  DataHandler
	onBuilt func(*Path, error)

	tickTimer monotonic.Timer
	stopped   bool
}

// NewPathSet returns an idle set. Zero config fields take their defaults.
func NewPathSet(ctx *env.Context, name string, role Role, cfg Config) *PathSet {
	def := DefaultConfig()
	if cfg.Hops <= 0 {
		cfg.Hops = def.Hops
	}
	if cfg.DesiredPaths <= 0 {
		cfg.DesiredPaths = def.DesiredPaths
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = def.Lifetime
	}
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = def.BuildTimeout
	}
	if cfg.LatencyInterval <= 0 {
		cfg.LatencyInterval = def.LatencyInterval
	}
	if cfg.MaxMissedProbes <= 0 {
		cfg.MaxMissedProbes = def.MaxMissedProbes
	}
	return &PathSet{
		ctx:     ctx,
		name:    name,
		role:    role,
		cfg:     cfg,
		builder: NewBuilder(ctx, cfg.EdgeBuildInterval),
		paths:   make(map[pathKey]*Path),
		jobs:    make(map[pathKey]*BuildJob),
	}
}

func keyOf(p *Path) pathKey { return pathKey{router: p.FirstHop(), id: p.ID()} }

// Name returns the set's name.
func (s *PathSet) Name() string { return s.name }

// Role returns the set's role.
func (s *PathSet) Role() Role { return s.role }

// Config returns the effective configuration.
func (s *PathSet) Config() Config { return s.cfg }

// Builder returns the set's builder.
func (s *PathSet) Builder() *Builder { return s.builder }

// SetDataHandler installs the consumer of PathData arriving on any path of
// the set that has no handler of its own.
func (s *PathSet) SetDataHandler(h DataHandler) { s.onData = h }

// OnBuilt registers a callback run after every finished build.
func (s *PathSet) OnBuilt(f func(*Path, error)) { s.onBuilt = f }

// Start begins periodic ticking. It may be called from any goroutine.
func (s *PathSet) Start() error {
	return s.ctx.Logic.Post(s.loop)
}

func (s *PathSet) loop() {
	if s.stopped {
		return
	}
	s.Tick(s.ctx.Now())
	s.tickTimer = s.ctx.Logic.CallLater(TickInterval, s.loop)
}

// Stop cancels running builds and stops ticking. Established paths are
// left to expire at their relays.
func (s *PathSet) Stop() {
	if s.stopped {
		return
	}
	s.stopped = true
	if s.tickTimer != nil {
		s.tickTimer.Stop()
	}
	for _, job := range s.jobs {
		job.Cancel()
	}
}

// Stats returns the build counters.
func (s *PathSet) Stats() BuildStats { return s.stats }

// Len returns the number of paths held, building ones included.
func (s *PathSet) Len() int { return len(s.paths) }

// Building returns the number of builds in flight.
func (s *PathSet) Building() int { return len(s.jobs) }

// Tick drives liveness, drops finished paths and starts builds.
func (s *PathSet) Tick(now time.Time) {
	for key, p := range s.paths {
		p.tick(now, s.cfg)
		if p.State().Done() {
			if _, building := s.jobs[key]; !building {
				log.WithFields(logger.Fields{
					"at":    "(PathSet) Tick",
					"set":   s.name,
					"path":  p.String(),
					"state": p.State().String(),
				}).Debug("dropping path")
				delete(s.paths, key)
			}
		}
	}
	s.builder.edges.Cleanup(now)
	for s.ShouldBuildMore(now) {
		if err := s.BuildOne(); err != nil {
			break
		}
	}
}

func (s *PathSet) live(now time.Time) int {
	n := 0
	for _, p := range s.paths {
		switch p.State() {
		case Building:
			n++
		case Established:
			if !p.ExpiresSoon(now) {
				n++
			}
		}
	}
	return n
}

// ShouldBuildMore reports whether the set is short of paths and not
// backing off.
func (s *PathSet) ShouldBuildMore(now time.Time) bool {
	if s.stopped || now.Before(s.nextBuild) {
		return false
	}
	return s.live(now) < s.cfg.DesiredPaths
}

// BuildOne starts one build with hops not used by any live path of the
// set.
func (s *PathSet) BuildOne() error {
	if s.stopped {
		return ErrStopped
	}
	s.stats.Attempts++
	job, err := s.builder.Build(BuildRequest{
		Hops:     s.cfg.Hops,
		Role:     s.role,
		Lifetime: s.cfg.Lifetime,
		Timeout:  s.cfg.BuildTimeout,
		Exclude:  s.ExcludeSet(),
		Set:      s,
	}, s.built)
	if err != nil {
		log.WithFields(logger.Fields{
			"at":  "(PathSet) BuildOne",
			"set": s.name,
		}).WithError(err).Debug("build not started")
		s.stats.record(err)
		s.ctx.Metrics.BuildResult(KindOf(err).String())
		s.backoff()
		return err
	}
	key := keyOf(job.path)
	s.paths[key] = job.path
	s.jobs[key] = job
	return nil
}

func (s *PathSet) backoff() {
	s.consecutiveFails++
	s.nextBuild = s.ctx.Now().Add(backoffFor(s.consecutiveFails, s.cfg.BuildRetryDelay, s.cfg.MaxBuildBackoff))
}

func (s *PathSet) built(job *BuildJob, err error) {
	key := keyOf(job.path)
	delete(s.jobs, key)
	s.stats.record(err)
	switch {
	case err == nil:
		s.consecutiveFails = 0
		s.nextBuild = time.Time{}
		if perr := job.path.SendLatencyProbe(s.ctx.Now()); perr != nil {
			log.WithError(perr).WithField("path", job.path.String()).Debug("first probe not sent")
		}
	case KindOf(err) == Cancelled:
		delete(s.paths, key)
	default:
		delete(s.paths, key)
		s.backoff()
	}
	if s.onBuilt != nil {
		s.onBuilt(job.path, err)
	}
}

// Established returns the set's usable paths, oldest first.
func (s *PathSet) Established() []*Path {
	now := s.ctx.Now()
	out := make([]*Path, 0, len(s.paths))
	for _, p := range s.paths {
		if p.IsReady(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].established.Equal(out[j].established) {
			return out[i].established.Before(out[j].established)
		}
		return out[i].ID().String() < out[j].ID().String()
	})
	return out
}

// SelectPath returns the next usable path in round-robin order, or nil.
func (s *PathSet) SelectPath() *Path {
	ready := s.Established()
	if len(ready) == 0 {
		return nil
	}
	p := ready[s.rr%len(ready)]
	s.rr++
	return p
}

// GetByUpstream finds a path by its first hop and PathID.
func (s *PathSet) GetByUpstream(router common.RouterID, id common.PathID) *Path {
	return s.paths[pathKey{router: router, id: id}]
}

// ExcludeSet returns every relay on a path of the set that is not done.
func (s *PathSet) ExcludeSet() common.ExcludeSet {
	ex := make(common.ExcludeSet)
	for _, p := range s.paths {
		if p.State().Done() {
			continue
		}
		for _, id := range p.Hops() {
			ex.Add(id)
		}
	}
	return ex
}

// ShouldPublishIntro reports whether a hidden service set is due to
// publish its introduction points.
func (s *PathSet) ShouldPublishIntro(now time.Time) bool {
	if s.role != RoleHiddenService || len(s.Established()) == 0 {
		return false
	}
	return s.lastIntro.IsZero() || now.Sub(s.lastIntro) >= IntroPublishInterval
}

// MarkIntroPublished records an introduction publish at now.
func (s *PathSet) MarkIntroPublished(now time.Time) { s.lastIntro = now }

// HandleStatus hands a status chain to the build job it belongs to and
// reports whether there was one.
func (s *PathSet) HandleStatus(from common.RouterID, msg *wire.StatusMessage) bool {
	job, ok := s.jobs[pathKey{router: from, id: msg.PathID}]
	if !ok {
		return false
	}
	job.HandleStatus(msg)
	return true
}

// HandleDownstream delivers routing data to the path it belongs to and
// reports whether there was one.
func (s *PathSet) HandleDownstream(from common.RouterID, msg *wire.RelayDownstream) bool {
	p, ok := s.paths[pathKey{router: from, id: msg.PathID}]
	if !ok {
		return false
	}
	return p.HandleDownstream(from, msg)
}
