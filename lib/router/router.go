package router

import (
	"sync"
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"

	"github.com/go-i2p/go-onionpath/lib/common"
	"github.com/go-i2p/go-onionpath/lib/config"
	"github.com/go-i2p/go-onionpath/lib/crypto"
	"github.com/go-i2p/go-onionpath/lib/env"
	"github.com/go-i2p/go-onionpath/lib/logic"
	"github.com/go-i2p/go-onionpath/lib/metrics"
	"github.com/go-i2p/go-onionpath/lib/path"
	"github.com/go-i2p/go-onionpath/lib/profiling"
	"github.com/go-i2p/go-onionpath/lib/selector"
	"github.com/go-i2p/go-onionpath/lib/transit"
	"github.com/go-i2p/go-onionpath/lib/transport"
	"github.com/go-i2p/go-onionpath/lib/util/time/monotonic"
	"github.com/go-i2p/go-onionpath/lib/util/time/sntp"
	"github.com/go-i2p/go-onionpath/lib/wire"
	"github.com/go-i2p/go-onionpath/lib/worker"
)

var log = logger.GetGoI2PLogger()

// MaintenanceInterval is how often profiles decay and gauges refresh.
const MaintenanceInterval = 30 * time.Second

// Deps are the collaborators a router cannot create itself.
type Deps struct {
	// Identity defaults to a fresh keypair.
	Identity crypto.KeyPair
	// Transport is required.
	Transport transport.Transport
	// NodeDB is required; it resolves relays and backs hop selection.
	NodeDB *selector.NodeDB
	// Selector overrides hop selection over NodeDB.
	Selector selector.HopSelector
	// Clock defaults to a monotonic.Clock.
	Clock monotonic.Source
	// Metrics may be nil.
	Metrics *metrics.Metrics
}

// Router is one node: a relay for others and an originator of its own
// paths.
type Router struct {
	cfg   config.ConfigDefaults
	ctx   *env.Context
	relay *transit.Relay
	sets  []*path.PathSet
	store *profiling.Store
	ntp   *sntp.Timestamper

	maintTimer monotonic.Timer

	running   bool
	closed    bool
	runMux    sync.RWMutex
	closeChnl chan struct{}
}

// CreateRouter validates cfg and assembles a stopped router.
func CreateRouter(cfg config.ConfigDefaults, deps Deps) (*Router, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if deps.Transport == nil || deps.NodeDB == nil {
		return nil, oops.Errorf("router needs a transport and a node database")
	}

	identity := deps.Identity
	if identity.Public == (crypto.PublicKey{}) {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, oops.Wrapf(err, "generate router identity")
		}
		identity = kp
	}

	clock := deps.Clock
	if clock == nil {
		clock = monotonic.NewClock()
	}

	r := &Router{cfg: cfg, closeChnl: make(chan struct{})}
	profiler, err := r.initProfiling(clock)
	if err != nil {
		return nil, err
	}

	hops := deps.Selector
	if hops == nil {
		hops = deps.NodeDB
	}
	sel, err := selector.NewFilteringSelector(hops,
		selector.WithName("path"),
		selector.WithFilters(profiler.PathFilter(profiling.DefaultChances)))
	if err != nil {
		r.closeStore()
		return nil, err
	}

	r.ctx = &env.Context{
		Identity:  identity,
		Logic:     logic.New(clock, cfg.Router.LogicQueueSize),
		Workers:   worker.NewPool(cfg.Worker.Count, cfg.Worker.QueueSize),
		Transport: deps.Transport,
		Selector:  sel,
		Lookup:    deps.NodeDB,
		Metrics:   deps.Metrics,
		Profiler:  profiler,
	}
	r.relay = transit.NewRelay(r.ctx, TransitConfig(cfg.Transit))

	if cfg.Clock.NTPEnabled {
		if mc, ok := clock.(*monotonic.Clock); ok {
			r.ntp = sntp.NewTimestamper(nil, mc, cfg.Clock.Servers, cfg.Clock.SyncInterval)
		}
	}

	log.WithFields(logger.Fields{
		"at":        "CreateRouter",
		"router":    r.ID().Short(),
		"transport": deps.Transport.Name(),
	}).Debug("router created")
	return r, nil
}

func (r *Router) initProfiling(clock monotonic.Source) (*profiling.Profiler, error) {
	profiler := profiling.NewProfiler(clock)
	if !r.cfg.Profiling.Enabled {
		profiler.Disable()
		return profiler, nil
	}
	store, err := profiling.OpenStore(r.cfg.Profiling.Path)
	if err != nil {
		return nil, err
	}
	if err := store.Load(profiler); err != nil {
		log.WithError(err).Warn("could not load router profiles, starting empty")
	}
	r.store = store
	return profiler, nil
}

// PathConfig converts the path section of a configuration.
func PathConfig(p config.PathDefaults) path.Config {
	return path.Config{
		Hops:              p.Hops,
		DesiredPaths:      p.DesiredPaths,
		Lifetime:          p.Lifetime,
		BuildTimeout:      p.BuildTimeout,
		LatencyInterval:   p.LatencyInterval,
		MaxMissedProbes:   p.MaxMissedProbes,
		BuildRetryDelay:   p.BuildRetryDelay,
		MaxBuildBackoff:   p.MaxBuildBackoff,
		EdgeBuildInterval: p.EdgeBuildInterval,
	}
}

// TransitConfig converts the transit section of a configuration.
func TransitConfig(t config.TransitDefaults) transit.Config {
	return transit.Config{
		MaxHops:          t.MaxHops,
		MaxClockSkew:     t.MaxClockSkew,
		CommitsPerMinute: t.MaxCommitsPerMinute,
		CommitBurst:      t.CommitBurst,
		ExpireInterval:   t.ExpireInterval,
	}
}

// ID returns the router's id.
func (r *Router) ID() common.RouterID { return r.ctx.RouterID() }

// Descriptor returns what other routers need to select this one.
func (r *Router) Descriptor() common.RelayDescriptor {
	return common.RelayDescriptor{ID: r.ID(), Addr: r.ctx.Transport.Name()}
}

// Context returns the router's context.
func (r *Router) Context() *env.Context { return r.ctx }

// Relay returns the transit relay.
func (r *Router) Relay() *transit.Relay { return r.relay }

// Profiler returns the router's profiler.
func (r *Router) Profiler() *profiling.Profiler { return r.ctx.Profiler }

// Sync runs f on the logic loop and waits for it.
func (r *Router) Sync(f func()) error { return r.ctx.Logic.Sync(f) }

// NewPathSet adds a path set using the configured path settings.
func (r *Router) NewPathSet(name string, role path.Role) *path.PathSet {
	set := path.NewPathSet(r.ctx, name, role, PathConfig(r.cfg.Path))
	r.AddPathSet(set)
	return set
}

// AddPathSet registers a set built on this router's context so that its
// status chains and downstream data reach it. Sets added to a running
// router start immediately.
func (r *Router) AddPathSet(set *path.PathSet) {
	r.runMux.Lock()
	r.sets = append(r.sets, set)
	running := r.running
	r.runMux.Unlock()
	if running {
		if err := set.Start(); err != nil {
			log.WithError(err).WithField("set", set.Name()).Warn("path set not started")
		}
	}
}

// Sets returns the router's path sets.
func (r *Router) Sets() []*path.PathSet {
	r.runMux.RLock()
	defer r.runMux.RUnlock()
	return append([]*path.PathSet(nil), r.sets...)
}

// Start starts the loop, the workers, the relay and every path set. A
// stopped router cannot be restarted.
func (r *Router) Start() {
	r.runMux.Lock()
	if r.running || r.closed {
		r.runMux.Unlock()
		log.WithFields(logger.Fields{
			"at":      "(Router) Start",
			"reason":  "router is already running or stopped",
			"running": r.running,
		}).Error("error starting router")
		return
	}
	r.running = true
	sets := append([]*path.PathSet(nil), r.sets...)
	r.runMux.Unlock()

	log.WithField("router", r.ID().Short()).Debug("starting router")
	r.ctx.Logic.Start()
	r.ctx.Workers.Start()
	r.ctx.Transport.SetHandler(r.handleFrame)
	r.ctx.Transport.SetCloseHandler(r.sessionClosed)
	if err := r.ctx.Logic.Post(func() {
		r.relay.Start()
		r.maintain()
	}); err != nil {
		log.WithError(err).Error("could not schedule relay start")
	}
	for _, s := range sets {
		if err := s.Start(); err != nil {
			log.WithError(err).WithField("set", s.Name()).Warn("path set not started")
		}
	}
	if r.ntp != nil {
		r.ntp.Start()
	}
}

// Stop cancels builds, stops the relay, saves profiles and releases every
// resource. It is safe to call more than once, and on a router that was
// never started.
func (r *Router) Stop() {
	r.runMux.Lock()
	if r.closed {
		r.runMux.Unlock()
		return
	}
	wasRunning := r.running
	r.running = false
	r.closed = true
	sets := append([]*path.PathSet(nil), r.sets...)
	r.runMux.Unlock()

	log.WithFields(logger.Fields{
		"at":      "(Router) Stop",
		"router":  r.ID().Short(),
		"running": wasRunning,
	}).Debug("stopping router")
	if wasRunning {
		if r.ntp != nil {
			r.ntp.Stop()
		}
		if err := r.ctx.Logic.Sync(func() {
			for _, s := range sets {
				s.Stop()
			}
			r.relay.Stop()
			if r.maintTimer != nil {
				r.maintTimer.Stop()
			}
		}); err != nil {
			log.WithError(err).Warn("logic loop stopped before shutdown")
		}
	}
	r.ctx.Workers.Stop()
	r.ctx.Logic.Stop()
	if err := r.ctx.Transport.Close(); err != nil {
		log.WithError(err).Warn("error closing transport")
	}
	r.saveProfiles()
	r.closeStore()
	close(r.closeChnl)
}

// Close stops the router.
func (r *Router) Close() error {
	r.Stop()
	return nil
}

// Wait blocks until the router has stopped.
func (r *Router) Wait() {
	<-r.closeChnl
}

// RemoveNeighbour tears down every transit hop routed through id.
func (r *Router) RemoveNeighbour(id common.RouterID) int {
	var n int
	if err := r.ctx.Logic.Sync(func() { n = r.relay.RemoveNeighbour(id) }); err != nil {
		log.WithError(err).Warn("neighbour not removed")
	}
	return n
}

func (r *Router) maintain() {
	r.ctx.Profiler.Tick()
	established := 0
	for _, s := range r.Sets() {
		established += len(s.Established())
	}
	r.ctx.Metrics.EstablishedPaths(established)
	r.ctx.Metrics.TransitHops(r.relay.Table().Len())
	r.maintTimer = r.ctx.Logic.CallLater(MaintenanceInterval, r.maintain)
}

func (r *Router) saveProfiles() {
	if r.store == nil {
		return
	}
	if err := r.store.Save(r.ctx.Profiler); err != nil {
		log.WithError(err).Warn("could not save router profiles")
	}
}

func (r *Router) closeStore() {
	if r.store == nil {
		return
	}
	if err := r.store.Close(); err != nil {
		log.WithError(err).Warn("error closing profile store")
	}
	r.store = nil
}

// handleFrame parses a frame from the transport and queues its dispatch.
func (r *Router) handleFrame(from common.RouterID, frame []byte) bool {
	msg, err := wire.ParseLinkMessage(frame)
	if err != nil {
		log.WithFields(logger.Fields{
			"at":     "(Router) handleFrame",
			"from":   from.Short(),
			"reason": "unparseable",
		}).WithError(err).Debug("dropping frame")
		return false
	}
	return r.ctx.Logic.Call(func() { r.dispatch(from, msg) }) == nil
}

// sessionClosed drops every transit hop routed through a neighbour whose
// link went away.
func (r *Router) sessionClosed(peer common.RouterID) {
	err := r.ctx.Logic.Post(func() { r.relay.RemoveNeighbour(peer) })
	if err != nil {
		log.WithFields(logger.Fields{
			"at":   "(Router) sessionClosed",
			"peer": peer.Short(),
		}).WithError(err).Debug("router stopped, ignoring teardown")
	}
}

func (r *Router) dispatch(from common.RouterID, msg wire.LinkMessage) {
	switch m := msg.(type) {
	case *wire.CommitMessage:
		r.relay.HandleCommit(from, m)
	case *wire.StatusMessage:
		for _, s := range r.Sets() {
			if s.HandleStatus(from, m) {
				return
			}
		}
		r.relay.HandleStatus(from, m)
	case *wire.RelayUpstream:
		r.relay.HandleUpstream(from, m)
	case *wire.RelayDownstream:
		for _, s := range r.Sets() {
			if s.HandleDownstream(from, m) {
				return
			}
		}
		r.relay.HandleDownstream(from, m)
	}
}
