package path

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"

	"github.com/go-i2p/go-onionpath/lib/common"
	"github.com/go-i2p/go-onionpath/lib/env"
	"github.com/go-i2p/go-onionpath/lib/onion"
	"github.com/go-i2p/go-onionpath/lib/util/time/monotonic"
	"github.com/go-i2p/go-onionpath/lib/wire"
	"github.com/go-i2p/go-onionpath/lib/worker"
)

// maxEdgeRetries bounds how many first hops are tried when the edge
// limiter refuses the selector's choice.
const maxEdgeRetries = 8

// errBuildTimeout is wrapped by TimeoutFailure errors raised locally.
var errBuildTimeout = errors.New("no status chain before build timeout")

// BuildRequest describes one path to build.
type BuildRequest struct {
	Hops     int
	Role     Role
	Lifetime time.Duration
	Timeout  time.Duration
	// Exclude lists relays that must not appear on the new path.
	Exclude common.ExcludeSet
	// Set receives the path; it may be nil.
	Set *PathSet
}

// Builder selects hops and dispatches build jobs. All methods run on the
// logic loop.
type Builder struct {
	ctx   *env.Context
	edges *EdgeLimiter
}

// NewBuilder returns a builder limiting each first hop to one build per
// edgeInterval.
func NewBuilder(ctx *env.Context, edgeInterval time.Duration) *Builder {
	return &Builder{ctx: ctx, edges: NewEdgeLimiter(edgeInterval)}
}

// Edges exposes the per-edge limiter.
func (b *Builder) Edges() *EdgeLimiter { return b.edges }

// Build selects req.Hops relays and starts a job for them. The returned job
// is already counting down its timeout; done runs on the logic loop exactly
// once. A failure before dispatch is returned as a *BuildError and done is
// not called.
func (b *Builder) Build(req BuildRequest, done func(*BuildJob, error)) (*BuildJob, error) {
	if req.Hops < 1 || req.Hops > wire.MaxLen {
		return nil, buildError(ProtocolViolation, fmt.Errorf("%w: %d", onion.ErrHopCount, req.Hops))
	}
	now := b.ctx.Now()
	relays, err := b.selectHops(req, now)
	if err != nil {
		return nil, err
	}
	hops, err := onion.NewHopConfigs(relays, now, req.Lifetime)
	if err != nil {
		return nil, buildError(CryptoFailure, oops.Wrapf(err, "hop configs"))
	}

	job := &BuildJob{
		b:       b,
		path:    newPath(b.ctx, req.Set, hops, now),
		role:    req.Role,
		started: now,
		onDone:  done,
	}
	job.timer = b.ctx.Logic.CallLater(req.Timeout, job.timeout)

	log.WithFields(logger.Fields{
		"at":   "(Builder) Build",
		"path": job.path.String(),
		"hops": len(hops),
		"role": req.Role.String(),
	}).Debug("dispatching build")

	err = worker.Dispatch(b.ctx.Workers, b.ctx.Logic,
		func() (*onion.Commit, error) { return onion.EncryptCommit(hops) },
		job.sealed)
	if err != nil {
		job.timer.Stop()
		job.done = true
		job.path.setState(Timeout)
		return nil, buildError(CapacityExceeded, oops.Wrapf(err, "worker pool"))
	}
	return job, nil
}

func (b *Builder) selectHops(req BuildRequest, now time.Time) ([]common.RelayDescriptor, error) {
	exclude := common.NewExcludeSet(b.ctx.RouterID())
	for id := range req.Exclude {
		exclude.Add(id)
	}
	relays := make([]common.RelayDescriptor, 0, req.Hops)
	var prev *common.RelayDescriptor
	for i := 0; i < req.Hops; i++ {
		r, err := b.selectOne(prev, exclude, i, now)
		if err != nil {
			return nil, &BuildError{Kind: SelectionFailure, Hop: i, Err: err}
		}
		exclude.Add(r.ID)
		relays = append(relays, r)
		prev = &relays[i]
	}
	return relays, nil
}

func (b *Builder) selectOne(prev *common.RelayDescriptor, exclude common.ExcludeSet, index int, now time.Time) (common.RelayDescriptor, error) {
	if index > 0 {
		return b.ctx.Selector.SelectHop(prev, exclude, index)
	}
	tried := exclude.Clone()
	for attempt := 0; attempt < maxEdgeRetries; attempt++ {
		r, err := b.ctx.Selector.SelectHop(nil, tried, 0)
		if err != nil {
			return common.RelayDescriptor{}, err
		}
		if b.edges.Allow(r.ID, now) {
			return r, nil
		}
		tried.Add(r.ID)
	}
	return common.RelayDescriptor{}, errors.New("every candidate first hop is rate limited")
}

// BuildJob tracks one path from dispatch until its status chain is
// verified, it times out, or it is cancelled.
type BuildJob struct {
	b       *Builder
	path    *Path
	role    Role
	started time.Time
	keys    []onion.HopKeys

	timer     monotonic.Timer
	verifying bool
	done      bool
	err       error
	onDone    func(*BuildJob, error)
}

// Path returns the path being built.
func (j *BuildJob) Path() *Path { return j.path }

// Done reports whether the job has finished.
func (j *BuildJob) Done() bool { return j.done }

// Err returns the failure, or nil if the job succeeded or is running.
func (j *BuildJob) Err() error { return j.err }

// Cancel abandons the job. Completions arriving later are discarded.
func (j *BuildJob) Cancel() {
	j.finish(buildError(Cancelled, nil))
}

func (j *BuildJob) sealed(commit *onion.Commit, err error) {
	if j.done {
		return
	}
	if err != nil {
		kind := ProtocolViolation
		if errors.Is(err, onion.ErrCryptoFailure) {
			kind = CryptoFailure
		}
		j.finish(buildError(kind, err))
		return
	}
	j.keys = commit.Keys
	if err := j.b.ctx.Send(j.path.FirstHop(), commit.Message); err != nil {
		j.finish(&BuildError{Kind: SelectionFailure, Hop: 0, Err: err})
	}
}

// HandleStatus verifies a status chain addressed to the job's path.
func (j *BuildJob) HandleStatus(msg *wire.StatusMessage) {
	if j.done || j.verifying || j.keys == nil {
		return
	}
	j.verifying = true
	replies := make([]onion.ReplyKey, len(j.path.hops))
	for i := range j.path.hops {
		replies[i] = j.path.hops[i].Reply()
	}
	frames := msg.Frames
	err := worker.Dispatch(j.b.ctx.Workers, j.b.ctx.Logic,
		func() (struct{}, error) { return struct{}{}, onion.VerifyStatusChain(frames, replies) },
		func(_ struct{}, err error) { j.verified(err) })
	if err != nil {
		j.verifying = false
		log.WithError(err).WithField("path", j.path.String()).Warn("status chain not verified")
	}
}

func (j *BuildJob) verified(err error) {
	j.verifying = false
	if j.done {
		return
	}
	if err != nil {
		j.finish(classifyChainError(err))
		return
	}
	j.path.markEstablished(j.keys, j.b.ctx.Now())
	j.finish(nil)
}

func (j *BuildJob) timeout() {
	j.finish(buildError(TimeoutFailure, errBuildTimeout))
}

func (j *BuildJob) finish(err error) {
	if j.done {
		return
	}
	j.done = true
	j.err = err
	if j.timer != nil {
		j.timer.Stop()
	}
	if err != nil {
		j.path.setState(Timeout)
	}
	j.report(err)
	if j.onDone != nil {
		j.onDone(j, err)
	}
}

func (j *BuildJob) report(err error) {
	ctx := j.b.ctx
	hops := j.path.Hops()
	fields := logger.Fields{
		"at":      "(BuildJob) finish",
		"path":    j.path.String(),
		"elapsed": ctx.Now().Sub(j.started).String(),
	}
	if err == nil {
		log.WithFields(fields).Debug("path established")
		ctx.Metrics.BuildResult("success")
		if ctx.Profiler != nil {
			ctx.Profiler.MarkPathSuccess(hops)
		}
		return
	}

	var be *BuildError
	errors.As(err, &be)
	log.WithFields(fields).WithError(err).Debug("path build failed")
	ctx.Metrics.BuildResult(be.Kind.String())
	if ctx.Profiler == nil {
		return
	}
	switch {
	case be.Kind == TimeoutFailure && be.Hop < 0:
		ctx.Profiler.MarkPathTimeout(hops)
	case be.Status != 0 && be.Hop >= 0 && be.Hop < len(hops):
		ctx.Profiler.MarkHopFail(hops[be.Hop])
	}
}
