package path

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-i2p/go-onionpath/lib/onion"
	"github.com/go-i2p/go-onionpath/lib/wire"
)

func (f *fixture) state(p *Path) State {
	var s State
	f.sync(func() { s = p.State() })
	return s
}

func TestBuildEstablishes(t *testing.T) {
	for hops := 1; hops <= wire.MaxLen; hops++ {
		f := newFixture(t, wire.MaxLen)
		p := f.establish(hops)
		assert.Equal(t, Established, f.state(p))
		assert.Len(t, p.Hops(), hops)
		assert.Len(t, p.layers, hops)
	}
}

func TestBuildHopRejectsWithCongestion(t *testing.T) {
	f := newFixture(t, 6)
	job, done := f.build(4, 30*time.Second)

	statuses := allSuccess(4)
	statuses[3] = wire.StatusFailCongestion
	msg := &wire.StatusMessage{
		PathID: job.path.ID(),
		Status: wire.StatusFailCongestion,
		Frames: chain(t, job.path.hops, statuses),
	}
	f.sync(func() { job.HandleStatus(msg) })

	r := f.wait(done)
	var be *BuildError
	require.True(t, errors.As(r.err, &be))
	assert.Equal(t, CapacityExceeded, be.Kind)
	assert.Equal(t, 3, be.Hop)
	assert.Equal(t, wire.StatusFailCongestion, be.Status)
	assert.Equal(t, Timeout, f.state(job.path))
	f.sync(func() {
		assert.False(t, job.path.IsReady(f.ctx.Now()))
		assert.ErrorIs(t, job.path.Send([]byte("x")), ErrNotEstablished)
	})
}

func TestBuildOutOfOrderChain(t *testing.T) {
	f := newFixture(t, 4)
	job, done := f.build(3, 30*time.Second)

	frames := chain(t, job.path.hops, allSuccess(3))
	frames[1], frames[2] = frames[2], frames[1]
	f.sync(func() {
		job.HandleStatus(&wire.StatusMessage{PathID: job.path.ID(), Status: wire.StatusSuccess, Frames: frames})
	})

	r := f.wait(done)
	assert.Equal(t, ProtocolViolation, KindOf(r.err))
	assert.ErrorIs(t, r.err, onion.ErrOutOfOrder)
	assert.Equal(t, Timeout, f.state(job.path))
}

func TestBuildGarbageChain(t *testing.T) {
	f := newFixture(t, 4)
	job, done := f.build(2, 30*time.Second)

	frames := chain(t, job.path.hops, nil)
	f.sync(func() {
		job.HandleStatus(&wire.StatusMessage{PathID: job.path.ID(), Status: wire.StatusSuccess, Frames: frames})
	})

	r := f.wait(done)
	assert.Equal(t, ProtocolViolation, KindOf(r.err))
	assert.ErrorIs(t, r.err, onion.ErrMalformedStatus)
}

func TestBuildTimesOutAtBuildTimeout(t *testing.T) {
	const timeout = 30 * time.Second
	f := newFixture(t, 4)
	job, done := f.build(3, timeout)

	f.clock.Advance(timeout - time.Millisecond)
	assert.Equal(t, Building, f.state(job.path))
	select {
	case <-done:
		t.Fatal("build finished early")
	default:
	}

	f.clock.Advance(time.Millisecond)
	r := f.wait(done)
	assert.Equal(t, TimeoutFailure, KindOf(r.err))
	assert.Equal(t, Timeout, f.state(job.path))

	// A late chain is ignored.
	late := &wire.StatusMessage{
		PathID: job.path.ID(),
		Status: wire.StatusSuccess,
		Frames: chain(t, job.path.hops, allSuccess(3)),
	}
	f.sync(func() { job.HandleStatus(late) })
	f.sync(func() {})
	assert.Equal(t, Timeout, f.state(job.path))
}

func TestBuildCancelDiscardsCompletion(t *testing.T) {
	f := newFixture(t, 4)
	job, done := f.build(2, 30*time.Second)

	f.sync(job.Cancel)
	r := f.wait(done)
	assert.Equal(t, Cancelled, KindOf(r.err))

	late := &wire.StatusMessage{
		PathID: job.path.ID(),
		Status: wire.StatusSuccess,
		Frames: chain(t, job.path.hops, allSuccess(2)),
	}
	f.sync(func() { job.HandleStatus(late) })
	assert.Equal(t, Timeout, f.state(job.path))
}

func TestBuildSelectionFailure(t *testing.T) {
	f := newFixture(t, 2)
	var err error
	f.sync(func() {
		_, err = NewBuilder(f.ctx, 0).Build(BuildRequest{Hops: 3, Lifetime: time.Minute, Timeout: time.Second}, nil)
	})
	var be *BuildError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, SelectionFailure, be.Kind)
	assert.Equal(t, 2, be.Hop)
}

func TestBuildRejectsHopCount(t *testing.T) {
	f := newFixture(t, 2)
	for _, n := range []int{0, wire.MaxLen + 1} {
		var err error
		f.sync(func() {
			_, err = NewBuilder(f.ctx, 0).Build(BuildRequest{Hops: n, Lifetime: time.Minute, Timeout: time.Second}, nil)
		})
		assert.Equal(t, ProtocolViolation, KindOf(err), "hops=%d", n)
	}
}

func TestBuildFirstHopUnreachable(t *testing.T) {
	f := newFixture(t, 1)
	only := f.db.All()[0].ID
	f.tr.mu.Lock()
	f.tr.down[only] = true
	f.tr.mu.Unlock()

	done := make(chan result, 1)
	var err error
	f.sync(func() {
		_, err = NewBuilder(f.ctx, 0).Build(BuildRequest{Hops: 1, Lifetime: time.Minute, Timeout: time.Minute},
			func(j *BuildJob, err error) { done <- result{j, err} })
	})
	require.NoError(t, err)
	r := f.wait(done)
	assert.Equal(t, SelectionFailure, KindOf(r.err))
}

func TestEdgeLimitedFirstHop(t *testing.T) {
	f := newFixture(t, 1)
	b := NewBuilder(f.ctx, time.Minute)
	var first, second error
	f.sync(func() {
		_, first = b.Build(BuildRequest{Hops: 1, Lifetime: time.Minute, Timeout: time.Minute}, nil)
		_, second = b.Build(BuildRequest{Hops: 1, Lifetime: time.Minute, Timeout: time.Minute}, nil)
	})
	assert.NoError(t, first)
	assert.Equal(t, SelectionFailure, KindOf(second))

	f.clock.Advance(time.Minute)
	f.sync(func() {
		_, first = b.Build(BuildRequest{Hops: 1, Lifetime: time.Minute, Timeout: time.Hour}, nil)
	})
	assert.NoError(t, first)
}

func TestBuildTimeoutSurvivesFullQueue(t *testing.T) {
	const timeout = 30 * time.Second
	f := newFixtureQueue(t, 4, 2)
	job, done := f.build(3, timeout)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(unblock)
	require.NoError(t, f.ctx.Logic.Call(func() {
		close(started)
		<-release
	}))
	<-started
	for f.ctx.Logic.Call(func() {}) == nil {
	}
	require.NotZero(t, f.ctx.Logic.Dropped())

	f.clock.Advance(timeout)
	unblock()

	r := f.wait(done)
	assert.Equal(t, TimeoutFailure, KindOf(r.err))
	assert.Equal(t, Timeout, f.state(job.path))
}
