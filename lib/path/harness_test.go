package path

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-i2p/go-onionpath/lib/common"
	"github.com/go-i2p/go-onionpath/lib/crypto"
	"github.com/go-i2p/go-onionpath/lib/env"
	"github.com/go-i2p/go-onionpath/lib/logic"
	"github.com/go-i2p/go-onionpath/lib/onion"
	"github.com/go-i2p/go-onionpath/lib/selector"
	"github.com/go-i2p/go-onionpath/lib/transport"
	"github.com/go-i2p/go-onionpath/lib/util/time/monotonic"
	"github.com/go-i2p/go-onionpath/lib/wire"
	"github.com/go-i2p/go-onionpath/lib/worker"
)

const waitFor = 5 * time.Second

var epoch = time.Unix(1_750_000_000, 0)

type sent struct {
	to  common.RouterID
	msg wire.LinkMessage
}

// captureTransport records every frame instead of delivering it.
type captureTransport struct {
	mu   sync.Mutex
	sent []sent
	down map[common.RouterID]bool
}

func (c *captureTransport) Name() string { return "capture" }

func (c *captureTransport) SendFrame(to common.RouterID, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down[to] {
		return transport.ErrUnknownPeer
	}
	msg, err := wire.ParseLinkMessage(frame)
	if err != nil {
		return err
	}
	c.sent = append(c.sent, sent{to: to, msg: msg})
	return nil
}

func (c *captureTransport) Reachable(id common.RouterID) bool      { return !c.down[id] }
func (c *captureTransport) SetHandler(transport.FrameHandler)      {}
func (c *captureTransport) SetCloseHandler(transport.CloseHandler) {}
func (c *captureTransport) Close() error                           { return nil }

func (c *captureTransport) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *captureTransport) at(i int) sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[i]
}

type fixture struct {
	t     *testing.T
	clock *monotonic.ManualClock
	ctx   *env.Context
	tr    *captureTransport
	db    *selector.NodeDB
}

func newFixture(t *testing.T, relays int) *fixture {
	return newFixtureQueue(t, relays, 0)
}

// newFixtureQueue is newFixture with a bounded logic queue of queueSize.
func newFixtureQueue(t *testing.T, relays, queueSize int) *fixture {
	clock := monotonic.NewManualClock(epoch)
	l := logic.New(clock, queueSize)
	l.Start()
	pool := worker.NewPool(2, 64)
	pool.Start()
	t.Cleanup(func() {
		pool.Stop()
		l.Stop()
	})

	db := selector.NewNodeDB()
	for i := 0; i < relays; i++ {
		kp, err := crypto.GenerateKeyPair()
		require.NoError(t, err)
		db.Add(common.RelayDescriptor{ID: common.RouterID(kp.Public)})
	}
	self, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	tr := &captureTransport{down: make(map[common.RouterID]bool)}
	ctx := &env.Context{
		Identity:  self,
		Logic:     l,
		Workers:   pool,
		Transport: tr,
		Selector:  db,
		Lookup:    db,
	}
	return &fixture{t: t, clock: clock, ctx: ctx, tr: tr, db: db}
}

func (f *fixture) sync(fn func()) {
	require.NoError(f.t, f.ctx.Logic.Sync(fn))
}

type result struct {
	job *BuildJob
	err error
}

// build starts a job on the loop and waits for its commit to be sent.
func (f *fixture) build(hops int, timeout time.Duration) (*BuildJob, chan result) {
	done := make(chan result, 1)
	before := f.tr.count()
	var (
		job *BuildJob
		err error
	)
	f.sync(func() {
		job, err = NewBuilder(f.ctx, 0).Build(BuildRequest{
			Hops:     hops,
			Lifetime: 10 * time.Minute,
			Timeout:  timeout,
		}, func(j *BuildJob, err error) { done <- result{j, err} })
	})
	require.NoError(f.t, err)
	require.Eventually(f.t, func() bool { return f.tr.count() > before }, waitFor, time.Millisecond)
	s := f.tr.at(before)
	require.IsType(f.t, &wire.CommitMessage{}, s.msg)
	require.Equal(f.t, job.path.FirstHop(), s.to)
	return job, done
}

func (f *fixture) wait(done chan result) result {
	select {
	case r := <-done:
		return r
	case <-time.After(waitFor):
		f.t.Fatal("build did not finish")
		return result{}
	}
}

// chain builds the status frames relays would send back, hop statuses in
// path order.
func chain(t *testing.T, hops []onion.HopConfig, statuses []wire.Status) [][]byte {
	frames := make([][]byte, wire.MaxLen)
	for i := range frames {
		fr, err := wire.RandomFrame(wire.StatusFrameSize)
		require.NoError(t, err)
		frames[i] = fr
	}
	for i := len(statuses) - 1; i >= 0; i-- {
		var err error
		frames, err = onion.AddStatusFrame(frames, hops[i].Reply(), statuses[i])
		require.NoError(t, err)
	}
	return frames
}

func allSuccess(n int) []wire.Status {
	out := make([]wire.Status, n)
	for i := range out {
		out[i] = wire.StatusSuccess
	}
	return out
}

// establish runs a build to completion with every hop accepting.
func (f *fixture) establish(hops int) *Path {
	job, done := f.build(hops, 30*time.Second)
	msg := &wire.StatusMessage{
		PathID: job.path.ID(),
		Status: wire.StatusSuccess,
		Frames: chain(f.t, job.path.hops, allSuccess(hops)),
	}
	f.sync(func() { job.HandleStatus(msg) })
	r := f.wait(done)
	require.NoError(f.t, r.err)
	return job.path
}

// downstream layers msg the way the relays of p would on its way back.
func downstream(t *testing.T, p *Path, msg wire.RoutingMessage) *wire.RelayDownstream {
	body, err := wire.EncodeRoutingMessage(msg)
	require.NoError(t, err)
	nonce, err := crypto.RandomNonce()
	require.NoError(t, err)
	for i := len(p.layers) - 1; i >= 0; i-- {
		nonce, err = p.layers[i].Apply(nonce, body)
		require.NoError(t, err)
	}
	return &wire.RelayDownstream{PathID: p.ID(), Nonce: nonce, Payload: body}
}

// peelUpstream removes every relay layer from an upstream message.
func peelUpstream(t *testing.T, p *Path, msg *wire.RelayUpstream) wire.RoutingMessage {
	body := append([]byte(nil), msg.Payload...)
	nonce := msg.Nonce
	var err error
	for _, l := range p.layers {
		nonce, err = l.Apply(nonce, body)
		require.NoError(t, err)
	}
	rm, err := wire.ParseRoutingMessage(body)
	require.NoError(t, err)
	return rm
}
