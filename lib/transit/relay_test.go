package transit

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-i2p/go-onionpath/lib/common"
	"github.com/go-i2p/go-onionpath/lib/crypto"
	"github.com/go-i2p/go-onionpath/lib/env"
	"github.com/go-i2p/go-onionpath/lib/logic"
	"github.com/go-i2p/go-onionpath/lib/onion"
	"github.com/go-i2p/go-onionpath/lib/selector"
	"github.com/go-i2p/go-onionpath/lib/transport/mempipe"
	"github.com/go-i2p/go-onionpath/lib/util/time/monotonic"
	"github.com/go-i2p/go-onionpath/lib/wire"
	"github.com/go-i2p/go-onionpath/lib/worker"
)

const waitFor = 5 * time.Second

type relayNode struct {
	ctx   *env.Context
	relay *Relay
	desc  common.RelayDescriptor
}

type harness struct {
	t      *testing.T
	net    *mempipe.Network
	db     *selector.NodeDB
	relays []*relayNode

	client common.RouterID
	inbox  chan wire.LinkMessage
}

func newHarness(t *testing.T, n int, cfg Config) *harness {
	h := &harness{
		t:     t,
		net:   mempipe.NewNetwork(),
		db:    selector.NewNodeDB(),
		inbox: make(chan wire.LinkMessage, 64),
	}
	for i := 0; i < n; i++ {
		h.relays = append(h.relays, h.addRelay(cfg))
	}

	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	h.client = common.RouterID(kp.Public)
	ep := h.net.Attach(h.client)
	ep.SetHandler(func(_ common.RouterID, frame []byte) bool {
		msg, err := wire.ParseLinkMessage(frame)
		if err != nil {
			return false
		}
		h.inbox <- msg
		return true
	})
	t.Cleanup(func() { ep.Close() })
	return h
}

func (h *harness) addRelay(cfg Config) *relayNode {
	t := h.t
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	id := common.RouterID(kp.Public)

	l := logic.New(monotonic.NewClock(), 0)
	l.Start()
	pool := worker.NewPool(2, 64)
	pool.Start()
	ep := h.net.Attach(id)

	ctx := &env.Context{Identity: kp, Logic: l, Workers: pool, Transport: ep, Lookup: h.db}
	node := &relayNode{ctx: ctx, relay: NewRelay(ctx, cfg), desc: common.RelayDescriptor{ID: id}}
	h.db.Add(node.desc)

	ep.SetHandler(func(from common.RouterID, frame []byte) bool {
		msg, err := wire.ParseLinkMessage(frame)
		if err != nil {
			return false
		}
		return l.Call(func() {
			switch m := msg.(type) {
			case *wire.CommitMessage:
				node.relay.HandleCommit(from, m)
			case *wire.StatusMessage:
				node.relay.HandleStatus(from, m)
			case *wire.RelayUpstream:
				node.relay.HandleUpstream(from, m)
			case *wire.RelayDownstream:
				node.relay.HandleDownstream(from, m)
			}
		}) == nil
	})
	t.Cleanup(func() {
		ep.Close()
		pool.Stop()
		l.Stop()
	})
	return node
}

func (h *harness) descriptors(nodes ...*relayNode) []common.RelayDescriptor {
	out := make([]common.RelayDescriptor, len(nodes))
	for i, n := range nodes {
		out[i] = n.desc
	}
	return out
}

// commit seals a path over relays and sends it to the first one.
func (h *harness) commit(relays []common.RelayDescriptor, start time.Time, lifetime time.Duration) ([]onion.HopConfig, *onion.Commit) {
	hops, err := onion.NewHopConfigs(relays, start, lifetime)
	require.NoError(h.t, err)
	c, err := onion.EncryptCommit(hops)
	require.NoError(h.t, err)
	h.send(relays[0].ID, c.Message)
	return hops, c
}

func (h *harness) send(to common.RouterID, msg wire.LinkMessage) {
	frame, err := wire.EncodeLinkMessage(msg)
	require.NoError(h.t, err)
	require.NoError(h.t, h.net.Attach(h.client).SendFrame(to, frame))
}

func (h *harness) next() wire.LinkMessage {
	select {
	case m := <-h.inbox:
		return m
	case <-time.After(waitFor):
		h.t.Fatal("no message reached the originator")
		return nil
	}
}

func replies(hops []onion.HopConfig) []onion.ReplyKey {
	out := make([]onion.ReplyKey, len(hops))
	for i := range hops {
		out[i] = hops[i].Reply()
	}
	return out
}

func layers(c *onion.Commit) []onion.Layer {
	out := make([]onion.Layer, len(c.Keys))
	for i, k := range c.Keys {
		out[i] = k.Layer
	}
	return out
}

func (h *harness) buildPath(n int) ([]onion.HopConfig, *onion.Commit) {
	hops, c := h.commit(h.descriptors(h.relays[:n]...), time.Now(), 10*time.Minute)
	status, ok := h.next().(*wire.StatusMessage)
	require.True(h.t, ok)
	require.Equal(h.t, hops[0].RxID, status.PathID)
	require.NoError(h.t, onion.VerifyStatusChain(status.Frames, replies(hops)))
	return hops, c
}

func TestRelayInstallsEveryHop(t *testing.T) {
	h := newHarness(t, 3, DefaultConfig())
	hops, _ := h.buildPath(3)

	for i, n := range h.relays {
		assert.Equal(t, 1, n.relay.Table().Len(), "relay %d", i)
	}
	last, ok := h.relays[2].relay.Table().LookupUpstream(hops[2].RxID)
	require.True(t, ok)
	assert.True(t, last.Terminal)
	mid, ok := h.relays[1].relay.Table().LookupDownstream(hops[1].TxID)
	require.True(t, ok)
	assert.Equal(t, h.relays[0].desc.ID, mid.Downstream)
	assert.Equal(t, h.relays[2].desc.ID, mid.Upstream)
}

func TestRelayCapacityRejectTearsDownPath(t *testing.T) {
	h := newHarness(t, 2, DefaultConfig())
	full := h.addRelay(Config{MaxHops: 1})
	require.NoError(t, full.relay.Table().Insert(randomHop(t, time.Now())))

	hops, _ := h.commit(h.descriptors(h.relays[0], h.relays[1], full), time.Now(), 10*time.Minute)
	status, ok := h.next().(*wire.StatusMessage)
	require.True(t, ok)
	assert.Equal(t, wire.StatusFailCongestion, status.Status)

	err := onion.VerifyStatusChain(status.Frames, replies(hops))
	var rejected *onion.HopRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, 2, rejected.Hop)
	assert.Equal(t, wire.StatusFailCongestion, rejected.Status)

	assert.Zero(t, h.relays[0].relay.Table().Len())
	assert.Zero(t, h.relays[1].relay.Table().Len())
	assert.Equal(t, 1, full.relay.Table().Len())
}

func TestRelayRejectsRecordPolicy(t *testing.T) {
	tests := []struct {
		name     string
		start    time.Duration
		lifetime time.Duration
		want     wire.Status
	}{
		{"short lifetime", 0, 5 * time.Second, wire.StatusFailMalformed},
		{"long lifetime", 0, time.Hour, wire.StatusFailMalformed},
		{"skewed start", -10 * time.Minute, 10 * time.Minute, wire.StatusFailDestInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 2, DefaultConfig())
			hops, _ := h.commit(h.descriptors(h.relays...), time.Now().Add(tt.start), tt.lifetime)
			status, ok := h.next().(*wire.StatusMessage)
			require.True(t, ok)

			var rejected *onion.HopRejectedError
			require.ErrorAs(t, onion.VerifyStatusChain(status.Frames, replies(hops)), &rejected)
			assert.Equal(t, 0, rejected.Hop)
			assert.Equal(t, tt.want, rejected.Status)
			assert.Zero(t, h.relays[0].relay.Table().Len())
			assert.Zero(t, h.net.Received(h.relays[1].desc.ID), "nothing is forwarded")
		})
	}
}

func TestRelayUnknownNextHop(t *testing.T) {
	h := newHarness(t, 2, DefaultConfig())
	h.db.Remove(h.relays[1].desc.ID)

	hops, _ := h.commit(h.descriptors(h.relays...), time.Now(), 10*time.Minute)
	status := h.next().(*wire.StatusMessage)
	var rejected *onion.HopRejectedError
	require.ErrorAs(t, onion.VerifyStatusChain(status.Frames, replies(hops)), &rejected)
	assert.Equal(t, wire.StatusFailDestUnknown, rejected.Status)
}

func TestRelayWrongKeyInstallsNothing(t *testing.T) {
	h := newHarness(t, 2, DefaultConfig())
	stranger, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	// The record is sealed for a key relay 0 does not hold.
	relays := []common.RelayDescriptor{{ID: common.RouterID(stranger.Public)}, h.relays[1].desc}
	hops, err := onion.NewHopConfigs(relays, time.Now(), 10*time.Minute)
	require.NoError(t, err)
	c, err := onion.EncryptCommit(hops)
	require.NoError(t, err)
	h.send(h.relays[0].desc.ID, c.Message)

	assert.Never(t, func() bool { return len(h.inbox) > 0 }, 300*time.Millisecond, 10*time.Millisecond)
	assert.Zero(t, h.relays[0].relay.Table().Len())
	assert.Zero(t, h.net.Received(h.relays[1].desc.ID))
}

func TestRelayRoutingDataRoundTrip(t *testing.T) {
	for n := 1; n <= 4; n++ {
		h := newHarness(t, n, DefaultConfig())
		terminal := h.relays[n-1]
		terminal.relay.SetDataHandler(func(_ *TransitHop, payload []byte) []byte {
			return append([]byte("echo:"), payload...)
		})
		hops, c := h.buildPath(n)

		body, err := wire.EncodeRoutingMessage(&wire.PathData{Payload: []byte("hello"), Seq: 1})
		require.NoError(t, err)
		nonce, payload, err := onion.WrapUpstream(body, layers(c))
		require.NoError(t, err)
		h.send(h.relays[0].desc.ID, &wire.RelayUpstream{PathID: hops[0].RxID, Nonce: nonce, Payload: payload})

		down, ok := h.next().(*wire.RelayDownstream)
		require.True(t, ok)
		assert.Equal(t, hops[0].RxID, down.PathID)
		plain, err := onion.UnwrapDownstream(down.Nonce, down.Payload, layers(c))
		require.NoError(t, err)
		msg, err := wire.ParseRoutingMessage(plain)
		require.NoError(t, err)
		data, ok := msg.(*wire.PathData)
		require.True(t, ok, "hops=%d", n)
		assert.Equal(t, []byte("echo:hello"), data.Payload)
		assert.Equal(t, uint64(1), data.Seq)
	}
}

func TestRelayLatencyEcho(t *testing.T) {
	h := newHarness(t, 3, DefaultConfig())
	hops, c := h.buildPath(3)

	body, err := wire.EncodeRoutingMessage(&wire.PathLatency{Token: 4242, Seq: 1})
	require.NoError(t, err)
	nonce, payload, err := onion.WrapUpstream(body, layers(c))
	require.NoError(t, err)
	h.send(h.relays[0].desc.ID, &wire.RelayUpstream{PathID: hops[0].RxID, Nonce: nonce, Payload: payload})

	down := h.next().(*wire.RelayDownstream)
	plain, err := onion.UnwrapDownstream(down.Nonce, down.Payload, layers(c))
	require.NoError(t, err)
	msg, err := wire.ParseRoutingMessage(plain)
	require.NoError(t, err)
	lat, ok := msg.(*wire.PathLatency)
	require.True(t, ok)
	assert.Equal(t, uint64(4242), lat.Token)
}

func TestRelayDropsReplayedSequence(t *testing.T) {
	h := newHarness(t, 2, DefaultConfig())
	var mu sync.Mutex
	var seen [][]byte
	h.relays[1].relay.SetDataHandler(func(_ *TransitHop, payload []byte) []byte {
		mu.Lock()
		seen = append(seen, payload)
		mu.Unlock()
		return nil
	})
	hops, c := h.buildPath(2)

	send := func(seq uint64, payload string) {
		body, err := wire.EncodeRoutingMessage(&wire.PathData{Payload: []byte(payload), Seq: seq})
		require.NoError(t, err)
		nonce, layered, err := onion.WrapUpstream(body, layers(c))
		require.NoError(t, err)
		h.send(h.relays[0].desc.ID, &wire.RelayUpstream{PathID: hops[0].RxID, Nonce: nonce, Payload: layered})
	}
	send(1, "first")
	send(1, "replay")
	send(2, "second")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && bytes.Equal(seen[len(seen)-1], []byte("second"))
	}, waitFor, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, [][]byte{[]byte("first"), []byte("second")}, seen)
}

func TestRelayRemoveNeighbourAndExpiry(t *testing.T) {
	h := newHarness(t, 2, DefaultConfig())
	h.buildPath(2)
	r0 := h.relays[0]

	require.NoError(t, r0.ctx.Logic.Sync(func() {
		assert.Equal(t, 1, r0.relay.RemoveNeighbour(h.client))
	}))
	assert.Zero(t, r0.relay.Table().Len())

	r1 := h.relays[1]
	require.NoError(t, r1.ctx.Logic.Sync(func() {
		r1.relay.Tick(time.Now().Add(11 * time.Minute))
	}))
	assert.Zero(t, r1.relay.Table().Len())
}

func TestRelayForwardToClosedLinkRemovesHop(t *testing.T) {
	h := newHarness(t, 3, DefaultConfig())
	hops, c := h.buildPath(3)
	mid := h.relays[1]
	require.Equal(t, 1, mid.relay.Table().Len())

	require.NoError(t, h.relays[2].ctx.Transport.Close())

	body, err := wire.EncodeRoutingMessage(&wire.PathData{Payload: []byte("lost"), Seq: 1})
	require.NoError(t, err)
	nonce, payload, err := onion.WrapUpstream(body, layers(c))
	require.NoError(t, err)
	h.send(h.relays[0].desc.ID, &wire.RelayUpstream{PathID: hops[0].RxID, Nonce: nonce, Payload: payload})

	require.Eventually(t, func() bool { return mid.relay.Table().Len() == 0 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, 1, h.relays[0].relay.Table().Len(), "only the hop facing the dead link goes")
}
