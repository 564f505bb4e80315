package router

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-i2p/go-onionpath/lib/common"
	"github.com/go-i2p/go-onionpath/lib/config"
	"github.com/go-i2p/go-onionpath/lib/crypto"
	"github.com/go-i2p/go-onionpath/lib/path"
	"github.com/go-i2p/go-onionpath/lib/selector"
	"github.com/go-i2p/go-onionpath/lib/transit"
	"github.com/go-i2p/go-onionpath/lib/transport/mempipe"
)

const (
	waitFor = 10 * time.Second
	tick    = 10 * time.Millisecond
)

// route is a hop selector that returns a fixed list of relays.
type route struct {
	mu   sync.Mutex
	hops []common.RelayDescriptor
}

func (r *route) set(hops ...*Router) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hops = r.hops[:0]
	for _, h := range hops {
		r.hops = append(r.hops, h.Descriptor())
	}
}

func (r *route) SelectHop(_ *common.RelayDescriptor, _ common.ExcludeSet, i int) (common.RelayDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i >= len(r.hops) {
		return common.RelayDescriptor{}, selector.ErrNoCandidates
	}
	return r.hops[i], nil
}

type testNet struct {
	t   *testing.T
	net *mempipe.Network
	db  *selector.NodeDB
}

func newTestNet(t *testing.T) *testNet {
	return &testNet{t: t, net: mempipe.NewNetwork(), db: selector.NewNodeDB()}
}

func testConfig() config.ConfigDefaults {
	cfg := config.Defaults()
	cfg.Profiling.Enabled = false
	cfg.Worker.Count = 2
	cfg.Worker.QueueSize = 64
	cfg.Path.DesiredPaths = 1
	cfg.Path.Hops = 3
	return cfg
}

func (n *testNet) node(sel selector.HopSelector, mutate func(*config.ConfigDefaults)) *Router {
	t := n.t
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	ep := n.net.Attach(common.RouterID(kp.Public))

	r, err := CreateRouter(cfg, Deps{Identity: kp, Transport: ep, NodeDB: n.db, Selector: sel})
	require.NoError(t, err)
	n.db.Add(r.Descriptor())
	t.Cleanup(r.Stop)
	return r
}

func (n *testNet) relays(count int, mutate func(*config.ConfigDefaults)) []*Router {
	out := make([]*Router, count)
	for i := range out {
		out[i] = n.node(nil, mutate)
		out[i].Start()
	}
	return out
}

func established(t *testing.T, r *Router, set *path.PathSet) []*path.Path {
	var paths []*path.Path
	if err := r.Sync(func() { paths = set.Established() }); err != nil {
		return nil
	}
	return paths
}

func waitEstablished(t *testing.T, r *Router, set *path.PathSet, n int) []*path.Path {
	require.Eventually(t, func() bool {
		return len(established(t, r, set)) >= n
	}, waitFor, tick)
	return established(t, r, set)
}

func TestCreateRouterRejectsBadInput(t *testing.T) {
	n := newTestNet(t)
	cfg := testConfig()
	cfg.Path.Hops = 9
	_, err := CreateRouter(cfg, Deps{Transport: n.net.Attach(common.RouterID{1}), NodeDB: n.db})
	assert.Error(t, err)

	_, err = CreateRouter(testConfig(), Deps{NodeDB: n.db})
	assert.Error(t, err)
}

func TestPathSetEstablishesThroughRelays(t *testing.T) {
	n := newTestNet(t)
	n.relays(6, nil)
	client := n.node(nil, func(c *config.ConfigDefaults) { c.Path.DesiredPaths = 2 })
	set := client.NewPathSet("client", path.RoleTunnel)
	client.Start()

	paths := waitEstablished(t, client, set, 2)
	seen := map[common.RouterID]bool{}
	for _, p := range paths {
		assert.Equal(t, 3, p.HopCount())
		for _, h := range p.Hops() {
			assert.False(t, seen[h], "paths of one set share no relay")
			assert.NotEqual(t, client.ID(), h)
			seen[h] = true
		}
	}
}

func TestDataRoundTrip(t *testing.T) {
	n := newTestNet(t)
	for i := 0; i < 4; i++ {
		r := n.node(nil, nil)
		r.Relay().SetDataHandler(func(_ *transit.TransitHop, payload []byte) []byte {
			return append([]byte("echo:"), payload...)
		})
		r.Start()
	}
	client := n.node(nil, nil)
	set := client.NewPathSet("client", path.RoleTunnel)
	got := make(chan []byte, 4)
	set.SetDataHandler(func(_ *path.Path, payload []byte) {
		select {
		case got <- payload:
		default:
		}
	})
	client.Start()

	p := waitEstablished(t, client, set, 1)[0]
	var err error
	require.NoError(t, client.Sync(func() { err = p.Send([]byte("ping")) }))
	require.NoError(t, err)

	select {
	case b := <-got:
		assert.Equal(t, "echo:ping", string(b))
	case <-time.After(waitFor):
		t.Fatal("no reply from terminal hop")
	}
}

func TestLatencyMeasuredAfterEstablish(t *testing.T) {
	n := newTestNet(t)
	n.relays(4, nil)
	client := n.node(nil, nil)
	set := client.NewPathSet("client", path.RoleTunnel)
	client.Start()

	p := waitEstablished(t, client, set, 1)[0]
	require.Eventually(t, func() bool {
		var l time.Duration
		_ = client.Sync(func() { l = p.Latency() })
		return l > 0
	}, waitFor, tick)
}

func TestTerminalCapacityRejectsBuild(t *testing.T) {
	n := newTestNet(t)
	relays := n.relays(3, nil)
	full := n.node(nil, func(c *config.ConfigDefaults) { c.Transit.MaxHops = 1 })
	full.Start()

	rt := &route{}
	client := n.node(rt, func(c *config.ConfigDefaults) { c.Path.Hops = 1 })
	rt.set(full)
	filler := client.NewPathSet("filler", path.RoleTunnel)
	client.Start()
	waitEstablished(t, client, filler, 1)

	var buildErr error
	failed := make(chan struct{})
	var long *path.PathSet
	require.NoError(t, client.Sync(func() {
		rt.set(relays[0], relays[1], relays[2], full)
		long = path.NewPathSet(client.Context(), "long", path.RoleTunnel, path.Config{Hops: 4, DesiredPaths: 1})
		long.OnBuilt(func(_ *path.Path, err error) {
			if err == nil || buildErr != nil {
				return
			}
			buildErr = err
			long.Stop()
			close(failed)
		})
	}))
	client.AddPathSet(long)

	select {
	case <-failed:
	case <-time.After(waitFor):
		t.Fatal("build did not fail")
	}
	var be *path.BuildError
	require.True(t, errors.As(buildErr, &be))
	assert.Equal(t, path.CapacityExceeded, be.Kind)
	assert.Equal(t, 3, be.Hop)

	for _, r := range relays {
		r := r
		require.Eventually(t, func() bool {
			size := -1
			_ = r.Sync(func() { size = r.Relay().Table().Len() })
			return size == 0
		}, waitFor, tick, "rejected path leaves no transit state")
	}
}

func TestBlackholedRelayTimesOut(t *testing.T) {
	n := newTestNet(t)
	relays := n.relays(2, nil)
	n.net.Blackhole(relays[1].ID(), true)

	rt := &route{}
	rt.set(relays...)
	client := n.node(rt, func(c *config.ConfigDefaults) {
		c.Path.Hops = 2
		c.Path.BuildTimeout = 200 * time.Millisecond
	})
	set := client.NewPathSet("client", path.RoleTunnel)
	errs := make(chan error, 8)
	set.OnBuilt(func(_ *path.Path, err error) {
		if err == nil {
			return
		}
		select {
		case errs <- err:
		default:
		}
	})
	client.Start()

	select {
	case err := <-errs:
		assert.Equal(t, path.TimeoutFailure, path.KindOf(err))
	case <-time.After(waitFor):
		t.Fatal("build did not time out")
	}
}

func TestRemoveNeighbourDropsTransitHops(t *testing.T) {
	n := newTestNet(t)
	relays := n.relays(3, nil)
	rt := &route{}
	rt.set(relays...)
	client := n.node(rt, nil)
	set := client.NewPathSet("client", path.RoleTunnel)
	client.Start()
	waitEstablished(t, client, set, 1)

	assert.Equal(t, 1, relays[0].RemoveNeighbour(client.ID()))
	assert.Equal(t, 0, relays[0].RemoveNeighbour(client.ID()))
}

func TestClosedLinkEmptiesNeighbourTables(t *testing.T) {
	n := newTestNet(t)
	relays := n.relays(3, nil)
	rt := &route{}
	rt.set(relays...)
	client := n.node(rt, nil)
	set := client.NewPathSet("client", path.RoleTunnel)
	client.Start()
	waitEstablished(t, client, set, 1)
	for i, r := range relays {
		require.NotZero(t, r.Relay().Table().Len(), "relay %d", i)
	}

	require.NoError(t, relays[1].Context().Transport.Close())

	require.Eventually(t, func() bool {
		return relays[0].Relay().Table().Len() == 0 && relays[2].Relay().Table().Len() == 0
	}, waitFor, tick)
}

func TestProfilesSurviveRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "profiles.db")
	withStore := func(c *config.ConfigDefaults) {
		c.Profiling.Enabled = true
		c.Profiling.Path = dbPath
	}
	peer := common.RouterID{7}

	r := newTestNet(t).node(nil, withStore)
	r.Start()
	r.Profiler().MarkHopFail(peer)
	r.Stop()
	r.Wait()

	again := newTestNet(t).node(nil, withStore)
	prof, ok := again.Profiler().Profile(peer)
	require.True(t, ok)
	assert.NotZero(t, prof)
}

func TestStopIsIdempotent(t *testing.T) {
	r := newTestNet(t).node(nil, nil)
	r.Start()
	r.Start()
	r.Stop()
	r.Stop()
	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Stop")
	}
}

func TestConfigConversion(t *testing.T) {
	cfg := config.Defaults()
	pc := PathConfig(cfg.Path)
	assert.Equal(t, cfg.Path.Hops, pc.Hops)
	assert.Equal(t, cfg.Path.EdgeBuildInterval, pc.EdgeBuildInterval)
	tc := TransitConfig(cfg.Transit)
	assert.Equal(t, cfg.Transit.MaxHops, tc.MaxHops)
	assert.Equal(t, cfg.Transit.MaxCommitsPerMinute, tc.CommitsPerMinute)
}
