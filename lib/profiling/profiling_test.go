package profiling

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-i2p/go-onionpath/lib/common"
	"github.com/go-i2p/go-onionpath/lib/util/time/monotonic"
)

func rid(b byte) common.RouterID {
	var id common.RouterID
	id[0] = b
	return id
}

func TestIsGoodForPath(t *testing.T) {
	tests := []struct {
		name string
		prof RouterProfile
		want bool
	}{
		{"fresh", RouterProfile{}, true},
		{"few fails", RouterProfile{PathFail: 3}, true},
		{"too many fails", RouterProfile{PathFail: 4}, false},
		{"mostly good", RouterProfile{PathFail: 2, PathSuccess: 10}, true},
		{"even split", RouterProfile{PathFail: 4, PathSuccess: 4}, false},
		{"timeouts", RouterProfile{PathTimeout: 5, PathSuccess: 100}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.prof.IsGoodForPath(DefaultChances))
		})
	}
}

func TestMarkPathOutcomes(t *testing.T) {
	clock := monotonic.NewManualClock(time.Unix(1_700_000_000, 0))
	p := NewProfiler(clock)
	hops := []common.RouterID{rid(1), rid(2), rid(3)}

	p.MarkPathTimeout(hops)
	_, ok := p.Profile(rid(1))
	assert.False(t, ok, "first hop is not blamed for a timeout")
	prof, ok := p.Profile(rid(2))
	require.True(t, ok)
	assert.Equal(t, uint64(1), prof.PathTimeout)
	assert.Equal(t, clock.Now().UnixMilli(), prof.LastUpdated)

	for i := 0; i < 4; i++ {
		p.MarkHopFail(rid(3))
	}
	assert.True(t, p.IsBadForPath(rid(3), DefaultChances))
	assert.False(t, p.IsBadForPath(rid(9), DefaultChances), "unknown relays are fine")

	p.Disable()
	assert.False(t, p.IsBadForPath(rid(3), DefaultChances))
	p.Enable()

	p.MarkPathSuccess(hops)
	prof, _ = p.Profile(rid(3))
	assert.Equal(t, uint64(2), prof.PathFail)
	assert.Equal(t, uint64(3), prof.PathSuccess)
	prof, _ = p.Profile(rid(2))
	assert.Zero(t, prof.PathTimeout)
}

func TestProfileFilter(t *testing.T) {
	p := NewProfiler(monotonic.NewManualClock(time.Unix(0, 0)))
	for i := 0; i < 5; i++ {
		p.MarkHopFail(rid(1))
	}
	f := p.PathFilter(DefaultChances)
	assert.False(t, f.Accept(common.RelayDescriptor{ID: rid(1)}))
	assert.True(t, f.Accept(common.RelayDescriptor{ID: rid(2)}))
}

func TestTickDecays(t *testing.T) {
	clock := monotonic.NewManualClock(time.Unix(0, 0))
	p := NewProfiler(clock)
	for i := 0; i < 8; i++ {
		p.MarkHopFail(rid(1))
	}

	clock.Advance(DecayInterval - time.Second)
	p.Tick()
	prof, _ := p.Profile(rid(1))
	assert.Equal(t, uint64(8), prof.PathFail)

	clock.Advance(time.Second)
	p.Tick()
	prof, _ = p.Profile(rid(1))
	assert.Equal(t, uint64(4), prof.PathFail)
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.db")
	clock := monotonic.NewManualClock(time.Unix(1_700_000_000, 0))

	p := NewProfiler(clock)
	p.MarkHopFail(rid(1))
	p.MarkPathSuccess([]common.RouterID{rid(2), rid(3)})

	s, err := OpenStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(p))
	require.NoError(t, s.Close())

	s, err = OpenStore(path)
	require.NoError(t, err)
	defer s.Close()

	loaded := NewProfiler(clock)
	require.NoError(t, s.Load(loaded))
	assert.Equal(t, 3, loaded.Len())

	want, _ := p.Profile(rid(2))
	got, ok := loaded.Profile(rid(2))
	require.True(t, ok)
	assert.Equal(t, want, got)
}
