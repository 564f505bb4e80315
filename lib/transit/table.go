package transit

import (
	"errors"
	"sync"
	"time"

	"github.com/go-i2p/logger"

	"github.com/go-i2p/go-onionpath/lib/common"
	"github.com/go-i2p/go-onionpath/lib/wire"
)

var log = logger.GetGoI2PLogger()

// DefaultMaxHops caps the transit table.
const DefaultMaxHops = 8192

var (
	// ErrCapacityExceeded is returned when the table is full.
	ErrCapacityExceeded = errors.New("transit table full")
	// ErrDuplicatePathID is returned when a path id is already in use.
	ErrDuplicatePathID = errors.New("duplicate path id")
)

// Table holds every transit hop of one relay, indexed by the path id used
// on each side. Inserts are all-or-nothing: a hop is either reachable by
// both ids or by neither.
type Table struct {
	mu      sync.RWMutex
	maxHops int
	byRx    map[common.PathID]*TransitHop
	byTx    map[common.PathID]*TransitHop
}

// NewTable returns an empty table holding at most maxHops hops. A
// non-positive maxHops selects DefaultMaxHops.
func NewTable(maxHops int) *Table {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	return &Table{
		maxHops: maxHops,
		byRx:    make(map[common.PathID]*TransitHop),
		byTx:    make(map[common.PathID]*TransitHop),
	}
}

// Insert adds h. It fails with ErrCapacityExceeded when the table is full
// and with ErrDuplicatePathID when either id is already taken; in both
// cases the table is unchanged.
func (t *Table) Insert(h *TransitHop) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.byRx) >= t.maxHops {
		return ErrCapacityExceeded
	}
	if _, ok := t.byRx[h.RxID]; ok {
		return ErrDuplicatePathID
	}
	if _, ok := t.byTx[h.TxID]; ok {
		return ErrDuplicatePathID
	}
	t.byRx[h.RxID] = h
	t.byTx[h.TxID] = h
	return nil
}

// StatusOf maps an Insert error to the status answered to the originator.
func StatusOf(err error) wire.Status {
	switch {
	case err == nil:
		return wire.StatusSuccess
	case errors.Is(err, ErrCapacityExceeded):
		return wire.StatusFailCongestion
	case errors.Is(err, ErrDuplicatePathID):
		return wire.StatusFailDuplicateHop
	default:
		return wire.StatusFailMalformed
	}
}

// LookupUpstream finds the hop for traffic arriving from downstream,
// which is tagged with the hop's RxID.
func (t *Table) LookupUpstream(rx common.PathID) (*TransitHop, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.byRx[rx]
	return h, ok
}

// LookupDownstream finds the hop for traffic arriving from upstream,
// which is tagged with the hop's TxID.
func (t *Table) LookupDownstream(tx common.PathID) (*TransitHop, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.byTx[tx]
	return h, ok
}

// Remove deletes h. It reports whether h was present.
func (t *Table) Remove(h *TransitHop) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(h)
}

func (t *Table) removeLocked(h *TransitHop) bool {
	cur, ok := t.byRx[h.RxID]
	if !ok || cur != h {
		return false
	}
	delete(t.byRx, h.RxID)
	delete(t.byTx, h.TxID)
	return true
}

// Expire removes every hop whose lifetime has elapsed at now and returns
// them.
func (t *Table) Expire(now time.Time) []*TransitHop {
	return t.removeWhere(func(h *TransitHop) bool { return h.ExpiredAt(now) })
}

// RemoveNeighbour removes every hop that uses id as either neighbour.
func (t *Table) RemoveNeighbour(id common.RouterID) []*TransitHop {
	return t.removeWhere(func(h *TransitHop) bool {
		return h.Downstream == id || (!h.Terminal && h.Upstream == id)
	})
}

func (t *Table) removeWhere(pred func(*TransitHop) bool) []*TransitHop {
	t.mu.Lock()
	defer t.mu.Unlock()
	var removed []*TransitHop
	for _, h := range t.byRx {
		if pred(h) {
			removed = append(removed, h)
		}
	}
	for _, h := range removed {
		t.removeLocked(h)
	}
	return removed
}

// Len returns the number of installed hops.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byRx)
}

// Cap returns the table's capacity.
func (t *Table) Cap() int {
	return t.maxHops
}
