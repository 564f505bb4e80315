package selector

import (
	"sort"
	"sync"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/logger"

	"github.com/go-i2p/go-onionpath/lib/common"
)

// NodeDB is an in-memory set of known relays. It implements both Lookup and
// HopSelector; as a selector it picks uniformly among the relays that are
// neither excluded nor equal to prev.
type NodeDB struct {
	mu     sync.RWMutex
	relays map[common.RouterID]common.RelayDescriptor
}

var (
	_ Lookup      = (*NodeDB)(nil)
	_ HopSelector = (*NodeDB)(nil)
)

// NewNodeDB returns a NodeDB seeded with relays.
func NewNodeDB(relays ...common.RelayDescriptor) *NodeDB {
	db := &NodeDB{relays: make(map[common.RouterID]common.RelayDescriptor, len(relays))}
	for _, r := range relays {
		db.relays[r.ID] = r
	}
	return db
}

// Add inserts or replaces a relay.
func (db *NodeDB) Add(r common.RelayDescriptor) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.relays[r.ID] = r
}

// Remove forgets a relay.
func (db *NodeDB) Remove(id common.RouterID) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.relays, id)
}

// Len returns the number of known relays.
func (db *NodeDB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.relays)
}

// FindRouter implements Lookup.
func (db *NodeDB) FindRouter(id common.RouterID) (common.RelayDescriptor, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	r, ok := db.relays[id]
	return r, ok
}

// All returns every known relay ordered by id.
func (db *NodeDB) All() []common.RelayDescriptor {
	db.mu.RLock()
	out := make([]common.RelayDescriptor, 0, len(db.relays))
	for _, r := range db.relays {
		out = append(out, r)
	}
	db.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].ID[:]) < string(out[j].ID[:])
	})
	return out
}

// SelectHop implements HopSelector.
func (db *NodeDB) SelectHop(prev *common.RelayDescriptor, exclude common.ExcludeSet, hopIndex int) (common.RelayDescriptor, error) {
	candidates := db.All()
	eligible := candidates[:0]
	for _, r := range candidates {
		if exclude.Contains(r.ID) {
			continue
		}
		if prev != nil && prev.ID == r.ID {
			continue
		}
		eligible = append(eligible, r)
	}
	if len(eligible) == 0 {
		log.WithFields(logger.Fields{
			"at":        "(NodeDB) SelectHop",
			"hop_index": hopIndex,
			"known":     len(candidates),
			"excluded":  len(exclude),
			"reason":    "every relay excluded",
		}).Debug("no candidate relay")
		return common.RelayDescriptor{}, ErrNoCandidates
	}
	return eligible[rand.Intn(len(eligible))], nil
}
