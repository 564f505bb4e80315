package common

// RelayDescriptor is what the hop-selection collaborator hands back for a
// candidate relay.
type RelayDescriptor struct {
	// ID is the relay's long-term public key.
	ID RouterID
	// Addr is an opaque transport address. The in-memory transport ignores it.
	Addr string
	// Nickname is an optional human readable label.
	Nickname string
}

// ExcludeSet is a set of relays that must not be chosen again.
type ExcludeSet map[RouterID]struct{}

// NewExcludeSet returns a set holding ids.
func NewExcludeSet(ids ...RouterID) ExcludeSet {
	s := make(ExcludeSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id.
func (s ExcludeSet) Add(id RouterID) {
	s[id] = struct{}{}
}

// Contains reports whether id is in the set.
func (s ExcludeSet) Contains(id RouterID) bool {
	_, ok := s[id]
	return ok
}

// Clone returns an independent copy.
func (s ExcludeSet) Clone() ExcludeSet {
	c := make(ExcludeSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}
