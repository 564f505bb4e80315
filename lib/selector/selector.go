package selector

import (
	"errors"

	"github.com/go-i2p/logger"

	"github.com/go-i2p/go-onionpath/lib/common"
)

var log = logger.GetGoI2PLogger()

// ErrNoCandidates is returned when no known relay satisfies a selection.
var ErrNoCandidates = errors.New("no eligible relay")

// HopSelector picks the relay for position hopIndex of a path under
// construction. prev is the relay chosen for hopIndex-1 and is nil for the
// first hop. Relays in exclude must not be returned.
type HopSelector interface {
	SelectHop(prev *common.RelayDescriptor, exclude common.ExcludeSet, hopIndex int) (common.RelayDescriptor, error)
}

// HopSelectorFunc adapts a function to HopSelector.
type HopSelectorFunc func(prev *common.RelayDescriptor, exclude common.ExcludeSet, hopIndex int) (common.RelayDescriptor, error)

// SelectHop implements HopSelector.
func (f HopSelectorFunc) SelectHop(prev *common.RelayDescriptor, exclude common.ExcludeSet, hopIndex int) (common.RelayDescriptor, error) {
	return f(prev, exclude, hopIndex)
}

// Lookup resolves a relay id to its descriptor.
type Lookup interface {
	FindRouter(id common.RouterID) (common.RelayDescriptor, bool)
}
