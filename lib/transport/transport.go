package transport

import (
	"github.com/go-i2p/go-onionpath/lib/common"
)

// FrameHandler receives a frame from neighbour from. It returns whether
// the frame was understood. Handlers must not block.
type FrameHandler func(from common.RouterID, frame []byte) bool

// CloseHandler is told when the session with peer has gone away. Handlers
// must not block.
type CloseHandler func(peer common.RouterID)

// Transport moves opaque frames between neighbouring routers.
type Transport interface {
	// Name identifies the transport in logs.
	Name() string
	// SendFrame queues frame for delivery to the router to. It returns an
	// error only when the frame cannot be queued.
	SendFrame(to common.RouterID, frame []byte) error
	// Reachable reports whether the transport can currently send to id.
	Reachable(id common.RouterID) bool
	// SetHandler registers the receiver for inbound frames.
	SetHandler(h FrameHandler)
	// SetCloseHandler registers the receiver for session teardown.
	SetCloseHandler(h CloseHandler)
	// Close tears down every session.
	Close() error
}
