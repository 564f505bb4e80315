package transport

import "errors"

var (
	// ErrNoTransportAvailable is returned when no muxed transport can reach a peer.
	ErrNoTransportAvailable = errors.New("no transports available")
	// ErrUnknownPeer is returned for a destination the transport has never seen.
	ErrUnknownPeer = errors.New("unknown peer")
	// ErrQueueFull is returned when an outbound queue has no room.
	ErrQueueFull = errors.New("outbound queue full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport closed")
)
