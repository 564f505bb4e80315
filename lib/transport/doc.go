// Package transport defines the link-layer collaborator the path layer
// talks to: a way to send an opaque frame to a neighbouring router and a
// callback for frames arriving from one.
//
// Link sessions, their handshake and retransmission live behind this
// interface. Sends are fire-and-forget and never block the caller waiting
// for the peer.
//
// # Implementations
//
//   - mempipe: an in-process network connecting any number of routers,
//     used by tests and the simnet command.
//   - TransportMuxer: fans out over several transports, picking the first
//     that can reach the destination.
package transport
