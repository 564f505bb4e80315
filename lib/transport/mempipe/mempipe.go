// Package mempipe is an in-process Transport: every endpoint attached to a
// Network can send frames to every other. Frames are copied on send and
// delivered on the receiving endpoint's own goroutine, so a send never
// waits for the receiver.
package mempipe

import (
	"sync"
	"sync/atomic"

	"github.com/go-i2p/logger"

	"github.com/go-i2p/go-onionpath/lib/common"
	"github.com/go-i2p/go-onionpath/lib/transport"
)

var log = logger.GetGoI2PLogger()

// DefaultInboxSize is the per-endpoint inbound queue length.
const DefaultInboxSize = 1024

type inbound struct {
	from  common.RouterID
	frame []byte
}

// Network connects endpoints by RouterID.
type Network struct {
	mu        sync.RWMutex
	endpoints map[common.RouterID]*Endpoint
	blackhole map[common.RouterID]bool
	inboxSize int
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{
		endpoints: make(map[common.RouterID]*Endpoint),
		blackhole: make(map[common.RouterID]bool),
		inboxSize: DefaultInboxSize,
	}
}

// Attach creates the endpoint for id and starts its delivery goroutine.
// Attaching an id twice returns the existing endpoint.
func (n *Network) Attach(id common.RouterID) *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ep, ok := n.endpoints[id]; ok {
		return ep
	}
	ep := &Endpoint{
		id:    id,
		net:   n,
		inbox: make(chan inbound, n.inboxSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	n.endpoints[id] = ep
	go ep.deliver()
	log.WithFields(logger.Fields{
		"at":     "(Network) Attach",
		"router": id.Short(),
	}).Debug("endpoint attached")
	return ep
}

// Blackhole makes id silently swallow every frame sent to it while on is
// true. Senders still see the peer as reachable.
func (n *Network) Blackhole(id common.RouterID, on bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blackhole[id] = on
}

// Received returns how many frames were addressed to id, including those
// swallowed by a blackhole.
func (n *Network) Received(id common.RouterID) uint64 {
	n.mu.RLock()
	ep := n.endpoints[id]
	n.mu.RUnlock()
	if ep == nil {
		return 0
	}
	return ep.received.Load()
}

func (n *Network) lookup(id common.RouterID) (*Endpoint, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ep, ok := n.endpoints[id]
	return ep, ok && !n.blackhole[id]
}

// detach removes id and returns the endpoints still attached.
func (n *Network) detach(id common.RouterID) []*Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.endpoints, id)
	peers := make([]*Endpoint, 0, len(n.endpoints))
	for _, ep := range n.endpoints {
		peers = append(peers, ep)
	}
	return peers
}

// Endpoint is one router's attachment to a Network.
type Endpoint struct {
	id      common.RouterID
	net     *Network
	inbox   chan inbound
	handler atomic.Pointer[transport.FrameHandler]
	onClose atomic.Pointer[transport.CloseHandler]

	received atomic.Uint64
	closed   atomic.Bool
	quit     chan struct{}
	done     chan struct{}
	once     sync.Once
}

var _ transport.Transport = (*Endpoint)(nil)

// Name implements transport.Transport.
func (e *Endpoint) Name() string { return "mempipe" }

// ID returns the router this endpoint belongs to.
func (e *Endpoint) ID() common.RouterID { return e.id }

// SendFrame implements transport.Transport.
func (e *Endpoint) SendFrame(to common.RouterID, frame []byte) error {
	if e.closed.Load() {
		return transport.ErrClosed
	}
	peer, live := e.net.lookup(to)
	if peer == nil {
		return transport.ErrUnknownPeer
	}
	peer.received.Add(1)
	if !live {
		return nil
	}
	if peer.closed.Load() {
		return transport.ErrUnknownPeer
	}
	msg := inbound{from: e.id, frame: append([]byte(nil), frame...)}
	select {
	case peer.inbox <- msg:
		return nil
	default:
		log.WithFields(logger.Fields{
			"at":   "(Endpoint) SendFrame",
			"from": e.id.Short(),
			"to":   to.Short(),
		}).Warn("peer inbox full, dropping frame")
		return transport.ErrQueueFull
	}
}

// Reachable implements transport.Transport.
func (e *Endpoint) Reachable(id common.RouterID) bool {
	e.net.mu.RLock()
	defer e.net.mu.RUnlock()
	peer, ok := e.net.endpoints[id]
	return ok && !peer.closed.Load()
}

// SetHandler implements transport.Transport.
func (e *Endpoint) SetHandler(h transport.FrameHandler) {
	e.handler.Store(&h)
}

// SetCloseHandler implements transport.Transport.
func (e *Endpoint) SetCloseHandler(h transport.CloseHandler) {
	e.onClose.Store(&h)
}

// Close implements transport.Transport. Every endpoint still attached is
// told that its session with this one is gone.
func (e *Endpoint) Close() error {
	e.once.Do(func() {
		e.closed.Store(true)
		peers := e.net.detach(e.id)
		close(e.quit)
		<-e.done
		for _, peer := range peers {
			peer.sessionClosed(e.id)
		}
	})
	return nil
}

func (e *Endpoint) sessionClosed(peer common.RouterID) {
	if e.closed.Load() {
		return
	}
	h := e.onClose.Load()
	if h == nil || *h == nil {
		return
	}
	log.WithFields(logger.Fields{
		"at":     "(Endpoint) sessionClosed",
		"router": e.id.Short(),
		"peer":   peer.Short(),
	}).Debug("session closed")
	(*h)(peer)
}

func (e *Endpoint) deliver() {
	defer close(e.done)
	for {
		select {
		case <-e.quit:
			return
		case msg := <-e.inbox:
			h := e.handler.Load()
			if h == nil || *h == nil {
				continue
			}
			if !(*h)(msg.from, msg.frame) {
				log.WithFields(logger.Fields{
					"at":   "(Endpoint) deliver",
					"from": msg.from.Short(),
					"to":   e.id.Short(),
				}).Debug("frame not handled")
			}
		}
	}
}
