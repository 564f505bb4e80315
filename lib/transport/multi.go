package transport

import (
	"errors"
	"strings"

	"github.com/go-i2p/logger"

	"github.com/go-i2p/go-onionpath/lib/common"
)

var log = logger.GetGoI2PLogger()

// Compile-time check that TransportMuxer implements Transport interface
var _ Transport = (*TransportMuxer)(nil)

// TransportMuxer muxes multiple transports into one, in order of preference.
type TransportMuxer struct {
	trans []Transport
}

// Mux a bunch of transports together.
func Mux(t ...Transport) *TransportMuxer {
	log.WithFields(logger.Fields{
		"at":              "Mux",
		"reason":          "initialization",
		"transport_count": len(t),
	}).Debug("creating new TransportMuxer")
	return &TransportMuxer{trans: append([]Transport(nil), t...)}
}

// Name returns the names of all muxed transports.
func (tmux *TransportMuxer) Name() string {
	names := make([]string, len(tmux.trans))
	for i, t := range tmux.trans {
		names[i] = t.Name()
	}
	return "Muxed Transport: " + strings.Join(names, ", ")
}

// SendFrame sends through the first transport that can reach to.
func (tmux *TransportMuxer) SendFrame(to common.RouterID, frame []byte) error {
	for i, t := range tmux.trans {
		if !t.Reachable(to) {
			continue
		}
		err := t.SendFrame(to, frame)
		if err == nil {
			return nil
		}
		log.WithFields(logger.Fields{
			"at":        "(TransportMuxer) SendFrame",
			"transport": t.Name(),
			"index":     i,
			"peer":      to.Short(),
		}).WithError(err).Debug("transport failed, trying next")
	}
	log.WithFields(logger.Fields{
		"at":              "(TransportMuxer) SendFrame",
		"reason":          "no_compatible_transport",
		"peer":            to.Short(),
		"transport_count": len(tmux.trans),
	}).Debug("no transport could reach peer")
	return ErrNoTransportAvailable
}

// Reachable reports whether any muxed transport can reach id.
func (tmux *TransportMuxer) Reachable(id common.RouterID) bool {
	for _, t := range tmux.trans {
		if t.Reachable(id) {
			return true
		}
	}
	return false
}

// SetHandler registers h on every muxed transport.
func (tmux *TransportMuxer) SetHandler(h FrameHandler) {
	for _, t := range tmux.trans {
		t.SetHandler(h)
	}
}

// SetCloseHandler registers h on every muxed transport.
func (tmux *TransportMuxer) SetCloseHandler(h CloseHandler) {
	for _, t := range tmux.trans {
		t.SetCloseHandler(h)
	}
}

// Close closes every transport that this muxer has.
func (tmux *TransportMuxer) Close() error {
	var errs []error
	for _, t := range tmux.trans {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
