// Package signals turns process signals into router lifecycle events:
// SIGHUP reloads configuration, SIGINT and SIGTERM shut down.
package signals

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// DefaultShutdownTimeout bounds the time shutdown handlers may take.
const DefaultShutdownTimeout = 30 * time.Second

// Handler reacts to one signal.
type Handler func()

// Watcher dispatches signals to registered handlers until its context ends
// or a shutdown has been handled.
type Watcher struct {
	mu       sync.Mutex
	reload   []Handler
	shutdown []Handler
	timeout  time.Duration

	ch chan os.Signal
}

// NewWatcher returns a Watcher subscribed to the platform's signals.
func NewWatcher(timeout time.Duration) *Watcher {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	w := &Watcher{timeout: timeout, ch: make(chan os.Signal, 1)}
	signal.Notify(w.ch, watched...)
	return w
}

// OnReload registers h for reload signals.
func (w *Watcher) OnReload(h Handler) {
	if h == nil {
		return
	}
	w.mu.Lock()
	w.reload = append(w.reload, h)
	w.mu.Unlock()
}

// OnShutdown registers h for shutdown signals. Handlers run in
// registration order.
func (w *Watcher) OnShutdown(h Handler) {
	if h == nil {
		return
	}
	w.mu.Lock()
	w.shutdown = append(w.shutdown, h)
	w.mu.Unlock()
}

// Run blocks dispatching signals. It returns after the first shutdown
// signal has been handled or when ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	defer signal.Stop(w.ch)
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-w.ch:
			if w.deliver(sig) {
				return
			}
		}
	}
}

// deliver handles sig and reports whether it was a shutdown.
func (w *Watcher) deliver(sig os.Signal) bool {
	log.WithField("signal", sig.String()).Info("signal received")
	if isReload(sig) {
		w.runAll(w.snapshot(&w.reload), "reload")
		return false
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.runAll(w.snapshot(&w.shutdown), "shutdown")
	}()
	select {
	case <-done:
	case <-time.After(w.timeout):
		log.WithField("timeout", w.timeout).Warn("shutdown handlers did not finish in time")
	}
	return true
}

func (w *Watcher) snapshot(hs *[]Handler) []Handler {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Handler(nil), (*hs)...)
}

func (w *Watcher) runAll(hs []Handler, kind string) {
	for _, h := range hs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(logger.Fields{"handler": kind, "panic": r}).Error("signal handler panicked")
				}
			}()
			h()
		}()
	}
}
