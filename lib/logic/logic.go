// Package logic provides the single cooperative loop that owns all path and
// relay state. Every mutation of a Path, PathSet, build job or transit hop
// happens inside a function queued with Call, Post or CallLater.
//
// Call goes through a bounded queue and is refused when the queue is full; it
// is meant for external ingress such as inbound frames. Post, and the timers
// armed by CallLater, use a separate unbounded list so timer firings and
// worker completions are never shed.
package logic

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-i2p/logger"

	"github.com/go-i2p/go-onionpath/lib/util/time/monotonic"
)

var log = logger.GetGoI2PLogger()

// DefaultQueueSize bounds the number of queued calls.
const DefaultQueueSize = 4096

var (
	// ErrStopped is returned once the loop has been stopped.
	ErrStopped = errors.New("logic loop stopped")
	// ErrQueueFull is returned when a call cannot be queued without blocking.
	ErrQueueFull = errors.New("logic queue full")
)

// Logic runs queued functions one at a time on a dedicated goroutine.
type Logic struct {
	clock monotonic.Source
	queue chan func()

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
	mu       sync.Mutex

	internalMu sync.Mutex
	internal   []func()
	wake       chan struct{}

	dropped atomic.Uint64
}

// New creates a loop using clock for CallLater. A queueSize of zero selects
// DefaultQueueSize.
func New(clock monotonic.Source, queueSize int) *Logic {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Logic{
		clock:  clock,
		queue:  make(chan func(), queueSize),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the loop goroutine. Calling Start twice is a no-op.
func (l *Logic) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	l.started = true
	go l.run()
	log.WithField("at", "(Logic) Start").Debug("logic loop started")
}

// Stop halts the loop after the function currently running returns. Queued
// calls that have not started are discarded.
func (l *Logic) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.mu.Lock()
		started := l.started
		l.mu.Unlock()
		if started {
			<-l.doneCh
		}
		log.WithFields(logger.Fields{
			"at":      "(Logic) Stop",
			"dropped": l.dropped.Load(),
		}).Debug("logic loop stopped")
	})
}

func (l *Logic) run() {
	defer close(l.doneCh)
	for {
		select {
		case <-l.stopCh:
			return
		case <-l.wake:
			l.drainInternal()
		case f := <-l.queue:
			l.invoke(f)
			l.drainInternal()
		}
	}
}

func (l *Logic) drainInternal() {
	l.internalMu.Lock()
	pending := l.internal
	l.internal = nil
	l.internalMu.Unlock()
	for _, f := range pending {
		select {
		case <-l.stopCh:
			return
		default:
		}
		l.invoke(f)
	}
}

func (l *Logic) invoke(f func()) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logger.Fields{
				"at":    "(Logic) invoke",
				"panic": r,
			}).Error("recovered panic in logic call")
		}
	}()
	f()
}

// Call queues f without blocking.
func (l *Logic) Call(f func()) error {
	select {
	case <-l.stopCh:
		return ErrStopped
	default:
	}
	select {
	case l.queue <- f:
		return nil
	default:
		l.dropped.Add(1)
		log.WithField("at", "(Logic) Call").Warn("logic queue full, dropping call")
		return ErrQueueFull
	}
}

// Post queues f on the internal list. Unlike Call it never refuses for lack of
// space; it only fails once the loop is stopped.
func (l *Logic) Post(f func()) error {
	select {
	case <-l.stopCh:
		return ErrStopped
	default:
	}
	l.internalMu.Lock()
	l.internal = append(l.internal, f)
	l.internalMu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns how many posted calls are waiting to run.
func (l *Logic) Pending() int {
	l.internalMu.Lock()
	defer l.internalMu.Unlock()
	return len(l.internal)
}

// CallLater posts f once d has elapsed on the loop's clock.
func (l *Logic) CallLater(d time.Duration, f func()) monotonic.Timer {
	return l.clock.AfterFunc(d, func() {
		_ = l.Post(f)
	})
}

// Sync queues f and waits for it to finish. It must not be called from the
// loop itself.
func (l *Logic) Sync(f func()) error {
	done := make(chan struct{})
	if err := l.Post(func() {
		defer close(done)
		f()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-l.doneCh:
		return ErrStopped
	}
}

// Dropped returns how many calls were refused because the queue was full.
func (l *Logic) Dropped() uint64 {
	return l.dropped.Load()
}

// Now returns the loop clock's current time.
func (l *Logic) Now() time.Time {
	return l.clock.Now()
}

// Clock returns the loop's time source.
func (l *Logic) Clock() monotonic.Source {
	return l.clock
}
