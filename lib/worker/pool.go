// Package worker runs CPU-bound cryptography off the logic loop. Results
// are never applied from a worker goroutine: Dispatch marshals them back
// onto the loop as an ordinary Call.
package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/go-i2p/logger"
	"golang.org/x/sync/errgroup"

	"github.com/go-i2p/go-onionpath/lib/logic"
)

var log = logger.GetGoI2PLogger()

var (
	// ErrPoolFull is returned when the job queue has no free slot.
	ErrPoolFull = errors.New("worker queue full")
	// ErrPoolStopped is returned after Stop.
	ErrPoolStopped = errors.New("worker pool stopped")
)

// Pool is a fixed set of goroutines draining a bounded job queue.
type Pool struct {
	workers int
	jobs    chan func()

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu      sync.RWMutex
	stopped bool
}

// NewPool creates a pool. Non-positive workers selects GOMAXPROCS and
// non-positive queueSize selects 64 slots per worker.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if queueSize <= 0 {
		queueSize = workers * 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	return &Pool{
		workers: workers,
		jobs:    make(chan func(), queueSize),
		ctx:     ctx,
		cancel:  cancel,
		group:   group,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.group.Go(p.work)
	}
	log.WithFields(logger.Fields{
		"at":      "(Pool) Start",
		"workers": p.workers,
		"queue":   cap(p.jobs),
	}).Debug("crypto worker pool started")
}

func (p *Pool) work() error {
	for {
		select {
		case <-p.ctx.Done():
			return nil
		case job := <-p.jobs:
			p.run(job)
		}
	}
}

func (p *Pool) run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logger.Fields{
				"at":    "(Pool) run",
				"panic": r,
			}).Error("recovered panic in worker job")
		}
	}()
	job()
}

// Submit queues job without blocking.
func (p *Pool) Submit(job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrPoolFull
	}
}

// Stop cancels the workers and waits for running jobs to return. Queued
// jobs are discarded.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.cancel()
	_ = p.group.Wait()
	log.WithField("at", "(Pool) Stop").Debug("crypto worker pool stopped")
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.workers
}

// Dispatch runs work on the pool and delivers its result to done on the
// logic loop. Completions are posted, so a full ingress queue never sheds
// them; they are dropped only once the loop has stopped.
func Dispatch[T any](p *Pool, l *logic.Logic, work func() (T, error), done func(T, error)) error {
	return p.Submit(func() {
		v, err := work()
		if callErr := l.Post(func() { done(v, err) }); callErr != nil {
			log.WithError(callErr).WithField("at", "Dispatch").Warn("dropping worker completion")
		}
	})
}
