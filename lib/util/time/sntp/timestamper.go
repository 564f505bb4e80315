package sntp

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/beevik/ntp"
	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// NTPClient is the part of the ntp package the Timestamper uses.
type NTPClient interface {
	QueryWithOptions(host string, options ntp.QueryOptions) (*ntp.Response, error)
}

// DefaultNTPClient queries real servers.
type DefaultNTPClient struct{}

func (c *DefaultNTPClient) QueryWithOptions(host string, options ntp.QueryOptions) (*ntp.Response, error) {
	return ntp.QueryWithOptions(host, options)
}

// OffsetSetter receives the measured offset from local time.
type OffsetSetter interface {
	SetOffset(offset time.Duration)
}

const (
	defaultConcurring   = 3
	defaultTimeout      = 5 * time.Second
	minInterval         = time.Minute
	failRetryInterval   = 30 * time.Second
	maxConsecutiveFails = 10
	maxVariance         = 10 * time.Second
)

// ErrNoServers is returned by Sync when no server is configured.
var ErrNoServers = errors.New("no NTP servers configured")

// ErrDisagree is returned when samples of one round differ by more than
// maxVariance.
var ErrDisagree = errors.New("NTP samples disagree")

// Timestamper periodically measures the local clock offset.
type Timestamper struct {
	client     NTPClient
	target     OffsetSetter
	servers    []string
	interval   time.Duration
	concurring int

	mu               sync.Mutex
	offset           time.Duration
	synced           bool
	consecutiveFails int
	running          bool
	stopCh           chan struct{}
	wg               sync.WaitGroup
}

// NewTimestamper returns a stopped Timestamper. A nil client queries real
// servers.
func NewTimestamper(client NTPClient, target OffsetSetter, servers []string, interval time.Duration) *Timestamper {
	if client == nil {
		client = &DefaultNTPClient{}
	}
	if interval < minInterval {
		interval = minInterval
	}
	concurring := defaultConcurring
	if len(servers) < concurring {
		concurring = len(servers)
	}
	if concurring < 1 {
		concurring = 1
	}
	return &Timestamper{
		client:     client,
		target:     target,
		servers:    servers,
		interval:   interval,
		concurring: concurring,
	}
}

// Start runs Sync now and then every interval until Stop.
func (ts *Timestamper) Start() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.running {
		return
	}
	ts.running = true
	ts.stopCh = make(chan struct{})
	ts.wg.Add(1)
	go ts.run(ts.stopCh)
}

// Stop ends the background loop and waits for it.
func (ts *Timestamper) Stop() {
	ts.mu.Lock()
	if !ts.running {
		ts.mu.Unlock()
		return
	}
	ts.running = false
	close(ts.stopCh)
	ts.mu.Unlock()
	ts.wg.Wait()
}

func (ts *Timestamper) run(stop <-chan struct{}) {
	defer ts.wg.Done()
	for {
		wait := ts.interval
		if err := ts.Sync(); err != nil {
			log.WithError(err).WithField("at", "(Timestamper) run").Debug("NTP sync failed")
			wait = ts.retryInterval()
		}
		select {
		case <-time.After(wait):
		case <-stop:
			return
		}
	}
}

func (ts *Timestamper) retryInterval() time.Duration {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.consecutiveFails >= maxConsecutiveFails {
		return ts.interval
	}
	return failRetryInterval
}

// Sync runs one measurement round and applies the median offset.
func (ts *Timestamper) Sync() error {
	offset, err := ts.measure()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if err != nil {
		ts.consecutiveFails++
		if ts.consecutiveFails == maxConsecutiveFails {
			log.WithField("fails", ts.consecutiveFails).Warn("lost NTP sync")
			ts.synced = false
		}
		return err
	}
	ts.consecutiveFails = 0
	ts.synced = true
	ts.offset = offset
	if ts.target != nil {
		ts.target.SetOffset(offset)
	}
	log.WithFields(logger.Fields{
		"at":     "(Timestamper) Sync",
		"offset": offset.String(),
	}).Debug("clock offset updated")
	return nil
}

// Offset returns the last applied offset.
func (ts *Timestamper) Offset() time.Duration {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.offset
}

// Synced reports whether the last rounds succeeded.
func (ts *Timestamper) Synced() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.synced
}

func (ts *Timestamper) measure() (time.Duration, error) {
	if len(ts.servers) == 0 {
		return 0, ErrNoServers
	}
	samples := make([]time.Duration, 0, ts.concurring)
	for attempt := 0; len(samples) < ts.concurring && attempt < ts.concurring+len(ts.servers); attempt++ {
		server := ts.servers[rand.Intn(len(ts.servers))]
		resp, err := ts.client.QueryWithOptions(server, ntp.QueryOptions{Timeout: defaultTimeout})
		if err != nil {
			log.WithError(err).WithField("server", server).Debug("NTP query failed")
			continue
		}
		if err := validateResponse(resp); err != nil {
			log.WithError(err).WithField("server", server).Debug("NTP response rejected")
			continue
		}
		if len(samples) > 0 && absDuration(resp.ClockOffset-samples[0]) > maxVariance {
			return 0, oops.Wrapf(ErrDisagree, "%s vs %s", resp.ClockOffset, samples[0])
		}
		samples = append(samples, resp.ClockOffset)
	}
	if len(samples) < ts.concurring {
		return 0, oops.Errorf("only %d of %d NTP samples usable", len(samples), ts.concurring)
	}
	return median(samples), nil
}

func median(d []time.Duration) time.Duration {
	sorted := append([]time.Duration(nil), d...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
