// Package metrics exposes path building and relay counters to prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-i2p/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var log = logger.GetGoI2PLogger()

const namespace = "onionpath"

// Metrics owns a private registry and the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	builds          *prometheus.CounterVec
	transitHops     prometheus.Gauge
	commitsRejected *prometheus.CounterVec
	routingDropped  *prometheus.CounterVec
	pathLatency     prometheus.Histogram
	establishedPath prometheus.Gauge
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		builds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builds_total",
				Help:      "Path build attempts by result",
			},
			[]string{"result"},
		),
		transitHops: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "transit_hops",
				Help:      "Transit hops currently installed",
			},
		),
		commitsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commits_rejected_total",
				Help:      "Commit requests rejected by this relay by status",
			},
			[]string{"status"},
		),
		routingDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "routing_dropped_total",
				Help:      "Routing messages dropped by reason",
			},
			[]string{"reason"},
		),
		pathLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "path_latency_seconds",
				Help:      "Round trip time of latency probes",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
		),
		establishedPath: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "established_paths",
				Help:      "Established paths owned by this router",
			},
		),
	}
	m.registry.MustRegister(
		m.builds,
		m.transitHops,
		m.commitsRejected,
		m.routingDropped,
		m.pathLatency,
		m.establishedPath,
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// BuildResult counts one finished build attempt.
func (m *Metrics) BuildResult(result string) {
	if m == nil {
		return
	}
	m.builds.WithLabelValues(result).Inc()
}

// TransitHops sets the transit table size.
func (m *Metrics) TransitHops(n int) {
	if m == nil {
		return
	}
	m.transitHops.Set(float64(n))
}

// CommitRejected counts a commit this relay refused.
func (m *Metrics) CommitRejected(status string) {
	if m == nil {
		return
	}
	m.commitsRejected.WithLabelValues(status).Inc()
}

// RoutingDropped counts a dropped routing message.
func (m *Metrics) RoutingDropped(reason string) {
	if m == nil {
		return
	}
	m.routingDropped.WithLabelValues(reason).Inc()
}

// PathLatency records a probe round trip.
func (m *Metrics) PathLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.pathLatency.Observe(d.Seconds())
}

// EstablishedPaths sets the number of usable paths.
func (m *Metrics) EstablishedPaths(n int) {
	if m == nil {
		return
	}
	m.establishedPath.Set(float64(n))
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.WithFields(logger.Fields{
		"at":   "(Metrics) Serve",
		"addr": addr,
	}).Info("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
