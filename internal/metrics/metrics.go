// SPDX-License-Identifier: MPL-2.0

// Package metrics holds the Prometheus instruments of a resolution run. Every method is
// safe on a nil *Metrics so components can treat metrics as optional.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "circpkg"

// Metrics is a set of instruments registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	fetches            prometheus.Counter
	fetchErrors        prometheus.Counter
	conflicts          prometheus.Counter
	resolutionDuration *prometheus.HistogramVec
}

// New creates and registers the instruments.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total",
			Help: "Network dependencies served from the local cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total",
			Help: "Network dependencies absent from the local cache.",
		}),
		fetches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retriever", Name: "fetches_total",
			Help: "Retriever fetch attempts.",
		}),
		fetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retriever", Name: "fetch_errors_total",
			Help: "Retriever fetches that failed.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "fingerprint_conflicts_total",
			Help: "Fetched contents that disagreed with an existing cache entry or lock file.",
		}),
		resolutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "resolution_duration_seconds",
			Help:    "Wall time of complete resolutions.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(m.cacheHits, m.cacheMisses, m.fetches, m.fetchErrors, m.conflicts, m.resolutionDuration)
	return m
}

// Registry returns the registry holding the instruments.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// CacheHit counts a cache hit.
func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

// CacheMiss counts a cache miss.
func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

// Fetch counts a retriever call.
func (m *Metrics) Fetch() {
	if m != nil {
		m.fetches.Inc()
	}
}

// FetchError counts a failed retriever call.
func (m *Metrics) FetchError() {
	if m != nil {
		m.fetchErrors.Inc()
	}
}

// Conflict counts a fingerprint conflict.
func (m *Metrics) Conflict() {
	if m != nil {
		m.conflicts.Inc()
	}
}

// ObserveResolution records the duration of a resolution and whether it succeeded.
func (m *Metrics) ObserveResolution(d time.Duration, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.resolutionDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// WriteFile writes the current values in the Prometheus text format, atomically.
func (m *Metrics) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry())
}
