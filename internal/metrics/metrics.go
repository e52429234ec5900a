// Package metrics exposes Prometheus instruments for locks, realtime traffic,
// conflict resolutions and HTTP requests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kollab"

// Metrics holds every instrument on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	lockAcquisitions prometheus.Counter
	lockConflicts    prometheus.Counter
	lockReleases     *prometheus.CounterVec
	locksHeld        prometheus.Gauge
	connections      prometheus.Gauge
	eventsPublished  *prometheus.CounterVec
	framesDropped    *prometheus.CounterVec
	resolutions      *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New creates and registers the instruments, plus the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		lockAcquisitions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_acquisitions_total",
			Help:      "Edit locks granted.",
		}),
		lockConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_conflicts_total",
			Help:      "Edit requests refused because another user holds the lock.",
		}),
		lockReleases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_releases_total",
			Help:      "Edit locks released, by reason.",
		}, []string{"reason"}),
		locksHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "locks_held",
			Help:      "Edit locks currently held.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_connections",
			Help:      "Identified realtime connections.",
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Realtime events queued for delivery, by event.",
		}, []string{"event"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames dropped for slow realtime clients, by event.",
		}, []string{"event"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_resolutions_total",
			Help:      "Edit conflicts resolved, by policy.",
		}, []string{"policy"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.lockAcquisitions,
		m.lockConflicts,
		m.lockReleases,
		m.locksHeld,
		m.connections,
		m.eventsPublished,
		m.framesDropped,
		m.resolutions,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry returns the registry holding every instrument.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) LockAcquired()              { m.lockAcquisitions.Inc() }
func (m *Metrics) LockConflict()              { m.lockConflicts.Inc() }
func (m *Metrics) LockReleased(reason string) { m.lockReleases.WithLabelValues(reason).Inc() }
func (m *Metrics) LocksHeld(n int)            { m.locksHeld.Set(float64(n)) }
func (m *Metrics) ConnectionsOpen(n int)      { m.connections.Set(float64(n)) }

func (m *Metrics) EventPublished(event string) { m.eventsPublished.WithLabelValues(event).Inc() }
func (m *Metrics) FrameDropped(event string)   { m.framesDropped.WithLabelValues(event).Inc() }

func (m *Metrics) ConflictResolved(policy string) { m.resolutions.WithLabelValues(policy).Inc() }

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
