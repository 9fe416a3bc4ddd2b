package metric

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dtnmesh"

// Registry holds all engine metrics and the Prometheus registry they are
// registered with.
type Registry struct {
	registry *prometheus.Registry

	// Bundle lifecycle
	BundlesCreated   *prometheus.CounterVec // origin: local|received
	BundlesDestroyed *prometheus.CounterVec // reason
	BundlesForwarded *prometheus.CounterVec // scheme
	BundlesAbandoned *prometheus.CounterVec // reason
	BundlesDelivered prometheus.Counter
	Duplicates       prometheus.Counter
	Malformed        prometheus.Counter

	// Custody
	CustodyAccepted   prometheus.Counter
	CustodyReleased   prometheus.Counter
	CustodyReforwards prometheus.Counter

	// Ducts
	Dequeued      *prometheus.CounterVec // duct
	XmitFailures  *prometheus.CounterVec // duct
	QueueDepth    *prometheus.GaugeVec   // kind
	LimboReleases prometheus.Counter

	// Multicast
	MulticastClones prometheus.Counter
	Petitions       prometheus.Counter

	// Contact plan sync
	NoticesSent    prometheus.Counter
	NoticesApplied prometheus.Counter
	NoticesDropped prometheus.Counter

	// Admin API
	RequestsTotal   *prometheus.CounterVec   // method, path, status
	RequestDuration *prometheus.HistogramVec // method, path
}

// NewRegistry creates a registry with the Go and process collectors and
// every engine metric registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	counter := func(subsystem, name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
		})
		reg.MustRegister(c)
		return c
	}
	counterVec := func(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
		c := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
		}, labels)
		reg.MustRegister(c)
		return c
	}

	r := &Registry{
		registry: reg,

		BundlesCreated:   counterVec("bundle", "created_total", "Bundles stored, by origin", "origin"),
		BundlesDestroyed: counterVec("bundle", "destroyed_total", "Bundles destroyed, by reason", "reason"),
		BundlesForwarded: counterVec("bundle", "forwarded_total", "Forwarding decisions made, by scheme", "scheme"),
		BundlesAbandoned: counterVec("bundle", "abandoned_total", "Bundles abandoned, by reason", "reason"),
		BundlesDelivered: counter("bundle", "delivered_total", "Bundles delivered to local endpoints"),
		Duplicates:       counter("bundle", "duplicates_total", "Received bundles discarded as duplicates"),
		Malformed:        counter("bundle", "malformed_total", "Received bundles discarded as malformed"),

		CustodyAccepted:   counter("custody", "accepted_total", "Custody acceptances by this node"),
		CustodyReleased:   counter("custody", "released_total", "Retained copies released on acceptance downstream"),
		CustodyReforwards: counter("custody", "reforwards_total", "Retained copies re-forwarded on deadline"),

		Dequeued:      counterVec("duct", "dequeued_total", "Bundles handed to output daemons", "duct"),
		XmitFailures:  counterVec("duct", "xmit_failures_total", "Transmissions reported as failed", "duct"),
		LimboReleases: counter("duct", "limbo_releases_total", "Bundles released from limbo"),

		MulticastClones: counter("multicast", "clones_total", "Multicast clones produced"),
		Petitions:       counter("multicast", "petitions_total", "Petitions processed"),

		NoticesSent:    counter("sync", "notices_sent_total", "Contact notices multicast to the region"),
		NoticesApplied: counter("sync", "notices_applied_total", "Received contact notices applied"),
		NoticesDropped: counter("sync", "notices_dropped_total", "Received contact notices dropped"),
	}

	r.QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "queue", Name: "depth", Help: "Queued bundles, by queue kind",
	}, []string{"kind"})
	r.RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "http", Name: "requests_total", Help: "Admin API requests",
	}, []string{"method", "path", "status"})
	r.RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
		Help: "Admin API request latency", Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
	reg.MustRegister(r.QueueDepth, r.RequestsTotal, r.RequestDuration)

	return r
}

// Registerer exposes the underlying registry so that other components,
// such as the store's size gauges, can add their own metrics.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.registry
}

// Gatherer exposes the underlying registry for scraping and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler returns the /metrics handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns a process-wide registry, created on first use.
func Global() *Registry {
	globalOnce.Do(func() { global = NewRegistry() })
	return global
}
