// Package metric provides Prometheus metrics for dtnmesh.
//
// This package implements metrics collection and exposition:
//
//   - prometheus.go: the engine's metric set, its registry and HTTP handler
//   - collector.go: a collector sampling contact plan and queue state on scrape
//
// Metrics include:
//
//   - Bundle lifecycle counters (created, destroyed, forwarded, abandoned)
//   - Custody retransmission and release counters
//   - Contact notice counters
//   - Queue depth gauges
//   - Admin API request counters and latencies
//
// Metrics are exposed at /metrics in Prometheus format.
package metric
