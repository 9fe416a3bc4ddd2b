package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is the state sampled on each scrape.
type Snapshot struct {
	Contacts      int
	Ranges        int
	Plans         int
	Ducts         int
	OpenEndpoints int
}

// Collector samples contact plan and routing table sizes when scraped.
type Collector struct {
	sample func() Snapshot

	contacts  *prometheus.Desc
	ranges    *prometheus.Desc
	plans     *prometheus.Desc
	ducts     *prometheus.Desc
	endpoints *prometheus.Desc
}

// NewCollector creates a collector that calls sample on every scrape.
func NewCollector(sample func() Snapshot) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &Collector{
		sample:    sample,
		contacts:  desc("contacts", "Contacts in the contact plan"),
		ranges:    desc("ranges", "Ranges in the contact plan"),
		plans:     desc("plans", "Egress plans"),
		ducts:     desc("ducts", "Outbound ducts"),
		endpoints: desc("open_endpoints", "Locally open endpoints"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.contacts
	ch <- c.ranges
	ch <- c.plans
	ch <- c.ducts
	ch <- c.endpoints
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.sample()
	ch <- prometheus.MustNewConstMetric(c.contacts, prometheus.GaugeValue, float64(s.Contacts))
	ch <- prometheus.MustNewConstMetric(c.ranges, prometheus.GaugeValue, float64(s.Ranges))
	ch <- prometheus.MustNewConstMetric(c.plans, prometheus.GaugeValue, float64(s.Plans))
	ch <- prometheus.MustNewConstMetric(c.ducts, prometheus.GaugeValue, float64(s.Ducts))
	ch <- prometheus.MustNewConstMetric(c.endpoints, prometheus.GaugeValue, float64(s.OpenEndpoints))
}
