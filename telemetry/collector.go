// Package telemetry accumulates scraper self-metrics from concurrent
// workers and exposes them as a single prometheus collector.
package telemetry

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// Label keys shared by every instrumented remote call.
	OperationLabel = "operation"
	AccountLabel   = "account_id"
	RegionLabel    = "region"
	NamespaceLabel = "namespace"
	IntervalLabel  = "interval"

	LatencyMetric = "virta_scrape_latency_milliseconds"
	CallsMetric   = "virta_api_calls_total"
)

// selfMetricHelp is shared by every self-telemetry series.
const selfMetricHelp = "virta scraper self-telemetry"

// key identifies one series. Label names and values are flattened into a
// single string so the key stays comparable for map use.
type key struct {
	name   string
	series string
}

type labeled struct {
	names  []string
	values []string
}

type latencyCounter struct {
	total atomic.Uint64 // milliseconds, accumulated
	count atomic.Int64
}

// Collector records gauges, counters and latency accumulators keyed by
// metric name plus labels. All record methods are safe for concurrent use.
type Collector struct {
	mu       sync.RWMutex
	labels   map[key]labeled
	gauges   map[key]*atomic.Value // float64
	counters map[key]*atomic.Int64
	latency  map[key]*latencyCounter
}

// NewCollector builds an empty collector.
func NewCollector() *Collector {
	return &Collector{
		labels:   make(map[key]labeled),
		gauges:   make(map[key]*atomic.Value),
		counters: make(map[key]*atomic.Int64),
		latency:  make(map[key]*latencyCounter),
	}
}

func makeKey(name string, labels map[string]string) (key, labeled) {
	l := flatten(labels)
	series := ""
	for i := range l.names {
		series += l.names[i] + "\x00" + l.values[i] + "\x00"
	}
	return key{name: name, series: series}, l
}

// RecordGauge sets a point-in-time value.
func (c *Collector) RecordGauge(name string, labels map[string]string, value float64) {
	k, l := makeKey(name, labels)
	c.mu.Lock()
	g, ok := c.gauges[k]
	if !ok {
		g = &atomic.Value{}
		c.gauges[k] = g
		c.labels[k] = l
	}
	c.mu.Unlock()
	g.Store(value)
}

// RecordCount adds to a monotonically increasing counter.
func (c *Collector) RecordCount(name string, labels map[string]string, n int) {
	k, l := makeKey(name, labels)
	c.mu.Lock()
	ctr, ok := c.counters[k]
	if !ok {
		ctr = &atomic.Int64{}
		c.counters[k] = ctr
		c.labels[k] = l
	}
	c.mu.Unlock()
	ctr.Add(int64(n))
}

// RecordLatency accumulates one observation into a _sum/_count pair.
func (c *Collector) RecordLatency(name string, labels map[string]string, millis float64) {
	k, l := makeKey(name, labels)
	c.mu.Lock()
	lc, ok := c.latency[k]
	if !ok {
		lc = &latencyCounter{}
		c.latency[k] = lc
		c.labels[k] = l
	}
	c.mu.Unlock()
	lc.total.Add(uint64(millis))
	lc.count.Add(1)
}

// Describe implements prometheus.Collector. The series set is dynamic, so
// the collector is intentionally unchecked.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for k, g := range c.gauges {
		v, ok := g.Load().(float64)
		if !ok {
			continue
		}
		l := c.labels[k]
		ch <- prometheus.MustNewConstMetric(
			prometheus.NewDesc(k.name, selfMetricHelp, l.names, nil),
			prometheus.GaugeValue, v, l.values...)
	}
	for k, ctr := range c.counters {
		l := c.labels[k]
		ch <- prometheus.MustNewConstMetric(
			prometheus.NewDesc(k.name, selfMetricHelp, l.names, nil),
			prometheus.CounterValue, float64(ctr.Load()), l.values...)
	}
	for k, lc := range c.latency {
		l := c.labels[k]
		ch <- prometheus.MustNewConstMetric(
			prometheus.NewDesc(k.name+"_sum", selfMetricHelp, l.names, nil),
			prometheus.CounterValue, float64(lc.total.Load()), l.values...)
		ch <- prometheus.MustNewConstMetric(
			prometheus.NewDesc(k.name+"_count", selfMetricHelp, l.names, nil),
			prometheus.CounterValue, float64(lc.count.Load()), l.values...)
	}
}

var _ prometheus.Collector = (*Collector)(nil)
