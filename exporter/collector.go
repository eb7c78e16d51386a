package exporter

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const sampleHelp = "virta scraped metric"

// Collector serves the most recent scrape snapshots. Each producer owns a
// partition key and replaces its sample set wholesale with Update, so a
// Prometheus scrape never observes a half-written partition and stale
// samples from a slow producer keep being served until its next success.
type Collector struct {
	log zerolog.Logger

	mu         sync.RWMutex
	partitions map[string][]Sample
}

// NewCollector builds an empty snapshot collector.
func NewCollector(log zerolog.Logger) *Collector {
	return &Collector{
		log:        log,
		partitions: make(map[string][]Sample),
	}
}

// Update atomically replaces the samples served for one partition.
func (c *Collector) Update(partition string, samples []Sample) {
	c.mu.Lock()
	c.partitions[partition] = samples
	c.mu.Unlock()
	c.log.Debug().Str("partition", partition).Int("samples", len(samples)).Msg("snapshot updated")
}

// Describe is intentionally empty so the collector is unchecked; the
// sample set changes between scrapes.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect emits all current snapshots as const gauges.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	snapshots := make([][]Sample, 0, len(c.partitions))
	for _, samples := range c.partitions {
		snapshots = append(snapshots, samples)
	}
	c.mu.RUnlock()

	for _, samples := range snapshots {
		for _, s := range samples {
			names := make([]string, 0, len(s.Labels))
			for name := range s.Labels {
				names = append(names, name)
			}
			sort.Strings(names)
			values := make([]string, len(names))
			for i, name := range names {
				values[i] = s.Labels[name]
			}

			m, err := prometheus.NewConstMetric(
				prometheus.NewDesc(s.Name, sampleHelp, names, nil),
				prometheus.GaugeValue, s.Value, values...)
			if err != nil {
				c.log.Warn().Err(err).Str("metric", s.Name).Msg("dropping invalid sample")
				continue
			}
			if !s.Timestamp.IsZero() {
				m = prometheus.NewMetricWithTimestamp(s.Timestamp, m)
			}
			ch <- m
		}
	}
}
