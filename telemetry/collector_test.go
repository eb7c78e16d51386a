package telemetry

import (
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorGauge(t *testing.T) {
	c := NewCollector()
	c.RecordGauge("virta_up", map[string]string{"region": "us-east-1"}, 1)
	c.RecordGauge("virta_up", map[string]string{"region": "us-east-1"}, 0)

	expected := `
# HELP virta_up virta scraper self-telemetry
# TYPE virta_up gauge
virta_up{region="us-east-1"} 0
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "virta_up"))
}

func TestCollectorCounter(t *testing.T) {
	c := NewCollector()
	labels := map[string]string{OperationLabel: "DescribeAlarms", RegionLabel: "us-west-2"}
	c.RecordCount(CallsMetric, labels, 1)
	c.RecordCount(CallsMetric, labels, 2)

	expected := `
# HELP virta_api_calls_total virta scraper self-telemetry
# TYPE virta_api_calls_total counter
virta_api_calls_total{operation="DescribeAlarms",region="us-west-2"} 3
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), CallsMetric))
}

func TestCollectorLatency(t *testing.T) {
	c := NewCollector()
	labels := map[string]string{OperationLabel: "GetMetricData"}
	c.RecordLatency(LatencyMetric, labels, 100)
	c.RecordLatency(LatencyMetric, labels, 250)

	expected := `
# HELP virta_scrape_latency_milliseconds_count virta scraper self-telemetry
# TYPE virta_scrape_latency_milliseconds_count counter
virta_scrape_latency_milliseconds_count{operation="GetMetricData"} 2
# HELP virta_scrape_latency_milliseconds_sum virta scraper self-telemetry
# TYPE virta_scrape_latency_milliseconds_sum counter
virta_scrape_latency_milliseconds_sum{operation="GetMetricData"} 350
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		LatencyMetric+"_sum", LatencyMetric+"_count"))
}

func TestCollectorConcurrentRecording(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RecordCount(CallsMetric, map[string]string{OperationLabel: "DescribeVolumes"}, 1)
				c.RecordLatency(LatencyMetric, map[string]string{OperationLabel: "DescribeVolumes"}, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, testutil.CollectAndCount(c))
}
