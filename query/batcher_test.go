package query

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeQueries(n int, period, interval time.Duration) []MetricQuery {
	queries := make([]MetricQuery, n)
	for i := range queries {
		queries[i] = MetricQuery{
			ID:             NewID(i),
			Namespace:      "AWS/Lambda",
			MetricName:     "Invocations",
			Stat:           "Sum",
			Period:         period,
			ScrapeInterval: interval,
		}
	}
	return queries
}

func TestSplitCountBoundDominates(t *testing.T) {
	// 1200 queries at period=60s on a 300s interval: 5 datapoints each,
	// so the 500-per-batch count bound dominates.
	queries := makeQueries(1200, time.Minute, 5*time.Minute)

	batches := Split(queries)

	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 500)
	assert.Len(t, batches[1], 500)
	assert.Len(t, batches[2], 200)
}

func TestSplitDatapointBoundDominates(t *testing.T) {
	// One day of 60s points per query: 1440 datapoints, so only 70
	// queries fit under the 100,800 datapoint ceiling.
	queries := makeQueries(100, time.Minute, 24*time.Hour)

	batches := Split(queries)

	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 70)
	assert.Len(t, batches[1], 30)
}

func TestSplitIsExactOrderedPartition(t *testing.T) {
	queries := makeQueries(1337, time.Minute, 5*time.Minute)

	batches := Split(queries)

	var flattened []MetricQuery
	for _, b := range batches {
		assert.LessOrEqual(t, len(b), MaxMetricsPerCall)
		flattened = append(flattened, b...)
	}
	assert.Equal(t, queries, flattened)
}

func TestSplitEmptyInput(t *testing.T) {
	assert.Empty(t, Split(nil))
}

func TestSplitSingleOversizedWindowStillEmitsQuery(t *testing.T) {
	// A single query may exceed no bound on its own; it must never be dropped.
	queries := makeQueries(1, time.Minute, 24*time.Hour)
	batches := Split(queries)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 1)
}

func TestWindow(t *testing.T) {
	t.Run("interval longer than period", func(t *testing.T) {
		q := MetricQuery{Period: time.Minute, ScrapeInterval: 5 * time.Minute}
		assert.Equal(t, 5*time.Minute, q.Window())
	})
	t.Run("period longer than interval", func(t *testing.T) {
		q := MetricQuery{Period: 15 * time.Minute, ScrapeInterval: time.Minute}
		assert.Equal(t, 15*time.Minute, q.Window())
	})
}

func TestDataQuery(t *testing.T) {
	q := MetricQuery{
		ID:         "q_7",
		Namespace:  "AWS/SQS",
		MetricName: "NumberOfMessagesReceived",
		Dimensions: map[string]string{"QueueName": "jobs"},
		Stat:       "Sum",
		Period:     time.Minute,
	}

	dq := q.DataQuery()

	assert.Equal(t, "q_7", aws.ToString(dq.Id))
	assert.Equal(t, "AWS/SQS", aws.ToString(dq.MetricStat.Metric.Namespace))
	assert.Equal(t, int32(60), aws.ToInt32(dq.MetricStat.Period))
	require.Len(t, dq.MetricStat.Metric.Dimensions, 1)
	assert.Equal(t, "QueueName", aws.ToString(dq.MetricStat.Metric.Dimensions[0].Name))
}
