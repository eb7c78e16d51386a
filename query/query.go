// Package query models CloudWatch metric-data queries and splits them into
// batches that respect the GetMetricData API limits.
package query

import (
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricQuery is one metric/stat/dimension-set combination to scrape.
// Immutable once constructed; ID correlates async results back to the
// query and must be unique within a single remote call.
type MetricQuery struct {
	ID             string
	Namespace      string
	MetricName     string
	Dimensions     map[string]string
	Stat           string
	Period         time.Duration
	ScrapeInterval time.Duration
}

// Window is the time span one scrape of this query covers. When the scrape
// interval exceeds the period each fire yields interval/period points; when
// the period exceeds the interval each fire re-aggregates a sliding window.
func (q MetricQuery) Window() time.Duration {
	if q.ScrapeInterval > q.Period {
		return q.ScrapeInterval
	}
	return q.Period
}

// datapoints is the number of points one call for this query can return.
func (q MetricQuery) datapoints() int {
	period := q.Period
	if period <= 0 {
		period = time.Minute
	}
	d := int((q.Window() + period - 1) / period)
	if d < 1 {
		d = 1
	}
	return d
}

// DataQuery converts to the wire representation.
func (q MetricQuery) DataQuery() cwtypes.MetricDataQuery {
	names := make([]string, 0, len(q.Dimensions))
	for name := range q.Dimensions {
		names = append(names, name)
	}
	sort.Strings(names)
	dims := make([]cwtypes.Dimension, 0, len(names))
	for _, name := range names {
		dims = append(dims, cwtypes.Dimension{
			Name:  aws.String(name),
			Value: aws.String(q.Dimensions[name]),
		})
	}
	return cwtypes.MetricDataQuery{
		Id: aws.String(q.ID),
		MetricStat: &cwtypes.MetricStat{
			Metric: &cwtypes.Metric{
				Namespace:  aws.String(q.Namespace),
				MetricName: aws.String(q.MetricName),
				Dimensions: dims,
			},
			Period: aws.Int32(int32(q.Period / time.Second)),
			Stat:   aws.String(q.Stat),
		},
		ReturnData: aws.Bool(true),
	}
}

// GetMetricData limits.
const (
	MaxMetricsPerCall    = 500
	MaxDatapointsPerCall = 100_800
)

// Split partitions queries into batches so that no batch exceeds the
// per-call metric count or projected datapoint limits. The split is a
// greedy in-order partition: the concatenation of the output equals the
// input exactly, in order.
func Split(queries []MetricQuery) [][]MetricQuery {
	var batches [][]MetricQuery
	var batch []MetricQuery
	datapoints := 0

	for _, q := range queries {
		d := q.datapoints()
		if len(batch) > 0 && (len(batch)+1 > MaxMetricsPerCall || datapoints+d > MaxDatapointsPerCall) {
			batches = append(batches, batch)
			batch = nil
			datapoints = 0
		}
		batch = append(batch, q)
		datapoints += d
	}
	if len(batch) > 0 {
		batches = append(batches, batch)
	}
	return batches
}

// NewID returns the query id for position n in a task's query list.
func NewID(n int) string {
	return fmt.Sprintf("q_%d", n)
}
