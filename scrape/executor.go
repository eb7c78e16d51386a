package scrape

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog"

	"github.com/yairfalse/virta/config"
	"github.com/yairfalse/virta/exporter"
	"github.com/yairfalse/virta/query"
	"github.com/yairfalse/virta/ratelimit"
	"github.com/yairfalse/virta/telemetry"
)

// CloudWatchAPI is the slice of the CloudWatch client the executor needs.
type CloudWatchAPI interface {
	GetMetricData(ctx context.Context, params *cloudwatch.GetMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error)
	ListMetrics(ctx context.Context, params *cloudwatch.ListMetricsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.ListMetricsOutput, error)
}

// ClientProvider hands out CloudWatch clients per account and region.
type ClientProvider interface {
	CloudWatch(ctx context.Context, accountID, region string) (CloudWatchAPI, error)
}

// Sink receives the finished sample set of one task run.
type Sink interface {
	Update(partition string, samples []exporter.Sample)
}

// Gauges records the executor's own scrape telemetry.
type Gauges interface {
	RecordGauge(name string, labels map[string]string, value float64)
}

// Rate limiter keys.
const (
	getMetricDataOp = "CloudWatch/GetMetricData"
	listMetricsOp   = "CloudWatch/ListMetrics"
)

// fireSlack tolerates timer jitter when deciding whether a fire comes
// too early after the previous one.
const fireSlack = time.Second

// MetricTask scrapes all metrics configured at one interval in one region,
// across every account that includes the region. One task owns one
// exporter partition and replaces it wholesale at the end of each run.
type MetricTask struct {
	cfg      *config.Config
	region   string
	interval time.Duration
	clients  ClientProvider
	limiter  *ratelimit.Limiter
	sink     Sink
	gauges   Gauges
	log      zerolog.Logger
	now      func() time.Time

	lastRun time.Time
}

// NewMetricTask builds the scrape task for one (region, interval) pair.
func NewMetricTask(cfg *config.Config, region string, interval time.Duration, clients ClientProvider, limiter *ratelimit.Limiter, sink Sink, gauges Gauges, log zerolog.Logger) *MetricTask {
	return &MetricTask{
		cfg:      cfg,
		region:   region,
		interval: interval,
		clients:  clients,
		limiter:  limiter,
		sink:     sink,
		gauges:   gauges,
		log:      log.With().Str("region", region).Dur("interval", interval).Logger(),
		now:      time.Now,
	}
}

// Partition is the exporter partition this task owns.
func (t *MetricTask) Partition() string {
	return fmt.Sprintf("metrics/%s/%d", t.region, int(t.interval.Seconds()))
}

// Run performs one scrape. A fire arriving before a full interval has
// elapsed since the previous run is dropped, not deferred.
func (t *MetricTask) Run(ctx context.Context) {
	started := t.now()
	if !t.lastRun.IsZero() && started.Sub(t.lastRun) < t.interval-fireSlack {
		t.log.Warn().Time("last_run", t.lastRun).Msg("fired before interval elapsed, skipping")
		return
	}
	t.lastRun = started

	if !t.hasWork() {
		return
	}

	endTime := started.Add(-t.cfg.Delay).Truncate(time.Second)

	var samples []exporter.Sample
	for _, account := range t.cfg.Accounts {
		if !hasRegion(account, t.region) {
			continue
		}
		accountSamples, err := t.scrapeAccount(ctx, account, endTime)
		if err != nil {
			// One account failing must not block the others.
			t.log.Error().Err(err).Str("account", account.ID).Msg("scrape failed")
			continue
		}
		samples = append(samples, accountSamples...)
	}

	t.sink.Update(t.Partition(), samples)

	elapsed := t.now().Sub(started)
	t.gauges.RecordGauge(telemetry.LatencyMetric, map[string]string{
		telemetry.RegionLabel:   t.region,
		telemetry.IntervalLabel: fmt.Sprintf("%d", int(t.interval.Seconds())),
	}, float64(elapsed.Milliseconds()))
	t.log.Info().Int("samples", len(samples)).Dur("elapsed", elapsed).Msg("scrape complete")
}

// hasWork reports whether any configured metric scrapes at this interval.
func (t *MetricTask) hasWork() bool {
	for _, ns := range t.cfg.Namespaces {
		for _, m := range ns.Metrics {
			if t.cfg.MetricInterval(m) == t.interval {
				return true
			}
		}
	}
	return false
}

// buildQueries expands the config into one query per
// metric/stat/dimension-set at this task's interval. Metrics that pin no
// dimension sets get theirs discovered through ListMetrics, so every
// reporting series is scraped without enumerating resources by hand.
func (t *MetricTask) buildQueries(ctx context.Context, client CloudWatchAPI, accountID string) ([]query.MetricQuery, error) {
	var queries []query.MetricQuery
	for _, ns := range t.cfg.Namespaces {
		for _, m := range ns.Metrics {
			if t.cfg.MetricInterval(m) != t.interval {
				continue
			}
			dimensionSets := m.Dimensions
			if len(dimensionSets) == 0 {
				discovered, err := t.listDimensionSets(ctx, client, accountID, ns.Name, m.Name)
				if err != nil {
					return nil, err
				}
				dimensionSets = discovered
			}
			if len(dimensionSets) == 0 {
				dimensionSets = []map[string]string{nil}
			}
			for _, stat := range m.Stats {
				for _, dims := range dimensionSets {
					queries = append(queries, query.MetricQuery{
						ID:             query.NewID(len(queries)),
						Namespace:      ns.Name,
						MetricName:     m.Name,
						Dimensions:     dims,
						Stat:           stat,
						Period:         t.cfg.MetricPeriod(m),
						ScrapeInterval: t.interval,
					})
				}
			}
		}
	}
	return queries, nil
}

// listDimensionSets discovers the dimension sets a metric currently
// reports under.
func (t *MetricTask) listDimensionSets(ctx context.Context, client CloudWatchAPI, accountID, namespace, metricName string) ([]map[string]string, error) {
	labels := ratelimit.CallLabels(listMetricsOp, accountID, t.region)
	var sets []map[string]string
	input := &cloudwatch.ListMetricsInput{
		Namespace:  aws.String(namespace),
		MetricName: aws.String(metricName),
	}
	for {
		out, err := ratelimit.Execute(ctx, t.limiter, listMetricsOp, labels,
			func() (*cloudwatch.ListMetricsOutput, error) {
				return client.ListMetrics(ctx, input)
			})
		if err != nil {
			return nil, fmt.Errorf("list metrics %s/%s: %w", namespace, metricName, err)
		}
		for _, metric := range out.Metrics {
			if len(metric.Dimensions) == 0 {
				continue
			}
			dims := make(map[string]string, len(metric.Dimensions))
			for _, d := range metric.Dimensions {
				dims[aws.ToString(d.Name)] = aws.ToString(d.Value)
			}
			sets = append(sets, dims)
		}
		if out.NextToken == nil {
			return sets, nil
		}
		input.NextToken = out.NextToken
	}
}

func (t *MetricTask) scrapeAccount(ctx context.Context, account config.Account, endTime time.Time) ([]exporter.Sample, error) {
	client, err := t.clients.CloudWatch(ctx, account.ID, t.region)
	if err != nil {
		return nil, fmt.Errorf("building cloudwatch client: %w", err)
	}

	queries, err := t.buildQueries(ctx, client, account.ID)
	if err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		return nil, nil
	}

	byID := make(map[string]query.MetricQuery, len(queries))
	for _, q := range queries {
		byID[q.ID] = q
	}

	latest := make(map[string]point, len(queries))
	for _, batch := range query.Split(queries) {
		window := t.interval
		for _, q := range batch {
			if w := q.Window(); w > window {
				window = w
			}
		}
		startTime := endTime.Add(-window)

		dataQueries := make([]cwtypes.MetricDataQuery, len(batch))
		for i, q := range batch {
			dataQueries[i] = q.DataQuery()
		}

		input := &cloudwatch.GetMetricDataInput{
			StartTime:         aws.Time(startTime),
			EndTime:           aws.Time(endTime),
			MetricDataQueries: dataQueries,
		}
		labels := ratelimit.CallLabels(getMetricDataOp, account.ID, t.region)

		// Page through all results before building samples; NextToken is
		// opaque and must round-trip unchanged, and later pages can carry
		// more points for a query already seen.
		for {
			out, err := ratelimit.Execute(ctx, t.limiter, getMetricDataOp, labels,
				func() (*cloudwatch.GetMetricDataOutput, error) {
					return client.GetMetricData(ctx, input)
				})
			if err != nil {
				return nil, fmt.Errorf("get metric data: %w", err)
			}
			t.correlate(byID, out.MetricDataResults, latest)
			if out.NextToken == nil {
				break
			}
			input.NextToken = out.NextToken
		}
	}
	return t.buildSamples(account.ID, queries, latest), nil
}

// point is one returned datapoint.
type point struct {
	value float64
	ts    time.Time
}

// correlate folds results back onto their queries by id, keeping only the
// newest point per query. One exposed sample per series keeps the served
// snapshot free of duplicate label sets.
func (t *MetricTask) correlate(byID map[string]query.MetricQuery, results []cwtypes.MetricDataResult, latest map[string]point) {
	for _, result := range results {
		id := aws.ToString(result.Id)
		if _, ok := byID[id]; !ok {
			t.log.Warn().Str("id", id).Msg("result for unknown query id")
			continue
		}
		for i, value := range result.Values {
			p := point{value: value}
			if i < len(result.Timestamps) {
				p.ts = result.Timestamps[i]
			}
			if prev, ok := latest[id]; !ok || p.ts.After(prev.ts) {
				latest[id] = p
			}
		}
	}
}

// buildSamples emits one sample per query that returned data, in query
// order.
func (t *MetricTask) buildSamples(accountID string, queries []query.MetricQuery, latest map[string]point) []exporter.Sample {
	var samples []exporter.Sample
	for _, q := range queries {
		p, ok := latest[q.ID]
		if !ok {
			continue
		}
		labels := map[string]string{
			telemetry.AccountLabel: accountID,
			telemetry.RegionLabel:  t.region,
		}
		for dim, dimValue := range q.Dimensions {
			labels[exporter.DimensionLabel(dim)] = dimValue
		}
		samples = append(samples, exporter.Sample{
			Name:      exporter.MetricName(q.Namespace, q.MetricName, q.Stat),
			Labels:    labels,
			Value:     p.value,
			Timestamp: p.ts,
		})
	}
	return samples
}

func hasRegion(account config.Account, region string) bool {
	for _, r := range account.Regions {
		if r == region {
			return true
		}
	}
	return false
}
