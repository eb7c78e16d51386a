// Package alarms polls CloudWatch alarms in the ALARM state and either
// exposes them as samples or forwards them to an external receiver.
package alarms

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
	"github.com/yairfalse/virta/ratelimit"
	"github.com/yairfalse/virta/telemetry"
)

// AlarmMetric is the exported family name for firing alarms.
const AlarmMetric = "aws_cloudwatch_alarm"

const describeAlarmsOp = "CloudWatch/DescribeAlarms"

// CloudWatchAPI is the slice of the CloudWatch client the poller needs.
type CloudWatchAPI interface {
	DescribeAlarms(ctx context.Context, params *cloudwatch.DescribeAlarmsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.DescribeAlarmsOutput, error)
}

// ClientProvider hands out CloudWatch clients per account and region.
type ClientProvider interface {
	CloudWatchAlarms(ctx context.Context, accountID, region string) (CloudWatchAPI, error)
}

// Sink receives the finished alarm sample set.
type Sink interface {
	Update(partition string, samples []exporter.Sample)
}

// Forwarder pushes firing alarms to an external receiver.
type Forwarder interface {
	Forward(ctx context.Context, alarms []Alarm) error
}

// NameSimplifier rewrites alarm names before exposure or forwarding, for
// deployments whose alarm names embed generated suffixes.
type NameSimplifier interface {
	Simplify(name string) string
}

type identitySimplifier struct{}

func (identitySimplifier) Simplify(name string) string { return name }

// Alarm is one firing CloudWatch alarm.
type Alarm struct {
	Name       string            `json:"name"`
	AccountID  string            `json:"account_id"`
	Region     string            `json:"region"`
	Namespace  string            `json:"namespace,omitempty"`
	MetricName string            `json:"metric_name,omitempty"`
	Operator   string            `json:"metric_operator,omitempty"`
	Threshold  float64           `json:"threshold"`
	Dimensions map[string]string `json:"dimensions,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// operatorSymbols maps CloudWatch comparison operators to the symbols
// carried on the metric_operator label.
var operatorSymbols = map[cwtypes.ComparisonOperator]string{
	cwtypes.ComparisonOperatorLessThanThreshold:                     "<",
	cwtypes.ComparisonOperatorLessThanOrEqualToThreshold:            "<=",
	cwtypes.ComparisonOperatorGreaterThanThreshold:                  ">",
	cwtypes.ComparisonOperatorGreaterThanOrEqualToThreshold:         ">=",
	cwtypes.ComparisonOperatorLessThanLowerOrGreaterThanUpperThreshold: "> or <",
	cwtypes.ComparisonOperatorLessThanLowerThreshold:                "<",
	cwtypes.ComparisonOperatorGreaterThanUpperThreshold:             ">",
}

// OperatorSymbol renders a comparison operator for label use.
func OperatorSymbol(op cwtypes.ComparisonOperator) string {
	if symbol, ok := operatorSymbols[op]; ok {
		return symbol
	}
	return string(op)
}

// Poller fetches firing alarms for one region across all accounts that
// include it. When a forwarder is configured alarms are pushed to it and
// never exposed as samples; the two delivery modes are exclusive.
type Poller struct {
	cfg       *config.Config
	region    string
	clients   ClientProvider
	limiter   *ratelimit.Limiter
	sink      Sink
	forwarder Forwarder
	names     NameSimplifier
	log       zerolog.Logger
}

// NewPoller builds the alarm poller for one region. forwarder may be nil,
// in which case alarms are exposed as samples.
func NewPoller(cfg *config.Config, region string, clients ClientProvider, limiter *ratelimit.Limiter, sink Sink, forwarder Forwarder, log zerolog.Logger) *Poller {
	return &Poller{
		cfg:       cfg,
		region:    region,
		clients:   clients,
		limiter:   limiter,
		sink:      sink,
		forwarder: forwarder,
		names:     identitySimplifier{},
		log:       log.With().Str("region", region).Logger(),
	}
}

// UseNameSimplifier replaces the default pass-through name simplifier.
func (p *Poller) UseNameSimplifier(s NameSimplifier) {
	if s != nil {
		p.names = s
	}
}

// Run performs one poll cycle.
func (p *Poller) Run(ctx context.Context) {
	var alarms []Alarm
	for _, account := range p.cfg.Accounts {
		if !hasRegion(account, p.region) {
			continue
		}
		fetched, err := p.fetchAccount(ctx, account.ID)
		if err != nil {
			p.log.Error().Err(err).Str("account", account.ID).Msg("alarm fetch failed")
			continue
		}
		alarms = append(alarms, fetched...)
	}

	if p.forwarder != nil {
		if err := p.forwarder.Forward(ctx, alarms); err != nil {
			p.log.Error().Err(err).Msg("alarm forward failed")
		}
		return
	}

	samples := make([]exporter.Sample, 0, len(alarms))
	for _, alarm := range alarms {
		samples = append(samples, exporter.Sample{
			Name:   AlarmMetric,
			Labels: alarm.labels(),
			Value:  1,
		})
	}
	p.sink.Update("alarms/"+p.region, samples)
	p.log.Info().Int("alarms", len(alarms)).Msg("alarm snapshot published")
}

func (p *Poller) fetchAccount(ctx context.Context, accountID string) ([]Alarm, error) {
	client, err := p.clients.CloudWatchAlarms(ctx, accountID, p.region)
	if err != nil {
		return nil, fmt.Errorf("building cloudwatch client: %w", err)
	}

	labels := ratelimit.CallLabels(describeAlarmsOp, accountID, p.region)
	var alarms []Alarm
	input := &cloudwatch.DescribeAlarmsInput{StateValue: cwtypes.StateValueAlarm}
	for {
		out, err := ratelimit.Execute(ctx, p.limiter, describeAlarmsOp, labels,
			func() (*cloudwatch.DescribeAlarmsOutput, error) {
				return client.DescribeAlarms(ctx, input)
			})
		if err != nil {
			return nil, fmt.Errorf("describe alarms: %w", err)
		}
		for _, metricAlarm := range out.MetricAlarms {
			alarms = append(alarms, p.convert(accountID, metricAlarm))
		}
		if out.NextToken == nil {
			return alarms, nil
		}
		input.NextToken = out.NextToken
	}
}

func (p *Poller) convert(accountID string, a cwtypes.MetricAlarm) Alarm {
	alarm := Alarm{
		Name:       p.names.Simplify(aws.ToString(a.AlarmName)),
		AccountID:  accountID,
		Region:     p.region,
		Namespace:  aws.ToString(a.Namespace),
		MetricName: aws.ToString(a.MetricName),
		Operator:   OperatorSymbol(a.ComparisonOperator),
		Threshold:  aws.ToFloat64(a.Threshold),
		UpdatedAt:  aws.ToTime(a.StateUpdatedTimestamp),
	}
	if len(a.Dimensions) > 0 {
		alarm.Dimensions = make(map[string]string, len(a.Dimensions))
		for _, dim := range a.Dimensions {
			alarm.Dimensions[aws.ToString(dim.Name)] = aws.ToString(dim.Value)
		}
	}
	return alarm
}

func (a Alarm) labels() map[string]string {
	labels := map[string]string{
		"alertname":            a.Name,
		telemetry.AccountLabel: a.AccountID,
		telemetry.RegionLabel:  a.Region,
		"threshold":            fmt.Sprintf("%g", a.Threshold),
		"timestamp":            a.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if a.Namespace != "" {
		labels[telemetry.NamespaceLabel] = a.Namespace
	}
	if a.MetricName != "" {
		labels["metric_name"] = a.MetricName
	}
	if a.Operator != "" {
		labels["metric_operator"] = a.Operator
	}
	for dim, value := range a.Dimensions {
		labels[exporter.DimensionLabel(dim)] = value
	}
	return labels
}

func hasRegion(account config.Account, region string) bool {
	for _, r := range account.Regions {
		if r == region {
			return true
		}
	}
	return false
}
