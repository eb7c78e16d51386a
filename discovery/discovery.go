// Package discovery inventories AWS resources that carry no CloudWatch
// metrics of their own and exports them as aws_resource samples, plus the
// lambda event source wiring as aws_lambda_event_source samples and the
// lambda concurrency capacity gauges.
package discovery

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/configservice"
	"github.com/aws/aws-sdk-go-v2/service/configservice/types"
	"github.com/aws/aws-sdk-go-v2/service/kinesisanalyticsv2"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rs/zerolog"

	"github.com/yairfalse/virta/arn"
	"github.com/yairfalse/virta/config"
	"github.com/yairfalse/virta/exporter"
	"github.com/yairfalse/virta/ratelimit"
	"github.com/yairfalse/virta/telemetry"
	vtypes "github.com/yairfalse/virta/types"
)

// Exported family names.
const (
	ResourceMetric    = "aws_resource"
	EventSourceMetric = "aws_lambda_event_source"
)

// Rate limiter operation keys.
const (
	listEventSourcesOp = "Lambda/ListEventSourceMappings"
	listTopicsOp       = "SNS/ListTopics"
	listAppsOp         = "KinesisAnalytics/ListApplications"
	listDiscoveredOp   = "Config/ListDiscoveredResources"
)

// LambdaAPI is the slice of the lambda client used here.
type LambdaAPI interface {
	GetAccountSettings(ctx context.Context, params *lambda.GetAccountSettingsInput, optFns ...func(*lambda.Options)) (*lambda.GetAccountSettingsOutput, error)
	ListEventSourceMappings(ctx context.Context, params *lambda.ListEventSourceMappingsInput, optFns ...func(*lambda.Options)) (*lambda.ListEventSourceMappingsOutput, error)
	ListFunctions(ctx context.Context, params *lambda.ListFunctionsInput, optFns ...func(*lambda.Options)) (*lambda.ListFunctionsOutput, error)
	ListProvisionedConcurrencyConfigs(ctx context.Context, params *lambda.ListProvisionedConcurrencyConfigsInput, optFns ...func(*lambda.Options)) (*lambda.ListProvisionedConcurrencyConfigsOutput, error)
}

// SNSAPI is the slice of the SNS client used here.
type SNSAPI interface {
	ListTopics(ctx context.Context, params *sns.ListTopicsInput, optFns ...func(*sns.Options)) (*sns.ListTopicsOutput, error)
}

// KinesisAnalyticsAPI is the slice of the kinesis analytics client used here.
type KinesisAnalyticsAPI interface {
	ListApplications(ctx context.Context, params *kinesisanalyticsv2.ListApplicationsInput, optFns ...func(*kinesisanalyticsv2.Options)) (*kinesisanalyticsv2.ListApplicationsOutput, error)
}

// ConfigServiceAPI is the slice of the AWS Config client used here.
type ConfigServiceAPI interface {
	ListDiscoveredResources(ctx context.Context, params *configservice.ListDiscoveredResourcesInput, optFns ...func(*configservice.Options)) (*configservice.ListDiscoveredResourcesOutput, error)
}

// ClientProvider hands out the discovery clients per account and region.
type ClientProvider interface {
	Lambda(ctx context.Context, accountID, region string) (LambdaAPI, error)
	SNS(ctx context.Context, accountID, region string) (SNSAPI, error)
	KinesisAnalytics(ctx context.Context, accountID, region string) (KinesisAnalyticsAPI, error)
	ConfigService(ctx context.Context, accountID, region string) (ConfigServiceAPI, error)
}

// Sink receives the finished inventory sample set.
type Sink interface {
	Update(partition string, samples []exporter.Sample)
}

// Inventory discovers resources in one region across all accounts that
// include it. Each source is isolated; one failing API never empties the
// samples of the others.
type Inventory struct {
	cfg     *config.Config
	region  string
	clients ClientProvider
	limiter *ratelimit.Limiter
	mapper  *arn.Mapper
	sink    Sink
	log     zerolog.Logger
}

// NewInventory builds the inventory task for one region.
func NewInventory(cfg *config.Config, region string, clients ClientProvider, limiter *ratelimit.Limiter, mapper *arn.Mapper, sink Sink, log zerolog.Logger) *Inventory {
	return &Inventory{
		cfg:     cfg,
		region:  region,
		clients: clients,
		limiter: limiter,
		mapper:  mapper,
		sink:    sink,
		log:     log.With().Str("region", region).Logger(),
	}
}

// Run performs one discovery cycle and publishes the snapshot.
func (v *Inventory) Run(ctx context.Context) {
	var samples []exporter.Sample
	for _, account := range v.cfg.Accounts {
		if !hasRegion(account, v.region) {
			continue
		}
		sources := []struct {
			name string
			list func(context.Context, string) ([]exporter.Sample, error)
		}{
			{"lambda event sources", v.eventSources},
			{"lambda capacity", v.lambdaCapacity},
			{"sns topics", v.topics},
			{"kinesis analytics", v.applications},
			{"config resources", v.configResources},
		}
		for _, source := range sources {
			found, err := source.list(ctx, account.ID)
			if err != nil {
				v.log.Error().Err(err).Str("account", account.ID).Str("source", source.name).Msg("discovery failed")
				continue
			}
			samples = append(samples, found...)
		}
	}

	v.sink.Update("inventory/"+v.region, samples)
	v.log.Info().Int("samples", len(samples)).Msg("inventory snapshot published")
}

// eventSources exports one sample per lambda event source mapping, with
// the source resource on from_ labels and the function on to_ labels.
func (v *Inventory) eventSources(ctx context.Context, accountID string) ([]exporter.Sample, error) {
	client, err := v.clients.Lambda(ctx, accountID, v.region)
	if err != nil {
		return nil, err
	}

	labels := ratelimit.CallLabels(listEventSourcesOp, accountID, v.region)
	var samples []exporter.Sample
	input := &lambda.ListEventSourceMappingsInput{}
	for {
		out, err := ratelimit.Execute(ctx, v.limiter, listEventSourcesOp, labels,
			func() (*lambda.ListEventSourceMappingsOutput, error) {
				return client.ListEventSourceMappings(ctx, input)
			})
		if err != nil {
			return nil, fmt.Errorf("list event source mappings: %w", err)
		}
		for _, mapping := range out.EventSourceMappings {
			fn, ok := v.mapper.Map(aws.ToString(mapping.FunctionArn))
			if !ok {
				continue
			}
			source, ok := v.mapper.Map(aws.ToString(mapping.EventSourceArn))
			if !ok {
				continue
			}
			sampleLabels := map[string]string{
				telemetry.AccountLabel: accountID,
				telemetry.RegionLabel:  v.region,
			}
			source.AddLabels(sampleLabels, "from")
			fn.AddLabels(sampleLabels, "to")
			samples = append(samples, exporter.Sample{Name: EventSourceMetric, Labels: sampleLabels, Value: 1})
		}
		if out.NextMarker == nil {
			return samples, nil
		}
		input.Marker = out.NextMarker
	}
}

func (v *Inventory) topics(ctx context.Context, accountID string) ([]exporter.Sample, error) {
	client, err := v.clients.SNS(ctx, accountID, v.region)
	if err != nil {
		return nil, err
	}

	labels := ratelimit.CallLabels(listTopicsOp, accountID, v.region)
	var samples []exporter.Sample
	input := &sns.ListTopicsInput{}
	for {
		out, err := ratelimit.Execute(ctx, v.limiter, listTopicsOp, labels,
			func() (*sns.ListTopicsOutput, error) {
				return client.ListTopics(ctx, input)
			})
		if err != nil {
			return nil, fmt.Errorf("list topics: %w", err)
		}
		for _, topic := range out.Topics {
			if resource, ok := v.mapper.Map(aws.ToString(topic.TopicArn)); ok {
				samples = append(samples, v.resourceSample(accountID, resource))
			}
		}
		if out.NextToken == nil {
			return samples, nil
		}
		input.NextToken = out.NextToken
	}
}

func (v *Inventory) applications(ctx context.Context, accountID string) ([]exporter.Sample, error) {
	client, err := v.clients.KinesisAnalytics(ctx, accountID, v.region)
	if err != nil {
		return nil, err
	}

	labels := ratelimit.CallLabels(listAppsOp, accountID, v.region)
	var samples []exporter.Sample
	input := &kinesisanalyticsv2.ListApplicationsInput{}
	for {
		out, err := ratelimit.Execute(ctx, v.limiter, listAppsOp, labels,
			func() (*kinesisanalyticsv2.ListApplicationsOutput, error) {
				return client.ListApplications(ctx, input)
			})
		if err != nil {
			return nil, fmt.Errorf("list applications: %w", err)
		}
		for _, app := range out.ApplicationSummaries {
			if resource, ok := v.mapper.Map(aws.ToString(app.ApplicationARN)); ok {
				samples = append(samples, v.resourceSample(accountID, resource))
			}
		}
		if out.NextToken == nil {
			return samples, nil
		}
		input.NextToken = out.NextToken
	}
}

func (v *Inventory) configResources(ctx context.Context, accountID string) ([]exporter.Sample, error) {
	if len(v.cfg.Discovery.ResourceTypes) == 0 {
		return nil, nil
	}
	client, err := v.clients.ConfigService(ctx, accountID, v.region)
	if err != nil {
		return nil, err
	}

	labels := ratelimit.CallLabels(listDiscoveredOp, accountID, v.region)
	var samples []exporter.Sample
	for _, resourceType := range v.cfg.Discovery.ResourceTypes {
		input := &configservice.ListDiscoveredResourcesInput{
			ResourceType: types.ResourceType(resourceType),
		}
		for {
			out, err := ratelimit.Execute(ctx, v.limiter, listDiscoveredOp, labels,
				func() (*configservice.ListDiscoveredResourcesOutput, error) {
					return client.ListDiscoveredResources(ctx, input)
				})
			if err != nil {
				return nil, fmt.Errorf("list discovered resources %s: %w", resourceType, err)
			}
			for _, identifier := range out.ResourceIdentifiers {
				sampleLabels := map[string]string{
					telemetry.AccountLabel: accountID,
					telemetry.RegionLabel:  v.region,
					"type":                 string(identifier.ResourceType),
					"name":                 aws.ToString(identifier.ResourceName),
					"id":                   aws.ToString(identifier.ResourceId),
				}
				samples = append(samples, exporter.Sample{Name: ResourceMetric, Labels: sampleLabels, Value: 1})
			}
			if out.NextToken == nil {
				break
			}
			input.NextToken = out.NextToken
		}
	}
	return samples, nil
}

func (v *Inventory) resourceSample(accountID string, resource vtypes.Resource) exporter.Sample {
	labels := map[string]string{
		telemetry.AccountLabel: accountID,
		telemetry.RegionLabel:  v.region,
		"type":                 string(resource.Type),
		"name":                 resource.Name,
	}
	if resource.ID != "" {
		labels["id"] = resource.ID
	}
	return exporter.Sample{Name: ResourceMetric, Labels: labels, Value: 1}
}

func hasRegion(account config.Account, region string) bool {
	for _, r := range account.Regions {
		if r == region {
			return true
		}
	}
	return false
}
