package relations

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/rs/zerolog"

	"github.com/yairfalse/virta/arn"
	"github.com/yairfalse/virta/ratelimit"
	"github.com/yairfalse/virta/types"
)

// ECSAPI is the slice of the ECS client used here.
type ECSAPI interface {
	ListClusters(ctx context.Context, params *ecs.ListClustersInput, optFns ...func(*ecs.Options)) (*ecs.ListClustersOutput, error)
	ListServices(ctx context.Context, params *ecs.ListServicesInput, optFns ...func(*ecs.Options)) (*ecs.ListServicesOutput, error)
	DescribeServices(ctx context.Context, params *ecs.DescribeServicesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error)
}

const (
	listClustersOp     = "ECS/ListClusters"
	listServicesOp     = "ECS/ListServices"
	describeServicesOp = "ECS/DescribeServices"
)

// describeServicesMax is the API's per-call service limit.
const describeServicesMax = 10

// ECSRoutingBuilder discovers load balancer to ECS service routing edges
// through the services' registered target groups.
type ECSRoutingBuilder struct {
	tgMapper  *TargetGroupMapper
	client    ECSAPI
	limiter   *ratelimit.Limiter
	mapper    *arn.Mapper
	accountID string
	region    string
	log       zerolog.Logger
	cache     edgeCache
}

// NewECSRoutingBuilder builds the routing builder for one account/region.
func NewECSRoutingBuilder(tgMapper *TargetGroupMapper, client ECSAPI, limiter *ratelimit.Limiter, mapper *arn.Mapper, accountID, region string, log zerolog.Logger) *ECSRoutingBuilder {
	return &ECSRoutingBuilder{
		tgMapper:  tgMapper,
		client:    client,
		limiter:   limiter,
		mapper:    mapper,
		accountID: accountID,
		region:    region,
		log:       log,
	}
}

// Update implements Builder. It relies on the shared target group mapper
// having been refreshed earlier in the same cycle.
func (b *ECSRoutingBuilder) Update(ctx context.Context) error {
	set := types.NewRelationSet()

	clusters, err := b.listClusters(ctx)
	if err != nil {
		return err
	}
	for _, clusterARN := range clusters {
		serviceARNs, err := b.listServices(ctx, clusterARN)
		if err != nil {
			return err
		}
		for start := 0; start < len(serviceARNs); start += describeServicesMax {
			end := start + describeServicesMax
			if end > len(serviceARNs) {
				end = len(serviceARNs)
			}
			if err := b.describeServices(ctx, clusterARN, serviceARNs[start:end], set); err != nil {
				return err
			}
		}
	}

	b.cache.store(set)
	return nil
}

func (b *ECSRoutingBuilder) listClusters(ctx context.Context) ([]string, error) {
	labels := ratelimit.CallLabels(listClustersOp, b.accountID, b.region)
	var clusters []string
	input := &ecs.ListClustersInput{}
	for {
		out, err := ratelimit.Execute(ctx, b.limiter, listClustersOp, labels,
			func() (*ecs.ListClustersOutput, error) {
				return b.client.ListClusters(ctx, input)
			})
		if err != nil {
			return nil, fmt.Errorf("list clusters: %w", err)
		}
		clusters = append(clusters, out.ClusterArns...)
		if out.NextToken == nil {
			return clusters, nil
		}
		input.NextToken = out.NextToken
	}
}

func (b *ECSRoutingBuilder) listServices(ctx context.Context, clusterARN string) ([]string, error) {
	labels := ratelimit.CallLabels(listServicesOp, b.accountID, b.region)
	var services []string
	input := &ecs.ListServicesInput{Cluster: aws.String(clusterARN)}
	for {
		out, err := ratelimit.Execute(ctx, b.limiter, listServicesOp, labels,
			func() (*ecs.ListServicesOutput, error) {
				return b.client.ListServices(ctx, input)
			})
		if err != nil {
			return nil, fmt.Errorf("list services %s: %w", clusterARN, err)
		}
		services = append(services, out.ServiceArns...)
		if out.NextToken == nil {
			return services, nil
		}
		input.NextToken = out.NextToken
	}
}

func (b *ECSRoutingBuilder) describeServices(ctx context.Context, clusterARN string, serviceARNs []string, set types.RelationSet) error {
	labels := ratelimit.CallLabels(describeServicesOp, b.accountID, b.region)
	out, err := ratelimit.Execute(ctx, b.limiter, describeServicesOp, labels,
		func() (*ecs.DescribeServicesOutput, error) {
			return b.client.DescribeServices(ctx, &ecs.DescribeServicesInput{
				Cluster:  aws.String(clusterARN),
				Services: serviceARNs,
			})
		})
	if err != nil {
		return fmt.Errorf("describe services %s: %w", clusterARN, err)
	}

	for _, service := range out.Services {
		svc, ok := b.mapper.Map(aws.ToString(service.ServiceArn))
		if !ok {
			continue
		}
		for _, lbConfig := range service.LoadBalancers {
			tgARN := aws.ToString(lbConfig.TargetGroupArn)
			if tgARN == "" {
				continue
			}
			if lb, ok := b.tgMapper.LoadBalancer(tgARN); ok {
				set.Add(types.ResourceRelation{From: lb, To: svc, Name: RoutesTo})
			}
		}
	}
	return nil
}

// Relations implements Builder.
func (b *ECSRoutingBuilder) Relations() types.RelationSet { return b.cache.load() }
