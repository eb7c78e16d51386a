package relations

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/rs/zerolog"

	"github.com/yairfalse/virta/arn"
	"github.com/yairfalse/virta/ratelimit"
	"github.com/yairfalse/virta/types"
)

// ELBV2API is the slice of the elastic load balancing client used here.
type ELBV2API interface {
	DescribeTargetGroups(ctx context.Context, params *elbv2.DescribeTargetGroupsInput, optFns ...func(*elbv2.Options)) (*elbv2.DescribeTargetGroupsOutput, error)
	DescribeTargetHealth(ctx context.Context, params *elbv2.DescribeTargetHealthInput, optFns ...func(*elbv2.Options)) (*elbv2.DescribeTargetHealthOutput, error)
}

const (
	describeTargetGroupsOp = "ELBv2/DescribeTargetGroups"
	describeTargetHealthOp = "ELBv2/DescribeTargetHealth"
)

// TargetGroupMapper resolves target group ARNs to the load balancer in
// front of them. Several builders share one mapper per account/region so
// the target group listing is fetched once per cycle.
type TargetGroupMapper struct {
	client    ELBV2API
	limiter   *ratelimit.Limiter
	mapper    *arn.Mapper
	accountID string
	region    string
	log       zerolog.Logger

	mu     sync.RWMutex
	toLB   map[string]types.Resource
	lambda []elbv2types.TargetGroup
}

// NewTargetGroupMapper builds a mapper for one account and region.
func NewTargetGroupMapper(client ELBV2API, limiter *ratelimit.Limiter, mapper *arn.Mapper, accountID, region string, log zerolog.Logger) *TargetGroupMapper {
	return &TargetGroupMapper{
		client:    client,
		limiter:   limiter,
		mapper:    mapper,
		accountID: accountID,
		region:    region,
		log:       log,
	}
}

// Refresh re-lists all target groups and rebuilds the ARN to load
// balancer map. The previous map survives a failed refresh.
func (m *TargetGroupMapper) Refresh(ctx context.Context) error {
	labels := ratelimit.CallLabels(describeTargetGroupsOp, m.accountID, m.region)
	toLB := map[string]types.Resource{}
	var lambdaGroups []elbv2types.TargetGroup

	input := &elbv2.DescribeTargetGroupsInput{}
	for {
		out, err := ratelimit.Execute(ctx, m.limiter, describeTargetGroupsOp, labels,
			func() (*elbv2.DescribeTargetGroupsOutput, error) {
				return m.client.DescribeTargetGroups(ctx, input)
			})
		if err != nil {
			return fmt.Errorf("describe target groups: %w", err)
		}
		for _, tg := range out.TargetGroups {
			if tg.TargetType == elbv2types.TargetTypeEnumLambda {
				lambdaGroups = append(lambdaGroups, tg)
			}
			for _, lbARN := range tg.LoadBalancerArns {
				if lb, ok := m.mapper.Map(lbARN); ok {
					toLB[aws.ToString(tg.TargetGroupArn)] = lb
				}
			}
		}
		if out.NextMarker == nil {
			break
		}
		input.Marker = out.NextMarker
	}

	m.mu.Lock()
	m.toLB = toLB
	m.lambda = lambdaGroups
	m.mu.Unlock()
	return nil
}

// LoadBalancer returns the load balancer fronting a target group ARN.
func (m *TargetGroupMapper) LoadBalancer(tgARN string) (types.Resource, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lb, ok := m.toLB[tgARN]
	return lb, ok
}

// LambdaTargetGroups returns the target groups whose target type is lambda.
func (m *TargetGroupMapper) LambdaTargetGroups() []elbv2types.TargetGroup {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lambda
}

// LBToLambdaBuilder discovers load balancer to lambda routing edges by
// resolving the registered targets of lambda-typed target groups.
type LBToLambdaBuilder struct {
	tgMapper  *TargetGroupMapper
	client    ELBV2API
	limiter   *ratelimit.Limiter
	mapper    *arn.Mapper
	accountID string
	region    string
	log       zerolog.Logger
	cache     edgeCache
}

// NewLBToLambdaBuilder builds the routing builder for one account/region.
func NewLBToLambdaBuilder(tgMapper *TargetGroupMapper, client ELBV2API, limiter *ratelimit.Limiter, mapper *arn.Mapper, accountID, region string, log zerolog.Logger) *LBToLambdaBuilder {
	return &LBToLambdaBuilder{
		tgMapper:  tgMapper,
		client:    client,
		limiter:   limiter,
		mapper:    mapper,
		accountID: accountID,
		region:    region,
		log:       log,
	}
}

// Update implements Builder.
func (b *LBToLambdaBuilder) Update(ctx context.Context) error {
	if err := b.tgMapper.Refresh(ctx); err != nil {
		return err
	}

	labels := ratelimit.CallLabels(describeTargetHealthOp, b.accountID, b.region)
	set := types.NewRelationSet()
	for _, tg := range b.tgMapper.LambdaTargetGroups() {
		tgARN := aws.ToString(tg.TargetGroupArn)
		lb, ok := b.tgMapper.LoadBalancer(tgARN)
		if !ok {
			continue
		}
		out, err := ratelimit.Execute(ctx, b.limiter, describeTargetHealthOp, labels,
			func() (*elbv2.DescribeTargetHealthOutput, error) {
				return b.client.DescribeTargetHealth(ctx, &elbv2.DescribeTargetHealthInput{
					TargetGroupArn: aws.String(tgARN),
				})
			})
		if err != nil {
			return fmt.Errorf("describe target health %s: %w", tgARN, err)
		}
		for _, desc := range out.TargetHealthDescriptions {
			if desc.Target == nil {
				continue
			}
			if fn, ok := b.mapper.Map(aws.ToString(desc.Target.Id)); ok {
				set.Add(types.ResourceRelation{From: lb, To: fn, Name: RoutesTo})
			}
		}
	}

	b.cache.store(set)
	return nil
}

// Relations implements Builder.
func (b *LBToLambdaBuilder) Relations() types.RelationSet { return b.cache.load() }
