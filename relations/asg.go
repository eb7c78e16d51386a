package relations

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/rs/zerolog"

	"github.com/yairfalse/virta/arn"
	"github.com/yairfalse/virta/ratelimit"
	"github.com/yairfalse/virta/types"
)

// AutoScalingAPI is the slice of the autoscaling client used here.
type AutoScalingAPI interface {
	DescribeAutoScalingGroups(ctx context.Context, params *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error)
}

const describeASGOp = "AutoScaling/DescribeAutoScalingGroups"

// LBToASGBuilder discovers load balancer to auto scaling group routing
// edges through the groups' registered target groups.
type LBToASGBuilder struct {
	tgMapper  *TargetGroupMapper
	client    AutoScalingAPI
	limiter   *ratelimit.Limiter
	mapper    *arn.Mapper
	accountID string
	region    string
	log       zerolog.Logger
	cache     edgeCache
}

// NewLBToASGBuilder builds the routing builder for one account/region.
func NewLBToASGBuilder(tgMapper *TargetGroupMapper, client AutoScalingAPI, limiter *ratelimit.Limiter, mapper *arn.Mapper, accountID, region string, log zerolog.Logger) *LBToASGBuilder {
	return &LBToASGBuilder{
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
func (b *LBToASGBuilder) Update(ctx context.Context) error {
	labels := ratelimit.CallLabels(describeASGOp, b.accountID, b.region)
	set := types.NewRelationSet()

	input := &autoscaling.DescribeAutoScalingGroupsInput{}
	for {
		out, err := ratelimit.Execute(ctx, b.limiter, describeASGOp, labels,
			func() (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
				return b.client.DescribeAutoScalingGroups(ctx, input)
			})
		if err != nil {
			return fmt.Errorf("describe auto scaling groups: %w", err)
		}
		for _, group := range out.AutoScalingGroups {
			asg, ok := b.mapper.Map(aws.ToString(group.AutoScalingGroupARN))
			if !ok {
				continue
			}
			for _, tgARN := range group.TargetGroupARNs {
				if lb, ok := b.tgMapper.LoadBalancer(tgARN); ok {
					set.Add(types.ResourceRelation{From: lb, To: asg, Name: RoutesTo})
				}
			}
		}
		if out.NextToken == nil {
			break
		}
		input.NextToken = out.NextToken
	}

	b.cache.store(set)
	return nil
}

// Relations implements Builder.
func (b *LBToASGBuilder) Relations() types.RelationSet { return b.cache.load() }
