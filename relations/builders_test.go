package relations

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	apigwtypes "github.com/aws/aws-sdk-go-v2/service/apigateway/types"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/virta/arn"
	"github.com/yairfalse/virta/ratelimit"
	"github.com/yairfalse/virta/types"
)

const (
	lbARN     = "arn:aws:elasticloadbalancing:us-east-1:123:loadbalancer/app/web/50dc6c"
	tgARN     = "arn:aws:elasticloadbalancing:us-east-1:123:targetgroup/web-tg/73e2d6"
	lambdaARN = "arn:aws:lambda:us-east-1:123:function:handler"
	asgARN    = "arn:aws:autoscaling:us-east-1:123:autoScalingGroup:912-4e6c:autoScalingGroupName/web-asg"
	svcARN    = "arn:aws:ecs:us-east-1:123:service/prod/checkout"
)

type testMetrics struct{}

func (testMetrics) RecordLatency(string, map[string]string, float64) {}
func (testMetrics) RecordCount(string, map[string]string, int)      {}

func testLimiter() *ratelimit.Limiter { return ratelimit.NewLimiter(1000, testMetrics{}) }

type fakeELBV2 struct {
	targetGroups []elbv2types.TargetGroup
	health       map[string][]elbv2types.TargetHealthDescription
}

func (f *fakeELBV2) DescribeTargetGroups(context.Context, *elbv2.DescribeTargetGroupsInput, ...func(*elbv2.Options)) (*elbv2.DescribeTargetGroupsOutput, error) {
	return &elbv2.DescribeTargetGroupsOutput{TargetGroups: f.targetGroups}, nil
}

func (f *fakeELBV2) DescribeTargetHealth(_ context.Context, params *elbv2.DescribeTargetHealthInput, _ ...func(*elbv2.Options)) (*elbv2.DescribeTargetHealthOutput, error) {
	return &elbv2.DescribeTargetHealthOutput{
		TargetHealthDescriptions: f.health[aws.ToString(params.TargetGroupArn)],
	}, nil
}

func lambdaTargetGroup() elbv2types.TargetGroup {
	return elbv2types.TargetGroup{
		TargetGroupArn:   aws.String(tgARN),
		TargetType:       elbv2types.TargetTypeEnumLambda,
		LoadBalancerArns: []string{lbARN},
	}
}

func TestLBToLambdaBuilder(t *testing.T) {
	client := &fakeELBV2{
		targetGroups: []elbv2types.TargetGroup{lambdaTargetGroup()},
		health: map[string][]elbv2types.TargetHealthDescription{
			tgARN: {{Target: &elbv2types.TargetDescription{Id: aws.String(lambdaARN)}}},
		},
	}
	mapper := arn.NewMapper()
	tgMapper := NewTargetGroupMapper(client, testLimiter(), mapper, "123", "us-east-1", zerolog.Nop())
	b := NewLBToLambdaBuilder(tgMapper, client, testLimiter(), mapper, "123", "us-east-1", zerolog.Nop())

	require.NoError(t, b.Update(context.Background()))

	edges := b.Relations().List()
	require.Len(t, edges, 1)
	assert.Equal(t, RoutesTo, edges[0].Name)
	assert.Equal(t, types.LoadBalancer, edges[0].From.Type)
	assert.Equal(t, "web", edges[0].From.Name)
	assert.Equal(t, types.LambdaFunction, edges[0].To.Type)
	assert.Equal(t, "handler", edges[0].To.Name)
}

type fakeASG struct {
	groups []asgtypes.AutoScalingGroup
}

func (f *fakeASG) DescribeAutoScalingGroups(context.Context, *autoscaling.DescribeAutoScalingGroupsInput, ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
	return &autoscaling.DescribeAutoScalingGroupsOutput{AutoScalingGroups: f.groups}, nil
}

func TestLBToASGBuilder(t *testing.T) {
	elb := &fakeELBV2{targetGroups: []elbv2types.TargetGroup{{
		TargetGroupArn:   aws.String(tgARN),
		TargetType:       elbv2types.TargetTypeEnumInstance,
		LoadBalancerArns: []string{lbARN},
	}}}
	mapper := arn.NewMapper()
	tgMapper := NewTargetGroupMapper(elb, testLimiter(), mapper, "123", "us-east-1", zerolog.Nop())
	require.NoError(t, tgMapper.Refresh(context.Background()))

	client := &fakeASG{groups: []asgtypes.AutoScalingGroup{{
		AutoScalingGroupARN: aws.String(asgARN),
		TargetGroupARNs:     []string{tgARN},
	}}}
	b := NewLBToASGBuilder(tgMapper, client, testLimiter(), mapper, "123", "us-east-1", zerolog.Nop())

	require.NoError(t, b.Update(context.Background()))

	edges := b.Relations().List()
	require.Len(t, edges, 1)
	assert.Equal(t, types.AutoScalingGroup, edges[0].To.Type)
	assert.Equal(t, "web-asg", edges[0].To.Name)
	assert.Equal(t, "web", edges[0].From.Name)
}

type fakeEC2 struct {
	volumePages []*ec2.DescribeVolumesOutput
	enis        []ec2types.NetworkInterface
}

func (f *fakeEC2) DescribeVolumes(context.Context, *ec2.DescribeVolumesInput, ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
	page := f.volumePages[0]
	if len(f.volumePages) > 1 {
		f.volumePages = f.volumePages[1:]
	}
	return page, nil
}

func (f *fakeEC2) DescribeNetworkInterfaces(context.Context, *ec2.DescribeNetworkInterfacesInput, ...func(*ec2.Options)) (*ec2.DescribeNetworkInterfacesOutput, error) {
	return &ec2.DescribeNetworkInterfacesOutput{NetworkInterfaces: f.enis}, nil
}

func TestVolumeBuilderPaginates(t *testing.T) {
	client := &fakeEC2{volumePages: []*ec2.DescribeVolumesOutput{
		{
			Volumes: []ec2types.Volume{{
				VolumeId:    aws.String("vol-1"),
				Attachments: []ec2types.VolumeAttachment{{InstanceId: aws.String("i-1")}},
			}},
			NextToken: aws.String("more"),
		},
		{
			Volumes: []ec2types.Volume{{
				VolumeId:    aws.String("vol-2"),
				Attachments: []ec2types.VolumeAttachment{{InstanceId: aws.String("i-2")}},
			}},
		},
	}}
	b := NewVolumeBuilder(client, testLimiter(), "123", "us-east-1", zerolog.Nop())

	require.NoError(t, b.Update(context.Background()))

	edges := b.Relations().List()
	require.Len(t, edges, 2)
	for _, edge := range edges {
		assert.Equal(t, AttachedTo, edge.Name)
		assert.Equal(t, types.EBSVolume, edge.From.Type)
		assert.Equal(t, types.EC2Instance, edge.To.Type)
	}
}

func TestENIBuilderSkipsDetachedInterfaces(t *testing.T) {
	client := &fakeEC2{enis: []ec2types.NetworkInterface{
		{
			NetworkInterfaceId: aws.String("eni-1"),
			Attachment:         &ec2types.NetworkInterfaceAttachment{InstanceId: aws.String("i-1")},
		},
		{NetworkInterfaceId: aws.String("eni-2")},
	}}
	b := NewENIBuilder(client, testLimiter(), "123", "us-east-1", zerolog.Nop())

	require.NoError(t, b.Update(context.Background()))

	edges := b.Relations().List()
	require.Len(t, edges, 1)
	assert.Equal(t, "eni-1", edges[0].From.Name)
	assert.Equal(t, "i-1", edges[0].To.Name)
}

type fakeAPIGateway struct{}

func (fakeAPIGateway) GetRestApis(context.Context, *apigateway.GetRestApisInput, ...func(*apigateway.Options)) (*apigateway.GetRestApisOutput, error) {
	return &apigateway.GetRestApisOutput{Items: []apigwtypes.RestApi{
		{Id: aws.String("api-1"), Name: aws.String("orders")},
	}}, nil
}

func (fakeAPIGateway) GetResources(context.Context, *apigateway.GetResourcesInput, ...func(*apigateway.Options)) (*apigateway.GetResourcesOutput, error) {
	return &apigateway.GetResourcesOutput{Items: []apigwtypes.Resource{
		{Id: aws.String("res-1"), ResourceMethods: map[string]apigwtypes.Method{"POST": {}}},
	}}, nil
}

func (fakeAPIGateway) GetMethod(context.Context, *apigateway.GetMethodInput, ...func(*apigateway.Options)) (*apigateway.GetMethodOutput, error) {
	return &apigateway.GetMethodOutput{
		MethodIntegration: &apigwtypes.Integration{
			Uri: aws.String("arn:aws:apigateway:us-east-1:lambda:path/2015-03-31/functions/" + lambdaARN + "/invocations"),
		},
	}, nil
}

func TestAPIGatewayBuilder(t *testing.T) {
	b := NewAPIGatewayBuilder(fakeAPIGateway{}, testLimiter(), arn.NewMapper(), "123", "us-east-1", zerolog.Nop())

	require.NoError(t, b.Update(context.Background()))

	edges := b.Relations().List()
	require.Len(t, edges, 1)
	assert.Equal(t, ForwardsTo, edges[0].Name)
	assert.Equal(t, types.APIGateway, edges[0].From.Type)
	assert.Equal(t, "orders", edges[0].From.Name)
	assert.Equal(t, "handler", edges[0].To.Name)
}

type fakeECS struct{}

func (fakeECS) ListClusters(context.Context, *ecs.ListClustersInput, ...func(*ecs.Options)) (*ecs.ListClustersOutput, error) {
	return &ecs.ListClustersOutput{ClusterArns: []string{"arn:aws:ecs:us-east-1:123:cluster/prod"}}, nil
}

func (fakeECS) ListServices(context.Context, *ecs.ListServicesInput, ...func(*ecs.Options)) (*ecs.ListServicesOutput, error) {
	return &ecs.ListServicesOutput{ServiceArns: []string{svcARN}}, nil
}

func (fakeECS) DescribeServices(context.Context, *ecs.DescribeServicesInput, ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error) {
	return &ecs.DescribeServicesOutput{Services: []ecstypes.Service{{
		ServiceArn:    aws.String(svcARN),
		LoadBalancers: []ecstypes.LoadBalancer{{TargetGroupArn: aws.String(tgARN)}},
	}}}, nil
}

func TestECSRoutingBuilder(t *testing.T) {
	elb := &fakeELBV2{targetGroups: []elbv2types.TargetGroup{{
		TargetGroupArn:   aws.String(tgARN),
		TargetType:       elbv2types.TargetTypeEnumIp,
		LoadBalancerArns: []string{lbARN},
	}}}
	mapper := arn.NewMapper()
	tgMapper := NewTargetGroupMapper(elb, testLimiter(), mapper, "123", "us-east-1", zerolog.Nop())
	require.NoError(t, tgMapper.Refresh(context.Background()))

	b := NewECSRoutingBuilder(tgMapper, fakeECS{}, testLimiter(), mapper, "123", "us-east-1", zerolog.Nop())

	require.NoError(t, b.Update(context.Background()))

	edges := b.Relations().List()
	require.Len(t, edges, 1)
	assert.Equal(t, types.ECSService, edges[0].To.Type)
	assert.Equal(t, "checkout", edges[0].To.Name)
	require.NotNil(t, edges[0].To.OwnerOf)
	assert.Equal(t, "prod", edges[0].To.OwnerOf.Name)
}
