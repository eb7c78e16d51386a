package arn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/virta/types"
)

func TestMap(t *testing.T) {
	mapper := NewMapper()

	tests := []struct {
		name string
		arn  string
		want types.Resource
	}{
		{
			name: "sqs queue",
			arn:  "arn:aws:sqs:us-west-2:342994379019:lamda-sqs-poc-input-queue",
			want: types.Resource{Type: types.SQSQueue, Region: "us-west-2", Name: "lamda-sqs-poc-input-queue"},
		},
		{
			name: "dynamodb table with stream suffix",
			arn:  "arn:aws:dynamodb:us-west-2:342994379019:table/auction_app_bids/stream/2021-06-01T05:03:12.707",
			want: types.Resource{Type: types.DynamoDBTable, Region: "us-west-2", Name: "auction_app_bids"},
		},
		{
			name: "dynamodb table plain",
			arn:  "arn:aws:dynamodb:us-west-2:342994379019:table/auction_app_bids",
			want: types.Resource{Type: types.DynamoDBTable, Region: "us-west-2", Name: "auction_app_bids"},
		},
		{
			name: "lambda function",
			arn:  "arn:aws:lambda:us-west-2:342994379019:function:lambda-poc-dynamodb-updates",
			want: types.Resource{Type: types.LambdaFunction, Region: "us-west-2", Name: "lambda-poc-dynamodb-updates"},
		},
		{
			name: "lambda function with version",
			arn:  "arn:aws:lambda:us-west-2:342994379019:function:lambda-poc-dynamodb-updates:version1",
			want: types.Resource{Type: types.LambdaFunction, Region: "us-west-2", Name: "lambda-poc-dynamodb-updates"},
		},
		{
			name: "s3 bucket without region",
			arn:  "arn:aws:s3:::dev-custom-rules",
			want: types.Resource{Type: types.S3Bucket, Region: "", Name: "dev-custom-rules"},
		},
		{
			name: "s3 bucket with region",
			arn:  "arn:aws:s3:us-west-2:342994379019:dev-custom-rules",
			want: types.Resource{Type: types.S3Bucket, Region: "us-west-2", Name: "dev-custom-rules"},
		},
		{
			name: "sns topic",
			arn:  "arn:aws:sns:us-west-2:342994379019:topic-name",
			want: types.Resource{Type: types.SNSTopic, Region: "us-west-2", Name: "topic-name"},
		},
		{
			name: "event bus",
			arn:  "arn:aws:events:us-west-2:342994379019:event-bus/event-bus-name",
			want: types.Resource{Type: types.EventBus, Region: "us-west-2", Name: "event-bus-name"},
		},
		{
			name: "ecs cluster",
			arn:  "arn:aws:ecs:us-west-2:342994379019:cluster/cluster1",
			want: types.Resource{Type: types.ECSCluster, Region: "us-west-2", Name: "cluster1"},
		},
		{
			name: "ecs service owned by cluster",
			arn:  "arn:aws:ecs:us-west-2:342994379019:service/ecs-cluster/service1",
			want: types.Resource{
				Type: types.ECSService, Region: "us-west-2", Name: "service1",
				OwnerOf: &types.Resource{Type: types.ECSCluster, Region: "us-west-2", Name: "ecs-cluster"},
			},
		},
		{
			name: "ecs task definition with revision",
			arn:  "arn:aws:ecs:us-west-2:342994379019:task-definition/item-service-v2:5",
			want: types.Resource{Type: types.ECSTaskDef, Region: "us-west-2", Name: "item-service-v2", Version: "5"},
		},
		{
			name: "ecs task",
			arn:  "arn:aws:ecs:us-west-2:342994379019:task/ecs-sample-app/34c11488dc56429fb67e2996b5ceaa74",
			want: types.Resource{Type: types.ECSTask, Region: "us-west-2", Name: "34c11488dc56429fb67e2996b5ceaa74"},
		},
		{
			name: "application load balancer",
			arn:  "arn:aws:elasticloadbalancing:us-east-1:123456789:loadbalancer/app/web-alb/xyz789",
			want: types.Resource{
				Type: types.LoadBalancer, Region: "us-east-1", Account: "123456789",
				Name: "web-alb", ID: "xyz789", SubType: "app",
			},
		},
		{
			name: "target group",
			arn:  "arn:aws:elasticloadbalancing:us-east-1:123456789:targetgroup/web-tg/abc123",
			want: types.Resource{
				Type: types.TargetGroup, Region: "us-east-1", Account: "123456789",
				Name: "web-tg", ID: "abc123",
			},
		},
		{
			name: "ebs volume",
			arn:  "arn:aws:ec2:us-east-1:123456789:volume/vol-0abc",
			want: types.Resource{Type: types.EBSVolume, Region: "us-east-1", Name: "vol-0abc"},
		},
		{
			name: "network interface",
			arn:  "arn:aws:ec2:us-east-1:123456789:network-interface/eni-0abc",
			want: types.Resource{Type: types.NetworkInterface, Region: "us-east-1", Name: "eni-0abc"},
		},
		{
			name: "auto scaling group",
			arn:  "arn:aws:autoscaling:us-east-1:123456789:autoScalingGroup:uuid-1:autoScalingGroupName/web-asg",
			want: types.Resource{
				Type: types.AutoScalingGroup, Region: "us-east-1", Account: "123456789", Name: "web-asg",
			},
		},
		{
			name: "kinesis analytics application",
			arn:  "arn:aws:kinesisanalytics:us-east-1:123456789:application/click-stream",
			want: types.Resource{Type: types.KinesisAnalytics, Region: "us-east-1", Name: "click-stream"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := mapper.Map(tt.arn)
			require.True(t, ok)
			tt.want.ARN = tt.arn
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMapIsDeterministic(t *testing.T) {
	mapper := NewMapper()
	arn := "arn:aws:ecs:us-west-2:342994379019:service/ecs-cluster/service1"
	first, ok1 := mapper.Map(arn)
	second, ok2 := mapper.Map(arn)
	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.Equal(t, first, second)
	assert.True(t, first.Equal(second))
}

func TestMapUnknownIdentifier(t *testing.T) {
	mapper := NewMapper()

	t.Run("non-arn input", func(t *testing.T) {
		_, ok := mapper.Map("i-0123456789abcdef0")
		assert.False(t, ok)
	})

	t.Run("unsupported service", func(t *testing.T) {
		_, ok := mapper.Map("arn:aws:kms:us-east-1:123456789:key/abc")
		assert.False(t, ok)
	})
}
