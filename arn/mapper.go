// Package arn maps AWS resource identifiers to typed resources.
package arn

import (
	"regexp"
	"strings"

	"github.com/yairfalse/virta/types"
)

// pattern pairs a compiled ARN grammar with the rule that extracts a
// resource from its capture groups. Groups 1-3 are always region, account
// and the service-specific specifier.
type pattern struct {
	re    *regexp.Regexp
	build func(arn string, groups []string) types.Resource
}

// Mapper parses ARN strings into typed resources. Patterns are tried in
// declaration order and the first match wins. Mapping is pure; a Mapper is
// safe for concurrent use.
type Mapper struct {
	patterns []pattern
}

// NewMapper builds a mapper with the supported ARN grammars.
func NewMapper() *Mapper {
	return &Mapper{patterns: []pattern{
		simple(`^arn:aws:sqs:(.*?):(.*?):(.+)$`, types.SQSQueue),
		{
			// Table ARNs may carry a timestamped stream suffix; only the
			// table segment is the name.
			re: regexp.MustCompile(`^arn:aws:dynamodb:(.*?):(.*?):table/(.+?)(/stream/.+)?$`),
			build: func(arn string, g []string) types.Resource {
				return types.Resource{Type: types.DynamoDBTable, ARN: arn, Region: g[1], Name: g[3]}
			},
		},
		{
			re: regexp.MustCompile(`^arn:aws:lambda:(.*?):(.*?):function:([^:]+)(:.+)?$`),
			build: func(arn string, g []string) types.Resource {
				return types.Resource{Type: types.LambdaFunction, ARN: arn, Region: g[1], Name: g[3]}
			},
		},
		simple(`^arn:aws:s3:(.*?):(.*?):(.+)$`, types.S3Bucket),
		simple(`^arn:aws:sns:(.*?):(.*?):([^:/]+)$`, types.SNSTopic),
		simple(`^arn:aws:events:(.*?):(.*?):event-bus/(.+)$`, types.EventBus),
		simple(`^arn:aws:ecs:(.*?):(.*?):cluster/([^/]+)$`, types.ECSCluster),
		{
			re: regexp.MustCompile(`^arn:aws:ecs:(.*?):(.*?):service/([^/]+)/([^/]+)$`),
			build: func(arn string, g []string) types.Resource {
				return types.Resource{
					Type: types.ECSService, ARN: arn, Region: g[1], Name: g[4],
					OwnerOf: &types.Resource{Type: types.ECSCluster, Region: g[1], Name: g[3]},
				}
			},
		},
		{
			re: regexp.MustCompile(`^arn:aws:ecs:(.*?):(.*?):task-definition/([^:]+):(\d+)$`),
			build: func(arn string, g []string) types.Resource {
				return types.Resource{Type: types.ECSTaskDef, ARN: arn, Region: g[1], Name: g[3], Version: g[4]}
			},
		},
		{
			re: regexp.MustCompile(`^arn:aws:ecs:(.*?):(.*?):task/([^/]+)/([^/]+)$`),
			build: func(arn string, g []string) types.Resource {
				return types.Resource{Type: types.ECSTask, ARN: arn, Region: g[1], Name: g[4]}
			},
		},
		{
			re: regexp.MustCompile(`^arn:aws:elasticloadbalancing:(.*?):(.*?):loadbalancer/(app|net)/([^/]+)/([^/]+)$`),
			build: func(arn string, g []string) types.Resource {
				return types.Resource{
					Type: types.LoadBalancer, ARN: arn, Region: g[1], Account: g[2],
					Name: g[4], ID: g[5], SubType: g[3],
				}
			},
		},
		{
			re: regexp.MustCompile(`^arn:aws:elasticloadbalancing:(.*?):(.*?):targetgroup/([^/]+)/([^/]+)$`),
			build: func(arn string, g []string) types.Resource {
				return types.Resource{Type: types.TargetGroup, ARN: arn, Region: g[1], Account: g[2], Name: g[3], ID: g[4]}
			},
		},
		simple(`^arn:aws:ec2:(.*?):(.*?):instance/(.+)$`, types.EC2Instance),
		simple(`^arn:aws:ec2:(.*?):(.*?):volume/(.+)$`, types.EBSVolume),
		simple(`^arn:aws:ec2:(.*?):(.*?):network-interface/(.+)$`, types.NetworkInterface),
		{
			re: regexp.MustCompile(`^arn:aws:autoscaling:(.*?):(.*?):autoScalingGroup:[^:]*:autoScalingGroupName/(.+)$`),
			build: func(arn string, g []string) types.Resource {
				return types.Resource{Type: types.AutoScalingGroup, ARN: arn, Region: g[1], Account: g[2], Name: g[3]}
			},
		},
		simple(`^arn:aws:kinesisanalytics:(.*?):(.*?):application/(.+)$`, types.KinesisAnalytics),
		simple(`^arn:aws:apigateway:(.*?):(.*?):/restapis/(.+)$`, types.APIGateway),
	}}
}

// simple builds a pattern whose capture groups are region, account, name.
func simple(expr string, rt types.ResourceType) pattern {
	return pattern{
		re: regexp.MustCompile(expr),
		build: func(arn string, g []string) types.Resource {
			return types.Resource{Type: rt, ARN: arn, Region: g[1], Name: g[3]}
		},
	}
}

// Map parses identifier into a resource. The second return value is false
// when no grammar matches; callers fall back to the raw identifier.
func (m *Mapper) Map(identifier string) (types.Resource, bool) {
	if !strings.HasPrefix(identifier, "arn:") {
		return types.Resource{}, false
	}
	for _, p := range m.patterns {
		if g := p.re.FindStringSubmatch(identifier); g != nil {
			return p.build(identifier, g), true
		}
	}
	return types.Resource{}, false
}
