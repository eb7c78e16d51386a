// Package awsclient constructs the per-region AWS SDK clients the scrape
// and discovery tasks depend on.
package awsclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/configservice"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/kinesisanalyticsv2"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rs/zerolog"

	"github.com/yairfalse/virta/alarms"
	"github.com/yairfalse/virta/discovery"
	"github.com/yairfalse/virta/relations"
	"github.com/yairfalse/virta/scrape"
)

// Provider builds SDK clients from the ambient credential chain, one
// resolved aws.Config per region. The account id parameters exist so the
// call sites read the same in every consumer; cross-account role
// assumption is not performed here.
type Provider struct {
	log zerolog.Logger

	mu      sync.Mutex
	configs map[string]aws.Config
}

// NewProvider builds an empty provider.
func NewProvider(log zerolog.Logger) *Provider {
	return &Provider{log: log, configs: make(map[string]aws.Config)}
}

func (p *Provider) configFor(ctx context.Context, region string) (aws.Config, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cfg, ok := p.configs[region]; ok {
		return cfg, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading aws config for %s: %w", region, err)
	}
	p.configs[region] = cfg
	p.log.Debug().Str("region", region).Msg("aws config resolved")
	return cfg, nil
}

// CloudWatch implements scrape.ClientProvider.
func (p *Provider) CloudWatch(ctx context.Context, _, region string) (scrape.CloudWatchAPI, error) {
	cfg, err := p.configFor(ctx, region)
	if err != nil {
		return nil, err
	}
	return cloudwatch.NewFromConfig(cfg), nil
}

// CloudWatchAlarms implements alarms.ClientProvider.
func (p *Provider) CloudWatchAlarms(ctx context.Context, _, region string) (alarms.CloudWatchAPI, error) {
	cfg, err := p.configFor(ctx, region)
	if err != nil {
		return nil, err
	}
	return cloudwatch.NewFromConfig(cfg), nil
}

// ELBV2 returns the load balancing client for a region.
func (p *Provider) ELBV2(ctx context.Context, region string) (relations.ELBV2API, error) {
	cfg, err := p.configFor(ctx, region)
	if err != nil {
		return nil, err
	}
	return elbv2.NewFromConfig(cfg), nil
}

// AutoScaling returns the autoscaling client for a region.
func (p *Provider) AutoScaling(ctx context.Context, region string) (relations.AutoScalingAPI, error) {
	cfg, err := p.configFor(ctx, region)
	if err != nil {
		return nil, err
	}
	return autoscaling.NewFromConfig(cfg), nil
}

// EC2 returns the EC2 client for a region.
func (p *Provider) EC2(ctx context.Context, region string) (relations.EC2API, error) {
	cfg, err := p.configFor(ctx, region)
	if err != nil {
		return nil, err
	}
	return ec2.NewFromConfig(cfg), nil
}

// ECS returns the ECS client for a region.
func (p *Provider) ECS(ctx context.Context, region string) (relations.ECSAPI, error) {
	cfg, err := p.configFor(ctx, region)
	if err != nil {
		return nil, err
	}
	return ecs.NewFromConfig(cfg), nil
}

// APIGateway returns the API Gateway client for a region.
func (p *Provider) APIGateway(ctx context.Context, region string) (relations.APIGatewayAPI, error) {
	cfg, err := p.configFor(ctx, region)
	if err != nil {
		return nil, err
	}
	return apigateway.NewFromConfig(cfg), nil
}

// Lambda implements discovery.ClientProvider.
func (p *Provider) Lambda(ctx context.Context, _, region string) (discovery.LambdaAPI, error) {
	cfg, err := p.configFor(ctx, region)
	if err != nil {
		return nil, err
	}
	return lambda.NewFromConfig(cfg), nil
}

// SNS implements discovery.ClientProvider.
func (p *Provider) SNS(ctx context.Context, _, region string) (discovery.SNSAPI, error) {
	cfg, err := p.configFor(ctx, region)
	if err != nil {
		return nil, err
	}
	return sns.NewFromConfig(cfg), nil
}

// KinesisAnalytics implements discovery.ClientProvider.
func (p *Provider) KinesisAnalytics(ctx context.Context, _, region string) (discovery.KinesisAnalyticsAPI, error) {
	cfg, err := p.configFor(ctx, region)
	if err != nil {
		return nil, err
	}
	return kinesisanalyticsv2.NewFromConfig(cfg), nil
}

// ConfigService implements discovery.ClientProvider.
func (p *Provider) ConfigService(ctx context.Context, _, region string) (discovery.ConfigServiceAPI, error) {
	cfg, err := p.configFor(ctx, region)
	if err != nil {
		return nil, err
	}
	return configservice.NewFromConfig(cfg), nil
}
