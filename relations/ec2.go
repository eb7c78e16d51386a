package relations

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/rs/zerolog"

	"github.com/yairfalse/virta/ratelimit"
	"github.com/yairfalse/virta/types"
)

// EC2API is the slice of the EC2 client used here.
type EC2API interface {
	DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	DescribeNetworkInterfaces(ctx context.Context, params *ec2.DescribeNetworkInterfacesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeNetworkInterfacesOutput, error)
}

const (
	describeVolumesOp = "EC2/DescribeVolumes"
	describeENIsOp    = "EC2/DescribeNetworkInterfaces"
)

// VolumeBuilder discovers EBS volume to EC2 instance attachment edges.
type VolumeBuilder struct {
	client    EC2API
	limiter   *ratelimit.Limiter
	accountID string
	region    string
	log       zerolog.Logger
	cache     edgeCache
}

// NewVolumeBuilder builds the attachment builder for one account/region.
func NewVolumeBuilder(client EC2API, limiter *ratelimit.Limiter, accountID, region string, log zerolog.Logger) *VolumeBuilder {
	return &VolumeBuilder{client: client, limiter: limiter, accountID: accountID, region: region, log: log}
}

func (b *VolumeBuilder) instance(id string) types.Resource {
	return types.Resource{
		Type:    types.EC2Instance,
		Account: b.accountID,
		Region:  b.region,
		Name:    id,
	}
}

// Update implements Builder.
func (b *VolumeBuilder) Update(ctx context.Context) error {
	labels := ratelimit.CallLabels(describeVolumesOp, b.accountID, b.region)
	set := types.NewRelationSet()

	input := &ec2.DescribeVolumesInput{}
	for {
		out, err := ratelimit.Execute(ctx, b.limiter, describeVolumesOp, labels,
			func() (*ec2.DescribeVolumesOutput, error) {
				return b.client.DescribeVolumes(ctx, input)
			})
		if err != nil {
			return fmt.Errorf("describe volumes: %w", err)
		}
		for _, volume := range out.Volumes {
			from := types.Resource{
				Type:    types.EBSVolume,
				Account: b.accountID,
				Region:  b.region,
				Name:    aws.ToString(volume.VolumeId),
			}
			for _, attachment := range volume.Attachments {
				instanceID := aws.ToString(attachment.InstanceId)
				if instanceID == "" {
					continue
				}
				set.Add(types.ResourceRelation{From: from, To: b.instance(instanceID), Name: AttachedTo})
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
func (b *VolumeBuilder) Relations() types.RelationSet { return b.cache.load() }

// ENIBuilder discovers network interface to EC2 instance attachment edges.
type ENIBuilder struct {
	client    EC2API
	limiter   *ratelimit.Limiter
	accountID string
	region    string
	log       zerolog.Logger
	cache     edgeCache
}

// NewENIBuilder builds the attachment builder for one account/region.
func NewENIBuilder(client EC2API, limiter *ratelimit.Limiter, accountID, region string, log zerolog.Logger) *ENIBuilder {
	return &ENIBuilder{client: client, limiter: limiter, accountID: accountID, region: region, log: log}
}

// Update implements Builder.
func (b *ENIBuilder) Update(ctx context.Context) error {
	labels := ratelimit.CallLabels(describeENIsOp, b.accountID, b.region)
	set := types.NewRelationSet()

	input := &ec2.DescribeNetworkInterfacesInput{}
	for {
		out, err := ratelimit.Execute(ctx, b.limiter, describeENIsOp, labels,
			func() (*ec2.DescribeNetworkInterfacesOutput, error) {
				return b.client.DescribeNetworkInterfaces(ctx, input)
			})
		if err != nil {
			return fmt.Errorf("describe network interfaces: %w", err)
		}
		for _, eni := range out.NetworkInterfaces {
			if eni.Attachment == nil {
				continue
			}
			instanceID := aws.ToString(eni.Attachment.InstanceId)
			if instanceID == "" {
				continue
			}
			from := types.Resource{
				Type:    types.NetworkInterface,
				Account: b.accountID,
				Region:  b.region,
				Name:    aws.ToString(eni.NetworkInterfaceId),
			}
			to := types.Resource{
				Type:    types.EC2Instance,
				Account: b.accountID,
				Region:  b.region,
				Name:    instanceID,
			}
			set.Add(types.ResourceRelation{From: from, To: to, Name: AttachedTo})
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
func (b *ENIBuilder) Relations() types.RelationSet { return b.cache.load() }
