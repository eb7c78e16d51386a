package relations

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	"github.com/rs/zerolog"

	"github.com/yairfalse/virta/arn"
	"github.com/yairfalse/virta/ratelimit"
	"github.com/yairfalse/virta/types"
)

// APIGatewayAPI is the slice of the API Gateway client used here.
type APIGatewayAPI interface {
	GetRestApis(ctx context.Context, params *apigateway.GetRestApisInput, optFns ...func(*apigateway.Options)) (*apigateway.GetRestApisOutput, error)
	GetResources(ctx context.Context, params *apigateway.GetResourcesInput, optFns ...func(*apigateway.Options)) (*apigateway.GetResourcesOutput, error)
	GetMethod(ctx context.Context, params *apigateway.GetMethodInput, optFns ...func(*apigateway.Options)) (*apigateway.GetMethodOutput, error)
}

const (
	getRestApisOp  = "APIGateway/GetRestApis"
	getResourcesOp = "APIGateway/GetResources"
	getMethodOp    = "APIGateway/GetMethod"
)

// lambdaIntegrationURI extracts the invoked function ARN from a REST API
// method's lambda proxy integration URI.
var lambdaIntegrationURI = regexp.MustCompile(
	`arn:aws:apigateway:(.+?):lambda:path/.+?/functions/(arn:aws:lambda:.+?:.+?:function:.+?)/invocations`)

// APIGatewayBuilder discovers REST API to lambda forwarding edges by
// walking every method's integration URI.
type APIGatewayBuilder struct {
	client    APIGatewayAPI
	limiter   *ratelimit.Limiter
	mapper    *arn.Mapper
	accountID string
	region    string
	log       zerolog.Logger
	cache     edgeCache
}

// NewAPIGatewayBuilder builds the forwarding builder for one account/region.
func NewAPIGatewayBuilder(client APIGatewayAPI, limiter *ratelimit.Limiter, mapper *arn.Mapper, accountID, region string, log zerolog.Logger) *APIGatewayBuilder {
	return &APIGatewayBuilder{
		client:    client,
		limiter:   limiter,
		mapper:    mapper,
		accountID: accountID,
		region:    region,
		log:       log,
	}
}

// Update implements Builder.
func (b *APIGatewayBuilder) Update(ctx context.Context) error {
	set := types.NewRelationSet()

	apis, err := ratelimit.Execute(ctx, b.limiter, getRestApisOp,
		ratelimit.CallLabels(getRestApisOp, b.accountID, b.region),
		func() (*apigateway.GetRestApisOutput, error) {
			return b.client.GetRestApis(ctx, &apigateway.GetRestApisInput{})
		})
	if err != nil {
		return fmt.Errorf("get rest apis: %w", err)
	}

	for _, api := range apis.Items {
		from := types.Resource{
			Type:    types.APIGateway,
			Account: b.accountID,
			Region:  b.region,
			Name:    aws.ToString(api.Name),
			ID:      aws.ToString(api.Id),
		}
		if err := b.walkResources(ctx, from, aws.ToString(api.Id), set); err != nil {
			return err
		}
	}

	b.cache.store(set)
	return nil
}

func (b *APIGatewayBuilder) walkResources(ctx context.Context, from types.Resource, apiID string, set types.RelationSet) error {
	resources, err := ratelimit.Execute(ctx, b.limiter, getResourcesOp,
		ratelimit.CallLabels(getResourcesOp, b.accountID, b.region),
		func() (*apigateway.GetResourcesOutput, error) {
			return b.client.GetResources(ctx, &apigateway.GetResourcesInput{RestApiId: aws.String(apiID)})
		})
	if err != nil {
		return fmt.Errorf("get resources %s: %w", apiID, err)
	}

	for _, resource := range resources.Items {
		for httpMethod := range resource.ResourceMethods {
			method, err := ratelimit.Execute(ctx, b.limiter, getMethodOp,
				ratelimit.CallLabels(getMethodOp, b.accountID, b.region),
				func() (*apigateway.GetMethodOutput, error) {
					return b.client.GetMethod(ctx, &apigateway.GetMethodInput{
						RestApiId:  aws.String(apiID),
						ResourceId: resource.Id,
						HttpMethod: aws.String(httpMethod),
					})
				})
			if err != nil {
				return fmt.Errorf("get method %s %s: %w", apiID, httpMethod, err)
			}
			if method.MethodIntegration == nil {
				continue
			}
			groups := lambdaIntegrationURI.FindStringSubmatch(aws.ToString(method.MethodIntegration.Uri))
			if groups == nil {
				continue
			}
			if fn, ok := b.mapper.Map(groups[2]); ok {
				set.Add(types.ResourceRelation{From: from, To: fn, Name: ForwardsTo})
			}
		}
	}
	return nil
}

// Relations implements Builder.
func (b *APIGatewayBuilder) Relations() types.RelationSet { return b.cache.load() }
