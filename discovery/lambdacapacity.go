package discovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/yairfalse/virta/exporter"
	"github.com/yairfalse/virta/ratelimit"
	"github.com/yairfalse/virta/telemetry"
)

// Lambda capacity gauge family names.
const (
	AccountLimitMetric         = "aws_lambda_account_limit"
	TimeoutMetric              = "aws_lambda_timeout_seconds"
	AvailableConcurrencyMetric = "aws_lambda_available_concurrency"
	RequestedConcurrencyMetric = "aws_lambda_requested_concurrency"
	AllocatedConcurrencyMetric = "aws_lambda_allocated_concurrency"
)

const (
	getAccountSettingsOp = "Lambda/GetAccountSettings"
	listFunctionsOp      = "Lambda/ListFunctions"
	listProvisionedOp    = "Lambda/ListProvisionedConcurrencyConfigs"
)

// lambdaCapacity exports the account-level concurrency limits plus one
// timeout gauge per function and available/requested/allocated gauges per
// provisioned concurrency config.
func (v *Inventory) lambdaCapacity(ctx context.Context, accountID string) ([]exporter.Sample, error) {
	client, err := v.clients.Lambda(ctx, accountID, v.region)
	if err != nil {
		return nil, err
	}

	samples, err := v.accountLimits(ctx, client, accountID)
	if err != nil {
		return nil, err
	}

	functions, err := v.listFunctions(ctx, client, accountID)
	if err != nil {
		return nil, err
	}
	for _, fn := range functions {
		name := aws.ToString(fn.FunctionName)
		samples = append(samples, exporter.Sample{
			Name:   TimeoutMetric,
			Labels: v.functionLabels(accountID, name),
			Value:  float64(aws.ToInt32(fn.Timeout)),
		})

		configs, err := v.provisionedConcurrency(ctx, client, accountID, name)
		if err != nil {
			return nil, err
		}
		for _, pc := range configs {
			labels := v.functionLabels(accountID, name)
			// Capacity is always provisioned at alias or version level.
			if qualifierLabel, qualifier := provisionedQualifier(aws.ToString(pc.FunctionArn)); qualifier != "" {
				labels[qualifierLabel] = qualifier
			}
			samples = append(samples,
				exporter.Sample{Name: AvailableConcurrencyMetric, Labels: labels, Value: float64(aws.ToInt32(pc.AvailableProvisionedConcurrentExecutions))},
				exporter.Sample{Name: RequestedConcurrencyMetric, Labels: labels, Value: float64(aws.ToInt32(pc.RequestedProvisionedConcurrentExecutions))},
				exporter.Sample{Name: AllocatedConcurrencyMetric, Labels: labels, Value: float64(aws.ToInt32(pc.AllocatedProvisionedConcurrentExecutions))},
			)
		}
	}
	return samples, nil
}

func (v *Inventory) accountLimits(ctx context.Context, client LambdaAPI, accountID string) ([]exporter.Sample, error) {
	labels := ratelimit.CallLabels(getAccountSettingsOp, accountID, v.region)
	out, err := ratelimit.Execute(ctx, v.limiter, getAccountSettingsOp, labels,
		func() (*lambda.GetAccountSettingsOutput, error) {
			return client.GetAccountSettings(ctx, &lambda.GetAccountSettingsInput{})
		})
	if err != nil {
		return nil, fmt.Errorf("get account settings: %w", err)
	}
	if out.AccountLimit == nil {
		return nil, nil
	}
	return []exporter.Sample{
		v.limitSample(accountID, "concurrent_executions", float64(out.AccountLimit.ConcurrentExecutions)),
		v.limitSample(accountID, "unreserved_concurrent_executions", float64(aws.ToInt32(out.AccountLimit.UnreservedConcurrentExecutions))),
	}, nil
}

func (v *Inventory) limitSample(accountID, limitType string, value float64) exporter.Sample {
	return exporter.Sample{
		Name: AccountLimitMetric,
		Labels: map[string]string{
			telemetry.AccountLabel: accountID,
			telemetry.RegionLabel:  v.region,
			"type":                 limitType,
		},
		Value: value,
	}
}

func (v *Inventory) listFunctions(ctx context.Context, client LambdaAPI, accountID string) ([]lambdatypes.FunctionConfiguration, error) {
	labels := ratelimit.CallLabels(listFunctionsOp, accountID, v.region)
	var functions []lambdatypes.FunctionConfiguration
	input := &lambda.ListFunctionsInput{}
	for {
		out, err := ratelimit.Execute(ctx, v.limiter, listFunctionsOp, labels,
			func() (*lambda.ListFunctionsOutput, error) {
				return client.ListFunctions(ctx, input)
			})
		if err != nil {
			return nil, fmt.Errorf("list functions: %w", err)
		}
		functions = append(functions, out.Functions...)
		if out.NextMarker == nil {
			return functions, nil
		}
		input.Marker = out.NextMarker
	}
}

func (v *Inventory) provisionedConcurrency(ctx context.Context, client LambdaAPI, accountID, functionName string) ([]lambdatypes.ProvisionedConcurrencyConfigListItem, error) {
	labels := ratelimit.CallLabels(listProvisionedOp, accountID, v.region)
	var configs []lambdatypes.ProvisionedConcurrencyConfigListItem
	input := &lambda.ListProvisionedConcurrencyConfigsInput{FunctionName: aws.String(functionName)}
	for {
		out, err := ratelimit.Execute(ctx, v.limiter, listProvisionedOp, labels,
			func() (*lambda.ListProvisionedConcurrencyConfigsOutput, error) {
				return client.ListProvisionedConcurrencyConfigs(ctx, input)
			})
		if err != nil {
			return nil, fmt.Errorf("list provisioned concurrency for %s: %w", functionName, err)
		}
		configs = append(configs, out.ProvisionedConcurrencyConfigs...)
		if out.NextMarker == nil {
			return configs, nil
		}
		input.Marker = out.NextMarker
	}
}

func (v *Inventory) functionLabels(accountID, functionName string) map[string]string {
	return map[string]string{
		telemetry.AccountLabel: accountID,
		telemetry.RegionLabel:  v.region,
		"d_function_name":      functionName,
		"job":                  functionName,
	}
}

// provisionedQualifier reads the alias or version qualifier off a
// provisioned concurrency config's function ARN. Numeric qualifiers are
// versions, everything else is an alias.
func provisionedQualifier(functionArn string) (string, string) {
	idx := strings.LastIndex(functionArn, ":")
	if idx < 0 || idx == len(functionArn)-1 {
		return "", ""
	}
	qualifier := functionArn[idx+1:]
	if qualifier[0] >= '0' && qualifier[0] <= '9' {
		return "d_executed_version", qualifier
	}
	return "d_resource", qualifier
}
