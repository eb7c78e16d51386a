// Package exporter turns scraped CloudWatch data into Prometheus samples
// and serves them from an atomically swapped snapshot.
package exporter

import (
	"fmt"
	"strings"
	"time"
)

// Sample is one exported time series value.
type Sample struct {
	Name      string
	Labels    map[string]string
	Value     float64
	Timestamp time.Time
}

// statSuffix maps CloudWatch stat names to metric name suffixes.
var statSuffix = map[string]string{
	"Sum":         "sum",
	"Average":     "avg",
	"Maximum":     "max",
	"Minimum":     "min",
	"SampleCount": "count",
}

// MetricName builds the exported metric name for a namespace, metric and
// stat. "AWS/Lambda" + "Invocations" + "Sum" becomes
// "aws_lambda_invocations_sum".
func MetricName(namespace, metric, stat string) string {
	suffix, ok := statSuffix[stat]
	if !ok {
		// Percentile stats like p99 pass through lowercased.
		suffix = strings.ToLower(stat)
	}
	return fmt.Sprintf("%s_%s_%s", NamespacePrefix(namespace), ToSnakeCase(metric), suffix)
}

// NamespacePrefix converts a CloudWatch namespace to a metric name prefix.
// "AWS/ApplicationELB" becomes "aws_applicationelb".
func NamespacePrefix(namespace string) string {
	prefix := strings.ToLower(namespace)
	prefix = strings.ReplaceAll(prefix, "/", "_")
	prefix = strings.ReplaceAll(prefix, " ", "_")
	if !strings.HasPrefix(prefix, "aws") {
		prefix = "aws_" + prefix
	}
	return prefix
}

// DimensionLabel converts a CloudWatch dimension name to its label name.
// "FunctionName" becomes "d_function_name".
func DimensionLabel(dimension string) string {
	return "d_" + ToSnakeCase(dimension)
}

// ToSnakeCase converts CamelCase identifiers to snake_case. Runs of
// capitals collapse into one word, so "DBInstanceIdentifier" becomes
// "db_instance_identifier".
func ToSnakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		lower := r
		if r >= 'A' && r <= 'Z' {
			lower = r + ('a' - 'A')
			if i > 0 {
				prevUpper := runes[i-1] >= 'A' && runes[i-1] <= 'Z'
				nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
				if !prevUpper || nextLower {
					b.WriteByte('_')
				}
			}
		}
		switch {
		case lower == '-' || lower == '.' || lower == ' ' || lower == '/':
			b.WriteByte('_')
		default:
			b.WriteRune(lower)
		}
	}
	return strings.Trim(b.String(), "_")
}
