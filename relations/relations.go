// Package relations discovers routing and attachment edges between AWS
// resources and exports them as aws_resource_relation samples.
package relations

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/yairfalse/virta/exporter"
	"github.com/yairfalse/virta/types"
)

// Relation names.
const (
	RoutesTo   = "ROUTES_TO"
	AttachedTo = "ATTACHED_TO"
	ForwardsTo = "FORWARDS_TO"
)

// RelationMetric is the exported family name for relation edges.
const RelationMetric = "aws_resource_relation"

// Builder discovers one category of relation edges. Update refreshes the
// builder's cached edge set; on failure the previous set stays in place so
// one flaky discovery source never blanks the graph.
type Builder interface {
	Update(ctx context.Context) error
	Relations() types.RelationSet
}

// Aggregator runs all builders and unions their cached edge sets into one
// deduplicated sample snapshot.
type Aggregator struct {
	partition string
	builders  []Builder
	sink      Sink
	log       zerolog.Logger
}

// Sink receives the finished relation snapshot.
type Sink interface {
	Update(partition string, samples []exporter.Sample)
}

// NewAggregator builds an aggregator publishing to the given partition.
func NewAggregator(partition string, sink Sink, log zerolog.Logger, builders ...Builder) *Aggregator {
	return &Aggregator{partition: partition, builders: builders, sink: sink, log: log}
}

// Run refreshes every builder and publishes the merged edge set. Builder
// failures are logged and isolated; their stale edges remain visible.
func (a *Aggregator) Run(ctx context.Context) {
	merged := types.NewRelationSet()
	for _, b := range a.builders {
		if err := b.Update(ctx); err != nil {
			a.log.Error().Err(err).Msg("relation discovery failed, keeping cached edges")
		}
		merged.Merge(b.Relations())
	}

	relations := merged.List()
	samples := make([]exporter.Sample, 0, len(relations))
	for _, rel := range relations {
		labels := map[string]string{"rel_name": rel.Name}
		rel.From.AddLabels(labels, "from")
		rel.To.AddLabels(labels, "to")
		samples = append(samples, exporter.Sample{Name: RelationMetric, Labels: labels, Value: 1})
	}

	a.sink.Update(a.partition, samples)
	a.log.Info().Int("edges", len(relations)).Msg("relation snapshot published")
}
