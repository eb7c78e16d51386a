package types

import "sort"

// ResourceType identifies the kind of AWS resource an identifier names.
type ResourceType string

const (
	SQSQueue         ResourceType = "SQSQueue"
	DynamoDBTable    ResourceType = "DynamoDBTable"
	LambdaFunction   ResourceType = "LambdaFunction"
	S3Bucket         ResourceType = "S3Bucket"
	SNSTopic         ResourceType = "SNSTopic"
	EventBus         ResourceType = "EventBus"
	ECSCluster       ResourceType = "ECSCluster"
	ECSService       ResourceType = "ECSService"
	ECSTaskDef       ResourceType = "ECSTaskDef"
	ECSTask          ResourceType = "ECSTask"
	LoadBalancer     ResourceType = "LoadBalancer"
	TargetGroup      ResourceType = "TargetGroup"
	EC2Instance      ResourceType = "EC2Instance"
	EBSVolume        ResourceType = "EBSVolume"
	NetworkInterface ResourceType = "NetworkInterface"
	AutoScalingGroup ResourceType = "AutoScalingGroup"
	KinesisAnalytics ResourceType = "KinesisAnalytics"
	APIGateway       ResourceType = "APIGateway"
)

// Resource is a typed view of a cloud resource identity. Values are
// constructed on demand by the ARN mapper or relation builders and never
// mutated afterwards.
type Resource struct {
	Type    ResourceType `json:"type"`
	ARN     string       `json:"arn,omitempty"`
	Account string       `json:"account,omitempty"`
	Region  string       `json:"region"`
	Name    string       `json:"name"`
	ID      string       `json:"id,omitempty"`
	SubType string       `json:"sub_type,omitempty"`
	Version string       `json:"version,omitempty"`
	// OwnerOf points at the synthetically built parent for identifiers
	// that encode a parent/child pair, e.g. an ECS service names its
	// cluster. Nil for standalone resources.
	OwnerOf *Resource `json:"owner_of,omitempty"`
}

// Key returns a stable identity string usable for set membership. Two
// resources with the same fields produce the same key.
func (r Resource) Key() string {
	k := string(r.Type) + "|" + r.Account + "|" + r.Region + "|" + r.Name +
		"|" + r.ID + "|" + r.SubType + "|" + r.Version
	if r.OwnerOf != nil {
		k += "|" + r.OwnerOf.Key()
	}
	return k
}

// Equal reports structural equality including the owner chain.
func (r Resource) Equal(o Resource) bool {
	return r.Key() == o.Key() && r.ARN == o.ARN
}

// AddLabels writes the resource identity into labels, prefixing every key
// with prefix when non-empty.
func (r Resource) AddLabels(labels map[string]string, prefix string) {
	if prefix != "" {
		prefix += "_"
	}
	labels[prefix+"account_id"] = r.Account
	labels[prefix+"region"] = r.Region
	labels[prefix+"type"] = string(r.Type)
	labels[prefix+"name"] = r.Name
	if r.ID != "" {
		labels[prefix+"id"] = r.ID
	}
}

// ResourceRelation is a directed, named edge between two resources.
type ResourceRelation struct {
	From Resource `json:"from"`
	To   Resource `json:"to"`
	Name string   `json:"name"`
}

// Key returns a stable identity string for edge deduplication.
func (rel ResourceRelation) Key() string {
	return rel.From.Key() + "->" + rel.To.Key() + ":" + rel.Name
}

// RelationSet is a deduplicating set of relations.
type RelationSet map[string]ResourceRelation

// NewRelationSet builds a set from the given relations.
func NewRelationSet(relations ...ResourceRelation) RelationSet {
	s := make(RelationSet, len(relations))
	s.Add(relations...)
	return s
}

// Add inserts relations, collapsing duplicates.
func (s RelationSet) Add(relations ...ResourceRelation) {
	for _, rel := range relations {
		s[rel.Key()] = rel
	}
}

// Merge unions another set into this one.
func (s RelationSet) Merge(other RelationSet) {
	for k, rel := range other {
		s[k] = rel
	}
}

// List returns the relations in deterministic key order.
func (s RelationSet) List() []ResourceRelation {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]ResourceRelation, 0, len(keys))
	for _, k := range keys {
		out = append(out, s[k])
	}
	return out
}
