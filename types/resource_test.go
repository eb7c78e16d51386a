package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResourceKey(t *testing.T) {
	t.Run("identical fields produce identical keys", func(t *testing.T) {
		a := Resource{Type: SQSQueue, Region: "us-west-2", Account: "123", Name: "q1"}
		b := Resource{Type: SQSQueue, Region: "us-west-2", Account: "123", Name: "q1"}
		assert.Equal(t, a.Key(), b.Key())
		assert.True(t, a.Equal(b))
	})

	t.Run("owner chain is part of identity", func(t *testing.T) {
		svc := Resource{
			Type: ECSService, Region: "us-west-2", Name: "service1",
			OwnerOf: &Resource{Type: ECSCluster, Region: "us-west-2", Name: "cluster1"},
		}
		other := Resource{
			Type: ECSService, Region: "us-west-2", Name: "service1",
			OwnerOf: &Resource{Type: ECSCluster, Region: "us-west-2", Name: "cluster2"},
		}
		assert.NotEqual(t, svc.Key(), other.Key())
	})
}

func TestAddLabels(t *testing.T) {
	r := Resource{Type: LoadBalancer, Account: "123", Region: "us-east-1", Name: "web-alb", ID: "abc"}

	t.Run("without prefix", func(t *testing.T) {
		labels := map[string]string{}
		r.AddLabels(labels, "")
		assert.Equal(t, "web-alb", labels["name"])
		assert.Equal(t, "LoadBalancer", labels["type"])
		assert.Equal(t, "abc", labels["id"])
	})

	t.Run("with prefix", func(t *testing.T) {
		labels := map[string]string{}
		r.AddLabels(labels, "from")
		assert.Equal(t, "web-alb", labels["from_name"])
		assert.Equal(t, "us-east-1", labels["from_region"])
		assert.Equal(t, "123", labels["from_account_id"])
	})
}

func TestRelationSet(t *testing.T) {
	lb := Resource{Type: LoadBalancer, Region: "us-east-1", Name: "alb"}
	fn := Resource{Type: LambdaFunction, Region: "us-east-1", Name: "handler"}
	rel := ResourceRelation{From: lb, To: fn, Name: "ROUTES_TO"}

	t.Run("duplicate edges collapse", func(t *testing.T) {
		s := NewRelationSet(rel)
		s.Add(ResourceRelation{From: lb, To: fn, Name: "ROUTES_TO"})
		assert.Len(t, s, 1)
	})

	t.Run("merge unions two sets", func(t *testing.T) {
		other := NewRelationSet(rel, ResourceRelation{From: fn, To: lb, Name: "CALLED_BY"})
		s := NewRelationSet(rel)
		s.Merge(other)
		assert.Len(t, s, 2)
	})

	t.Run("list is deterministic", func(t *testing.T) {
		s := NewRelationSet(rel, ResourceRelation{From: fn, To: lb, Name: "CALLED_BY"})
		assert.Equal(t, s.List(), s.List())
	})
}
