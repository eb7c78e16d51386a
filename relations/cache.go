package relations

import (
	"sync"

	"github.com/yairfalse/virta/types"
)

// edgeCache holds a builder's latest successful edge set.
type edgeCache struct {
	mu  sync.RWMutex
	set types.RelationSet
}

func (c *edgeCache) store(set types.RelationSet) {
	c.mu.Lock()
	c.set = set
	c.mu.Unlock()
}

func (c *edgeCache) load() types.RelationSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := types.NewRelationSet()
	out.Merge(c.set)
	return out
}
