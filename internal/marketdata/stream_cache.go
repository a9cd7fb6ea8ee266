package marketdata

import (
	"sync"
	"time"

	"github.com/skudskud/polycool-copy-sub003/internal/model"
)

// StreamCache holds the latest live-stream snapshot per market. The
// subscription manager's websocket handler writes into it; the
// aggregator reads it as the highest-priority source.
type StreamCache struct {
	mu        sync.RWMutex
	snapshots map[string]model.PriceSnapshot
}

func NewStreamCache() *StreamCache {
	return &StreamCache{snapshots: make(map[string]model.PriceSnapshot)}
}

// Put stores a snapshot, stamping source and update time if unset.
func (c *StreamCache) Put(snapshot model.PriceSnapshot) {
	snapshot.Source = model.SourceStream
	if snapshot.UpdatedAt.IsZero() {
		snapshot.UpdatedAt = time.Now().UTC()
	}
	c.mu.Lock()
	c.snapshots[snapshot.MarketID] = snapshot
	c.mu.Unlock()
}

// Get returns the latest stream snapshot for the market, if any.
func (c *StreamCache) Get(marketID string) (model.PriceSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot, ok := c.snapshots[marketID]
	return snapshot, ok
}

// Len returns the number of markets with a stream snapshot.
func (c *StreamCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.snapshots)
}
