package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skudskud/polycool-copy-sub003/internal/model"
)

// ErrCacheMiss reports an absent poll snapshot; the aggregator falls
// through to the next source.
var ErrCacheMiss = errors.New("poll cache miss")

// PollCache stores periodic-poll snapshots in Redis with their own
// TTL. A miss or a Redis error must not block the next source, so
// callers treat every failure as a miss.
type PollCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewPollCache(rdb *redis.Client, ttl time.Duration) *PollCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PollCache{rdb: rdb, ttl: ttl}
}

// Get returns the cached poll snapshot for the market.
func (c *PollCache) Get(ctx context.Context, marketID string) (model.PriceSnapshot, error) {
	data, err := c.rdb.Get(ctx, pollKey(marketID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.PriceSnapshot{}, ErrCacheMiss
		}
		return model.PriceSnapshot{}, fmt.Errorf("poll cache get: %w", err)
	}

	var snapshot model.PriceSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return model.PriceSnapshot{}, fmt.Errorf("poll cache decode: %w", err)
	}
	snapshot.Source = model.SourcePoll
	return snapshot, nil
}

// Put stores a snapshot under the cache TTL.
func (c *PollCache) Put(ctx context.Context, snapshot model.PriceSnapshot) error {
	snapshot.Source = model.SourcePoll
	if snapshot.UpdatedAt.IsZero() {
		snapshot.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("poll cache encode: %w", err)
	}
	return c.rdb.Set(ctx, pollKey(snapshot.MarketID), data, c.ttl).Err()
}

func pollKey(marketID string) string {
	return "price:poll:" + marketID
}
