// Package marketdata merges three price sources by freshness priority:
// live stream, periodic poll, authoritative API.
package marketdata

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/skudskud/polycool-copy-sub003/internal/model"
)

// PollSource is the second-priority snapshot source.
type PollSource interface {
	Get(ctx context.Context, marketID string) (model.PriceSnapshot, error)
	Put(ctx context.Context, snapshot model.PriceSnapshot) error
}

// APISource is the last-resort authoritative source.
type APISource interface {
	FetchPrice(ctx context.Context, marketID string) (model.PriceSnapshot, error)
}

// Aggregator is the read path for market prices. Sources are tried in
// priority order; the first snapshot fresher than the threshold wins.
// When every source is stale or failing, the most recent stale stream
// snapshot is returned: staleness is preferred over unavailability.
type Aggregator struct {
	stream    *StreamCache
	poll      PollSource
	api       APISource
	freshness time.Duration
	logger    *zap.Logger
}

func NewAggregator(stream *StreamCache, poll PollSource, api APISource, freshness time.Duration, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if freshness <= 0 {
		freshness = 5 * time.Minute
	}
	return &Aggregator{
		stream:    stream,
		poll:      poll,
		api:       api,
		freshness: freshness,
		logger:    logger,
	}
}

// GetPrice returns the freshest available snapshot for the market.
func (a *Aggregator) GetPrice(ctx context.Context, marketID string) (model.PriceSnapshot, error) {
	now := time.Now().UTC()

	streamSnapshot, streamOK := a.stream.Get(marketID)
	if streamOK && streamSnapshot.Fresh(now, a.freshness) {
		return streamSnapshot, nil
	}

	if a.poll != nil {
		snapshot, err := a.poll.Get(ctx, marketID)
		switch {
		case err == nil && snapshot.Fresh(now, a.freshness):
			return snapshot, nil
		case err != nil && ctx.Err() != nil:
			return model.PriceSnapshot{}, err
		case err != nil && err != ErrCacheMiss:
			// A broken cache must not block the next source.
			a.logger.Warn("poll cache lookup failed", zap.Error(err), zap.String("market_id", marketID))
		}
	}

	if a.api != nil {
		snapshot, err := a.api.FetchPrice(ctx, marketID)
		if err == nil {
			if a.poll != nil {
				if cacheErr := a.poll.Put(ctx, snapshot); cacheErr != nil {
					a.logger.Warn("poll cache write failed", zap.Error(cacheErr), zap.String("market_id", marketID))
				}
			}
			return snapshot, nil
		}
		if ctx.Err() != nil {
			return model.PriceSnapshot{}, err
		}
		a.logger.Warn("markets api fetch failed", zap.Error(err), zap.String("market_id", marketID))
	}

	// Degraded mode: everything stale or failing. Serve the last
	// stream snapshot rather than erroring the caller.
	if streamOK {
		a.logger.Warn("serving stale stream snapshot",
			zap.String("market_id", marketID),
			zap.Time("updated_at", streamSnapshot.UpdatedAt),
		)
		return streamSnapshot, nil
	}

	return model.PriceSnapshot{}, fmt.Errorf("no price available for market %s", marketID)
}
