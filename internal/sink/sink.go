// Package sink delivers normalized trades to durable storage and to
// downstream consumers.
package sink

import (
	"context"

	"github.com/skudskud/polycool-copy-sub003/internal/model"
)

// TradeSink is a duplicate-safe writer of normalized trades. Writing
// the same trade twice (live/backfill overlap, block reprocessing)
// must collapse into one record.
type TradeSink interface {
	UpsertTrades(ctx context.Context, trades []model.Trade) error
}

// Multi fans a trade batch out to several sinks. The first storage
// error is returned; callers treat the batch as not flushed.
type Multi struct {
	sinks []TradeSink
}

func NewMulti(sinks ...TradeSink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) UpsertTrades(ctx context.Context, trades []model.Trade) error {
	for _, s := range m.sinks {
		if err := s.UpsertTrades(ctx, trades); err != nil {
			return err
		}
	}
	return nil
}
