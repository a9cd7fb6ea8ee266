package sink

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skudskud/polycool-copy-sub003/internal/model"
)

// TradeBatch is one at-least-once delivery unit handed to a consumer.
type TradeBatch struct {
	BatchID   string        `json:"batch_id"`
	Trades    []model.Trade `json:"trades"`
	CreatedAt time.Time     `json:"created_at"`
}

// DeliverFunc pushes a batch to the downstream consumer.
type DeliverFunc func(ctx context.Context, batch TradeBatch) error

// Notifier wraps a TradeSink and additionally publishes each flushed
// batch downstream. Delivery failure is logged and swallowed: the
// notification channel must never block or fail ingestion.
type Notifier struct {
	inner   TradeSink
	deliver DeliverFunc
	logger  *zap.Logger
}

func NewNotifier(inner TradeSink, deliver DeliverFunc, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{inner: inner, deliver: deliver, logger: logger}
}

func (n *Notifier) UpsertTrades(ctx context.Context, trades []model.Trade) error {
	if err := n.inner.UpsertTrades(ctx, trades); err != nil {
		return err
	}
	if n.deliver == nil || len(trades) == 0 {
		return nil
	}

	batch := TradeBatch{
		BatchID:   uuid.NewString(),
		Trades:    trades,
		CreatedAt: time.Now().UTC(),
	}
	if err := n.deliver(ctx, batch); err != nil {
		n.logger.Warn("trade batch delivery failed",
			zap.Error(err),
			zap.String("batch_id", batch.BatchID),
			zap.Int("trades", len(trades)),
		)
	}
	return nil
}
