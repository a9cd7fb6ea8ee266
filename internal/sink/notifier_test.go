package sink

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skudskud/polycool-copy-sub003/internal/model"
)

type captureSink struct {
	writes int
	fail   bool
}

func (s *captureSink) UpsertTrades(_ context.Context, trades []model.Trade) error {
	if s.fail {
		return fmt.Errorf("sink down")
	}
	s.writes++
	return nil
}

func TestNotifierDeliversBatches(t *testing.T) {
	inner := &captureSink{}
	var delivered []TradeBatch

	notifier := NewNotifier(inner, func(_ context.Context, batch TradeBatch) error {
		delivered = append(delivered, batch)
		return nil
	}, nil)

	trades := []model.Trade{{ID: "0x1:1"}, {ID: "0x1:2"}}
	require.NoError(t, notifier.UpsertTrades(context.Background(), trades))

	require.Equal(t, 1, inner.writes)
	require.Len(t, delivered, 1)
	require.Len(t, delivered[0].Trades, 2)
	require.NotEmpty(t, delivered[0].BatchID)
	require.False(t, delivered[0].CreatedAt.IsZero())
}

func TestNotifierDeliveryFailureIsNotFatal(t *testing.T) {
	inner := &captureSink{}
	notifier := NewNotifier(inner, func(context.Context, TradeBatch) error {
		return fmt.Errorf("broker down")
	}, nil)

	err := notifier.UpsertTrades(context.Background(), []model.Trade{{ID: "0x1:1"}})
	require.NoError(t, err)
	require.Equal(t, 1, inner.writes)
}

func TestNotifierSinkFailureIsFatal(t *testing.T) {
	inner := &captureSink{fail: true}
	deliverCalled := false
	notifier := NewNotifier(inner, func(context.Context, TradeBatch) error {
		deliverCalled = true
		return nil
	}, nil)

	err := notifier.UpsertTrades(context.Background(), []model.Trade{{ID: "0x1:1"}})
	require.Error(t, err)
	require.False(t, deliverCalled, "delivery must not run when the sink rejects the batch")
}

func TestMultiFansOut(t *testing.T) {
	first := &captureSink{}
	second := &captureSink{}
	multi := NewMulti(first, second)

	require.NoError(t, multi.UpsertTrades(context.Background(), []model.Trade{{ID: "0x1:1"}}))
	require.Equal(t, 1, first.writes)
	require.Equal(t, 1, second.writes)
}
