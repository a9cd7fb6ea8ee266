package subscription

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skudskud/polycool-copy-sub003/internal/decoder"
	"github.com/skudskud/polycool-copy-sub003/internal/marketdata"
	"github.com/skudskud/polycool-copy-sub003/internal/model"
)

func TestStreamHandlerStoresSnapshots(t *testing.T) {
	cache := marketdata.NewStreamCache()
	handler := NewStreamHandler(cache, nil)

	frame := []byte(`[
		{"event_type":"book","market":"42","best_bid":"0.55","best_ask":"0.57"},
		{"event_type":"price_change","market":"99","best_bid":"0.10","best_ask":"0.12"}
	]`)
	handler.Handle(frame)

	snapshot, ok := cache.Get("42")
	require.True(t, ok)
	require.Equal(t, model.SourceStream, snapshot.Source)
	require.Equal(t, "0.55", snapshot.BestBid.String())
	require.Equal(t, "0.57", snapshot.BestAsk.String())
	require.Equal(t, "0.56", snapshot.Mid.String())
	require.False(t, snapshot.UpdatedAt.IsZero())

	_, ok = cache.Get("99")
	require.True(t, ok)
}

func TestStreamHandlerResolvesMarketFromAssetID(t *testing.T) {
	cache := marketdata.NewStreamCache()
	handler := NewStreamHandler(cache, nil)

	assetID := decoder.ComposeAssetID(big.NewInt(42), 1)
	frame := []byte(fmt.Sprintf(`{"event_type":"book","asset_id":"%s","best_bid":"0.40","best_ask":"0.44"}`, assetID))
	handler.Handle(frame)

	snapshot, ok := cache.Get("42")
	require.True(t, ok)
	require.Equal(t, "0.42", snapshot.Mid.String())
}

func TestStreamHandlerSkipsMalformed(t *testing.T) {
	cache := marketdata.NewStreamCache()
	handler := NewStreamHandler(cache, nil)

	handler.Handle([]byte(`not json`))
	handler.Handle([]byte(`{"event_type":"book","market":"42","best_bid":"garbage","best_ask":"0.5"}`))
	handler.Handle([]byte(`{"event_type":"unknown","market":"42","best_bid":"0.5","best_ask":"0.5"}`))
	handler.Handle([]byte(`{"event_type":"book","asset_id":"not-a-number","best_bid":"0.5","best_ask":"0.5"}`))

	require.Zero(t, cache.Len())
}
