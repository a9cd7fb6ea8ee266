package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skudskud/polycool-copy-sub003/internal/marketdata"
	"github.com/skudskud/polycool-copy-sub003/internal/model"
)

func TestBinaryMarketAssetsComposesOutcomeIDs(t *testing.T) {
	assets := BinaryMarketAssets(model.WatchedMarket{MarketID: "42"})
	// 42<<8 for outcome 0, plus the outcome index for outcome 1.
	require.Equal(t, []string{"10752", "10753"}, assets)
}

func TestBinaryMarketAssetsRejectsNonNumericIDs(t *testing.T) {
	require.Empty(t, BinaryMarketAssets(model.WatchedMarket{MarketID: "not-a-number"}))
	require.Empty(t, BinaryMarketAssets(model.WatchedMarket{MarketID: ""}))
}

func TestMarketIDsInvertsResolvedAssets(t *testing.T) {
	// Both outcome ids of a market collapse back to one market id;
	// garbage ids are dropped.
	markets := MarketIDs([]string{"10752", "10753", "garbage", "256"})
	require.Equal(t, []string{"42", "1"}, markets)
}

// The stream speaks asset ids, not market ids: the set the manager
// subscribes must round-trip through the handler's asset-id
// decomposition and land under the originating market's cache key.
func TestSubscribedAssetsRoundTripThroughStreamHandler(t *testing.T) {
	base := time.Now().UTC()
	source := &fakeMarketSource{markets: []model.WatchedMarket{
		{MarketID: "42", LastPositionAt: base},
	}}
	streamer := newFakeStreamer()

	manager := NewManager(streamer, source, BinaryMarketAssets, ManagerConfig{}, nil)
	require.NoError(t, manager.Refresh(context.Background()))
	require.ElementsMatch(t, []string{"10752", "10753"}, manager.Subscribed())

	cache := marketdata.NewStreamCache()
	handler := NewStreamHandler(cache, nil)
	handler.Handle([]byte(`{"event_type":"book","asset_id":"10753","best_bid":"0.40","best_ask":"0.44"}`))

	snapshot, ok := cache.Get("42")
	require.True(t, ok)
	require.Equal(t, "0.42", snapshot.Mid.String())

	// Nothing lands under the raw asset id or a foreign market.
	_, ok = cache.Get("10753")
	require.False(t, ok)
	_, ok = cache.Get("0")
	require.False(t, ok)
}
