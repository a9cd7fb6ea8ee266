package subscription

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skudskud/polycool-copy-sub003/internal/model"
)

type fakeStreamer struct {
	subscribed   map[string]struct{}
	subscribes   [][]string
	unsubscribes [][]string
	err          error
}

func newFakeStreamer() *fakeStreamer {
	return &fakeStreamer{subscribed: make(map[string]struct{})}
}

func (s *fakeStreamer) Subscribe(_ context.Context, assetIDs []string) error {
	if s.err != nil {
		return s.err
	}
	s.subscribes = append(s.subscribes, assetIDs)
	for _, id := range assetIDs {
		s.subscribed[id] = struct{}{}
	}
	return nil
}

func (s *fakeStreamer) Unsubscribe(_ context.Context, assetIDs []string) error {
	if s.err != nil {
		return s.err
	}
	s.unsubscribes = append(s.unsubscribes, assetIDs)
	for _, id := range assetIDs {
		delete(s.subscribed, id)
	}
	return nil
}

type fakeMarketSource struct {
	markets []model.WatchedMarket
	err     error
}

func (s *fakeMarketSource) ListWatchedMarkets(context.Context, int) ([]model.WatchedMarket, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.markets, nil
}

func marketsWithActivity(count int, base time.Time) []model.WatchedMarket {
	markets := make([]model.WatchedMarket, 0, count)
	for i := 0; i < count; i++ {
		markets = append(markets, model.WatchedMarket{
			MarketID: fmt.Sprintf("market-%04d", i),
			// Later markets are more recently active.
			LastPositionAt:      base.Add(time.Duration(i) * time.Second),
			ActivePositionCount: 1,
		})
	}
	return markets
}

func TestManagerCapsDesiredSet(t *testing.T) {
	base := time.Now().UTC().Add(-time.Hour)
	source := &fakeMarketSource{markets: marketsWithActivity(600, base)}
	streamer := newFakeStreamer()

	manager := NewManager(streamer, source, nil, ManagerConfig{}, nil)
	require.NoError(t, manager.Refresh(context.Background()))

	subscribed := manager.Subscribed()
	require.Len(t, subscribed, ProtocolMaxAssets)

	// The most recently active markets survive the cut; the oldest 100
	// do not.
	require.Contains(t, subscribed, "market-0599")
	require.Contains(t, subscribed, "market-0100")
	require.NotContains(t, subscribed, "market-0099")
	require.NotContains(t, subscribed, "market-0000")
	require.Equal(t, StateSubscribed, manager.State())
}

func TestManagerDiffsAgainstCurrentSet(t *testing.T) {
	base := time.Now().UTC()
	source := &fakeMarketSource{markets: []model.WatchedMarket{
		{MarketID: "a", LastPositionAt: base},
		{MarketID: "b", LastPositionAt: base},
	}}
	streamer := newFakeStreamer()

	manager := NewManager(streamer, source, nil, ManagerConfig{}, nil)
	require.NoError(t, manager.Refresh(context.Background()))
	require.ElementsMatch(t, []string{"a", "b"}, manager.Subscribed())
	require.Len(t, streamer.subscribes, 1)

	// b drops out, c joins: one unsubscribe and one subscribe, only
	// for the delta.
	source.markets = []model.WatchedMarket{
		{MarketID: "a", LastPositionAt: base},
		{MarketID: "c", LastPositionAt: base},
	}
	require.NoError(t, manager.Refresh(context.Background()))

	require.ElementsMatch(t, []string{"a", "c"}, manager.Subscribed())
	require.Len(t, streamer.unsubscribes, 1)
	require.Equal(t, []string{"b"}, streamer.unsubscribes[0])
	require.Len(t, streamer.subscribes, 2)
	require.Equal(t, []string{"c"}, streamer.subscribes[1])
}

func TestManagerNoMessagesWhenSetUnchanged(t *testing.T) {
	base := time.Now().UTC()
	source := &fakeMarketSource{markets: []model.WatchedMarket{
		{MarketID: "a", LastPositionAt: base},
	}}
	streamer := newFakeStreamer()

	manager := NewManager(streamer, source, nil, ManagerConfig{}, nil)
	require.NoError(t, manager.Refresh(context.Background()))
	require.NoError(t, manager.Refresh(context.Background()))

	require.Len(t, streamer.subscribes, 1)
	require.Empty(t, streamer.unsubscribes)
}

func TestManagerKeepsSetOnSourceFailure(t *testing.T) {
	base := time.Now().UTC()
	source := &fakeMarketSource{markets: []model.WatchedMarket{
		{MarketID: "a", LastPositionAt: base},
	}}
	streamer := newFakeStreamer()

	manager := NewManager(streamer, source, nil, ManagerConfig{}, nil)
	require.NoError(t, manager.Refresh(context.Background()))

	source.err = fmt.Errorf("db down")
	require.Error(t, manager.Refresh(context.Background()))
	require.ElementsMatch(t, []string{"a"}, manager.Subscribed())
}

func TestManagerResolverExpandsMarkets(t *testing.T) {
	base := time.Now().UTC()
	source := &fakeMarketSource{markets: []model.WatchedMarket{
		{MarketID: "42", LastPositionAt: base},
	}}
	streamer := newFakeStreamer()

	resolve := func(market model.WatchedMarket) []string {
		return []string{market.MarketID + ":0", market.MarketID + ":1"}
	}

	manager := NewManager(streamer, source, resolve, ManagerConfig{}, nil)
	require.NoError(t, manager.Refresh(context.Background()))
	require.ElementsMatch(t, []string{"42:0", "42:1"}, manager.Subscribed())
}

func TestManagerSignalsFillRemainingCapacity(t *testing.T) {
	base := time.Now().UTC()
	source := &fakeMarketSource{markets: []model.WatchedMarket{
		{MarketID: "primary", LastPositionAt: base},
	}}
	streamer := newFakeStreamer()

	manager := NewManager(streamer, source, nil, ManagerConfig{MaxAssets: 3}, nil)
	manager.AddSignal(func(context.Context) ([]model.WatchedMarket, error) {
		return []model.WatchedMarket{
			{MarketID: "signal-a", LastPositionAt: base},
			{MarketID: "signal-b", LastPositionAt: base},
			{MarketID: "signal-c", LastPositionAt: base},
		}, nil
	})
	manager.AddSignal(func(context.Context) ([]model.WatchedMarket, error) {
		return nil, fmt.Errorf("signal down")
	})

	require.NoError(t, manager.Refresh(context.Background()))

	subscribed := manager.Subscribed()
	require.Len(t, subscribed, 3)
	// Primary source always wins capacity over signals.
	require.Contains(t, subscribed, "primary")
}

func TestRankMarkets(t *testing.T) {
	base := time.Now().UTC()
	markets := []model.WatchedMarket{
		{MarketID: "old-busy", LastPositionAt: base.Add(-time.Hour), ActivePositionCount: 50},
		{MarketID: "new-quiet", LastPositionAt: base, ActivePositionCount: 1},
		{MarketID: "new-busy", LastPositionAt: base, ActivePositionCount: 10},
	}

	ranked := RankMarkets(markets, nil)
	require.Equal(t, "new-busy", ranked[0].MarketID)
	require.Equal(t, "new-quiet", ranked[1].MarketID)
	require.Equal(t, "old-busy", ranked[2].MarketID)
}

func TestRankMarketsCustomTieBreak(t *testing.T) {
	base := time.Now().UTC()
	markets := []model.WatchedMarket{
		{MarketID: "b", LastPositionAt: base, ActivePositionCount: 10},
		{MarketID: "a", LastPositionAt: base, ActivePositionCount: 1},
	}

	// Recency still dominates; only the tie is reordered.
	byID := func(x, y model.WatchedMarket) bool { return x.MarketID < y.MarketID }
	ranked := RankMarkets(markets, byID)
	require.Equal(t, "a", ranked[0].MarketID)
	require.Equal(t, "b", ranked[1].MarketID)
}

func TestManagerConfiguredTieBreak(t *testing.T) {
	base := time.Now().UTC()
	source := &fakeMarketSource{markets: []model.WatchedMarket{
		{MarketID: "low", LastPositionAt: base, ActivePositionCount: 1},
		{MarketID: "high", LastPositionAt: base, ActivePositionCount: 9},
	}}
	streamer := newFakeStreamer()

	// Invert the default ordering: fewer positions rank first. With
	// capacity for one market only, "low" must win the slot.
	byFewest := func(a, b model.WatchedMarket) bool {
		return a.ActivePositionCount < b.ActivePositionCount
	}
	manager := NewManager(streamer, source, nil, ManagerConfig{MaxAssets: 1, TieBreak: byFewest}, nil)
	require.NoError(t, manager.Refresh(context.Background()))
	require.Equal(t, []string{"low"}, manager.Subscribed())
}

func TestDecodeUpdateMessage(t *testing.T) {
	payload := []byte(`{"action":"subscribe","type":"market","assets_ids":["1","2"]}`)

	action, assetIDs, err := DecodeUpdateMessage(payload)
	require.NoError(t, err)
	require.Equal(t, "subscribe", action)
	require.Equal(t, []string{"1", "2"}, assetIDs)
}
