// Package subscription keeps the live market-channel subscription set
// aligned with the most active watched markets, under the stream
// protocol's per-connection asset limit.
package subscription

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/skudskud/polycool-copy-sub003/internal/model"
)

// ProtocolMaxAssets is the stream protocol's hard cap on asset ids per
// connection.
const ProtocolMaxAssets = 500

// State of the manager's refresh cycle.
type State int32

const (
	StateIdle State = iota
	StateRefreshing
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRefreshing:
		return "REFRESHING"
	case StateSubscribed:
		return "SUBSCRIBED"
	default:
		return "UNKNOWN"
	}
}

// Streamer is the subscription side of the websocket client.
type Streamer interface {
	Subscribe(ctx context.Context, assetIDs []string) error
	Unsubscribe(ctx context.Context, assetIDs []string) error
}

// MarketSource lists watched markets ranked by activity.
type MarketSource interface {
	ListWatchedMarkets(ctx context.Context, limit int) ([]model.WatchedMarket, error)
}

// AssetResolver maps a watched market to the asset ids carried on the
// stream.
type AssetResolver func(market model.WatchedMarket) []string

// Signal is a supplementary desired-set source. Signals rank below the
// primary watched-market query: they fill whatever capacity remains
// under the cap, and a failing signal is logged and skipped rather
// than failing the refresh.
type Signal func(ctx context.Context) ([]model.WatchedMarket, error)

// TieBreak orders two markets whose last position activity is equally
// recent. It is a strict less-than: true means a ranks ahead of b.
type TieBreak func(a, b model.WatchedMarket) bool

// TieBreakByPositions is the default tie-break: the market with more
// active positions ranks first.
func TieBreakByPositions(a, b model.WatchedMarket) bool {
	return a.ActivePositionCount > b.ActivePositionCount
}

// ManagerConfig configures the subscription manager.
type ManagerConfig struct {
	// MaxAssets caps the subscription set. Values above the protocol
	// limit are clamped to it.
	MaxAssets int

	// RefreshInterval is the periodic desired-set recomputation cadence.
	RefreshInterval time.Duration

	// TieBreak orders markets with equal activity recency. Defaults to
	// TieBreakByPositions.
	TieBreak TieBreak
}

func (c *ManagerConfig) applyDefaults() {
	if c.MaxAssets <= 0 || c.MaxAssets > ProtocolMaxAssets {
		c.MaxAssets = ProtocolMaxAssets
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 60 * time.Second
	}
	if c.TieBreak == nil {
		c.TieBreak = TieBreakByPositions
	}
}

// Manager computes the desired subscription set from watched-market
// activity and converges the stream toward it with batched subscribe
// and unsubscribe messages. Refreshes are single flight: a tick or
// trigger that lands while one is running is dropped, not queued.
type Manager struct {
	streamer Streamer
	source   MarketSource
	signals  []Signal
	resolve  AssetResolver
	config   ManagerConfig
	logger   *zap.Logger

	mu      sync.Mutex
	current map[string]struct{}

	state      atomic.Int32
	refreshing atomic.Bool
	trigger    chan struct{}
}

func NewManager(streamer Streamer, source MarketSource, resolve AssetResolver, config ManagerConfig, logger *zap.Logger) *Manager {
	config.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if resolve == nil {
		resolve = func(market model.WatchedMarket) []string {
			return []string{market.MarketID}
		}
	}
	return &Manager{
		streamer: streamer,
		source:   source,
		resolve:  resolve,
		config:   config,
		logger:   logger,
		current:  make(map[string]struct{}),
		trigger:  make(chan struct{}, 1),
	}
}

// AddSignal registers a supplementary desired-set source. Must be
// called before Run.
func (m *Manager) AddSignal(signal Signal) {
	m.signals = append(m.signals, signal)
}

// State returns the manager's current refresh state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Subscribed returns a copy of the current subscription set.
func (m *Manager) Subscribed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.current))
	for id := range m.current {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TriggerRefresh requests an immediate refresh. Non-blocking; if a
// trigger is already pending the call is a no-op.
func (m *Manager) TriggerRefresh() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// Run refreshes the subscription set on the configured interval and on
// demand until the context is canceled.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.tryRefresh(ctx); err != nil {
		m.logger.Warn("initial subscription refresh failed", zap.Error(err))
	}

	ticker := time.NewTicker(m.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-m.trigger:
		}

		if err := m.tryRefresh(ctx); err != nil {
			m.logger.Warn("subscription refresh failed", zap.Error(err))
		}
	}
}

func (m *Manager) tryRefresh(ctx context.Context) error {
	if !m.refreshing.CompareAndSwap(false, true) {
		m.logger.Debug("subscription refresh already in flight, skipping")
		return nil
	}
	defer m.refreshing.Store(false)
	return m.Refresh(ctx)
}

// Refresh recomputes the desired set and sends the minimal batched
// subscribe/unsubscribe delta to the stream. The previous set is kept
// on failure so the next cycle retries the same delta.
func (m *Manager) Refresh(ctx context.Context) error {
	m.state.Store(int32(StateRefreshing))

	desired, err := m.desiredSet(ctx)
	if err != nil {
		m.state.Store(int32(StateIdle))
		return err
	}

	m.mu.Lock()
	added, removed := diffSets(m.current, desired)
	m.mu.Unlock()

	if len(added) == 0 && len(removed) == 0 {
		m.state.Store(int32(StateSubscribed))
		return nil
	}

	if len(removed) > 0 {
		if err := m.streamer.Unsubscribe(ctx, removed); err != nil {
			m.state.Store(int32(StateIdle))
			return err
		}
	}
	if len(added) > 0 {
		if err := m.streamer.Subscribe(ctx, added); err != nil {
			m.state.Store(int32(StateIdle))
			return err
		}
	}

	m.mu.Lock()
	m.current = desired
	m.mu.Unlock()

	m.state.Store(int32(StateSubscribed))
	m.logger.Info("subscription set refreshed",
		zap.Int("subscribed", len(desired)),
		zap.Int("added", len(added)),
		zap.Int("removed", len(removed)),
	)
	return nil
}

// desiredSet ranks watched markets by most recent position activity,
// breaking ties with the configured tie-break, appends the
// supplementary signals in registration order, and resolves the result
// into at most MaxAssets asset ids.
func (m *Manager) desiredSet(ctx context.Context) (map[string]struct{}, error) {
	// Over-fetch so the cap is applied after ranking, not by the store.
	markets, err := m.source.ListWatchedMarkets(ctx, m.config.MaxAssets*2)
	if err != nil {
		return nil, err
	}

	desired := make(map[string]struct{}, m.config.MaxAssets)
	m.fill(desired, RankMarkets(markets, m.config.TieBreak))

	for i, signal := range m.signals {
		if len(desired) >= m.config.MaxAssets {
			break
		}
		extra, err := signal(ctx)
		if err != nil {
			m.logger.Warn("subscription signal failed", zap.Int("signal", i), zap.Error(err))
			continue
		}
		m.fill(desired, RankMarkets(extra, m.config.TieBreak))
	}
	return desired, nil
}

func (m *Manager) fill(desired map[string]struct{}, markets []model.WatchedMarket) {
	for _, market := range markets {
		if len(desired) >= m.config.MaxAssets {
			return
		}
		for _, id := range m.resolve(market) {
			if len(desired) >= m.config.MaxAssets {
				return
			}
			desired[id] = struct{}{}
		}
	}
}

// RankMarkets orders markets by last position time descending, then by
// the tie-break, then by market id for stability. A nil tie-break
// falls back to TieBreakByPositions.
func RankMarkets(markets []model.WatchedMarket, tie TieBreak) []model.WatchedMarket {
	if tie == nil {
		tie = TieBreakByPositions
	}
	ranked := make([]model.WatchedMarket, len(markets))
	copy(ranked, markets)
	sort.SliceStable(ranked, func(i, j int) bool {
		if !ranked[i].LastPositionAt.Equal(ranked[j].LastPositionAt) {
			return ranked[i].LastPositionAt.After(ranked[j].LastPositionAt)
		}
		if tie(ranked[i], ranked[j]) {
			return true
		}
		if tie(ranked[j], ranked[i]) {
			return false
		}
		return ranked[i].MarketID < ranked[j].MarketID
	})
	return ranked
}

func diffSets(current, desired map[string]struct{}) (added, removed []string) {
	for id := range desired {
		if _, ok := current[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range current {
		if _, ok := desired[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
