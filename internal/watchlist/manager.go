// Package watchlist maintains the eventually consistent set of
// addresses the ingestion path filters by.
package watchlist

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/skudskud/polycool-copy-sub003/internal/model"
)

// Snapshot is an immutable view of the watch-list. Refresh builds a
// new snapshot and swaps it in; readers never see in-place mutation.
type Snapshot struct {
	byAddress map[string]model.WatchedAddress
}

// Contains is the O(1) membership test.
func (s *Snapshot) Contains(address string) bool {
	_, ok := s.byAddress[strings.ToLower(address)]
	return ok
}

// Empty reports whether the snapshot holds no addresses.
func (s *Snapshot) Empty() bool {
	return len(s.byAddress) == 0
}

// Addresses returns the snapshot's entries.
func (s *Snapshot) Addresses() []model.WatchedAddress {
	out := make([]model.WatchedAddress, 0, len(s.byAddress))
	for _, entry := range s.byAddress {
		out = append(out, entry)
	}
	return out
}

func newSnapshot(addresses []model.WatchedAddress) *Snapshot {
	byAddress := make(map[string]model.WatchedAddress, len(addresses))
	for _, entry := range addresses {
		byAddress[strings.ToLower(entry.Address)] = entry
	}
	return &Snapshot{byAddress: byAddress}
}

// Directory is the external address source.
type Directory interface {
	FetchAddresses(ctx context.Context) ([]model.WatchedAddress, error)
}

// Manager owns the watch-list set. Refresh runs concurrently with the
// ingestion hot path and never blocks it; membership reads go against
// the current snapshot.
type Manager struct {
	directory Directory
	interval  time.Duration
	logger    *zap.Logger

	mu       sync.RWMutex
	snapshot *Snapshot

	refreshing     atomic.Bool
	failOpenLogged atomic.Bool

	// onAdded fires exactly once per newly observed address.
	onAdded func(ctx context.Context, address model.WatchedAddress)
}

func NewManager(directory Directory, interval time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Manager{
		directory: directory,
		interval:  interval,
		logger:    logger,
		snapshot:  newSnapshot(nil),
	}
}

// OnAdded registers the hook invoked for each address that appears in
// a refresh diff. Must be called before Run.
func (m *Manager) OnAdded(hook func(ctx context.Context, address model.WatchedAddress)) {
	m.onAdded = hook
}

// Seed installs a boot-time snapshot of addresses observed in earlier
// runs, so the first refresh diff does not treat the whole directory
// as new and re-trigger a backfill per address. Must be called before
// Run.
func (m *Manager) Seed(addresses []model.WatchedAddress) {
	if len(addresses) == 0 {
		return
	}
	m.mu.Lock()
	m.snapshot = newSnapshot(addresses)
	m.mu.Unlock()
}

// IsWatched reports whether the address is on the watch-list. An empty
// set fails open: every address is treated as watched so nothing is
// silently dropped while the directory is unreachable.
func (m *Manager) IsWatched(address string) bool {
	snapshot := m.Current()
	if snapshot.Empty() {
		if m.failOpenLogged.CompareAndSwap(false, true) {
			m.logger.Warn("watch-list empty, failing open: every address is treated as watched")
		}
		return true
	}
	return snapshot.Contains(address)
}

// Current returns the active snapshot.
func (m *Manager) Current() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Refresh fetches the directory set and swaps the snapshot atomically.
// On failure the previous snapshot is retained; the set is never
// cleared on error.
func (m *Manager) Refresh(ctx context.Context) error {
	addresses, err := m.directory.FetchAddresses(ctx)
	if err != nil {
		m.logger.Warn("watch-list refresh failed, keeping previous set", zap.Error(err))
		return err
	}

	next := newSnapshot(addresses)

	m.mu.Lock()
	previous := m.snapshot
	m.snapshot = next
	m.mu.Unlock()

	if !next.Empty() {
		m.failOpenLogged.Store(false)
	}

	added := 0
	if m.onAdded != nil {
		for _, entry := range addresses {
			if previous.Contains(entry.Address) {
				continue
			}
			added++
			m.onAdded(ctx, entry)
		}
	}

	m.logger.Info("watch-list refreshed",
		zap.Int("addresses", len(addresses)),
		zap.Int("added", added),
	)
	return nil
}

// Run refreshes on a fixed interval until the context ends. A tick
// that fires while a refresh is still in flight is skipped, not
// queued.
func (m *Manager) Run(ctx context.Context) {
	if err := m.tryRefresh(ctx); err != nil {
		m.logger.Warn("initial watch-list refresh failed", zap.Error(err))
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.refreshing.Load() {
				m.logger.Debug("watch-list refresh in flight, skipping tick")
				continue
			}
			if err := m.tryRefresh(ctx); err != nil && ctx.Err() != nil {
				return
			}
		}
	}
}

func (m *Manager) tryRefresh(ctx context.Context) error {
	if !m.refreshing.CompareAndSwap(false, true) {
		return nil
	}
	defer m.refreshing.Store(false)
	return m.Refresh(ctx)
}
