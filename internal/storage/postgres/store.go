// Package postgres persists normalized trades, watched-market
// lifecycle state, and ingest progress.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skudskud/polycool-copy-sub003/internal/model"
)

// Store provides Postgres persistence for the watcher.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UpsertTrades inserts trades, silently skipping rows whose derived id
// already exists. Trades are append-only: an existing row is never
// updated, so ingestion and backfill can write the same block
// concurrently without conflict.
func (s *Store) UpsertTrades(ctx context.Context, trades []model.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, trade := range trades {
		var price, usdcAmount *string
		if trade.Price != nil {
			v := trade.Price.String()
			price = &v
		}
		if trade.UsdcAmount != nil {
			v := trade.UsdcAmount.String()
			usdcAmount = &v
		}
		batch.Queue(`
			INSERT INTO trades (
				trade_id, user_address, market_id, outcome, side,
				token_amount, price, usdc_amount, tx_hash, block_number, traded_at, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
			ON CONFLICT (trade_id) DO NOTHING
		`,
			trade.ID,
			trade.UserAddress,
			trade.MarketID,
			int16(trade.Outcome),
			string(trade.Side),
			trade.TokenAmount.String(),
			price,
			usdcAmount,
			trade.TxHash,
			int64(trade.BlockNumber),
			trade.Timestamp,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range trades {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// RecordMarketActivity applies a trade batch to the watched-market
// lifecycle: a BUY opens or extends a market's active positions, a
// SELL closes one. Markets whose count reaches zero stay until pruned.
func (s *Store) RecordMarketActivity(ctx context.Context, trades []model.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, trade := range trades {
		delta := 1
		if trade.Side == model.SideSell {
			delta = -1
		}
		batch.Queue(`
			INSERT INTO watched_markets (market_id, condition_id, active_position_count, last_position_at, updated_at)
			VALUES ($1, '', GREATEST($2, 0), $3, now())
			ON CONFLICT (market_id) DO UPDATE SET
				active_position_count = GREATEST(watched_markets.active_position_count + $2, 0),
				last_position_at = GREATEST(watched_markets.last_position_at, EXCLUDED.last_position_at),
				updated_at = now()
		`,
			trade.MarketID,
			delta,
			trade.Timestamp,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range trades {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// ListWatchedMarkets returns markets with open positions, most recent
// activity first, active_position_count as tie-break.
func (s *Store) ListWatchedMarkets(ctx context.Context, limit int) ([]model.WatchedMarket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT market_id, condition_id, active_position_count, last_position_at
		FROM watched_markets
		WHERE active_position_count > 0
		ORDER BY last_position_at DESC, active_position_count DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	markets := make([]model.WatchedMarket, 0, limit)
	for rows.Next() {
		var m model.WatchedMarket
		if err := rows.Scan(&m.MarketID, &m.ConditionID, &m.ActivePositionCount, &m.LastPositionAt); err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// ListRecentTradeMarkets returns markets with any trade since the
// cutoff, most recently traded first. This is the general-activity
// signal for subscription ranking; it surfaces markets whose positions
// have already closed but that are still moving.
func (s *Store) ListRecentTradeMarkets(ctx context.Context, since time.Time, limit int) ([]model.WatchedMarket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT market_id, MAX(traded_at) AS last_trade, COUNT(*) AS trade_count
		FROM trades
		WHERE traded_at >= $1
		GROUP BY market_id
		ORDER BY last_trade DESC, trade_count DESC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	markets := make([]model.WatchedMarket, 0, limit)
	for rows.Next() {
		var m model.WatchedMarket
		if err := rows.Scan(&m.MarketID, &m.LastPositionAt, &m.ActivePositionCount); err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// ListActiveAddressMarkets returns every market touched by addresses
// that traded since the cutoff, including their older markets. This is
// the recent-address signal for subscription ranking: a user active
// now likely still cares about positions opened before the window.
func (s *Store) ListActiveAddressMarkets(ctx context.Context, since time.Time, limit int) ([]model.WatchedMarket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.market_id, MAX(t.traded_at) AS last_trade, COUNT(DISTINCT t.user_address) AS traders
		FROM trades t
		WHERE t.user_address IN (
			SELECT DISTINCT user_address FROM trades WHERE traded_at >= $1
		)
		GROUP BY t.market_id
		ORDER BY last_trade DESC, traders DESC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	markets := make([]model.WatchedMarket, 0, limit)
	for rows.Next() {
		var m model.WatchedMarket
		if err := rows.Scan(&m.MarketID, &m.LastPositionAt, &m.ActivePositionCount); err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// RecordKnownAddresses marks directory addresses as observed, so a
// restart can tell them apart from genuinely new ones.
func (s *Store) RecordKnownAddresses(ctx context.Context, addresses []model.WatchedAddress) error {
	if len(addresses) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, entry := range addresses {
		batch.Queue(`
			INSERT INTO known_addresses (address, kind, first_seen_at)
			VALUES (lower($1), $2, now())
			ON CONFLICT (address) DO NOTHING
		`, entry.Address, string(entry.Kind))
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range addresses {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// ListKnownAddresses returns every address observed by earlier runs.
func (s *Store) ListKnownAddresses(ctx context.Context) ([]model.WatchedAddress, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT address, kind, first_seen_at FROM known_addresses
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var addresses []model.WatchedAddress
	for rows.Next() {
		var entry model.WatchedAddress
		var kind string
		if err := rows.Scan(&entry.Address, &kind, &entry.LastSeenAt); err != nil {
			return nil, err
		}
		entry.Kind = model.AddressKind(kind)
		addresses = append(addresses, entry)
	}
	return addresses, rows.Err()
}

// PruneMarkets removes resolved or positionless markets.
func (s *Store) PruneMarkets(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM watched_markets WHERE active_position_count <= 0
	`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// LoadState returns the last processed block for a named task.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block uint64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_block FROM watcher_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return block, true, nil
}

// SaveState upserts the last processed block for a named task.
func (s *Store) SaveState(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO watcher_state (name, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = now()
	`, name, block)
	return err
}
