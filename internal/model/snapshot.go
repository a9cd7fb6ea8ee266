package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SnapshotSource identifies which feed produced a price snapshot.
// Multiple snapshots may coexist per market, one per source; readers
// select by freshness priority rather than overwriting.
type SnapshotSource string

const (
	SourceStream SnapshotSource = "STREAM"
	SourcePoll   SnapshotSource = "POLL"
	SourceAPI    SnapshotSource = "API"
)

// PriceSnapshot is one source's view of a market's prices at a point
// in time.
type PriceSnapshot struct {
	MarketID      string            `json:"market_id"`
	Source        SnapshotSource    `json:"source"`
	BestBid       decimal.Decimal   `json:"best_bid"`
	BestAsk       decimal.Decimal   `json:"best_ask"`
	Mid           decimal.Decimal   `json:"mid"`
	OutcomePrices []decimal.Decimal `json:"outcome_prices,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Fresh reports whether the snapshot is newer than maxAge as of now.
func (s PriceSnapshot) Fresh(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.UpdatedAt) <= maxAge
}
