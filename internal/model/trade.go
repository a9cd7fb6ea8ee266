package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side indicates which way a trade went from the user's perspective.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Trade is the normalized representation of one settled trade.
//
// Identity is derived from the chain coordinates of the transfer that
// produced it and is stable across reprocessing: the same block run
// twice yields the same IDs, so duplicate writes collapse in the sink.
type Trade struct {
	ID          string           `json:"id"`
	UserAddress string           `json:"user_address"`
	MarketID    string           `json:"market_id"`
	Outcome     uint8            `json:"outcome"`
	Side        Side             `json:"side"`
	TokenAmount decimal.Decimal  `json:"token_amount"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	UsdcAmount  *decimal.Decimal `json:"usdc_amount,omitempty"`
	TxHash      string           `json:"tx_hash"`
	BlockNumber uint64           `json:"block_number"`
	Timestamp   time.Time        `json:"timestamp"`
}

// TradeID builds the reproducible upsert key for a trade. batchIndex is
// only part of the key for transfers expanded out of a batch event, so
// single-transfer IDs stay identical to earlier records.
func TradeID(txHash string, logIndex uint, batchIndex int) string {
	if batchIndex < 0 {
		return fmt.Sprintf("%s:%d", txHash, logIndex)
	}
	return fmt.Sprintf("%s:%d:%d", txHash, logIndex, batchIndex)
}
