// Package correlate derives per-trade execution prices by joining
// conditional-token transfers with stablecoin transfers inside the
// same transaction.
package correlate

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/skudskud/polycool-copy-sub003/internal/decoder"
	"github.com/skudskud/polycool-copy-sub003/internal/model"
)

// conditional-token legs carry 6 decimal places, same as the
// stablecoin.
const tokenDecimals = 6

const priceScale = 6

// Watchlist is the membership test the engine filters trades by.
type Watchlist interface {
	IsWatched(address string) bool
}

// Engine runs the two-phase per-block correlation. Phase 1 accumulates
// every stablecoin transfer in the block; phase 2 walks the asset
// transfers and joins them against the accumulated flows keyed by
// (txHash, user).
//
// Known limitation, kept on purpose: the join has no per-log pairing,
// so a transaction holding several independent trades by the same user
// gets the combined stablecoin total attributed to each of them.
type Engine struct {
	decoder   *decoder.Decoder
	watchlist Watchlist
	logger    *zap.Logger
}

func NewEngine(dec *decoder.Decoder, watchlist Watchlist, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{decoder: dec, watchlist: watchlist, logger: logger}
}

// ProcessBlock derives normalized trades from one block's logs. The
// timestamp applies to every trade in the block. Malformed logs are
// logged and skipped; the rest of the block still processes.
func (e *Engine) ProcessBlock(blockNumber uint64, timestamp time.Time, logs []types.Log) []model.Trade {
	flows := e.accumulate(logs)
	return e.correlateAssets(blockNumber, timestamp, logs, flows)
}

// accumulate is phase 1: it must see the entire block before phase 2
// starts, because transfer logs within a transaction can arrive in any
// order.
func (e *Engine) accumulate(logs []types.Log) *FlowSet {
	flows := NewFlowSet()
	for _, log := range logs {
		if !e.decoder.IsStablecoinTransfer(log) {
			continue
		}
		transfer, err := e.decoder.DecodeStablecoin(log)
		if err != nil {
			e.logger.Warn("decode stablecoin transfer",
				zap.Error(err),
				zap.String("tx_hash", log.TxHash.Hex()),
				zap.Uint("log_index", log.Index),
			)
			continue
		}
		if !e.watchlist.IsWatched(transfer.From) && !e.watchlist.IsWatched(transfer.To) {
			continue
		}
		flows.Add(transfer)
	}
	return flows
}

// correlateAssets is phase 2.
func (e *Engine) correlateAssets(blockNumber uint64, timestamp time.Time, logs []types.Log, flows *FlowSet) []model.Trade {
	trades := make([]model.Trade, 0)
	for _, log := range logs {
		if !e.decoder.CanDecodeAsset(log) {
			continue
		}
		transfers, err := e.decoder.DecodeAsset(log)
		if err != nil {
			e.logger.Warn("decode asset transfer",
				zap.Error(err),
				zap.String("tx_hash", log.TxHash.Hex()),
				zap.Uint("log_index", log.Index),
			)
			continue
		}

		for _, transfer := range transfers {
			trade, ok := e.correlate(transfer, flows)
			if !ok {
				continue
			}
			trade.BlockNumber = blockNumber
			trade.Timestamp = timestamp
			trades = append(trades, trade)
		}
	}
	return trades
}

func (e *Engine) correlate(transfer model.AssetTransfer, flows *FlowSet) (model.Trade, bool) {
	mint := isZero(transfer.From)
	burn := isZero(transfer.To)

	var user string
	var side model.Side
	switch {
	case mint:
		user = transfer.To
		side = model.SideBuy
	case burn:
		user = transfer.From
		side = model.SideSell
	default:
		fromWatched := e.watchlist.IsWatched(transfer.From)
		toWatched := e.watchlist.IsWatched(transfer.To)
		if fromWatched && toWatched {
			// Ambiguous internal transfer: guessing a side would
			// misrepresent P&L, so drop it.
			e.logger.Warn("ambiguous transfer between watched addresses",
				zap.String("from", transfer.From),
				zap.String("to", transfer.To),
				zap.String("tx_hash", transfer.TxHash),
				zap.Uint("log_index", transfer.LogIndex),
			)
			return model.Trade{}, false
		}
		if fromWatched {
			user = transfer.From
			side = model.SideSell
		} else if toWatched {
			user = transfer.To
			side = model.SideBuy
		} else {
			return model.Trade{}, false
		}
	}

	if !e.watchlist.IsWatched(user) {
		return model.Trade{}, false
	}

	marketID, outcome, err := decoder.DecomposeAssetID(transfer.AssetID)
	if err != nil {
		e.logger.Warn("decompose asset id", zap.Error(err), zap.String("tx_hash", transfer.TxHash))
		return model.Trade{}, false
	}

	tokenAmount := decimal.NewFromBigInt(transfer.Amount, -tokenDecimals)

	var price, usdcAmount *decimal.Decimal
	if flow := flows.Lookup(transfer.TxHash, user); flow != nil {
		switch {
		case flow.Sent.IsPositive():
			side = model.SideBuy
			value := flow.Sent
			usdcAmount = &value
		case flow.Received.IsPositive():
			side = model.SideSell
			value := flow.Received
			usdcAmount = &value
		}
		if usdcAmount != nil && tokenAmount.IsPositive() {
			value := usdcAmount.DivRound(tokenAmount, priceScale)
			price = &value
		}
	}
	// No correlated stablecoin flow is a documented degraded mode:
	// the trade keeps its direction-derived side and a null price.

	return model.Trade{
		ID:          model.TradeID(transfer.TxHash, transfer.LogIndex, transfer.BatchIndex),
		UserAddress: user,
		MarketID:    marketID.String(),
		Outcome:     outcome,
		Side:        side,
		TokenAmount: tokenAmount,
		Price:       price,
		UsdcAmount:  usdcAmount,
		TxHash:      transfer.TxHash,
	}, true
}

func isZero(address string) bool {
	return common.HexToAddress(address) == decoder.ZeroAddress
}
