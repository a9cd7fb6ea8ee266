package subscription

import (
	"encoding/json"
	"math/big"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/skudskud/polycool-copy-sub003/internal/decoder"
	"github.com/skudskud/polycool-copy-sub003/internal/marketdata"
	"github.com/skudskud/polycool-copy-sub003/internal/model"
)

// streamMessage is one market-channel event. The server sends either a
// single object or an array of them.
type streamMessage struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	BestBid   string `json:"best_bid"`
	BestAsk   string `json:"best_ask"`
	Timestamp string `json:"timestamp"`
}

// StreamHandler turns market-channel events into stream-cache
// snapshots. Malformed events are logged and skipped; one bad event
// never drops the rest of a batch.
type StreamHandler struct {
	cache  *marketdata.StreamCache
	logger *zap.Logger
}

func NewStreamHandler(cache *marketdata.StreamCache, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{cache: cache, logger: logger}
}

// Handle parses one websocket frame and stores any price snapshots it
// carries.
func (h *StreamHandler) Handle(data []byte) {
	for _, message := range decodeFrame(data) {
		snapshot, ok := h.snapshotFrom(message)
		if !ok {
			continue
		}
		h.cache.Put(snapshot)
	}
}

func decodeFrame(data []byte) []streamMessage {
	var batch []streamMessage
	if err := json.Unmarshal(data, &batch); err == nil {
		return batch
	}
	var single streamMessage
	if err := json.Unmarshal(data, &single); err == nil && single.EventType != "" {
		return []streamMessage{single}
	}
	return nil
}

func (h *StreamHandler) snapshotFrom(message streamMessage) (model.PriceSnapshot, bool) {
	switch message.EventType {
	case "book", "price_change", "last_trade_price":
	default:
		return model.PriceSnapshot{}, false
	}

	marketID := message.Market
	if marketID == "" && message.AssetID != "" {
		assetID, ok := new(big.Int).SetString(message.AssetID, 10)
		if !ok {
			h.logger.Warn("unparseable asset id on stream", zap.String("asset_id", message.AssetID))
			return model.PriceSnapshot{}, false
		}
		market, _, err := decoder.DecomposeAssetID(assetID)
		if err != nil {
			h.logger.Warn("asset id decomposition failed", zap.String("asset_id", message.AssetID), zap.Error(err))
			return model.PriceSnapshot{}, false
		}
		marketID = market.String()
	}
	if marketID == "" {
		return model.PriceSnapshot{}, false
	}

	bid, err := decimal.NewFromString(message.BestBid)
	if err != nil {
		h.logger.Warn("bad best_bid on stream", zap.String("market_id", marketID), zap.String("best_bid", message.BestBid))
		return model.PriceSnapshot{}, false
	}
	ask, err := decimal.NewFromString(message.BestAsk)
	if err != nil {
		h.logger.Warn("bad best_ask on stream", zap.String("market_id", marketID), zap.String("best_ask", message.BestAsk))
		return model.PriceSnapshot{}, false
	}

	return model.PriceSnapshot{
		MarketID: marketID,
		Source:   model.SourceStream,
		BestBid:  bid,
		BestAsk:  ask,
		Mid:      bid.Add(ask).Div(decimal.NewFromInt(2)),
	}, true
}
