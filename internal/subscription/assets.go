package subscription

import (
	"math/big"

	"github.com/skudskud/polycool-copy-sub003/internal/decoder"
	"github.com/skudskud/polycool-copy-sub003/internal/model"
)

// BinaryMarketAssets resolves a watched market into the asset ids the
// stream protocol actually carries: one conditional-token id per
// outcome of a binary market. A market id that is not a decimal number
// cannot be composed and resolves to nothing.
func BinaryMarketAssets(market model.WatchedMarket) []string {
	marketID, ok := new(big.Int).SetString(market.MarketID, 10)
	if !ok || marketID.Sign() < 0 {
		return nil
	}
	return []string{
		decoder.ComposeAssetID(marketID, 0).String(),
		decoder.ComposeAssetID(marketID, 1).String(),
	}
}

// MarketIDs maps subscribed asset ids back to their distinct market
// ids, first-seen order preserved. Unparseable ids are skipped.
func MarketIDs(assetIDs []string) []string {
	seen := make(map[string]struct{}, len(assetIDs))
	markets := make([]string, 0, len(assetIDs))
	for _, id := range assetIDs {
		assetID, ok := new(big.Int).SetString(id, 10)
		if !ok {
			continue
		}
		marketID, _, err := decoder.DecomposeAssetID(assetID)
		if err != nil {
			continue
		}
		key := marketID.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		markets = append(markets, key)
	}
	return markets
}
