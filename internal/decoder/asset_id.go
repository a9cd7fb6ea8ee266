package decoder

import (
	"fmt"
	"math/big"
)

const outcomeBits = 8

var outcomeMask = big.NewInt((1 << outcomeBits) - 1)

// DecomposeAssetID splits a conditional-token id into its market id and
// outcome index. The split is a fixed bit shift: the low 8 bits carry
// the outcome index, the rest is the market id. Pure function, shared
// by the live decode and backfill paths.
func DecomposeAssetID(assetID *big.Int) (marketID *big.Int, outcomeIndex uint8, err error) {
	if assetID == nil {
		return nil, 0, fmt.Errorf("asset id is nil")
	}
	if assetID.Sign() < 0 {
		return nil, 0, fmt.Errorf("asset id is negative: %s", assetID)
	}
	outcome := new(big.Int).And(assetID, outcomeMask)
	market := new(big.Int).Rsh(assetID, outcomeBits)
	return market, uint8(outcome.Uint64()), nil
}

// ComposeAssetID is the inverse of DecomposeAssetID: for every valid
// asset id, ComposeAssetID(DecomposeAssetID(id)) == id.
func ComposeAssetID(marketID *big.Int, outcomeIndex uint8) *big.Int {
	id := new(big.Int).Lsh(marketID, outcomeBits)
	return id.Or(id, big.NewInt(int64(outcomeIndex)))
}
