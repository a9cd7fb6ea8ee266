package model

import (
	"math/big"
)

// TransferKind distinguishes single-asset events from entries expanded
// out of a batch event.
type TransferKind string

const (
	TransferSingle TransferKind = "SINGLE"
	TransferBatch  TransferKind = "BATCH"
)

// AssetTransfer is one decoded conditional-token movement. A batch
// event expands into one AssetTransfer per (id, value) pair with
// BatchIndex preserving position inside the batch; single events carry
// BatchIndex -1.
type AssetTransfer struct {
	Kind        TransferKind
	Operator    string
	From        string
	To          string
	AssetID     *big.Int
	Amount      *big.Int
	TxHash      string
	BlockNumber uint64
	LogIndex    uint
	BatchIndex  int
}

// StablecoinTransfer is one USDC movement, scoped to a single block's
// correlation pass.
type StablecoinTransfer struct {
	From        string
	To          string
	Amount      *big.Int
	TxHash      string
	BlockNumber uint64
	LogIndex    uint
}
