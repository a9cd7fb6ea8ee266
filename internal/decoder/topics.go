package decoder

import "github.com/ethereum/go-ethereum/common"

// Fixed event topic hashes. These must match the on-chain contracts
// exactly; decode and backfill share them.
var (
	// TransferSingle(address,address,address,uint256,uint256)
	TopicTransferSingle = common.HexToHash("0xc3d58168c5ae7397731d063d5bbf3d657854427343f4c083240f7aacaa2d0f62")
	// TransferBatch(address,address,address,uint256[],uint256[])
	TopicTransferBatch = common.HexToHash("0x4a39dc06d4c0dbc64b70af90fd698a233a518aa5d07e595d983b8c0526c8f7fb")
	// Transfer(address,address,uint256)
	TopicStablecoinTransfer = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
)

// AssetTransferTopics are the topic0 values the ingestion and backfill
// paths filter conditional-token logs by.
func AssetTransferTopics() []common.Hash {
	return []common.Hash{TopicTransferSingle, TopicTransferBatch}
}

// ZeroAddress is the mint/burn sentinel: transfers from it are mints,
// transfers to it are burns.
var ZeroAddress = common.Address{}
