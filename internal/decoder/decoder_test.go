package decoder

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/skudskud/polycool-copy-sub003/internal/model"
)

func topicFromAddress(address common.Address) common.Hash {
	return common.BytesToHash(address.Bytes())
}

func buildLog(topic0 common.Hash, topics []common.Hash, data []byte) types.Log {
	return types.Log{
		Topics:      append([]common.Hash{topic0}, topics...),
		Data:        data,
		TxHash:      common.HexToHash("0xabc1230000000000000000000000000000000000000000000000000000000000"),
		BlockNumber: 1000,
		Index:       7,
	}
}

func TestDecodeTransferSingle(t *testing.T) {
	ctfABI, err := ConditionalTokenABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	dec, err := NewDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	operator := common.HexToAddress("0x1111111111111111111111111111111111111111")
	from := common.HexToAddress("0x2222222222222222222222222222222222222222")
	to := common.HexToAddress("0x3333333333333333333333333333333333333333")
	assetID := ComposeAssetID(big.NewInt(42), 1)

	data, err := ctfABI.Events["TransferSingle"].Inputs.NonIndexed().Pack(assetID, big.NewInt(5_000_000))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	log := buildLog(TopicTransferSingle, []common.Hash{
		topicFromAddress(operator),
		topicFromAddress(from),
		topicFromAddress(to),
	}, data)

	if !dec.CanDecodeAsset(log) {
		t.Fatalf("expected log to be decodable")
	}

	transfers, err := dec.DecodeAsset(log)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(transfers) != 1 {
		t.Fatalf("expected one transfer, got %d", len(transfers))
	}

	transfer := transfers[0]
	if transfer.Kind != model.TransferSingle {
		t.Fatalf("kind mismatch: %s", transfer.Kind)
	}
	if transfer.From != from.Hex() || transfer.To != to.Hex() || transfer.Operator != operator.Hex() {
		t.Fatalf("parties mismatch: %+v", transfer)
	}
	if transfer.AssetID.Cmp(assetID) != 0 {
		t.Fatalf("asset id mismatch: %s", transfer.AssetID)
	}
	if transfer.Amount.Cmp(big.NewInt(5_000_000)) != 0 {
		t.Fatalf("amount mismatch: %s", transfer.Amount)
	}
	if transfer.BatchIndex != -1 {
		t.Fatalf("batch index should be -1 for singles, got %d", transfer.BatchIndex)
	}
	if transfer.LogIndex != 7 || transfer.BlockNumber != 1000 {
		t.Fatalf("position mismatch: %+v", transfer)
	}
}

func TestDecodeTransferBatch(t *testing.T) {
	ctfABI, err := ConditionalTokenABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	dec, err := NewDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	operator := common.HexToAddress("0x1111111111111111111111111111111111111111")
	from := common.HexToAddress("0x2222222222222222222222222222222222222222")
	to := common.HexToAddress("0x3333333333333333333333333333333333333333")

	ids := []*big.Int{
		ComposeAssetID(big.NewInt(42), 0),
		ComposeAssetID(big.NewInt(42), 1),
		ComposeAssetID(big.NewInt(99), 0),
	}
	amounts := []*big.Int{big.NewInt(100), big.NewInt(200), big.NewInt(300)}

	data, err := ctfABI.Events["TransferBatch"].Inputs.NonIndexed().Pack(ids, amounts)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	log := buildLog(TopicTransferBatch, []common.Hash{
		topicFromAddress(operator),
		topicFromAddress(from),
		topicFromAddress(to),
	}, data)

	transfers, err := dec.DecodeAsset(log)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(transfers) != 3 {
		t.Fatalf("expected three transfers, got %d", len(transfers))
	}

	for i, transfer := range transfers {
		if transfer.Kind != model.TransferBatch {
			t.Fatalf("kind mismatch at %d: %s", i, transfer.Kind)
		}
		if transfer.BatchIndex != i {
			t.Fatalf("batch index mismatch at %d: %d", i, transfer.BatchIndex)
		}
		if transfer.AssetID.Cmp(ids[i]) != 0 || transfer.Amount.Cmp(amounts[i]) != 0 {
			t.Fatalf("payload mismatch at %d: %+v", i, transfer)
		}
	}
}

func TestDecodeStablecoin(t *testing.T) {
	usdcABI, err := StablecoinABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}

	dec, err := NewDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	from := common.HexToAddress("0x2222222222222222222222222222222222222222")
	to := common.HexToAddress("0x3333333333333333333333333333333333333333")

	data, err := usdcABI.Events["Transfer"].Inputs.NonIndexed().Pack(big.NewInt(1_500_000))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	log := buildLog(TopicStablecoinTransfer, []common.Hash{
		topicFromAddress(from),
		topicFromAddress(to),
	}, data)

	if !dec.IsStablecoinTransfer(log) {
		t.Fatalf("expected stablecoin transfer")
	}

	transfer, err := dec.DecodeStablecoin(log)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if transfer.From != from.Hex() || transfer.To != to.Hex() {
		t.Fatalf("parties mismatch: %+v", transfer)
	}
	if transfer.Amount.Cmp(big.NewInt(1_500_000)) != 0 {
		t.Fatalf("amount mismatch: %s", transfer.Amount)
	}
}

func TestDecodeMalformed(t *testing.T) {
	dec, err := NewDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	// Wrong topic arity for an ERC1155 transfer.
	short := buildLog(TopicTransferSingle, []common.Hash{
		topicFromAddress(common.HexToAddress("0x01")),
	}, nil)
	if _, err := dec.DecodeAsset(short); err == nil {
		t.Fatalf("expected error for short topics")
	}

	// Unknown topic0.
	unknown := buildLog(common.HexToHash("0xdead"), nil, nil)
	if dec.CanDecodeAsset(unknown) {
		t.Fatalf("unknown topic0 should not be decodable")
	}
	if _, err := dec.DecodeAsset(unknown); err == nil {
		t.Fatalf("expected error for unknown topic0")
	}

	// Truncated data payload.
	garbage := buildLog(TopicTransferSingle, []common.Hash{
		topicFromAddress(common.HexToAddress("0x01")),
		topicFromAddress(common.HexToAddress("0x02")),
		topicFromAddress(common.HexToAddress("0x03")),
	}, []byte{0x01, 0x02})
	if _, err := dec.DecodeAsset(garbage); err == nil {
		t.Fatalf("expected error for truncated data")
	}

	// ERC20 transfer with missing indexed parties.
	if _, err := dec.DecodeStablecoin(buildLog(TopicStablecoinTransfer, nil, nil)); err == nil {
		t.Fatalf("expected error for missing parties")
	}
}
