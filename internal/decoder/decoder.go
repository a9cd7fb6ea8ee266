// Package decoder turns raw chain logs into typed transfer events. A
// malformed payload yields an error for the caller to log and skip; it
// never halts block processing.
package decoder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/skudskud/polycool-copy-sub003/internal/model"
)

// Decoder decodes conditional-token and stablecoin transfer logs using
// a static topic0 to event-kind map.
type Decoder struct {
	ctfABI    abi.ABI
	usdcABI   abi.ABI
	assetKind map[common.Hash]model.TransferKind
}

// NewDecoder builds a Decoder from the embedded ABIs.
func NewDecoder() (*Decoder, error) {
	ctfABI, err := ConditionalTokenABI()
	if err != nil {
		return nil, fmt.Errorf("conditional token abi: %w", err)
	}
	usdcABI, err := StablecoinABI()
	if err != nil {
		return nil, fmt.Errorf("stablecoin abi: %w", err)
	}

	return &Decoder{
		ctfABI:  ctfABI,
		usdcABI: usdcABI,
		assetKind: map[common.Hash]model.TransferKind{
			TopicTransferSingle: model.TransferSingle,
			TopicTransferBatch:  model.TransferBatch,
		},
	}, nil
}

// CanDecodeAsset reports whether the log's topic0 is a recognized
// conditional-token transfer.
func (d *Decoder) CanDecodeAsset(log types.Log) bool {
	if len(log.Topics) == 0 {
		return false
	}
	_, ok := d.assetKind[log.Topics[0]]
	return ok
}

// IsStablecoinTransfer reports whether the log's topic0 is the ERC20
// Transfer signature.
func (d *Decoder) IsStablecoinTransfer(log types.Log) bool {
	return len(log.Topics) > 0 && log.Topics[0] == TopicStablecoinTransfer
}

// DecodeAsset decodes a conditional-token transfer log. Batch events
// expand into one AssetTransfer per (id, value) pair, preserving the
// position inside the batch for identity uniqueness.
func (d *Decoder) DecodeAsset(log types.Log) ([]model.AssetTransfer, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("missing topic0")
	}
	kind, ok := d.assetKind[log.Topics[0]]
	if !ok {
		return nil, fmt.Errorf("unsupported topic0: %s", log.Topics[0].Hex())
	}

	operator, from, to, err := parseTransferParties(log)
	if err != nil {
		return nil, err
	}

	base := model.AssetTransfer{
		Kind:        kind,
		Operator:    operator.Hex(),
		From:        from.Hex(),
		To:          to.Hex(),
		TxHash:      log.TxHash.Hex(),
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
	}

	switch kind {
	case model.TransferSingle:
		event := d.ctfABI.Events["TransferSingle"]
		values, err := event.Inputs.NonIndexed().Unpack(log.Data)
		if err != nil {
			return nil, fmt.Errorf("unpack TransferSingle: %w", err)
		}
		if len(values) != 2 {
			return nil, fmt.Errorf("unexpected TransferSingle values: %d", len(values))
		}
		id, err := asBigInt(values[0])
		if err != nil {
			return nil, err
		}
		amount, err := asBigInt(values[1])
		if err != nil {
			return nil, err
		}
		transfer := base
		transfer.AssetID = id
		transfer.Amount = amount
		transfer.BatchIndex = -1
		return []model.AssetTransfer{transfer}, nil

	case model.TransferBatch:
		event := d.ctfABI.Events["TransferBatch"]
		values, err := event.Inputs.NonIndexed().Unpack(log.Data)
		if err != nil {
			return nil, fmt.Errorf("unpack TransferBatch: %w", err)
		}
		if len(values) != 2 {
			return nil, fmt.Errorf("unexpected TransferBatch values: %d", len(values))
		}
		ids, ok := values[0].([]*big.Int)
		if !ok {
			return nil, fmt.Errorf("batch ids type %T", values[0])
		}
		amounts, ok := values[1].([]*big.Int)
		if !ok {
			return nil, fmt.Errorf("batch values type %T", values[1])
		}
		if len(ids) != len(amounts) {
			return nil, fmt.Errorf("batch length mismatch: %d ids, %d values", len(ids), len(amounts))
		}

		transfers := make([]model.AssetTransfer, 0, len(ids))
		for i := range ids {
			transfer := base
			transfer.AssetID = ids[i]
			transfer.Amount = amounts[i]
			transfer.BatchIndex = i
			transfers = append(transfers, transfer)
		}
		return transfers, nil

	default:
		return nil, fmt.Errorf("unsupported transfer kind: %s", kind)
	}
}

// DecodeStablecoin decodes an ERC20 Transfer log.
func (d *Decoder) DecodeStablecoin(log types.Log) (model.StablecoinTransfer, error) {
	if len(log.Topics) != 3 {
		return model.StablecoinTransfer{}, fmt.Errorf("expected 3 topics, got %d", len(log.Topics))
	}
	if log.Topics[0] != TopicStablecoinTransfer {
		return model.StablecoinTransfer{}, fmt.Errorf("unsupported topic0: %s", log.Topics[0].Hex())
	}

	event := d.usdcABI.Events["Transfer"]
	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return model.StablecoinTransfer{}, fmt.Errorf("unpack Transfer: %w", err)
	}
	if len(values) != 1 {
		return model.StablecoinTransfer{}, fmt.Errorf("unexpected Transfer values: %d", len(values))
	}
	amount, err := asBigInt(values[0])
	if err != nil {
		return model.StablecoinTransfer{}, err
	}

	return model.StablecoinTransfer{
		From:        common.BytesToAddress(log.Topics[1].Bytes()).Hex(),
		To:          common.BytesToAddress(log.Topics[2].Bytes()).Hex(),
		Amount:      amount,
		TxHash:      log.TxHash.Hex(),
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
	}, nil
}

func parseTransferParties(log types.Log) (operator, from, to common.Address, err error) {
	if len(log.Topics) != 4 {
		return operator, from, to, fmt.Errorf("expected 4 topics, got %d", len(log.Topics))
	}
	operator = common.BytesToAddress(log.Topics[1].Bytes())
	from = common.BytesToAddress(log.Topics[2].Bytes())
	to = common.BytesToAddress(log.Topics[3].Bytes())
	return operator, from, to, nil
}

func asBigInt(value interface{}) (*big.Int, error) {
	parsed, ok := value.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected value type %T", value)
	}
	return parsed, nil
}
