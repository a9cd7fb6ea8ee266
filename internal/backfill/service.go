// Package backfill re-scans a bounded historical range when a new
// address joins the watch-list, so its recent trades are not lost to
// the gap between directory updates.
package backfill

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/skudskud/polycool-copy-sub003/internal/chain"
	"github.com/skudskud/polycool-copy-sub003/internal/correlate"
	"github.com/skudskud/polycool-copy-sub003/internal/decoder"
	"github.com/skudskud/polycool-copy-sub003/internal/ingest"
	"github.com/skudskud/polycool-copy-sub003/internal/model"
	"github.com/skudskud/polycool-copy-sub003/internal/sink"
)

// Config bounds the historical scan.
type Config struct {
	// LookbackWindow is how far back in wall-clock time to scan.
	LookbackWindow time.Duration
	// BlockTime is the estimated per-block time used to convert the
	// window into blocks.
	BlockTime         time.Duration
	BatchSize         uint64
	ConditionalTokens common.Address
	Stablecoin        common.Address
	MaxRetries        int
	RetryBackoff      time.Duration
	MaxRetryBackoff   time.Duration
}

// Service runs the same decode and correlate path as live ingestion
// over a bounded historical range. Writes go through the duplicate-safe
// sink, so overlap with live processing is harmless.
type Service struct {
	cfg    Config
	chain  *chain.Client
	engine *correlate.Engine
	sink   sink.TradeSink
	logger *zap.Logger

	mu   sync.Mutex
	done map[string]struct{}
}

func NewService(cfg Config, chainClient *chain.Client, engine *correlate.Engine, tradeSink sink.TradeSink, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LookbackWindow <= 0 {
		cfg.LookbackWindow = 2 * time.Hour
	}
	if cfg.BlockTime <= 0 {
		cfg.BlockTime = 2 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2000
	}
	return &Service{
		cfg:    cfg,
		chain:  chainClient,
		engine: engine,
		sink:   tradeSink,
		logger: logger,
		done:   make(map[string]struct{}),
	}
}

// LookbackBlocks converts the configured window into a block count.
func (s *Service) LookbackBlocks() uint64 {
	return uint64(s.cfg.LookbackWindow / s.cfg.BlockTime)
}

// Range returns the inclusive scan range for an address observed at
// currentBlock. Trades before the range are never retroactively
// inserted.
func (s *Service) Range(currentBlock uint64) ingest.BlockRange {
	lookback := s.LookbackBlocks()
	from := uint64(0)
	if currentBlock > lookback {
		from = currentBlock - lookback
	}
	return ingest.BlockRange{From: from, To: currentBlock}
}

// Backfill scans the bounded range for one address. It runs at most
// once per address per process; repeat calls are no-ops.
func (s *Service) Backfill(ctx context.Context, address model.WatchedAddress, currentBlock uint64) error {
	key := common.HexToAddress(address.Address).Hex()
	s.mu.Lock()
	if _, ok := s.done[key]; ok {
		s.mu.Unlock()
		return nil
	}
	s.done[key] = struct{}{}
	s.mu.Unlock()

	scan := s.Range(currentBlock)
	s.logger.Info("backfill start",
		zap.String("address", key),
		zap.Uint64("from", scan.From),
		zap.Uint64("to", scan.To),
	)

	ranges, err := ingest.SplitRange(scan.From, scan.To, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	target := common.HexToAddress(address.Address)
	total := 0
	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		logs, err := s.fetchLogs(ctx, blockRange, target)
		if err != nil {
			return fmt.Errorf("backfill logs [%d, %d]: %w", blockRange.From, blockRange.To, err)
		}

		byBlock := groupByBlock(logs)
		for _, blockNumber := range sortedBlocks(byBlock) {
			ts, err := s.blockTimestamp(ctx, blockNumber)
			if err != nil {
				return fmt.Errorf("backfill timestamp %d: %w", blockNumber, err)
			}
			trades := s.engine.ProcessBlock(blockNumber, time.Unix(int64(ts), 0).UTC(), byBlock[blockNumber])
			if len(trades) == 0 {
				continue
			}
			if err := s.sink.UpsertTrades(ctx, trades); err != nil {
				return fmt.Errorf("backfill flush block %d: %w", blockNumber, err)
			}
			total += len(trades)
		}
	}

	s.logger.Info("backfill complete", zap.String("address", key), zap.Int("trades", total))
	return nil
}

// RunForAddresses backfills a batch of newly observed addresses. A
// failure is logged per address and does not abort the others.
func (s *Service) RunForAddresses(ctx context.Context, addresses []model.WatchedAddress, currentBlock uint64) {
	for _, address := range addresses {
		if err := s.Backfill(ctx, address, currentBlock); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("backfill failed", zap.String("address", address.Address), zap.Error(err))
		}
	}
}

// fetchLogs pulls the address-restricted asset transfers plus the
// address's stablecoin legs for one sub-range. The target address sits
// in an indexed topic position, so four filtered queries cover both
// directions of both contracts.
func (s *Service) fetchLogs(ctx context.Context, blockRange ingest.BlockRange, target common.Address) ([]types.Log, error) {
	addressTopic := common.BytesToHash(target.Bytes())
	assetTopics := decoder.AssetTransferTopics()

	queries := []struct {
		addresses []common.Address
		topics    [][]common.Hash
	}{
		// Asset transfers sent by the address (topic2 = from).
		{[]common.Address{s.cfg.ConditionalTokens}, [][]common.Hash{assetTopics, nil, {addressTopic}}},
		// Asset transfers received by the address (topic3 = to).
		{[]common.Address{s.cfg.ConditionalTokens}, [][]common.Hash{assetTopics, nil, nil, {addressTopic}}},
		// Stablecoin sent (topic1 = from).
		{[]common.Address{s.cfg.Stablecoin}, [][]common.Hash{{decoder.TopicStablecoinTransfer}, {addressTopic}}},
		// Stablecoin received (topic2 = to).
		{[]common.Address{s.cfg.Stablecoin}, [][]common.Hash{{decoder.TopicStablecoinTransfer}, nil, {addressTopic}}},
	}

	seen := make(map[string]struct{})
	merged := make([]types.Log, 0)
	for _, query := range queries {
		var logs []types.Log
		err := ingest.WithRetry(ctx, s.cfg.MaxRetries, s.cfg.RetryBackoff, s.cfg.MaxRetryBackoff, func(ctx context.Context) error {
			var err error
			logs, err = s.chain.FilterLogs(ctx, blockRange.From, blockRange.To, query.addresses, query.topics)
			if err != nil {
				s.logger.Warn("backfill filter logs failed", zap.Error(err), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
			}
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, log := range logs {
			id := fmt.Sprintf("%s:%d", log.TxHash.Hex(), log.Index)
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, log)
		}
	}
	return merged, nil
}

func (s *Service) blockTimestamp(ctx context.Context, blockNumber uint64) (uint64, error) {
	var ts uint64
	err := ingest.WithRetry(ctx, s.cfg.MaxRetries, s.cfg.RetryBackoff, s.cfg.MaxRetryBackoff, func(ctx context.Context) error {
		var err error
		ts, err = s.chain.BlockTimestamp(ctx, blockNumber)
		return err
	})
	return ts, err
}

func groupByBlock(logs []types.Log) map[uint64][]types.Log {
	byBlock := make(map[uint64][]types.Log)
	for _, log := range logs {
		byBlock[log.BlockNumber] = append(byBlock[log.BlockNumber], log)
	}
	return byBlock
}

func sortedBlocks(byBlock map[uint64][]types.Log) []uint64 {
	blocks := make([]uint64, 0, len(byBlock))
	for blockNumber := range byBlock {
		blocks = append(blocks, blockNumber)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })
	return blocks
}
