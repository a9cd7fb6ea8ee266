// Package ingest drives the live block loop: fetch logs, correlate
// trades, flush per block.
package ingest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/skudskud/polycool-copy-sub003/internal/chain"
	"github.com/skudskud/polycool-copy-sub003/internal/correlate"
	"github.com/skudskud/polycool-copy-sub003/internal/decoder"
	"github.com/skudskud/polycool-copy-sub003/internal/sink"
)

// RunConfig holds runtime settings for the ingest runner.
type RunConfig struct {
	FromBlock         uint64
	ToBlock           uint64 // 0 means follow the head
	ConditionalTokens common.Address
	Stablecoin        common.Address
	BatchSize         uint64
	PollInterval      time.Duration
	CheckpointPath    string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
	MaxRetryBackoff   time.Duration
}

// StateName keys the runner's row in the shared state store.
const StateName = "ingest"

// StateStore mirrors ingest progress into durable shared storage, so
// an operator can move hosts without carrying the checkpoint file.
type StateStore interface {
	LoadState(ctx context.Context, name string) (uint64, bool, error)
	SaveState(ctx context.Context, name string, block uint64) error
}

// Runner streams settlement logs from the chain, derives trades, and
// flushes them block by block. Blocks are processed sequentially in
// arrival order; a block's trades are written all-or-nothing before
// the checkpoint advances past it.
type Runner struct {
	cfg        RunConfig
	chain      *chain.Client
	engine     *correlate.Engine
	sink       sink.TradeSink
	logger     *zap.Logger
	checkpoint *CheckpointStore
	state      StateStore
}

// WithStateStore attaches a durable state mirror. The file checkpoint
// stays authoritative; state writes are best effort.
func (r *Runner) WithStateStore(state StateStore) *Runner {
	r.state = state
	return r
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, chainClient *chain.Client, engine *correlate.Engine, tradeSink sink.TradeSink, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Runner{
		cfg:        cfg,
		chain:      chainClient,
		engine:     engine,
		sink:       tradeSink,
		logger:     logger,
		checkpoint: NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled),
	}
}

// Run executes the ingestion loop until the context ends, the
// configured ToBlock is reached, or retries are exhausted. Retry
// exhaustion is the only fatal condition; it halts this task for
// operator intervention.
func (r *Runner) Run(ctx context.Context) error {
	if r.chain == nil {
		return fmt.Errorf("chain client is nil")
	}
	if r.engine == nil {
		return fmt.Errorf("correlation engine is nil")
	}
	if r.sink == nil {
		return fmt.Errorf("trade sink is nil")
	}
	if r.cfg.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}

	from := r.cfg.FromBlock
	if r.checkpoint != nil {
		cp, ok, err := r.checkpoint.Load()
		if err != nil {
			return err
		}
		if ok && cp.LastProcessedBlock >= from {
			from = cp.LastProcessedBlock + 1
			r.logger.Info("resume from checkpoint", zap.Uint64("last_processed", cp.LastProcessedBlock), zap.Uint64("from", from))
		}
	}
	if r.state != nil {
		block, ok, err := r.state.LoadState(ctx, StateName)
		if err != nil {
			r.logger.Warn("load shared state failed", zap.Error(err))
		} else if ok && block+1 > from {
			from = block + 1
			r.logger.Info("resume from shared state", zap.Uint64("last_processed", block), zap.Uint64("from", from))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		head, err := r.latestBlockWithRetry(ctx)
		if err != nil {
			return fmt.Errorf("get latest block: %w", err)
		}

		to := head
		if r.cfg.ToBlock > 0 && r.cfg.ToBlock < to {
			to = r.cfg.ToBlock
		}

		if from > to {
			if r.cfg.ToBlock > 0 && from > r.cfg.ToBlock {
				r.logger.Info("target block reached", zap.Uint64("to", r.cfg.ToBlock))
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.PollInterval):
			}
			continue
		}

		ranges, err := SplitRange(from, to, r.cfg.BatchSize)
		if err != nil {
			return err
		}

		for _, blockRange := range ranges {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			if err := r.processRange(ctx, blockRange); err != nil {
				return err
			}

			if r.checkpoint != nil {
				if err := r.checkpoint.Save(blockRange.To); err != nil {
					return err
				}
			}
			if r.state != nil {
				if err := r.state.SaveState(ctx, StateName, blockRange.To); err != nil {
					r.logger.Warn("save shared state failed", zap.Error(err), zap.Uint64("block", blockRange.To))
				}
			}
			from = blockRange.To + 1
		}
	}
}

// processRange fetches one batch of blocks and runs each block through
// the two-phase engine in order.
func (r *Runner) processRange(ctx context.Context, blockRange BlockRange) error {
	logs, err := r.filterLogsWithRetry(ctx, blockRange.From, blockRange.To)
	if err != nil {
		return fmt.Errorf("filter logs [%d, %d]: %w", blockRange.From, blockRange.To, err)
	}

	byBlock := groupByBlock(logs)
	blocks := sortedBlocks(byBlock)

	total := 0
	for _, blockNumber := range blocks {
		ts, err := r.blockTimestampWithRetry(ctx, blockNumber)
		if err != nil {
			return fmt.Errorf("block timestamp %d: %w", blockNumber, err)
		}

		trades := r.engine.ProcessBlock(blockNumber, time.Unix(int64(ts), 0).UTC(), byBlock[blockNumber])
		if len(trades) == 0 {
			continue
		}

		// All-or-nothing per block: the checkpoint only advances
		// after every trade of the block is in the sink.
		if err := r.sink.UpsertTrades(ctx, trades); err != nil {
			return fmt.Errorf("flush block %d: %w", blockNumber, err)
		}
		total += len(trades)
	}

	r.logger.Info("range complete",
		zap.Uint64("from", blockRange.From),
		zap.Uint64("to", blockRange.To),
		zap.Int("logs", len(logs)),
		zap.Int("trades", total),
	)
	return nil
}

func (r *Runner) filterLogsWithRetry(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	addresses := []common.Address{r.cfg.ConditionalTokens, r.cfg.Stablecoin}
	topics := [][]common.Hash{{
		decoder.TopicTransferSingle,
		decoder.TopicTransferBatch,
		decoder.TopicStablecoinTransfer,
	}}

	var logs []types.Log
	err := WithRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, r.cfg.MaxRetryBackoff, func(ctx context.Context) error {
		var err error
		logs, err = r.chain.FilterLogs(ctx, fromBlock, toBlock, addresses, topics)
		if err != nil {
			r.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", fromBlock), zap.Uint64("to", toBlock))
		}
		return err
	})
	return logs, err
}

func (r *Runner) blockTimestampWithRetry(ctx context.Context, blockNumber uint64) (uint64, error) {
	var ts uint64
	err := WithRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, r.cfg.MaxRetryBackoff, func(ctx context.Context) error {
		var err error
		ts, err = r.chain.BlockTimestamp(ctx, blockNumber)
		if err != nil {
			r.logger.Warn("block timestamp fetch failed", zap.Error(err), zap.Uint64("block_number", blockNumber))
		}
		return err
	})
	return ts, err
}

func (r *Runner) latestBlockWithRetry(ctx context.Context) (uint64, error) {
	var head uint64
	err := WithRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, r.cfg.MaxRetryBackoff, func(ctx context.Context) error {
		var err error
		head, err = r.chain.LatestBlockNumber(ctx)
		if err != nil {
			r.logger.Warn("latest block fetch failed", zap.Error(err))
		}
		return err
	})
	return head, err
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
