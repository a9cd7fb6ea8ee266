package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skudskud/polycool-copy-sub003/internal/backfill"
	"github.com/skudskud/polycool-copy-sub003/internal/chain"
	"github.com/skudskud/polycool-copy-sub003/internal/config"
	"github.com/skudskud/polycool-copy-sub003/internal/correlate"
	"github.com/skudskud/polycool-copy-sub003/internal/decoder"
	"github.com/skudskud/polycool-copy-sub003/internal/model"
	"github.com/skudskud/polycool-copy-sub003/internal/sink"
	"github.com/skudskud/polycool-copy-sub003/internal/storage/postgres"
	"github.com/skudskud/polycool-copy-sub003/internal/watchlist"
)

func runBackfill(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadBackfill(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	conditionalTokens, err := parseAddress(cfg.ConditionalTokens, "conditional-tokens")
	if err != nil {
		return err
	}
	stablecoin, err := parseAddress(cfg.Stablecoin, "stablecoin")
	if err != nil {
		return err
	}
	if len(cfg.Addresses) == 0 && cfg.DirectoryURL == "" {
		return fmt.Errorf("either --address or --directory-url is required")
	}
	if cfg.Out == "" && cfg.PGDSN == "" {
		return fmt.Errorf("at least one of --out and --pg-dsn is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL, cfg.RPCRateLimit)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	dec, err := decoder.NewDecoder()
	if err != nil {
		return err
	}

	targets, err := resolveTargets(ctx, cfg)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("no addresses to backfill")
	}

	engine := correlate.NewEngine(dec, newStaticWatchlist(targets), logger)

	var sinks []sink.TradeSink
	if cfg.Out != "" {
		sinks = append(sinks, sink.NewJsonlSink(cfg.Out))
	}
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		sinks = append(sinks, store)
	}

	service := backfill.NewService(backfill.Config{
		LookbackWindow:    cfg.Lookback,
		BlockTime:         cfg.BlockTime,
		BatchSize:         cfg.BatchSize,
		ConditionalTokens: conditionalTokens,
		Stablecoin:        stablecoin,
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff,
		MaxRetryBackoff:   cfg.MaxRetryBackoff,
	}, chainClient, engine, sink.NewMulti(sinks...), logger)

	head, err := chainClient.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("latest block: %w", err)
	}

	logger.Info("backfill start",
		zap.Int("addresses", len(targets)),
		zap.Duration("lookback", cfg.Lookback),
		zap.Uint64("head", head),
		zap.Uint64("lookback_blocks", service.LookbackBlocks()),
	)

	service.RunForAddresses(ctx, targets, head)
	return ctx.Err()
}

// resolveTargets prefers explicit addresses; otherwise it takes a
// one-shot directory snapshot.
func resolveTargets(ctx context.Context, cfg config.BackfillConfig) ([]model.WatchedAddress, error) {
	if len(cfg.Addresses) > 0 {
		targets := make([]model.WatchedAddress, 0, len(cfg.Addresses))
		for _, address := range cfg.Addresses {
			targets = append(targets, model.WatchedAddress{
				Address:    address,
				Kind:       model.AddressLeader,
				LastSeenAt: time.Now().UTC(),
			})
		}
		return targets, nil
	}

	client := watchlist.NewDirectoryClient(cfg.DirectoryURL, 0, 0)
	return client.FetchAddresses(ctx)
}

// staticWatchlist is a fixed membership set for one-shot runs.
type staticWatchlist struct {
	members map[string]struct{}
}

func newStaticWatchlist(targets []model.WatchedAddress) *staticWatchlist {
	members := make(map[string]struct{}, len(targets))
	for _, target := range targets {
		members[strings.ToLower(target.Address)] = struct{}{}
	}
	return &staticWatchlist{members: members}
}

func (w *staticWatchlist) IsWatched(address string) bool {
	_, ok := w.members[strings.ToLower(address)]
	return ok
}
