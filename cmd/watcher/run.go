package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skudskud/polycool-copy-sub003/internal/backfill"
	"github.com/skudskud/polycool-copy-sub003/internal/chain"
	"github.com/skudskud/polycool-copy-sub003/internal/config"
	"github.com/skudskud/polycool-copy-sub003/internal/correlate"
	"github.com/skudskud/polycool-copy-sub003/internal/decoder"
	"github.com/skudskud/polycool-copy-sub003/internal/ingest"
	"github.com/skudskud/polycool-copy-sub003/internal/marketdata"
	"github.com/skudskud/polycool-copy-sub003/internal/model"
	"github.com/skudskud/polycool-copy-sub003/internal/sink"
	"github.com/skudskud/polycool-copy-sub003/internal/storage/postgres"
	"github.com/skudskud/polycool-copy-sub003/internal/subscription"
	"github.com/skudskud/polycool-copy-sub003/internal/watchlist"
)

// tradeBatchChannel is the Redis pub/sub channel carrying flushed
// trade batches.
const tradeBatchChannel = "watcher:trades"

func runWatcher(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
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

	manager := watchlist.NewManager(directoryOrNil(cfg), cfg.DirectoryRefresh, logger)
	engine := correlate.NewEngine(dec, manager, logger)

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
	}

	var store *postgres.Store
	var sinks []sink.TradeSink
	if cfg.PGDSN != "" {
		store, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
	}
	if cfg.Out != "" {
		sinks = append(sinks, sink.NewJsonlSink(cfg.Out))
	}

	// Market data read path: live stream cache, Redis poll cache,
	// authoritative API, merged by freshness.
	streamCache := marketdata.NewStreamCache()
	var pollCache *marketdata.PollCache
	if rdb != nil {
		pollCache = marketdata.NewPollCache(rdb, cfg.PollCacheTTL)
	}
	var apiClient *marketdata.APIClient
	if cfg.MarketsAPIURL != "" {
		apiClient = marketdata.NewAPIClient(cfg.MarketsAPIURL, cfg.MarketsRateLimit)
	}
	aggregator := newAggregator(streamCache, pollCache, apiClient, cfg, logger)

	// Selective live-stream subscriptions follow watched-market
	// activity recorded by the Postgres sink.
	var subManager *subscription.Manager
	if cfg.StreamURL != "" && store != nil {
		handler := subscription.NewStreamHandler(streamCache, logger)
		wsClient, err := subscription.NewClient(ctx, cfg.StreamURL, nil, handler.Handle, logger)
		if err != nil {
			return fmt.Errorf("connect stream: %w", err)
		}
		defer wsClient.Close()

		subManager = subscription.NewManager(wsClient, store, subscription.BinaryMarketAssets, subscription.ManagerConfig{
			MaxAssets:       cfg.MaxSubscriptions,
			RefreshInterval: cfg.SubscriptionRefresh,
		}, logger)
		subManager.AddSignal(func(ctx context.Context) ([]model.WatchedMarket, error) {
			return store.ListActiveAddressMarkets(ctx, time.Now().UTC().Add(-cfg.BackfillLookback), cfg.MaxSubscriptions)
		})
		subManager.AddSignal(func(ctx context.Context) ([]model.WatchedMarket, error) {
			return store.ListRecentTradeMarkets(ctx, time.Now().UTC().Add(-cfg.BackfillLookback), cfg.MaxSubscriptions)
		})
		go func() {
			if err := subManager.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("subscription manager stopped", zap.Error(err))
			}
		}()
	}

	if store != nil {
		sinks = append(sinks, &activitySink{store: store, subscriptions: subManager, logger: logger})
	}

	var tradeSink sink.TradeSink = sink.NewMulti(sinks...)
	if rdb != nil {
		tradeSink = sink.NewNotifier(tradeSink, redisDeliver(rdb), logger)
	}

	backfillService := backfill.NewService(backfill.Config{
		LookbackWindow:    cfg.BackfillLookback,
		BlockTime:         cfg.BlockTime,
		BatchSize:         cfg.BatchSize,
		ConditionalTokens: conditionalTokens,
		Stablecoin:        stablecoin,
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff,
		MaxRetryBackoff:   cfg.MaxRetryBackoff,
	}, chainClient, engine, tradeSink, logger)

	// Seed the watch-list with addresses from earlier runs: they get
	// filtered immediately and skip the new-address backfill below.
	if store != nil {
		known, err := store.ListKnownAddresses(ctx)
		if err != nil {
			logger.Warn("load known addresses failed", zap.Error(err))
		} else if len(known) > 0 {
			manager.Seed(known)
			logger.Info("watch-list seeded from store", zap.Int("addresses", len(known)))
		}
	}

	manager.OnAdded(func(hookCtx context.Context, address model.WatchedAddress) {
		if store != nil {
			if err := store.RecordKnownAddresses(hookCtx, []model.WatchedAddress{address}); err != nil {
				logger.Warn("record known address failed", zap.Error(err), zap.String("address", address.Address))
			}
		}
		go func() {
			head, err := chainClient.LatestBlockNumber(hookCtx)
			if err != nil {
				logger.Warn("backfill head lookup failed", zap.Error(err), zap.String("address", address.Address))
				return
			}
			if err := backfillService.Backfill(hookCtx, address, head); err != nil {
				logger.Warn("backfill failed", zap.Error(err), zap.String("address", address.Address))
			}
		}()
	})

	if cfg.DirectoryURL != "" {
		go manager.Run(ctx)
	} else {
		logger.Warn("no directory url configured, watch-list is empty and filtering is disabled")
	}

	if apiClient != nil && pollCache != nil && subManager != nil {
		go runPricePoller(ctx, subManager, apiClient, pollCache, cfg, logger)
	}

	if cfg.HTTPAddr != "" {
		go runOpsServer(ctx, cfg.HTTPAddr, aggregator, manager, subManager, logger)
	}

	runner := ingest.NewRunner(ingest.RunConfig{
		FromBlock:         cfg.FromBlock,
		ToBlock:           cfg.ToBlock,
		ConditionalTokens: conditionalTokens,
		Stablecoin:        stablecoin,
		BatchSize:         cfg.BatchSize,
		PollInterval:      cfg.PollInterval,
		CheckpointPath:    cfg.Checkpoint,
		CheckpointEnabled: cfg.CheckpointEnabled,
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff,
		MaxRetryBackoff:   cfg.MaxRetryBackoff,
	}, chainClient, engine, tradeSink, logger)
	if store != nil {
		runner.WithStateStore(store)
		go runMarketPruner(ctx, store, logger)
	}

	if chainID, err := chainClient.GetChainID(ctx); err == nil {
		logger.Info("connected", zap.String("chain_id", chainID.String()))
	}

	logger.Info("watcher start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("conditional_tokens", conditionalTokens.Hex()),
		zap.String("stablecoin", stablecoin.Hex()),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.Bool("postgres", store != nil),
		zap.Bool("redis", rdb != nil),
		zap.Bool("stream", subManager != nil),
	)

	return runner.Run(ctx)
}

// activitySink records market activity for subscription ranking after
// the primary stores accept the trades, then nudges the subscription
// manager so new markets go live without waiting a full interval.
type activitySink struct {
	store         *postgres.Store
	subscriptions *subscription.Manager
	logger        *zap.Logger
}

func (s *activitySink) UpsertTrades(ctx context.Context, trades []model.Trade) error {
	if err := s.store.UpsertTrades(ctx, trades); err != nil {
		return err
	}
	if err := s.store.RecordMarketActivity(ctx, trades); err != nil {
		s.logger.Warn("market activity update failed", zap.Error(err), zap.Int("trades", len(trades)))
		return nil
	}
	if s.subscriptions != nil && len(trades) > 0 {
		s.subscriptions.TriggerRefresh()
	}
	return nil
}

func redisDeliver(rdb *redis.Client) sink.DeliverFunc {
	return func(ctx context.Context, batch sink.TradeBatch) error {
		payload, err := json.Marshal(batch)
		if err != nil {
			return err
		}
		return rdb.Publish(ctx, tradeBatchChannel, payload).Err()
	}
}

func newAggregator(streamCache *marketdata.StreamCache, pollCache *marketdata.PollCache, apiClient *marketdata.APIClient, cfg config.Config, logger *zap.Logger) *marketdata.Aggregator {
	var poll marketdata.PollSource
	if pollCache != nil {
		poll = pollCache
	}
	var api marketdata.APISource
	if apiClient != nil {
		api = apiClient
	}
	return marketdata.NewAggregator(streamCache, poll, api, cfg.PriceFreshness, logger)
}

func directoryOrNil(cfg config.Config) watchlist.Directory {
	if cfg.DirectoryURL == "" {
		return nil
	}
	return watchlist.NewDirectoryClient(cfg.DirectoryURL, 0, cfg.DirectoryRateLimit)
}

func parseAddress(value, name string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%s must be a hex address, got %q", name, value)
	}
	return common.HexToAddress(value), nil
}
