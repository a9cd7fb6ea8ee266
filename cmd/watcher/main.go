package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "watcher",
		Short:        "Settlement event watcher for copy-traded prediction markets",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run live settlement ingestion",
		RunE:  runWatcher,
	}

	runCmd.Flags().String("rpc", "", "chain RPC URL")
	runCmd.Flags().Float64("rpc-rate-limit", 0, "RPC requests per second, 0 disables limiting")
	runCmd.Flags().String("conditional-tokens", "", "conditional tokens contract address")
	runCmd.Flags().String("stablecoin", "", "collateral token contract address")
	runCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	runCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means follow the head")
	runCmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	runCmd.Flags().Duration("poll-interval", 2*time.Second, "head poll interval")
	runCmd.Flags().String("out", "", "optional trades JSONL path")
	runCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	runCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	runCmd.Flags().String("redis-addr", "", "Redis address for the poll cache and batch channel")
	runCmd.Flags().String("http-addr", "", "optional ops HTTP listen address")
	runCmd.Flags().String("directory-url", "", "watched address directory base URL")
	runCmd.Flags().Duration("directory-refresh", time.Minute, "directory refresh interval")
	runCmd.Flags().Float64("directory-rate-limit", 2, "directory requests per second")
	runCmd.Flags().String("stream-url", "", "market-channel websocket URL")
	runCmd.Flags().String("markets-api-url", "", "markets API base URL")
	runCmd.Flags().Float64("markets-rate-limit", 5, "markets API requests per second")
	runCmd.Flags().Duration("price-freshness", 5*time.Minute, "max snapshot age before falling to the next source")
	runCmd.Flags().Duration("poll-cache-ttl", 5*time.Minute, "poll cache entry TTL")
	runCmd.Flags().Int("max-subscriptions", 500, "subscription set cap")
	runCmd.Flags().Duration("subscription-refresh", 60*time.Second, "subscription refresh interval")
	runCmd.Flags().Duration("backfill-lookback", 2*time.Hour, "history window for newly watched addresses")
	runCmd.Flags().Duration("block-time", 2*time.Second, "estimated block time for lookback conversion")
	runCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().Duration("max-retry-backoff", 30*time.Second, "retry backoff cap")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "Backfill recent history for watched addresses",
		RunE:  runBackfill,
	}

	backfillCmd.Flags().String("rpc", "", "chain RPC URL")
	backfillCmd.Flags().Float64("rpc-rate-limit", 0, "RPC requests per second, 0 disables limiting")
	backfillCmd.Flags().String("conditional-tokens", "", "conditional tokens contract address")
	backfillCmd.Flags().String("stablecoin", "", "collateral token contract address")
	backfillCmd.Flags().StringSlice("address", nil, "addresses to backfill (comma-separated); empty uses the directory")
	backfillCmd.Flags().String("directory-url", "", "watched address directory base URL")
	backfillCmd.Flags().Duration("lookback", 2*time.Hour, "history window")
	backfillCmd.Flags().Duration("block-time", 2*time.Second, "estimated block time for lookback conversion")
	backfillCmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	backfillCmd.Flags().String("out", "", "optional trades JSONL path")
	backfillCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	backfillCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	backfillCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	backfillCmd.Flags().Duration("max-retry-backoff", 30*time.Second, "retry backoff cap")
	backfillCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(backfillCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
