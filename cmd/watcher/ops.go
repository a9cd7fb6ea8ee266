package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/skudskud/polycool-copy-sub003/internal/config"
	"github.com/skudskud/polycool-copy-sub003/internal/marketdata"
	"github.com/skudskud/polycool-copy-sub003/internal/storage/postgres"
	"github.com/skudskud/polycool-copy-sub003/internal/subscription"
	"github.com/skudskud/polycool-copy-sub003/internal/watchlist"
)

// runPricePoller keeps the poll cache warm for every subscribed
// market. It is the mid-priority price source: fresher than on-demand
// API hits, coarser than the live stream.
func runPricePoller(ctx context.Context, subs *subscription.Manager, api *marketdata.APIClient, cache *marketdata.PollCache, cfg config.Config, logger *zap.Logger) {
	interval := cfg.PollCacheTTL / 2
	if interval <= 0 {
		interval = 2*time.Minute + 30*time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var refreshed, failed int
		for _, marketID := range subscription.MarketIDs(subs.Subscribed()) {
			snapshot, err := api.FetchPrice(ctx, marketID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				failed++
				continue
			}
			if err := cache.Put(ctx, snapshot); err != nil {
				failed++
				continue
			}
			refreshed++
		}

		if refreshed+failed > 0 {
			logger.Debug("poll cache refreshed",
				zap.Int("refreshed", refreshed),
				zap.Int("failed", failed),
			)
		}
	}
}

// runMarketPruner drops resolved and positionless markets on a slow
// cadence so the subscription ranking query stays small.
func runMarketPruner(ctx context.Context, store *postgres.Store, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pruned, err := store.PruneMarkets(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("market prune failed", zap.Error(err))
			}
			continue
		}
		if pruned > 0 {
			logger.Info("pruned inactive markets", zap.Int64("markets", pruned))
		}
	}
}

// runOpsServer serves the operational read surface: liveness, the
// current watch-list, subscription state, and aggregated prices.
func runOpsServer(ctx context.Context, addr string, aggregator *marketdata.Aggregator, manager *watchlist.Manager, subs *subscription.Manager, logger *zap.Logger) {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/watchlist", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, manager.Current().Addresses())
	})

	mux.HandleFunc("/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		if subs == nil {
			http.Error(w, "stream not configured", http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]interface{}{
			"state":  subs.State().String(),
			"assets": subs.Subscribed(),
		})
	})

	mux.HandleFunc("/prices/", func(w http.ResponseWriter, r *http.Request) {
		marketID := strings.TrimPrefix(r.URL.Path, "/prices/")
		if marketID == "" {
			http.Error(w, "market id required", http.StatusBadRequest)
			return
		}
		snapshot, err := aggregator.GetPrice(r.Context(), marketID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, snapshot)
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("ops server listening", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("ops server failed", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(value); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
