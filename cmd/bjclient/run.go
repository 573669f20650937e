package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/blackjack-market/internal/config"
	"github.com/rickgao/blackjack-market/internal/database"
	"github.com/rickgao/blackjack-market/internal/engine"
	"github.com/rickgao/blackjack-market/internal/heads"
	"github.com/rickgao/blackjack-market/internal/journal"
	"github.com/rickgao/blackjack-market/internal/metrics"
	"github.com/rickgao/blackjack-market/internal/price"
	"github.com/rickgao/blackjack-market/internal/pricing"
	"github.com/rickgao/blackjack-market/internal/version"
)

// RunCmd runs the client until interrupted.
type RunCmd struct {
	Paused bool `help:"Start with scheduled polling paused."`
}

func (c *RunCmd) Run() error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Info("starting bjclient",
		"version", version.Version,
		"commit", version.Commit,
		"config", cli.Config,
		"instance_id", cfg.Instance.ID,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	eth, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}
	defer eth.Close()

	wallet, closeWallet, err := newWallet(ctx, cfg, eth, logger)
	if err != nil {
		return err
	}
	defer closeWallet()

	reader := newReader(cfg, eth, logger)
	collectors := metrics.New()

	opts := []engine.Option{
		engine.WithLogger(logger.With("component", "engine")),
		engine.WithRecorder(collectors),
		engine.WithPollResult(collectors.ObservePoll),
	}

	// Optional intent journal
	var (
		pool   *pgxpool.Pool
		writer *journal.Writer
	)
	if cfg.Journal.Enabled {
		logger.Info("connecting to journal database",
			"host", cfg.Journal.Database.Host,
			"port", cfg.Journal.Database.Port,
			"database", cfg.Journal.Database.Name,
		)
		pool, err = database.Connect(ctx, cfg.Journal.Database)
		if err != nil {
			return fmt.Errorf("connect journal database: %w", err)
		}
		defer pool.Close()

		if err := journal.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		writer = journal.NewWriter(journal.Config{
			InstanceID:    cfg.Instance.ID,
			Account:       wallet.Address(),
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
		}, pool, logger.With("component", "journal"))
		opts = append(opts, engine.WithRecorder(writer))
	}

	// Optional USD prices
	var prices *price.Provider
	if cfg.Price.URL != "" {
		src := price.NewHTTPSource(cfg.Price.URL, price.WithSourceLogger(logger.With("component", "price")))
		prices = price.NewProvider(src, cfg.Price.Symbols, cfg.Price.RefreshInterval,
			price.WithLogger(logger.With("component", "price")))
		opts = append(opts, engine.WithPrices(prices))
	}

	// Optional new-head subscription
	var sub *heads.Subscriber
	if cfg.Chain.WSURL != "" {
		hcfg := heads.DefaultConfig()
		hcfg.URL = cfg.Chain.WSURL
		sub = heads.NewSubscriber(hcfg, logger.With("component", "heads"))
		opts = append(opts, engine.WithHeads(sub, func(h heads.Head) {
			collectors.ObserveHead(h.Number)
		}))
	}

	eng, err := engine.New(engine.ConfigFrom(cfg), engine.NewViews(reader), wallet, addresses(cfg.Chain.Contracts), opts...)
	if err != nil {
		return err
	}
	if c.Paused {
		eng.Pause()
	}

	// Start in dependency order; stop in reverse.
	var stops []func(context.Context) error
	start := func(name string, startFn func(context.Context) error, stopFn func(context.Context) error) error {
		if err := startFn(ctx); err != nil {
			return fmt.Errorf("start %s: %w", name, err)
		}
		stops = append(stops, stopFn)
		return nil
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		for i := len(stops) - 1; i >= 0; i-- {
			if err := stops[i](shutdownCtx); err != nil {
				logger.Warn("shutdown error", "error", err)
			}
		}
	}()

	if writer != nil {
		if err := start("journal", writer.Start, writer.Stop); err != nil {
			return err
		}
	}
	if prices != nil {
		if err := start("price provider", prices.Start, prices.Stop); err != nil {
			return err
		}
	}
	if sub != nil {
		if err := start("head subscriber", sub.Start, sub.Stop); err != nil {
			return err
		}
	}
	if err := start("engine", eng.Start, eng.Stop); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           newHandler(cfg, eng, collectors, sub, pool),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Metrics.Port, "metrics_path", cfg.Metrics.Path)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	logger.Info("bjclient running",
		"account", eng.Account().Hex(),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	follow(ctx, eng, collectors, logger)

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("health server shutdown", "error", err)
	}
	return nil
}

// follow logs derived view changes and intent transitions until ctx is done.
func follow(ctx context.Context, eng *engine.Engine, collectors *metrics.Collectors, logger *slog.Logger) {
	views := eng.Views()
	updates := eng.Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-views:
			collectors.ObserveView(v)
			logger.Info("game view",
				"game_id", v.GameID,
				"phase", v.Phase,
				"player", v.Snapshot.PlayerTotal,
				"dealer", v.Snapshot.DealerTotal,
				"window_open", v.TradingWindowOpen,
				"can_act_in", v.SecondsUntilCanAct,
				"win_odds", fmt.Sprintf("%.0f%%", v.WinOdds),
				"yes", pricing.FormatPercent(v.Market.YesPrice),
				"stale", v.Stale,
				"market_stale", v.Market.Stale,
				"disconnected", v.Disconnected,
			)
		case p := <-updates:
			attrs := []any{
				"id", p.ID,
				"kind", p.Kind,
				"status", p.Status,
				"game_id", p.GameID,
			}
			if p.Stage != "" {
				attrs = append(attrs, "stage", p.Stage, "step", fmt.Sprintf("%d/%d", p.Step, p.Steps))
			}
			if p.HasHash() {
				attrs = append(attrs, "hash", p.Hash.Hex())
			}
			if p.Err != nil {
				attrs = append(attrs, "error", p.Err, "reason", p.Reason)
				logger.Warn("intent update", attrs...)
				continue
			}
			logger.Info("intent update", attrs...)
		}
	}
}

// newHandler serves health, the current view and metrics.
func newHandler(cfg *config.ClientConfig, eng *engine.Engine, collectors *metrics.Collectors, sub *heads.Subscriber, pool *pgxpool.Pool) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		v := eng.View()
		switch {
		case v.Disconnected:
			health.Status = "unhealthy"
			health.Components["chain"] = "disconnected"
		case v.Stale:
			health.Status = "degraded"
			health.Components["chain"] = "stale"
		default:
			health.Components["chain"] = "connected"
		}

		if stale := eng.Store().StaleKinds(); len(stale) > 0 {
			health.Components["reads"] = map[string]any{"status": "stale", "consecutive_failures": stale}
			if health.Status == "healthy" {
				health.Status = "degraded"
			}
		}

		if sub != nil {
			if sub.Connected() {
				health.Components["heads"] = map[string]any{"status": "connected", "block": sub.Latest()}
			} else {
				health.Components["heads"] = "disconnected"
				if health.Status == "healthy" {
					health.Status = "degraded"
				}
			}
		}

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Components["journal"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
				if health.Status == "healthy" {
					health.Status = "degraded"
				}
			} else {
				health.Components["journal"] = "connected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/view", func(w http.ResponseWriter, r *http.Request) {
		v := eng.View()
		h := eng.Store().Holdings()
		out := map[string]any{
			"account":     eng.Account().Hex(),
			"view":        v.Derived,
			"snapshot":    v.Snapshot,
			"holdings":    h,
			"claimable":   eng.Store().Claimable(),
			"pool_tier":   eng.PoolTier().String(),
			"pending":     eng.Orchestrator().Pending(),
			"instance_id": cfg.Instance.ID,
			"stale_reads": eng.Store().StaleKinds(),
		}
		if usd, ok := eng.PoolValueUSD(); ok {
			out["pool_usd"] = usd.StringFixed(2)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})

	mux.Handle(cfg.Metrics.Path, collectors.Handler())

	return mux
}
