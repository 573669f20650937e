package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rickgao/blackjack-market/internal/chain"
	"github.com/rickgao/blackjack-market/internal/config"
	"github.com/rickgao/blackjack-market/internal/game"
	"github.com/rickgao/blackjack-market/internal/heads"
	"github.com/rickgao/blackjack-market/internal/poller"
	"github.com/rickgao/blackjack-market/internal/price"
	"github.com/rickgao/blackjack-market/internal/snapshot"
	"github.com/rickgao/blackjack-market/internal/txn"
)

// Job names.
const (
	JobGame      = "game"
	JobMarket    = "market"
	JobHoldings  = "holdings"
	JobClaimable = "claimable"
	JobFees      = "fees"
	JobPool      = "pool"
)

// Config holds engine settings.
type Config struct {
	GameInterval      time.Duration
	MarketInterval    time.Duration
	HoldingsInterval  time.Duration
	ClaimableInterval time.Duration
	FeesInterval      time.Duration
	PoolInterval      time.Duration // 0 disables the pool job
	PollTimeout       time.Duration // Per-run timeout, 0 for none

	ClaimableMax uint64
	Game         game.Config
	Tick         time.Duration

	QuoteBufferBP uint64
	WaitTimeout   time.Duration
	PoolProbe     *big.Int // Token units quoted by the pool job
	NativeSymbol  string   // Price provider symbol of the native currency
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		GameInterval:      config.DefaultGameInterval,
		MarketInterval:    config.DefaultMarketInterval,
		HoldingsInterval:  config.DefaultHoldingsInterval,
		ClaimableInterval: config.DefaultClaimableInterval,
		FeesInterval:      config.DefaultFeesInterval,
		PoolInterval:      config.DefaultPoolInterval,
		ClaimableMax:      config.DefaultClaimableMax,
		Game:              game.DefaultConfig(),
		Tick:              config.DefaultTick,
		QuoteBufferBP:     config.DefaultQuoteBufferBP,
		WaitTimeout:       config.DefaultWaitTimeout,
		PoolProbe:         new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		NativeSymbol:      "ETH",
	}
}

// ConfigFrom builds an engine Config from a loaded client configuration.
func ConfigFrom(c *config.ClientConfig) Config {
	cfg := DefaultConfig()
	cfg.GameInterval = c.Polling.GameInterval
	cfg.MarketInterval = c.Polling.MarketInterval
	cfg.HoldingsInterval = c.Polling.HoldingsInterval
	cfg.ClaimableInterval = c.Polling.ClaimableInterval
	cfg.FeesInterval = c.Polling.FeesInterval
	cfg.PoolInterval = c.Polling.PoolInterval
	cfg.ClaimableMax = uint64(c.Polling.ClaimableMax)
	cfg.Game = game.Config{
		VRFTimeout:      c.Game.VRFTimeout,
		TradingDelay:    c.Game.TradingDelay,
		DisconnectAfter: c.Game.DisconnectAfter,
	}
	cfg.Tick = c.Game.Tick
	cfg.QuoteBufferBP = uint64(c.Orchestrator.QuoteBufferBP)
	cfg.WaitTimeout = c.Orchestrator.WaitTimeout
	if c.Chain.Contracts.Quoter == "" {
		cfg.PoolInterval = 0
	}
	return cfg
}

// HeadSource publishes new chain heads.
type HeadSource interface {
	Heads() <-chan heads.Head
}

// Engine runs one account's client.
type Engine struct {
	cfg     Config
	views   Views
	calls   chain.Calls
	addrs   chain.Addresses
	account common.Address
	clock   quartz.Clock
	logger  *slog.Logger

	store     *snapshot.Store
	watcher   *game.Watcher
	scheduler *poller.Scheduler
	orch      *txn.Orchestrator

	prices    *price.Provider
	headSrc   HeadSource
	onHead    []func(heads.Head)
	recorders []txn.Recorder
	onResult  poller.ResultFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock sets the clock shared by the watcher, scheduler and orchestrator.
func WithClock(c quartz.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithRecorder adds an intent transition observer.
func WithRecorder(r txn.Recorder) Option {
	return func(e *Engine) {
		e.recorders = append(e.recorders, r)
	}
}

// WithPollResult sets a callback invoked after every poll run.
func WithPollResult(fn poller.ResultFunc) Option {
	return func(e *Engine) {
		e.onResult = fn
	}
}

// WithPrices sets the USD price provider used for pool valuation.
func WithPrices(p *price.Provider) Option {
	return func(e *Engine) {
		e.prices = p
	}
}

// WithHeads makes new heads force the game and market jobs to run.
func WithHeads(src HeadSource, observers ...func(heads.Head)) Option {
	return func(e *Engine) {
		e.headSrc = src
		e.onHead = append(e.onHead, observers...)
	}
}

// New creates an Engine for wallet's account.
func New(cfg Config, views Views, wallet chain.Wallet, addrs chain.Addresses, opts ...Option) (*Engine, error) {
	if views == nil {
		return nil, fmt.Errorf("engine: views are required")
	}
	if wallet == nil {
		return nil, fmt.Errorf("engine: wallet is required")
	}

	e := &Engine{
		cfg:     cfg,
		views:   views,
		calls:   chain.NewCalls(addrs),
		addrs:   addrs,
		account: wallet.Address(),
		clock:   quartz.NewReal(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.PoolProbe == nil || e.cfg.PoolProbe.Sign() <= 0 {
		e.cfg.PoolProbe = DefaultConfig().PoolProbe
	}

	e.store = snapshot.NewStore(e.logger.With("component", "store"))
	e.watcher = game.NewWatcher(game.NewMachine(cfg.Game), e.clock, cfg.Tick, e.logger.With("component", "game"))

	schedOpts := []poller.Option{poller.WithClock(e.clock)}
	if e.onResult != nil {
		schedOpts = append(schedOpts, poller.WithResultFunc(e.onResult))
	}
	e.scheduler = poller.New(e.logger.With("component", "poller"), schedOpts...)

	orchOpts := []txn.Option{txn.WithClock(e.clock), txn.WithLogger(e.logger.With("component", "txn"))}
	for _, r := range e.recorders {
		orchOpts = append(orchOpts, txn.WithRecorder(r))
	}
	e.orch = txn.New(
		txn.Config{WaitTimeout: cfg.WaitTimeout},
		wallet,
		e.store,
		liveFunds{views: views, account: e.account},
		e.scheduler,
		orchOpts...,
	)

	if err := e.registerJobs(); err != nil {
		return nil, err
	}
	return e, nil
}

// Account returns the account the engine plays for.
func (e *Engine) Account() common.Address { return e.account }

// Store returns the snapshot store.
func (e *Engine) Store() *snapshot.Store { return e.store }

// Orchestrator returns the transaction orchestrator.
func (e *Engine) Orchestrator() *txn.Orchestrator { return e.orch }

// View returns the derived game state now.
func (e *Engine) View() game.View { return e.watcher.View() }

// Views returns derived game state changes.
func (e *Engine) Views() <-chan game.View { return e.watcher.Views() }

// Updates returns intent transitions.
func (e *Engine) Updates() <-chan txn.PendingIntent { return e.orch.Updates() }

// Refresh forces the named jobs, or all jobs, to run now.
func (e *Engine) Refresh(jobs ...string) { e.scheduler.Refresh(jobs...) }

// Pause stops scheduled polls until Resume. Forced refreshes still run.
func (e *Engine) Pause() { e.scheduler.Pause() }

// Resume restarts scheduled polls and refreshes every view.
func (e *Engine) Resume() { e.scheduler.Resume() }

// Start begins polling and the derived-state tick.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	if err := e.watcher.Start(e.ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	if err := e.scheduler.Start(e.ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	if e.headSrc != nil {
		e.wg.Add(1)
		go e.followHeads()
	}

	e.logger.Info("engine started", "account", e.account.Hex(), "jobs", e.scheduler.Jobs())
	return nil
}

// Stop halts polling. In-flight transactions are not affected.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}

	var firstErr error
	if err := e.scheduler.Stop(ctx); err != nil {
		firstErr = fmt.Errorf("stop scheduler: %w", err)
	}
	if err := e.watcher.Stop(ctx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("stop watcher: %w", err)
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if firstErr == nil {
			firstErr = ctx.Err()
		}
	}

	e.logger.Info("engine stopped")
	return firstErr
}

func (e *Engine) followHeads() {
	defer e.wg.Done()

	ch := e.headSrc.Heads()
	for {
		select {
		case <-e.ctx.Done():
			return
		case h := <-ch:
			e.logger.Debug("new head", "block", h.Number)
			for _, fn := range e.onHead {
				fn(h)
			}
			e.scheduler.Refresh(JobGame, JobMarket)
		}
	}
}
