package price

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/shopspring/decimal"
)

// Quote is a cached USD price.
type Quote struct {
	USD       decimal.Decimal
	FetchedAt time.Time
}

// Provider caches USD prices and refreshes them periodically.
type Provider struct {
	source   Source
	symbols  []string
	interval time.Duration
	clock    quartz.Clock
	logger   *slog.Logger

	mu     sync.RWMutex
	quotes map[string]Quote

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Provider.
type Option func(*Provider)

// WithClock sets the clock.
func WithClock(c quartz.Clock) Option {
	return func(p *Provider) {
		p.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProvider creates a provider for symbols refreshed every interval.
func NewProvider(source Source, symbols []string, interval time.Duration, opts ...Option) *Provider {
	syms := make([]string, len(symbols))
	for i, s := range symbols {
		syms[i] = strings.ToUpper(s)
	}
	p := &Provider{
		source:   source,
		symbols:  syms,
		interval: interval,
		clock:    quartz.NewReal(),
		logger:   slog.Default(),
		quotes:   make(map[string]Quote),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins the refresh loop. The first refresh runs immediately.
func (p *Provider) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("price provider started", "symbols", p.symbols, "interval", p.interval)
	return nil
}

// Stop halts the refresh loop. Cached prices stay readable.
func (p *Provider) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("price provider stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provider) run() {
	defer p.wg.Done()

	p.refreshLogged()

	ticker := p.clock.NewTicker(p.interval, "price")
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.refreshLogged()
		}
	}
}

func (p *Provider) refreshLogged() {
	if err := p.Refresh(p.ctx); err != nil && p.ctx.Err() == nil {
		p.logger.Warn("price refresh failed", "err", err)
	}
}

// Refresh fetches all symbols once. On error the previous prices are kept.
func (p *Provider) Refresh(ctx context.Context) error {
	prices, err := p.source.Prices(ctx, p.symbols)
	if err != nil {
		return err
	}

	now := p.clock.Now()
	p.mu.Lock()
	for sym, usd := range prices {
		sym = strings.ToUpper(sym)
		if usd.IsNegative() {
			p.logger.Warn("ignoring negative price", "symbol", sym, "usd", usd)
			continue
		}
		p.quotes[sym] = Quote{USD: usd, FetchedAt: now}
	}
	p.mu.Unlock()

	p.logger.Debug("prices refreshed", "count", len(prices))
	return nil
}

// USD returns the last price for symbol and its age.
func (p *Provider) USD(symbol string) (decimal.Decimal, time.Duration, bool) {
	p.mu.RLock()
	q, ok := p.quotes[strings.ToUpper(symbol)]
	p.mu.RUnlock()
	if !ok {
		return decimal.Zero, 0, false
	}
	return q.USD, p.clock.Since(q.FetchedAt), true
}

// Value converts amount base units of a currency with decimals to USD.
func (p *Provider) Value(symbol string, amount *big.Int, decimals uint8) (decimal.Decimal, bool) {
	if amount == nil {
		return decimal.Zero, false
	}
	usd, _, ok := p.USD(symbol)
	if !ok {
		return decimal.Zero, false
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).Mul(usd), true
}
