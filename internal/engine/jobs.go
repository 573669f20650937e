package engine

import (
	"context"
	"errors"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/blackjack-market/internal/chain"
	"github.com/rickgao/blackjack-market/internal/game"
	"github.com/rickgao/blackjack-market/internal/model"
	"github.com/rickgao/blackjack-market/internal/poller"
	"github.com/rickgao/blackjack-market/internal/snapshot"
)

func (e *Engine) registerJobs() error {
	jobs := []poller.Job{
		{Name: JobGame, Interval: e.cfg.GameInterval, Timeout: e.cfg.PollTimeout, Run: e.tracked(snapshot.KindGame, e.pollGame)},
		{Name: JobMarket, Interval: e.cfg.MarketInterval, Timeout: e.cfg.PollTimeout, Run: e.tracked(snapshot.KindMarket, e.pollMarket)},
		{Name: JobHoldings, Interval: e.cfg.HoldingsInterval, Timeout: e.cfg.PollTimeout, Run: e.tracked(snapshot.KindHoldings, e.pollHoldings)},
		{Name: JobClaimable, Interval: e.cfg.ClaimableInterval, Timeout: e.cfg.PollTimeout, Run: e.tracked(snapshot.KindClaimable, e.pollClaimable)},
		{Name: JobFees, Interval: e.cfg.FeesInterval, Timeout: e.cfg.PollTimeout, Run: e.tracked(snapshot.KindFees, e.pollFees)},
	}
	if e.cfg.PoolInterval > 0 {
		jobs = append(jobs, poller.Job{Name: JobPool, Interval: e.cfg.PoolInterval, Timeout: e.cfg.PollTimeout, Run: e.tracked(snapshot.KindPool, e.pollPool)})
	}

	for _, j := range jobs {
		if err := e.scheduler.Add(j); err != nil {
			return err
		}
	}
	return nil
}

// tracked records each run of fn as a read of kind, so a failing job leaves
// its last snapshot in place flagged stale.
func (e *Engine) tracked(kind snapshot.Kind, fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		err := fn(ctx)
		n := e.store.RecordRead(kind, err)
		if err != nil && n == e.disconnectAfter() {
			e.logger.Warn("reads failing, showing last known values", "snapshot", kind, "consecutive_failures", n, "error", err)
		}
		return err
	}
}

func (e *Engine) disconnectAfter() int {
	if e.cfg.Game.DisconnectAfter > 0 {
		return e.cfg.Game.DisconnectAfter
	}
	return game.DefaultConfig().DisconnectAfter
}

// pollGame reads the game display and hand at one block so the cards match
// the state they are shown with.
func (e *Engine) pollGame(ctx context.Context) error {
	g, err := e.readGame(ctx)
	if err != nil {
		e.watcher.ObserveFailure(err)
		return err
	}

	prev, had := e.store.Game()
	e.store.PutGame(g)
	events := e.watcher.Observe(g)

	if had && prev.GameID != g.GameID && prev.GameID != 0 {
		e.store.ForgetMarket(prev.GameID)
	}
	for _, ev := range events {
		switch ev {
		case game.EventNewGame:
			e.scheduler.Refresh(JobMarket, JobHoldings)
		case game.EventResolved:
			e.scheduler.Refresh(JobMarket, JobClaimable, JobHoldings)
		}
	}
	if g.MarketCreated && (!had || !prev.MarketCreated) {
		e.scheduler.Refresh(JobMarket)
	}
	return nil
}

func (e *Engine) readGame(ctx context.Context) (model.GameSnapshot, error) {
	n, err := e.views.BlockNumber(ctx)
	if err != nil {
		return model.GameSnapshot{}, err
	}
	at := e.views.At(n)

	var (
		g    model.GameSnapshot
		hand model.Hand
	)
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		g, err = at.GameDisplay(ctx, e.account)
		return err
	})
	eg.Go(func() error {
		var err error
		hand, err = at.Hand(ctx, e.account)
		return err
	})
	if err := eg.Wait(); err != nil {
		return model.GameSnapshot{}, err
	}

	if g.HasGame() {
		g.PlayerCards = hand.PlayerCards
		g.DealerCards = hand.DealerCards
	}
	g.BlockNumber = n
	g.FetchedAt = e.clock.Now()
	return g, nil
}

// pollMarket reads the market of the current game. It runs after the game
// job has established which game that is.
func (e *Engine) pollMarket(ctx context.Context) error {
	g, ok := e.store.Game()
	if !ok || !g.HasGame() || !g.MarketCreated {
		return nil
	}

	n, err := e.views.BlockNumber(ctx)
	if err != nil {
		e.watcher.ObserveMarketFailure(err)
		return err
	}
	m, err := e.views.At(n).MarketDisplay(ctx, g.GameID, e.account)
	if err != nil {
		e.watcher.ObserveMarketFailure(err)
		return err
	}
	m.BlockNumber = n
	m.FetchedAt = e.clock.Now()

	e.store.PutMarket(m)
	if stored, ok := e.store.Market(g.GameID); ok {
		e.watcher.ObserveMarket(stored)
	}
	return nil
}

// pollHoldings reads balances, allowance and NFTs at one block.
func (e *Engine) pollHoldings(ctx context.Context) error {
	n, err := e.views.BlockNumber(ctx)
	if err != nil {
		return err
	}
	at := e.views.At(n)

	h := model.Holdings{Account: e.account, BlockNumber: n, FetchedAt: e.clock.Now()}
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		h.NativeBalance, err = at.NativeBalance(ctx, e.account)
		return err
	})
	eg.Go(func() error {
		var err error
		h.TokenBalance, err = at.TokenBalance(ctx, e.account)
		return err
	})
	eg.Go(func() error {
		var err error
		h.Allowance, err = at.Allowance(ctx, e.account, e.addrs.Market)
		return err
	})
	eg.Go(func() error {
		owned, wrapped, err := at.OwnedTokens(ctx, e.account)
		if errors.Is(err, chain.ErrNoContract) {
			return nil
		}
		h.OwnedTokens, h.WrappedTokens = owned, wrapped
		return err
	})
	if err := eg.Wait(); err != nil {
		return err
	}

	slices.Sort(h.OwnedTokens)
	slices.Sort(h.WrappedTokens)
	e.store.PutHoldings(h)
	return nil
}

func (e *Engine) pollClaimable(ctx context.Context) error {
	n, err := e.views.BlockNumber(ctx)
	if err != nil {
		return err
	}
	c, err := e.views.At(n).ClaimableMarkets(ctx, e.account, e.cfg.ClaimableMax)
	if err != nil {
		return err
	}
	e.store.PutClaimable(c, n)
	return nil
}

func (e *Engine) pollFees(ctx context.Context) error {
	f, err := e.views.Fees(ctx)
	if err != nil {
		return err
	}
	e.store.PutFees(f)
	return nil
}

// pollPool reads a probe quote and the pool depth. The quote itself reads the
// pool id, then its configuration, then the quote, in that order.
func (e *Engine) pollPool(ctx context.Context) error {
	n, err := e.views.BlockNumber(ctx)
	if err != nil {
		return err
	}
	at := e.views.At(n)

	probe, err := at.ProbeQuote(ctx, e.cfg.PoolProbe)
	if err != nil {
		return err
	}
	value, err := at.PoolValue(ctx)
	if err != nil {
		return err
	}

	e.store.PutPool(model.PoolQuote{
		ProbeIn:     probe.AmountIn,
		ProbeOut:    probe.AmountOut,
		Value:       value,
		BlockNumber: n,
		FetchedAt:   e.clock.Now(),
	})
	return nil
}
