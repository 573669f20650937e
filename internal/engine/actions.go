package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/rickgao/blackjack-market/internal/game"
	"github.com/rickgao/blackjack-market/internal/model"
	"github.com/rickgao/blackjack-market/internal/pricing"
	"github.com/rickgao/blackjack-market/internal/snapshot"
	"github.com/rickgao/blackjack-market/internal/txn"
)

// Errors
var (
	ErrActionNotAllowed = errors.New("action not allowed now")
	ErrFeeUnknown       = errors.New("fee not known yet")
	ErrNotOwned         = errors.New("token not owned")
)

// allow returns ErrActionNotAllowed unless ok holds for the current view.
func (e *Engine) allow(action string, ok func(v game.View) bool) (game.View, error) {
	v := e.watcher.View()
	if !ok(v) {
		return v, fmt.Errorf("%w: %s in phase %s (trading window open: %t, disconnected: %t)",
			ErrActionNotAllowed, action, v.Phase, v.TradingWindowOpen, v.Disconnected)
	}
	return v, nil
}

// StartGame starts a game paying the start fee in native currency.
func (e *Engine) StartGame(ctx context.Context) (txn.PendingIntent, error) {
	v, err := e.allow("start game", func(v game.View) bool { return v.CanStartNew })
	if err != nil {
		return txn.PendingIntent{}, err
	}

	fee, err := e.startFee(ctx)
	if err != nil {
		return txn.PendingIntent{}, err
	}
	call, err := e.calls.StartGame(fee)
	if err != nil {
		return txn.PendingIntent{}, err
	}

	p, err := e.orch.Execute(ctx, txn.Intent{
		Kind:    txn.KindStartGame,
		Call:    call,
		Refresh: []string{JobGame, JobHoldings},
	})
	if err == nil && p.Status == txn.StatusConfirmed {
		e.watcher.NoteStartConfirmed(v.GameID)
	}
	return p, err
}

// StartGameWithToken starts a game paying amount in tokens, approving the
// game contract first when its allowance is short.
func (e *Engine) StartGameWithToken(ctx context.Context, amount *big.Int) ([]txn.PendingIntent, error) {
	v, err := e.allow("start game", func(v game.View) bool { return v.CanStartNew })
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("start game: amount must be positive")
	}

	call, err := e.calls.StartGameWithToken(amount)
	if err != nil {
		return nil, err
	}
	in := txn.Intent{
		Kind:       txn.KindStartGame,
		Call:       call,
		TokenSpend: new(big.Int).Set(amount),
		Spender:    e.addrs.Game,
		Refresh:    []string{JobGame, JobHoldings},
	}

	out, err := e.withApproval(ctx, in)
	if err == nil && len(out) > 0 && out[len(out)-1].Status == txn.StatusConfirmed {
		e.watcher.NoteStartConfirmed(v.GameID)
	}
	return out, err
}

func (e *Engine) startFee(ctx context.Context) (*big.Int, error) {
	if fee := e.store.Fees().StartGame; fee != nil {
		return fee, nil
	}
	fees, err := e.views.Fees(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeeUnknown, err)
	}
	e.store.PutFees(fees)
	if fees.StartGame == nil {
		return nil, ErrFeeUnknown
	}
	return fees.StartGame, nil
}

// Hit draws a card. Refused while the trading window is open.
func (e *Engine) Hit(ctx context.Context) (txn.PendingIntent, error) {
	v, err := e.allow("hit", func(v game.View) bool { return v.CanHit })
	if err != nil {
		return txn.PendingIntent{}, err
	}
	call, err := e.calls.Hit()
	if err != nil {
		return txn.PendingIntent{}, err
	}
	return e.orch.Execute(ctx, txn.Intent{
		Kind:    txn.KindHit,
		Call:    call,
		GameID:  v.GameID,
		Refresh: []string{JobGame, JobMarket},
	})
}

// Stand ends the player's turn. Refused while the trading window is open.
func (e *Engine) Stand(ctx context.Context) (txn.PendingIntent, error) {
	v, err := e.allow("stand", func(v game.View) bool { return v.CanStand })
	if err != nil {
		return txn.PendingIntent{}, err
	}
	call, err := e.calls.Stand()
	if err != nil {
		return txn.PendingIntent{}, err
	}
	return e.orch.Execute(ctx, txn.Intent{
		Kind:    txn.KindStand,
		Call:    call,
		GameID:  v.GameID,
		Refresh: []string{JobGame, JobMarket},
	})
}

// CancelStuckGame refunds a game whose deal never arrived.
func (e *Engine) CancelStuckGame(ctx context.Context) (txn.PendingIntent, error) {
	v, err := e.allow("cancel stuck game", func(v game.View) bool { return v.CanCancel })
	if err != nil {
		return txn.PendingIntent{}, err
	}
	call, err := e.calls.CancelStuckGame()
	if err != nil {
		return txn.PendingIntent{}, err
	}
	return e.orch.Execute(ctx, txn.Intent{
		Kind:    txn.KindCancel,
		Call:    call,
		GameID:  v.GameID,
		Refresh: []string{JobGame, JobHoldings},
	})
}

// tradable returns the current game id if its market accepts trades.
func (e *Engine) tradable(action string) (uint64, error) {
	v := e.watcher.View()
	if !v.Snapshot.HasGame() {
		return 0, fmt.Errorf("%w: %s without a game", ErrActionNotAllowed, action)
	}
	m, ok := e.store.Market(v.GameID)
	if !ok || !m.TradingActive || m.Resolved {
		return 0, fmt.Errorf("%w: %s while market %d is not trading", ErrActionNotAllowed, action, v.GameID)
	}
	return v.GameID, nil
}

// Buy buys yes or no shares of the current game's market with amount tokens.
// The approve step is only added when the live allowance is below amount.
func (e *Engine) Buy(ctx context.Context, yes bool, amount *big.Int) ([]txn.PendingIntent, error) {
	gameID, err := e.tradable("buy")
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("buy: amount must be positive")
	}

	call, err := e.calls.BuyShares(gameID, yes, amount)
	if err != nil {
		return nil, err
	}
	return e.withApproval(ctx, txn.Intent{
		Kind:       txn.KindBuy,
		Call:       call,
		TokenSpend: new(big.Int).Set(amount),
		Spender:    e.addrs.Market,
		GameID:     gameID,
		Refresh:    []string{JobMarket, JobHoldings},
	})
}

// BuyWithETH buys shares paying value in native currency.
func (e *Engine) BuyWithETH(ctx context.Context, yes bool, value *big.Int) (txn.PendingIntent, error) {
	gameID, err := e.tradable("buy")
	if err != nil {
		return txn.PendingIntent{}, err
	}
	if value == nil || value.Sign() <= 0 {
		return txn.PendingIntent{}, fmt.Errorf("buy: value must be positive")
	}

	call, err := e.calls.BuySharesWithETH(gameID, yes, value)
	if err != nil {
		return txn.PendingIntent{}, err
	}
	return e.orch.Execute(ctx, txn.Intent{
		Kind:    txn.KindBuy,
		Call:    call,
		GameID:  gameID,
		Refresh: []string{JobMarket, JobHoldings},
	})
}

// Sell sells shares of the current game's market.
func (e *Engine) Sell(ctx context.Context, yes bool, shares *big.Int) (txn.PendingIntent, error) {
	gameID, err := e.tradable("sell")
	if err != nil {
		return txn.PendingIntent{}, err
	}
	if shares == nil || shares.Sign() <= 0 {
		return txn.PendingIntent{}, fmt.Errorf("sell: shares must be positive")
	}

	m, _ := e.store.Market(gameID)
	held := m.UserNoShares
	if yes {
		held = m.UserYesShares
	}
	if held != nil && held.Cmp(shares) < 0 {
		return txn.PendingIntent{}, fmt.Errorf("%w: selling %s shares, holding %s", txn.ErrInsufficientFunds, shares, held)
	}

	call, err := e.calls.SellShares(gameID, yes, shares)
	if err != nil {
		return txn.PendingIntent{}, err
	}
	return e.orch.Execute(ctx, txn.Intent{
		Kind:    txn.KindSell,
		Call:    call,
		GameID:  gameID,
		Refresh: []string{JobMarket, JobHoldings},
	})
}

// Claim claims winnings of a resolved market. The market leaves the claimable
// list as soon as the claim confirms.
func (e *Engine) Claim(ctx context.Context, gameID uint64) (txn.PendingIntent, error) {
	if !slices.ContainsFunc(e.store.Claimable(), func(c model.Claimable) bool { return c.GameID == gameID }) {
		return txn.PendingIntent{}, fmt.Errorf("%w: market %d has nothing to claim", ErrActionNotAllowed, gameID)
	}

	call, err := e.calls.ClaimWinnings(gameID)
	if err != nil {
		return txn.PendingIntent{}, err
	}
	return e.orch.Execute(ctx, txn.Intent{
		Kind:    txn.KindClaim,
		Call:    call,
		GameID:  gameID,
		Patch:   snapshot.ClaimMarket{GameID: gameID},
		Refresh: []string{JobClaimable, JobHoldings},
	})
}

// Wrap wraps owned NFTs. The ids move to the wrapped set as soon as the
// transaction confirms.
func (e *Engine) Wrap(ctx context.Context, ids []uint64) (txn.PendingIntent, error) {
	return e.nftOp(ctx, ids, true)
}

// Unwrap unwraps wrapped NFTs.
func (e *Engine) Unwrap(ctx context.Context, ids []uint64) (txn.PendingIntent, error) {
	return e.nftOp(ctx, ids, false)
}

// Swap trades owned or wrapped NFTs back to the pool. The ids leave the
// holdings as soon as the transaction confirms.
func (e *Engine) Swap(ctx context.Context, ids []uint64) (txn.PendingIntent, error) {
	if len(ids) == 0 {
		return txn.PendingIntent{}, fmt.Errorf("no token ids")
	}
	h := e.store.Holdings()
	for _, id := range ids {
		if !slices.Contains(h.OwnedTokens, id) && !slices.Contains(h.WrappedTokens, id) {
			return txn.PendingIntent{}, fmt.Errorf("%w: %d", ErrNotOwned, id)
		}
	}
	fee := e.store.Fees().Swap
	if fee == nil {
		return txn.PendingIntent{}, fmt.Errorf("%w: swap", ErrFeeUnknown)
	}
	call, err := e.calls.Swap(ids, fee)
	if err != nil {
		return txn.PendingIntent{}, err
	}
	return e.orch.Execute(ctx, txn.Intent{
		Kind:    txn.KindWrapOp,
		Call:    call,
		Patch:   snapshot.RemoveTokens{IDs: slices.Clone(ids)},
		Refresh: []string{JobHoldings},
	})
}

func (e *Engine) nftOp(ctx context.Context, ids []uint64, wrap bool) (txn.PendingIntent, error) {
	if len(ids) == 0 {
		return txn.PendingIntent{}, fmt.Errorf("no token ids")
	}

	h := e.store.Holdings()
	have := h.WrappedTokens
	if wrap {
		have = h.OwnedTokens
	}
	for _, id := range ids {
		if !slices.Contains(have, id) {
			return txn.PendingIntent{}, fmt.Errorf("%w: %d", ErrNotOwned, id)
		}
	}

	fee := e.store.Fees().Wrap
	if fee == nil {
		return txn.PendingIntent{}, fmt.Errorf("%w: wrap", ErrFeeUnknown)
	}

	build := e.calls.Unwrap
	if wrap {
		build = e.calls.Wrap
	}
	call, err := build(ids, fee)
	if err != nil {
		return txn.PendingIntent{}, err
	}

	return e.orch.Execute(ctx, txn.Intent{
		Kind:    txn.KindWrapOp,
		Call:    call,
		Patch:   snapshot.MoveTokens{IDs: slices.Clone(ids), ToWrapped: wrap},
		Refresh: []string{JobHoldings},
	})
}

// withApproval submits in, preceded by an approve of exactly in.TokenSpend
// when the live allowance to in.Spender is below it.
func (e *Engine) withApproval(ctx context.Context, in txn.Intent) ([]txn.PendingIntent, error) {
	allowance, err := e.views.Allowance(ctx, e.account, in.Spender)
	if err != nil {
		return nil, fmt.Errorf("read allowance: %w", err)
	}
	if allowance != nil && allowance.Cmp(in.TokenSpend) >= 0 {
		p, err := e.orch.Execute(ctx, in)
		return []txn.PendingIntent{p}, err
	}

	call, err := e.calls.Approve(in.Spender, in.TokenSpend)
	if err != nil {
		return nil, err
	}
	approve := txn.Intent{
		Kind:    txn.KindApprove,
		Call:    call,
		Grants:  new(big.Int).Set(in.TokenSpend),
		GameID:  in.GameID,
		Refresh: []string{JobHoldings},
	}
	return e.orch.SubmitBatch(ctx, []txn.Intent{approve, in})
}

// QuoteNative returns the native amount to pay for count tokens, extrapolated
// from the latest pool probe and inflated by the configured buffer.
func (e *Engine) QuoteNative(ctx context.Context, count *big.Int) (*big.Int, error) {
	pool := e.store.Pool()
	if pool.ProbeOut == nil {
		probe, err := e.views.ProbeQuote(ctx, e.cfg.PoolProbe)
		if err != nil {
			return nil, err
		}
		pool.ProbeIn, pool.ProbeOut = probe.AmountIn, probe.AmountOut
	}
	return pricing.QuoteForTargetCount(pool.ProbeIn, pool.ProbeOut, count, e.cfg.QuoteBufferBP)
}

// PoolTier classifies the last read pool depth.
func (e *Engine) PoolTier() pricing.Tier {
	return pricing.PoolSizeTier(e.store.Pool().Value)
}

// PoolValueUSD converts the last read pool depth with the price provider.
// ok is false without a depth or a native price.
func (e *Engine) PoolValueUSD() (decimal.Decimal, bool) {
	value := e.store.Pool().Value
	if value == nil || e.prices == nil {
		return decimal.Zero, false
	}
	return e.prices.Value(e.cfg.NativeSymbol, value, 18)
}
