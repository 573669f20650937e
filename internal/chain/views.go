package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/blackjack-market/internal/model"
)

// GameDisplay reads the display view for the account's current game.
// Cards are not included; see Hand.
func (r *Reader) GameDisplay(ctx context.Context, account common.Address) (model.GameSnapshot, error) {
	v, err := r.call(ctx, r.addrs.Game, gameABI, "getGameDisplay", account)
	if err != nil {
		return model.GameSnapshot{}, err
	}

	g := model.GameSnapshot{
		GameID:           v.u64(0),
		Player:           account,
		State:            model.GameState(v.u8(1)),
		Status:           v.str(2),
		StartedAt:        v.i64(3),
		LastActionAt:     v.i64(4),
		TradingPeriodEnd: v.i64(5),
		PlayerTotal:      v.u8(6),
		DealerTotal:      v.u8(7),
		MarketCreated:    v.boolean(8),
		CanStartNew:      v.boolean(9),
		BlockNumber:      r.pinnedBlock(),
		FetchedAt:        time.Now(),
	}
	if v.err != nil {
		return model.GameSnapshot{}, &ReadError{View: "getGameDisplay", Err: v.err}
	}
	return g, nil
}

// GameInfo reads a game by id, for viewing games the account does not own.
func (r *Reader) GameInfo(ctx context.Context, gameID uint64) (model.GameSnapshot, error) {
	v, err := r.call(ctx, r.addrs.Game, gameABI, "getGameInfo", new(big.Int).SetUint64(gameID))
	if err != nil {
		return model.GameSnapshot{}, err
	}

	g := model.GameSnapshot{
		GameID:        gameID,
		Player:        v.address(0),
		State:         model.GameState(v.u8(1)),
		StartedAt:     v.i64(2),
		LastActionAt:  v.i64(3),
		PlayerTotal:   v.u8(4),
		DealerTotal:   v.u8(5),
		MarketCreated: v.boolean(6),
		BlockNumber:   r.pinnedBlock(),
		FetchedAt:     time.Now(),
	}
	if v.err != nil {
		return model.GameSnapshot{}, &ReadError{View: "getGameInfo", Err: v.err}
	}
	return g, nil
}

// Hand reads the cards dealt in the account's current game.
func (r *Reader) Hand(ctx context.Context, account common.Address) (model.Hand, error) {
	v, err := r.call(ctx, r.addrs.Game, gameABI, "getHand", account)
	if err != nil {
		return model.Hand{}, err
	}

	h := model.Hand{
		PlayerCards: v.u8s(0),
		DealerCards: v.u8s(1),
	}
	if v.err != nil {
		return model.Hand{}, &ReadError{View: "getHand", Err: v.err}
	}
	return h, nil
}

// ActiveGameIDs reads one page of active game ids and the total count.
func (r *Reader) ActiveGameIDs(ctx context.Context, offset, limit uint64) ([]uint64, uint64, error) {
	v, err := r.call(ctx, r.addrs.Game, gameABI, "getActiveGameIds",
		new(big.Int).SetUint64(offset), new(big.Int).SetUint64(limit))
	if err != nil {
		return nil, 0, err
	}

	ids := v.u64s(0)
	total := v.u64(1)
	if v.err != nil {
		return nil, 0, &ReadError{View: "getActiveGameIds", Err: v.err}
	}
	return ids, total, nil
}

// MarketDisplay reads the market for a game as seen by viewer.
func (r *Reader) MarketDisplay(ctx context.Context, gameID uint64, viewer common.Address) (model.MarketSnapshot, error) {
	v, err := r.call(ctx, r.addrs.Market, marketABI, "getMarketDisplay", new(big.Int).SetUint64(gameID), viewer)
	if err != nil {
		return model.MarketSnapshot{}, err
	}

	m := model.MarketSnapshot{
		GameID:         gameID,
		YesSharesTotal: v.bigInt(0),
		NoSharesTotal:  v.bigInt(1),
		YesDeposits:    v.bigInt(2),
		NoDeposits:     v.bigInt(3),
		TotalDeposits:  v.bigInt(4),
		YesPrice:       v.u64(5),
		NoPrice:        v.u64(6),
		TradingActive:  v.boolean(7),
		Resolved:       v.boolean(8),
		Result:         model.MarketResult(v.u8(9)),
		UserYesShares:  v.bigInt(10),
		UserNoShares:   v.bigInt(11),
		UserClaimable:  v.bigInt(12),
		Volume:         v.bigInt(13),
		BlockNumber:    r.pinnedBlock(),
		FetchedAt:      time.Now(),
	}
	if v.err != nil {
		return model.MarketSnapshot{}, &ReadError{View: "getMarketDisplay", Err: v.err}
	}
	return m, nil
}

// ClaimableMarkets reads up to max resolved markets with unclaimed winnings.
func (r *Reader) ClaimableMarkets(ctx context.Context, account common.Address, max uint64) ([]model.Claimable, error) {
	v, err := r.call(ctx, r.addrs.Market, marketABI, "getClaimableMarkets", account, new(big.Int).SetUint64(max))
	if err != nil {
		return nil, err
	}

	ids := v.u64s(0)
	amounts := v.bigs(1)
	if v.err != nil {
		return nil, &ReadError{View: "getClaimableMarkets", Err: v.err}
	}
	if len(ids) != len(amounts) {
		return nil, &ReadError{
			View: "getClaimableMarkets",
			Err:  fmt.Errorf("length mismatch: %d ids, %d amounts", len(ids), len(amounts)),
		}
	}

	out := make([]model.Claimable, len(ids))
	for i := range ids {
		out[i] = model.Claimable{GameID: ids[i], Amount: amounts[i]}
	}
	return out, nil
}

// Allowance reads the token allowance owner granted to spender.
func (r *Reader) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	v, err := r.call(ctx, r.addrs.Token, erc20ABI, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	a := v.bigInt(0)
	if v.err != nil {
		return nil, &ReadError{View: "allowance", Err: v.err}
	}
	return a, nil
}

// TokenBalance reads the account's token balance.
func (r *Reader) TokenBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	v, err := r.call(ctx, r.addrs.Token, erc20ABI, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	b := v.bigInt(0)
	if v.err != nil {
		return nil, &ReadError{View: "balanceOf", Err: v.err}
	}
	return b, nil
}

// Decimals reads the token's decimals.
func (r *Reader) Decimals(ctx context.Context) (uint8, error) {
	v, err := r.call(ctx, r.addrs.Token, erc20ABI, "decimals")
	if err != nil {
		return 0, err
	}
	d := v.u8(0)
	if v.err != nil {
		return 0, &ReadError{View: "decimals", Err: v.err}
	}
	return d, nil
}

// NativeBalance reads the account's native currency balance.
func (r *Reader) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	var bal *big.Int
	err := r.withRetry(ctx, "balance", func(ctx context.Context) error {
		var err error
		bal, err = r.caller.BalanceAt(ctx, account, r.block)
		return err
	})
	if err != nil {
		return nil, &ReadError{View: "balance", Err: err}
	}
	return bal, nil
}

// OwnedTokens reads the unwrapped and wrapped NFT ids held by account.
func (r *Reader) OwnedTokens(ctx context.Context, account common.Address) (owned, wrapped []uint64, err error) {
	v, err := r.call(ctx, r.addrs.NFT, nftABI, "tokensOfOwner", account)
	if err != nil {
		return nil, nil, err
	}
	owned = v.u64s(0)
	if v.err != nil {
		return nil, nil, &ReadError{View: "tokensOfOwner", Err: v.err}
	}

	v, err = r.call(ctx, r.addrs.NFT, nftABI, "wrappedTokensOfOwner", account)
	if err != nil {
		return nil, nil, err
	}
	wrapped = v.u64s(0)
	if v.err != nil {
		return nil, nil, &ReadError{View: "wrappedTokensOfOwner", Err: v.err}
	}
	return owned, wrapped, nil
}

// Fees reads every fee constant. The reads are independent and run concurrently;
// NFT fees stay nil when no NFT contract is configured.
func (r *Reader) Fees(ctx context.Context) (model.Fees, error) {
	var fees model.Fees
	g, ctx := errgroup.WithContext(ctx)

	read := func(dst **big.Int, contract common.Address, parsed abi.ABI, method string) {
		g.Go(func() error {
			v, err := r.call(ctx, contract, parsed, method)
			if err != nil {
				return err
			}
			b := v.bigInt(0)
			if v.err != nil {
				return &ReadError{View: method, Err: v.err}
			}
			*dst = b
			return nil
		})
	}

	read(&fees.StartGame, r.addrs.Game, gameABI, "startGameFee")
	read(&fees.Swap, r.addrs.Market, marketABI, "swapFee")
	if r.addrs.NFT != (common.Address{}) {
		read(&fees.Wrap, r.addrs.NFT, nftABI, "wrapFee")
		read(&fees.Breed, r.addrs.NFT, nftABI, "breedFee")
		read(&fees.Unhatch, r.addrs.NFT, nftABI, "unhatchFee")
	}

	if err := g.Wait(); err != nil {
		return model.Fees{}, err
	}
	return fees, nil
}
