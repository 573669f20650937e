package engine

import (
	"context"
	"math/big"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/blackjack-market/internal/chain"
	"github.com/rickgao/blackjack-market/internal/config"
	"github.com/rickgao/blackjack-market/internal/heads"
	"github.com/rickgao/blackjack-market/internal/model"
	"github.com/rickgao/blackjack-market/internal/pricing"
	"github.com/rickgao/blackjack-market/internal/snapshot"
	"github.com/rickgao/blackjack-market/internal/txn"
)

var (
	addrs = chain.Addresses{
		Game:   common.HexToAddress("0x1000000000000000000000000000000000000001"),
		Market: common.HexToAddress("0x1000000000000000000000000000000000000002"),
		Token:  common.HexToAddress("0x1000000000000000000000000000000000000003"),
		NFT:    common.HexToAddress("0x1000000000000000000000000000000000000004"),
	}
	player = common.HexToAddress("0x2000000000000000000000000000000000000001")
)

// fakeViews serves canned reads. At returns the same reads and records the
// pinned block.
type fakeViews struct {
	mu sync.Mutex

	block     uint64
	game      model.GameSnapshot
	hand      model.Hand
	gameErr   error
	market    model.MarketSnapshot
	marketErr error
	nativeErr error
	claimable []model.Claimable
	allowance *big.Int
	tokens    *big.Int
	native    *big.Int
	owned     []uint64
	wrapped   []uint64
	ownedErr  error
	fees      model.Fees
	probe     chain.Probe
	poolValue *big.Int

	pinned      []uint64
	marketReads int
}

func newFakeViews() *fakeViews {
	return &fakeViews{
		block:     50,
		allowance: big.NewInt(0),
		tokens:    big.NewInt(1_000_000),
		native:    big.NewInt(1_000_000),
		fees:      model.Fees{StartGame: big.NewInt(100), Wrap: big.NewInt(10), Swap: big.NewInt(20)},
	}
}

func (f *fakeViews) set(fn func(f *fakeViews)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeViews) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.block, nil
}

func (f *fakeViews) At(block uint64) BlockViews {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pinned = append(f.pinned, block)
	return f
}

func (f *fakeViews) GameDisplay(ctx context.Context, account common.Address) (model.GameSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gameErr != nil {
		return model.GameSnapshot{}, f.gameErr
	}
	g := f.game.Clone()
	g.PlayerCards, g.DealerCards = nil, nil
	return g, nil
}

func (f *fakeViews) Hand(ctx context.Context, account common.Address) (model.Hand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gameErr != nil {
		return model.Hand{}, f.gameErr
	}
	return model.Hand{
		PlayerCards: slices.Clone(f.hand.PlayerCards),
		DealerCards: slices.Clone(f.hand.DealerCards),
	}, nil
}

func (f *fakeViews) MarketDisplay(ctx context.Context, gameID uint64, viewer common.Address) (model.MarketSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marketReads++
	if f.marketErr != nil {
		return model.MarketSnapshot{}, f.marketErr
	}
	m := f.market.Clone()
	m.GameID = gameID
	return m, nil
}

func (f *fakeViews) ClaimableMarkets(ctx context.Context, account common.Address, max uint64) ([]model.Claimable, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.claimable), nil
}

func (f *fakeViews) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return model.CopyInt(f.allowance), nil
}

func (f *fakeViews) TokenBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return model.CopyInt(f.tokens), nil
}

func (f *fakeViews) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nativeErr != nil {
		return nil, f.nativeErr
	}
	return model.CopyInt(f.native), nil
}

func (f *fakeViews) OwnedTokens(ctx context.Context, account common.Address) ([]uint64, []uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ownedErr != nil {
		return nil, nil, f.ownedErr
	}
	return slices.Clone(f.owned), slices.Clone(f.wrapped), nil
}

func (f *fakeViews) Fees(ctx context.Context) (model.Fees, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fees, nil
}

func (f *fakeViews) ProbeQuote(ctx context.Context, amountOut *big.Int) (chain.Probe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probe, nil
}

func (f *fakeViews) PoolValue(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return model.CopyInt(f.poolValue), nil
}

// fakeWallet confirms every send at once. onWait, when set, runs before the
// receipt is returned.
type fakeWallet struct {
	mu     sync.Mutex
	atomic bool
	sent   [][]chain.Call
	onWait func()
}

func (w *fakeWallet) Address() common.Address { return player }

func (w *fakeWallet) SupportsAtomicBatch(ctx context.Context) bool { return w.atomic }

func (w *fakeWallet) Send(ctx context.Context, calls []chain.Call) (chain.Handle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sent = append(w.sent, calls)
	n := len(w.sent)
	if len(calls) > 1 {
		return chain.Handle{BatchID: "batch-" + strconv.Itoa(n)}, nil
	}
	return chain.Handle{Hash: common.BigToHash(big.NewInt(int64(n)))}, nil
}

func (w *fakeWallet) Wait(ctx context.Context, h chain.Handle) (chain.Receipt, error) {
	if w.onWait != nil {
		w.onWait()
	}
	return chain.Receipt{TxHash: h.Hash, BlockNumber: 60, Success: true}, nil
}

func (w *fakeWallet) methods() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for _, calls := range w.sent {
		for _, c := range calls {
			out = append(out, c.Method)
		}
	}
	return out
}

func (w *fakeWallet) sends() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sent)
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, views *fakeViews, opts ...Option) (*Engine, *fakeWallet, *quartz.Mock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	mClock := quartz.NewMock(t)
	mClock.Set(t0).MustWait(ctx)

	wallet := &fakeWallet{}
	opts = append([]Option{WithClock(mClock)}, opts...)
	e, err := New(DefaultConfig(), views, wallet, addrs, opts...)
	require.NoError(t, err)
	return e, wallet, mClock
}

// playerTurn is a dealt game waiting on the player, last acted secsAgo seconds before t0.
func playerTurn(id uint64, secsAgo int64) model.GameSnapshot {
	return model.GameSnapshot{
		GameID:        id,
		Player:        player,
		State:         model.StatePlayerTurn,
		Status:        "Your turn",
		StartedAt:     t0.Unix() - 600,
		LastActionAt:  t0.Unix() - secsAgo,
		PlayerTotal:   15,
		DealerTotal:   10,
		MarketCreated: true,
	}
}

func dealtHand() model.Hand {
	return model.Hand{PlayerCards: []uint8{5, 10}, DealerCards: []uint8{10}}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(DefaultConfig(), nil, &fakeWallet{}, addrs)
	assert.Error(t, err)

	_, err = New(DefaultConfig(), newFakeViews(), nil, addrs)
	assert.Error(t, err)
}

func TestNew_RegistersJobs(t *testing.T) {
	e, _, _ := newTestEngine(t, newFakeViews())
	jobs := e.scheduler.Jobs()
	slices.Sort(jobs)
	assert.Equal(t, []string{JobClaimable, JobFees, JobGame, JobHoldings, JobMarket, JobPool}, jobs)

	cfg := DefaultConfig()
	cfg.PoolInterval = 0
	e2, err := New(cfg, newFakeViews(), &fakeWallet{}, addrs)
	require.NoError(t, err)
	assert.NotContains(t, e2.scheduler.Jobs(), JobPool)
}

func TestConfigFrom(t *testing.T) {
	c := &config.ClientConfig{}
	c.Polling.GameInterval = 2 * time.Second
	c.Polling.PoolInterval = time.Minute
	c.Polling.ClaimableMax = 25
	c.Game.TradingDelay = 45 * time.Second
	c.Orchestrator.QuoteBufferBP = 300

	cfg := ConfigFrom(c)
	assert.Equal(t, 2*time.Second, cfg.GameInterval)
	assert.Equal(t, uint64(25), cfg.ClaimableMax)
	assert.Equal(t, 45*time.Second, cfg.Game.TradingDelay)
	assert.Equal(t, uint64(300), cfg.QuoteBufferBP)
	assert.Zero(t, cfg.PoolInterval, "no quoter disables the pool job")

	c.Chain.Contracts.Quoter = "0x1000000000000000000000000000000000000005"
	assert.Equal(t, time.Minute, ConfigFrom(c).PoolInterval)
}

func TestPollGame_MergesHandAtPinnedBlock(t *testing.T) {
	views := newFakeViews()
	views.game = playerTurn(7, 60)
	views.hand = dealtHand()
	e, _, _ := newTestEngine(t, views)

	require.NoError(t, e.pollGame(context.Background()))

	g, ok := e.Store().Game()
	require.True(t, ok)
	assert.Equal(t, uint64(7), g.GameID)
	assert.Equal(t, uint64(50), g.BlockNumber)
	assert.Equal(t, []uint8{5, 10}, g.PlayerCards)
	assert.Equal(t, []uint8{10}, g.DealerCards)
	assert.True(t, g.FetchedAt.Equal(t0))
	assert.Equal(t, []uint64{50}, views.pinned)

	v := e.View()
	assert.Equal(t, uint64(7), v.GameID)
	assert.True(t, v.CanHit)
}

func TestPollGame_FailureKeepsSnapshot(t *testing.T) {
	views := newFakeViews()
	views.game = playerTurn(7, 60)
	views.hand = dealtHand()
	e, _, _ := newTestEngine(t, views)

	require.NoError(t, e.pollGame(context.Background()))
	views.set(func(f *fakeViews) { f.gameErr = assert.AnError })

	assert.ErrorIs(t, e.pollGame(context.Background()), assert.AnError)

	g, ok := e.Store().Game()
	require.True(t, ok)
	assert.Equal(t, uint64(7), g.GameID)

	v := e.View()
	assert.True(t, v.Stale)
	assert.False(t, v.Disconnected)
	assert.Equal(t, uint64(7), v.GameID)
}

func TestPollGame_NewGameForgetsOldMarket(t *testing.T) {
	views := newFakeViews()
	views.game = playerTurn(7, 60)
	views.market = model.MarketSnapshot{TradingActive: true}
	e, _, _ := newTestEngine(t, views)
	ctx := context.Background()

	require.NoError(t, e.pollGame(ctx))
	require.NoError(t, e.pollMarket(ctx))
	_, ok := e.Store().Market(7)
	require.True(t, ok)

	views.set(func(f *fakeViews) { f.game = playerTurn(8, 5) })
	require.NoError(t, e.pollGame(ctx))

	_, ok = e.Store().Market(7)
	assert.False(t, ok)
}

func TestPollMarket(t *testing.T) {
	views := newFakeViews()
	e, _, _ := newTestEngine(t, views)
	ctx := context.Background()

	// No game yet.
	require.NoError(t, e.pollMarket(ctx))
	assert.Zero(t, views.marketReads)

	g := playerTurn(7, 60)
	g.MarketCreated = false
	views.game = g
	require.NoError(t, e.pollGame(ctx))
	require.NoError(t, e.pollMarket(ctx))
	assert.Zero(t, views.marketReads)

	views.set(func(f *fakeViews) {
		f.game.MarketCreated = true
		f.market = model.MarketSnapshot{TradingActive: true, YesPrice: 6000, NoPrice: 4000}
	})
	require.NoError(t, e.pollGame(ctx))
	require.NoError(t, e.pollMarket(ctx))
	assert.Equal(t, 1, views.marketReads)

	m, ok := e.Store().Market(7)
	require.True(t, ok)
	assert.True(t, m.TradingActive)
	assert.Equal(t, uint64(50), m.BlockNumber)

	v := e.View()
	assert.True(t, v.Market.Known)
	assert.Equal(t, uint64(6000), v.Market.YesPrice)
}

func TestPollMarket_RepeatedFailuresFlagStale(t *testing.T) {
	views := newFakeViews()
	views.game = playerTurn(7, 60)
	views.hand = dealtHand()
	views.market = model.MarketSnapshot{TradingActive: true, YesPrice: 6000, NoPrice: 4000}
	e, _, _ := newTestEngine(t, views)
	ctx := context.Background()
	runMarket := e.tracked(snapshot.KindMarket, e.pollMarket)

	require.NoError(t, e.pollGame(ctx))
	require.NoError(t, runMarket(ctx))
	require.False(t, e.View().Market.Stale)

	views.set(func(f *fakeViews) { f.marketErr = assert.AnError })
	require.ErrorIs(t, runMarket(ctx), assert.AnError)

	v := e.View()
	assert.True(t, v.Market.Stale)
	assert.False(t, v.Market.Disconnected)
	assert.False(t, v.Stale, "game reads are healthy")
	assert.Equal(t, uint64(6000), v.Market.YesPrice, "last prices kept")
	assert.True(t, e.Store().Stale(snapshot.KindMarket))

	for i := 1; i < DefaultConfig().Game.DisconnectAfter; i++ {
		require.Error(t, runMarket(ctx))
	}
	v = e.View()
	assert.True(t, v.Market.Disconnected)
	assert.Equal(t, DefaultConfig().Game.DisconnectAfter, e.Store().ReadFailures(snapshot.KindMarket))

	views.set(func(f *fakeViews) { f.marketErr = nil })
	require.NoError(t, runMarket(ctx))
	v = e.View()
	assert.False(t, v.Market.Stale)
	assert.False(t, e.Store().Stale(snapshot.KindMarket))
}

func TestPollHoldings_FailureFlagsStale(t *testing.T) {
	views := newFakeViews()
	e, _, _ := newTestEngine(t, views)
	ctx := context.Background()
	runHoldings := e.tracked(snapshot.KindHoldings, e.pollHoldings)
	runClaimable := e.tracked(snapshot.KindClaimable, e.pollClaimable)

	require.NoError(t, runHoldings(ctx))
	require.NoError(t, runClaimable(ctx))
	assert.Empty(t, e.Store().StaleKinds())

	views.set(func(f *fakeViews) { f.nativeErr = assert.AnError })
	require.Error(t, runHoldings(ctx))
	require.Error(t, runHoldings(ctx))

	assert.Equal(t, map[snapshot.Kind]int{snapshot.KindHoldings: 2}, e.Store().StaleKinds())
	assert.Equal(t, "1000000", e.Store().Holdings().NativeBalance.String(), "last balance kept")
}

func TestPollHoldings(t *testing.T) {
	views := newFakeViews()
	views.allowance = big.NewInt(77)
	views.owned = []uint64{9, 3}
	views.wrapped = []uint64{4}
	e, _, _ := newTestEngine(t, views)

	require.NoError(t, e.pollHoldings(context.Background()))

	h := e.Store().Holdings()
	assert.Equal(t, player, h.Account)
	assert.Equal(t, uint64(50), h.BlockNumber)
	assert.Equal(t, "77", h.Allowance.String())
	assert.Equal(t, "1000000", h.TokenBalance.String())
	assert.Equal(t, []uint64{3, 9}, h.OwnedTokens)
	assert.Equal(t, []uint64{4}, h.WrappedTokens)
}

func TestPollHoldings_NoNFTContract(t *testing.T) {
	views := newFakeViews()
	views.ownedErr = chain.ErrNoContract
	e, _, _ := newTestEngine(t, views)

	require.NoError(t, e.pollHoldings(context.Background()))

	h := e.Store().Holdings()
	assert.NotNil(t, h.NativeBalance)
	assert.Empty(t, h.OwnedTokens)
}

func TestPollClaimableAndFees(t *testing.T) {
	views := newFakeViews()
	views.claimable = []model.Claimable{{GameID: 3, Amount: big.NewInt(5)}}
	e, _, _ := newTestEngine(t, views)
	ctx := context.Background()

	require.NoError(t, e.pollClaimable(ctx))
	require.NoError(t, e.pollFees(ctx))

	require.Len(t, e.Store().Claimable(), 1)
	assert.Equal(t, "100", e.Store().Fees().StartGame.String())
}

func TestPollPool(t *testing.T) {
	views := newFakeViews()
	views.probe = chain.Probe{AmountIn: big.NewInt(2), AmountOut: big.NewInt(1)}
	views.poolValue = big.NewInt(42)
	e, _, _ := newTestEngine(t, views)

	require.NoError(t, e.pollPool(context.Background()))

	p := e.Store().Pool()
	assert.Equal(t, "2", p.ProbeIn.String())
	assert.Equal(t, "42", p.Value.String())
	assert.Equal(t, pricing.TierThin, e.PoolTier())

	_, ok := e.PoolValueUSD()
	assert.False(t, ok, "no price provider")
}

func TestHit_RefusedWhileTradingWindowOpen(t *testing.T) {
	views := newFakeViews()
	views.game = playerTurn(7, 5)
	views.hand = dealtHand()
	e, wallet, mClock := newTestEngine(t, views)
	ctx := context.Background()

	require.NoError(t, e.pollGame(ctx))

	_, err := e.Hit(ctx)
	assert.ErrorIs(t, err, ErrActionNotAllowed)
	_, err = e.Stand(ctx)
	assert.ErrorIs(t, err, ErrActionNotAllowed)
	assert.Zero(t, wallet.sends())

	mClock.Advance(30 * time.Second).MustWait(ctx)

	p, err := e.Hit(ctx)
	require.NoError(t, err)
	assert.Equal(t, txn.StatusConfirmed, p.Status)
	assert.Equal(t, []string{"hit"}, wallet.methods())
}

func TestCancelStuckGame(t *testing.T) {
	views := newFakeViews()
	views.game = model.GameSnapshot{
		GameID:       7,
		State:        model.StateDealing,
		LastActionAt: t0.Unix() - 10,
	}
	e, wallet, mClock := newTestEngine(t, views)
	ctx := context.Background()

	require.NoError(t, e.pollGame(ctx))

	_, err := e.CancelStuckGame(ctx)
	assert.ErrorIs(t, err, ErrActionNotAllowed)

	mClock.Advance(291 * time.Second).MustWait(ctx)

	p, err := e.CancelStuckGame(ctx)
	require.NoError(t, err)
	assert.Equal(t, txn.StatusConfirmed, p.Status)
	assert.Equal(t, []string{"cancelStuckGame"}, wallet.methods())
}

func TestStartGame(t *testing.T) {
	views := newFakeViews()
	e, wallet, _ := newTestEngine(t, views)
	ctx := context.Background()

	require.NoError(t, e.pollGame(ctx))
	require.True(t, e.View().CanStartNew)

	// Fees were never polled, so the fee is read on demand.
	p, err := e.StartGame(ctx)
	require.NoError(t, err)
	assert.Equal(t, txn.StatusConfirmed, p.Status)
	require.Equal(t, 1, wallet.sends())
	assert.Equal(t, "100", wallet.sent[0][0].Value.String())
	assert.Equal(t, "100", e.Store().Fees().StartGame.String())

	// Refused until the new game is observed.
	assert.False(t, e.View().CanStartNew)
	_, err = e.StartGame(ctx)
	assert.ErrorIs(t, err, ErrActionNotAllowed)
}

func TestStartGame_NewGameSeenBeforeReceipt(t *testing.T) {
	views := newFakeViews()
	e, wallet, _ := newTestEngine(t, views)
	ctx := context.Background()
	require.NoError(t, e.pollGame(ctx))

	wallet.onWait = func() {
		views.set(func(f *fakeViews) { f.game = playerTurn(9, 60) })
		require.NoError(t, e.pollGame(ctx))
	}
	_, err := e.StartGame(ctx)
	require.NoError(t, err)
	wallet.onWait = nil

	views.set(func(f *fakeViews) {
		f.game.State = model.StateFinished
		f.game.Status = "Dealer busts"
		f.game.CanStartNew = true
	})
	require.NoError(t, e.pollGame(ctx))

	v := e.View()
	assert.True(t, v.CanStartNew)
	_, err = e.StartGame(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, wallet.sends())
}

func tradingEngine(t *testing.T, views *fakeViews) (*Engine, *fakeWallet) {
	t.Helper()
	views.game = playerTurn(7, 60)
	views.hand = dealtHand()
	views.market = model.MarketSnapshot{TradingActive: true}
	e, wallet, _ := newTestEngine(t, views)
	ctx := context.Background()
	require.NoError(t, e.pollGame(ctx))
	require.NoError(t, e.pollMarket(ctx))
	return e, wallet
}

func TestBuy_ApprovesWhenAllowanceShort(t *testing.T) {
	views := newFakeViews()
	views.allowance = big.NewInt(499)
	e, wallet := tradingEngine(t, views)

	out, err := e.Buy(context.Background(), true, big.NewInt(500))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, txn.StageApproving, out[0].Stage)
	assert.Equal(t, txn.StageProcessing, out[1].Stage)
	assert.Equal(t, txn.StatusConfirmed, out[1].Status)
	assert.Equal(t, []string{"approve", "buyShares"}, wallet.methods())
}

func TestBuy_AtomicBatch(t *testing.T) {
	views := newFakeViews()
	e, wallet := tradingEngine(t, views)
	wallet.atomic = true

	out, err := e.Buy(context.Background(), false, big.NewInt(500))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Atomic)
	assert.Equal(t, 1, wallet.sends())
	assert.Equal(t, []string{"approve", "buyShares"}, wallet.methods())
}

func TestBuy_SkipsApproveWhenAllowanceCovers(t *testing.T) {
	views := newFakeViews()
	views.allowance = big.NewInt(500)
	e, wallet := tradingEngine(t, views)

	out, err := e.Buy(context.Background(), true, big.NewInt(500))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []string{"buyShares"}, wallet.methods())
}

func TestBuy_RefusedWhenMarketClosed(t *testing.T) {
	views := newFakeViews()
	e, wallet := tradingEngine(t, views)
	views.set(func(f *fakeViews) { f.market.Resolved = true })
	require.NoError(t, e.pollMarket(context.Background()))

	_, err := e.Buy(context.Background(), true, big.NewInt(1))
	assert.ErrorIs(t, err, ErrActionNotAllowed)
	_, err = e.Sell(context.Background(), true, big.NewInt(1))
	assert.ErrorIs(t, err, ErrActionNotAllowed)
	assert.Zero(t, wallet.sends())
}

func TestSell_ChecksShares(t *testing.T) {
	views := newFakeViews()
	e, wallet := tradingEngine(t, views)
	views.set(func(f *fakeViews) { f.market.UserYesShares = big.NewInt(10) })
	require.NoError(t, e.pollMarket(context.Background()))

	_, err := e.Sell(context.Background(), true, big.NewInt(11))
	assert.ErrorIs(t, err, txn.ErrInsufficientFunds)

	_, err = e.Sell(context.Background(), true, big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, []string{"sellShares"}, wallet.methods())
}

func TestClaim(t *testing.T) {
	views := newFakeViews()
	views.claimable = []model.Claimable{{GameID: 3, Amount: big.NewInt(5)}}
	e, _, _ := newTestEngine(t, views)
	ctx := context.Background()
	require.NoError(t, e.pollClaimable(ctx))

	_, err := e.Claim(ctx, 4)
	assert.ErrorIs(t, err, ErrActionNotAllowed)

	p, err := e.Claim(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, txn.StatusConfirmed, p.Status)
	assert.Empty(t, e.Store().Claimable())
}

func TestWrap_MovesTokensOnConfirm(t *testing.T) {
	views := newFakeViews()
	views.owned = []uint64{1, 2}
	e, wallet, _ := newTestEngine(t, views)
	ctx := context.Background()
	require.NoError(t, e.pollHoldings(ctx))

	_, err := e.Wrap(ctx, []uint64{2})
	assert.ErrorIs(t, err, ErrFeeUnknown)

	require.NoError(t, e.pollFees(ctx))

	_, err = e.Wrap(ctx, []uint64{3})
	assert.ErrorIs(t, err, ErrNotOwned)

	p, err := e.Wrap(ctx, []uint64{2})
	require.NoError(t, err)
	assert.Equal(t, txn.StatusConfirmed, p.Status)
	assert.Equal(t, []string{"wrap"}, wallet.methods())

	h := e.Store().Holdings()
	assert.Equal(t, []uint64{1}, h.OwnedTokens)
	assert.Equal(t, []uint64{2}, h.WrappedTokens)

	// A read from before the mined block keeps the overlay.
	require.NoError(t, e.pollHoldings(ctx))
	assert.Equal(t, []uint64{2}, e.Store().Holdings().WrappedTokens)
}

func TestSwap_RemovesTokens(t *testing.T) {
	views := newFakeViews()
	views.owned = []uint64{1}
	views.wrapped = []uint64{2}
	e, _, _ := newTestEngine(t, views)
	ctx := context.Background()
	require.NoError(t, e.pollHoldings(ctx))
	require.NoError(t, e.pollFees(ctx))

	_, err := e.Swap(ctx, []uint64{1, 2})
	require.NoError(t, err)

	h := e.Store().Holdings()
	assert.Empty(t, h.OwnedTokens)
	assert.Empty(t, h.WrappedTokens)
}

func TestQuoteNative(t *testing.T) {
	views := newFakeViews()
	e, _, _ := newTestEngine(t, views)
	ctx := context.Background()

	_, err := e.QuoteNative(ctx, big.NewInt(10))
	assert.ErrorIs(t, err, pricing.ErrZeroProbe)

	views.set(func(f *fakeViews) {
		f.probe = chain.Probe{AmountIn: big.NewInt(1000), AmountOut: big.NewInt(1)}
	})
	q, err := e.QuoteNative(ctx, big.NewInt(10))
	require.NoError(t, err)
	// 1000 * 10 * (10000 + 500) / 10000
	assert.Equal(t, "10500", q.String())
}

type fakeHeads struct {
	ch chan heads.Head
}

func (f *fakeHeads) Heads() <-chan heads.Head { return f.ch }

func TestEngine_HeadsForceRefresh(t *testing.T) {
	views := newFakeViews()
	src := &fakeHeads{ch: make(chan heads.Head, 1)}

	var (
		mu   sync.Mutex
		seen []uint64
	)
	observe := func(h heads.Head) {
		mu.Lock()
		seen = append(seen, h.Number)
		mu.Unlock()
	}

	cfg := DefaultConfig()
	cfg.GameInterval = time.Hour
	cfg.MarketInterval = time.Hour
	e, err := New(cfg, views, &fakeWallet{}, addrs, WithHeads(src, observe))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, e.Stop(stopCtx))
	})

	require.Eventually(t, func() bool {
		_, ok := e.Store().Game()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	views.set(func(f *fakeViews) {
		f.block = 51
		f.game = playerTurn(9, 60)
	})
	src.ch <- heads.Head{Number: 51}

	require.Eventually(t, func() bool {
		g, _ := e.Store().Game()
		return g.GameID == 9 && g.BlockNumber == 51
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []uint64{51}, seen)
	mu.Unlock()
}
