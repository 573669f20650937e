package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/blackjack-market/internal/config"
	"github.com/rickgao/blackjack-market/internal/game"
	"github.com/rickgao/blackjack-market/internal/model"
	"github.com/rickgao/blackjack-market/internal/pricing"
)

// StatusCmd prints a one-shot view of an account.
type StatusCmd struct {
	Account string        `short:"a" help:"Account to inspect (defaults to the configured wallet)."`
	Game    uint64        `short:"g" help:"Show this game id instead of the account's current game."`
	Active  bool          `help:"Also list active game ids."`
	Timeout time.Duration `default:"30s" help:"Overall read timeout."`
}

type statusReads struct {
	block     uint64
	game      model.GameSnapshot
	hand      model.Hand
	market    model.MarketSnapshot
	hasMarket bool
	holdings  model.Holdings
	decimals  uint8
	claimable []model.Claimable
	active    []uint64
	total     uint64
}

func (c *StatusCmd) Run() error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	eth, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}
	defer eth.Close()

	account, err := c.account(ctx, cfg, eth, logger)
	if err != nil {
		return err
	}

	reader := newReader(cfg, eth, logger)
	block, err := reader.BlockNumber(ctx)
	if err != nil {
		return err
	}
	at := reader.AtBlock(block)

	r := statusReads{block: block}
	eg, egCtx := errgroup.WithContext(ctx)
	if c.Game != 0 {
		eg.Go(func() error {
			var err error
			r.game, err = at.GameInfo(egCtx, c.Game)
			return err
		})
	} else {
		eg.Go(func() error {
			var err error
			r.game, err = at.GameDisplay(egCtx, account)
			return err
		})
		eg.Go(func() error {
			var err error
			r.hand, err = at.Hand(egCtx, account)
			return err
		})
	}
	if c.Active {
		eg.Go(func() error {
			var err error
			r.active, r.total, err = at.ActiveGameIDs(egCtx, 0, uint64(cfg.Polling.ActivePageSize))
			return err
		})
	}
	eg.Go(func() error {
		var err error
		r.holdings.NativeBalance, err = at.NativeBalance(egCtx, account)
		return err
	})
	eg.Go(func() error {
		var err error
		r.holdings.TokenBalance, err = at.TokenBalance(egCtx, account)
		return err
	})
	eg.Go(func() error {
		var err error
		r.decimals, err = at.Decimals(egCtx)
		return err
	})
	eg.Go(func() error {
		var err error
		r.claimable, err = at.ClaimableMarkets(egCtx, account, uint64(cfg.Polling.ClaimableMax))
		return err
	})
	if err := eg.Wait(); err != nil {
		return err
	}

	if c.Game == 0 {
		r.game.PlayerCards = r.hand.PlayerCards
		r.game.DealerCards = r.hand.DealerCards
	}
	r.game.BlockNumber = block
	if r.game.HasGame() && r.game.MarketCreated {
		r.market, err = at.MarketDisplay(ctx, r.game.GameID, account)
		if err != nil {
			return err
		}
		r.hasMarket = true
	}

	m := game.NewMachine(game.Config{
		VRFTimeout:      cfg.Game.VRFTimeout,
		TradingDelay:    cfg.Game.TradingDelay,
		DisconnectAfter: cfg.Game.DisconnectAfter,
	})
	m.Observe(r.game)
	if r.hasMarket {
		m.ObserveMarket(r.market)
	}
	v := m.Evaluate(time.Now())

	return printStatus(os.Stdout, account, r, v)
}

func (c *StatusCmd) account(ctx context.Context, cfg *config.ClientConfig, eth *ethclient.Client, logger *slog.Logger) (common.Address, error) {
	if c.Account != "" {
		if !common.IsHexAddress(c.Account) {
			return common.Address{}, fmt.Errorf("invalid account %q", c.Account)
		}
		return common.HexToAddress(c.Account), nil
	}

	w, closeWallet, err := newWallet(ctx, cfg, eth, logger)
	if err != nil {
		return common.Address{}, err
	}
	defer closeWallet()
	return w.Address(), nil
}

func printStatus(out io.Writer, account common.Address, r statusReads, v game.View) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "account\t%s\n", account.Hex())
	fmt.Fprintf(tw, "block\t%d\n", r.block)
	fmt.Fprintf(tw, "native\t%s\n", pricing.FormatUnits(r.holdings.NativeBalance, 18, 4))
	fmt.Fprintf(tw, "tokens\t%s\n", pricing.FormatUnits(r.holdings.TokenBalance, r.decimals, 2))

	if !r.game.HasGame() {
		fmt.Fprintf(tw, "game\tnone\n")
	} else {
		fmt.Fprintf(tw, "game\t#%d %s (%s)\n", r.game.GameID, v.Phase, r.game.Status)
		fmt.Fprintf(tw, "hands\tplayer %d %v, dealer %d %v\n",
			r.game.PlayerTotal, r.game.PlayerCards, r.game.DealerTotal, r.game.DealerCards)
		fmt.Fprintf(tw, "win odds\t%.0f%%\n", v.WinOdds)
		if v.TradingWindowOpen {
			fmt.Fprintf(tw, "trading window\topen, %ds until the player can act\n", v.SecondsUntilCanAct)
		}
		fmt.Fprintf(tw, "actions\thit=%t stand=%t start=%t cancel=%t\n", v.CanHit, v.CanStand, v.CanStartNew, v.CanCancel)
	}

	if r.hasMarket {
		state := "closed"
		switch {
		case r.market.Resolved:
			state = "resolved " + r.market.Result.String()
		case r.market.TradingActive:
			state = "trading"
		}
		fmt.Fprintf(tw, "market\t%s yes %s / no %s\n", state,
			pricing.FormatPercent(r.market.YesPrice), pricing.FormatPercent(r.market.NoPrice))
		fmt.Fprintf(tw, "shares\tyes %s, no %s\n",
			pricing.FormatUnits(r.market.UserYesShares, r.decimals, 2),
			pricing.FormatUnits(r.market.UserNoShares, r.decimals, 2))
	}

	for _, cl := range r.claimable {
		fmt.Fprintf(tw, "claimable\t#%d %s\n", cl.GameID, pricing.FormatUnits(cl.Amount, r.decimals, 2))
	}

	if r.total > 0 {
		fmt.Fprintf(tw, "active games\t%d %v\n", r.total, r.active)
	}

	return tw.Flush()
}
