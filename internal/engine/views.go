package engine

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rickgao/blackjack-market/internal/chain"
	"github.com/rickgao/blackjack-market/internal/model"
)

// BlockViews are contract reads served at one block.
type BlockViews interface {
	GameDisplay(ctx context.Context, account common.Address) (model.GameSnapshot, error)
	Hand(ctx context.Context, account common.Address) (model.Hand, error)
	MarketDisplay(ctx context.Context, gameID uint64, viewer common.Address) (model.MarketSnapshot, error)
	ClaimableMarkets(ctx context.Context, account common.Address, max uint64) ([]model.Claimable, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, account common.Address) (*big.Int, error)
	NativeBalance(ctx context.Context, account common.Address) (*big.Int, error)
	OwnedTokens(ctx context.Context, account common.Address) (owned, wrapped []uint64, err error)
	Fees(ctx context.Context) (model.Fees, error)
	ProbeQuote(ctx context.Context, amountOut *big.Int) (chain.Probe, error)
	PoolValue(ctx context.Context) (*big.Int, error)
}

// Views are contract reads at the latest block, with the ability to pin one.
type Views interface {
	BlockViews
	BlockNumber(ctx context.Context) (uint64, error)
	At(block uint64) BlockViews
}

// readerViews adapts a chain.Reader to Views.
type readerViews struct {
	*chain.Reader
}

// NewViews wraps r.
func NewViews(r *chain.Reader) Views {
	return readerViews{Reader: r}
}

func (v readerViews) At(block uint64) BlockViews {
	return v.Reader.AtBlock(block)
}
