package engine

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// liveFunds reads balances at the latest block for pre-flight checks. Cached
// holdings are not used; an allowance granted a moment ago must count.
type liveFunds struct {
	views   Views
	account common.Address
}

func (f liveFunds) Allowance(ctx context.Context, spender common.Address) (*big.Int, error) {
	return f.views.Allowance(ctx, f.account, spender)
}

func (f liveFunds) TokenBalance(ctx context.Context) (*big.Int, error) {
	return f.views.TokenBalance(ctx, f.account)
}

func (f liveFunds) NativeBalance(ctx context.Context) (*big.Int, error) {
	return f.views.NativeBalance(ctx, f.account)
}
