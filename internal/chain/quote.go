package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PoolConfig is the quoter's description of the token pool.
type PoolConfig struct {
	ID          [32]byte
	Currency0   common.Address
	Currency1   common.Address
	Fee         *big.Int
	TickSpacing *big.Int
}

// Probe is a single quote used to extrapolate larger purchases.
type Probe struct {
	Pool      PoolConfig
	AmountIn  *big.Int // Native units paid
	AmountOut *big.Int // Token units received
}

// Pool reads the pool id and then its configuration. The second read depends on
// the first, so they are sequenced.
func (r *Reader) Pool(ctx context.Context) (PoolConfig, error) {
	v, err := r.call(ctx, r.addrs.Quoter, quoterABI, "poolId")
	if err != nil {
		return PoolConfig{}, err
	}
	id := v.bytes32(0)
	if v.err != nil {
		return PoolConfig{}, &ReadError{View: "poolId", Err: v.err}
	}

	v, err = r.call(ctx, r.addrs.Quoter, quoterABI, "poolConfig", id)
	if err != nil {
		return PoolConfig{}, err
	}
	cfg := PoolConfig{
		ID:          id,
		Currency0:   v.address(0),
		Currency1:   v.address(1),
		Fee:         v.bigInt(2),
		TickSpacing: v.bigInt(3),
	}
	if v.err != nil {
		return PoolConfig{}, &ReadError{View: "poolConfig", Err: v.err}
	}
	if cfg.Currency0 != r.addrs.Token && cfg.Currency1 != r.addrs.Token {
		return PoolConfig{}, &ReadError{
			View: "poolConfig",
			Err:  fmt.Errorf("pool does not trade token %s", r.addrs.Token.Hex()),
		}
	}
	return cfg, nil
}

// ProbeQuote reads pool id, pool configuration and an exact-output quote, in
// that order, for amountOut token units.
func (r *Reader) ProbeQuote(ctx context.Context, amountOut *big.Int) (Probe, error) {
	pool, err := r.Pool(ctx)
	if err != nil {
		return Probe{}, err
	}

	v, err := r.call(ctx, r.addrs.Quoter, quoterABI, "quoteExactOutput", pool.ID, r.addrs.Token, amountOut)
	if err != nil {
		return Probe{}, err
	}
	in := v.bigInt(0)
	if v.err != nil {
		return Probe{}, &ReadError{View: "quoteExactOutput", Err: v.err}
	}

	return Probe{
		Pool:      pool,
		AmountIn:  in,
		AmountOut: new(big.Int).Set(amountOut),
	}, nil
}

// PoolValue reads the pool depth in native reference units.
func (r *Reader) PoolValue(ctx context.Context) (*big.Int, error) {
	pool, err := r.Pool(ctx)
	if err != nil {
		return nil, err
	}

	v, err := r.call(ctx, r.addrs.Quoter, quoterABI, "poolValue", pool.ID)
	if err != nil {
		return nil, err
	}
	value := v.bigInt(0)
	if v.err != nil {
		return nil, &ReadError{View: "poolValue", Err: v.err}
	}
	return value, nil
}
