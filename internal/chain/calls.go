package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Call is one contract write.
type Call struct {
	Method string
	To     common.Address
	Data   []byte
	Value  *big.Int // nil for non-payable calls
}

// Calls builds the writes the engine submits.
type Calls struct {
	addrs Addresses
}

// NewCalls creates a call builder for the given contracts.
func NewCalls(addrs Addresses) Calls {
	return Calls{addrs: addrs}
}

func (c Calls) build(to common.Address, a abi.ABI, value *big.Int, method string, args ...any) (Call, error) {
	if to == (common.Address{}) {
		return Call{}, fmt.Errorf("build %s: %w", method, ErrNoContract)
	}
	data, err := a.Pack(method, args...)
	if err != nil {
		return Call{}, fmt.Errorf("build %s: %w", method, err)
	}
	return Call{Method: method, To: to, Data: data, Value: value}, nil
}

// StartGame starts a game paying fee in native currency.
func (c Calls) StartGame(fee *big.Int) (Call, error) {
	return c.build(c.addrs.Game, gameABI, fee, "startGame")
}

// StartGameWithToken starts a game paying amount in tokens.
func (c Calls) StartGameWithToken(amount *big.Int) (Call, error) {
	return c.build(c.addrs.Game, gameABI, nil, "startGameWithToken", amount)
}

func (c Calls) Hit() (Call, error) {
	return c.build(c.addrs.Game, gameABI, nil, "hit")
}

func (c Calls) Stand() (Call, error) {
	return c.build(c.addrs.Game, gameABI, nil, "stand")
}

// CancelStuckGame refunds a game whose deal never arrived.
func (c Calls) CancelStuckGame() (Call, error) {
	return c.build(c.addrs.Game, gameABI, nil, "cancelStuckGame")
}

// BuyShares buys yes or no shares paying amount in tokens.
func (c Calls) BuyShares(gameID uint64, yes bool, amount *big.Int) (Call, error) {
	return c.build(c.addrs.Market, marketABI, nil, "buyShares", new(big.Int).SetUint64(gameID), yes, amount)
}

// BuySharesWithETH buys yes or no shares paying value in native currency.
func (c Calls) BuySharesWithETH(gameID uint64, yes bool, value *big.Int) (Call, error) {
	return c.build(c.addrs.Market, marketABI, value, "buySharesWithETH", new(big.Int).SetUint64(gameID), yes)
}

func (c Calls) SellShares(gameID uint64, yes bool, shares *big.Int) (Call, error) {
	return c.build(c.addrs.Market, marketABI, nil, "sellShares", new(big.Int).SetUint64(gameID), yes, shares)
}

func (c Calls) ClaimWinnings(gameID uint64) (Call, error) {
	return c.build(c.addrs.Market, marketABI, nil, "claimWinnings", new(big.Int).SetUint64(gameID))
}

// Approve lets spender move amount tokens.
func (c Calls) Approve(spender common.Address, amount *big.Int) (Call, error) {
	return c.build(c.addrs.Token, erc20ABI, nil, "approve", spender, amount)
}

// Wrap wraps tokenIDs paying feePerToken for each.
func (c Calls) Wrap(tokenIDs []uint64, feePerToken *big.Int) (Call, error) {
	return c.nftOp("wrap", tokenIDs, feePerToken)
}

// Unwrap unwraps tokenIDs paying feePerToken for each.
func (c Calls) Unwrap(tokenIDs []uint64, feePerToken *big.Int) (Call, error) {
	return c.nftOp("unwrap", tokenIDs, feePerToken)
}

// Swap swaps tokenIDs paying feePerToken for each.
func (c Calls) Swap(tokenIDs []uint64, feePerToken *big.Int) (Call, error) {
	return c.nftOp("swap", tokenIDs, feePerToken)
}

func (c Calls) nftOp(method string, tokenIDs []uint64, feePerToken *big.Int) (Call, error) {
	if len(tokenIDs) == 0 {
		return Call{}, fmt.Errorf("build %s: no token ids", method)
	}
	ids := make([]*big.Int, len(tokenIDs))
	for i, id := range tokenIDs {
		ids[i] = new(big.Int).SetUint64(id)
	}

	var value *big.Int
	if feePerToken != nil && feePerToken.Sign() > 0 {
		value = new(big.Int).Mul(feePerToken, big.NewInt(int64(len(tokenIDs))))
	}
	return c.build(c.addrs.NFT, nftABI, value, method, ids)
}
