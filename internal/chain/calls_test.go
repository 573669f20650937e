package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalls(t *testing.T) {
	calls := NewCalls(testAddresses())

	t.Run("start game carries fee", func(t *testing.T) {
		c, err := calls.StartGame(big.NewInt(500))
		require.NoError(t, err)
		assert.Equal(t, "startGame", c.Method)
		assert.Equal(t, testGame, c.To)
		assert.Equal(t, int64(500), c.Value.Int64())
		assert.Equal(t, gameABI.Methods["startGame"].ID, c.Data[:4])
	})

	t.Run("buy shares encodes arguments", func(t *testing.T) {
		c, err := calls.BuyShares(9, true, big.NewInt(1000))
		require.NoError(t, err)
		assert.Equal(t, testMarket, c.To)
		assert.Nil(t, c.Value)

		args, err := marketABI.Methods["buyShares"].Inputs.Unpack(c.Data[4:])
		require.NoError(t, err)
		assert.Equal(t, int64(9), args[0].(*big.Int).Int64())
		assert.Equal(t, true, args[1])
		assert.Equal(t, int64(1000), args[2].(*big.Int).Int64())
	})

	t.Run("approve targets token", func(t *testing.T) {
		c, err := calls.Approve(testMarket, big.NewInt(10))
		require.NoError(t, err)
		assert.Equal(t, testToken, c.To)

		args, err := erc20ABI.Methods["approve"].Inputs.Unpack(c.Data[4:])
		require.NoError(t, err)
		assert.Equal(t, testMarket, args[0].(common.Address))
	})

	t.Run("nft fee scales with count", func(t *testing.T) {
		c, err := calls.Wrap([]uint64{1, 2, 3}, big.NewInt(7))
		require.NoError(t, err)
		assert.Equal(t, testNFT, c.To)
		assert.Equal(t, int64(21), c.Value.Int64())
	})

	t.Run("nft without fee", func(t *testing.T) {
		c, err := calls.Unwrap([]uint64{1}, nil)
		require.NoError(t, err)
		assert.Nil(t, c.Value)
	})

	t.Run("nft without ids", func(t *testing.T) {
		_, err := calls.Swap(nil, big.NewInt(1))
		require.Error(t, err)
	})

	t.Run("missing contract", func(t *testing.T) {
		addrs := testAddresses()
		addrs.NFT = common.Address{}
		_, err := NewCalls(addrs).Wrap([]uint64{1}, nil)
		require.ErrorIs(t, err, ErrNoContract)
	})
}
