package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// -----------------------------------------------------------------------------
// Game
// -----------------------------------------------------------------------------

// GameState mirrors the game contract's state enum.
type GameState uint8

const (
	StateInactive   GameState = 0
	StateDealing    GameState = 1 // waiting on VRF for the initial deal
	StatePlayerTurn GameState = 2
	StateDealerTurn GameState = 3
	StatePlayerBust GameState = 4
	StateFinished   GameState = 5
	StateCancelled  GameState = 6
)

func (s GameState) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateDealing:
		return "dealing"
	case StatePlayerTurn:
		return "player_turn"
	case StateDealerTurn:
		return "dealer_turn"
	case StatePlayerBust:
		return "player_bust"
	case StateFinished:
		return "finished"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// GameSnapshot is one read of the game views for a player.
type GameSnapshot struct {
	GameID           uint64         // 0 = no game
	Player           common.Address // Player address
	State            GameState      // Contract state
	Status           string         // Human readable status from the display view
	StartedAt        int64          // Unix seconds
	LastActionAt     int64          // Unix seconds
	TradingPeriodEnd int64          // Unix seconds, 0 if not reported
	PlayerTotal      uint8          // 0-31
	DealerTotal      uint8          // 0-31
	PlayerCards      []uint8        // Card identifiers in deal order
	DealerCards      []uint8        // Card identifiers in deal order
	MarketCreated    bool
	CanStartNew      bool

	BlockNumber uint64    // Block the read was served at
	FetchedAt   time.Time // Local time of the read
}

// HasGame reports whether the snapshot refers to a game at all.
func (g GameSnapshot) HasGame() bool {
	return g.GameID != 0
}

// Clone returns a deep copy.
func (g GameSnapshot) Clone() GameSnapshot {
	c := g
	c.PlayerCards = append([]uint8(nil), g.PlayerCards...)
	c.DealerCards = append([]uint8(nil), g.DealerCards...)
	return c
}

// Hand holds the card identifiers dealt to each side.
type Hand struct {
	PlayerCards []uint8
	DealerCards []uint8
}

// -----------------------------------------------------------------------------
// Market
// -----------------------------------------------------------------------------

// MarketResult mirrors the market contract's result enum.
type MarketResult uint8

const (
	ResultPending MarketResult = 0
	ResultWin     MarketResult = 1
	ResultLose    MarketResult = 2
	ResultPush    MarketResult = 3
)

func (r MarketResult) String() string {
	switch r {
	case ResultPending:
		return "pending"
	case ResultWin:
		return "win"
	case ResultLose:
		return "lose"
	case ResultPush:
		return "push"
	default:
		return "unknown"
	}
}

// MarketSnapshot is one read of the market display view for a game and viewer.
type MarketSnapshot struct {
	GameID         uint64
	YesSharesTotal *big.Int
	NoSharesTotal  *big.Int
	YesDeposits    *big.Int
	NoDeposits     *big.Int
	TotalDeposits  *big.Int
	YesPrice       uint64 // Basis points
	NoPrice        uint64 // Basis points
	TradingActive  bool
	Resolved       bool
	Result         MarketResult

	// Caller scoped.
	UserYesShares *big.Int
	UserNoShares  *big.Int
	UserClaimable *big.Int

	Volume *big.Int

	BlockNumber uint64
	FetchedAt   time.Time
}

// Clone returns a deep copy.
func (m MarketSnapshot) Clone() MarketSnapshot {
	c := m
	c.YesSharesTotal = CopyInt(m.YesSharesTotal)
	c.NoSharesTotal = CopyInt(m.NoSharesTotal)
	c.YesDeposits = CopyInt(m.YesDeposits)
	c.NoDeposits = CopyInt(m.NoDeposits)
	c.TotalDeposits = CopyInt(m.TotalDeposits)
	c.UserYesShares = CopyInt(m.UserYesShares)
	c.UserNoShares = CopyInt(m.UserNoShares)
	c.UserClaimable = CopyInt(m.UserClaimable)
	c.Volume = CopyInt(m.Volume)
	return c
}

// Claimable is a resolved market with winnings the account has not claimed.
type Claimable struct {
	GameID uint64
	Amount *big.Int
}

// -----------------------------------------------------------------------------
// Account
// -----------------------------------------------------------------------------

// Holdings is the account-scoped balance snapshot.
// Nil amounts mean the value is unknown, never zero.
type Holdings struct {
	Account       common.Address
	NativeBalance *big.Int
	TokenBalance  *big.Int
	Allowance     *big.Int // Token allowance granted to the market contract
	OwnedTokens   []uint64 // Unwrapped NFTs owned by the account
	WrappedTokens []uint64 // Wrapped NFTs owned by the account

	BlockNumber uint64
	FetchedAt   time.Time
}

// Clone returns a deep copy.
func (h Holdings) Clone() Holdings {
	c := h
	c.NativeBalance = CopyInt(h.NativeBalance)
	c.TokenBalance = CopyInt(h.TokenBalance)
	c.Allowance = CopyInt(h.Allowance)
	c.OwnedTokens = append([]uint64(nil), h.OwnedTokens...)
	c.WrappedTokens = append([]uint64(nil), h.WrappedTokens...)
	return c
}

// Fees are the fee constants exposed by the contracts.
type Fees struct {
	StartGame *big.Int
	Wrap      *big.Int
	Swap      *big.Int
	Breed     *big.Int
	Unhatch   *big.Int
}

// CopyInt copies a big integer, preserving nil.
func CopyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// PoolQuote is the latest probe quote and depth of the token pool.
type PoolQuote struct {
	ProbeIn  *big.Int // Native units paid for ProbeOut
	ProbeOut *big.Int // Token units
	Value    *big.Int // Pool depth in native units, nil if unknown

	BlockNumber uint64
	FetchedAt   time.Time
}

// Clone returns a deep copy.
func (p PoolQuote) Clone() PoolQuote {
	c := p
	c.ProbeIn = CopyInt(p.ProbeIn)
	c.ProbeOut = CopyInt(p.ProbeOut)
	c.Value = CopyInt(p.Value)
	return c
}
