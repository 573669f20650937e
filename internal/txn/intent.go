package txn

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rickgao/blackjack-market/internal/chain"
	"github.com/rickgao/blackjack-market/internal/snapshot"
)

// Errors
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrTerminal              = errors.New("intent is in a terminal state")
	ErrIllegalTransition     = errors.New("illegal intent transition")
	ErrNotFound              = errors.New("intent not found")
	ErrInFlight              = errors.New("an identical intent is already in flight")
	ErrStoppedListening      = errors.New("stopped waiting for confirmation; the transaction may still be mined")
)

// Kind is the user action an intent carries out.
type Kind string

const (
	KindApprove   Kind = "approve"
	KindBuy       Kind = "buy"
	KindSell      Kind = "sell"
	KindStartGame Kind = "startGame"
	KindHit       Kind = "hit"
	KindStand     Kind = "stand"
	KindCancel    Kind = "cancelStuckGame"
	KindClaim     Kind = "claim"
	KindWrapOp    Kind = "wrapOp"
)

// Status is the lifecycle position of a PendingIntent.
type Status string

const (
	StatusCreated    Status = "created"
	StatusSubmitted  Status = "submitted"
	StatusConfirming Status = "confirming"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is legal.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

var transitions = map[Status][]Status{
	StatusCreated:    {StatusSubmitted, StatusFailed},
	StatusSubmitted:  {StatusConfirming, StatusFailed},
	StatusConfirming: {StatusConfirmed, StatusFailed},
}

// canTransition reports whether from → to is legal.
func canTransition(from, to Status) error {
	if from.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrTerminal, from, to)
	}
	for _, s := range transitions[from] {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}

// Stage labels the steps of a non-atomic two-step action.
type Stage string

const (
	StageSingle     Stage = ""
	StageApproving  Stage = "approving"
	StageProcessing Stage = "processing"
)

// Intent describes one action to submit.
type Intent struct {
	Kind Kind
	Call chain.Call

	// Key identifies identical intents. Empty derives one from the call.
	Key string

	// TokenSpend is the token amount the call moves out of the account. When
	// set the allowance to Spender and the token balance are checked.
	TokenSpend *big.Int
	Spender    common.Address

	// Grants is the allowance an approve call sets.
	Grants *big.Int

	// Patch is applied as an overlay once the transaction confirms.
	Patch snapshot.Patch

	// Refresh names the poll jobs to run as soon as the transaction confirms.
	Refresh []string

	// GameID is informational, for logs and the journal.
	GameID uint64
}

// key returns the idempotency key.
func (i Intent) key() string {
	if i.Key != "" {
		return i.Key
	}
	value := "0"
	if i.Call.Value != nil {
		value = i.Call.Value.String()
	}
	return fmt.Sprintf("%s:%s:%s:%s", i.Kind, i.Call.To.Hex(), hex.EncodeToString(i.Call.Data), value)
}

// PendingIntent is a submitted action and its lifecycle.
type PendingIntent struct {
	ID     string
	Kind   Kind
	Key    string
	GameID uint64
	Status Status

	// Stage and Step are set for non-atomic two-step actions.
	Stage Stage
	Step  int
	Steps int

	// Atomic is set when several calls went out as one batch.
	Atomic bool
	Calls  int

	Hash    common.Hash // Zero until known
	BatchID string
	Block   uint64 // Block the transaction was mined in

	Err    error  // Why the intent failed
	Reason string // Wallet or revert reason, when known

	CreatedAt   time.Time
	SubmittedAt time.Time
	UpdatedAt   time.Time

	intent Intent
	handle chain.Handle
}

// HasHash reports whether the transaction hash is known.
func (p PendingIntent) HasHash() bool {
	return p.Hash != (common.Hash{})
}

// UserRejected reports whether the wallet user declined the request.
func (p PendingIntent) UserRejected() bool {
	return errors.Is(p.Err, chain.ErrUserRejected)
}
