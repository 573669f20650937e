package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Handle identifies a submission. Hash is zero until known; BatchID is set for
// atomic batches.
type Handle struct {
	Hash    common.Hash
	BatchID string
}

// HasHash reports whether the transaction hash is known.
func (h Handle) HasHash() bool {
	return h.Hash != (common.Hash{})
}

// Receipt is the mined outcome of a submission.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Success     bool
}

// Wallet signs and submits calls.
type Wallet interface {
	// Address returns the account that signs.
	Address() common.Address

	// SupportsAtomicBatch reports whether Send accepts more than one call.
	SupportsAtomicBatch(ctx context.Context) bool

	// Send submits calls; more than one call requires atomic batch support.
	Send(ctx context.Context, calls []Call) (Handle, error)

	// Wait blocks until the submission is mined or ctx is done.
	// Returning early stops listening; it does not cancel the transaction.
	Wait(ctx context.Context, h Handle) (Receipt, error)
}

// Backend is the subset of ethclient.Client a KeyWallet needs.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// KeyWallet signs EIP-1559 transactions with a local private key.
// It never batches: every Send carries exactly one call.
type KeyWallet struct {
	backend      Backend
	key          *ecdsa.PrivateKey
	address      common.Address
	chainID      *big.Int
	logger       *slog.Logger
	clock        quartz.Clock
	pollInterval time.Duration

	// Serializes nonce assignment.
	sendMu sync.Mutex
}

// NewKeyWallet creates a wallet from a hex private key.
func NewKeyWallet(backend Backend, hexKey string, chainID int64, logger *slog.Logger) (*KeyWallet, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(hexKey) > 1 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &KeyWallet{
		backend:      backend,
		key:          key,
		address:      crypto.PubkeyToAddress(key.PublicKey),
		chainID:      big.NewInt(chainID),
		logger:       logger,
		clock:        quartz.NewReal(),
		pollInterval: time.Second,
	}, nil
}

// SetPollInterval sets how often Wait polls for a receipt.
func (w *KeyWallet) SetPollInterval(d time.Duration) {
	w.pollInterval = d
}

// SetClock sets the clock that paces receipt polling.
func (w *KeyWallet) SetClock(c quartz.Clock) {
	w.clock = c
}

func (w *KeyWallet) Address() common.Address {
	return w.address
}

func (w *KeyWallet) SupportsAtomicBatch(ctx context.Context) bool {
	return false
}

// Send estimates, signs and broadcasts a single call. A revert during gas
// estimation is returned as a SubmitError without broadcasting.
func (w *KeyWallet) Send(ctx context.Context, calls []Call) (Handle, error) {
	if len(calls) != 1 {
		return Handle{}, ErrAtomicUnsupported
	}
	call := calls[0]

	w.sendMu.Lock()
	defer w.sendMu.Unlock()

	gas, err := w.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  w.address,
		To:    &call.To,
		Data:  call.Data,
		Value: call.Value,
	})
	if err != nil {
		return Handle{}, &SubmitError{Method: call.Method, Reason: revertReason(err), Err: err}
	}

	nonce, err := w.backend.PendingNonceAt(ctx, w.address)
	if err != nil {
		return Handle{}, &SubmitError{Method: call.Method, Err: fmt.Errorf("pending nonce: %w", err)}
	}

	tip, err := w.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return Handle{}, &SubmitError{Method: call.Method, Err: fmt.Errorf("suggest tip: %w", err)}
	}

	head, err := w.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return Handle{}, &SubmitError{Method: call.Method, Err: fmt.Errorf("latest header: %w", err)}
	}

	// feeCap = 2*baseFee + tip leaves room for base fee growth over a few blocks.
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	value := call.Value
	if value == nil {
		value = new(big.Int)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   w.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas + gas/5, // 20% headroom over the estimate
		To:        &call.To,
		Value:     value,
		Data:      call.Data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(w.chainID), w.key)
	if err != nil {
		return Handle{}, &SubmitError{Method: call.Method, Err: fmt.Errorf("sign: %w", err)}
	}

	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return Handle{}, &SubmitError{Method: call.Method, Reason: revertReason(err), Err: err}
	}

	w.logger.Debug("transaction sent",
		"method", call.Method,
		"hash", signed.Hash().Hex(),
		"nonce", nonce,
		"gas", signed.Gas(),
	)

	return Handle{Hash: signed.Hash()}, nil
}

// Wait polls for the receipt of h.Hash.
func (w *KeyWallet) Wait(ctx context.Context, h Handle) (Receipt, error) {
	if !h.HasHash() {
		return Receipt{}, ErrReceiptUnavailable
	}
	return waitReceipt(ctx, w.clock, w.pollInterval, func(ctx context.Context) (*types.Receipt, error) {
		return w.backend.TransactionReceipt(ctx, h.Hash)
	})
}

// waitReceipt polls fetch until a receipt is returned. ethereum.NotFound means
// pending; other errors are treated as transient until ctx is done.
func waitReceipt(ctx context.Context, clock quartz.Clock, every time.Duration, fetch func(context.Context) (*types.Receipt, error)) (Receipt, error) {
	ticker := clock.NewTicker(every, "wallet", "receipt")
	defer ticker.Stop()

	var lastErr error
	for {
		rcpt, err := fetch(ctx)
		if err == nil && rcpt != nil {
			r := Receipt{
				TxHash:  rcpt.TxHash,
				Success: rcpt.Status == types.ReceiptStatusSuccessful,
			}
			if rcpt.BlockNumber != nil {
				r.BlockNumber = rcpt.BlockNumber.Uint64()
			}
			return r, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return Receipt{}, fmt.Errorf("%w (last receipt error: %v)", ctx.Err(), lastErr)
			}
			return Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
