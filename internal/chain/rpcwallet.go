package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RPCCaller is the subset of rpc.Client an RPCWallet needs.
type RPCCaller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// Call status codes from EIP-5792 wallet_getCallsStatus.
const (
	callsPending   = 100
	callsConfirmed = 200
	callsFailed    = 400
)

// RPCWallet submits through a remote wallet endpoint that holds the key.
// Atomic batches use EIP-5792 wallet_sendCalls when the wallet advertises them.
type RPCWallet struct {
	rpc          RPCCaller
	account      common.Address
	chainID      *big.Int
	logger       *slog.Logger
	clock        quartz.Clock
	pollInterval time.Duration

	mu     sync.Mutex
	atomic *bool // cached capability, nil until a lookup succeeds
}

// NewRPCWallet creates a wallet backed by a JSON-RPC wallet endpoint.
func NewRPCWallet(c RPCCaller, account common.Address, chainID int64, logger *slog.Logger) *RPCWallet {
	if logger == nil {
		logger = slog.Default()
	}
	return &RPCWallet{
		rpc:          c,
		account:      account,
		chainID:      big.NewInt(chainID),
		logger:       logger,
		clock:        quartz.NewReal(),
		pollInterval: time.Second,
	}
}

// SetPollInterval sets how often Wait polls for status.
func (w *RPCWallet) SetPollInterval(d time.Duration) {
	w.pollInterval = d
}

// SetClock sets the clock that paces status polling.
func (w *RPCWallet) SetClock(c quartz.Clock) {
	w.clock = c
}

func (w *RPCWallet) Address() common.Address {
	return w.account
}

// SupportsAtomicBatch asks the wallet once and caches a successful answer.
func (w *RPCWallet) SupportsAtomicBatch(ctx context.Context) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.atomic != nil {
		return *w.atomic
	}

	chainHex := hexutil.EncodeBig(w.chainID)
	var caps map[string]map[string]json.RawMessage
	if err := w.rpc.CallContext(ctx, &caps, "wallet_getCapabilities", w.account, []string{chainHex}); err != nil {
		w.logger.Debug("wallet capabilities unavailable", "error", err)
		return false
	}

	supported := atomicCapability(caps[chainHex]) || atomicCapability(caps["0x0"])
	w.atomic = &supported
	return supported
}

// atomicCapability understands both the current ("atomic": {"status": ...}) and the
// earlier ("atomicBatch": {"supported": true}) capability shapes.
func atomicCapability(caps map[string]json.RawMessage) bool {
	if raw, ok := caps["atomic"]; ok {
		var c struct {
			Status string `json:"status"`
		}
		if json.Unmarshal(raw, &c) == nil && (c.Status == "supported" || c.Status == "ready") {
			return true
		}
	}
	if raw, ok := caps["atomicBatch"]; ok {
		var c struct {
			Supported bool `json:"supported"`
		}
		if json.Unmarshal(raw, &c) == nil && c.Supported {
			return true
		}
	}
	return false
}

type callArgs struct {
	From  *common.Address `json:"from,omitempty"`
	To    common.Address  `json:"to"`
	Data  hexutil.Bytes   `json:"data"`
	Value *hexutil.Big    `json:"value,omitempty"`
}

type sendCallsParams struct {
	Version        string         `json:"version"`
	ChainID        *hexutil.Big   `json:"chainId"`
	From           common.Address `json:"from"`
	AtomicRequired bool           `json:"atomicRequired"`
	Calls          []callArgs     `json:"calls"`
}

func toArgs(c Call) callArgs {
	a := callArgs{To: c.To, Data: c.Data}
	if c.Value != nil && c.Value.Sign() > 0 {
		a.Value = (*hexutil.Big)(c.Value)
	}
	return a
}

// Send submits one call with eth_sendTransaction or several as an atomic batch.
func (w *RPCWallet) Send(ctx context.Context, calls []Call) (Handle, error) {
	if len(calls) == 0 {
		return Handle{}, errors.New("send: no calls")
	}

	methods := make([]string, len(calls))
	for i, c := range calls {
		methods[i] = c.Method
	}
	method := strings.Join(methods, "+")

	if len(calls) == 1 {
		args := toArgs(calls[0])
		args.From = &w.account

		var hash common.Hash
		if err := w.rpc.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
			return Handle{}, w.submitError(method, err)
		}
		return Handle{Hash: hash}, nil
	}

	if !w.SupportsAtomicBatch(ctx) {
		return Handle{}, ErrAtomicUnsupported
	}

	params := sendCallsParams{
		Version:        "2.0.0",
		ChainID:        (*hexutil.Big)(w.chainID),
		From:           w.account,
		AtomicRequired: true,
		Calls:          make([]callArgs, len(calls)),
	}
	for i, c := range calls {
		params.Calls[i] = toArgs(c)
	}

	var raw json.RawMessage
	if err := w.rpc.CallContext(ctx, &raw, "wallet_sendCalls", params); err != nil {
		return Handle{}, w.submitError(method, err)
	}

	id, err := batchID(raw)
	if err != nil {
		return Handle{}, &SubmitError{Method: method, Err: err}
	}

	w.logger.Debug("batch sent", "method", method, "batch_id", id, "calls", len(calls))
	return Handle{BatchID: id}, nil
}

// batchID accepts both a bare id string and {"id": "..."}.
func batchID(raw json.RawMessage) (string, error) {
	var id string
	if json.Unmarshal(raw, &id) == nil && id != "" {
		return id, nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || obj.ID == "" {
		return "", fmt.Errorf("unexpected wallet_sendCalls result: %s", string(raw))
	}
	return obj.ID, nil
}

func (w *RPCWallet) submitError(method string, err error) error {
	if isUserRejected(err) {
		return &SubmitError{Method: method, Reason: "user rejected", Err: ErrUserRejected}
	}
	return &SubmitError{Method: method, Reason: revertReason(err), Err: err}
}

type rpcReceipt struct {
	TransactionHash common.Hash    `json:"transactionHash"`
	BlockNumber     hexutil.Uint64 `json:"blockNumber"`
	Status          hexutil.Uint64 `json:"status"`
}

type callsStatus struct {
	Status   json.RawMessage `json:"status"`
	Receipts []rpcReceipt    `json:"receipts"`
}

// code normalizes the numeric and the earlier string status forms.
func (s callsStatus) code() int {
	if len(s.Status) == 0 {
		return callsPending
	}
	var n int
	if json.Unmarshal(s.Status, &n) == nil {
		return n
	}
	var str string
	if json.Unmarshal(s.Status, &str) == nil {
		switch strings.ToUpper(str) {
		case "CONFIRMED":
			return callsConfirmed
		case "PENDING":
			return callsPending
		}
	}
	return callsFailed
}

// Wait polls the receipt or batch status until it is final or ctx is done.
func (w *RPCWallet) Wait(ctx context.Context, h Handle) (Receipt, error) {
	ticker := w.clock.NewTicker(w.pollInterval, "wallet", "status")
	defer ticker.Stop()

	for {
		rcpt, done, err := w.poll(ctx, h)
		if err != nil {
			w.logger.Debug("receipt poll failed", "error", err, "batch_id", h.BatchID, "hash", h.Hash.Hex())
		}
		if done {
			return rcpt, nil
		}

		select {
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *RPCWallet) poll(ctx context.Context, h Handle) (Receipt, bool, error) {
	if h.BatchID == "" {
		if !h.HasHash() {
			return Receipt{}, false, ErrReceiptUnavailable
		}
		var r *rpcReceipt
		if err := w.rpc.CallContext(ctx, &r, "eth_getTransactionReceipt", h.Hash); err != nil {
			return Receipt{}, false, err
		}
		if r == nil {
			return Receipt{}, false, nil
		}
		return Receipt{TxHash: r.TransactionHash, BlockNumber: uint64(r.BlockNumber), Success: r.Status == 1}, true, nil
	}

	var st callsStatus
	if err := w.rpc.CallContext(ctx, &st, "wallet_getCallsStatus", h.BatchID); err != nil {
		return Receipt{}, false, err
	}

	code := st.code()
	if code < callsConfirmed {
		return Receipt{}, false, nil
	}

	var out Receipt
	out.Success = code == callsConfirmed
	for _, r := range st.Receipts {
		out.TxHash = r.TransactionHash
		if uint64(r.BlockNumber) > out.BlockNumber {
			out.BlockNumber = uint64(r.BlockNumber)
		}
		if r.Status != 1 {
			out.Success = false
		}
	}
	return out, true, nil
}
