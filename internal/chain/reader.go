package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand/v2"
	"time"

	"github.com/coder/quartz"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Caller is the subset of ethclient.Client the Reader needs.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Addresses holds the deployed contract addresses.
type Addresses struct {
	Game   common.Address
	Market common.Address
	Token  common.Address
	NFT    common.Address // zero if not deployed
	Quoter common.Address // zero if not deployed
}

// Reader provides typed access to the contract views.
type Reader struct {
	caller Caller
	addrs  Addresses
	logger *slog.Logger
	clock  quartz.Clock

	timeout      time.Duration
	maxRetries   int
	retryBackoff time.Duration

	// Pinned block for reads; nil reads latest.
	block *big.Int
}

// Option configures a Reader.
type Option func(*Reader)

// NewReader creates a new Reader.
func NewReader(caller Caller, addrs Addresses, opts ...Option) *Reader {
	r := &Reader{
		caller:       caller,
		addrs:        addrs,
		logger:       slog.Default(),
		clock:        quartz.NewReal(),
		timeout:      10 * time.Second,
		maxRetries:   3,
		retryBackoff: 250 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// WithTimeout sets the per-attempt call timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Reader) {
		r.timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) Option {
	return func(r *Reader) {
		r.maxRetries = max
		r.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) {
		r.logger = logger
	}
}

// WithClock sets the clock used for retry backoff.
func WithClock(c quartz.Clock) Option {
	return func(r *Reader) {
		r.clock = c
	}
}

// Addresses returns the configured contract addresses.
func (r *Reader) Addresses() Addresses {
	return r.addrs
}

// AtBlock returns a Reader whose reads are served at block n.
// Reads that must agree with each other within one poll cycle use the same block.
func (r *Reader) AtBlock(n uint64) *Reader {
	pinned := *r
	pinned.block = new(big.Int).SetUint64(n)
	return &pinned
}

// pinnedBlock returns the pinned block number, or 0 when reading latest.
func (r *Reader) pinnedBlock() uint64 {
	if r.block == nil {
		return 0
	}
	return r.block.Uint64()
}

// BlockNumber returns the latest block number.
func (r *Reader) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := r.withRetry(ctx, "blockNumber", func(ctx context.Context) error {
		var err error
		n, err = r.caller.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, &ReadError{View: "blockNumber", Err: err}
	}
	return n, nil
}

// call packs, executes and unpacks a single view call.
func (r *Reader) call(ctx context.Context, contract common.Address, a abi.ABI, method string, args ...any) (*values, error) {
	if contract == (common.Address{}) {
		return nil, &ReadError{View: method, Err: ErrNoContract}
	}

	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, &ReadError{View: method, Err: fmt.Errorf("pack: %w", err)}
	}

	msg := ethereum.CallMsg{To: &contract, Data: data}

	var raw []byte
	err = r.withRetry(ctx, method, func(ctx context.Context) error {
		out, err := r.caller.CallContract(ctx, msg, r.block)
		if err != nil {
			return err
		}
		if len(out) == 0 {
			return ErrEmptyResponse
		}
		raw = out
		return nil
	})
	if err != nil {
		return nil, &ReadError{View: method, Err: err}
	}

	out, err := a.Unpack(method, raw)
	if err != nil {
		return nil, &ReadError{View: method, Err: fmt.Errorf("unpack: %w", err)}
	}

	return &values{method: method, out: out}, nil
}

// withRetry runs fn with exponential backoff for retryable failures.
func (r *Reader) withRetry(ctx context.Context, view string, fn func(context.Context) error) error {
	var lastErr error
	backoff := r.retryBackoff

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)+1))
			r.logger.Debug("retrying read",
				"attempt", attempt,
				"backoff", jitter,
				"view", view,
			)

			timer := r.clock.NewTimer(jitter, "chain", "retry")
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}

			backoff *= 2
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A per-attempt timeout is worth another try; the parent context is still live.
		if !retryable(err) && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
