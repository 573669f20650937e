package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

// Errors
var (
	ErrUserRejected       = errors.New("user rejected request")
	ErrAtomicUnsupported  = errors.New("wallet does not support atomic batches")
	ErrEmptyResponse      = errors.New("empty response from contract")
	ErrNoContract         = errors.New("contract address not configured")
	ErrReceiptUnavailable = errors.New("receipt unavailable")
)

// userRejectedCode is the EIP-1193 provider error code for a rejected request.
const userRejectedCode = 4001

// ReadError is a failed view read. Callers keep their last known value.
type ReadError struct {
	View string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.View, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true for transport failures; reverts and decode failures
// will not change on retry.
func (e *ReadError) IsRetryable() bool {
	return retryable(e.Err)
}

// SubmitError is a write the wallet refused or that failed pre-flight.
type SubmitError struct {
	Method string
	Reason string // Revert reason or wallet message, when known
	Err    error
}

func (e *SubmitError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("submit %s: %s", e.Method, e.Reason)
	}
	return fmt.Sprintf("submit %s: %v", e.Method, e.Err)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) || isRevert(err) {
		return false
	}
	var unpackErr *decodeError
	return !errors.As(err, &unpackErr)
}

func isRevert(err error) bool {
	var de rpc.DataError
	if errors.As(err, &de) {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

// revertReason extracts a human readable reason from an RPC error, if any.
func revertReason(err error) string {
	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if reason, uerr := abi.UnpackRevert(common.FromHex(s)); uerr == nil {
				return reason
			}
		}
	}
	msg := err.Error()
	if i := strings.Index(msg, "execution reverted"); i >= 0 {
		reason := strings.TrimPrefix(msg[i:], "execution reverted")
		reason = strings.TrimSpace(strings.TrimPrefix(reason, ":"))
		if reason == "" {
			return "execution reverted"
		}
		return reason
	}
	return ""
}

func isUserRejected(err error) bool {
	var re rpc.Error
	return errors.As(err, &re) && re.ErrorCode() == userRejectedCode
}
