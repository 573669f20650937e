package heads

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// Head is a new block announced by the node.
type Head struct {
	Number     uint64
	Hash       common.Hash
	Time       uint64 // Block timestamp, unix seconds
	ReceivedAt time.Time
}

// Config configures a Subscriber.
type Config struct {
	URL               string        // Websocket RPC endpoint
	PingInterval      time.Duration // How often to ping the node
	PingTimeout       time.Duration // Max time without a pong before the connection is stale
	WriteTimeout      time.Duration // Write deadline for sends
	SubscribeTimeout  time.Duration // Max wait for the eth_subscribe response
	ReconnectBaseWait time.Duration
	ReconnectMaxWait  time.Duration
	BufferSize        int // Heads channel size
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PingInterval:      15 * time.Second,
		PingTimeout:       45 * time.Second,
		WriteTimeout:      5 * time.Second,
		SubscribeTimeout:  10 * time.Second,
		ReconnectBaseWait: time.Second,
		ReconnectMaxWait:  time.Minute,
		BufferSize:        16,
	}
}

// request is a JSON-RPC call.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// rpcError is a JSON-RPC error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// message is any frame the node sends: a response to a call (ID set) or a
// subscription notification (Method set).
type message struct {
	ID     *int64          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
	Method string          `json:"method,omitempty"`
	Params *notification   `json:"params,omitempty"`
}

type notification struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

type header struct {
	Number    *hexutil.Big   `json:"number"`
	Hash      common.Hash    `json:"hash"`
	Timestamp hexutil.Uint64 `json:"timestamp"`
}
