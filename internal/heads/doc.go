// Package heads subscribes to new block headers over a JSON-RPC websocket.
//
// A Subscriber keeps one connection open, re-subscribing after reconnects,
// and publishes each head on a channel that keeps only the newest entries.
// Consumers use heads as a trigger to refresh views sooner than their poll
// interval; the poll loops remain the source of truth.
package heads
