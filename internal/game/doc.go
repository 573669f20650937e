// Package game derives the phase of a single game and the actions that are
// legal right now.
//
// A Machine is fed game and market snapshots as polls complete and is
// evaluated against wall-clock time. Everything time dependent (the stuck
// timeout, the trading window, the countdown) is recomputed from timestamps
// on every evaluation, so the Watcher can re-evaluate each second without
// re-reading the chain.
package game
