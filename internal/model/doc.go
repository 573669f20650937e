// Package model defines the snapshot types shared across the client engine.
//
// Conventions:
//   - Amounts: *big.Int base units exactly as returned by the contracts (nil = unknown)
//   - Prices: integer basis points (0-10,000 = 0.00%-100.00%)
//   - Timestamps: int64 unix seconds as reported by the chain
//   - Snapshots are values; a newer read replaces the older one wholesale
package model
