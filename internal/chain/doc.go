// Package chain is the typed boundary to the game, market, token, NFT and quoter contracts.
//
// Reads go through eth_call against embedded ABIs and return model snapshots.
// Writes are expressed as Calls and handed to a Wallet, which owns signing and
// submission. Every amount crossing this package is a *big.Int in base units.
package chain
