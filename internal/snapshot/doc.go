// Package snapshot holds the authoritative view of chain state.
//
// The Store has a single writer: the poll jobs. Transactions never write
// authoritative data; they register overlays through the Overlays interface,
// and every read applies those overlays to a fresh copy of the authoritative
// snapshot. An overlay is discarded once an authoritative read reflects it.
package snapshot
