// Package price provides USD reference prices for the native currency and the
// game token.
//
// A Provider owns its cache and refreshes it from a Source on a fixed interval.
// Consumers receive the Provider explicitly; there is no package-level state.
package price
