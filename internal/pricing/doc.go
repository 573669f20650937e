// Package pricing turns raw contract numbers into display values.
//
// Everything here is pure and deterministic. Amounts stay *big.Int until
// they are formatted; percentages for display use shopspring/decimal.
package pricing
