package pricing

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// BasisPoints is 100%.
const BasisPoints = 10000

// DefaultPriceTolerance is the rounding slack allowed on yesPrice + noPrice.
const DefaultPriceTolerance = 2

// ErrZeroProbe is returned when a probe quote is degenerate. A zero quote must
// never be read as "free".
var ErrZeroProbe = errors.New("probe quote returned zero")

var hundred = decimal.NewFromInt(100)

// SharePrice converts basis points to a percentage.
func SharePrice(bp uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(bp), 0).Div(hundred)
}

// FormatPercent renders basis points as a percentage to the hundredth, e.g. "60.00%".
func FormatPercent(bp uint64) string {
	return SharePrice(bp).StringFixed(2) + "%"
}

// PriceSumOK reports whether yes + no is within tolerance of 100%.
func PriceSumOK(yes, no, tolerance uint64) bool {
	sum := yes + no
	if sum > BasisPoints {
		return sum-BasisPoints <= tolerance
	}
	return BasisPoints-sum <= tolerance
}

// MulBP returns amount * bp / 10000, rounded down.
func MulBP(amount *big.Int, bp uint64) *big.Int {
	if amount == nil {
		return nil
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bp))
	return out.Quo(out, big.NewInt(BasisPoints))
}

// QuoteForTargetCount extrapolates a single exact-output probe to target units
// and inflates it by bufferBP to absorb price movement before execution.
//
//	amountIn = ceil(probeIn * target * (10000 + bufferBP) / (probeOut * 10000))
func QuoteForTargetCount(probeIn, probeOut, target *big.Int, bufferBP uint64) (*big.Int, error) {
	if probeOut == nil || probeOut.Sign() == 0 || probeIn == nil || probeIn.Sign() == 0 {
		return nil, ErrZeroProbe
	}
	if probeIn.Sign() < 0 || probeOut.Sign() < 0 {
		return nil, fmt.Errorf("negative probe: in=%s out=%s", probeIn, probeOut)
	}
	if target == nil || target.Sign() < 0 {
		return nil, fmt.Errorf("invalid target count: %v", target)
	}

	num := new(big.Int).Mul(probeIn, target)
	num.Mul(num, new(big.Int).SetUint64(BasisPoints+bufferBP))
	den := new(big.Int).Mul(probeOut, big.NewInt(BasisPoints))

	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q, nil
}

// FormatUnits renders a base-unit amount with the given decimals, e.g.
// FormatUnits(1500000000000000000, 18, 4) == "1.5000". Nil renders as "-".
func FormatUnits(amount *big.Int, decimals uint8, places int32) string {
	if amount == nil {
		return "-"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).StringFixed(places)
}

// ToDecimal converts a base-unit amount to a decimal in whole units.
func ToDecimal(amount *big.Int, decimals uint8) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}
