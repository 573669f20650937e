package pricing

import "math/big"

// Tier classifies pool depth.
type Tier int

const (
	TierThin Tier = iota
	TierMedium
	TierDeep
	TierOptimal
)

func (t Tier) String() string {
	switch t {
	case TierThin:
		return "THIN"
	case TierMedium:
		return "MEDIUM"
	case TierDeep:
		return "DEEP"
	case TierOptimal:
		return "OPTIMAL"
	default:
		return "UNKNOWN"
	}
}

// TierThreshold is the minimum pool value for a tier.
type TierThreshold struct {
	Min  *big.Int
	Tier Tier
}

// TierTable is an ascending list of thresholds. Values below the first entry
// fall into the first entry's tier.
type TierTable []TierThreshold

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

// DefaultTiers are thresholds in wei of the native reference currency.
var DefaultTiers = TierTable{
	{Min: big.NewInt(0), Tier: TierThin},
	{Min: ether(5), Tier: TierMedium},
	{Min: ether(25), Tier: TierDeep},
	{Min: ether(100), Tier: TierOptimal},
}

// Lookup returns the highest tier whose threshold value meets.
func (t TierTable) Lookup(value *big.Int) Tier {
	if len(t) == 0 {
		return TierThin
	}
	tier := t[0].Tier
	if value == nil {
		return tier
	}
	for _, th := range t {
		if value.Cmp(th.Min) < 0 {
			break
		}
		tier = th.Tier
	}
	return tier
}

// PoolSizeTier classifies value with DefaultTiers.
func PoolSizeTier(value *big.Int) Tier {
	return DefaultTiers.Lookup(value)
}
