package snapshot

import (
	"slices"

	"github.com/rickgao/blackjack-market/internal/model"
)

// Account is the account-scoped state overlays operate on.
type Account struct {
	Holdings  model.Holdings
	Claimable []model.Claimable
}

func (a Account) clone() Account {
	c := Account{Holdings: a.Holdings.Clone()}
	if a.Claimable == nil {
		return c
	}
	c.Claimable = make([]model.Claimable, len(a.Claimable))
	for i, cl := range a.Claimable {
		c.Claimable[i] = model.Claimable{GameID: cl.GameID, Amount: model.CopyInt(cl.Amount)}
	}
	return c
}

// Patch is an optimistic adjustment to account state.
//
// Apply must be idempotent: Apply(Apply(a)) == Apply(a). Reflected reports
// whether an authoritative read already contains the change. Scope names the
// snapshot whose reads can retire the patch.
type Patch interface {
	Apply(a Account) Account
	Reflected(a Account) bool
	Scope() Kind
}

// MoveTokens moves token ids between the owned and wrapped sets, as a
// wrap (ToWrapped) or unwrap does.
type MoveTokens struct {
	IDs       []uint64
	ToWrapped bool
}

func (p MoveTokens) Apply(a Account) Account {
	a = a.clone()
	from, to := &a.Holdings.OwnedTokens, &a.Holdings.WrappedTokens
	if !p.ToWrapped {
		from, to = to, from
	}
	*from = without(*from, p.IDs)
	*to = union(*to, p.IDs)
	return a
}

func (p MoveTokens) Scope() Kind { return KindHoldings }

func (p MoveTokens) Reflected(a Account) bool {
	from, to := a.Holdings.OwnedTokens, a.Holdings.WrappedTokens
	if !p.ToWrapped {
		from, to = to, from
	}
	for _, id := range p.IDs {
		if slices.Contains(from, id) || !slices.Contains(to, id) {
			return false
		}
	}
	return true
}

// RemoveTokens drops token ids from both sets, as a swap does.
type RemoveTokens struct {
	IDs []uint64
}

func (p RemoveTokens) Apply(a Account) Account {
	a = a.clone()
	a.Holdings.OwnedTokens = without(a.Holdings.OwnedTokens, p.IDs)
	a.Holdings.WrappedTokens = without(a.Holdings.WrappedTokens, p.IDs)
	return a
}

func (p RemoveTokens) Scope() Kind { return KindHoldings }

func (p RemoveTokens) Reflected(a Account) bool {
	for _, id := range p.IDs {
		if slices.Contains(a.Holdings.OwnedTokens, id) || slices.Contains(a.Holdings.WrappedTokens, id) {
			return false
		}
	}
	return true
}

// ClaimMarket removes a claimed market from the claimable list.
type ClaimMarket struct {
	GameID uint64
}

func (p ClaimMarket) Apply(a Account) Account {
	a = a.clone()
	a.Claimable = slices.DeleteFunc(a.Claimable, func(c model.Claimable) bool {
		return c.GameID == p.GameID
	})
	return a
}

func (p ClaimMarket) Scope() Kind { return KindClaimable }

func (p ClaimMarket) Reflected(a Account) bool {
	return !slices.ContainsFunc(a.Claimable, func(c model.Claimable) bool {
		return c.GameID == p.GameID
	})
}

func without(set, ids []uint64) []uint64 {
	set = slices.DeleteFunc(set, func(id uint64) bool {
		return slices.Contains(ids, id)
	})
	if len(set) == 0 {
		return nil
	}
	return set
}

func union(set, ids []uint64) []uint64 {
	for _, id := range ids {
		if !slices.Contains(set, id) {
			set = append(set, id)
		}
	}
	return set
}
