package pricing

// Blackjack is the best possible hand total.
const Blackjack = 21

// leadStep maps a minimum lead to a displayed percentage. Ascending by lead.
type leadStep struct {
	minLead int
	percent float64
}

// leadSteps drives the unresolved win-odds bar. Only non-negative leads are
// listed; a deficit mirrors its lead so a tie sits at 50.
var leadSteps = []leadStep{
	{minLead: 0, percent: 50},
	{minLead: 1, percent: 60},
	{minLead: 3, percent: 70},
	{minLead: 6, percent: 80},
	{minLead: 10, percent: 90},
}

const (
	holdingBlackjackPercent = 85
	pushPercent             = 50
)

// ImpliedWinOdds is a display heuristic for the probability bar, not a market
// price and not a statistical model. It returns the player's chance in [0,100].
//
// Resolved games are degenerate: 100 for a win, 0 for a loss, 50 for a push.
// Unresolved games are scored from the lead (player total minus dealer total)
// through a step table, with a bust deciding outright and a 21 lifting its
// holder to at least 85. For a fixed dealer total with neither side bust the
// result is non-decreasing in the player total. Across different dealer
// totals it is not monotonic in the lead, since the 21 floor can score a
// small lead above a larger one. ImpliedWinOdds(a, b) + ImpliedWinOdds(b, a)
// == 100.
func ImpliedWinOdds(playerTotal, dealerTotal uint8, resolved bool) float64 {
	p, d := int(playerTotal), int(dealerTotal)

	playerBust := p > Blackjack
	dealerBust := d > Blackjack

	switch {
	case playerBust && dealerBust:
		return pushPercent
	case playerBust:
		return 0
	case dealerBust:
		return 100
	}

	if resolved {
		switch {
		case p > d:
			return 100
		case p < d:
			return 0
		default:
			return pushPercent
		}
	}

	lead := p - d
	pct := leadPercent(lead)

	switch {
	case p == Blackjack && d != Blackjack && pct < holdingBlackjackPercent:
		pct = holdingBlackjackPercent
	case d == Blackjack && p != Blackjack && pct > 100-holdingBlackjackPercent:
		pct = 100 - holdingBlackjackPercent
	}
	return pct
}

func leadPercent(lead int) float64 {
	if lead < 0 {
		return 100 - leadPercent(-lead)
	}
	pct := leadSteps[0].percent
	for _, s := range leadSteps {
		if lead < s.minLead {
			break
		}
		pct = s.percent
	}
	return pct
}
