package game

import (
	"strings"
	"unicode"

	"github.com/rickgao/blackjack-market/internal/model"
)

// Phase is the derived phase of a game.
type Phase int

const (
	PhaseNoGame Phase = iota
	PhaseAwaitingDeal
	PhaseActiveTurn
	PhaseDealerResolving
	PhaseBusted
	PhaseFinished
	PhaseStuck
)

func (p Phase) String() string {
	switch p {
	case PhaseNoGame:
		return "no_game"
	case PhaseAwaitingDeal:
		return "awaiting_deal"
	case PhaseActiveTurn:
		return "active_turn"
	case PhaseDealerResolving:
		return "dealer_resolving"
	case PhaseBusted:
		return "busted"
	case PhaseFinished:
		return "finished"
	case PhaseStuck:
		return "stuck"
	default:
		return "unknown"
	}
}

// InProgress reports whether the game has not yet resolved.
func (p Phase) InProgress() bool {
	switch p {
	case PhaseAwaitingDeal, PhaseActiveTurn, PhaseDealerResolving, PhaseStuck:
		return true
	default:
		return false
	}
}

// resolutionWords mark a status string as describing a resolved game. They
// are matched as whole words, so "window" does not match "win" nor "closed"
// "lose". Bare "win" and "lose" are left out since prompts such as "stand to
// win" use them before the outcome is known.
var resolutionWords = map[string]bool{
	"bust":      true,
	"busts":     true,
	"busted":    true,
	"wins":      true,
	"won":       true,
	"loses":     true,
	"lost":      true,
	"push":      true,
	"finished":  true,
	"completed": true,
	"cancelled": true,
	"canceled":  true,
	"refunded":  true,
}

// Resolved reports whether g describes a resolved game, either by the
// canStartNew flag, a terminal state or a resolution word in the status.
func Resolved(g model.GameSnapshot) bool {
	if !g.HasGame() {
		return false
	}
	if g.CanStartNew {
		return true
	}
	switch g.State {
	case model.StatePlayerBust, model.StateFinished, model.StateCancelled:
		return true
	}
	return statusResolved(g.Status)
}

func statusResolved(status string) bool {
	words := strings.FieldsFunc(strings.ToLower(status), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '!'
	})
	for _, w := range words {
		if strings.HasPrefix(w, "blackjack!") || resolutionWords[strings.TrimRight(w, "!")] {
			return true
		}
	}
	return false
}

// Classify returns the phase of g, ignoring time. dealt reports whether the
// player's first card has been observed for this game.
func Classify(g model.GameSnapshot, dealt bool) Phase {
	if !g.HasGame() || g.State == model.StateInactive {
		return PhaseNoGame
	}

	if Resolved(g) {
		if g.State == model.StatePlayerBust || g.PlayerTotal > 21 {
			return PhaseBusted
		}
		return PhaseFinished
	}

	switch g.State {
	case model.StateDealing, model.StatePlayerTurn:
		// The state can flip before the cards are readable, so only the
		// observed card arrival moves the game past the deal.
		if dealt {
			return PhaseActiveTurn
		}
		return PhaseAwaitingDeal
	case model.StateDealerTurn:
		return PhaseDealerResolving
	default:
		return PhaseNoGame
	}
}
