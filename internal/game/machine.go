package game

import (
	"sync"
	"time"

	"github.com/rickgao/blackjack-market/internal/model"
	"github.com/rickgao/blackjack-market/internal/pricing"
)

// Config holds the timing rules of the state machine.
type Config struct {
	VRFTimeout      time.Duration // AwaitingDeal longer than this is stuck
	TradingDelay    time.Duration // Window after each action in which trading is open
	DisconnectAfter int           // Consecutive failed polls before disconnected
}

// DefaultConfig returns the contract's published timings.
func DefaultConfig() Config {
	return Config{
		VRFTimeout:      300 * time.Second,
		TradingDelay:    30 * time.Second,
		DisconnectAfter: 5,
	}
}

// Event is a transition detected by Observe.
type Event string

const (
	EventNewGame  Event = "new_game"
	EventDealt    Event = "dealt"
	EventResolved Event = "resolved"
	EventCleared  Event = "cleared"
)

// MarketView is the market side of a View, taken from the market's own
// snapshot.
type MarketView struct {
	Known         bool
	TradingActive bool
	Resolved      bool
	Result        model.MarketResult
	YesPrice      uint64 // Basis points
	NoPrice       uint64 // Basis points

	// Read health of the market snapshot, independent of the game's.
	Stale        bool
	Disconnected bool
}

// Derived is the comparable part of a View.
type Derived struct {
	Phase  Phase
	GameID uint64

	// Time derived.
	Stuck              bool
	TradingWindowOpen  bool
	SecondsUntilCanAct int64

	// Legal actions.
	CanHit      bool
	CanStand    bool
	CanStartNew bool
	CanCancel   bool

	// Read health.
	Stale        bool
	Disconnected bool

	WinOdds float64 // Display heuristic, see pricing.ImpliedWinOdds
	Market  MarketView
}

// View is the derived state at one instant with the snapshot it came from.
type View struct {
	Derived
	Snapshot model.GameSnapshot
}

// Same reports whether two views would render identically.
func (v View) Same(o View) bool {
	return v.Derived == o.Derived &&
		v.Snapshot.BlockNumber == o.Snapshot.BlockNumber &&
		len(v.Snapshot.PlayerCards) == len(o.Snapshot.PlayerCards) &&
		len(v.Snapshot.DealerCards) == len(o.Snapshot.DealerCards)
}

// Machine tracks one game. It is safe for concurrent use.
type Machine struct {
	cfg Config

	mu          sync.Mutex
	game        model.GameSnapshot
	hasGame     bool
	dealt       bool // First player card observed for game.GameID
	market      model.MarketSnapshot
	hasMkt      bool
	failures    int
	mktFailures int
	starting    bool   // Start confirmed, new game not yet observed
	startedFrom uint64 // Game id current when the start was submitted
}

// NewMachine creates a Machine with no game.
func NewMachine(cfg Config) *Machine {
	if cfg.DisconnectAfter <= 0 {
		cfg.DisconnectAfter = DefaultConfig().DisconnectAfter
	}
	return &Machine{cfg: cfg}
}

// Observe records a successful game poll and returns the transitions it
// caused. The deal is detected by edge: the previous poll for this game had
// no player cards and this one has at least one.
func (m *Machine) Observe(g model.GameSnapshot) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []Event
	prev, hadPrev := m.game, m.hasGame

	switch {
	case !g.HasGame() && hadPrev && prev.HasGame():
		events = append(events, EventCleared)
		m.dealt = false
	case g.HasGame() && (!hadPrev || prev.GameID != g.GameID):
		events = append(events, EventNewGame)
		m.dealt = false
		if m.hasMkt && m.market.GameID != g.GameID {
			m.hasMkt = false
			m.mktFailures = 0
		}
	}

	if m.starting && g.GameID != m.startedFrom {
		m.starting = false
	}

	prevCards := 0
	if hadPrev && prev.GameID == g.GameID {
		prevCards = len(prev.PlayerCards)
	}
	if g.HasGame() && !m.dealt && prevCards == 0 && len(g.PlayerCards) > 0 {
		m.dealt = true
		events = append(events, EventDealt)
	}

	if Resolved(g) && !(hadPrev && prev.GameID == g.GameID && Resolved(prev)) {
		events = append(events, EventResolved)
	}

	m.game = g.Clone()
	m.hasGame = true
	m.failures = 0
	return events
}

// ObserveMarket records a successful market poll for the current game.
func (m *Machine) ObserveMarket(mk model.MarketSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hasGame && m.game.HasGame() && mk.GameID != m.game.GameID {
		return
	}
	m.market = mk.Clone()
	m.hasMkt = true
	m.mktFailures = 0
}

// ObserveMarketFailure records a failed market poll. The last market snapshot
// is kept.
func (m *Machine) ObserveMarketFailure() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mktFailures++
	return m.mktFailures
}

// ObserveFailure records a failed game poll. The last snapshot is kept.
func (m *Machine) ObserveFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

// NoteStartConfirmed records that a start-game transaction submitted while
// prevGameID was current has been mined. Starting another game is refused
// until a game other than prevGameID is observed. If one already has been,
// nothing is recorded.
func (m *Machine) NoteStartConfirmed(prevGameID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasGame && m.game.GameID != prevGameID {
		return
	}
	m.starting = true
	m.startedFrom = prevGameID
}

// Failures returns the number of consecutive failed polls.
func (m *Machine) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

// Evaluate derives the view at now.
func (m *Machine) Evaluate(now time.Time) View {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := m.game
	phase := Classify(g, m.dealt)
	unix := now.Unix()

	v := View{
		Derived: Derived{
			Phase:        phase,
			GameID:       g.GameID,
			Stale:        m.failures > 0,
			Disconnected: m.failures >= m.cfg.DisconnectAfter,
		},
		Snapshot: g.Clone(),
	}

	if phase == PhaseAwaitingDeal && unix-g.LastActionAt >= int64(m.cfg.VRFTimeout/time.Second) {
		v.Phase = PhaseStuck
		v.Stuck = true
	}

	if v.Phase.InProgress() {
		windowEnd := g.LastActionAt + int64(m.cfg.TradingDelay/time.Second)
		v.TradingWindowOpen = unix < windowEnd

		end := g.TradingPeriodEnd
		if end == 0 {
			end = windowEnd
		}
		v.SecondsUntilCanAct = max(0, end-unix)
	}

	canAct := v.Phase == PhaseActiveTurn &&
		g.State == model.StatePlayerTurn &&
		!v.TradingWindowOpen &&
		!v.Disconnected
	v.CanHit = canAct
	v.CanStand = canAct

	v.CanStartNew = !m.starting && !v.Disconnected &&
		(phase == PhaseNoGame || ((phase == PhaseFinished || phase == PhaseBusted) && g.CanStartNew))
	v.CanCancel = v.Stuck && !v.Disconnected

	if g.HasGame() {
		v.WinOdds = pricing.ImpliedWinOdds(g.PlayerTotal, g.DealerTotal, !phase.InProgress())
	}

	if m.hasMkt && g.HasGame() && m.market.GameID == g.GameID {
		mk := m.market
		v.Market = MarketView{
			Known:         true,
			TradingActive: mk.TradingActive && !mk.Resolved,
			Resolved:      mk.Resolved,
			Result:        mk.Result,
			YesPrice:      mk.YesPrice,
			NoPrice:       mk.NoPrice,
			Stale:         m.mktFailures > 0,
			Disconnected:  m.mktFailures >= m.cfg.DisconnectAfter,
		}
	}

	return v
}
