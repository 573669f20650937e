package snapshot

import (
	"log/slog"
	"sync"

	"github.com/rickgao/blackjack-market/internal/model"
)

// Kind names the snapshot a Change refers to.
type Kind string

const (
	KindGame      Kind = "game"
	KindMarket    Kind = "market"
	KindHoldings  Kind = "holdings"
	KindClaimable Kind = "claimable"
	KindFees      Kind = "fees"
	KindPool      Kind = "pool"
	KindOverlay   Kind = "overlay"
)

// Change is emitted after every write to the store.
type Change struct {
	Kind        Kind
	GameID      uint64 // Set for market changes
	BlockNumber uint64
	Dropped     []string // Overlay ids discarded by this write
}

// Overlays is the only mutation the transaction layer may perform.
type Overlays interface {
	// AddOverlay registers p under id. block is the height the change was
	// mined at, or 0 if unknown. Re-adding an id replaces it.
	AddOverlay(id string, p Patch, block uint64)

	// DropOverlay discards the overlay registered under id, if any.
	DropOverlay(id string)
}

type overlay struct {
	id    string
	patch Patch
	block uint64
}

// Store holds one authoritative snapshot per key.
type Store struct {
	mu sync.RWMutex

	game      model.GameSnapshot
	hasGame   bool
	markets   map[uint64]model.MarketSnapshot
	holdings  model.Holdings
	claimable []model.Claimable
	fees      model.Fees
	pool      model.PoolQuote

	overlays []overlay    // Insertion order
	failures map[Kind]int // Consecutive failed reads per snapshot

	changes chan Change
	logger  *slog.Logger
}

// NewStore creates an empty store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		markets:  make(map[uint64]model.MarketSnapshot),
		failures: make(map[Kind]int),
		changes:  make(chan Change, 64),
		logger:   logger,
	}
}

// Changes returns the change notification channel. When the reader falls
// behind the oldest notifications are dropped.
func (s *Store) Changes() <-chan Change {
	return s.changes
}

func (s *Store) notify(c Change) {
	select {
	case s.changes <- c:
	default:
		// Channel full, drop oldest by consuming one and retrying.
		select {
		case <-s.changes:
		default:
		}
		select {
		case s.changes <- c:
		default:
		}
	}
}

// -----------------------------------------------------------------------------
// Authoritative writes
// -----------------------------------------------------------------------------

// PutGame replaces the game snapshot.
func (s *Store) PutGame(g model.GameSnapshot) {
	s.mu.Lock()
	s.game = g.Clone()
	s.hasGame = true
	s.mu.Unlock()

	s.notify(Change{Kind: KindGame, GameID: g.GameID, BlockNumber: g.BlockNumber})
}

// PutMarket replaces the market snapshot for m.GameID. Resolution is
// monotonic: once a market has been seen resolved it stays resolved with
// trading closed, whatever a later read says.
func (s *Store) PutMarket(m model.MarketSnapshot) {
	m = m.Clone()

	s.mu.Lock()
	if prev, ok := s.markets[m.GameID]; ok && prev.Resolved && !m.Resolved {
		s.logger.Warn("market read regressed resolution, keeping resolved",
			"game_id", m.GameID,
			"block", m.BlockNumber,
			"resolved_at_block", prev.BlockNumber,
		)
		m.Resolved = true
		m.Result = prev.Result
	}
	if m.Resolved {
		m.TradingActive = false
	}
	s.markets[m.GameID] = m
	s.mu.Unlock()

	s.notify(Change{Kind: KindMarket, GameID: m.GameID, BlockNumber: m.BlockNumber})
}

// ForgetMarket discards the market for gameID.
func (s *Store) ForgetMarket(gameID uint64) {
	s.mu.Lock()
	delete(s.markets, gameID)
	s.mu.Unlock()
}

// PutHoldings replaces the holdings snapshot and discards reflected overlays.
func (s *Store) PutHoldings(h model.Holdings) {
	s.mu.Lock()
	s.holdings = h.Clone()
	dropped := s.reconcileLocked(KindHoldings, h.BlockNumber)
	s.mu.Unlock()

	s.notify(Change{Kind: KindHoldings, BlockNumber: h.BlockNumber, Dropped: dropped})
}

// PutClaimable replaces the claimable list and discards reflected overlays.
func (s *Store) PutClaimable(c []model.Claimable, block uint64) {
	cp := Account{Claimable: c}.clone().Claimable

	s.mu.Lock()
	s.claimable = cp
	dropped := s.reconcileLocked(KindClaimable, block)
	s.mu.Unlock()

	s.notify(Change{Kind: KindClaimable, BlockNumber: block, Dropped: dropped})
}

// PutFees replaces the fee constants.
func (s *Store) PutFees(f model.Fees) {
	s.mu.Lock()
	s.fees = model.Fees{
		StartGame: model.CopyInt(f.StartGame),
		Wrap:      model.CopyInt(f.Wrap),
		Swap:      model.CopyInt(f.Swap),
		Breed:     model.CopyInt(f.Breed),
		Unhatch:   model.CopyInt(f.Unhatch),
	}
	s.mu.Unlock()

	s.notify(Change{Kind: KindFees})
}

// PutPool replaces the pool quote.
func (s *Store) PutPool(p model.PoolQuote) {
	s.mu.Lock()
	s.pool = p.Clone()
	s.mu.Unlock()

	s.notify(Change{Kind: KindPool, BlockNumber: p.BlockNumber})
}

// reconcileLocked drops overlays scoped to kind that the authoritative account
// state reflects, or that were mined at or below block.
func (s *Store) reconcileLocked(kind Kind, block uint64) []string {
	if len(s.overlays) == 0 {
		return nil
	}

	auth := Account{Holdings: s.holdings, Claimable: s.claimable}

	var dropped []string
	kept := s.overlays[:0]
	for _, o := range s.overlays {
		if o.patch.Scope() != kind {
			kept = append(kept, o)
			continue
		}
		mined := o.block != 0 && block != 0 && block >= o.block
		if mined || o.patch.Reflected(auth) {
			dropped = append(dropped, o.id)
			continue
		}
		kept = append(kept, o)
	}
	s.overlays = kept

	if len(dropped) > 0 {
		s.logger.Debug("overlays reflected by authoritative read", "ids", dropped, "block", block)
	}
	return dropped
}

// -----------------------------------------------------------------------------
// Overlays
// -----------------------------------------------------------------------------

func (s *Store) AddOverlay(id string, p Patch, block uint64) {
	s.mu.Lock()
	if p.Reflected(Account{Holdings: s.holdings, Claimable: s.claimable}) {
		s.mu.Unlock()
		s.logger.Debug("overlay already reflected, not added", "id", id)
		return
	}
	replaced := false
	for i := range s.overlays {
		if s.overlays[i].id == id {
			s.overlays[i] = overlay{id: id, patch: p, block: block}
			replaced = true
			break
		}
	}
	if !replaced {
		s.overlays = append(s.overlays, overlay{id: id, patch: p, block: block})
	}
	s.mu.Unlock()

	s.notify(Change{Kind: KindOverlay, BlockNumber: block})
}

func (s *Store) DropOverlay(id string) {
	s.mu.Lock()
	found := false
	for i := range s.overlays {
		if s.overlays[i].id == id {
			s.overlays = append(s.overlays[:i], s.overlays[i+1:]...)
			found = true
			break
		}
	}
	s.mu.Unlock()

	if found {
		s.notify(Change{Kind: KindOverlay, Dropped: []string{id}})
	}
}

// OverlayCount returns the number of live overlays.
func (s *Store) OverlayCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.overlays)
}

// RecordRead notes the outcome of a read of kind and returns the number of
// consecutive failures. The snapshot itself is never cleared by a failure.
func (s *Store) RecordRead(kind Kind, err error) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, kind)
		return 0
	}
	s.failures[kind]++
	return s.failures[kind]
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

// ReadFailures returns the consecutive failed reads of kind.
func (s *Store) ReadFailures(kind Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failures[kind]
}

// Stale reports whether the last read of kind failed.
func (s *Store) Stale(kind Kind) bool {
	return s.ReadFailures(kind) > 0
}

// StaleKinds returns every kind whose last read failed, with its count of
// consecutive failures.
func (s *Store) StaleKinds() map[Kind]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Kind]int, len(s.failures))
	for k, n := range s.failures {
		out[k] = n
	}
	return out
}

// Game returns the last game snapshot and whether one has been read.
func (s *Store) Game() (model.GameSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.game.Clone(), s.hasGame
}

// Market returns the market snapshot for gameID.
func (s *Store) Market(gameID uint64) (model.MarketSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[gameID]
	if !ok {
		return model.MarketSnapshot{}, false
	}
	return m.Clone(), true
}

// Account returns holdings and claimable markets with overlays applied.
func (s *Store) Account() Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a := Account{Holdings: s.holdings, Claimable: s.claimable}.clone()
	for _, o := range s.overlays {
		a = o.patch.Apply(a)
	}
	return a
}

// AuthoritativeAccount returns holdings and claimable markets as last read.
func (s *Store) AuthoritativeAccount() Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Account{Holdings: s.holdings, Claimable: s.claimable}.clone()
}

// Holdings returns holdings with overlays applied.
func (s *Store) Holdings() model.Holdings {
	return s.Account().Holdings
}

// Claimable returns claimable markets with overlays applied.
func (s *Store) Claimable() []model.Claimable {
	return s.Account().Claimable
}

// Fees returns the fee constants.
func (s *Store) Fees() model.Fees {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.Fees{
		StartGame: model.CopyInt(s.fees.StartGame),
		Wrap:      model.CopyInt(s.fees.Wrap),
		Swap:      model.CopyInt(s.fees.Swap),
		Breed:     model.CopyInt(s.fees.Breed),
		Unhatch:   model.CopyInt(s.fees.Unhatch),
	}
}

// Pool returns the pool quote.
func (s *Store) Pool() model.PoolQuote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool.Clone()
}
