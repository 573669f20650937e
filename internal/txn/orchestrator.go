package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/rickgao/blackjack-market/internal/chain"
	"github.com/rickgao/blackjack-market/internal/snapshot"
)

// Funds reports the live balances and allowance used for pre-flight checks.
// A nil amount with a nil error means unknown.
type Funds interface {
	Allowance(ctx context.Context, spender common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context) (*big.Int, error)
	NativeBalance(ctx context.Context) (*big.Int, error)
}

// Refresher forces poll jobs to run out of band.
type Refresher interface {
	Refresh(names ...string)
}

// Recorder observes every intent transition.
type Recorder interface {
	RecordIntent(p PendingIntent)
}

// Config holds orchestrator configuration.
type Config struct {
	WaitTimeout time.Duration // How long to listen for a receipt, 0 for no limit
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{WaitTimeout: 5 * time.Minute}
}

// Orchestrator manages the lifecycle of user transactions.
type Orchestrator struct {
	cfg       Config
	wallet    chain.Wallet
	overlays  snapshot.Overlays
	funds     Funds
	refresher Refresher
	recorders []Recorder
	clock     quartz.Clock
	logger    *slog.Logger

	mu       sync.Mutex
	intents  map[string]*PendingIntent
	inflight map[string]string // Idempotency key -> intent id
	awaiting map[string]bool

	updates chan PendingIntent
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder adds a transition observer.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorders = append(o.recorders, r)
	}
}

// WithClock sets the clock used for timestamps.
func WithClock(c quartz.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an Orchestrator. overlays is the only way it touches snapshot state.
func New(cfg Config, wallet chain.Wallet, overlays snapshot.Overlays, funds Funds, refresher Refresher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		wallet:    wallet,
		overlays:  overlays,
		funds:     funds,
		refresher: refresher,
		clock:     quartz.NewReal(),
		logger:    slog.Default(),
		intents:   make(map[string]*PendingIntent),
		inflight:  make(map[string]string),
		awaiting:  make(map[string]bool),
		updates:   make(chan PendingIntent, 64),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Updates returns every intent transition. When the reader falls behind the
// oldest updates are dropped.
func (o *Orchestrator) Updates() <-chan PendingIntent {
	return o.updates
}

// Get returns the intent with id.
func (o *Orchestrator) Get(id string) (PendingIntent, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.intents[id]
	if !ok {
		return PendingIntent{}, false
	}
	return *p, true
}

// Pending returns all non-terminal intents.
func (o *Orchestrator) Pending() []PendingIntent {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []PendingIntent
	for _, p := range o.intents {
		if !p.Status.Terminal() {
			out = append(out, *p)
		}
	}
	return out
}

// Submit checks and submits a single intent. Re-submitting an intent identical
// to one in flight returns the in-flight intent without submitting again.
// A wallet rejection returns the intent in StatusFailed together with the error.
func (o *Orchestrator) Submit(ctx context.Context, in Intent) (PendingIntent, error) {
	p, err := o.submit(ctx, in, []chain.Call{in.Call}, nil, StageSingle, 0, 0)
	if errors.Is(err, ErrInFlight) {
		return p, nil
	}
	return p, err
}

// submit is Submit with batch details. granted is allowance an earlier
// confirmed step of the same action has set. An identical intent already in
// flight is returned with ErrInFlight.
func (o *Orchestrator) submit(ctx context.Context, in Intent, calls []chain.Call, granted *big.Int, stage Stage, step, steps int) (PendingIntent, error) {
	key := in.key()

	o.mu.Lock()
	if id, ok := o.inflight[key]; ok {
		p := *o.intents[id]
		o.mu.Unlock()
		o.logger.Debug("intent already in flight", "id", id, "kind", in.Kind)
		return p, fmt.Errorf("%w: %s", ErrInFlight, id)
	}

	now := o.clock.Now()
	p := &PendingIntent{
		ID:        uuid.NewString(),
		Kind:      in.Kind,
		Key:       key,
		GameID:    in.GameID,
		Status:    StatusCreated,
		Stage:     stage,
		Step:      step,
		Steps:     steps,
		Atomic:    len(calls) > 1,
		Calls:     len(calls),
		CreatedAt: now,
		UpdatedAt: now,
		intent:    in,
	}
	o.intents[p.ID] = p
	o.inflight[key] = p.ID
	o.mu.Unlock()

	o.publish(*p)

	if err := o.preflight(ctx, in, calls, granted); err != nil {
		return o.fail(p, err, ""), err
	}

	h, err := o.wallet.Send(ctx, calls)
	if err != nil {
		reason := ""
		var se *chain.SubmitError
		if errors.As(err, &se) {
			reason = se.Reason
		}
		return o.fail(p, err, reason), err
	}

	o.mu.Lock()
	p.handle = h
	p.Hash = h.Hash
	p.BatchID = h.BatchID
	p.SubmittedAt = o.clock.Now()
	o.mu.Unlock()

	if err := o.transition(p, StatusSubmitted); err != nil {
		return o.snapshot(p), err
	}

	o.logger.Info("intent submitted",
		"id", p.ID,
		"kind", p.Kind,
		"hash", p.Hash.Hex(),
		"batch_id", p.BatchID,
		"calls", len(calls),
		"stage", p.Stage,
	)
	return o.snapshot(p), nil
}

// preflight fails closed on funds or allowance that cannot cover the action.
func (o *Orchestrator) preflight(ctx context.Context, in Intent, calls []chain.Call, granted *big.Int) error {
	value := new(big.Int)
	for _, c := range calls {
		if c.Value != nil {
			value.Add(value, c.Value)
		}
	}

	if value.Sign() > 0 {
		bal, err := o.funds.NativeBalance(ctx)
		if err != nil {
			o.logger.Debug("native balance unknown, skipping check", "err", err)
		} else if bal != nil && bal.Cmp(value) < 0 {
			return fmt.Errorf("%w: need %s native, have %s", ErrInsufficientFunds, value, bal)
		}
	}

	if in.TokenSpend == nil || in.TokenSpend.Sign() == 0 {
		return nil
	}

	bal, err := o.funds.TokenBalance(ctx)
	if err != nil {
		o.logger.Debug("token balance unknown, skipping check", "err", err)
	} else if bal != nil && bal.Cmp(in.TokenSpend) < 0 {
		return fmt.Errorf("%w: need %s tokens, have %s", ErrInsufficientFunds, in.TokenSpend, bal)
	}

	if granted != nil && granted.Cmp(in.TokenSpend) >= 0 {
		return nil
	}

	allowance, err := o.funds.Allowance(ctx, in.Spender)
	if err != nil {
		return fmt.Errorf("read allowance: %w", err)
	}
	if allowance == nil {
		return fmt.Errorf("read allowance: unknown")
	}
	if allowance.Cmp(in.TokenSpend) < 0 {
		return fmt.Errorf("%w: need %s, allowed %s", ErrInsufficientAllowance, in.TokenSpend, allowance)
	}
	return nil
}

// AwaitConfirmation listens for the outcome of a submitted intent. If ctx ends
// or the wait times out the intent stays confirming and ErrStoppedListening is
// returned; the transaction itself is not cancelled.
func (o *Orchestrator) AwaitConfirmation(ctx context.Context, id string) (PendingIntent, error) {
	o.mu.Lock()
	p, ok := o.intents[id]
	if !ok {
		o.mu.Unlock()
		return PendingIntent{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if p.Status.Terminal() {
		cp := *p
		o.mu.Unlock()
		return cp, nil
	}
	if p.Status == StatusCreated {
		cp := *p
		o.mu.Unlock()
		return cp, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, StatusCreated, StatusConfirming)
	}
	if o.awaiting[id] {
		cp := *p
		o.mu.Unlock()
		return cp, fmt.Errorf("intent %s is already being awaited", id)
	}
	o.awaiting[id] = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.awaiting, id)
		o.mu.Unlock()
	}()

	if p.Status == StatusSubmitted {
		if err := o.transition(p, StatusConfirming); err != nil {
			return o.snapshot(p), err
		}
	}

	waitCtx := ctx
	if o.cfg.WaitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, o.cfg.WaitTimeout)
		defer cancel()
	}

	rcpt, err := o.wallet.Wait(waitCtx, p.handle)
	if err != nil {
		if waitCtx.Err() != nil {
			o.stopListening(p)
			return o.snapshot(p), fmt.Errorf("%w: %v", ErrStoppedListening, err)
		}
		return o.fail(p, err, ""), err
	}

	o.mu.Lock()
	p.Block = rcpt.BlockNumber
	if rcpt.TxHash != (common.Hash{}) {
		p.Hash = rcpt.TxHash
	}
	o.mu.Unlock()

	if !rcpt.Success {
		err := fmt.Errorf("transaction reverted in block %d", rcpt.BlockNumber)
		return o.fail(p, err, "reverted"), err
	}

	if p.intent.Patch != nil {
		o.overlays.AddOverlay(p.ID, p.intent.Patch, rcpt.BlockNumber)
	}

	if err := o.transition(p, StatusConfirmed); err != nil {
		return o.snapshot(p), err
	}
	o.release(p)

	if len(p.intent.Refresh) > 0 && o.refresher != nil {
		o.refresher.Refresh(p.intent.Refresh...)
	}

	o.logger.Info("intent confirmed",
		"id", p.ID,
		"kind", p.Kind,
		"hash", p.Hash.Hex(),
		"block", p.Block,
	)
	return o.snapshot(p), nil
}

// Execute submits in and waits for its outcome. If an identical intent is
// already in flight, that intent is returned with ErrInFlight and the caller
// should follow it on Updates.
func (o *Orchestrator) Execute(ctx context.Context, in Intent) (PendingIntent, error) {
	p, err := o.submit(ctx, in, []chain.Call{in.Call}, nil, StageSingle, 0, 0)
	if err != nil {
		return p, err
	}
	return o.AwaitConfirmation(ctx, p.ID)
}

// stopListening gives up on an intent without claiming it failed. The key is
// released so the user can act again once polls show the outcome.
func (o *Orchestrator) stopListening(p *PendingIntent) {
	o.release(p)
	o.logger.Warn("stopped waiting for confirmation",
		"id", p.ID,
		"kind", p.Kind,
		"hash", p.Hash.Hex(),
		"batch_id", p.BatchID,
	)
	if len(p.intent.Refresh) > 0 && o.refresher != nil {
		o.refresher.Refresh(p.intent.Refresh...)
	}
}

// fail moves p to failed and discards its overlay.
func (o *Orchestrator) fail(p *PendingIntent, err error, reason string) PendingIntent {
	o.mu.Lock()
	p.Err = err
	p.Reason = reason
	if reason == "" && errors.Is(err, chain.ErrUserRejected) {
		p.Reason = "user rejected"
	}
	o.mu.Unlock()

	if terr := o.transition(p, StatusFailed); terr != nil {
		o.logger.Error("failed to mark intent failed", "id", p.ID, "err", terr)
	}
	o.overlays.DropOverlay(p.ID)
	o.release(p)

	o.logger.Warn("intent failed",
		"id", p.ID,
		"kind", p.Kind,
		"reason", p.Reason,
		"err", err,
	)
	return o.snapshot(p)
}

func (o *Orchestrator) release(p *PendingIntent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight[p.Key] == p.ID {
		delete(o.inflight, p.Key)
	}
}

// transition moves p to status and notifies observers.
func (o *Orchestrator) transition(p *PendingIntent, to Status) error {
	o.mu.Lock()
	if err := canTransition(p.Status, to); err != nil {
		o.mu.Unlock()
		return err
	}
	p.Status = to
	p.UpdatedAt = o.clock.Now()
	cp := *p
	o.mu.Unlock()

	o.publish(cp)
	return nil
}

func (o *Orchestrator) snapshot(p *PendingIntent) PendingIntent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return *p
}

func (o *Orchestrator) publish(p PendingIntent) {
	for _, r := range o.recorders {
		r.RecordIntent(p)
	}

	select {
	case o.updates <- p:
	default:
		// Channel full, drop oldest by consuming one and retrying.
		select {
		case <-o.updates:
		default:
		}
		select {
		case o.updates <- p:
		default:
		}
	}
}
