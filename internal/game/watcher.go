package game

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/rickgao/blackjack-market/internal/model"
)

// Watcher re-evaluates a Machine every tick and publishes views that changed.
type Watcher struct {
	machine *Machine
	clock   quartz.Clock
	tick    time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	last View
	seen bool

	views chan View

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a Watcher over m. A nil clock uses the real clock.
func NewWatcher(m *Machine, clock quartz.Clock, tick time.Duration, logger *slog.Logger) *Watcher {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if tick <= 0 {
		tick = time.Second
	}
	return &Watcher{
		machine: m,
		clock:   clock,
		tick:    tick,
		logger:  logger,
		views:   make(chan View, 16),
	}
}

// Machine returns the underlying state machine.
func (w *Watcher) Machine() *Machine {
	return w.machine
}

// Views returns the channel of changed views. When the reader falls behind
// the oldest views are dropped.
func (w *Watcher) Views() <-chan View {
	return w.views
}

// View evaluates the machine now.
func (w *Watcher) View() View {
	return w.machine.Evaluate(w.clock.Now())
}

// Observe feeds a game poll and republishes immediately.
func (w *Watcher) Observe(g model.GameSnapshot) []Event {
	events := w.machine.Observe(g)
	for _, e := range events {
		w.logger.Info("game transition", "event", e, "game_id", g.GameID, "state", g.State)
	}
	w.evaluate()
	return events
}

// ObserveMarket feeds a market poll and republishes immediately.
func (w *Watcher) ObserveMarket(m model.MarketSnapshot) {
	w.machine.ObserveMarket(m)
	w.evaluate()
}

// ObserveFailure records a failed game poll.
func (w *Watcher) ObserveFailure(err error) {
	w.machine.ObserveFailure()
	n := w.machine.Failures()
	if n == w.machine.cfg.DisconnectAfter {
		w.logger.Warn("game reads failing, disconnected", "consecutive_failures", n, "error", err)
	} else {
		w.logger.Debug("game read failed, keeping last snapshot", "consecutive_failures", n, "error", err)
	}
	w.evaluate()
}

// ObserveMarketFailure records a failed market poll.
func (w *Watcher) ObserveMarketFailure(err error) {
	n := w.machine.ObserveMarketFailure()
	if n == w.machine.cfg.DisconnectAfter {
		w.logger.Warn("market reads failing, disconnected", "consecutive_failures", n, "error", err)
	} else {
		w.logger.Debug("market read failed, keeping last snapshot", "consecutive_failures", n, "error", err)
	}
	w.evaluate()
}

// NoteStartConfirmed forwards a mined start-game transaction.
func (w *Watcher) NoteStartConfirmed(prevGameID uint64) {
	w.machine.NoteStartConfirmed(prevGameID)
	w.evaluate()
}

// Start begins the tick loop.
func (w *Watcher) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.run()

	w.logger.Info("game watcher started", "tick", w.tick)
	return nil
}

// Stop gracefully shuts down the watcher.
func (w *Watcher) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("game watcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Watcher) run() {
	defer w.wg.Done()

	ticker := w.clock.NewTicker(w.tick, "watcher")
	defer ticker.Stop()

	w.evaluate()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.evaluate()
		}
	}
}

// evaluate publishes the current view if it differs from the last one.
func (w *Watcher) evaluate() {
	v := w.View()

	w.mu.Lock()
	changed := !w.seen || !v.Same(w.last)
	if changed {
		if w.seen && v.Phase != w.last.Phase {
			w.logger.Info("game phase changed", "from", w.last.Phase, "to", v.Phase, "game_id", v.GameID)
		}
		w.last = v
		w.seen = true
	}
	w.mu.Unlock()

	if changed {
		w.publish(v)
	}
}

func (w *Watcher) publish(v View) {
	select {
	case w.views <- v:
	default:
		// Channel full, drop oldest by consuming one and retrying.
		select {
		case <-w.views:
		default:
		}
		select {
		case w.views <- v:
		default:
		}
	}
}
