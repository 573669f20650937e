package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/blackjack-market/internal/txn"
)

// BatchSender sends a batch of queued statements. *pgxpool.Pool satisfies it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds writer settings.
type Config struct {
	InstanceID    string
	Account       common.Address
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: time.Second,
	}
}

// Metrics counts writer activity.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}

// Writer batches intent transitions into intent_events.
type Writer struct {
	cfg    Config
	logger *slog.Logger

	input *queue[txn.PendingIntent]
	db    BatchSender

	batch   []eventRow
	batchMu sync.Mutex
	metrics Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type eventRow struct {
	IntentID   string
	Kind       string
	Status     string
	Stage      string
	Step       int16
	Steps      int16
	Atomic     bool
	GameID     int64
	TxHash     *string
	BatchID    *string
	Block      *int64
	Reason     *string
	Error      *string
	RecordedAt int64 // Unix microseconds
}

// NewWriter creates a writer. db may be nil, in which case batches are
// accumulated and dropped on flush.
func NewWriter(cfg Config, db BatchSender, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	return &Writer{
		cfg:    cfg,
		logger: logger,
		input:  newQueue[txn.PendingIntent](64),
		db:     db,
		batch:  make([]eventRow, 0, cfg.BatchSize),
	}
}

// RecordIntent queues a transition. It never blocks on the database.
func (w *Writer) RecordIntent(p txn.PendingIntent) {
	if !w.input.push(p) {
		w.logger.Debug("journal closed, dropping transition", "id", p.ID, "status", p.Status)
	}
}

// Start begins consuming transitions and writing them.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued transitions, flushes and shuts down.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	w.input.close()
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
		w.logger.Info("journal writer stopped")
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
	}

	// Final drain and flush on the caller's context.
	for _, p := range w.input.drain(0) {
		w.handle(p)
	}
	w.flushCtx(ctx)
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// Pending returns the number of queued, unbatched transitions.
func (w *Writer) Pending() int {
	return w.input.len()
}

func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		items := w.input.drain(w.cfg.BatchSize)
		if len(items) == 0 {
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}
		for _, p := range items {
			w.handle(p)
		}
	}
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flushCtx(w.ctx)
		}
	}
}

// handle transforms and adds a transition to the batch.
func (w *Writer) handle(p txn.PendingIntent) {
	row := w.transform(p)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	full := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if full {
		w.flushCtx(w.ctx)
	}
}

// transform converts a transition to a row.
func (w *Writer) transform(p txn.PendingIntent) eventRow {
	row := eventRow{
		IntentID:   p.ID,
		Kind:       string(p.Kind),
		Status:     string(p.Status),
		Stage:      string(p.Stage),
		Step:       int16(p.Step),
		Steps:      int16(p.Steps),
		Atomic:     p.Atomic,
		GameID:     int64(p.GameID),
		RecordedAt: p.UpdatedAt.UnixMicro(),
	}
	if p.HasHash() {
		h := p.Hash.Hex()
		row.TxHash = &h
	}
	if p.BatchID != "" {
		b := p.BatchID
		row.BatchID = &b
	}
	if p.Block != 0 {
		b := int64(p.Block)
		row.Block = &b
	}
	if p.Reason != "" {
		r := p.Reason
		row.Reason = &r
	}
	if p.Err != nil {
		e := p.Err.Error()
		row.Error = &e
	}
	return row
}

func (w *Writer) flushCtx(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]eventRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	if w.db == nil {
		w.logger.Debug("no journal database, dropping batch", "count", len(batch))
		return
	}
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}

	start := time.Now()
	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("journal insert failed", "err", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed intent events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

const insertEvent = `
	INSERT INTO intent_events (intent_id, instance_id, account, kind, status, stage, step, steps,
		atomic, game_id, tx_hash, batch_id, block, reason, error, recorded_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT (intent_id, status) DO NOTHING
`

// batchInsert inserts rows in one round trip, counting rows that already existed.
func (w *Writer) batchInsert(ctx context.Context, rows []eventRow) (conflicts int, err error) {
	account := w.cfg.Account.Hex()

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertEvent,
			r.IntentID, w.cfg.InstanceID, account, r.Kind, r.Status, r.Stage, r.Step, r.Steps,
			r.Atomic, r.GameID, r.TxHash, r.BatchID, r.Block, r.Reason, r.Error, r.RecordedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}
