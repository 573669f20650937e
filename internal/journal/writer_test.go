package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/blackjack-market/internal/txn"
)

// fakeDB records batches. Rows whose intent id is in existing report a conflict.
type fakeDB struct {
	mu       sync.Mutex
	batches  [][]*pgx.QueuedQuery
	existing map[string]bool
	err      error
}

func (f *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, b.QueuedQueries)
	return &fakeResults{db: f, queries: b.QueuedQueries}
}

func (f *fakeDB) rows() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

type fakeResults struct {
	db      *fakeDB
	queries []*pgx.QueuedQuery
	i       int
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.db.err != nil {
		return pgconn.CommandTag{}, r.db.err
	}
	q := r.queries[r.i]
	r.i++
	if r.db.existing[q.Arguments[0].(string)] {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

func intent(id string, status txn.Status) txn.PendingIntent {
	return txn.PendingIntent{
		ID:        id,
		Kind:      txn.KindBuy,
		Status:    status,
		GameID:    42,
		UpdatedAt: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestWriter_Transform(t *testing.T) {
	w := NewWriter(DefaultConfig(), nil, nil)

	p := intent("a", txn.StatusConfirmed)
	p.Hash = common.HexToHash("0xabc")
	p.Block = 99
	p.Stage = txn.StageProcessing
	p.Step, p.Steps = 2, 2

	row := w.transform(p)
	assert.Equal(t, "a", row.IntentID)
	assert.Equal(t, "buy", row.Kind)
	assert.Equal(t, "confirmed", row.Status)
	assert.Equal(t, "processing", row.Stage)
	assert.Equal(t, int16(2), row.Step)
	assert.Equal(t, int64(42), row.GameID)
	require.NotNil(t, row.TxHash)
	assert.Equal(t, p.Hash.Hex(), *row.TxHash)
	require.NotNil(t, row.Block)
	assert.Equal(t, int64(99), *row.Block)
	assert.Nil(t, row.BatchID)
	assert.Nil(t, row.Error)
	assert.Equal(t, p.UpdatedAt.UnixMicro(), row.RecordedAt)
}

func TestWriter_TransformFailure(t *testing.T) {
	w := NewWriter(DefaultConfig(), nil, nil)

	p := intent("b", txn.StatusFailed)
	p.Err = errors.New("user rejected the request")
	p.Reason = "user rejected"
	p.BatchID = "0xbatch"

	row := w.transform(p)
	assert.Nil(t, row.TxHash, "no hash known")
	assert.Nil(t, row.Block)
	require.NotNil(t, row.Error)
	assert.Equal(t, "user rejected the request", *row.Error)
	require.NotNil(t, row.Reason)
	assert.Equal(t, "user rejected", *row.Reason)
	require.NotNil(t, row.BatchID)
	assert.Equal(t, "0xbatch", *row.BatchID)
}

func TestWriter_FlushOnBatchSize(t *testing.T) {
	db := &fakeDB{existing: map[string]bool{"dup": true}}
	w := NewWriter(Config{InstanceID: "test", BatchSize: 3, FlushInterval: time.Hour}, db, nil)

	w.handle(intent("a", txn.StatusCreated))
	w.handle(intent("dup", txn.StatusCreated))
	assert.Zero(t, db.rows())

	w.handle(intent("c", txn.StatusCreated))
	assert.Equal(t, 3, db.rows())

	stats := w.Stats()
	assert.Equal(t, int64(2), stats.Inserts)
	assert.Equal(t, int64(1), stats.Conflicts)
	assert.Equal(t, int64(1), stats.Flushes)

	args := db.batches[0][0].Arguments
	assert.Equal(t, "a", args[0])
	assert.Equal(t, "test", args[1])
}

func TestWriter_InsertError(t *testing.T) {
	db := &fakeDB{err: errors.New("connection refused")}
	w := NewWriter(Config{BatchSize: 1, FlushInterval: time.Hour}, db, nil)

	w.handle(intent("a", txn.StatusCreated))
	assert.Equal(t, int64(1), w.Stats().Errors)
	assert.Zero(t, w.Stats().Inserts)
}

func TestWriter_Lifecycle(t *testing.T) {
	db := &fakeDB{}
	w := NewWriter(Config{BatchSize: 100, FlushInterval: 10 * time.Millisecond}, db, nil)
	require.NoError(t, w.Start(context.Background()))

	for _, s := range []txn.Status{txn.StatusCreated, txn.StatusSubmitted, txn.StatusConfirming, txn.StatusConfirmed} {
		w.RecordIntent(intent("a", s))
	}

	require.Eventually(t, func() bool { return db.rows() == 4 }, time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Stop(stopCtx))

	// Closed: later transitions are dropped, not queued.
	w.RecordIntent(intent("b", txn.StatusCreated))
	assert.Zero(t, w.Pending())
}

func TestWriter_StopFlushesPending(t *testing.T) {
	db := &fakeDB{}
	w := NewWriter(Config{BatchSize: 100, FlushInterval: time.Hour}, db, nil)

	// Not started: transitions wait in the queue until Stop drains them.
	w.RecordIntent(intent("a", txn.StatusCreated))
	w.RecordIntent(intent("a", txn.StatusFailed))
	assert.Equal(t, 2, w.Pending())

	require.NoError(t, w.Stop(context.Background()))
	assert.Equal(t, 2, db.rows())
}

func TestWriter_NilDB(t *testing.T) {
	w := NewWriter(Config{BatchSize: 1}, nil, nil)
	w.handle(intent("a", txn.StatusCreated))
	assert.Zero(t, w.Stats().Flushes)
}
