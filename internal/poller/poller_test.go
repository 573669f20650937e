package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counter(n *atomic.Int32) func(context.Context) error {
	return func(context.Context) error {
		n.Add(1)
		return nil
	}
}

func startScheduler(t *testing.T, s *Scheduler) {
	t.Helper()
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
}

func TestScheduler_Add(t *testing.T) {
	s := New(nil)
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add(Job{Name: "game", Interval: time.Second, Run: noop}))

	tests := []struct {
		name string
		job  Job
	}{
		{"duplicate", Job{Name: "game", Interval: time.Second, Run: noop}},
		{"missing name", Job{Interval: time.Second, Run: noop}},
		{"zero interval", Job{Name: "x", Run: noop}},
		{"missing run", Job{Name: "y", Interval: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, s.Add(tt.job))
		})
	}

	assert.Equal(t, []string{"game"}, s.Jobs())
}

func TestScheduler_ImmediateFirstRun(t *testing.T) {
	var n atomic.Int32
	s := New(nil)
	require.NoError(t, s.Add(Job{Name: "game", Interval: time.Hour, Run: counter(&n)}))
	startScheduler(t, s)

	require.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, time.Millisecond)
}

func TestScheduler_Periodic(t *testing.T) {
	var n atomic.Int32
	s := New(nil)
	require.NoError(t, s.Add(Job{Name: "game", Interval: 5 * time.Millisecond, Run: counter(&n)}))
	startScheduler(t, s)

	require.Eventually(t, func() bool { return n.Load() >= 3 }, 2*time.Second, time.Millisecond)
}

func TestScheduler_SlowJobDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	var fast atomic.Int32

	s := New(nil)
	require.NoError(t, s.Add(Job{Name: "holdings", Interval: 5 * time.Millisecond, Run: func(ctx context.Context) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}))
	require.NoError(t, s.Add(Job{Name: "game", Interval: 5 * time.Millisecond, Run: counter(&fast)}))
	startScheduler(t, s)
	defer close(release)

	require.Eventually(t, func() bool { return fast.Load() >= 5 }, 2*time.Second, time.Millisecond)
}

func TestScheduler_Refresh(t *testing.T) {
	var game, market atomic.Int32
	s := New(nil)
	require.NoError(t, s.Add(Job{Name: "game", Interval: time.Hour, Run: counter(&game)}))
	require.NoError(t, s.Add(Job{Name: "market", Interval: time.Hour, Run: counter(&market)}))
	startScheduler(t, s)

	require.Eventually(t, func() bool { return game.Load() == 1 && market.Load() == 1 }, time.Second, time.Millisecond)

	s.Refresh("game", "unknown")
	require.Eventually(t, func() bool { return game.Load() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), market.Load())

	s.Refresh()
	require.Eventually(t, func() bool { return game.Load() == 3 && market.Load() == 2 }, time.Second, time.Millisecond)
}

func TestScheduler_PauseResume(t *testing.T) {
	var n atomic.Int32
	s := New(nil)
	require.NoError(t, s.Add(Job{Name: "game", Interval: 2 * time.Millisecond, Run: counter(&n)}))

	s.Pause()
	assert.True(t, s.Paused())
	startScheduler(t, s)

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, n.Load(), "no scheduled runs while paused")

	s.Refresh("game")
	require.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, time.Millisecond)

	s.Resume()
	assert.False(t, s.Paused())
	require.Eventually(t, func() bool { return n.Load() >= 3 }, time.Second, time.Millisecond)
}

func TestScheduler_RemoveStopsCalls(t *testing.T) {
	var n atomic.Int32
	s := New(nil)
	require.NoError(t, s.Add(Job{Name: "market", Interval: time.Millisecond, Run: counter(&n)}))
	startScheduler(t, s)

	require.Eventually(t, func() bool { return n.Load() >= 2 }, time.Second, time.Millisecond)

	s.Remove("market")
	after := n.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, n.Load(), "no calls after removal")
	assert.Empty(t, s.Jobs())

	s.Remove("market")
}

func TestScheduler_StopStopsCalls(t *testing.T) {
	var n atomic.Int32
	s := New(nil)
	require.NoError(t, s.Add(Job{Name: "game", Interval: time.Millisecond, Run: counter(&n)}))
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return n.Load() >= 2 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	after := n.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, n.Load())
}

func TestScheduler_AddAfterStart(t *testing.T) {
	var n atomic.Int32
	s := New(nil)
	startScheduler(t, s)

	require.NoError(t, s.Add(Job{Name: "claimable", Interval: time.Hour, Run: counter(&n)}))
	require.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, time.Millisecond)
}

func TestScheduler_ResultFunc(t *testing.T) {
	var mu sync.Mutex
	results := map[string]error{}
	boom := errors.New("boom")

	s := New(nil, WithResultFunc(func(name string, d time.Duration, err error) {
		mu.Lock()
		defer mu.Unlock()
		results[name] = err
	}))
	require.NoError(t, s.Add(Job{Name: "ok", Interval: time.Hour, Run: func(context.Context) error { return nil }}))
	require.NoError(t, s.Add(Job{Name: "bad", Interval: time.Hour, Run: func(context.Context) error { return boom }}))
	startScheduler(t, s)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.NoError(t, results["ok"])
	assert.ErrorIs(t, results["bad"], boom)
}

func TestScheduler_Timeout(t *testing.T) {
	done := make(chan error, 1)
	s := New(nil)
	require.NoError(t, s.Add(Job{Name: "slow", Interval: time.Hour, Timeout: 5 * time.Millisecond, Run: func(ctx context.Context) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	}}))
	startScheduler(t, s)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("job was not timed out")
	}
}

func TestScheduler_StartTwice(t *testing.T) {
	s := New(nil)
	startScheduler(t, s)
	assert.Error(t, s.Start(context.Background()))
}
