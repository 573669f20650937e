package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := newQueue[int](4)
	for i := range 10 {
		require.True(t, q.push(i))
	}

	assert.Equal(t, []int{0, 1, 2}, q.drain(3))
	assert.Equal(t, []int{3, 4, 5, 6, 7, 8, 9}, q.drain(0))
	assert.Nil(t, q.drain(0))
}

func TestQueue_GrowsAcrossWrap(t *testing.T) {
	q := newQueue[int](10)
	for i := range 5 {
		q.push(i)
	}
	q.drain(4)
	// Wrap the ring before it grows.
	for i := 5; i < 20; i++ {
		q.push(i)
	}

	s := q.stats()
	assert.Greater(t, s.Resizes, 0)
	assert.Equal(t, 16, s.Pending)

	got := q.drain(0)
	require.Len(t, got, 16)
	for i, v := range got {
		assert.Equal(t, i+4, v)
	}
}

func TestQueue_Close(t *testing.T) {
	q := newQueue[int](2)
	q.push(1)
	q.close()

	assert.False(t, q.push(2))
	assert.Equal(t, []int{1}, q.drain(0), "items queued before close stay readable")
}
