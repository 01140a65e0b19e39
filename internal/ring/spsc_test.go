package ring

import "testing"

import "github.com/stretchr/testify/assert"
import "github.com/stretchr/testify/require"

func TestSPSCBasic(t *testing.T) {
	q := NewSPSC[int](4)
	assert.True(t, q.IsEmpty())
	assert.False(t, q.IsFull())

	require.True(t, q.TryPush(1))
	require.True(t, q.TryPush(2))
	require.True(t, q.TryPush(3))
	assert.True(t, q.IsFull()) // capacity 4 holds 3 live items

	ok := q.TryPush(4)
	assert.False(t, ok)

	v, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	require.True(t, q.TryPush(4))
	v, ok = q.TryPop()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestSPSCEmptyPop(t *testing.T) {
	q := NewSPSC[string](2)
	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestSPSCPushDropOldest(t *testing.T) {
	q := NewSPSC[int](3) // holds 2 live items
	require.True(t, q.TryPush(1))
	require.True(t, q.TryPush(2))
	assert.True(t, q.IsFull())

	q.PushDropOldest(3)
	assert.Equal(t, 2, q.Len())

	v, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, 2, v, "oldest item (1) should have been dropped")

	v, ok = q.TryPop()
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestSPSCClear(t *testing.T) {
	q := NewSPSC[int](4)
	q.TryPush(1)
	q.TryPush(2)
	q.Clear()
	assert.True(t, q.IsEmpty())
	assert.Equal(t, 0, q.Len())
}

func TestNewSPSCPanicsOnSmallCapacity(t *testing.T) {
	assert.Panics(t, func() { NewSPSC[int](1) })
	assert.Panics(t, func() { NewSPSC[int](0) })
}

func TestSPSCLenWraps(t *testing.T) {
	q := NewSPSC[int](4)
	for i := 0; i < 3; i++ {
		require.True(t, q.TryPush(i))
	}
	_, _ = q.TryPop()
	_, _ = q.TryPop()
	require.True(t, q.TryPush(10))
	require.True(t, q.TryPush(11))
	assert.Equal(t, 3, q.Len())
}
