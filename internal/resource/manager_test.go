package resource

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auroraframe/screensaver/internal/errs"
)

type dummyResource struct{ name string }

func TestRegisterRejectsNil(t *testing.T) {
	m := New(nil)
	_, err := m.Register(nil, Custom, RegisterOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.InvalidArgument)
}

func TestRegisterUnregisterRoundTrip(t *testing.T) {
	m := New(nil)
	cleaned := false
	id, err := m.Register(&dummyResource{name: "x"}, Custom, RegisterOptions{
		Description:    "test resource",
		CleanupHandler: func(any) error { cleaned = true; return nil },
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got := m.Get(id)
	require.NotNil(t, got)

	err = m.Unregister(id, false)
	require.NoError(t, err)
	assert.True(t, cleaned)
	assert.Nil(t, m.Get(id))
}

func TestUnregisterInUseWithoutForce(t *testing.T) {
	m := New(nil)
	id, err := m.Register(&dummyResource{}, Custom, RegisterOptions{})
	require.NoError(t, err)

	// Registration starts the reference count at 1; unregistering that
	// single reference without force must succeed...
	require.NoError(t, m.Unregister(id, false))

	id2, err := m.Register(&dummyResource{}, Custom, RegisterOptions{})
	require.NoError(t, err)
	m.IncrementReferenceCount(id2) // simulate an extra borrower

	err = m.Unregister(id2, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.InUse)

	// Giving the borrowed reference back brings the count to the
	// registration baseline, so an unforced unregister now succeeds.
	m.DecrementReferenceCount(id2)
	require.NoError(t, m.Unregister(id2, false))
}

func TestCleanupAllOrdersByGroupAndIsIdempotent(t *testing.T) {
	m := New(nil)
	var order []string
	record := func(name string) func(any) error {
		return func(any) error { order = append(order, name); return nil }
	}

	_, err := m.Register(&dummyResource{}, FileHandle, RegisterOptions{CleanupHandler: record("filesystem")})
	require.NoError(t, err)
	_, err = m.Register(&dummyResource{}, NetworkConnection, RegisterOptions{CleanupHandler: record("network")})
	require.NoError(t, err)
	_, err = m.Register(&dummyResource{}, GUIComponent, RegisterOptions{CleanupHandler: record("qt")})
	require.NoError(t, err)
	_, err = m.Register(&dummyResource{}, ImageCache, RegisterOptions{CleanupHandler: record("cache")})
	require.NoError(t, err)

	require.NoError(t, m.CleanupAll())
	assert.Equal(t, []string{"qt", "network", "cache", "filesystem"}, order)

	// idempotent: second call does nothing and returns nil.
	require.NoError(t, m.CleanupAll())
}

func TestCleanupAllContinuesPastFailure(t *testing.T) {
	m := New(nil)
	cleanedSecond := false
	_, err := m.Register(&dummyResource{}, Custom, RegisterOptions{
		CleanupHandler: func(any) error { return errors.New("boom") },
	})
	require.NoError(t, err)
	_, err = m.Register(&dummyResource{}, Custom, RegisterOptions{
		CleanupHandler: func(any) error { cleanedSecond = true; return nil },
	})
	require.NoError(t, err)

	err = m.CleanupAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ResourceCleanupFailure)
	assert.True(t, cleanedSecond, "a failing cleanup must not abort the rest of the walk")
}

func TestRegisterAfterShutdownFails(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.CleanupAll())
	_, err := m.Register(&dummyResource{}, Custom, RegisterOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ShuttingDown)
}

func TestPoolAcquireReleaseStats(t *testing.T) {
	m := New(nil)
	p := m.PoolFor(64, 64, 1024, 2)

	buf, ok := p.Acquire()
	assert.False(t, ok, "acquire on an empty pool must return nothing, not an allocated buffer")
	assert.Nil(t, buf)
	stats := p.Stats()
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)

	accepted := p.Release(make([]byte, 1024))
	assert.True(t, accepted)
	stats = p.Stats()
	assert.Equal(t, int64(1), stats.Fills)
	assert.Equal(t, 1, stats.Idle)

	buf2, ok2 := p.Acquire()
	assert.True(t, ok2)
	assert.Len(t, buf2, 1024)
	stats = p.Stats()
	assert.Equal(t, int64(1), stats.Hits)
}

func TestPoolReleaseRejectsWrongSizeAndFullBucket(t *testing.T) {
	m := New(nil)
	p := m.PoolFor(32, 32, 512, 1)

	assert.False(t, p.Release(make([]byte, 256)), "wrong-sized buffer must be rejected")
	assert.True(t, p.Release(make([]byte, 512)))
	assert.False(t, p.Release(make([]byte, 512)), "bucket at cap must reject further releases")
}

func TestAcquireReleasePixmapAndImageAreSeparateBuckets(t *testing.T) {
	m := New(nil)

	_, ok := m.AcquirePixmap(100, 100)
	assert.False(t, ok)
	_, ok = m.AcquireImage(100, 100)
	assert.False(t, ok)

	assert.True(t, m.ReleasePixmap(100, 100, make([]byte, 100*100*4)))
	assert.True(t, m.ReleaseImage(100, 100, make([]byte, 100*100*4)))

	pixBuf, ok := m.AcquirePixmap(100, 100)
	require.True(t, ok)
	assert.Len(t, pixBuf, 100*100*4)

	imgBuf, ok := m.AcquireImage(100, 100)
	require.True(t, ok)
	assert.Len(t, imgBuf, 100*100*4)

	// The pixmap bucket must now be empty again; releasing to one bucket
	// never fills the other.
	_, ok = m.AcquirePixmap(100, 100)
	assert.False(t, ok)
}
