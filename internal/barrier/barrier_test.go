package barrier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitForAllDisplaysReadySingleSurface(t *testing.T) {
	b := New(20, nil)
	b.RegisterDisplay(0)
	assert.True(t, b.WaitForAllDisplaysReady(time.Millisecond))
}

func TestWaitForAllDisplaysReadySyncDisabled(t *testing.T) {
	b := New(20, nil)
	b.RegisterDisplay(0)
	b.RegisterDisplay(1)
	b.EnableTransitionSync(false)
	assert.True(t, b.WaitForAllDisplaysReady(time.Millisecond))
}

func TestWaitForAllDisplaysReadyCompletes(t *testing.T) {
	b := New(20, nil)
	b.RegisterDisplay(0)
	b.RegisterDisplay(1)
	b.RegisterDisplay(2)

	go func() {
		b.SignalReady(0)
		b.SignalReady(1)
		b.SignalReady(2)
	}()

	assert.True(t, b.WaitForAllDisplaysReady(time.Second))
}

func TestWaitForAllDisplaysReadyTimesOut(t *testing.T) {
	b := New(20, nil)
	b.RegisterDisplay(0)
	b.RegisterDisplay(1)

	b.SignalReady(0)

	assert.False(t, b.WaitForAllDisplaysReady(20*time.Millisecond))
}

func TestWaitForAllDisplaysReadyToleratesDuplicates(t *testing.T) {
	b := New(20, nil)
	b.RegisterDisplay(0)
	b.RegisterDisplay(1)

	b.SignalReady(0)
	b.SignalReady(0)
	b.SignalReady(0)
	b.SignalReady(1)

	assert.True(t, b.WaitForAllDisplaysReady(100*time.Millisecond))
}

func TestWaitForAllDisplaysReadyDrainsPreviousCycle(t *testing.T) {
	b := New(20, nil)
	b.RegisterDisplay(0)
	b.RegisterDisplay(1)

	// A straggler from a previous cycle that never completed.
	b.SignalReady(0)
	assert.False(t, b.WaitForAllDisplaysReady(20*time.Millisecond))

	// New cycle: only display 1 signals. The stale display-0 signal must
	// not count toward this cycle's completeness.
	b.SignalReady(1)
	assert.False(t, b.WaitForAllDisplaysReady(20*time.Millisecond))
}

func TestRequestTransitionFiresAllOnceCompositorReady(t *testing.T) {
	b := New(20, nil)
	b.RegisterDisplay(0)
	b.RegisterDisplay(1)

	var fired []int
	b.SignalCompositorReady()

	done0 := b.RequestTransition(0, func() { fired = append(fired, 0) })
	assert.False(t, done0)
	done1 := b.RequestTransition(1, func() { fired = append(fired, 1) })
	assert.True(t, done1)

	assert.ElementsMatch(t, []int{0, 1}, fired)
	assert.Equal(t, StateComplete, b.State())
}

func TestResetDiscardsStaleReadySignalAndState(t *testing.T) {
	b := New(20, nil)
	b.RegisterDisplay(0)
	b.RegisterDisplay(1)

	// A straggler from a cycle that never completed, plus compositor/pending
	// state left over from a RequestTransition that never fired.
	b.SignalReady(0)
	b.SignalCompositorReady()
	b.RequestTransition(0, func() {})

	b.Reset()

	assert.Equal(t, StateIdle, b.State())

	// The stale display-0 signal must not count toward the next cycle, and
	// compositor-ready must be re-signaled before a new transition fires.
	b.SignalReady(1)
	assert.False(t, b.WaitForAllDisplaysReady(20*time.Millisecond))
}
