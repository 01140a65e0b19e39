package rendertimer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fastConfig() Config {
	return Config{
		TargetFPS:    200,
		MinFrameTime: time.Millisecond,
		IdleTimeout:  30 * time.Millisecond,
		MaxDeepSleep: time.Second,
	}
}

func TestTimerStartsIdleAndRunsOnStartTransition(t *testing.T) {
	timer := New(0, fastConfig(), func() {}, nil, nil)
	assert.Equal(t, Idle, timer.State())

	timer.StartTransition()
	assert.Equal(t, Running, timer.State())

	time.Sleep(20 * time.Millisecond)
	assert.Greater(t, timer.FrameCount(), int64(0))
	timer.Stop()
}

func TestTimerEndTransitionDecaysToIdle(t *testing.T) {
	timer := New(0, fastConfig(), func() {}, nil, nil)
	timer.StartTransition()
	time.Sleep(5 * time.Millisecond)
	timer.EndTransition()
	assert.Equal(t, Paused, timer.State())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, Idle, timer.State())
}

func TestTimerStopHaltsFrameDelivery(t *testing.T) {
	timer := New(0, fastConfig(), func() {}, nil, nil)
	timer.StartTransition()
	time.Sleep(10 * time.Millisecond)
	timer.Stop()
	count := timer.FrameCount()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, count, timer.FrameCount())
}

func TestTimerStartTransitionFromIdleAfterDecayWakesAgain(t *testing.T) {
	timer := New(0, fastConfig(), func() {}, nil, nil)
	timer.StartTransition()
	timer.EndTransition()
	time.Sleep(100 * time.Millisecond)
	require := assert.New(t)
	require.Equal(Idle, timer.State())

	timer.StartTransition()
	assert.Equal(t, Running, timer.State())
	time.Sleep(20 * time.Millisecond)
	assert.Greater(t, timer.FrameCount(), int64(0))
	timer.Stop()
}

func TestRequestFrameCoalescesUnderDropOldest(t *testing.T) {
	timer := New(0, fastConfig(), func() {}, nil, nil)
	for i := 0; i < 10; i++ {
		timer.RequestFrame()
	}
	assert.Equal(t, frameRequestCapacity, timer.frameRequests.Len())

	timer.StartTransition()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, timer.frameRequests.Len())
	timer.Stop()
}

func TestManagerTimerForReturnsSameInstance(t *testing.T) {
	mgr := NewManager(fastConfig(), nil, nil)
	a := mgr.TimerFor(0, func() {})
	b := mgr.TimerFor(0, func() {})
	assert.Same(t, a, b)
}

func TestManagerStopAllHaltsEveryDisplay(t *testing.T) {
	mgr := NewManager(fastConfig(), nil, nil)
	t0 := mgr.TimerFor(0, func() {})
	t1 := mgr.TimerFor(1, func() {})
	t0.StartTransition()
	t1.StartTransition()
	time.Sleep(10 * time.Millisecond)

	mgr.StopAll()
	c0, c1 := t0.FrameCount(), t1.FrameCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, c0, t0.FrameCount())
	assert.Equal(t, c1, t1.FrameCount())
}
