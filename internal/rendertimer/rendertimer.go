// Package rendertimer implements the adaptive render-timer state
// machine: a per-display timer that runs at full precision during an
// active transition, decays to a low-power paused state once the
// transition ends, and goes to deep sleep after an idle timeout,
// waking instantly when the next transition starts.
package rendertimer

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/auroraframe/screensaver/internal/logx"
	"github.com/auroraframe/screensaver/internal/ring"
	"github.com/auroraframe/screensaver/internal/threadmgr"
)

// frameRequestCapacity is the number of live frame-request events the
// queue holds before PushDropOldest starts discarding the oldest one, so
// a burst of requests between ticks collapses into a single repaint.
const frameRequestCapacity = 4

// State is one of the three timer states.
type State int32

const (
	Idle State = iota
	Paused
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Paused:
		return "paused"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// Config controls frame cadence and idle decay timing.
type Config struct {
	TargetFPS       int
	MinFrameTime    time.Duration
	IdleTimeout     time.Duration
	MaxDeepSleep    time.Duration
}

// DefaultConfig matches the canonical defaults named in settings.
func DefaultConfig() Config {
	return Config{
		TargetFPS:    60,
		MinFrameTime: 8 * time.Millisecond,
		IdleTimeout:  5 * time.Second,
		MaxDeepSleep: 60 * time.Second,
	}
}

// atomicState wraps a State behind compare-and-swap, mirroring the
// original's AtomicTimerState.
type atomicState struct {
	v atomic.Int32
}

func (a *atomicState) load() State { return State(a.v.Load()) }

func (a *atomicState) compareAndSwap(expected, next State) State {
	for {
		cur := State(a.v.Load())
		if cur != expected {
			return cur
		}
		if a.v.CompareAndSwap(int32(expected), int32(next)) {
			return expected
		}
	}
}

func (a *atomicState) store(next State) { a.v.Store(int32(next)) }

// Timer drives one display's frame callback on the adaptive schedule.
// It is started via StartTransition and torn down via Stop.
type Timer struct {
	displayIndex int
	cfg          Config
	onFrame      func()
	log          *logx.Logger
	tm           *threadmgr.Manager

	state         atomicState
	wake          chan struct{}
	stopCh        chan struct{}
	stopped       atomic.Bool
	frameCount    atomic.Int64
	frameRequests *ring.SPSC[struct{}]
}

// New constructs a Timer for one display. onFrame is invoked on every
// tick while the timer is Running.
func New(displayIndex int, cfg Config, onFrame func(), tm *threadmgr.Manager, log *logx.Logger) *Timer {
	if log == nil {
		log = logx.New("rendertimer")
	}
	return &Timer{
		displayIndex:  displayIndex,
		cfg:           cfg,
		onFrame:       onFrame,
		tm:            tm,
		log:           log.Named("rendertimer"),
		wake:          make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		frameRequests: ring.NewSPSC[struct{}](frameRequestCapacity + 1),
	}
}

// RequestFrame enqueues an out-of-band repaint request for the next
// Running iteration. Requests coalesce under drop-oldest backpressure, so
// any number of requests between ticks collapse into a single repaint.
func (t *Timer) RequestFrame() {
	t.frameRequests.PushDropOldest(struct{}{})
}

// drainFrameRequests discards every queued frame-request event, leaving
// at most the single repaint the current Running iteration already
// performs.
func (t *Timer) drainFrameRequests() {
	for {
		if _, ok := t.frameRequests.TryPop(); !ok {
			return
		}
	}
}

// StartTransition moves the timer to Running. Starting from Idle (the
// first call, or after the loop has decayed to Idle and exited) submits a
// new loop to the thread manager's compute pool; starting from Paused
// simply wakes the existing loop.
func (t *Timer) StartTransition() {
	prev := t.state.load()
	if prev == Running {
		return
	}
	t.state.store(Running)
	select {
	case t.wake <- struct{}{}:
	default:
	}
	if prev == Idle {
		taskID := t.taskID()
		if t.tm != nil {
			_ = t.tm.SubmitTask(context.Background(), threadmgr.PoolCompute, taskID, func(ctx context.Context) error {
				t.loop(ctx)
				return nil
			})
		} else {
			go t.loop(context.Background())
		}
	}
}

func (t *Timer) taskID() string {
	return "rendertimer_" + strconv.Itoa(t.displayIndex)
}

// EndTransition moves a Running timer to Paused; it will decay to Idle
// after cfg.IdleTimeout with no further transitions.
func (t *Timer) EndTransition() {
	t.state.compareAndSwap(Running, Paused)
}

// State returns the timer's current state.
func (t *Timer) State() State { return t.state.load() }

// FrameCount returns the number of frame callbacks delivered so far.
func (t *Timer) FrameCount() int64 { return t.frameCount.Load() }

// Stop halts the timer loop permanently.
func (t *Timer) Stop() {
	if t.stopped.CompareAndSwap(false, true) {
		close(t.stopCh)
	}
}

func (t *Timer) loop(ctx context.Context) {
	frameInterval := time.Second / time.Duration(max(t.cfg.TargetFPS, 1))
	if frameInterval < t.cfg.MinFrameTime {
		frameInterval = t.cfg.MinFrameTime
	}
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	var pausedSince time.Time
	for {
		select {
		case <-t.stopCh:
			return
		case <-ctx.Done():
			return
		case <-t.wake:
			// Woken from Idle into Running; loop continues below.
		case <-ticker.C:
			switch t.state.load() {
			case Running:
				t.drainFrameRequests()
				t.frameCount.Add(1)
				if t.onFrame != nil {
					t.onFrame()
				}
				pausedSince = time.Time{}
			case Paused:
				if pausedSince.IsZero() {
					pausedSince = time.Now()
				} else if time.Since(pausedSince) >= t.cfg.IdleTimeout {
					t.state.compareAndSwap(Paused, Idle)
					t.log.Debug("render timer entering idle", logx.Int("display", t.displayIndex))
					return
				}
			case Idle:
				return
			}
		}
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
