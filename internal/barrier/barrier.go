// Package barrier implements the multi-display transition barrier: a
// readiness rendezvous that holds every display's transition start
// until all displays are ready, so a multi-monitor slideshow transitions
// in visual lockstep rather than display-by-display.
package barrier

import (
	"sync"
	"time"

	"github.com/auroraframe/screensaver/internal/logx"
	"github.com/auroraframe/screensaver/internal/ring"
)

// State mirrors the original fade coordinator's state machine,
// generalized from a single screen's compositor-ready gate to an
// N-display rendezvous.
type State int

const (
	StateIdle State = iota
	StateReady
	StateFading
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateFading:
		return "fading"
	case StateComplete:
		return "complete"
	default:
		return "idle"
	}
}

type request struct {
	display int
	starter func()
}

// DisplayBarrier coordinates a single transition start across a fixed
// set of registered displays.
type DisplayBarrier struct {
	mu              sync.Mutex
	state           State
	compositorReady bool
	syncEnabled     bool
	participants    map[int]bool
	pending         map[int]func()
	completed       map[int]bool
	requests        *ring.SPSC[request]
	ready           *ring.SPSC[int]
	log             *logx.Logger
}

// New constructs a barrier with room for capacity queued cross-thread
// fade requests and ready signals.
func New(capacity int, log *logx.Logger) *DisplayBarrier {
	if log == nil {
		log = logx.New("barrier")
	}
	return &DisplayBarrier{
		state:        StateIdle,
		syncEnabled:  true,
		participants: make(map[int]bool),
		pending:      make(map[int]func()),
		completed:    make(map[int]bool),
		requests:     ring.NewSPSC[request](capacity),
		ready:        ring.NewSPSC[int](capacity),
		log:          log.Named("barrier"),
	}
}

// RegisterDisplay adds a display to the set that must all be ready
// before a transition fires.
func (b *DisplayBarrier) RegisterDisplay(display int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.participants[display] = true
}

// RequestTransition asks the barrier to start display's transition via
// starter. If the compositor is already marked ready and every
// registered display has now requested, every pending starter fires
// together and RequestTransition returns true; otherwise the request is
// queued and false is returned.
func (b *DisplayBarrier) RequestTransition(display int, starter func()) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.participants[display] {
		b.log.Warn("display requested transition without registering", logx.Int("display", display))
		b.participants[display] = true
	}
	b.pending[display] = starter

	if b.compositorReady && len(b.pending) >= len(b.participants) {
		b.startAllLocked()
		return true
	}
	return false
}

// SignalCompositorReady marks the compositor as ready to present a
// frame; if there are already-queued requests for every participant,
// this fires them immediately.
func (b *DisplayBarrier) SignalCompositorReady() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.compositorReady {
		return
	}
	b.compositorReady = true
	b.state = StateReady
	if len(b.pending) > 0 && len(b.pending) >= len(b.participants) {
		b.startAllLocked()
	}
}

func (b *DisplayBarrier) startAllLocked() {
	if len(b.pending) == 0 {
		return
	}
	b.state = StateFading
	pending := b.pending
	b.pending = make(map[int]func())

	for display, starter := range pending {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error("transition starter panicked", logx.Int("display", display), logx.Any("recover", r))
				}
			}()
			starter()
			b.completed[display] = true
		}()
	}

	if len(b.completed) >= len(b.participants) {
		b.state = StateComplete
	}
}

// State returns the barrier's current state.
func (b *DisplayBarrier) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SubmitRequestAsync enqueues a fade/transition request from a non-owner
// goroutine (e.g. a render thread) without blocking; the owner thread
// must periodically call DrainRequests to process them via
// RequestTransition. This mirrors the original's SPSC-queued
// cross-thread fade request path.
func (b *DisplayBarrier) SubmitRequestAsync(display int, starter func()) bool {
	return b.requests.TryPush(request{display: display, starter: starter})
}

// DrainRequests processes every queued async request through
// RequestTransition, to be called from the barrier's owning thread.
func (b *DisplayBarrier) DrainRequests() {
	for {
		req, ok := b.requests.TryPop()
		if !ok {
			return
		}
		b.RequestTransition(req.display, req.starter)
	}
}

// Reset prepares the barrier for the next transition cycle, draining any
// ready signals left over from the previous cycle (e.g. one enqueued while
// sync was disabled and never consumed) so a stale straggler can never be
// mistaken for the next cycle's readiness.
func (b *DisplayBarrier) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateIdle
	b.compositorReady = false
	b.pending = make(map[int]func())
	b.completed = make(map[int]bool)
	for {
		if _, ok := b.ready.TryPop(); !ok {
			break
		}
	}
}

// EnableTransitionSync turns the readiness rendezvous on or off. While
// disabled, WaitForAllDisplaysReady returns true immediately, matching
// the single-surface / sync-disabled fast path.
func (b *DisplayBarrier) EnableTransitionSync(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.syncEnabled = enabled
}

// SignalReady enqueues display as ready for the current transition
// cycle. It never blocks the caller: on an already-full ready queue the
// signal is dropped and logged, and the consumer falls back to its
// timeout. Duplicate signals for the same display within a cycle are
// harmless, since WaitForAllDisplaysReady accumulates into a set.
func (b *DisplayBarrier) SignalReady(display int) {
	if !b.ready.TryPush(display) {
		b.log.Warn("display ready queue overflowed, signal dropped", logx.Int("display", display))
	}
}

// WaitForAllDisplaysReady pops ready signals into a set until every
// registered display has been seen at least once or timeout elapses.
// Signals already enqueued at entry count toward the current cycle, so
// callers that call SignalReady before WaitForAllDisplaysReady never lose
// them; use Reset between cycles to discard any stale leftover signal
// from a cycle that never completed. For zero or one registered display,
// or with sync disabled, it returns true immediately without touching
// the queue.
func (b *DisplayBarrier) WaitForAllDisplaysReady(timeout time.Duration) bool {
	b.mu.Lock()
	n := len(b.participants)
	synced := b.syncEnabled
	b.mu.Unlock()

	if n <= 1 || !synced {
		return true
	}

	seen := make(map[int]bool, n)
	deadline := time.Now().Add(timeout)
	for {
		for {
			display, ok := b.ready.TryPop()
			if !ok {
				break
			}
			seen[display] = true
		}
		if len(seen) >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}
