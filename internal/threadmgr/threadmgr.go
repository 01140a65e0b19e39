// Package threadmgr implements ThreadManager: typed worker pools with
// bounded concurrency, lock-free published pool statistics, and a FIFO
// dispatch queue for work that must run on a single
// designated "UI thread".
package threadmgr

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/auroraframe/screensaver/internal/errs"
	"github.com/auroraframe/screensaver/internal/logx"
	"github.com/auroraframe/screensaver/internal/ring"
)

// PoolType identifies one of the typed worker pools a task can be
// submitted to.
type PoolType int

const (
	PoolIO PoolType = iota
	PoolCompute
	PoolCount
)

func (p PoolType) String() string {
	switch p {
	case PoolIO:
		return "io"
	case PoolCompute:
		return "compute"
	default:
		return "unknown"
	}
}

// PoolStats is the lock-free-published snapshot of one pool's activity,
// read by diagnostics/UI code via Manager.Stats without contending with
// the pool's hot submission path.
type PoolStats struct {
	Submitted int64
	Completed int64
	Failed    int64
	Cancelled int64
	Active    int64
	QueueLen  int
}

type pool struct {
	typ      PoolType
	sem      *semaphore.Weighted
	capacity int64

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
	active    atomic.Int64

	stats *ring.Triple[PoolStats]
}

func newPool(typ PoolType, capacity int64) *pool {
	p := &pool{typ: typ, sem: semaphore.NewWeighted(capacity), capacity: capacity}
	p.stats = ring.NewTriple[PoolStats](PoolStats{})
	return p
}

func (p *pool) publish() {
	p.stats.Publish(PoolStats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Cancelled: p.cancelled.Load(),
		Active:    p.active.Load(),
	})
}

// Task is a unit of work submitted to a pool.
type Task func(ctx context.Context) error

type taskHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Manager owns the typed worker pools and the single-goroutine UI
// dispatch queue. Construct with New; it must be stopped with Shutdown.
type Manager struct {
	log   *logx.Logger
	pools [PoolCount]*pool

	tasksMu sync.Mutex
	tasks   map[string]*taskHandle

	uiQueue  chan func()
	uiDone   chan struct{}
	shutdown atomic.Bool

	wg sync.WaitGroup
}

// Config sets per-pool concurrency caps and the UI dispatch queue depth.
type Config struct {
	IOCapacity      int64
	ComputeCapacity int64
	UIQueueDepth    int
}

// DefaultConfig mirrors the sizing used across the pack for a desktop
// process: a handful of concurrent IO tasks (network/disk), a
// CPU-bound compute pool sized to improve pipeline throughput without
// starving the render thread, and a modestly sized UI dispatch queue.
func DefaultConfig() Config {
	return Config{IOCapacity: 8, ComputeCapacity: 4, UIQueueDepth: 256}
}

// New constructs a Manager and starts its UI dispatch loop.
func New(log *logx.Logger, cfg Config) *Manager {
	if log == nil {
		log = logx.New("threadmanager")
	}
	m := &Manager{
		log:     log.Named("threadmanager"),
		tasks:   make(map[string]*taskHandle),
		uiQueue: make(chan func(), cfg.UIQueueDepth),
		uiDone:  make(chan struct{}),
	}
	m.pools[PoolIO] = newPool(PoolIO, cfg.IOCapacity)
	m.pools[PoolCompute] = newPool(PoolCompute, cfg.ComputeCapacity)

	m.wg.Add(1)
	go m.runUILoop()
	return m
}

// SubmitTask runs fn on the given pool's bounded concurrency budget,
// identified by taskID for later cancellation. Submission blocks until
// the pool has a free slot or ctx is cancelled.
func (m *Manager) SubmitTask(ctx context.Context, pt PoolType, taskID string, fn Task) error {
	if m.shutdown.Load() {
		return errs.Wrap(errs.ShuttingDown, "thread manager is shutting down")
	}
	p := m.pools[pt]
	if p == nil {
		return errs.Wrap(errs.InvalidArgument, fmt.Sprintf("unknown pool %v", pt))
	}

	taskCtx, cancel := context.WithCancel(ctx)
	handle := &taskHandle{cancel: cancel, done: make(chan struct{})}
	m.tasksMu.Lock()
	m.tasks[taskID] = handle
	m.tasksMu.Unlock()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		cancel()
		m.tasksMu.Lock()
		delete(m.tasks, taskID)
		m.tasksMu.Unlock()
		return errs.Wrap(errs.Timeout, "pool "+pt.String()+" did not free a slot in time")
	}
	p.submitted.Add(1)
	p.active.Add(1)
	p.publish()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer p.sem.Release(1)
		defer close(handle.done)
		defer func() {
			p.active.Add(-1)
			p.publish()
			m.tasksMu.Lock()
			delete(m.tasks, taskID)
			m.tasksMu.Unlock()
		}()

		err := runGuarded(taskCtx, fn)
		handle.err = err
		switch {
		case taskCtx.Err() != nil:
			p.cancelled.Add(1)
		case err != nil:
			p.failed.Add(1)
			m.log.Error("task failed", logx.String("task_id", taskID), logx.Err(err))
		default:
			p.completed.Add(1)
		}
		p.publish()
	}()
	return nil
}

// runGuarded converts a panic inside fn into an error so a misbehaving
// task can never take down the pool's dispatch goroutine.
func runGuarded(ctx context.Context, fn Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// CancelTask cancels a previously submitted task by ID, if it is still
// running.
func (m *Manager) CancelTask(taskID string) bool {
	m.tasksMu.Lock()
	handle, ok := m.tasks[taskID]
	m.tasksMu.Unlock()
	if !ok {
		return false
	}
	handle.cancel()
	return true
}

// Stats returns the lock-free-published statistics for a pool.
func (m *Manager) Stats(pt PoolType) PoolStats {
	p := m.pools[pt]
	if p == nil {
		return PoolStats{}
	}
	return p.stats.Load()
}

// RunOnUIThread enqueues fn to run on the manager's single UI dispatch
// goroutine, behind every other pending UI callback in FIFO order;
// callbacks are not merged. It returns errs.QueueFull if the dispatch queue is saturated
// rather than blocking the caller indefinitely.
func (m *Manager) RunOnUIThread(fn func()) error {
	if m.shutdown.Load() {
		return errs.Wrap(errs.ShuttingDown, "thread manager is shutting down")
	}
	select {
	case m.uiQueue <- fn:
		return nil
	default:
		return errs.Wrap(errs.QueueFull, "ui dispatch queue is full")
	}
}

// RunInMainThread is an alias for RunOnUIThread kept for call sites that
// think in terms of "main thread" rather than "UI thread"; both route
// through the same single dispatch goroutine.
func (m *Manager) RunInMainThread(fn func()) error { return m.RunOnUIThread(fn) }

func (m *Manager) runUILoop() {
	defer m.wg.Done()
	for {
		select {
		case fn, ok := <-m.uiQueue:
			if !ok {
				return
			}
			runGuardedVoid(fn, m.log)
		case <-m.uiDone:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case fn := <-m.uiQueue:
					runGuardedVoid(fn, m.log)
				default:
					return
				}
			}
		}
	}
}

func runGuardedVoid(fn func(), log *logx.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("ui callback panicked", logx.Any("recover", r))
		}
	}()
	fn()
}

// SingleShot schedules fn to run once on the UI thread after delay.
func (m *Manager) SingleShot(delay time.Duration, fn func()) {
	time.AfterFunc(delay, func() {
		_ = m.RunOnUIThread(fn)
	})
}

// ScheduleRecurring runs fn on the UI thread every interval until the
// returned stop function is called.
func (m *Manager) ScheduleRecurring(interval time.Duration, fn func()) (stop func()) {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				_ = m.RunOnUIThread(fn)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// Shutdown stops accepting new work, drains the UI queue, and waits for
// every in-flight task across every pool to finish.
func (m *Manager) Shutdown() {
	if !m.shutdown.CompareAndSwap(false, true) {
		return
	}
	close(m.uiDone)
	m.wg.Wait()
}
