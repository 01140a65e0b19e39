// Package supervisor implements ProcessSupervisor: it spawns the four
// worker processes (as the same binary re-exec'd with -worker=<kind>),
// exchanges WorkerMessage/WorkerResponse envelopes with them over
// bounded queues, tracks their health, and restarts them under an
// exponential-backoff budget when they stop responding.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/auroraframe/screensaver/internal/errs"
	"github.com/auroraframe/screensaver/internal/logx"
	"github.com/auroraframe/screensaver/internal/workermsg"
)

// WorkerConfig is the per-worker-kind tuning the supervisor consults
// when sizing queues and deciding backpressure, sourced from
// settings.Defaults()'s [worker.<kind>] tables.
type WorkerConfig struct {
	RequestQueueSize  int
	ResponseQueueSize int
	DropOldest        bool // false => drop-new
	PollTimeout       time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// pendingEntry tracks one in-flight request awaiting a correlated
// response.
type pendingEntry struct {
	resultCh chan workermsg.Response
}

// workerProc is everything the supervisor tracks for one running worker
// process.
type workerProc struct {
	kind   workermsg.WorkerType
	cfg    WorkerConfig
	health *Health

	cmd     *exec.Cmd
	reqCh   chan workermsg.Message
	respCh  chan workermsg.Response

	stdin  io.WriteCloser
	stdout io.ReadCloser

	pendingMu sync.Mutex
	pending   map[string]*pendingEntry

	pumpDone chan struct{}
	seq      atomicSeq
}

// atomicSeq generates the per-worker-type monotonically increasing
// sequence numbers the spec requires on every request.
type atomicSeq struct {
	mu sync.Mutex
	n  uint64
}

func (s *atomicSeq) next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.n
}

// Supervisor owns one workerProc per kind and drives their lifecycle.
type Supervisor struct {
	log     *logx.Logger
	workers map[workermsg.WorkerType]*workerProc
	spawn   SpawnFunc

	mu       sync.Mutex
	shutdown bool
}

// SpawnFunc constructs the *exec.Cmd used to launch a worker process of
// the given kind; overridable in tests so they don't need a real
// subprocess body.
type SpawnFunc func(kind workermsg.WorkerType) *exec.Cmd

// DefaultSpawn re-execs the current binary with -worker=<kind>, so a
// single compiled artifact is both the host process and every worker
// process body.
func DefaultSpawn(kind workermsg.WorkerType) *exec.Cmd {
	cmd := exec.Command(os.Args[0], "-worker="+string(kind))
	// Stdout/stdin carry the framed WorkerMessage/WorkerResponse stream;
	// only stderr is free for the worker's own log lines.
	cmd.Stderr = os.Stderr
	return cmd
}

// New constructs a Supervisor. kinds maps each worker kind to its tuning
// config.
func New(log *logx.Logger, kinds map[workermsg.WorkerType]WorkerConfig, spawn SpawnFunc) *Supervisor {
	if log == nil {
		log = logx.New("supervisor")
	}
	if spawn == nil {
		spawn = DefaultSpawn
	}
	s := &Supervisor{
		log:     log.Named("supervisor"),
		workers: make(map[workermsg.WorkerType]*workerProc),
		spawn:   spawn,
	}
	for kind, cfg := range kinds {
		s.workers[kind] = &workerProc{
			kind:     kind,
			cfg:      cfg,
			health:   NewHealth(DefaultHealthConfig()),
			reqCh:    make(chan workermsg.Message, cfg.RequestQueueSize),
			respCh:   make(chan workermsg.Response, cfg.ResponseQueueSize),
			pending:  make(map[string]*pendingEntry),
			pumpDone: make(chan struct{}),
		}
	}
	return s
}

// Start spawns every configured worker process.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for kind, w := range s.workers {
		if err := s.startWorkerLocked(ctx, kind, w); err != nil {
			return fmt.Errorf("supervisor: start %s: %w", kind, err)
		}
	}
	return nil
}

func (s *Supervisor) startWorkerLocked(ctx context.Context, kind workermsg.WorkerType, w *workerProc) error {
	w.health.SetState(StateStarting)
	cmd := s.spawn(kind)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.health.SetState(StateError)
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		w.health.SetState(StateError)
		return fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		w.health.SetState(StateError)
		return err
	}

	w.cmd = cmd
	w.stdin = stdin
	w.stdout = stdout
	w.pumpDone = make(chan struct{})

	w.health.SetPID(cmd.Process.Pid)
	w.health.SetState(StateRunning)
	w.health.RecordHeartbeat()
	s.log.Info("worker started", logx.String("kind", string(kind)), logx.Int("pid", cmd.Process.Pid))

	go s.writerPump(kind, w)
	go s.readerPump(kind, w)
	return nil
}

// writerPump drains w.reqCh onto the worker process's stdin in the
// order messages were accepted by Send.
func (s *Supervisor) writerPump(kind workermsg.WorkerType, w *workerProc) {
	for {
		select {
		case msg := <-w.reqCh:
			if err := workermsg.WriteMessage(w.stdin, msg); err != nil {
				s.log.Warn("write to worker failed", logx.String("kind", string(kind)), logx.Err(err))
				return
			}
		case <-w.pumpDone:
			return
		}
	}
}

// readerPump decodes framed responses from the worker process's stdout
// and routes them through PollResponses to their waiting caller (or logs
// them as unsolicited).
func (s *Supervisor) readerPump(kind workermsg.WorkerType, w *workerProc) {
	r := bufio.NewReader(w.stdout)
	for {
		resp, err := workermsg.ReadResponse(r)
		if err != nil {
			if err != io.EOF {
				s.log.Warn("read from worker failed", logx.String("kind", string(kind)), logx.Err(err))
			}
			return
		}
		s.PollResponses(kind, resp)
	}
}

// Send enqueues msg for the given worker kind, stamping a fresh
// sequence number, and applying that worker's configured backpressure
// policy (drop-oldest vs. drop-new) when the request queue is
// saturated.
func (s *Supervisor) Send(kind workermsg.WorkerType, msg workermsg.Message) error {
	w, ok := s.workers[kind]
	if !ok {
		return errs.Wrap(errs.InvalidArgument, "unknown worker kind "+string(kind))
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.New().String()
	}
	msg.SeqNo = w.seq.next()
	msg.WorkerType = kind
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if !msg.ValidateSize() {
		return errs.Wrap(errs.InvalidArgument, "payload exceeds size cap for "+string(kind))
	}
	select {
	case w.reqCh <- msg:
		return nil
	default:
		if w.cfg.DropOldest {
			select {
			case <-w.reqCh:
			default:
			}
			select {
			case w.reqCh <- msg:
				return nil
			default:
				return errs.Wrap(errs.QueueFull, "request queue full for "+string(kind))
			}
		}
		return errs.Wrap(errs.QueueFull, "request queue full for "+string(kind))
	}
}

// SendAndWait sends msg and blocks for a correlated Response, or returns
// errs.Timeout if none arrives within timeout.
func (s *Supervisor) SendAndWait(ctx context.Context, kind workermsg.WorkerType, msg workermsg.Message, timeout time.Duration) (workermsg.Response, error) {
	w, ok := s.workers[kind]
	if !ok {
		return workermsg.Response{}, errs.Wrap(errs.InvalidArgument, "unknown worker kind "+string(kind))
	}

	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.New().String()
	}

	entry := &pendingEntry{resultCh: make(chan workermsg.Response, 1)}
	w.pendingMu.Lock()
	w.pending[msg.CorrelationID] = entry
	w.pendingMu.Unlock()
	defer func() {
		w.pendingMu.Lock()
		delete(w.pending, msg.CorrelationID)
		w.pendingMu.Unlock()
	}()

	if err := s.Send(kind, msg); err != nil {
		return workermsg.Response{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-entry.resultCh:
		return resp, nil
	case <-timer.C:
		return workermsg.Response{}, errs.Wrap(errs.Timeout, "no response from "+string(kind)+" within "+timeout.String())
	case <-ctx.Done():
		return workermsg.Response{}, ctx.Err()
	}
}

// PollResponses delivers a response received out-of-band (e.g. read
// from the worker's stdout/IPC pipe by the caller's own transport code)
// to either its waiting SendAndWait caller or, if there is none, logs it
// as an unsolicited response.
func (s *Supervisor) PollResponses(kind workermsg.WorkerType, resp workermsg.Response) {
	w, ok := s.workers[kind]
	if !ok {
		return
	}

	switch resp.Type {
	case workermsg.MsgHeartbeatAck:
		w.health.RecordHeartbeat()
	case workermsg.MsgWorkerBusy:
		w.health.SetBusy(true)
	case workermsg.MsgWorkerIdle:
		w.health.SetBusy(false)
	}

	w.pendingMu.Lock()
	entry, ok := w.pending[resp.CorrelationID]
	w.pendingMu.Unlock()
	if ok {
		select {
		case entry.resultCh <- resp:
		default:
		}
		return
	}
	s.log.Debug("unsolicited response", logx.String("kind", string(kind)), logx.String("correlation_id", resp.CorrelationID))
}

// CheckHealthAndRestart evaluates every worker's health and restarts any
// that should_restart reports true for, honoring each worker's restart
// budget. Returns errs.Degraded if a worker has exhausted its budget and
// could not be restarted.
func (s *Supervisor) CheckHealthAndRestart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var degraded []string
	for kind, w := range s.workers {
		if !w.health.ShouldRestart() {
			if !w.health.IsHealthy() && !w.health.CanRestart() {
				degraded = append(degraded, string(kind))
			}
			continue
		}
		if !w.health.CanRestart() {
			degraded = append(degraded, string(kind))
			continue
		}
		backoff := w.health.RestartBackoff()
		w.health.SetState(StateRestarting)
		w.health.RecordRestart()
		s.log.Warn("restarting worker", logx.String("kind", string(kind)), logx.Duration("backoff", backoff))
		s.terminateWorkerLocked(w)
		time.Sleep(backoff)
		if err := s.startWorkerLocked(ctx, kind, w); err != nil {
			degraded = append(degraded, string(kind))
		}
	}
	if len(degraded) > 0 {
		return errs.Wrap(errs.Degraded, fmt.Sprintf("workers degraded: %v", degraded))
	}
	return nil
}

// Tick runs one supervision cycle: send a heartbeat to every running
// worker, wait up to that worker's heartbeat timeout for the ack (busy
// workers are skipped entirely per HealthStatus.set_busy semantics),
// record a miss on timeout, then evaluate restarts. This is the
// UI-thread-scheduled 1-second tick of §4.H, exposed here so the host
// entrypoint can drive it from whatever timer it likes.
func (s *Supervisor) Tick(ctx context.Context) error {
	s.mu.Lock()
	workers := make([]*workerProc, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		w := w
		snap := w.health.Snapshot()
		if snap.State != StateRunning.String() || snap.IsBusy {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.SendAndWait(ctx, w.kind, workermsg.Message{Type: workermsg.MsgHeartbeat}, w.cfg.HeartbeatTimeout)
			if err != nil {
				w.health.RecordMissedHeartbeat()
			}
		}()
	}
	wg.Wait()

	return s.CheckHealthAndRestart(ctx)
}

// RunSupervisionLoop calls Tick every interval until ctx is cancelled.
func (s *Supervisor) RunSupervisionLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.log.Warn("supervision tick reported degraded workers", logx.Err(err))
			}
		}
	}
}

// HealthSnapshots returns a point-in-time health summary for every
// worker kind.
func (s *Supervisor) HealthSnapshots() map[workermsg.WorkerType]Snapshot {
	out := make(map[workermsg.WorkerType]Snapshot, len(s.workers))
	for kind, w := range s.workers {
		out[kind] = w.health.Snapshot()
	}
	return out
}

// Shutdown sends a SHUTDOWN message to every worker and waits (bounded
// by timeout) for all of their processes to exit, fanning out the waits
// concurrently.
func (s *Supervisor) Shutdown(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	workers := make([]*workerProc, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(shutdownCtx)
	for _, w := range workers {
		w := w
		g.Go(func() error {
			return s.shutdownWorker(gctx, w)
		})
	}
	return g.Wait()
}

func (s *Supervisor) shutdownWorker(ctx context.Context, w *workerProc) error {
	w.health.SetState(StateStopping)
	if w.cmd == nil || w.cmd.Process == nil {
		return nil
	}

	_ = s.Send(w.kind, workermsg.Message{Type: workermsg.MsgShutdown})

	done := make(chan error, 1)
	go func() { done <- w.cmd.Wait() }()

	select {
	case <-done:
		s.stopPumpsLocked(w)
		w.health.SetState(StateStopped)
		return nil
	case <-ctx.Done():
		_ = w.cmd.Process.Kill()
		<-done
		s.stopPumpsLocked(w)
		w.health.SetState(StateStopped)
		return ctx.Err()
	}
}

// terminateWorkerLocked stops a worker's pump goroutines and kills its
// process, waiting for it to exit, so a restart never leaves the
// previous process or its pipes dangling. Called while s.mu is held.
func (s *Supervisor) terminateWorkerLocked(w *workerProc) {
	s.stopPumpsLocked(w)
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
		_ = w.cmd.Wait()
	}
}

func (s *Supervisor) stopPumpsLocked(w *workerProc) {
	select {
	case <-w.pumpDone:
	default:
		close(w.pumpDone)
	}
	if w.stdin != nil {
		_ = w.stdin.Close()
	}
	if w.stdout != nil {
		_ = w.stdout.Close()
	}
}
