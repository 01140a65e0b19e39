package supervisor

import (
	"sync"
	"time"
)

// WorkerState is a worker process's lifecycle state.
type WorkerState int

const (
	StateStopped WorkerState = iota
	StateStarting
	StateRunning
	StateStopping
	StateError
	StateRestarting
)

func (s WorkerState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	case StateRestarting:
		return "restarting"
	default:
		return "stopped"
	}
}

// HealthConfig carries the thresholds driving restart decisions. The
// supervisor gives every worker DefaultHealthConfig, whose values match
// settings.Defaults()'s [supervisor] table; that table is not read.
type HealthConfig struct {
	MissedHeartbeatThreshold int
	MaxRestartsPerWindow     int
	RestartWindow            time.Duration
	BusyTimeout              time.Duration
	RestartBackoffBase       time.Duration
	RestartBackoffMax        time.Duration
}

// DefaultHealthConfig matches the original's HealthStatus class
// constants: 5 missed heartbeats, 5 restarts per 5 minute window, and a
// 30 second busy-timeout safety valve.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		MissedHeartbeatThreshold: 5,
		MaxRestartsPerWindow:     5,
		RestartWindow:            5 * time.Minute,
		BusyTimeout:              30 * time.Second,
		RestartBackoffBase:       time.Second,
		RestartBackoffMax:        30 * time.Second,
	}
}

// Health tracks one worker process's liveness and restart history.
type Health struct {
	mu sync.Mutex

	cfg HealthConfig

	PID               int
	State             WorkerState
	LastHeartbeat     time.Time
	MissedHeartbeats  int
	RestartCount      int
	LastRestart       time.Time
	ErrorMessage      string
	IsBusy            bool
	BusySince         time.Time
}

// NewHealth constructs a Health tracker with the given config.
func NewHealth(cfg HealthConfig) *Health {
	return &Health{cfg: cfg, State: StateStopped}
}

// RecordHeartbeat marks a heartbeat as received, resetting the missed
// count.
func (h *Health) RecordHeartbeat() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LastHeartbeat = time.Now()
	h.MissedHeartbeats = 0
}

// RecordMissedHeartbeat increments the missed-heartbeat counter, unless
// the worker currently reports itself busy — heartbeat accounting is
// suppressed while busy exactly as in the original.
func (h *Health) RecordMissedHeartbeat() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.IsBusy {
		return
	}
	h.MissedHeartbeats++
}

// SetBusy marks the worker as busy or idle, resetting missed-heartbeat
// accounting on entry to busy (mirrors HealthStatus.set_busy).
func (h *Health) SetBusy(busy bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.IsBusy = busy
	if busy {
		h.BusySince = time.Now()
		h.MissedHeartbeats = 0
	} else {
		h.BusySince = time.Time{}
	}
}

// IsHealthy reports whether the worker is considered healthy: running,
// and either busy (heartbeat accounting suppressed) or under the missed
// heartbeat threshold.
func (h *Health) IsHealthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.State != StateRunning {
		return false
	}
	if h.IsBusy {
		return true
	}
	return h.MissedHeartbeats < h.cfg.MissedHeartbeatThreshold
}

// ShouldRestart reports whether the supervisor should restart this
// worker now, honoring the busy-timeout safety valve (a worker busy for
// longer than BusyTimeout is treated as stuck, not legitimately slow).
func (h *Health) ShouldRestart() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.State == StateError:
		return h.canRestartLocked()
	case h.IsBusy:
		if time.Since(h.BusySince) > h.cfg.BusyTimeout {
			return h.canRestartLocked()
		}
		return false
	case h.MissedHeartbeats >= h.cfg.MissedHeartbeatThreshold:
		return h.canRestartLocked()
	default:
		return false
	}
}

// CanRestart reports whether the restart budget still allows another
// restart attempt within the current rolling window.
func (h *Health) CanRestart() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.canRestartLocked()
}

func (h *Health) canRestartLocked() bool {
	windowStart := time.Now().Add(-h.cfg.RestartWindow)
	if h.LastRestart.After(windowStart) {
		return h.RestartCount < h.cfg.MaxRestartsPerWindow
	}
	return true
}

// RecordRestart records a restart attempt, resetting the restart count
// if the rolling window has elapsed since the last one.
func (h *Health) RecordRestart() {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	windowStart := now.Add(-h.cfg.RestartWindow)
	if h.LastRestart.Before(windowStart) {
		h.RestartCount = 1
	} else {
		h.RestartCount++
	}
	h.LastRestart = now
}

// RestartBackoff computes the exponential backoff delay before the next
// restart attempt, capped at RestartBackoffMax.
func (h *Health) RestartBackoff() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	shift := h.RestartCount
	if shift > 5 {
		shift = 5
	}
	backoff := h.cfg.RestartBackoffBase * time.Duration(1<<uint(shift))
	if backoff > h.cfg.RestartBackoffMax {
		return h.cfg.RestartBackoffMax
	}
	return backoff
}

// SetState transitions the tracked lifecycle state.
func (h *Health) SetState(s WorkerState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.State = s
}

// SetPID records the OS process id of the currently running worker.
func (h *Health) SetPID(pid int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.PID = pid
}

// Snapshot returns a point-in-time copy of the health record for
// diagnostics.
type Snapshot struct {
	PID              int
	State            string
	LastHeartbeat    time.Time
	MissedHeartbeats int
	RestartCount     int
	IsHealthy        bool
	IsBusy           bool
}

func (h *Health) Snapshot() Snapshot {
	h.mu.Lock()
	state := h.State
	pid := h.PID
	lastHB := h.LastHeartbeat
	missed := h.MissedHeartbeats
	restarts := h.RestartCount
	busy := h.IsBusy
	h.mu.Unlock()
	return Snapshot{
		PID: pid, State: state.String(), LastHeartbeat: lastHB,
		MissedHeartbeats: missed, RestartCount: restarts,
		IsHealthy: h.IsHealthy(), IsBusy: busy,
	}
}
