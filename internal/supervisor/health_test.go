package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testHealthConfig() HealthConfig {
	return HealthConfig{
		MissedHeartbeatThreshold: 3,
		MaxRestartsPerWindow:     2,
		RestartWindow:            100 * time.Millisecond,
		BusyTimeout:              30 * time.Millisecond,
		RestartBackoffBase:       time.Millisecond,
		RestartBackoffMax:        10 * time.Millisecond,
	}
}

func TestHealthRecoversBelowThreshold(t *testing.T) {
	h := NewHealth(testHealthConfig())
	h.SetState(StateRunning)
	h.RecordMissedHeartbeat()
	h.RecordMissedHeartbeat()
	assert.True(t, h.IsHealthy(), "2 missed heartbeats is still under the threshold of 3")

	h.RecordHeartbeat()
	assert.True(t, h.IsHealthy())
	assert.Equal(t, 0, h.MissedHeartbeats)
}

func TestHealthShouldRestartAtThreshold(t *testing.T) {
	h := NewHealth(testHealthConfig())
	h.SetState(StateRunning)
	for i := 0; i < 3; i++ {
		h.RecordMissedHeartbeat()
	}
	assert.True(t, h.ShouldRestart())
	assert.False(t, h.IsHealthy())
}

func TestHealthBusySuppressesMissedHeartbeats(t *testing.T) {
	h := NewHealth(testHealthConfig())
	h.SetState(StateRunning)
	h.SetBusy(true)
	for i := 0; i < 10; i++ {
		h.RecordMissedHeartbeat()
	}
	assert.Equal(t, 0, h.MissedHeartbeats)
	assert.False(t, h.ShouldRestart())
}

func TestHealthBusyTooLongIsHung(t *testing.T) {
	h := NewHealth(testHealthConfig())
	h.SetState(StateRunning)
	h.SetBusy(true)
	time.Sleep(40 * time.Millisecond)
	assert.True(t, h.ShouldRestart())
}

func TestHealthRestartBudget(t *testing.T) {
	h := NewHealth(testHealthConfig())
	h.SetState(StateError)

	assert.True(t, h.CanRestart())
	h.RecordRestart()
	assert.True(t, h.CanRestart())
	h.RecordRestart()
	assert.False(t, h.CanRestart(), "restart budget of 2 within the window should be exhausted")

	time.Sleep(110 * time.Millisecond)
	assert.True(t, h.CanRestart(), "restart budget should reset once the rolling window elapses")
}

func TestHealthRestartBackoffDoublesAndCaps(t *testing.T) {
	cfg := testHealthConfig()
	cfg.RestartBackoffBase = time.Millisecond
	cfg.RestartBackoffMax = 16 * time.Millisecond
	h := NewHealth(cfg)

	h.RecordRestart() // RestartCount=1
	assert.Equal(t, 2*time.Millisecond, h.RestartBackoff())
	h.RecordRestart() // RestartCount=2
	assert.Equal(t, 4*time.Millisecond, h.RestartBackoff())

	for i := 0; i < 5; i++ {
		h.RecordRestart()
	}
	assert.Equal(t, 16*time.Millisecond, h.RestartBackoff(), "backoff must not exceed the configured max")
}
