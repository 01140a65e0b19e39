// Package settings is a façade over a nested TOML configuration tree,
// with dotted-path lookup and typed convenience getters.
package settings

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Settings wraps a parsed TOML document as a generic map tree.
type Settings struct {
	tree map[string]any
}

// Load parses the TOML file at path into a Settings tree.
func Load(path string) (*Settings, error) {
	var tree map[string]any
	if _, err := toml.DecodeFile(path, &tree); err != nil {
		return nil, err
	}
	return &Settings{tree: tree}, nil
}

// LoadString parses a TOML document from a string, used by tests and by
// Defaults' construction.
func LoadString(doc string) (*Settings, error) {
	var tree map[string]any
	if _, err := toml.Decode(doc, &tree); err != nil {
		return nil, err
	}
	return &Settings{tree: tree}, nil
}

// Get walks key split on '.' through the tree and returns the value
// found there, or fallback if any segment is missing or not a map.
func (s *Settings) Get(key string, fallback any) any {
	if s == nil || s.tree == nil {
		return fallback
	}
	segs := strings.Split(key, ".")
	var cur any = s.tree
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return fallback
		}
		v, ok := m[seg]
		if !ok {
			return fallback
		}
		cur = v
	}
	return cur
}

// GetString returns the string at key, or fallback.
func (s *Settings) GetString(key, fallback string) string {
	if v, ok := s.Get(key, nil).(string); ok {
		return v
	}
	return fallback
}

// GetBool returns the bool at key, or fallback.
func (s *Settings) GetBool(key string, fallback bool) bool {
	if v, ok := s.Get(key, nil).(bool); ok {
		return v
	}
	return fallback
}

// GetInt returns the int at key, or fallback. TOML integers decode as
// int64 into map[string]any, so both are accepted.
func (s *Settings) GetInt(key string, fallback int) int {
	switch v := s.Get(key, nil).(type) {
	case int64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

// GetDuration returns the value at key interpreted as milliseconds and
// converted to a time.Duration, or fallback.
func (s *Settings) GetDuration(key string, fallback time.Duration) time.Duration {
	switch v := s.Get(key, nil).(type) {
	case int64:
		return time.Duration(v) * time.Millisecond
	case int:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v * float64(time.Millisecond))
	default:
		return fallback
	}
}

// GetFloat returns the float64 at key, or fallback.
func (s *Settings) GetFloat(key string, fallback float64) float64 {
	switch v := s.Get(key, nil).(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return fallback
	}
}

// Defaults returns a Settings tree pre-populated with every canonical
// default this module relies on, sourced from the original worker
// tuning table (core/process/tuning.py): per-worker-kind queue depths,
// backpressure policy, and latency targets, plus the heartbeat/restart
// thresholds and shared render-timer defaults named elsewhere in the
// spec.
func Defaults() *Settings {
	s, err := LoadString(defaultsTOML)
	if err != nil {
		// The embedded defaults document is a compile-time constant;
		// a parse failure here is a programmer error, not a runtime one.
		panic("settings: invalid embedded defaults: " + err.Error())
	}
	return s
}

const defaultsTOML = `
[worker.image]
request_queue_size = 32
response_queue_size = 16
backpressure_policy = "drop_old"
target_latency_ms = 100
max_latency_ms = 500
poll_timeout_ms = 10
heartbeat_interval_ms = 5000
heartbeat_timeout_ms = 15000
max_restart_attempts = 3
restart_backoff_base_ms = 1000
restart_backoff_max_ms = 30000

[worker.rss]
request_queue_size = 16
response_queue_size = 32
backpressure_policy = "drop_old"
target_latency_ms = 1000
max_latency_ms = 10000
poll_timeout_ms = 10
heartbeat_interval_ms = 5000
heartbeat_timeout_ms = 15000
max_restart_attempts = 3
restart_backoff_base_ms = 1000
restart_backoff_max_ms = 30000

[worker.fft]
request_queue_size = 128
response_queue_size = 64
backpressure_policy = "drop_old"
target_latency_ms = 16
max_latency_ms = 33
poll_timeout_ms = 5
heartbeat_interval_ms = 5000
heartbeat_timeout_ms = 15000
max_restart_attempts = 3
restart_backoff_base_ms = 1000
restart_backoff_max_ms = 30000

[worker.transition]
request_queue_size = 8
response_queue_size = 8
backpressure_policy = "drop_new"
target_latency_ms = 200
max_latency_ms = 1000
poll_timeout_ms = 10
heartbeat_interval_ms = 5000
heartbeat_timeout_ms = 15000
max_restart_attempts = 3
restart_backoff_base_ms = 1000
restart_backoff_max_ms = 30000

[supervisor]
missed_heartbeat_threshold = 5
max_restarts_per_window = 5
restart_window_seconds = 300
busy_timeout_seconds = 30

[rendertimer]
target_fps = 60
min_frame_time_ms = 8.0
idle_timeout_sec = 5.0
max_deep_sleep_sec = 60.0

[transitions]
duration_ms = 1200

[barrier]
wait_timeout_ms = 2000
`
