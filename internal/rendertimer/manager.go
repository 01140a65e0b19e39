package rendertimer

import (
	"sync"

	"github.com/auroraframe/screensaver/internal/logx"
	"github.com/auroraframe/screensaver/internal/threadmgr"
)

// Manager owns one Timer per display, keyed by display index.
type Manager struct {
	mu     sync.Mutex
	timers map[int]*Timer
	cfg    Config
	tm     *threadmgr.Manager
	log    *logx.Logger
}

// NewManager constructs a timer manager sharing a single ThreadManager
// across every display's timer.
func NewManager(cfg Config, tm *threadmgr.Manager, log *logx.Logger) *Manager {
	return &Manager{
		timers: make(map[int]*Timer),
		cfg:    cfg,
		tm:     tm,
		log:    log,
	}
}

// TimerFor returns (creating if necessary) the Timer for displayIndex.
func (m *Manager) TimerFor(displayIndex int, onFrame func()) *Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[displayIndex]
	if !ok {
		t = New(displayIndex, m.cfg, onFrame, m.tm, m.log)
		m.timers[displayIndex] = t
	}
	return t
}

// StopAll halts every display's timer.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.timers {
		t.Stop()
	}
}
