package state

import (
	"sort"
	"sync"
	"time"
)

const defaultMaxWarnings = 20

// Manager manages device state with thread-safe access.
type Manager struct {
	mu sync.RWMutex

	deviceID  string
	phase     Phase
	startedAt *time.Time

	// Sources with an unresolved problem
	degraded map[string]struct{}

	// Most recent first
	warnings    []Warning
	maxWarnings int
}

// New creates a new state manager.
func New(deviceID string, maxWarnings int) *Manager {
	if maxWarnings <= 0 {
		maxWarnings = defaultMaxWarnings
	}
	return &Manager{
		deviceID:    deviceID,
		phase:       PhaseStarting,
		degraded:    make(map[string]struct{}),
		maxWarnings: maxWarnings,
	}
}

// GetPhase returns the current phase.
func (m *Manager) GetPhase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// GetDeviceID returns the device ID.
func (m *Manager) GetDeviceID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deviceID
}

// MarkStarted moves the device to running, or degraded when a warning is
// already pending.
func (m *Manager) MarkStarted(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startedAt = &at
	m.phase = m.runningPhaseLocked()
}

// MarkStopped moves the device to stopped.
func (m *Manager) MarkStopped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = PhaseStopped
}

// Warn records a warning and marks source as degraded.
func (m *Manager) Warn(source, message string, err error, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := Warning{Source: source, Message: message, At: at}
	if err != nil {
		w.Error = err.Error()
	}
	m.warnings = append([]Warning{w}, m.warnings...)
	if len(m.warnings) > m.maxWarnings {
		m.warnings = m.warnings[:m.maxWarnings]
	}

	m.degraded[source] = struct{}{}
	if m.phase == PhaseRunning {
		m.phase = PhaseDegraded
	}
}

// Recover clears the degraded mark of source. It reports whether the mark
// was set.
func (m *Manager) Recover(source string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.degraded[source]; !ok {
		return false
	}
	delete(m.degraded, source)
	if m.phase == PhaseDegraded {
		m.phase = m.runningPhaseLocked()
	}
	return true
}

func (m *Manager) runningPhaseLocked() Phase {
	if len(m.degraded) > 0 {
		return PhaseDegraded
	}
	return PhaseRunning
}

// Warnings returns recorded warnings, most recent first.
func (m *Manager) Warnings() []Warning {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Warning(nil), m.warnings...)
}

// BuildInfo creates the device state view.
func (m *Manager) BuildInfo() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info := Info{
		DeviceID: m.deviceID,
		Phase:    m.phase,
		Warnings: append([]Warning(nil), m.warnings...),
	}
	if m.startedAt != nil {
		at := *m.startedAt
		info.StartedAt = &at
	}
	for source := range m.degraded {
		info.Degraded = append(info.Degraded, source)
	}
	sort.Strings(info.Degraded)
	return info
}
