package chat

import (
	"sync"
	"time"
)

// Monitor tracks the connection history of a session.
type Monitor struct {
	mu sync.RWMutex

	initialConnectionAt time.Time
	lastDisconnectAt    time.Time
	downtime            time.Duration
	disconnects         int
	reconnects          int
}

// MonitorSnapshot is a point-in-time copy of the connection history.
type MonitorSnapshot struct {
	// InitialConnectionAt is when the first socket connection succeeded.
	InitialConnectionAt time.Time
	// LastDisconnectAt is when the most recent break began.
	LastDisconnectAt time.Time
	// Downtime is the cumulative time spent disconnected.
	Downtime    time.Duration
	Disconnects int
	Reconnects  int
}

// Snapshot returns a copy of the current counters.
func (m *Monitor) Snapshot() MonitorSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MonitorSnapshot{
		InitialConnectionAt: m.initialConnectionAt,
		LastDisconnectAt:    m.lastDisconnectAt,
		Downtime:            m.downtime,
		Disconnects:         m.disconnects,
		Reconnects:          m.reconnects,
	}
}

func (m *Monitor) connected(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialConnectionAt.IsZero() {
		m.initialConnectionAt = now
	}
}

func (m *Monitor) disconnected(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastDisconnectAt = now
	m.disconnects++
}

// reconnected records a successful reconnect and returns the downtime of the
// break that just ended.
func (m *Monitor) reconnected(now time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnects++
	if m.lastDisconnectAt.IsZero() {
		return 0
	}
	downtime := now.Sub(m.lastDisconnectAt)
	if downtime < 0 {
		downtime = 0
	}
	m.downtime += downtime
	return downtime
}

// lastDisconnect returns when the current break began.
func (m *Monitor) lastDisconnect() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastDisconnectAt
}
