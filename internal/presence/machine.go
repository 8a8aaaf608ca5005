// Package presence tracks the local user's online/away/busy/offline status
// and mirrors every other tracked user's record from the change feed.
package presence

import (
	"sync"
	"time"

	"github.com/ariefcatur/go-realtime-sync/internal/clock"
	"github.com/ariefcatur/go-realtime-sync/internal/model"
)

const DefaultInactivityTimeout = 5 * time.Minute

type Activity string

const (
	ActivityPointer Activity = "pointer"
	ActivityKey     Activity = "key"
	ActivityScroll  Activity = "scroll"
	ActivityTouch   Activity = "touch"
)

// Machine is the local user's presence state. Explicit calls return the
// resulting record; transitions the machine makes on its own (inactivity,
// activity while away) are handed to onTransition outside the lock.
type Machine struct {
	userID       string
	clk          clock.Clock
	timeout      time.Duration
	onTransition func(model.PresenceRecord)

	mu       sync.Mutex
	status   model.PresenceStatus
	lastSeen time.Time
	timer    clock.Timer
	gen      uint64
	stopped  bool
}

func NewMachine(userID string, clk clock.Clock, timeout time.Duration, onTransition func(model.PresenceRecord)) *Machine {
	if timeout <= 0 {
		timeout = DefaultInactivityTimeout
	}
	return &Machine{
		userID:       userID,
		clk:          clk,
		timeout:      timeout,
		onTransition: onTransition,
		status:       model.StatusOffline,
	}
}

func (m *Machine) Record() model.PresenceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordLocked()
}

func (m *Machine) Status() model.PresenceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// GoOnline also refreshes lastSeenAt when already online.
func (m *Machine) GoOnline() (model.PresenceRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return m.recordLocked(), false
	}
	m.moveLocked(model.StatusOnline)
	m.armLocked()
	return m.recordLocked(), true
}

// Touch records user activity. It resets the inactivity timer and brings
// an away user back online. Busy and offline users are unaffected.
func (m *Machine) Touch(Activity) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	switch m.status {
	case model.StatusOnline:
		m.armLocked()
		m.mu.Unlock()
	case model.StatusAway:
		m.moveLocked(model.StatusOnline)
		m.armLocked()
		rec := m.recordLocked()
		m.mu.Unlock()
		m.emit(rec)
	default:
		m.mu.Unlock()
	}
}

func (m *Machine) GoBusy() (model.PresenceRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.explicitLocked(model.StatusBusy)
}

func (m *Machine) GoOffline() (model.PresenceRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.explicitLocked(model.StatusOffline)
}

// Stop moves to offline and disarms the machine for good.
func (m *Machine) Stop() (model.PresenceRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, changed := m.explicitLocked(model.StatusOffline)
	m.disarmLocked()
	m.stopped = true
	return rec, changed
}

func (m *Machine) explicitLocked(to model.PresenceStatus) (model.PresenceRecord, bool) {
	if m.stopped || !model.CanTransition(m.status, to) {
		return m.recordLocked(), false
	}
	m.disarmLocked()
	m.moveLocked(to)
	return m.recordLocked(), true
}

func (m *Machine) expire(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.stopped || m.status != model.StatusOnline {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.moveLocked(model.StatusAway)
	rec := m.recordLocked()
	m.mu.Unlock()
	m.emit(rec)
}

// moveLocked never lets lastSeenAt go backwards.
func (m *Machine) moveLocked(to model.PresenceStatus) {
	m.status = to
	if now := m.clk.Now(); now.After(m.lastSeen) {
		m.lastSeen = now
	}
}

func (m *Machine) armLocked() {
	m.disarmLocked()
	gen := m.gen
	m.timer = m.clk.AfterFunc(m.timeout, func() { m.expire(gen) })
}

func (m *Machine) disarmLocked() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) recordLocked() model.PresenceRecord {
	return model.PresenceRecord{UserID: m.userID, Status: m.status, LastSeenAt: m.lastSeen}
}

func (m *Machine) emit(rec model.PresenceRecord) {
	if m.onTransition != nil {
		m.onTransition(rec)
	}
}
