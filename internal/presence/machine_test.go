package presence

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/ariefcatur/go-realtime-sync/internal/clock"
	"github.com/ariefcatur/go-realtime-sync/internal/model"
)

func newMachine(clk clock.Clock) (*Machine, *[]model.PresenceRecord) {
	var got []model.PresenceRecord
	m := NewMachine("u1", clk, 0, func(r model.PresenceRecord) { got = append(got, r) })
	return m, &got
}

func TestAwayAfterInactivityThenBackOnline(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	m, got := newMachine(clk)

	_, changed := m.GoOnline()
	assert.Equal(t, true, changed)

	clk.Advance(299999 * time.Millisecond)
	assert.Equal(t, model.StatusOnline, m.Status())

	clk.Advance(time.Millisecond)
	assert.Equal(t, model.StatusAway, m.Status())
	assert.Equal(t, 1, len(*got))
	assert.Equal(t, model.StatusAway, (*got)[0].Status)

	clk.Advance(time.Second)
	m.Touch(ActivityPointer)
	assert.Equal(t, model.StatusOnline, m.Status())
	assert.Equal(t, 2, len(*got))
	assert.Equal(t, true, (*got)[1].LastSeenAt.Equal(time.Unix(301, 0)))
}

func TestActivityResetsTimer(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	m, _ := newMachine(clk)
	m.GoOnline()

	clk.Advance(4 * time.Minute)
	m.Touch(ActivityKey)
	clk.Advance(4 * time.Minute)
	assert.Equal(t, model.StatusOnline, m.Status())
	clk.Advance(time.Minute)
	assert.Equal(t, model.StatusAway, m.Status())
}

func TestBusyIgnoresTimerAndActivity(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	m, got := newMachine(clk)
	m.GoOnline()

	_, changed := m.GoBusy()
	assert.Equal(t, true, changed)
	assert.Equal(t, 0, clk.Pending())

	clk.Advance(time.Hour)
	m.Touch(ActivityScroll)
	assert.Equal(t, model.StatusBusy, m.Status())
	assert.Equal(t, 0, len(*got))
}

func TestIllegalTransitionIsRejected(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	m, _ := newMachine(clk)

	// offline -> offline
	_, changed := m.GoOffline()
	assert.Equal(t, false, changed)

	m.GoOnline()
	clk.Advance(DefaultInactivityTimeout)
	assert.Equal(t, model.StatusAway, m.Status())
	_, changed = m.GoBusy()
	assert.Equal(t, true, changed)
}

func TestLastSeenNeverGoesBack(t *testing.T) {
	clk := clock.NewFake(time.Unix(100, 0))
	m, _ := newMachine(clk)
	m.GoOnline()
	first := m.Record().LastSeenAt

	m.GoBusy()
	m.GoOnline()
	assert.Equal(t, false, m.Record().LastSeenAt.Before(first))
}

func TestStopDisarms(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	m, got := newMachine(clk)
	m.GoOnline()

	rec, changed := m.Stop()
	assert.Equal(t, true, changed)
	assert.Equal(t, model.StatusOffline, rec.Status)
	assert.Equal(t, 0, clk.Pending())

	_, changed = m.GoOnline()
	assert.Equal(t, false, changed)
	m.Touch(ActivityTouch)
	clk.Advance(time.Hour)
	assert.Equal(t, model.StatusOffline, m.Status())
	assert.Equal(t, 0, len(*got))
}
