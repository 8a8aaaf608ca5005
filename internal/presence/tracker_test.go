package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-sync/internal/clock"
	"github.com/ariefcatur/go-realtime-sync/internal/errs"
	"github.com/ariefcatur/go-realtime-sync/internal/memfeed"
	"github.com/ariefcatur/go-realtime-sync/internal/model"
	"github.com/ariefcatur/go-realtime-sync/internal/realtime"
)

type fakeStore struct {
	mu      sync.Mutex
	writes  []model.PresenceRecord
	initial []model.PresenceRecord
	failW   error
	failL   error
}

func (s *fakeStore) UpsertPresence(ctx context.Context, rec model.PresenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failW != nil {
		return s.failW
	}
	s.writes = append(s.writes, rec)
	return nil
}

func (s *fakeStore) ListPresence(ctx context.Context) ([]model.PresenceRecord, error) {
	return s.initial, s.failL
}

func (s *fakeStore) last() model.PresenceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[len(s.writes)-1]
}

func startTracker(t *testing.T, store *fakeStore) (*Tracker, *memfeed.Hub, *clock.Fake) {
	hub := memfeed.NewHub()
	clk := clock.NewFake(time.Unix(1000, 0))
	tr := NewTracker(realtime.NewManager(hub, zap.NewNop()), store, clk, zap.NewNop(), Config{UserID: "me"})
	return tr, hub, clk
}

func publish(t *testing.T, hub *memfeed.Hub, op realtime.Op, rec model.PresenceRecord) {
	raw, err := realtime.Encode[model.PresenceRecord](op, model.TablePresence, rec, nil, rec.LastSeenAt)
	assert.Equal(t, nil, err)
	_ = hub.Publish(context.Background(), raw)
}

func TestTrackerStartGoesOnline(t *testing.T) {
	store := &fakeStore{initial: []model.PresenceRecord{{UserID: "bob", Status: model.StatusAway, LastSeenAt: time.Unix(900, 0)}}}
	tr, _, _ := startTracker(t, store)

	assert.Equal(t, nil, tr.Start(context.Background()))
	assert.Equal(t, true, tr.IsConnected())
	assert.Equal(t, false, tr.IsLoading())
	assert.Equal(t, model.StatusOnline, store.last().Status)
	assert.Equal(t, []string{"me"}, tr.OnlineUsers())
	assert.Equal(t, 2, len(tr.Records()))
}

func TestTrackerAutoAwayIsPersisted(t *testing.T) {
	store := &fakeStore{}
	tr, _, clk := startTracker(t, store)
	_ = tr.Start(context.Background())

	clk.Advance(5 * time.Minute)
	assert.Equal(t, model.StatusAway, store.last().Status)
	r, _ := tr.Record("me")
	assert.Equal(t, model.StatusAway, r.Status)

	tr.Touch(ActivityKey)
	assert.Equal(t, model.StatusOnline, store.last().Status)
}

func TestTrackerMergesMonotonically(t *testing.T) {
	store := &fakeStore{}
	tr, hub, _ := startTracker(t, store)
	_ = tr.Start(context.Background())

	publish(t, hub, realtime.OpUpdate, model.PresenceRecord{UserID: "bob", Status: model.StatusOnline, LastSeenAt: time.Unix(2000, 0)})
	publish(t, hub, realtime.OpUpdate, model.PresenceRecord{UserID: "bob", Status: model.StatusOffline, LastSeenAt: time.Unix(1500, 0)})
	r, ok := tr.Record("bob")
	assert.Equal(t, true, ok)
	assert.Equal(t, model.StatusOnline, r.Status)

	publish(t, hub, realtime.OpUpdate, model.PresenceRecord{UserID: "bob", Status: model.StatusBusy, LastSeenAt: time.Unix(2100, 0)})
	r, _ = tr.Record("bob")
	assert.Equal(t, model.StatusBusy, r.Status)

	publish(t, hub, realtime.OpDelete, model.PresenceRecord{UserID: "bob", LastSeenAt: time.Unix(2100, 0)})
	_, ok = tr.Record("bob")
	assert.Equal(t, false, ok)
}

func TestTrackerWriteErrorReturnedAndStored(t *testing.T) {
	store := &fakeStore{}
	tr, _, _ := startTracker(t, store)
	_ = tr.Start(context.Background())

	store.failW = errors.New("rls denied")
	err := tr.GoBusy(context.Background())
	assert.Equal(t, true, errs.Is(err, errs.KindWrite))
	assert.Equal(t, true, errs.Is(tr.Err(), errs.KindWrite))
}

func TestTrackerLoadErrorIsStoredOnly(t *testing.T) {
	store := &fakeStore{failL: errors.New("timeout")}
	tr, _, _ := startTracker(t, store)
	assert.Equal(t, nil, tr.Start(context.Background()))
	assert.Equal(t, true, errs.Is(tr.Err(), errs.KindConnection))
}

func TestTrackerCloseWritesOfflineOnce(t *testing.T) {
	store := &fakeStore{}
	tr, hub, clk := startTracker(t, store)
	_ = tr.Start(context.Background())

	assert.Equal(t, nil, tr.Close())
	assert.Equal(t, model.StatusOffline, store.last().Status)
	n := len(store.writes)
	assert.Equal(t, nil, tr.Close())
	clk.Advance(time.Hour)
	assert.Equal(t, n, len(store.writes))
	assert.Equal(t, 0, hub.Subscribers(ChannelKey))
}

func TestTrackerOnlyMirrorsWatchedUsers(t *testing.T) {
	hub := memfeed.NewHub()
	store := &fakeStore{}
	tr := NewTracker(realtime.NewManager(hub, zap.NewNop()), store, clock.NewFake(time.Unix(1000, 0)), zap.NewNop(),
		Config{UserID: "me", Only: []string{"driver-1"}})
	_ = tr.Start(context.Background())

	publish(t, hub, realtime.OpInsert, model.PresenceRecord{UserID: "driver-1", Status: model.StatusOnline, LastSeenAt: time.Unix(1001, 0)})
	publish(t, hub, realtime.OpInsert, model.PresenceRecord{UserID: "driver-2", Status: model.StatusOnline, LastSeenAt: time.Unix(1001, 0)})
	assert.Equal(t, []string{"driver-1", "me"}, tr.OnlineUsers())
}
