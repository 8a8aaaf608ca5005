package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-sync/internal/clock"
	"github.com/ariefcatur/go-realtime-sync/internal/errs"
	"github.com/ariefcatur/go-realtime-sync/internal/model"
	"github.com/ariefcatur/go-realtime-sync/internal/realtime"
)

const ChannelKey = "presence"

type Store interface {
	UpsertPresence(ctx context.Context, rec model.PresenceRecord) error
	ListPresence(ctx context.Context) ([]model.PresenceRecord, error)
}

type Config struct {
	UserID            string
	InactivityTimeout time.Duration
	// WriteTimeout bounds writes the machine makes on its own and the
	// final offline write on Close.
	WriteTimeout time.Duration
	// Only limits mirrored records to these users, plus the local one.
	// Empty mirrors everyone.
	Only []string
}

// Tracker drives the local user's Machine, persists its transitions and
// mirrors every user's record from the user_presence feed.
type Tracker struct {
	cfg     Config
	store   Store
	mgr     *realtime.Manager
	log     *zap.Logger
	machine *Machine

	mu      sync.Mutex
	handle  *realtime.Handle
	records map[string]model.PresenceRecord
	only    map[string]bool
	loading bool
	err     error
	closed  bool
}

func NewTracker(mgr *realtime.Manager, store Store, clk clock.Clock, log *zap.Logger, cfg Config) *Tracker {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	t := &Tracker{
		cfg:     cfg,
		store:   store,
		mgr:     mgr,
		log:     log.With(zap.String("user", cfg.UserID)),
		records: map[string]model.PresenceRecord{},
	}
	if len(cfg.Only) > 0 {
		t.only = map[string]bool{cfg.UserID: true}
		for _, id := range cfg.Only {
			t.only[id] = true
		}
	}
	t.machine = NewMachine(cfg.UserID, clk, cfg.InactivityTimeout, t.onTransition)
	return t
}

// Start subscribes to the presence feed, loads the current records and
// puts the local user online. A failed subscribe or load is stored; only
// the online write is returned.
func (t *Tracker) Start(ctx context.Context) error {
	h, err := t.mgr.Open(ctx, ChannelKey, []realtime.Filter{realtime.TableFilter(model.TablePresence)},
		realtime.WithConsumer(realtime.Typed(t.log, t.handleChange)))
	t.mu.Lock()
	t.handle = h
	if err != nil {
		t.err = err
	}
	t.loading = true
	t.mu.Unlock()

	recs, lerr := t.store.ListPresence(ctx)
	t.mu.Lock()
	t.loading = false
	if lerr != nil {
		t.err = errs.Connection("list presence", lerr)
	}
	t.mu.Unlock()
	for _, r := range recs {
		t.merge(r)
	}
	if lerr != nil {
		t.log.Warn("presence load failed", zap.Error(lerr))
	}
	return t.GoOnline(ctx)
}

func (t *Tracker) GoOnline(ctx context.Context) error {
	rec, changed := t.machine.GoOnline()
	return t.persist(ctx, rec, changed)
}

func (t *Tracker) GoBusy(ctx context.Context) error {
	rec, changed := t.machine.GoBusy()
	return t.persist(ctx, rec, changed)
}

func (t *Tracker) GoOffline(ctx context.Context) error {
	rec, changed := t.machine.GoOffline()
	return t.persist(ctx, rec, changed)
}

// Touch reports local user activity.
func (t *Tracker) Touch(a Activity) { t.machine.Touch(a) }

func (t *Tracker) Status() model.PresenceStatus { return t.machine.Status() }

func (t *Tracker) persist(ctx context.Context, rec model.PresenceRecord, changed bool) error {
	if !changed {
		return nil
	}
	t.merge(rec)
	if err := t.store.UpsertPresence(ctx, rec); err != nil {
		werr := errs.Write("upsert presence", err)
		t.setErr(werr)
		return werr
	}
	return nil
}

// onTransition persists moves the machine made itself. It runs on the
// timer goroutine or the caller of Touch.
func (t *Tracker) onTransition(rec model.PresenceRecord) {
	if t.isClosed() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.WriteTimeout)
	defer cancel()
	t.merge(rec)
	if err := t.store.UpsertPresence(ctx, rec); err != nil {
		t.log.Warn("presence write failed", zap.String("status", string(rec.Status)), zap.Error(err))
		if !t.isClosed() {
			t.setErr(errs.Write("upsert presence", err))
		}
	}
}

func (t *Tracker) handleChange(ev realtime.ChangeEvent[model.PresenceRecord]) {
	if ev.Op == realtime.OpDelete {
		t.mu.Lock()
		delete(t.records, ev.Entity.UserID)
		t.mu.Unlock()
		return
	}
	t.merge(ev.Entity)
}

// merge keeps a record only if it is not older than the one held.
func (t *Tracker) merge(rec model.PresenceRecord) bool {
	if rec.UserID == "" || (t.only != nil && !t.only[rec.UserID]) {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	if cur, ok := t.records[rec.UserID]; ok && rec.LastSeenAt.Before(cur.LastSeenAt) {
		return false
	}
	t.records[rec.UserID] = rec
	return true
}

func (t *Tracker) Record(userID string) (model.PresenceRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[userID]
	return r, ok
}

// Records returns every known record ordered by user id.
func (t *Tracker) Records() []model.PresenceRecord {
	t.mu.Lock()
	out := make([]model.PresenceRecord, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, r)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (t *Tracker) OnlineUsers() []string {
	var ids []string
	for _, r := range t.Records() {
		if r.Status == model.StatusOnline {
			ids = append(ids, r.UserID)
		}
	}
	return ids
}

func (t *Tracker) IsConnected() bool {
	t.mu.Lock()
	h := t.handle
	t.mu.Unlock()
	return h != nil && h.Connected()
}

func (t *Tracker) IsLoading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loading
}

// Err returns the last stored error, falling back to the channel's own.
func (t *Tracker) Err() error {
	t.mu.Lock()
	err, h := t.err, t.handle
	t.mu.Unlock()
	if err == nil && h != nil {
		return h.Err()
	}
	return err
}

// Close marks the local user offline and releases the channel. It is safe
// to call more than once.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	h := t.handle
	t.mu.Unlock()

	var werr error
	if rec, changed := t.machine.Stop(); changed {
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.WriteTimeout)
		if err := t.store.UpsertPresence(ctx, rec); err != nil {
			werr = errs.Write("upsert presence", err)
			t.log.Warn("offline write failed", zap.Error(err))
		}
		cancel()
	}
	if h != nil {
		if err := h.Close(); err != nil && werr == nil {
			werr = err
		}
	}
	return werr
}

func (t *Tracker) setErr(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

func (t *Tracker) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
