// Package location samples a driver's position on an interval, persists
// every sample and keeps a short local trail for distance and ETA.
package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-sync/internal/clock"
	"github.com/ariefcatur/go-realtime-sync/internal/errs"
	"github.com/ariefcatur/go-realtime-sync/internal/model"
	"github.com/ariefcatur/go-realtime-sync/internal/realtime"
)

const (
	DefaultInterval     = 10 * time.Second
	DefaultFallbackKmh  = 25.0
	DefaultWriteTimeout = 5 * time.Second
)

// Store returns RecentLocations newest first.
type Store interface {
	InsertLocation(ctx context.Context, s model.LocationSample) error
	RecentLocations(ctx context.Context, deliveryID string, limit int) ([]model.LocationSample, error)
}

type Config struct {
	DeliveryID string
	DriverID   string
	Interval   time.Duration
	BufferSize int
	// FallbackKmh is used for ETA when the latest sample has no speed.
	FallbackKmh float64
}

// ChannelKey is the channel a delivery's trail is published on.
func ChannelKey(deliveryID string) string { return "delivery:" + deliveryID }

type Tracker struct {
	cfg   Config
	src   Source
	store Store
	mgr   *realtime.Manager
	clk   clock.Clock
	log   *zap.Logger
	ring  *Ring

	mu       sync.Mutex
	handle   *realtime.Handle
	timer    clock.Timer
	gen      uint64
	tracking bool
	watching bool
	closed   bool
	err      error
}

func NewTracker(src Source, store Store, mgr *realtime.Manager, clk clock.Clock, log *zap.Logger, cfg Config) *Tracker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.FallbackKmh <= 0 {
		cfg.FallbackKmh = DefaultFallbackKmh
	}
	return &Tracker{
		cfg:   cfg,
		src:   src,
		store: store,
		mgr:   mgr,
		clk:   clk,
		log:   log.With(zap.String("delivery", cfg.DeliveryID)),
		ring:  NewRing(cfg.BufferSize),
	}
}

// Watch subscribes to the delivery's trail and loads its recent samples
// without sampling. Restaurants and admins use this to follow a driver.
// The trail is opened once; later calls and calls after Close do nothing.
func (t *Tracker) Watch(ctx context.Context) {
	t.mu.Lock()
	if t.closed || t.watching {
		t.mu.Unlock()
		return
	}
	t.watching = true
	t.mu.Unlock()

	h, err := t.mgr.Open(ctx, ChannelKey(t.cfg.DeliveryID),
		[]realtime.Filter{realtime.Eq(model.TableLocations, "delivery_id", t.cfg.DeliveryID)},
		realtime.WithConsumer(realtime.Typed(t.log, t.handleChange)))
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = h.Close()
		return
	}
	t.handle = h
	if err != nil {
		t.err = err
	}
	t.mu.Unlock()

	recent, err := t.store.RecentLocations(ctx, t.cfg.DeliveryID, len(t.ring.buf))
	if err != nil {
		t.setErr(errs.Connection("recent locations", err))
		return
	}
	for i := len(recent) - 1; i >= 0; i-- {
		t.ring.Add(recent[i])
	}
}

// Start watches the trail, takes one sample right away and then keeps
// sampling every interval until Stop. A permission failure on the first
// sample is returned.
func (t *Tracker) Start(ctx context.Context) error {
	t.Watch(ctx)

	t.mu.Lock()
	if t.closed || t.tracking {
		t.mu.Unlock()
		return nil
	}
	t.tracking = true
	t.mu.Unlock()

	err := t.Sample(ctx)
	if errs.Is(err, errs.KindPermission) {
		return err
	}
	t.mu.Lock()
	t.armLocked()
	t.mu.Unlock()
	return nil
}

func (t *Tracker) handleChange(ev realtime.ChangeEvent[model.LocationSample]) {
	if ev.Op != realtime.OpInsert || ev.Entity.DeliveryID != t.cfg.DeliveryID {
		return
	}
	t.ring.Add(ev.Entity)
}

// Sample reads one position and persists it. Permission errors stop the
// session for good.
func (t *Tracker) Sample(ctx context.Context) error {
	fix, err := t.src.Read(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrUnavailable) {
			perr := errs.Permission("read location", err)
			t.log.Warn("location tracking stopped", zap.Error(err))
			t.mu.Lock()
			t.err = perr
			t.tracking = false
			t.disarmLocked()
			t.mu.Unlock()
			return perr
		}
		t.log.Debug("location read failed", zap.Error(err))
		return err
	}

	s := model.LocationSample{
		ID:         ulid.Make().String(),
		DeliveryID: t.cfg.DeliveryID,
		DriverID:   t.cfg.DriverID,
		Latitude:   fix.Lat,
		Longitude:  fix.Lon,
		Accuracy:   fix.Accuracy,
		Heading:    fix.Heading,
		RecordedAt: fix.At,
	}
	if s.RecordedAt.IsZero() {
		s.RecordedAt = t.clk.Now()
	}
	if fix.SpeedMps != nil {
		kmh := MpsToKmh(*fix.SpeedMps)
		s.Speed = &kmh
	}

	werr := t.store.InsertLocation(ctx, s)
	if t.isClosed() {
		return nil
	}
	if werr != nil {
		werr = errs.Write("insert location", werr)
		t.setErr(werr)
		t.ring.Add(s)
		return werr
	}
	if !t.IsConnected() {
		// no echo is coming
		t.ring.Add(s)
	}
	return nil
}

func (t *Tracker) tick(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.tracking || t.closed {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), DefaultWriteTimeout)
	err := t.Sample(ctx)
	cancel()
	if err != nil && !errs.Is(err, errs.KindPermission) {
		t.log.Debug("sample failed", zap.Error(err))
	}

	t.mu.Lock()
	if gen == t.gen && t.tracking && !t.closed {
		t.armLocked()
	}
	t.mu.Unlock()
}

func (t *Tracker) armLocked() {
	t.disarmLocked()
	gen := t.gen
	t.timer = t.clk.AfterFunc(t.cfg.Interval, func() { t.tick(gen) })
}

func (t *Tracker) disarmLocked() {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Stop ends sampling but keeps following the trail.
func (t *Tracker) Stop() {
	t.mu.Lock()
	t.tracking = false
	t.disarmLocked()
	t.mu.Unlock()
}

func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.tracking = false
	t.disarmLocked()
	h := t.handle
	t.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Close()
}

func (t *Tracker) Samples() []model.LocationSample { return t.ring.Samples() }

func (t *Tracker) Latest() (model.LocationSample, bool) { return t.ring.Latest() }

// DistanceTo returns meters from the latest sample to dest.
func (t *Tracker) DistanceTo(dest Point) (float64, bool) {
	s, ok := t.ring.Latest()
	if !ok {
		return 0, false
	}
	return Haversine(Point{Lat: s.Latitude, Lon: s.Longitude}, dest), true
}

// DistanceTravelled sums the trail held locally, in meters.
func (t *Tracker) DistanceTravelled() float64 {
	samples := t.ring.Samples()
	var d float64
	for i := 1; i < len(samples); i++ {
		d += Haversine(
			Point{Lat: samples[i-1].Latitude, Lon: samples[i-1].Longitude},
			Point{Lat: samples[i].Latitude, Lon: samples[i].Longitude},
		)
	}
	return d
}

// ETA estimates the time to dest at the latest reported speed, or the
// fallback speed when the driver is stopped or speed is unknown.
func (t *Tracker) ETA(dest Point) (time.Duration, bool) {
	s, ok := t.ring.Latest()
	if !ok {
		return 0, false
	}
	kmh := t.cfg.FallbackKmh
	if s.Speed != nil && *s.Speed > 1 {
		kmh = *s.Speed
	}
	meters := Haversine(Point{Lat: s.Latitude, Lon: s.Longitude}, dest)
	secs := meters / KmhToMps(kmh)
	return time.Duration(secs * float64(time.Second)), true
}

func (t *Tracker) IsTracking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tracking
}

func (t *Tracker) IsConnected() bool {
	t.mu.Lock()
	h := t.handle
	t.mu.Unlock()
	return h != nil && h.Connected()
}

func (t *Tracker) Err() error {
	t.mu.Lock()
	err, h := t.err, t.handle
	t.mu.Unlock()
	if err == nil && h != nil {
		return h.Err()
	}
	return err
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
