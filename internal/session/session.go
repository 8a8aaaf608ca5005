// Package session wires the sync modules for one signed-in user. The role
// is checked once here; modules never branch on it.
package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-sync/internal/alerts"
	"github.com/ariefcatur/go-realtime-sync/internal/chat"
	"github.com/ariefcatur/go-realtime-sync/internal/clock"
	"github.com/ariefcatur/go-realtime-sync/internal/errs"
	"github.com/ariefcatur/go-realtime-sync/internal/location"
	"github.com/ariefcatur/go-realtime-sync/internal/presence"
	"github.com/ariefcatur/go-realtime-sync/internal/realtime"
	"github.com/ariefcatur/go-realtime-sync/internal/roles"
	"github.com/ariefcatur/go-realtime-sync/internal/typing"
)

type Stores struct {
	Chat      chat.Store
	Presence  presence.Store
	Inventory alerts.Store
	Locations location.Store
}

type Config struct {
	Role   roles.Role
	UserID string

	InactivityTimeout time.Duration
	TypingAutoStop    time.Duration
	TypingSafety      time.Duration
	HistoryPageSize   int
	LowStockThreshold int
	LocationInterval  time.Duration
	LocationBuffer    int
	// PresencePeers limits presence mirroring for roles that may not see
	// everyone.
	PresencePeers []string
}

type Session struct {
	cfg    Config
	mgr    *realtime.Manager
	stores Stores
	clk    clock.Clock
	log    *zap.Logger
}

func New(t realtime.Transport, stores Stores, clk clock.Clock, log *zap.Logger, cfg Config) (*Session, error) {
	r, err := roles.Parse(string(cfg.Role))
	if err != nil {
		return nil, errs.Validation("session", "%v", err)
	}
	cfg.Role = r
	if cfg.UserID == "" {
		return nil, errs.Validation("session", "user id is required")
	}
	log = log.With(zap.String("role", string(cfg.Role)), zap.String("user", cfg.UserID))
	return &Session{
		cfg:    cfg,
		mgr:    realtime.NewManager(t, log),
		stores: stores,
		clk:    clk,
		log:    log,
	}, nil
}

func (s *Session) Manager() *realtime.Manager { return s.mgr }

func (s *Session) Role() roles.Role { return s.cfg.Role }

func (s *Session) require(c roles.Capability) error {
	if roles.Can(s.cfg.Role, c) {
		return nil
	}
	return errs.Permission(string(c), fmt.Errorf("role %s lacks %s", s.cfg.Role, c))
}

func (s *Session) Conversation(ctx context.Context, orderID string) (*chat.Conversation, error) {
	if err := s.require(roles.Messages); err != nil {
		return nil, err
	}
	return chat.Open(ctx, s.mgr, s.stores.Chat, s.clk, s.log, chat.Config{
		OrderID:  orderID,
		UserID:   s.cfg.UserID,
		PageSize: s.cfg.HistoryPageSize,
		Typing:   typing.Config{AutoStop: s.cfg.TypingAutoStop, SafetyClear: s.cfg.TypingSafety},
	}), nil
}

// Presence starts the local user's presence and returns the tracker. The
// online write error, if any, is returned with it.
func (s *Session) Presence(ctx context.Context) (*presence.Tracker, error) {
	if err := s.require(roles.Presence); err != nil {
		return nil, err
	}
	pc := presence.Config{UserID: s.cfg.UserID, InactivityTimeout: s.cfg.InactivityTimeout}
	if !roles.Can(s.cfg.Role, roles.ViewAllPresence) {
		pc.Only = s.cfg.PresencePeers
		if len(pc.Only) == 0 {
			// nobody but ourselves
			pc.Only = []string{s.cfg.UserID}
		}
	}
	t := presence.NewTracker(s.mgr, s.stores.Presence, s.clk, s.log, pc)
	return t, t.Start(ctx)
}

func (s *Session) StockAlerts(ctx context.Context) (*alerts.Monitor, error) {
	if err := s.require(roles.StockAlerts); err != nil {
		return nil, err
	}
	m := alerts.NewMonitor(alerts.NewEngine(s.clk, s.cfg.LowStockThreshold), s.mgr, s.stores.Inventory, s.log)
	m.Start(ctx)
	return m, nil
}

// TrackLocation samples src for deliveryID.
func (s *Session) TrackLocation(ctx context.Context, deliveryID string, src location.Source) (*location.Tracker, error) {
	if err := s.require(roles.TrackLocation); err != nil {
		return nil, err
	}
	t := s.locationTracker(deliveryID, src)
	return t, t.Start(ctx)
}

// WatchLocation follows a delivery's trail without sampling.
func (s *Session) WatchLocation(ctx context.Context, deliveryID string) (*location.Tracker, error) {
	if err := s.require(roles.ViewLocations); err != nil {
		return nil, err
	}
	t := s.locationTracker(deliveryID, nil)
	t.Watch(ctx)
	return t, nil
}

func (s *Session) locationTracker(deliveryID string, src location.Source) *location.Tracker {
	return location.NewTracker(src, s.stores.Locations, s.mgr, s.clk, s.log, location.Config{
		DeliveryID: deliveryID,
		DriverID:   s.cfg.UserID,
		Interval:   s.cfg.LocationInterval,
		BufferSize: s.cfg.LocationBuffer,
	})
}

// Close tears down every channel the session still has open.
func (s *Session) Close() {
	s.mgr.CloseAll()
}
