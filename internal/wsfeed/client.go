// Package wsfeed is a realtime.Transport over a Phoenix channels websocket,
// the protocol spoken by the hosted realtime gateway in front of Postgres.
// Row changes arrive as postgres_changes events filtered server side;
// broadcasts are relayed by the gateway to the other members of a topic.
package wsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-sync/internal/realtime"
)

const (
	eventJoin      = "phx_join"
	eventLeave     = "phx_leave"
	eventReply     = "phx_reply"
	eventError     = "phx_error"
	eventClose     = "phx_close"
	eventHeartbeat = "heartbeat"
	eventChanges   = "postgres_changes"
	eventBroadcast = "broadcast"
	eventSystem    = "system"

	topicPhoenix = "phoenix"
	topicPrefix  = "realtime:"
)

var (
	ErrJoinTimeout = errors.New("join timed out")
	ErrNotJoined   = errors.New("channel not joined")
)

type Config struct {
	URL       string // ws(s)://host/realtime/v1
	APIKey    string
	Schema    string
	Heartbeat time.Duration
	// JoinTimeout bounds the wait for the join reply.
	JoinTimeout  time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Transport dials one socket per subscription so every handle owns its
// topic membership.
type Transport struct {
	cfg    Config
	log    *zap.Logger
	dialer *websocket.Dialer
}

func New(cfg Config, log *zap.Logger) (*Transport, error) {
	if cfg.URL == "" {
		return nil, errors.New("realtime url missing")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("realtime url: %w", err)
	}
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 10 * time.Second
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 30 * time.Second
	}
	return &Transport{
		cfg:    cfg,
		log:    log,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

type message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

type pgChange struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type joinConfig struct {
	Broadcast struct {
		Self bool `json:"self"`
		Ack  bool `json:"ack"`
	} `json:"broadcast"`
	PostgresChanges []pgChange `json:"postgres_changes"`
}

type joinPayload struct {
	Config joinConfig `json:"config"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type changePayload struct {
	Data struct {
		Type            string          `json:"type"`
		Table           string          `json:"table"`
		Record          json.RawMessage `json:"record"`
		OldRecord       json.RawMessage `json:"old_record"`
		CommitTimestamp time.Time       `json:"commit_timestamp"`
	} `json:"data"`
}

type broadcastPayload struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type systemPayload struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type wsSub struct {
	t       *Transport
	topic   string
	filters []realtime.Filter
	l       realtime.Listener
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
	joined  bool
	ref     uint64
}

func (t *Transport) Subscribe(ctx context.Context, channel string, filters []realtime.Filter, l realtime.Listener) (realtime.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sctx, cancel := context.WithCancel(context.Background())
	s := &wsSub{
		t:       t,
		topic:   topicPrefix + channel,
		filters: filters,
		l:       l,
		log:     t.log.With(zap.String("topic", topicPrefix+channel)),
		ctx:     sctx,
		cancel:  cancel,
	}

	conn, err := s.dial(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	if err := s.join(conn); err != nil {
		s.reportJoinErr(err)
		_ = conn.Close()
		conn = nil
	}
	s.wg.Add(1)
	go s.run(conn)
	return s, nil
}

func (s *wsSub) endpoint() string {
	u, _ := url.Parse(s.t.cfg.URL)
	u.Path = strings.TrimSuffix(u.Path, "/") + "/websocket"
	q := u.Query()
	if s.t.cfg.APIKey != "" {
		q.Set("apikey", s.t.cfg.APIKey)
	}
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *wsSub) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := s.t.dialer.DialContext(ctx, s.endpoint(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}
	return conn, nil
}

func (s *wsSub) nextRef() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ref++
	return strconv.FormatUint(s.ref, 10)
}

func (s *wsSub) joinPayload() joinPayload {
	var p joinPayload
	seen := map[string]bool{}
	for _, f := range s.filters {
		if f.Table == "" {
			continue
		}
		c := pgChange{Event: "*", Schema: s.t.cfg.Schema, Table: f.Table, Filter: f.String()}
		k := c.Table + "|" + c.Filter
		if seen[k] {
			continue
		}
		seen[k] = true
		p.Config.PostgresChanges = append(p.Config.PostgresChanges, c)
	}
	if p.Config.PostgresChanges == nil {
		p.Config.PostgresChanges = []pgChange{}
	}
	return p
}

// join sends phx_join and reads until its reply. Nothing else is read from
// conn until it returns. Close interrupts it by closing conn.
func (s *wsSub) join(conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	ref := s.nextRef()
	if err := s.write(conn, s.topic, eventJoin, s.joinPayload(), ref); err != nil {
		return err
	}
	deadline := time.Now().Add(s.t.cfg.JoinTimeout)
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})
	for {
		var m message
		if err := conn.ReadJSON(&m); err != nil {
			var ne interface{ Timeout() bool }
			if errors.As(err, &ne) && ne.Timeout() {
				return ErrJoinTimeout
			}
			return err
		}
		if m.Event != eventReply || m.Ref != ref {
			continue
		}
		var r replyPayload
		if err := json.Unmarshal(m.Payload, &r); err != nil {
			return fmt.Errorf("join reply: %w", err)
		}
		if r.Status != "ok" {
			return fmt.Errorf("join refused: %s %s", r.Status, string(r.Response))
		}
		s.mu.Lock()
		s.conn = conn
		s.joined = true
		s.mu.Unlock()
		s.l.Report(realtime.StatusSubscribed, nil)
		return nil
	}
}

func (s *wsSub) reportJoinErr(err error) {
	if errors.Is(err, ErrJoinTimeout) {
		s.l.Report(realtime.StatusTimedOut, err)
		return
	}
	s.l.Report(realtime.StatusChannelError, err)
}

func (s *wsSub) write(conn *websocket.Conn, topic, event string, payload any, ref string) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(message{Topic: topic, Event: event, Payload: b, Ref: ref})
}

// run owns the socket: it reads until the socket fails, then rejoins with
// backoff until the subscription is closed. A nil conn starts with a rejoin.
func (s *wsSub) run(conn *websocket.Conn) {
	defer s.wg.Done()
	wait := s.t.cfg.ReconnectMin
	for {
		if conn != nil {
			wait = s.t.cfg.ReconnectMin
			err := s.serve(conn)
			s.mu.Lock()
			s.conn = nil
			s.joined = false
			s.mu.Unlock()
			_ = conn.Close()
			if s.ctx.Err() != nil {
				return
			}
			s.log.Warn("realtime socket lost", zap.Error(err))
			s.l.Report(realtime.StatusChannelError, err)
		}

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(wait):
		}
		if wait *= 2; wait > s.t.cfg.ReconnectMax {
			wait = s.t.cfg.ReconnectMax
		}

		c, err := s.dial(s.ctx)
		if err != nil {
			s.log.Debug("realtime redial failed", zap.Error(err))
			conn = nil
			continue
		}
		if err := s.join(c); err != nil {
			_ = c.Close()
			if s.ctx.Err() != nil {
				return
			}
			s.reportJoinErr(err)
			conn = nil
			continue
		}
		conn = c
	}
}

func (s *wsSub) serve(conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go s.heartbeat(conn, stop)

	for {
		var m message
		if err := conn.ReadJSON(&m); err != nil {
			return err
		}
		if err := s.dispatch(m); err != nil {
			return err
		}
	}
}

func (s *wsSub) heartbeat(conn *websocket.Conn, stop <-chan struct{}) {
	tk := time.NewTicker(s.t.cfg.Heartbeat)
	defer tk.Stop()
	for {
		select {
		case <-stop:
			return
		case <-s.ctx.Done():
			_ = conn.Close()
			return
		case <-tk.C:
			if err := s.write(conn, topicPhoenix, eventHeartbeat, struct{}{}, s.nextRef()); err != nil {
				// the read side sees the broken socket
				_ = conn.Close()
				return
			}
		}
	}
}

// dispatch returns an error only when the topic is gone and must be
// rejoined.
func (s *wsSub) dispatch(m message) error {
	if m.Topic != s.topic {
		return nil
	}
	switch m.Event {
	case eventChanges:
		var p changePayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			s.log.Debug("bad postgres_changes payload", zap.Error(err))
			return nil
		}
		raw := realtime.RawChange{
			EventType:       p.Data.Type,
			Table:           p.Data.Table,
			New:             p.Data.Record,
			Old:             p.Data.OldRecord,
			CommitTimestamp: p.Data.CommitTimestamp,
		}
		if realtime.MatchAny(s.filters, raw) {
			s.l.Deliver(raw)
		}
	case eventBroadcast:
		var p broadcastPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			s.log.Debug("bad broadcast payload", zap.Error(err))
			return nil
		}
		s.l.DeliverBroadcast(p.Event, p.Payload)
	case eventSystem:
		var p systemPayload
		if err := json.Unmarshal(m.Payload, &p); err == nil && p.Status == "error" {
			s.l.Report(realtime.StatusChannelError, errors.New(p.Message))
		}
	case eventError:
		return errors.New("channel error from server")
	case eventClose:
		return errors.New("channel closed by server")
	}
	return nil
}

func (s *wsSub) Broadcast(ctx context.Context, event string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	conn, joined := s.conn, s.joined
	s.mu.Unlock()
	if conn == nil || !joined {
		return ErrNotJoined
	}
	return s.write(conn, s.topic, eventBroadcast, broadcastPayload{
		Type:    eventBroadcast,
		Event:   event,
		Payload: json.RawMessage(payload),
	}, s.nextRef())
}

func (s *wsSub) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			_ = s.write(conn, s.topic, eventLeave, struct{}{}, s.nextRef())
		}
		s.cancel()
		if conn != nil {
			_ = conn.Close()
		}
		s.wg.Wait()
		s.l.Report(realtime.StatusClosed, nil)
	})
	return nil
}
