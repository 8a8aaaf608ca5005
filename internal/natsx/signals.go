// Package natsx carries ephemeral broadcasts (typing and similar signals)
// over core NATS. Nothing is persisted; peers that are not subscribed when
// a signal is sent never see it.
package natsx

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-sync/internal/realtime"
)

const (
	subjectPrefix = "bcast"
	headerSender  = "x-sender"
)

type Config struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

func Connect(cfg Config, log *zap.Logger) (*nats.Conn, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	return nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.ClosedHandler(func(*nats.Conn) { log.Info("nats closed") }),
	)
}

// Signals is a broadcast-only realtime.Transport. Row changes never travel
// here; combine it with a change feed through realtime.Split.
type Signals struct {
	nc  *nats.Conn
	log *zap.Logger

	mu   sync.Mutex
	subs map[string]*signalSub
}

type signalSub struct {
	s       *Signals
	id      string
	channel string
	sub     *nats.Subscription
	l       realtime.Listener
	once    sync.Once
}

func NewSignals(nc *nats.Conn, log *zap.Logger) *Signals {
	s := &Signals{nc: nc, log: log, subs: map[string]*signalSub{}}
	nc.SetDisconnectErrHandler(func(_ *nats.Conn, err error) {
		if err == nil {
			err = nats.ErrConnectionClosed
		}
		log.Warn("nats disconnected", zap.Error(err))
		s.reportAll(realtime.StatusChannelError, err)
	})
	nc.SetReconnectHandler(func(c *nats.Conn) {
		log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		s.reportAll(realtime.StatusSubscribed, nil)
	})
	return s
}

func (s *Signals) Subscribe(ctx context.Context, channel string, _ []realtime.Filter, l realtime.Listener) (realtime.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ss := &signalSub{s: s, id: uuid.NewString(), channel: channel, l: l}
	sub, err := s.nc.Subscribe(Subject(channel, "*"), ss.handle)
	if err != nil {
		return nil, err
	}
	ss.sub = sub

	s.mu.Lock()
	s.subs[ss.id] = ss
	s.mu.Unlock()

	if s.nc.IsConnected() {
		l.Report(realtime.StatusSubscribed, nil)
	} else {
		l.Report(realtime.StatusChannelError, nats.ErrConnectionReconnecting)
	}
	return ss, nil
}

func (ss *signalSub) handle(m *nats.Msg) {
	if m.Header.Get(headerSender) == ss.id {
		return
	}
	ss.l.DeliverBroadcast(EventOf(m.Subject), append([]byte(nil), m.Data...))
}

func (ss *signalSub) Broadcast(ctx context.Context, event string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := nats.NewMsg(Subject(ss.channel, event))
	m.Header.Set(headerSender, ss.id)
	m.Data = payload
	return ss.s.nc.PublishMsg(m)
}

func (ss *signalSub) Close() error {
	var err error
	ss.once.Do(func() {
		ss.s.mu.Lock()
		delete(ss.s.subs, ss.id)
		ss.s.mu.Unlock()
		err = ss.sub.Unsubscribe()
		if errors.Is(err, nats.ErrConnectionClosed) {
			err = nil
		}
		ss.l.Report(realtime.StatusClosed, nil)
	})
	return err
}

func (s *Signals) reportAll(st realtime.Status, err error) {
	s.mu.Lock()
	subs := make([]*signalSub, 0, len(s.subs))
	for _, ss := range s.subs {
		subs = append(subs, ss)
	}
	s.mu.Unlock()
	for _, ss := range subs {
		ss.l.Report(st, err)
	}
}

var tokenReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")

// Subject is bcast.{channel}.{event} with NATS wildcards escaped.
func Subject(channel, event string) string {
	if event != "*" {
		event = tokenReplacer.Replace(event)
	}
	return subjectPrefix + "." + tokenReplacer.Replace(channel) + "." + event
}

// EventOf returns the event token of a subject built by Subject.
func EventOf(subject string) string {
	if i := strings.LastIndexByte(subject, '.'); i >= 0 {
		return subject[i+1:]
	}
	return subject
}
