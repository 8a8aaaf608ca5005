// Package memfeed is an in-process change feed and publisher. The tests of
// every consumer module run on it.
package memfeed

import (
	"context"
	"errors"
	"sync"

	"github.com/ariefcatur/go-realtime-sync/internal/realtime"
)

var ErrUnsubscribed = errors.New("subscription closed")

// Hub delivers synchronously on the publishing goroutine, in publish order.
type Hub struct {
	mu            sync.Mutex
	seq           uint64
	subs          map[uint64]*subscription
	failSubscribe error
	published     int
}

type subscription struct {
	hub     *Hub
	id      uint64
	channel string
	filters []realtime.Filter
	l       realtime.Listener
}

func NewHub() *Hub {
	return &Hub{subs: map[uint64]*subscription{}}
}

func (h *Hub) Subscribe(ctx context.Context, channel string, filters []realtime.Filter, l realtime.Listener) (realtime.Subscription, error) {
	h.mu.Lock()
	if err := h.failSubscribe; err != nil {
		h.failSubscribe = nil
		h.mu.Unlock()
		return nil, err
	}
	h.seq++
	s := &subscription{hub: h, id: h.seq, channel: channel, filters: filters, l: l}
	h.subs[s.id] = s
	h.mu.Unlock()

	l.Report(realtime.StatusSubscribed, nil)
	return s, nil
}

// Publish fans raw out to every subscription whose filters match.
func (h *Hub) Publish(ctx context.Context, raw realtime.RawChange) error {
	h.mu.Lock()
	h.published++
	targets := make([]*subscription, 0, len(h.subs))
	for _, s := range h.ordered() {
		if realtime.MatchAny(s.filters, raw) {
			targets = append(targets, s)
		}
	}
	h.mu.Unlock()

	for _, s := range targets {
		s.l.Deliver(raw)
	}
	return nil
}

// Published counts Publish calls.
func (h *Hub) Published() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.published
}

// FailNextSubscribe makes the next Subscribe return err.
func (h *Hub) FailNextSubscribe(err error) {
	h.mu.Lock()
	h.failSubscribe = err
	h.mu.Unlock()
}

// Drop reports CHANNEL_ERROR to every subscription of channel, as a broker
// disconnect would.
func (h *Hub) Drop(channel string, err error) {
	for _, s := range h.channel(channel) {
		s.l.Report(realtime.StatusChannelError, err)
	}
}

// Restore reports SUBSCRIBED again after a Drop.
func (h *Hub) Restore(channel string) {
	for _, s := range h.channel(channel) {
		s.l.Report(realtime.StatusSubscribed, nil)
	}
}

func (h *Hub) Subscribers(channel string) int {
	return len(h.channel(channel))
}

func (h *Hub) channel(name string) []*subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*subscription
	for _, s := range h.ordered() {
		if s.channel == name {
			out = append(out, s)
		}
	}
	return out
}

// ordered returns subscriptions by id; caller holds mu.
func (h *Hub) ordered() []*subscription {
	out := make([]*subscription, 0, len(h.subs))
	for id := uint64(1); id <= h.seq; id++ {
		if s, ok := h.subs[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (s *subscription) Broadcast(ctx context.Context, event string, payload []byte) error {
	s.hub.mu.Lock()
	if _, ok := s.hub.subs[s.id]; !ok {
		s.hub.mu.Unlock()
		return ErrUnsubscribed
	}
	var peers []*subscription
	for _, o := range s.hub.ordered() {
		if o.id != s.id && o.channel == s.channel {
			peers = append(peers, o)
		}
	}
	s.hub.mu.Unlock()

	for _, p := range peers {
		p.l.DeliverBroadcast(event, payload)
	}
	return nil
}

func (s *subscription) Close() error {
	s.hub.mu.Lock()
	_, ok := s.hub.subs[s.id]
	delete(s.hub.subs, s.id)
	s.hub.mu.Unlock()
	if ok {
		s.l.Report(realtime.StatusClosed, nil)
	}
	return nil
}
