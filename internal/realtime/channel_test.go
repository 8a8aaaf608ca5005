package realtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-sync/internal/errs"
	"github.com/ariefcatur/go-realtime-sync/internal/memfeed"
	"github.com/ariefcatur/go-realtime-sync/internal/realtime"
)

func insert(table, body string) realtime.RawChange {
	return realtime.RawChange{EventType: "INSERT", Table: table, New: json.RawMessage(body)}
}

func TestOpenConnectsAndDelivers(t *testing.T) {
	hub := memfeed.NewHub()
	m := realtime.NewManager(hub, zap.NewNop())
	ctx := context.Background()

	var got []realtime.RawChange
	h, err := m.Open(ctx, "orders:1", []realtime.Filter{realtime.Eq("messages", "order_id", "1")},
		realtime.WithConsumer(realtime.ConsumerFunc(func(raw realtime.RawChange) { got = append(got, raw) })))
	assert.Equal(t, nil, err)
	assert.Equal(t, true, h.Connected())

	_ = hub.Publish(ctx, insert("messages", `{"id":"a","order_id":"1"}`))
	_ = hub.Publish(ctx, insert("messages", `{"id":"b","order_id":"2"}`))
	assert.Equal(t, 1, len(got))

	assert.Equal(t, nil, h.Close())
	assert.Equal(t, nil, h.Close())
	state, _ := h.State()
	assert.Equal(t, realtime.Closed, state)

	_ = hub.Publish(ctx, insert("messages", `{"id":"c","order_id":"1"}`))
	assert.Equal(t, 1, len(got))
	assert.Equal(t, 0, hub.Subscribers("orders:1"))
}

func TestReopenYieldsFreshHandle(t *testing.T) {
	hub := memfeed.NewHub()
	m := realtime.NewManager(hub, zap.NewNop())
	ctx := context.Background()

	a, _ := m.Open(ctx, "inventory", []realtime.Filter{realtime.TableFilter("products")})
	b, _ := m.Open(ctx, "inventory", []realtime.Filter{realtime.TableFilter("products")})
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, hub.Subscribers("inventory"))

	_ = a.Close()
	c, _ := m.Open(ctx, "inventory", []realtime.Filter{realtime.TableFilter("products")})
	assert.NotEqual(t, a.ID(), c.ID())
	assert.Equal(t, true, b.Connected())
	assert.Equal(t, 2, len(m.Handles()))

	m.CloseAll()
	assert.Equal(t, 0, len(m.Handles()))
	assert.Equal(t, 0, hub.Subscribers("inventory"))
}

func TestChannelErrorSurfacesAsFlag(t *testing.T) {
	hub := memfeed.NewHub()
	m := realtime.NewManager(hub, zap.NewNop())

	var states []realtime.ConnState
	h, _ := m.Open(context.Background(), "presence", []realtime.Filter{realtime.TableFilter("user_presence")},
		realtime.WithStatusHook(func(s realtime.ConnState, err error) { states = append(states, s) }))

	hub.Drop("presence", errors.New("socket reset"))
	assert.Equal(t, false, h.Connected())
	assert.Equal(t, true, errs.Is(h.Err(), errs.KindConnection))

	hub.Restore("presence")
	assert.Equal(t, true, h.Connected())
	assert.Equal(t, nil, h.Err())
	assert.Equal(t, []realtime.ConnState{realtime.Connected, realtime.Disconnected, realtime.Connected}, states)
}

func TestOpenFailureIsStored(t *testing.T) {
	hub := memfeed.NewHub()
	m := realtime.NewManager(hub, zap.NewNop())
	hub.FailNextSubscribe(errors.New("refused"))

	h, err := m.Open(context.Background(), "orders:9", nil)
	assert.Equal(t, true, errs.Is(err, errs.KindConnection))
	assert.Equal(t, false, h.Connected())
	assert.Equal(t, true, errs.Is(h.Err(), errs.KindConnection))

	infos := m.Handles()
	assert.Equal(t, 1, len(infos))
	assert.Equal(t, realtime.Disconnected, infos[0].State)
	assert.Equal(t, nil, h.Close())
}

func TestBroadcastReachesPeersOnly(t *testing.T) {
	hub := memfeed.NewHub()
	m := realtime.NewManager(hub, zap.NewNop())
	ctx := context.Background()

	var selfGot, peerGot, otherGot int
	self, _ := m.Open(ctx, "typing:1", nil, realtime.WithBroadcast("typing", func([]byte) { selfGot++ }))
	_, _ = m.Open(ctx, "typing:1", nil, realtime.WithBroadcast("typing", func([]byte) { peerGot++ }))
	_, _ = m.Open(ctx, "typing:2", nil, realtime.WithBroadcast("typing", func([]byte) { otherGot++ }))

	assert.Equal(t, nil, self.Broadcast(ctx, "typing", map[string]any{"userId": "u1", "isTyping": true}))
	assert.Equal(t, nil, self.Broadcast(ctx, "other-event", map[string]any{}))
	assert.Equal(t, 0, selfGot)
	assert.Equal(t, 1, peerGot)
	assert.Equal(t, 0, otherGot)

	_ = self.Close()
	assert.Equal(t, realtime.ErrClosed, self.Broadcast(ctx, "typing", nil))
}

func TestSplitTransport(t *testing.T) {
	changes := memfeed.NewHub()
	signals := memfeed.NewHub()
	m := realtime.NewManager(realtime.Split(changes, signals), zap.NewNop())
	ctx := context.Background()

	var rows, pings int
	a, err := m.Open(ctx, "orders:1", []realtime.Filter{realtime.TableFilter("messages")},
		realtime.WithConsumer(realtime.ConsumerFunc(func(realtime.RawChange) { rows++ })))
	assert.Equal(t, nil, err)
	assert.Equal(t, true, a.Connected())
	_, _ = m.Open(ctx, "orders:1", nil, realtime.WithBroadcast("ping", func([]byte) { pings++ }))

	_ = changes.Publish(ctx, insert("messages", `{"id":"a"}`))
	assert.Equal(t, nil, a.Broadcast(ctx, "ping", "x"))
	assert.Equal(t, 1, rows)
	assert.Equal(t, 1, pings)

	signals.Drop("orders:1", errors.New("nats down"))
	assert.Equal(t, false, a.Connected())

	_ = a.Close()
	assert.Equal(t, 1, changes.Subscribers("orders:1"))
	assert.Equal(t, 1, signals.Subscribers("orders:1"))
}
