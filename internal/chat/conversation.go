// Package chat is the order-scoped conversation: live messages, history,
// optimistic sends, read receipts and the typing indicator, all on one
// channel.
package chat

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-sync/internal/clock"
	"github.com/ariefcatur/go-realtime-sync/internal/errs"
	"github.com/ariefcatur/go-realtime-sync/internal/history"
	"github.com/ariefcatur/go-realtime-sync/internal/model"
	"github.com/ariefcatur/go-realtime-sync/internal/realtime"
	"github.com/ariefcatur/go-realtime-sync/internal/reconcile"
	"github.com/ariefcatur/go-realtime-sync/internal/typing"
)

const MaxBodyLen = 2000

type Store interface {
	// InsertMessage returns the stored row. Its id may differ from the one
	// sent; ClientRef is echoed unchanged.
	InsertMessage(ctx context.Context, m model.Message) (model.Message, error)
	MarkRead(ctx context.Context, orderID string, ids []string, at time.Time) error
	ListMessages(ctx context.Context, orderID string, c history.Cursor) (history.Page[model.Message], error)
}

type Config struct {
	OrderID  string
	UserID   string
	PageSize int
	Typing   typing.Config
}

func ChannelKey(orderID string) string { return "order:" + orderID }

type Conversation struct {
	cfg    Config
	store  Store
	clk    clock.Clock
	log    *zap.Logger
	msgs   *reconcile.Collection[model.Message]
	loader *history.Loader[model.Message]
	typing *typing.Indicator

	mu     sync.Mutex
	handle *realtime.Handle
	err    error
	closed bool
}

// Open subscribes to the order's channel and loads the newest page. Failures
// are kept in Err; the returned Conversation is always usable and must be
// closed.
func Open(ctx context.Context, mgr *realtime.Manager, store Store, clk clock.Clock, log *zap.Logger, cfg Config) *Conversation {
	log = log.With(zap.String("order", cfg.OrderID))
	cfg.Typing.UserID = cfg.UserID
	c := &Conversation{
		cfg:   cfg,
		store: store,
		clk:   clk,
		log:   log,
		msgs: reconcile.New(func(m model.Message) string { return m.ID },
			reconcile.WithCorrelation(func(m model.Message) string { return m.ClientRef })),
		typing: typing.New(clk, log, cfg.Typing),
	}
	c.loader = history.New(c.msgs, func(ctx context.Context, cur history.Cursor) (history.Page[model.Message], error) {
		return store.ListMessages(ctx, cfg.OrderID, cur)
	}, func(m model.Message) (time.Time, string) { return m.CreatedAt, m.ID }, cfg.PageSize)

	h, err := mgr.Open(ctx, ChannelKey(cfg.OrderID),
		[]realtime.Filter{realtime.Eq(model.TableMessages, "order_id", cfg.OrderID)},
		realtime.WithConsumer(c.msgs.Consumer(log)),
		realtime.WithBroadcast(typing.Event, c.typing.Receive))
	c.handle = h
	c.err = err
	c.typing.Bind(h)

	c.loader.LoadInitial(ctx)
	return c
}

// Send validates body, shows the message at once and writes it. On failure
// the optimistic message is removed and the error returned.
func (c *Conversation) Send(ctx context.Context, body, kind string) (model.Message, error) {
	body = strings.TrimSpace(body)
	if kind == "" {
		kind = model.MessageText
	}
	if err := validate(body, kind); err != nil {
		c.setErr(err)
		return model.Message{}, err
	}
	if c.isClosed() {
		return model.Message{}, realtime.ErrClosed
	}

	id := uuid.NewString()
	m := model.Message{
		ID:        id,
		OrderID:   c.cfg.OrderID,
		SenderID:  c.cfg.UserID,
		Body:      body,
		Type:      kind,
		CreatedAt: c.clk.Now().UTC(),
		ClientRef: id,
	}
	c.msgs.Optimistic(m)
	_ = c.typing.StopTyping(ctx)

	row, err := c.store.InsertMessage(ctx, m)
	if c.isClosed() {
		return row, err
	}
	if err != nil {
		c.msgs.Rollback(id)
		werr := errs.Write("send message", err)
		c.setErr(werr)
		c.log.Warn("send failed", zap.String("client_ref", id), zap.Error(err))
		return model.Message{}, werr
	}
	if row.ClientRef == "" {
		row.ClientRef = id
	}
	c.msgs.Confirm(row)
	return row, nil
}

func validate(body, kind string) error {
	switch kind {
	case model.MessageText, model.MessageSystem, model.MessageImage:
	default:
		return errs.Validation("send message", "unknown message type %q", kind)
	}
	if body == "" {
		return errs.Validation("send message", "message is empty")
	}
	if utf8.RuneCountInString(body) > MaxBodyLen {
		return errs.Validation("send message", "message longer than %d characters", MaxBodyLen)
	}
	return nil
}

// MarkAsRead marks every unread message from other senders as read. The
// local change is reverted if the write fails.
func (c *Conversation) MarkAsRead(ctx context.Context) error {
	if c.isClosed() {
		return realtime.ErrClosed
	}
	now := c.clk.Now().UTC()
	var ids []string
	prev := map[string]model.Message{}
	for _, m := range c.msgs.Items() {
		if m.IsRead || m.SenderID == c.cfg.UserID || c.msgs.Pending(m.ID) {
			continue
		}
		ids = append(ids, m.ID)
		prev[m.ID] = m
		c.msgs.Patch(m.ID, func(m model.Message) model.Message {
			m.IsRead = true
			m.ReadAt = &now
			return m
		})
	}
	if len(ids) == 0 {
		return nil
	}

	err := c.store.MarkRead(ctx, c.cfg.OrderID, ids, now)
	if err == nil || c.isClosed() {
		return err
	}
	for _, id := range ids {
		old := prev[id]
		c.msgs.Patch(id, func(m model.Message) model.Message {
			// an echo may have landed meanwhile
			if m.ReadAt != nil && m.ReadAt.Equal(now) {
				m.IsRead, m.ReadAt = old.IsRead, old.ReadAt
			}
			return m
		})
	}
	werr := errs.Write("mark read", err)
	c.setErr(werr)
	return werr
}

func (c *Conversation) UnreadCount() int {
	n := 0
	for _, m := range c.msgs.Items() {
		if !m.IsRead && m.SenderID != c.cfg.UserID {
			n++
		}
	}
	return n
}

func (c *Conversation) Messages() []model.Message { return c.msgs.Items() }

func (c *Conversation) LoadMore(ctx context.Context) { c.loader.LoadMore(ctx) }

func (c *Conversation) HasMore() bool { return c.loader.HasMore() }

func (c *Conversation) StartTyping(ctx context.Context) error { return c.typing.StartTyping(ctx) }

func (c *Conversation) StopTyping(ctx context.Context) error { return c.typing.StopTyping(ctx) }

func (c *Conversation) IsOtherUserTyping() bool { return c.typing.IsOtherUserTyping() }

func (c *Conversation) IsLoading() bool { return c.loader.IsLoading() }

func (c *Conversation) IsConnected() bool {
	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()
	return h != nil && h.Connected()
}

// Err returns the latest error from this conversation, its history loader
// or its channel, in that order.
func (c *Conversation) Err() error {
	c.mu.Lock()
	err, h := c.err, c.handle
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if err := c.loader.Err(); err != nil {
		return err
	}
	if h != nil {
		return h.Err()
	}
	return nil
}

func (c *Conversation) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	h := c.handle
	c.mu.Unlock()

	c.typing.Close()
	c.loader.Close()
	if h == nil {
		return nil
	}
	return h.Close()
}

func (c *Conversation) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *Conversation) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
