package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ariefcatur/go-realtime-sync/internal/errs"
	"go.uber.org/zap"
)

type ConnState string

const (
	Connecting   ConnState = "CONNECTING"
	Connected    ConnState = "CONNECTED"
	Disconnected ConnState = "DISCONNECTED"
	Closed       ConnState = "CLOSED"
)

var ErrClosed = errors.New("channel closed")

type Consumer interface {
	HandleChange(RawChange)
}

type ConsumerFunc func(RawChange)

func (f ConsumerFunc) HandleChange(raw RawChange) { f(raw) }

type Option func(*Handle)

func WithConsumer(c Consumer) Option {
	return func(h *Handle) { h.consumers = append(h.consumers, c) }
}

// WithBroadcast routes broadcast messages named event to fn.
func WithBroadcast(event string, fn func(payload []byte)) Option {
	return func(h *Handle) { h.broadcasts[event] = append(h.broadcasts[event], fn) }
}

// WithStatusHook is called after every connection state change.
func WithStatusHook(fn func(ConnState, error)) Option {
	return func(h *Handle) { h.hooks = append(h.hooks, fn) }
}

// Manager opens channels on a single transport and tracks the open handles
// so they can be torn down together.
type Manager struct {
	transport Transport
	log       *zap.Logger
	seq       atomic.Uint64

	mu   sync.Mutex
	open map[uint64]*Handle
}

func NewManager(t Transport, log *zap.Logger) *Manager {
	return &Manager{transport: t, log: log, open: map[uint64]*Handle{}}
}

// Open subscribes to a logical channel. Every call yields an independent
// handle, even for a key that is already open. A transport failure is
// stored on the handle and also returned; the handle stays usable for
// Close.
func (m *Manager) Open(ctx context.Context, key string, filters []Filter, opts ...Option) (*Handle, error) {
	h := &Handle{
		id:         m.seq.Add(1),
		key:        key,
		filters:    filters,
		m:          m,
		state:      Connecting,
		broadcasts: map[string][]func([]byte){},
	}
	for _, o := range opts {
		o(h)
	}

	m.mu.Lock()
	m.open[h.id] = h
	m.mu.Unlock()

	sub, err := m.transport.Subscribe(ctx, key, filters, Listener{
		OnChange:    h.onChange,
		OnBroadcast: h.onBroadcast,
		OnStatus:    h.onStatus,
	})
	if err != nil {
		cerr := errs.Connection("open "+key, err)
		h.setState(Disconnected, cerr)
		m.log.Warn("channel open failed", zap.String("channel", key), zap.Uint64("handle", h.id), zap.Error(err))
		return h, cerr
	}

	h.mu.Lock()
	if h.state == Closed {
		// closed while subscribing
		h.mu.Unlock()
		_ = sub.Close()
		return h, ErrClosed
	}
	h.sub = sub
	h.mu.Unlock()

	m.log.Debug("channel opened", zap.String("channel", key), zap.Uint64("handle", h.id))
	return h, nil
}

func (m *Manager) forget(id uint64) {
	m.mu.Lock()
	delete(m.open, id)
	m.mu.Unlock()
}

// HandleInfo is a point-in-time view of one open handle.
type HandleInfo struct {
	ID    uint64    `json:"id"`
	Key   string    `json:"key"`
	State ConnState `json:"state"`
	Error string    `json:"error,omitempty"`
}

func (m *Manager) Handles() []HandleInfo {
	m.mu.Lock()
	hs := make([]*Handle, 0, len(m.open))
	for _, h := range m.open {
		hs = append(hs, h)
	}
	m.mu.Unlock()

	out := make([]HandleInfo, 0, len(hs))
	for _, h := range hs {
		state, err := h.State()
		info := HandleInfo{ID: h.id, Key: h.key, State: state}
		if err != nil {
			info.Error = err.Error()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CloseAll closes every handle still open.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	hs := make([]*Handle, 0, len(m.open))
	for _, h := range m.open {
		hs = append(hs, h)
	}
	m.mu.Unlock()
	for _, h := range hs {
		_ = h.Close()
	}
}

// Handle is an open subscription. It is owned by whoever opened it and must
// be closed on that owner's exit path.
type Handle struct {
	id      uint64
	key     string
	filters []Filter
	m       *Manager

	mu         sync.Mutex
	sub        Subscription
	state      ConnState
	err        error
	consumers  []Consumer
	broadcasts map[string][]func([]byte)
	hooks      []func(ConnState, error)
}

func (h *Handle) ID() uint64        { return h.id }
func (h *Handle) Key() string       { return h.key }
func (h *Handle) Filters() []Filter { return h.filters }

func (h *Handle) State() (ConnState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state, h.err
}

func (h *Handle) Connected() bool {
	s, _ := h.State()
	return s == Connected
}

func (h *Handle) Err() error {
	_, err := h.State()
	return err
}

// Broadcast marshals payload to JSON and sends it to the other subscribers
// of this channel.
func (h *Handle) Broadcast(ctx context.Context, event string, payload any) error {
	h.mu.Lock()
	sub, state := h.sub, h.state
	h.mu.Unlock()
	if state == Closed {
		return ErrClosed
	}
	if sub == nil {
		return errs.Connection("broadcast "+h.key, fmt.Errorf("not subscribed"))
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return sub.Broadcast(ctx, event, b)
}

// Close releases the subscription. It is safe to call more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.state == Closed {
		h.mu.Unlock()
		return nil
	}
	sub := h.sub
	h.sub = nil
	h.state = Closed
	h.err = nil
	hooks := append([]func(ConnState, error){}, h.hooks...)
	h.mu.Unlock()

	h.m.forget(h.id)
	var err error
	if sub != nil {
		err = sub.Close()
	}
	for _, fn := range hooks {
		fn(Closed, nil)
	}
	h.m.log.Debug("channel closed", zap.String("channel", h.key), zap.Uint64("handle", h.id))
	return err
}

func (h *Handle) setState(s ConnState, err error) {
	h.mu.Lock()
	if h.state == Closed || (h.state == s && h.err == err) {
		h.mu.Unlock()
		return
	}
	h.state, h.err = s, err
	hooks := append([]func(ConnState, error){}, h.hooks...)
	h.mu.Unlock()
	for _, fn := range hooks {
		fn(s, err)
	}
}

func (h *Handle) onStatus(s Status, err error) {
	switch s {
	case StatusSubscribed:
		h.setState(Connected, nil)
	case StatusChannelError, StatusTimedOut:
		if err == nil {
			err = fmt.Errorf("%s", s)
		}
		h.m.log.Warn("channel disconnected", zap.String("channel", h.key), zap.String("status", string(s)), zap.Error(err))
		h.setState(Disconnected, errs.Connection("subscribe "+h.key, err))
	case StatusClosed:
		h.setState(Disconnected, nil)
	}
}

func (h *Handle) onChange(raw RawChange) {
	h.mu.Lock()
	if h.state == Closed {
		h.mu.Unlock()
		return
	}
	cs := append([]Consumer{}, h.consumers...)
	h.mu.Unlock()
	for _, c := range cs {
		c.HandleChange(raw)
	}
}

func (h *Handle) onBroadcast(event string, payload []byte) {
	h.mu.Lock()
	if h.state == Closed {
		h.mu.Unlock()
		return
	}
	fns := append([]func([]byte){}, h.broadcasts[event]...)
	h.mu.Unlock()
	for _, fn := range fns {
		fn(payload)
	}
}
