// Package typing implements the typing indicator: a self-expiring broadcast
// signal that is never stored.
package typing

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-sync/internal/clock"
	"github.com/ariefcatur/go-realtime-sync/internal/model"
)

const Event = "typing"

const (
	DefaultAutoStop    = 3 * time.Second
	DefaultSafetyClear = 5 * time.Second
)

// Broadcaster is satisfied by *realtime.Handle.
type Broadcaster interface {
	Broadcast(ctx context.Context, event string, payload any) error
}

type Config struct {
	UserID      string
	AutoStop    time.Duration
	SafetyClear time.Duration
}

type peer struct {
	timer clock.Timer
	gen   uint64
}

type Indicator struct {
	cfg      Config
	clk      clock.Clock
	log      *zap.Logger
	onChange func(typing bool)

	mu      sync.Mutex
	out     Broadcaster
	typing  bool
	stop    clock.Timer
	stopGen uint64
	peers   map[string]*peer
	gen     uint64
	closed  bool
}

func New(clk clock.Clock, log *zap.Logger, cfg Config) *Indicator {
	if cfg.AutoStop <= 0 {
		cfg.AutoStop = DefaultAutoStop
	}
	if cfg.SafetyClear <= 0 {
		cfg.SafetyClear = DefaultSafetyClear
	}
	return &Indicator{cfg: cfg, clk: clk, log: log, peers: map[string]*peer{}}
}

// Bind sets where local signals go. Until bound, Start/StopTyping only
// update local state.
func (i *Indicator) Bind(b Broadcaster) {
	i.mu.Lock()
	i.out = b
	i.mu.Unlock()
}

// OnChange is called whenever IsOtherUserTyping flips.
func (i *Indicator) OnChange(fn func(typing bool)) {
	i.mu.Lock()
	i.onChange = fn
	i.mu.Unlock()
}

// StartTyping announces typing and (re)arms the auto-stop timer. Call it on
// every keystroke.
func (i *Indicator) StartTyping(ctx context.Context) error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.typing = true
	i.stopGen++
	gen := i.stopGen
	if i.stop != nil {
		i.stop.Stop()
	}
	i.stop = i.clk.AfterFunc(i.cfg.AutoStop, func() { i.autoStop(gen) })
	out := i.out
	i.mu.Unlock()
	return i.send(ctx, out, true)
}

func (i *Indicator) StopTyping(ctx context.Context) error {
	i.mu.Lock()
	if i.closed || !i.typing {
		i.mu.Unlock()
		return nil
	}
	i.disarmLocked()
	out := i.out
	i.mu.Unlock()
	return i.send(ctx, out, false)
}

func (i *Indicator) autoStop(gen uint64) {
	i.mu.Lock()
	if i.closed || gen != i.stopGen || !i.typing {
		i.mu.Unlock()
		return
	}
	i.stop = nil
	i.typing = false
	out := i.out
	i.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), i.cfg.AutoStop)
	defer cancel()
	if err := i.send(ctx, out, false); err != nil {
		i.log.Debug("typing auto-stop not sent", zap.Error(err))
	}
}

func (i *Indicator) disarmLocked() {
	i.typing = false
	i.stopGen++
	if i.stop != nil {
		i.stop.Stop()
		i.stop = nil
	}
}

func (i *Indicator) send(ctx context.Context, out Broadcaster, typing bool) error {
	if out == nil {
		return nil
	}
	return out.Broadcast(ctx, Event, model.TypingSignal{UserID: i.cfg.UserID, IsTyping: typing})
}

// Receive handles one inbound typing broadcast. Payloads from the local
// user and malformed payloads are ignored.
func (i *Indicator) Receive(payload []byte) {
	var sig model.TypingSignal
	if err := json.Unmarshal(payload, &sig); err != nil || sig.UserID == "" {
		i.log.Debug("drop typing signal", zap.ByteString("payload", payload))
		return
	}
	if sig.UserID == i.cfg.UserID {
		return
	}

	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	before := len(i.peers) > 0
	if sig.IsTyping {
		i.armPeerLocked(sig.UserID)
	} else {
		i.clearPeerLocked(sig.UserID)
	}
	after := len(i.peers) > 0
	fn := i.onChange
	i.mu.Unlock()
	if before != after && fn != nil {
		fn(after)
	}
}

func (i *Indicator) armPeerLocked(userID string) {
	i.clearPeerLocked(userID)
	i.gen++
	p := &peer{gen: i.gen}
	gen := p.gen
	p.timer = i.clk.AfterFunc(i.cfg.SafetyClear, func() { i.expire(userID, gen) })
	i.peers[userID] = p
}

func (i *Indicator) clearPeerLocked(userID string) {
	if p, ok := i.peers[userID]; ok {
		p.timer.Stop()
		delete(i.peers, userID)
	}
}

func (i *Indicator) expire(userID string, gen uint64) {
	i.mu.Lock()
	p, ok := i.peers[userID]
	if i.closed || !ok || p.gen != gen {
		i.mu.Unlock()
		return
	}
	delete(i.peers, userID)
	now := len(i.peers) > 0
	fn := i.onChange
	i.mu.Unlock()
	if !now && fn != nil {
		fn(false)
	}
}

func (i *Indicator) IsOtherUserTyping() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.peers) > 0
}

// TypingUsers lists peers currently shown as typing.
func (i *Indicator) TypingUsers() []string {
	i.mu.Lock()
	out := make([]string, 0, len(i.peers))
	for id := range i.peers {
		out = append(out, id)
	}
	i.mu.Unlock()
	sort.Strings(out)
	return out
}

func (i *Indicator) IsTyping() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.typing
}

// Close cancels every timer. Nothing is broadcast.
func (i *Indicator) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}
	i.closed = true
	i.disarmLocked()
	for id := range i.peers {
		i.clearPeerLocked(id)
	}
	i.out = nil
}
