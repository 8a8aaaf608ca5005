package alerts

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-sync/internal/errs"
	"github.com/ariefcatur/go-realtime-sync/internal/model"
	"github.com/ariefcatur/go-realtime-sync/internal/realtime"
)

const ChannelKey = "inventory"

type Store interface {
	ListProducts(ctx context.Context) ([]model.InventorySnapshot, error)
}

// Monitor feeds an Engine from the product list and the products feed.
type Monitor struct {
	engine *Engine
	store  Store
	mgr    *realtime.Manager
	log    *zap.Logger

	mu      sync.Mutex
	handle  *realtime.Handle
	loading bool
	// feed events held back until the product list has been applied
	held    []realtime.ChangeEvent[model.InventorySnapshot]
	err     error
	closed  bool
}

func NewMonitor(engine *Engine, mgr *realtime.Manager, store Store, log *zap.Logger) *Monitor {
	return &Monitor{engine: engine, store: store, mgr: mgr, log: log}
}

func (m *Monitor) Engine() *Engine { return m.engine }

// Start subscribes before loading. Feed events that arrive while the list
// is loading are held and applied after it, so a list read before an update
// never overwrites that update. Failures are stored, not returned.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	m.loading = true
	m.mu.Unlock()

	h, err := m.mgr.Open(ctx, ChannelKey, []realtime.Filter{realtime.TableFilter(model.TableProducts)},
		realtime.WithConsumer(realtime.Typed(m.log, m.handleChange)))
	m.mu.Lock()
	m.handle = h
	m.err = err
	m.mu.Unlock()

	products, lerr := m.store.ListProducts(ctx)
	m.mu.Lock()
	closed := m.closed
	if lerr != nil && !closed {
		m.err = errs.Connection("list products", lerr)
	}
	m.mu.Unlock()
	if lerr != nil {
		m.log.Warn("product load failed", zap.Error(lerr))
	} else if !closed {
		for _, p := range products {
			m.engine.Observe(p)
		}
	}
	m.drainHeld()
	if lerr == nil && !closed {
		m.log.Info("inventory loaded", zap.Int("products", len(products)), zap.Int("alerts", len(m.engine.Alerts())))
	}
}

// drainHeld applies held events in arrival order and ends the loading
// phase once nothing is left.
func (m *Monitor) drainHeld() {
	for {
		m.mu.Lock()
		batch := m.held
		m.held = nil
		if len(batch) == 0 || m.closed {
			m.held = nil
			m.loading = false
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		for _, ev := range batch {
			m.apply(ev)
		}
	}
}

func (m *Monitor) handleChange(ev realtime.ChangeEvent[model.InventorySnapshot]) {
	m.mu.Lock()
	if m.loading {
		m.held = append(m.held, ev)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.apply(ev)
}

func (m *Monitor) apply(ev realtime.ChangeEvent[model.InventorySnapshot]) {
	if ev.Op == realtime.OpDelete {
		m.engine.Forget(ev.Entity.ProductID)
		return
	}
	m.engine.Observe(ev.Entity)
}

func (m *Monitor) Alerts() []model.Alert { return m.engine.Alerts() }

func (m *Monitor) IsConnected() bool {
	m.mu.Lock()
	h := m.handle
	m.mu.Unlock()
	return h != nil && h.Connected()
}

func (m *Monitor) IsLoading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

func (m *Monitor) Err() error {
	m.mu.Lock()
	err, h := m.err, m.handle
	m.mu.Unlock()
	if err == nil && h != nil {
		return h.Err()
	}
	return err
}

func (m *Monitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	h := m.handle
	m.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Close()
}
