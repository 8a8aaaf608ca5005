// Package alerts derives low-stock and out-of-stock alerts from inventory
// snapshots. A product has at most one alert at a time and it always
// reflects the last snapshot observed.
package alerts

import (
	"sort"
	"sync"

	"github.com/ariefcatur/go-realtime-sync/internal/clock"
	"github.com/ariefcatur/go-realtime-sync/internal/model"
)

const DefaultThreshold = 10

type ChangeKind string

const (
	Raised   ChangeKind = "raised"
	Replaced ChangeKind = "replaced"
	Cleared  ChangeKind = "cleared"
)

type Change struct {
	Kind     ChangeKind
	Alert    model.Alert
	Previous *model.Alert
}

type Engine struct {
	threshold int
	clk       clock.Clock

	mu       sync.Mutex
	alerts   map[string]model.Alert
	onChange func(Change)
}

func NewEngine(clk clock.Clock, defaultThreshold int) *Engine {
	if defaultThreshold <= 0 {
		defaultThreshold = DefaultThreshold
	}
	return &Engine{threshold: defaultThreshold, clk: clk, alerts: map[string]model.Alert{}}
}

func (e *Engine) OnChange(fn func(Change)) {
	e.mu.Lock()
	e.onChange = fn
	e.mu.Unlock()
}

// ThresholdFor returns the product's own threshold, or the default.
func (e *Engine) ThresholdFor(s model.InventorySnapshot) int {
	if s.LowStockThreshold > 0 {
		return s.LowStockThreshold
	}
	return e.threshold
}

// Classify reports which alert s calls for, if any.
func (e *Engine) Classify(s model.InventorySnapshot) (model.AlertType, bool) {
	switch {
	case s.StockQuantity <= 0:
		return model.AlertOutOfStock, true
	case s.StockQuantity <= e.ThresholdFor(s):
		return model.AlertLowStock, true
	}
	return "", false
}

// Observe folds one snapshot in and returns the product's alert after it.
func (e *Engine) Observe(s model.InventorySnapshot) (model.Alert, bool) {
	typ, alerting := e.Classify(s)

	e.mu.Lock()
	prev, had := e.alerts[s.ProductID]
	var ch *Change
	var cur model.Alert
	switch {
	case !alerting && had:
		delete(e.alerts, s.ProductID)
		ch = &Change{Kind: Cleared, Alert: prev}
	case alerting:
		cur = model.Alert{
			ProductID:    s.ProductID,
			ProductName:  s.Name,
			CurrentStock: s.StockQuantity,
			Threshold:    e.ThresholdFor(s),
			Type:         typ,
			Timestamp:    e.clk.Now(),
		}
		if had && sameAlert(prev, cur) {
			cur = prev
			break
		}
		e.alerts[s.ProductID] = cur
		if had {
			p := prev
			ch = &Change{Kind: Replaced, Alert: cur, Previous: &p}
		} else {
			ch = &Change{Kind: Raised, Alert: cur}
		}
	}
	fn := e.onChange
	e.mu.Unlock()

	if ch != nil && fn != nil {
		fn(*ch)
	}
	return cur, alerting
}

func sameAlert(a, b model.Alert) bool {
	return a.Type == b.Type && a.CurrentStock == b.CurrentStock &&
		a.Threshold == b.Threshold && a.ProductName == b.ProductName
}

// Forget drops the product, e.g. after it was deleted.
func (e *Engine) Forget(productID string) {
	e.mu.Lock()
	prev, had := e.alerts[productID]
	delete(e.alerts, productID)
	fn := e.onChange
	e.mu.Unlock()
	if had && fn != nil {
		fn(Change{Kind: Cleared, Alert: prev})
	}
}

func (e *Engine) Alert(productID string) (model.Alert, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.alerts[productID]
	return a, ok
}

// Alerts returns out-of-stock alerts first, then by stock ascending.
func (e *Engine) Alerts() []model.Alert {
	e.mu.Lock()
	out := make([]model.Alert, 0, len(e.alerts))
	for _, a := range e.alerts {
		out = append(out, a)
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type == model.AlertOutOfStock
		}
		if out[i].CurrentStock != out[j].CurrentStock {
			return out[i].CurrentStock < out[j].CurrentStock
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out
}
