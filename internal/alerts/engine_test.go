package alerts

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/ariefcatur/go-realtime-sync/internal/clock"
	"github.com/ariefcatur/go-realtime-sync/internal/model"
)

func product(stock, threshold int) model.InventorySnapshot {
	return model.InventorySnapshot{ProductID: "x", Name: "Product X", StockQuantity: stock, LowStockThreshold: threshold}
}

func TestStockWalkthrough(t *testing.T) {
	e := NewEngine(clock.NewFake(time.Unix(0, 0)), 0)
	var kinds []ChangeKind
	e.OnChange(func(c Change) { kinds = append(kinds, c.Kind) })

	_, alerting := e.Observe(product(15, 10))
	assert.Equal(t, false, alerting)
	assert.Equal(t, 0, len(e.Alerts()))

	a, _ := e.Observe(product(8, 10))
	assert.Equal(t, model.AlertLowStock, a.Type)
	assert.Equal(t, 1, len(e.Alerts()))

	a, _ = e.Observe(product(0, 10))
	assert.Equal(t, model.AlertOutOfStock, a.Type)
	assert.Equal(t, 1, len(e.Alerts()))
	assert.Equal(t, 0, e.Alerts()[0].CurrentStock)

	e.Observe(product(20, 10))
	assert.Equal(t, 0, len(e.Alerts()))
	assert.Equal(t, []ChangeKind{Raised, Replaced, Cleared}, kinds)
}

func TestDefaultThresholdAndBoundary(t *testing.T) {
	e := NewEngine(clock.NewFake(time.Unix(0, 0)), 5)
	_, alerting := e.Observe(product(5, 0))
	assert.Equal(t, true, alerting)
	_, alerting = e.Observe(product(6, 0))
	assert.Equal(t, false, alerting)

	a, _ := e.Observe(product(-3, 0))
	assert.Equal(t, model.AlertOutOfStock, a.Type)
	assert.Equal(t, 5, a.Threshold)
}

func TestRepeatedObservationKeepsAlert(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	e := NewEngine(clk, 10)
	calls := 0
	e.OnChange(func(Change) { calls++ })

	first, _ := e.Observe(product(3, 0))
	clk.Advance(time.Minute)
	again, _ := e.Observe(product(3, 0))
	assert.Equal(t, true, first.Timestamp.Equal(again.Timestamp))
	assert.Equal(t, 1, calls)

	later, _ := e.Observe(product(2, 0))
	assert.Equal(t, true, later.Timestamp.After(first.Timestamp))
	assert.Equal(t, 2, calls)
}

func TestAlertsOrderAndForget(t *testing.T) {
	e := NewEngine(clock.NewFake(time.Unix(0, 0)), 10)
	e.Observe(model.InventorySnapshot{ProductID: "a", StockQuantity: 4})
	e.Observe(model.InventorySnapshot{ProductID: "b", StockQuantity: 0})
	e.Observe(model.InventorySnapshot{ProductID: "c", StockQuantity: 2})

	var got []string
	for _, a := range e.Alerts() {
		got = append(got, a.ProductID)
	}
	assert.Equal(t, []string{"b", "c", "a"}, got)

	e.Forget("b")
	e.Forget("nope")
	_, ok := e.Alert("b")
	assert.Equal(t, false, ok)
	assert.Equal(t, 2, len(e.Alerts()))
}
