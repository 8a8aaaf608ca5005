package reconcile

import (
	"fmt"
	mathrand "math/rand"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/ariefcatur/go-realtime-sync/internal/realtime"
)

type item struct {
	ID  string
	Ref string
	V   int
}

func newItems(opts ...Option[item]) *Collection[item] {
	return New(func(i item) string { return i.ID }, opts...)
}

func ids(c *Collection[item]) []string {
	var out []string
	for _, it := range c.Items() {
		out = append(out, it.ID)
	}
	return out
}

func assertUnique(t *testing.T, c *Collection[item]) {
	seen := map[string]bool{}
	for _, id := range ids(c) {
		if seen[id] {
			t.Fatalf("duplicate id %s in %v", id, ids(c))
		}
		seen[id] = true
	}
}

func ev(op realtime.Op, id string, v int) realtime.ChangeEvent[item] {
	return realtime.ChangeEvent[item]{Op: op, Entity: item{ID: id, V: v}}
}

func TestInsertDedupe(t *testing.T) {
	c := newItems()
	assert.Equal(t, true, c.Apply(ev(realtime.OpInsert, "a", 1)))
	assert.Equal(t, false, c.Apply(ev(realtime.OpInsert, "a", 1)))
	assert.Equal(t, true, c.Apply(ev(realtime.OpInsert, "b", 1)))
	assert.Equal(t, []string{"a", "b"}, ids(c))
}

func TestUpdateBeforeInsert(t *testing.T) {
	c := newItems()
	c.Apply(ev(realtime.OpUpdate, "a", 2))
	c.Apply(ev(realtime.OpInsert, "a", 1))
	got, ok := c.Get("a")
	assert.Equal(t, true, ok)
	assert.Equal(t, 2, got.V)
	assert.Equal(t, 1, c.Len())
}

func TestDeleteMissingIsNoop(t *testing.T) {
	c := newItems()
	c.Apply(ev(realtime.OpInsert, "a", 1))
	assert.Equal(t, false, c.Apply(ev(realtime.OpDelete, "zz", 0)))
	assert.Equal(t, true, c.Apply(ev(realtime.OpDelete, "a", 0)))
	assert.Equal(t, 0, c.Len())
}

func TestIdempotentReplay(t *testing.T) {
	events := []realtime.ChangeEvent[item]{
		ev(realtime.OpInsert, "a", 1),
		ev(realtime.OpInsert, "b", 1),
		ev(realtime.OpUpdate, "a", 2),
		ev(realtime.OpDelete, "b", 0),
		ev(realtime.OpInsert, "c", 1),
	}
	for _, e := range events {
		once := newItems()
		twice := newItems()
		for _, prior := range events {
			once.Apply(prior)
			twice.Apply(prior)
			if prior == e {
				break
			}
		}
		twice.Apply(e)
		assert.Equal(t, once.Items(), twice.Items())
	}
}

func TestNoDuplicatesAnyOrder(t *testing.T) {
	r := mathrand.New(mathrand.NewSource(7))
	for round := 0; round < 200; round++ {
		var events []realtime.ChangeEvent[item]
		for i := 0; i < 10; i++ {
			id := fmt.Sprintf("m%d", r.Intn(5))
			switch r.Intn(3) {
			case 0:
				events = append(events, ev(realtime.OpInsert, id, i))
			case 1:
				events = append(events, ev(realtime.OpUpdate, id, i))
			default:
				events = append(events, ev(realtime.OpDelete, id, i))
			}
		}
		// at-least-once: duplicate a few
		for i := 0; i < 3; i++ {
			events = append(events, events[r.Intn(len(events))])
		}
		r.Shuffle(len(events), func(i, j int) { events[i], events[j] = events[j], events[i] })

		c := newItems()
		c.Optimistic(item{ID: "m0", V: -1})
		for _, e := range events {
			c.Apply(e)
			assertUnique(t, c)
		}
	}
}

func TestOptimisticEchoSameID(t *testing.T) {
	c := newItems()
	c.Optimistic(item{ID: "x", V: 0})
	assert.Equal(t, true, c.Pending("x"))

	c.Apply(ev(realtime.OpInsert, "x", 1))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, false, c.Pending("x"))
	got, _ := c.Get("x")
	assert.Equal(t, 1, got.V)

	// confirm after the echo is harmless
	c.Confirm(item{ID: "x", V: 1})
	assert.Equal(t, 1, c.Len())
}

func TestOptimisticEchoServerID(t *testing.T) {
	c := newItems(WithCorrelation(func(i item) string { return i.Ref }))
	c.Apply(ev(realtime.OpInsert, "first", 0))
	c.Optimistic(item{ID: "tmp-1", Ref: "r1"})
	c.Apply(ev(realtime.OpInsert, "later", 0))

	c.Apply(realtime.ChangeEvent[item]{Op: realtime.OpInsert, Entity: item{ID: "srv-9", Ref: "r1", V: 5}})
	assert.Equal(t, []string{"first", "srv-9", "later"}, ids(c))
	_, ok := c.Get("tmp-1")
	assert.Equal(t, false, ok)

	// redelivery of the echo
	c.Apply(realtime.ChangeEvent[item]{Op: realtime.OpInsert, Entity: item{ID: "srv-9", Ref: "r1", V: 5}})
	assert.Equal(t, 3, c.Len())
}

func TestRollback(t *testing.T) {
	c := newItems()
	c.Optimistic(item{ID: "x"})
	c.Optimistic(item{ID: "y"})
	c.Apply(ev(realtime.OpInsert, "y", 1))

	assert.Equal(t, true, c.Rollback("x"))
	assert.Equal(t, false, c.Rollback("y"))
	assert.Equal(t, []string{"y"}, ids(c))
}

func TestPrependSkipsHeld(t *testing.T) {
	c := newItems()
	c.Apply(ev(realtime.OpInsert, "c", 0))
	c.Apply(ev(realtime.OpInsert, "d", 0))
	n := c.Prepend([]item{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "b"}})
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(c))

	old, _ := c.Oldest()
	assert.Equal(t, "a", old.ID)

	c.Apply(ev(realtime.OpDelete, "b", 0))
	got, ok := c.Get("d")
	assert.Equal(t, true, ok)
	assert.Equal(t, "d", got.ID)
}

func TestPatchAndOnChange(t *testing.T) {
	calls := 0
	c := newItems(WithOnChange[item](func() { calls++ }))
	c.Apply(ev(realtime.OpInsert, "a", 1))
	assert.Equal(t, true, c.Patch("a", func(i item) item { i.V = 9; return i }))
	assert.Equal(t, false, c.Patch("nope", func(i item) item { return i }))
	c.Apply(ev(realtime.OpInsert, "a", 1))

	got, _ := c.Get("a")
	assert.Equal(t, 9, got.V)
	assert.Equal(t, 2, calls)
}

func TestSortKeepsIndex(t *testing.T) {
	c := New(func(s string) string { return s })
	for _, id := range []string{"c", "a", "b"} {
		c.Insert(id)
	}
	c.Sort(func(a, b string) bool { return a < b })
	assert.Equal(t, []string{"a", "b", "c"}, c.Items())
	assert.Equal(t, false, c.Insert("a"))
	assert.Equal(t, true, c.Delete("b"))
	assert.Equal(t, []string{"a", "c"}, c.Items())
}
