// Package reconcile merges an at-least-once, possibly reordered change stream
// into a locally held ordered collection that may also contain optimistic
// entries. At all times the collection holds at most one entry per id.
package reconcile

import (
	"sort"
	"sync"

	"github.com/ariefcatur/go-realtime-sync/internal/realtime"
	"go.uber.org/zap"
)

type Option[T any] func(*Collection[T])

// WithCorrelation lets an echo that carries a server-assigned id collapse
// into the optimistic entry it answers, matched by ref.
func WithCorrelation[T any](ref func(T) string) Option[T] {
	return func(c *Collection[T]) { c.ref = ref }
}

// WithOnChange is called, outside the lock, after every mutation.
func WithOnChange[T any](fn func()) Option[T] {
	return func(c *Collection[T]) { c.onChange = fn }
}

type Collection[T any] struct {
	id       func(T) string
	ref      func(T) string
	onChange func()

	mu      sync.RWMutex
	items   []T
	index   map[string]int
	pending map[string]string // correlation ref -> optimistic id
}

func New[T any](id func(T) string, opts ...Option[T]) *Collection[T] {
	c := &Collection[T]{
		id:      id,
		index:   map[string]int{},
		pending: map[string]string{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Apply folds one change event into the collection and reports whether
// anything changed.
func (c *Collection[T]) Apply(ev realtime.ChangeEvent[T]) bool {
	switch ev.Op {
	case realtime.OpInsert:
		return c.Insert(ev.Entity)
	case realtime.OpUpdate:
		return c.Update(ev.Entity)
	case realtime.OpDelete:
		return c.Delete(c.id(ev.Entity))
	}
	return false
}

// Consumer decodes feed changes for this collection.
func (c *Collection[T]) Consumer(log *zap.Logger) realtime.Consumer {
	return realtime.Typed(log, func(ev realtime.ChangeEvent[T]) { c.Apply(ev) })
}

// Insert appends e unless its id is already held. An echo of a pending
// optimistic entry replaces it in place.
func (c *Collection[T]) Insert(e T) bool {
	c.mu.Lock()
	changed := c.insertLocked(e)
	c.mu.Unlock()
	return c.notify(changed)
}

func (c *Collection[T]) insertLocked(e T) bool {
	id := c.id(e)
	if i, ok := c.index[id]; ok {
		if !c.isPendingLocked(id) {
			return false // redelivery
		}
		c.items[i] = e
		c.clearPendingLocked(id)
		return true
	}
	if i, ok := c.correlatedLocked(e); ok {
		c.replaceAtLocked(i, e)
		return true
	}
	c.index[id] = len(c.items)
	c.items = append(c.items, e)
	return true
}

// Update replaces the entry with the same id, or inserts it when the update
// overtook its insert.
func (c *Collection[T]) Update(e T) bool {
	c.mu.Lock()
	id := c.id(e)
	var changed bool
	if i, ok := c.index[id]; ok {
		c.items[i] = e
		c.clearPendingLocked(id)
		changed = true
	} else {
		changed = c.insertLocked(e)
	}
	c.mu.Unlock()
	return c.notify(changed)
}

// Delete removes id; unknown ids are a no-op.
func (c *Collection[T]) Delete(id string) bool {
	c.mu.Lock()
	ok := c.deleteLocked(id)
	c.mu.Unlock()
	return c.notify(ok)
}

func (c *Collection[T]) deleteLocked(id string) bool {
	i, ok := c.index[id]
	if !ok {
		return false
	}
	c.clearPendingLocked(id)
	c.items = append(c.items[:i], c.items[i+1:]...)
	delete(c.index, id)
	c.reindexLocked(i)
	return true
}

// Optimistic appends e before the remote write completes and marks it
// pending until its echo arrives.
func (c *Collection[T]) Optimistic(e T) bool {
	c.mu.Lock()
	id := c.id(e)
	if _, ok := c.index[id]; ok {
		c.mu.Unlock()
		return false
	}
	c.index[id] = len(c.items)
	c.items = append(c.items, e)
	c.pending[c.refOf(e)] = id
	c.mu.Unlock()
	return c.notify(true)
}

// Rollback removes an optimistic entry whose write failed. Entries already
// confirmed by an echo are kept.
func (c *Collection[T]) Rollback(id string) bool {
	c.mu.Lock()
	ok := c.isPendingLocked(id) && c.deleteLocked(id)
	c.mu.Unlock()
	return c.notify(ok)
}

// Confirm folds the authoritative row returned by a successful write. It
// behaves like the echo and is harmless if the echo already arrived.
func (c *Collection[T]) Confirm(e T) bool {
	return c.Insert(e)
}

// Prepend adds older items at the head, skipping ids already held. It
// returns how many were added.
func (c *Collection[T]) Prepend(older []T) int {
	c.mu.Lock()
	seen := map[string]bool{}
	fresh := make([]T, 0, len(older))
	for _, e := range older {
		id := c.id(e)
		if _, ok := c.index[id]; ok || seen[id] {
			continue
		}
		seen[id] = true
		fresh = append(fresh, e)
	}
	if len(fresh) > 0 {
		c.items = append(fresh, c.items...)
		c.reindexLocked(0)
	}
	c.mu.Unlock()
	c.notify(len(fresh) > 0)
	return len(fresh)
}

// Sort reorders the collection with a stable sort on less.
func (c *Collection[T]) Sort(less func(a, b T) bool) {
	c.mu.Lock()
	sort.SliceStable(c.items, func(i, j int) bool { return less(c.items[i], c.items[j]) })
	c.reindexLocked(0)
	c.mu.Unlock()
}

// Patch applies a local mutation to the entry with id. fn must not change
// the id.
func (c *Collection[T]) Patch(id string, fn func(T) T) bool {
	c.mu.Lock()
	i, ok := c.index[id]
	if ok {
		c.items[i] = fn(c.items[i])
	}
	c.mu.Unlock()
	return c.notify(ok)
}

func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var zero T
	i, ok := c.index[id]
	if !ok {
		return zero, false
	}
	return c.items[i], true
}

func (c *Collection[T]) Pending(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isPendingLocked(id)
}

func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Items returns a copy in collection order.
func (c *Collection[T]) Items() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]T(nil), c.items...)
}

// Oldest returns the head entry.
func (c *Collection[T]) Oldest() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var zero T
	if len(c.items) == 0 {
		return zero, false
	}
	return c.items[0], true
}

func (c *Collection[T]) refOf(e T) string {
	if c.ref != nil {
		if r := c.ref(e); r != "" {
			return r
		}
	}
	return c.id(e)
}

func (c *Collection[T]) isPendingLocked(id string) bool {
	for _, pid := range c.pending {
		if pid == id {
			return true
		}
	}
	return false
}

func (c *Collection[T]) clearPendingLocked(id string) {
	for r, pid := range c.pending {
		if pid == id {
			delete(c.pending, r)
		}
	}
}

// correlatedLocked finds the optimistic entry e answers under a different id.
func (c *Collection[T]) correlatedLocked(e T) (int, bool) {
	if c.ref == nil {
		return 0, false
	}
	r := c.ref(e)
	if r == "" {
		return 0, false
	}
	pid, ok := c.pending[r]
	if !ok {
		return 0, false
	}
	i, ok := c.index[pid]
	return i, ok
}

func (c *Collection[T]) replaceAtLocked(i int, e T) {
	old := c.id(c.items[i])
	c.clearPendingLocked(old)
	delete(c.index, old)
	c.items[i] = e
	c.index[c.id(e)] = i
}

func (c *Collection[T]) reindexLocked(from int) {
	for i := from; i < len(c.items); i++ {
		c.index[c.id(c.items[i])] = i
	}
}

func (c *Collection[T]) notify(changed bool) bool {
	if changed && c.onChange != nil {
		c.onChange()
	}
	return changed
}
