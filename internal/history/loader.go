// Package history pages backwards through stored items and prepends them to
// a live collection. Live events keep arriving at the tail; the collection's
// id dedupe is the only overlap guard.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/go-realtime-sync/internal/errs"
	"github.com/ariefcatur/go-realtime-sync/internal/reconcile"
)

const DefaultPageSize = 50

// Cursor selects items strictly older than (Before, BeforeID). A zero
// Before selects the newest items.
type Cursor struct {
	Before   time.Time
	BeforeID string
	Limit    int
}

// Page holds items newest first, the way the store returns them, plus the
// total number of items the store holds.
type Page[T any] struct {
	Items []T
	Total int
}

type Fetcher[T any] func(ctx context.Context, c Cursor) (Page[T], error)

// KeyFunc returns the ordering key of an item.
type KeyFunc[T any] func(T) (time.Time, string)

type Loader[T any] struct {
	coll     *reconcile.Collection[T]
	fetch    Fetcher[T]
	key      KeyFunc[T]
	pageSize int

	mu      sync.Mutex
	loading bool
	loaded  bool
	hasMore bool
	total   int
	err     error
	closed  bool
}

func New[T any](coll *reconcile.Collection[T], fetch Fetcher[T], key KeyFunc[T], pageSize int) *Loader[T] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Loader[T]{coll: coll, fetch: fetch, key: key, pageSize: pageSize}
}

// LoadInitial fetches the newest page. Errors are kept in Err.
func (l *Loader[T]) LoadInitial(ctx context.Context) {
	l.load(ctx, Cursor{Limit: l.pageSize})
}

// LoadMore fetches the page just before the oldest held item. It does
// nothing while another load is running or when nothing is left.
func (l *Loader[T]) LoadMore(ctx context.Context) {
	l.mu.Lock()
	if !l.loaded {
		l.mu.Unlock()
		l.LoadInitial(ctx)
		return
	}
	more := l.hasMore
	l.mu.Unlock()
	if !more {
		return
	}
	c := Cursor{Limit: l.pageSize}
	if oldest, ok := l.coll.Oldest(); ok {
		c.Before, c.BeforeID = l.key(oldest)
	}
	l.load(ctx, c)
}

func (l *Loader[T]) load(ctx context.Context, c Cursor) {
	l.mu.Lock()
	if l.loading || l.closed {
		l.mu.Unlock()
		return
	}
	l.loading = true
	l.mu.Unlock()

	page, err := l.fetch(ctx, c)
	if err != nil {
		l.mu.Lock()
		l.loading = false
		if !l.closed {
			l.err = errs.Connection("load history", err)
		}
		l.mu.Unlock()
		return
	}
	if l.isClosed() {
		l.finish(func() {})
		return
	}

	asc := make([]T, len(page.Items))
	for i, it := range page.Items {
		asc[len(asc)-1-i] = it
	}
	l.coll.Prepend(asc)
	if c.Before.IsZero() {
		// live events that landed during the first fetch may be older
		// than some of the page
		l.coll.Sort(l.less)
	}
	held := l.coll.Len()

	l.finish(func() {
		l.err = nil
		l.loaded = true
		l.total = page.Total
		l.hasMore = len(page.Items) == c.Limit && page.Total > held
	})
}

func (l *Loader[T]) less(a, b T) bool {
	at, aid := l.key(a)
	bt, bid := l.key(b)
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	return aid < bid
}

func (l *Loader[T]) finish(fn func()) {
	l.mu.Lock()
	l.loading = false
	if !l.closed {
		fn()
	}
	l.mu.Unlock()
}

func (l *Loader[T]) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Loader[T]) HasMore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hasMore
}

func (l *Loader[T]) IsLoading() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loading
}

func (l *Loader[T]) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Total is the store count reported by the last page.
func (l *Loader[T]) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Close drops the result of any load still running.
func (l *Loader[T]) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}
