package location

import (
	"sync"

	"github.com/ariefcatur/go-realtime-sync/internal/model"
)

const DefaultBufferSize = 50

// Ring keeps the most recent samples, oldest first, one per sample id.
type Ring struct {
	mu    sync.Mutex
	buf   []model.LocationSample
	start int
	n     int
	ids   map[string]bool
}

func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Ring{buf: make([]model.LocationSample, size), ids: map[string]bool{}}
}

// Add appends s unless its id is already held, evicting the oldest sample
// when full.
func (r *Ring) Add(s model.LocationSample) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID != "" && r.ids[s.ID] {
		return false
	}
	if r.n == len(r.buf) {
		delete(r.ids, r.buf[r.start].ID)
		r.buf[r.start] = s
		r.start = (r.start + 1) % len(r.buf)
	} else {
		r.buf[(r.start+r.n)%len(r.buf)] = s
		r.n++
	}
	if s.ID != "" {
		r.ids[s.ID] = true
	}
	return true
}

func (r *Ring) Samples() []model.LocationSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.LocationSample, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *Ring) Latest() (model.LocationSample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == 0 {
		return model.LocationSample{}, false
	}
	return r.buf[(r.start+r.n-1)%len(r.buf)], true
}

func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}
