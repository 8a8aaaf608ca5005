package location

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrPermissionDenied and ErrUnavailable end a tracking session.
	ErrPermissionDenied = errors.New("location permission denied")
	ErrUnavailable      = errors.New("location unavailable on this device")
)

// Fix is one raw position reading. Speed is in m/s as devices report it.
type Fix struct {
	Point
	Accuracy *float64
	Heading  *float64
	SpeedMps *float64
	At       time.Time
}

type Source interface {
	Read(ctx context.Context) (Fix, error)
}

// ReplaySource walks a fixed route one point per Read and then stays at the
// last point. Speed is derived from the distance between points.
type ReplaySource struct {
	route    []Point
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	next   int
	parked bool
}

func NewReplaySource(route []Point, interval time.Duration, now func() time.Time) (*ReplaySource, error) {
	if len(route) == 0 {
		return nil, ErrUnavailable
	}
	if now == nil {
		now = time.Now
	}
	return &ReplaySource{route: route, interval: interval, now: now}, nil
}

func (s *ReplaySource) Read(ctx context.Context) (Fix, error) {
	if err := ctx.Err(); err != nil {
		return Fix{}, err
	}
	s.mu.Lock()
	i := s.next
	parked := s.parked
	if s.next < len(s.route)-1 {
		s.next++
	} else {
		s.parked = true
	}
	s.mu.Unlock()

	acc := 5.0
	var speed float64
	f := Fix{Point: s.route[i], Accuracy: &acc, SpeedMps: &speed, At: s.now()}
	if i > 0 {
		h := Bearing(s.route[i-1], s.route[i])
		f.Heading = &h
		if !parked && s.interval > 0 {
			speed = Haversine(s.route[i-1], s.route[i]) / s.interval.Seconds()
		}
	}
	return f, nil
}
