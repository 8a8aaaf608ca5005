package location

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/ariefcatur/go-realtime-sync/internal/model"
)

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestHaversine(t *testing.T) {
	jakarta := Point{Lat: -6.2088, Lon: 106.8456}
	bandung := Point{Lat: -6.9175, Lon: 107.6191}
	d := Haversine(jakarta, bandung)
	assert.Equal(t, true, near(d, 116000, 2000))
	assert.Equal(t, 0.0, Haversine(jakarta, jakarta))
	assert.Equal(t, true, near(Haversine(jakarta, bandung), Haversine(bandung, jakarta), 1e-6))
}

func TestSpeedConversion(t *testing.T) {
	assert.Equal(t, 36.0, MpsToKmh(10))
	assert.Equal(t, true, near(KmhToMps(MpsToKmh(7.5)), 7.5, 1e-9))
}

func TestBearing(t *testing.T) {
	assert.Equal(t, true, near(Bearing(Point{0, 0}, Point{1, 0}), 0, 1e-6))
	assert.Equal(t, true, near(Bearing(Point{0, 0}, Point{0, 1}), 90, 1e-6))
}

func TestParseRoute(t *testing.T) {
	pts, err := ParseRoute(" -6.2,106.8; -6.21,106.81 ;")
	assert.Equal(t, nil, err)
	assert.Equal(t, []Point{{-6.2, 106.8}, {-6.21, 106.81}}, pts)

	_, err = ParseRoute("1,2,3")
	assert.NotEqual(t, nil, err)
	_, err = ParseRoute("91,0")
	assert.NotEqual(t, nil, err)
	_, err = ParseRoute("a,b")
	assert.NotEqual(t, nil, err)
}

func TestRingEvictsAndDedupes(t *testing.T) {
	r := NewRing(3)
	for _, id := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, true, r.Add(model.LocationSample{ID: id}))
	}
	assert.Equal(t, false, r.Add(model.LocationSample{ID: "c"}))
	var ids []string
	for _, s := range r.Samples() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"b", "c", "d"}, ids)
	latest, _ := r.Latest()
	assert.Equal(t, "d", latest.ID)

	// evicted ids may come back
	assert.Equal(t, true, r.Add(model.LocationSample{ID: "a"}))
	assert.Equal(t, 3, r.Len())
}

func TestReplaySourceParksAtEnd(t *testing.T) {
	route := []Point{{0, 0}, {0, 0.001}}
	src, err := NewReplaySource(route, 10*time.Second, func() time.Time { return time.Unix(0, 0) })
	assert.Equal(t, nil, err)
	ctx := context.Background()

	f, _ := src.Read(ctx)
	assert.Equal(t, 0.0, *f.SpeedMps)
	f, _ = src.Read(ctx)
	assert.Equal(t, true, near(*f.SpeedMps, 11.1, 0.2))
	f, _ = src.Read(ctx)
	assert.Equal(t, route[1], f.Point)
	assert.Equal(t, 0.0, *f.SpeedMps)

	_, err = NewReplaySource(nil, time.Second, nil)
	assert.Equal(t, ErrUnavailable, err)
}
