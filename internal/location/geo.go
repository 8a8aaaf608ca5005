package location

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const earthRadiusM = 6371000.0

type Point struct {
	Lat float64
	Lon float64
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b Point) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(b.Lat - a.Lat)
	dLon := rad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(a.Lat))*math.Cos(rad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

func MpsToKmh(v float64) float64 { return v * 3.6 }

func KmhToMps(v float64) float64 { return v / 3.6 }

// ParseRoute reads "lat,lon;lat,lon;..." as used by ROUTE_POINTS.
func ParseRoute(s string) ([]Point, error) {
	var out []Point
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ll := strings.Split(part, ",")
		if len(ll) != 2 {
			return nil, fmt.Errorf("route point %q: want lat,lon", part)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(ll[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("route point %q: %w", part, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(ll[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("route point %q: %w", part, err)
		}
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return nil, fmt.Errorf("route point %q: out of range", part)
		}
		out = append(out, Point{Lat: lat, Lon: lon})
	}
	return out, nil
}

// Bearing returns the initial course from a to b in degrees, 0 to 360.
func Bearing(a, b Point) float64 {
	rad := math.Pi / 180
	y := math.Sin((b.Lon-a.Lon)*rad) * math.Cos(b.Lat*rad)
	x := math.Cos(a.Lat*rad)*math.Sin(b.Lat*rad) -
		math.Sin(a.Lat*rad)*math.Cos(b.Lat*rad)*math.Cos((b.Lon-a.Lon)*rad)
	return math.Mod(math.Atan2(y, x)/rad+360, 360)
}
