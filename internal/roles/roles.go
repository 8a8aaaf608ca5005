// Package roles is the single capability table consulted when a session
// builds its modules.
package roles

import (
	"fmt"
	"sort"
	"strings"
)

type Role string

const (
	Admin      Role = "admin"
	Restaurant Role = "restaurant"
	Driver     Role = "driver"
)

type Capability string

const (
	Messages        Capability = "messages"
	StockAlerts     Capability = "stock_alerts"
	TrackLocation   Capability = "track_location"
	ViewLocations   Capability = "view_locations"
	Presence        Capability = "presence"
	ViewAllPresence Capability = "view_all_presence"
)

var table = map[Role]map[Capability]bool{
	Admin: {
		Messages: true, StockAlerts: true, ViewLocations: true,
		Presence: true, ViewAllPresence: true,
	},
	Restaurant: {
		Messages: true, StockAlerts: true, ViewLocations: true, Presence: true,
	},
	Driver: {
		Messages: true, TrackLocation: true, Presence: true,
	},
}

func Can(r Role, c Capability) bool {
	return table[r][c]
}

// Capabilities lists what r may do, sorted.
func Capabilities(r Role) []Capability {
	out := make([]Capability, 0, len(table[r]))
	for c, ok := range table[r] {
		if ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func Parse(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := table[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}
