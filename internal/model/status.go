package model

import "fmt"

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusBusy    PresenceStatus = "busy"
	StatusOffline PresenceStatus = "offline"
)

// away is only reachable from online (inactivity); busy never decays.
var validNext = map[PresenceStatus]map[PresenceStatus]bool{
	StatusOnline:  {StatusAway: true, StatusBusy: true, StatusOffline: true},
	StatusAway:    {StatusOnline: true, StatusBusy: true, StatusOffline: true},
	StatusBusy:    {StatusOnline: true, StatusOffline: true},
	StatusOffline: {StatusOnline: true, StatusBusy: true},
}

func CanTransition(from, to PresenceStatus) bool {
	return validNext[from][to]
}

func ParsePresenceStatus(s string) (PresenceStatus, error) {
	st := PresenceStatus(s)
	if _, ok := validNext[st]; !ok {
		return "", fmt.Errorf("unknown presence status %q", s)
	}
	return st, nil
}
