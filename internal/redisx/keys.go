package redisx

import "time"

const (
	// Presence mirror: presence:{user_id} -> PresenceRecord JSON
	KeyPresence = "presence:%s"

	// Latest driver position: delivery_location:{delivery_id} -> LocationSample JSON
	KeyDeliveryLocation = "delivery_location:%s"

	// Dedup feed processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLPresence = 10 * time.Minute
	TTLLocation = 30 * time.Minute
	TTLDedup    = 48 * time.Hour
)
