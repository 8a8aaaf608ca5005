package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-realtime-sync/internal/model"
)

// Cache is the read-side mirror of presence and driver positions, kept
// warm from the change feed so status endpoints avoid the database.
type Cache struct {
	rdb *redis.Client
}

func NewCache(rdb *redis.Client) *Cache { return &Cache{rdb: rdb} }

func PresenceKey(userID string) string { return fmt.Sprintf(KeyPresence, userID) }

func LocationKey(deliveryID string) string { return fmt.Sprintf(KeyDeliveryLocation, deliveryID) }

func DedupKey(service, eventID string) string { return fmt.Sprintf(KeyDedup, service, eventID) }

// PutPresence stores rec unless the cached record is newer.
func (c *Cache) PutPresence(ctx context.Context, rec model.PresenceRecord) error {
	cur, ok, err := GetJSON[model.PresenceRecord](ctx, c.rdb, PresenceKey(rec.UserID))
	if err != nil {
		return err
	}
	if ok && rec.LastSeenAt.Before(cur.LastSeenAt) {
		return nil
	}
	return SetJSON(ctx, c.rdb, PresenceKey(rec.UserID), rec, TTLPresence)
}

func (c *Cache) Presence(ctx context.Context, userID string) (model.PresenceRecord, bool, error) {
	return GetJSON[model.PresenceRecord](ctx, c.rdb, PresenceKey(userID))
}

func (c *Cache) DropPresence(ctx context.Context, userID string) error {
	return c.rdb.Del(ctx, PresenceKey(userID)).Err()
}

// PutLocation keeps only the most recent sample of a delivery.
func (c *Cache) PutLocation(ctx context.Context, s model.LocationSample) error {
	cur, ok, err := GetJSON[model.LocationSample](ctx, c.rdb, LocationKey(s.DeliveryID))
	if err != nil {
		return err
	}
	if ok && s.RecordedAt.Before(cur.RecordedAt) {
		return nil
	}
	return SetJSON(ctx, c.rdb, LocationKey(s.DeliveryID), s, TTLLocation)
}

func (c *Cache) LatestLocation(ctx context.Context, deliveryID string) (model.LocationSample, bool, error) {
	return GetJSON[model.LocationSample](ctx, c.rdb, LocationKey(deliveryID))
}

func (c *Cache) Seen(ctx context.Context, service, eventID string) (bool, error) {
	return Exists(ctx, c.rdb, DedupKey(service, eventID))
}

func (c *Cache) MarkSeen(ctx context.Context, service, eventID string) error {
	return c.rdb.Set(ctx, DedupKey(service, eventID), "1", TTLDedup).Err()
}
