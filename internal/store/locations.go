package store

import (
	"context"

	"github.com/ariefcatur/go-realtime-sync/internal/model"
	"github.com/ariefcatur/go-realtime-sync/internal/realtime"
)

func (s *Store) InsertLocation(ctx context.Context, l model.LocationSample) error {
	tag, err := s.DB.Exec(ctx, `
		INSERT INTO location_history(id, delivery_id, driver_id, latitude, longitude, accuracy, heading, speed, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO NOTHING`,
		l.ID, l.DeliveryID, l.DriverID, l.Latitude, l.Longitude, l.Accuracy, l.Heading, l.Speed, l.RecordedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return nil
	}
	echo(ctx, s, realtime.OpInsert, model.TableLocations, l, nil, l.RecordedAt)
	return nil
}

// RecentLocations returns up to limit samples of a delivery, newest first.
func (s *Store) RecentLocations(ctx context.Context, deliveryID string, limit int) ([]model.LocationSample, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.Query(ctx, `
		SELECT id, delivery_id, driver_id, latitude, longitude, accuracy, heading, speed, recorded_at
		FROM location_history WHERE delivery_id=$1
		ORDER BY recorded_at DESC, id DESC LIMIT $2`, deliveryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LocationSample
	for rows.Next() {
		var l model.LocationSample
		if err := rows.Scan(&l.ID, &l.DeliveryID, &l.DriverID, &l.Latitude, &l.Longitude,
			&l.Accuracy, &l.Heading, &l.Speed, &l.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
