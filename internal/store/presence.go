package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-realtime-sync/internal/model"
	"github.com/ariefcatur/go-realtime-sync/internal/realtime"
)

const presenceCols = `user_id, status, last_seen_at, latitude, longitude`

func scanPresence(row pgx.Row) (model.PresenceRecord, error) {
	var (
		r      model.PresenceRecord
		status string
	)
	if err := row.Scan(&r.UserID, &status, &r.LastSeenAt, &r.Latitude, &r.Longitude); err != nil {
		return r, err
	}
	r.Status = model.PresenceStatus(status)
	return r, nil
}

// UpsertPresence never moves last_seen_at backwards. A stale write is
// accepted silently and publishes nothing.
func (s *Store) UpsertPresence(ctx context.Context, rec model.PresenceRecord) error {
	out, err := scanPresence(s.DB.QueryRow(ctx, `
		INSERT INTO user_presence(user_id, status, last_seen_at, latitude, longitude)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (user_id) DO UPDATE SET
			status       = EXCLUDED.status,
			last_seen_at = EXCLUDED.last_seen_at,
			latitude     = COALESCE(EXCLUDED.latitude, user_presence.latitude),
			longitude    = COALESCE(EXCLUDED.longitude, user_presence.longitude)
		WHERE user_presence.last_seen_at <= EXCLUDED.last_seen_at
		RETURNING `+presenceCols,
		rec.UserID, string(rec.Status), rec.LastSeenAt, rec.Latitude, rec.Longitude))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	echo(ctx, s, realtime.OpUpdate, model.TablePresence, out, nil, out.LastSeenAt)
	return nil
}

func (s *Store) ListPresence(ctx context.Context) ([]model.PresenceRecord, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+presenceCols+` FROM user_presence ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PresenceRecord
	for rows.Next() {
		r, err := scanPresence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
