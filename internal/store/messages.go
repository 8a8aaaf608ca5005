package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-realtime-sync/internal/history"
	"github.com/ariefcatur/go-realtime-sync/internal/model"
	"github.com/ariefcatur/go-realtime-sync/internal/realtime"
)

const messageCols = `id, order_id, sender_id, body, type, is_read, read_at, created_at, client_ref`

func scanMessage(row pgx.Row) (model.Message, error) {
	var (
		m   model.Message
		ref *string
	)
	if err := row.Scan(&m.ID, &m.OrderID, &m.SenderID, &m.Body, &m.Type, &m.IsRead, &m.ReadAt, &m.CreatedAt, &ref); err != nil {
		return m, err
	}
	if ref != nil {
		m.ClientRef = *ref
	}
	return m, nil
}

// InsertMessage is idempotent on id: inserting an id twice returns the
// stored row and publishes nothing the second time.
func (s *Store) InsertMessage(ctx context.Context, m model.Message) (model.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Type == "" {
		m.Type = model.MessageText
	}
	var ref *string
	if m.ClientRef != "" {
		ref = &m.ClientRef
	}
	out, err := scanMessage(s.DB.QueryRow(ctx, `
		INSERT INTO messages(id, order_id, sender_id, body, type, client_ref)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO NOTHING
		RETURNING `+messageCols,
		m.ID, m.OrderID, m.SenderID, m.Body, m.Type, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return scanMessage(s.DB.QueryRow(ctx, `SELECT `+messageCols+` FROM messages WHERE id=$1`, m.ID))
	}
	if err != nil {
		return model.Message{}, err
	}
	echo(ctx, s, realtime.OpInsert, model.TableMessages, out, nil, out.CreatedAt)
	return out, nil
}

// MarkRead flags unread messages of an order; already read ones are left
// alone and produce no echo.
func (s *Store) MarkRead(ctx context.Context, orderID string, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	rows, err := s.DB.Query(ctx, `
		UPDATE messages SET is_read = true, read_at = $3
		WHERE order_id = $1 AND id = ANY($2) AND NOT is_read
		RETURNING `+messageCols, orderID, ids, at)
	if err != nil {
		return err
	}
	var updated []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return err
		}
		updated = append(updated, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, m := range updated {
		prev := m
		prev.IsRead, prev.ReadAt = false, nil
		echo(ctx, s, realtime.OpUpdate, model.TableMessages, m, &prev, at)
	}
	return nil
}

// ListMessages returns one page older than the cursor, newest first, and
// the number of messages the order holds.
func (s *Store) ListMessages(ctx context.Context, orderID string, c history.Cursor) (history.Page[model.Message], error) {
	var page history.Page[model.Message]
	if err := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE order_id=$1`, orderID).Scan(&page.Total); err != nil {
		return page, err
	}
	limit := c.Limit
	if limit <= 0 {
		limit = history.DefaultPageSize
	}

	var (
		rows pgx.Rows
		err  error
	)
	if c.Before.IsZero() {
		rows, err = s.DB.Query(ctx, `SELECT `+messageCols+` FROM messages
			WHERE order_id=$1
			ORDER BY created_at DESC, id DESC LIMIT $2`, orderID, limit)
	} else {
		rows, err = s.DB.Query(ctx, `SELECT `+messageCols+` FROM messages
			WHERE order_id=$1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC LIMIT $4`, orderID, c.Before, c.BeforeID, limit)
	}
	if err != nil {
		return page, err
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return page, err
		}
		page.Items = append(page.Items, m)
	}
	return page, rows.Err()
}
