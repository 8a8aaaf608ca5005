// Package store is the Postgres side of the sync layer. Every committed
// write is published on the change feed so all subscribers, the writer
// included, receive the echo.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-sync/internal/realtime"
)

type Store struct {
	DB  *pgxpool.Pool
	Pub realtime.Publisher
	Log *zap.Logger
}

func New(db *pgxpool.Pool, pub realtime.Publisher, log *zap.Logger) *Store {
	return &Store{DB: db, Pub: pub, Log: log}
}

// echo publishes a committed change. A lost echo does not undo the write,
// so failures are logged only.
func echo[T any](ctx context.Context, s *Store, op realtime.Op, table string, entity T, prev *T, at time.Time) {
	if s.Pub == nil {
		return
	}
	raw, err := realtime.Encode(op, table, entity, prev, at)
	if err == nil {
		err = s.Pub.Publish(ctx, raw)
	}
	if err != nil {
		s.Log.Warn("echo publish failed", zap.String("table", table), zap.String("op", string(op)), zap.Error(err))
	}
}
