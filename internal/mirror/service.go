// Package mirror keeps the Redis read cache in step with the change feed:
// presence records and each delivery's latest position.
package mirror

import (
	"context"
	"errors"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-realtime-sync/internal/kafka"
	"github.com/ariefcatur/go-realtime-sync/internal/model"
	"github.com/ariefcatur/go-realtime-sync/internal/realtime"
)

type Cache interface {
	Seen(ctx context.Context, service, eventID string) (bool, error)
	MarkSeen(ctx context.Context, service, eventID string) error
	PutPresence(ctx context.Context, rec model.PresenceRecord) error
	DropPresence(ctx context.Context, userID string) error
	PutLocation(ctx context.Context, s model.LocationSample) error
}

type Service struct {
	Cache       Cache
	ServiceName string
	Log         *zap.Logger
}

// Topics are the feed topics the mirror consumes.
func Topics() []string {
	return []string{kafkax.Topic(model.TablePresence), kafkax.Topic(model.TableLocations)}
}

// HandleChange is installed as the consumer handler. Malformed messages are
// dropped so they are committed and never retried.
func (s *Service) HandleChange(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope
	env, raw, err := kafkax.UnwrapChange(m.Value)
	if errors.Is(err, kafkax.ErrNotAChange) {
		return nil
	}
	if err != nil {
		s.Log.Warn("drop feed message", zap.String("topic", m.Topic), zap.Error(err))
		return nil
	}

	// 2) dedup via Redis (event_id)
	if env.EventID != "" {
		seen, err := s.Cache.Seen(ctx, s.ServiceName, env.EventID)
		if err != nil {
			return err
		}
		if seen {
			return nil
		}
	}

	// 3) apply
	if err := s.apply(ctx, raw); err != nil {
		return err
	}
	if env.EventID == "" {
		return nil
	}
	return s.Cache.MarkSeen(ctx, s.ServiceName, env.EventID)
}

func (s *Service) apply(ctx context.Context, raw realtime.RawChange) error {
	switch raw.Table {
	case model.TablePresence:
		ev, err := realtime.Decode[model.PresenceRecord](raw)
		if err != nil {
			s.Log.Warn("drop presence change", zap.Error(err))
			return nil
		}
		if ev.Op == realtime.OpDelete {
			return s.Cache.DropPresence(ctx, ev.Entity.UserID)
		}
		return s.Cache.PutPresence(ctx, ev.Entity)
	case model.TableLocations:
		ev, err := realtime.Decode[model.LocationSample](raw)
		if err != nil {
			s.Log.Warn("drop location change", zap.Error(err))
			return nil
		}
		if ev.Op != realtime.OpInsert {
			return nil
		}
		return s.Cache.PutLocation(ctx, ev.Entity)
	}
	return nil
}
