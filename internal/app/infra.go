package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-sync/internal/clock"
	"github.com/ariefcatur/go-realtime-sync/internal/config"
	kafkax "github.com/ariefcatur/go-realtime-sync/internal/kafka"
	"github.com/ariefcatur/go-realtime-sync/internal/postgres"
	"github.com/ariefcatur/go-realtime-sync/internal/realtime"
	"github.com/ariefcatur/go-realtime-sync/internal/redisx"
	"github.com/ariefcatur/go-realtime-sync/internal/roles"
	"github.com/ariefcatur/go-realtime-sync/internal/session"
	"github.com/ariefcatur/go-realtime-sync/internal/store"
)

// Infra is everything a daemon connects to before it builds a session.
type Infra struct {
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Cache     *redisx.Cache
	Producer  *kafkax.Producer
	Store     *store.Store
	Transport realtime.Transport

	release func()
	log     *zap.Logger
}

func Open(ctx context.Context, cfg config.Config, log *zap.Logger) (*Infra, error) {
	in := &Infra{log: log, release: func() {}}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, log.Named("postgres"))
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	in.DB = db
	if cfg.RunMigration {
		if err := store.Migrate(ctx, db, log); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	// Redis
	in.Redis = redisx.New(cfg.RedisAddr)
	in.Cache = redisx.NewCache(in.Redis)

	// Kafka producer carries the store echoes
	in.Producer = kafkax.NewProducer(cfg.KafkaBrokers, cfg.ProducerBuf, log.Named("producer"))
	in.Producer.Start(ctx)
	in.Store = store.New(db, &kafkax.ChangePublisher{P: in.Producer, Service: cfg.ServiceName}, log.Named("store"))

	t, release, err := NewTransport(cfg, log)
	if err != nil {
		in.Close()
		return nil, err
	}
	in.Transport, in.release = t, release
	return in, nil
}

func (in *Infra) Session(cfg config.Config, log *zap.Logger) (*session.Session, error) {
	return session.New(in.Transport, session.Stores{
		Chat:      in.Store,
		Presence:  in.Store,
		Inventory: in.Store,
		Locations: in.Store,
	}, clock.Real(), log, session.Config{
		Role:              roles.Role(cfg.Role),
		UserID:            cfg.UserID,
		InactivityTimeout: cfg.PresenceInactivity,
		TypingAutoStop:    cfg.TypingAutoStop,
		TypingSafety:      cfg.TypingSafety,
		HistoryPageSize:   cfg.HistoryPageSize,
		LowStockThreshold: cfg.LowStockThreshold,
		LocationInterval:  cfg.LocationInterval,
		LocationBuffer:    cfg.LocationBuffer,
		PresencePeers:     cfg.PresencePeers,
	})
}

// Close releases in reverse order of Open. Queued echoes are flushed before
// the producer exits.
func (in *Infra) Close() {
	in.release()
	if in.Producer != nil {
		in.Producer.Close()
		in.Producer.WaitClosed()
	}
	if in.Redis != nil {
		if err := in.Redis.Close(); err != nil {
			in.log.Warn("redis close", zap.Error(err))
		}
	}
	if in.DB != nil {
		in.DB.Close()
	}
}
