package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-sync/internal/realtime"
)

var ErrBroadcastUnsupported = errors.New("kafka feed carries row changes only")

type reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Feed is a realtime.Transport over the table topics. Each subscription
// reads its tables from the latest offset without a consumer group, so
// every subscriber sees every change, and applies its filters itself.
type Feed struct {
	log       *zap.Logger
	backoff   time.Duration
	newReader func(topic string) reader
}

func NewFeed(brokers []string, log *zap.Logger) *Feed {
	return &Feed{
		log:     log,
		backoff: time.Second,
		newReader: func(topic string) reader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:     brokers,
				Topic:       topic,
				StartOffset: kafka.LastOffset,
				MinBytes:    1,
				MaxBytes:    10e6,
				MaxWait:     250 * time.Millisecond,
			})
		},
	}
}

type feedSub struct {
	channel string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	readers []reader
	l       realtime.Listener
	once    sync.Once
}

func (f *Feed) Subscribe(ctx context.Context, channel string, filters []realtime.Filter, l realtime.Listener) (realtime.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rctx, cancel := context.WithCancel(context.Background())
	s := &feedSub{channel: channel, cancel: cancel, l: l}

	seen := map[string]bool{}
	for _, flt := range filters {
		if flt.Table == "" || seen[flt.Table] {
			continue
		}
		seen[flt.Table] = true
		r := f.newReader(Topic(flt.Table))
		s.readers = append(s.readers, r)
		s.wg.Add(1)
		go f.run(rctx, s, r, flt.Table, filters)
	}
	l.Report(realtime.StatusSubscribed, nil)
	return s, nil
}

func (f *Feed) run(ctx context.Context, s *feedSub, r reader, table string, filters []realtime.Filter) {
	defer s.wg.Done()
	log := f.log.With(zap.String("channel", s.channel), zap.String("topic", Topic(table)))
	degraded := false
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !degraded {
				degraded = true
				log.Warn("feed read failed", zap.Error(err))
				s.l.Report(realtime.StatusChannelError, err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(f.backoff):
			}
			continue
		}
		if degraded {
			degraded = false
			s.l.Report(realtime.StatusSubscribed, nil)
		}

		_, raw, err := UnwrapChange(m.Value)
		if err != nil {
			log.Warn("drop feed message", zap.Int64("offset", m.Offset), zap.Error(err))
			continue
		}
		if realtime.MatchAny(filters, raw) {
			s.l.Deliver(raw)
		}
	}
}

func (s *feedSub) Broadcast(ctx context.Context, event string, payload []byte) error {
	return ErrBroadcastUnsupported
}

func (s *feedSub) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
		for _, r := range s.readers {
			err = errors.Join(err, r.Close())
		}
		s.l.Report(realtime.StatusClosed, nil)
	})
	return err
}
