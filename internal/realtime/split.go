package realtime

import (
	"context"
	"errors"
	"sync"
)

// Split combines a transport that carries row changes with one that carries
// broadcasts, e.g. a Kafka change feed next to NATS signals. The channel is
// reported subscribed once both sides are.
func Split(changes, signals Transport) Transport {
	return &split{changes: changes, signals: signals}
}

type split struct {
	changes Transport
	signals Transport
}

type splitSub struct {
	changes Subscription
	signals Subscription
}

func (s *split) Subscribe(ctx context.Context, channel string, filters []Filter, l Listener) (Subscription, error) {
	var (
		mu     sync.Mutex
		status = map[string]Status{}
	)
	report := func(side string) func(Status, error) {
		return func(st Status, err error) {
			mu.Lock()
			status[side] = st
			both := status["changes"] == st && status["signals"] == st
			mu.Unlock()
			if (st == StatusSubscribed || st == StatusClosed) && !both {
				return
			}
			l.Report(st, err)
		}
	}

	cs, err := s.changes.Subscribe(ctx, channel, filters, Listener{
		OnChange: l.OnChange,
		OnStatus: report("changes"),
	})
	if err != nil {
		return nil, err
	}
	ss, err := s.signals.Subscribe(ctx, channel, nil, Listener{
		OnBroadcast: l.OnBroadcast,
		OnStatus:    report("signals"),
	})
	if err != nil {
		_ = cs.Close()
		return nil, err
	}
	return &splitSub{changes: cs, signals: ss}, nil
}

func (s *splitSub) Broadcast(ctx context.Context, event string, payload []byte) error {
	return s.signals.Broadcast(ctx, event, payload)
}

func (s *splitSub) Close() error {
	return errors.Join(s.signals.Close(), s.changes.Close())
}
