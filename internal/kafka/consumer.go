package kafka

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler returns nil only when the message was processed and its offset
// may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type groupReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads a set of topics as one consumer group and fans messages
// out to a fixed number of workers. A partition always goes to the same
// worker, and a failed message is retried until it succeeds, so the
// committed offset never moves past an unprocessed message.
type Consumer struct {
	r        groupReader
	workers  int
	log      *zap.Logger
	retryMin time.Duration
	retryMax time.Duration
}

func NewConsumer(brokers []string, group string, topics []string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r groupReader, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, log: log, retryMin: 200 * time.Millisecond, retryMax: 10 * time.Second}
}

// Start blocks until ctx is done or the fetch fails. It returns nil on a
// clean shutdown.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(jobs <-chan kafka.Message) {
			defer wg.Done()
			c.work(wctx, h, jobs)
		}(lanes[i])
	}
	stop := func() {
		cancel()
		for _, l := range lanes {
			close(l)
		}
		wg.Wait()
		_ = c.r.Close()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case lanes[c.lane(m)] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

func (c *Consumer) lane(m kafka.Message) int {
	f := fnv.New32a()
	_, _ = f.Write([]byte(m.Topic))
	_, _ = f.Write([]byte(strconv.Itoa(m.Partition)))
	return int(f.Sum32() % uint32(c.workers))
}

func (c *Consumer) work(ctx context.Context, h Handler, jobs <-chan kafka.Message) {
	for m := range jobs {
		if !c.handle(ctx, h, m) {
			// shutting down; leave the rest uncommitted
			for range jobs {
			}
			return
		}
		if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.log.Warn("commit failed", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

// handle runs h until it succeeds. It reports false if ctx ended first.
func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) bool {
	wait := c.retryMin
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			return true
		}
		c.log.Warn("handler failed",
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
		if wait *= 2; wait > c.retryMax {
			wait = c.retryMax
		}
	}
}
