package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-sync/internal/realtime"
)

var ErrProducerClosed = errors.New("producer closed")

// Producer writes through a buffered inbox drained by one goroutine. The
// topic is set per message.
type Producer struct {
	w       *kafka.Writer
	log     *zap.Logger
	inbox   chan kafka.Message
	closeCh chan struct{}
	done    chan struct{}
}

func NewProducer(brokers []string, buf int, log *zap.Logger) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
		log:     log,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start runs the write loop until Close. Messages still queued are flushed
// before the writer is closed.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		defer func() { _ = p.w.Close() }()
		for {
			select {
			case m := <-p.inbox:
				p.write(m)
			case <-p.closeCh:
				for {
					select {
					case m := <-p.inbox:
						p.write(m)
					default:
						return
					}
				}
			}
		}
	}()
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		p.log.Warn("kafka write failed", zap.String("topic", m.Topic), zap.ByteString("key", m.Key), zap.Error(err))
	}
}

// Publish queues a message; it blocks while the inbox is full.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte, headers ...kafka.Header) error {
	select {
	case <-p.closeCh:
		return ErrProducerClosed
	default:
	}
	select {
	case p.inbox <- kafka.Message{Topic: topic, Key: key, Value: value, Time: time.Now(), Headers: headers}:
		return nil
	case <-p.closeCh:
		return ErrProducerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting messages; the loop flushes the rest and exits.
func (p *Producer) Close() {
	select {
	case <-p.closeCh:
	default:
		close(p.closeCh)
	}
}

// WaitClosed blocks until the loop has flushed and closed the writer.
func (p *Producer) WaitClosed() { <-p.done }

// ChangePublisher publishes committed row changes on the table topics.
type ChangePublisher struct {
	P       *Producer
	Service string
}

var _ realtime.Publisher = (*ChangePublisher)(nil)

func (c *ChangePublisher) Publish(ctx context.Context, raw realtime.RawChange) error {
	rowID := rowID(raw)
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     EventRowChanged,
		EventVersion:  1,
		OccurredAt:    raw.CommitTimestamp,
		Producer:      c.Service,
		CorrelationID: rowID,
		Payload:       MustMarshal(raw),
	}
	return c.P.Publish(ctx, Topic(raw.Table), PartitionKey(rowID), MustMarshal(env),
		kafka.Header{Key: "x-event-type", Value: []byte(EventRowChanged)},
		kafka.Header{Key: "x-table", Value: []byte(raw.Table)},
	)
}

// rowID picks the row's id, or user_id for tables keyed by user.
func rowID(raw realtime.RawChange) string {
	row := raw.New
	if len(row) == 0 {
		row = raw.Old
	}
	var k struct {
		ID     string `json:"id"`
		UserID string `json:"user_id"`
	}
	_ = json.Unmarshal(row, &k)
	if k.ID != "" {
		return k.ID
	}
	return k.UserID
}
