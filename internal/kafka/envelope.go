package kafka

import (
	"encoding/json"
	"errors"
	"time"
)

const (
	EventRowChanged = "RowChanged"

	// Topics are one per table: feed.{table}
	TopicPrefix = "feed."
)

var ErrNotAChange = errors.New("not a row change")

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // RowChanged
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g. "syncd"
	CorrelationID string          `json:"correlation_id,omitempty"` // row id
	Payload       json.RawMessage `json:"payload"`                  // realtime.RawChange
}

func Topic(table string) string { return TopicPrefix + table }

// PartitionKey keeps every change of one row on one partition, in order.
func PartitionKey(rowID string) []byte { return []byte(rowID) }
