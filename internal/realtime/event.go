package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// RawChange is a row-level notification exactly as a transport delivers it.
type RawChange struct {
	EventType       string          `json:"eventType"` // INSERT | UPDATE | DELETE
	Table           string          `json:"table"`
	New             json.RawMessage `json:"new,omitempty"`
	Old             json.RawMessage `json:"old,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// ChangeEvent is the decoded, typed form of a RawChange. For deletes Entity
// holds the old row.
type ChangeEvent[T any] struct {
	Op       Op
	Entity   T
	Previous *T
}

var ErrMalformed = errors.New("malformed change payload")

func ParseOp(s string) (Op, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INSERT":
		return OpInsert, nil
	case "UPDATE":
		return OpUpdate, nil
	case "DELETE":
		return OpDelete, nil
	}
	return "", fmt.Errorf("%w: unknown event type %q", ErrMalformed, s)
}

func empty(b json.RawMessage) bool {
	b = bytes.TrimSpace(b)
	return len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte("{}"))
}

func Decode[T any](raw RawChange) (ChangeEvent[T], error) {
	var ev ChangeEvent[T]
	op, err := ParseOp(raw.EventType)
	if err != nil {
		return ev, err
	}
	ev.Op = op

	row := raw.New
	if op == OpDelete {
		row = raw.Old
	}
	if empty(row) {
		return ev, fmt.Errorf("%w: %s on %s without row", ErrMalformed, raw.EventType, raw.Table)
	}
	if err := json.Unmarshal(row, &ev.Entity); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if op == OpUpdate && !empty(raw.Old) {
		var prev T
		if err := json.Unmarshal(raw.Old, &prev); err == nil {
			ev.Previous = &prev
		}
	}
	return ev, nil
}

// Encode builds the RawChange a store publishes after a committed write.
func Encode[T any](op Op, table string, entity T, prev *T, at time.Time) (RawChange, error) {
	b, err := json.Marshal(entity)
	if err != nil {
		return RawChange{}, err
	}
	raw := RawChange{
		EventType:       strings.ToUpper(string(op)),
		Table:           table,
		CommitTimestamp: at.UTC(),
	}
	switch op {
	case OpDelete:
		raw.Old = b
	default:
		raw.New = b
		if prev != nil {
			pb, err := json.Marshal(prev)
			if err != nil {
				return RawChange{}, err
			}
			raw.Old = pb
		}
	}
	return raw, nil
}

// Typed adapts fn into a Consumer that decodes every change at the boundary.
// Malformed payloads are logged and dropped.
func Typed[T any](log *zap.Logger, fn func(ChangeEvent[T])) Consumer {
	return ConsumerFunc(func(raw RawChange) {
		ev, err := Decode[T](raw)
		if err != nil {
			log.Warn("drop change", zap.String("table", raw.Table), zap.String("event_type", raw.EventType), zap.Error(err))
			return
		}
		fn(ev)
	})
}
