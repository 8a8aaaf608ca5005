package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/ariefcatur/go-realtime-sync/internal/realtime"
)

func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// UnwrapChange decodes an envelope and its row change in one go.
func UnwrapChange(b []byte) (Envelope, realtime.RawChange, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, realtime.RawChange{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventType != EventRowChanged {
		return env, realtime.RawChange{}, fmt.Errorf("%w: event type %q", ErrNotAChange, env.EventType)
	}
	raw, err := UnwrapPayload[realtime.RawChange](env.Payload)
	return env, raw, err
}

// UnwrapPayload decodes a typed payload.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
