package realtime

import (
	"context"
	"encoding/json"
	"fmt"
)

// Status is what a transport reports about one subscription.
type Status string

const (
	StatusSubscribed   Status = "SUBSCRIBED"
	StatusChannelError Status = "CHANNEL_ERROR"
	StatusTimedOut     Status = "TIMED_OUT"
	StatusClosed       Status = "CLOSED"
)

// Filter scopes a subscription to a table and optionally to rows whose Column
// equals Value.
type Filter struct {
	Table  string
	Column string
	Value  string
}

func TableFilter(table string) Filter { return Filter{Table: table} }

func Eq(table, column, value string) Filter {
	return Filter{Table: table, Column: column, Value: value}
}

// String renders the filter in postgrest form, e.g. "order_id=eq.42".
func (f Filter) String() string {
	if f.Column == "" {
		return ""
	}
	return fmt.Sprintf("%s=eq.%s", f.Column, f.Value)
}

// Match reports whether raw falls inside the filter. Transports that cannot
// filter server side use it to filter client side.
func (f Filter) Match(raw RawChange) bool {
	if f.Table != raw.Table {
		return false
	}
	if f.Column == "" {
		return true
	}
	row := raw.New
	if empty(row) {
		row = raw.Old
	}
	var fields map[string]any
	if err := json.Unmarshal(row, &fields); err != nil {
		return false
	}
	v, ok := fields[f.Column]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s == f.Value
	}
	return fmt.Sprint(v) == f.Value
}

func MatchAny(filters []Filter, raw RawChange) bool {
	for _, f := range filters {
		if f.Match(raw) {
			return true
		}
	}
	return false
}

// Listener receives everything a subscription delivers. Any field may be nil.
type Listener struct {
	OnChange    func(RawChange)
	OnBroadcast func(event string, payload []byte)
	OnStatus    func(Status, error)
}

// Deliver, DeliverBroadcast and Report are nil-safe calls for transports.
func (l Listener) Deliver(raw RawChange) {
	if l.OnChange != nil {
		l.OnChange(raw)
	}
}

func (l Listener) DeliverBroadcast(event string, payload []byte) {
	if l.OnBroadcast != nil {
		l.OnBroadcast(event, payload)
	}
}

func (l Listener) Report(s Status, err error) {
	if l.OnStatus != nil {
		l.OnStatus(s, err)
	}
}

// Transport is the change-feed collaborator. It is constructed once per
// process and handed to a Manager.
type Transport interface {
	Subscribe(ctx context.Context, channel string, filters []Filter, l Listener) (Subscription, error)
}

type Subscription interface {
	// Broadcast is fire-and-forget to the other current subscribers of the
	// same channel.
	Broadcast(ctx context.Context, event string, payload []byte) error
	Close() error
}

// Publisher is the write side of the change feed: stores publish the row
// they just committed so every subscriber, the writer included, sees the echo.
type Publisher interface {
	Publish(ctx context.Context, raw RawChange) error
}
