package realtime

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"go.uber.org/zap"
)

type row struct {
	ID      string `json:"id"`
	OrderID int    `json:"order_id"`
	Body    string `json:"body"`
}

func TestDecodeOps(t *testing.T) {
	ins, err := Decode[row](RawChange{EventType: "INSERT", Table: "messages", New: json.RawMessage(`{"id":"a","body":"hi"}`)})
	assert.Equal(t, nil, err)
	assert.Equal(t, OpInsert, ins.Op)
	assert.Equal(t, "hi", ins.Entity.Body)

	upd, err := Decode[row](RawChange{
		EventType: "update",
		Table:     "messages",
		New:       json.RawMessage(`{"id":"a","body":"edited"}`),
		Old:       json.RawMessage(`{"id":"a","body":"hi"}`),
	})
	assert.Equal(t, nil, err)
	assert.Equal(t, OpUpdate, upd.Op)
	assert.Equal(t, "hi", upd.Previous.Body)

	del, err := Decode[row](RawChange{EventType: "DELETE", Table: "messages", Old: json.RawMessage(`{"id":"a"}`)})
	assert.Equal(t, nil, err)
	assert.Equal(t, OpDelete, del.Op)
	assert.Equal(t, "a", del.Entity.ID)
}

func TestDecodeMalformed(t *testing.T) {
	cases := []RawChange{
		{EventType: "TRUNCATE", Table: "messages", New: json.RawMessage(`{"id":"a"}`)},
		{EventType: "INSERT", Table: "messages"},
		{EventType: "DELETE", Table: "messages", New: json.RawMessage(`{"id":"a"}`)},
		{EventType: "INSERT", Table: "messages", New: json.RawMessage(`{"id":`)},
		{EventType: "INSERT", Table: "messages", New: json.RawMessage(`null`)},
	}
	for _, c := range cases {
		_, err := Decode[row](c)
		assert.Equal(t, true, errors.Is(err, ErrMalformed))
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	prev := row{ID: "a", Body: "old"}
	raw, err := Encode(OpUpdate, "messages", row{ID: "a", Body: "new"}, &prev, at)
	assert.Equal(t, nil, err)
	assert.Equal(t, "UPDATE", raw.EventType)
	assert.Equal(t, at, raw.CommitTimestamp)

	ev, err := Decode[row](raw)
	assert.Equal(t, nil, err)
	assert.Equal(t, "new", ev.Entity.Body)
	assert.Equal(t, "old", ev.Previous.Body)

	raw, err = Encode[row](OpDelete, "messages", row{ID: "a"}, nil, at)
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, len(raw.New))
	assert.NotEqual(t, 0, len(raw.Old))
}

func TestFilterMatch(t *testing.T) {
	raw := RawChange{EventType: "INSERT", Table: "messages", New: json.RawMessage(`{"id":"a","order_id":42}`)}
	assert.Equal(t, true, TableFilter("messages").Match(raw))
	assert.Equal(t, true, Eq("messages", "order_id", "42").Match(raw))
	assert.Equal(t, false, Eq("messages", "order_id", "7").Match(raw))
	assert.Equal(t, false, Eq("products", "order_id", "42").Match(raw))
	assert.Equal(t, false, Eq("messages", "missing", "42").Match(raw))

	del := RawChange{EventType: "DELETE", Table: "messages", Old: json.RawMessage(`{"id":"a","order_id":"x"}`)}
	assert.Equal(t, true, Eq("messages", "order_id", "x").Match(del))
	assert.Equal(t, "order_id=eq.x", Eq("messages", "order_id", "x").String())
}

func TestTypedDropsMalformed(t *testing.T) {
	var got []row
	c := Typed(zap.NewNop(), func(ev ChangeEvent[row]) { got = append(got, ev.Entity) })
	c.HandleChange(RawChange{EventType: "INSERT", Table: "messages", New: json.RawMessage(`garbage`)})
	c.HandleChange(RawChange{EventType: "INSERT", Table: "messages", New: json.RawMessage(`{"id":"b"}`)})
	assert.Equal(t, 1, len(got))
	assert.Equal(t, "b", got[0].ID)
}
