package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type recorder struct {
	got []Event
	err error
}

func (r *recorder) Publish(ctx context.Context, e Event) error {
	r.got = append(r.got, e)
	return r.err
}

func TestFanout_DeliversToAllSinks(t *testing.T) {
	failing := &recorder{err: errors.New("down")}
	ok := &recorder{}
	f := NewFanout(failing, ok)

	var failed []int
	f.OnError = func(idx int, err error) { failed = append(failed, idx) }

	if err := f.Publish(context.Background(), New(TradeOpened, "ETHUSDC", map[string]int{"qty": 1})); err != nil {
		t.Fatalf("fanout returned error: %v", err)
	}
	if len(failing.got) != 1 || len(ok.got) != 1 {
		t.Fatalf("expected one event per sink, got %d and %d", len(failing.got), len(ok.got))
	}
	if len(failed) != 1 || failed[0] != 0 {
		t.Errorf("expected OnError for sink 0, got %v", failed)
	}
}

func TestFanout_Add(t *testing.T) {
	f := NewFanout()
	if f.Len() != 0 {
		t.Fatalf("expected empty fanout")
	}
	r := &recorder{}
	f.Add(r)
	f.Publish(context.Background(), New(DecisionRecorded, "A", nil))
	if f.Len() != 1 || len(r.got) != 1 {
		t.Errorf("added sink not used: len=%d got=%d", f.Len(), len(r.got))
	}
}

func TestEvent_JSON(t *testing.T) {
	e := New(TradeClosed, "ETHUSDC", map[string]string{"id": "t1"})
	var decoded struct {
		Type   string            `json:"type"`
		Symbol string            `json:"symbol"`
		Data   map[string]string `json:"data"`
	}
	if err := json.Unmarshal(e.JSON(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.Type != "trade.closed" || decoded.Symbol != "ETHUSDC" || decoded.Data["id"] != "t1" {
		t.Errorf("unexpected decode: %+v", decoded)
	}
}
