package history

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEventJSONShape(t *testing.T) {
	e := Event{
		Type:       EventTransition,
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Record: Record{
			URL:    "https://coins.bank.gov.ua/product_info.php?products_id=42",
			Name:   "Монета",
			Status: "available",
			Detail: "unavailable -> available",
		},
	}
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["type"] != "transition" {
		t.Fatalf("type = %v", got["type"])
	}
	rec, ok := got["record"].(map[string]any)
	if !ok {
		t.Fatalf("record missing: %v", got)
	}
	if rec["status"] != "available" {
		t.Fatalf("status = %v", rec["status"])
	}
	if _, present := rec["price"]; present {
		t.Fatal("empty price should be omitted")
	}
}
