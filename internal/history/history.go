package history

import (
	"context"
	"time"
)

// EventType defines the kind of watcher event.
type EventType string

const (
	// EventCheck is one availability check of a product page.
	EventCheck EventType = "check"
	// EventTransition is a status change between two checks.
	EventTransition EventType = "transition"
	// EventNotify is an operator notification that was actually sent.
	EventNotify EventType = "notify"
	// EventCart is an add-to-cart attempt, successful or not.
	EventCart EventType = "cart"
	// EventLogin is a completed login flow, successful or not.
	EventLogin EventType = "login"
)

// Record carries the product details attached to an event.
type Record struct {
	URL    string `json:"url"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Price  string `json:"price,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Event represents a watcher event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
