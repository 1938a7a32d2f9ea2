// Package bus publishes evaluation progress events to in-process subscribers,
// Kafka, or a JSON-lines event log.
package bus

import (
	"context"
	"encoding/json"
)

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Bus defines the interface for event bus implementations.
type Bus interface {
	// Publish publishes an event to a topic.
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe subscribes to events on a topic.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Close closes the bus and releases resources.
	Close() error
}

// Event represents a bus event.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type is the event type (e.g., "evaluation.row").
	Type string `json:"type"`

	// Source is the program that generated the event.
	Source string `json:"source"`

	// Timestamp is when the event was created (Unix milliseconds).
	Timestamp int64 `json:"timestamp"`

	// CorrelationID is the evaluation RunID shared by all events of one evaluation.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Payload contains the event data.
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// DefaultTopic receives all evaluation events unless configured otherwise.
const DefaultTopic = "placecal.evaluation"

// Event types.
const (
	EventRowEvaluated = "evaluation.row"
	EventRunSkipped   = "evaluation.skipped"
	EventCompleted    = "evaluation.completed"
)
