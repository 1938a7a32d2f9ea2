package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ricesearch/placecal/internal/evaluation"
	"github.com/ricesearch/placecal/internal/pkg/errors"
)

// Source identifies events produced by this program.
const Source = "placecal"

// RowPayload is the payload of an EventRowEvaluated event.
type RowPayload struct {
	RunID string          `json:"run_id"`
	Mode  evaluation.Mode `json:"mode"`
	Row   evaluation.Row  `json:"row"`
}

// SkippedPayload is the payload of an EventRunSkipped event.
type SkippedPayload struct {
	RunID   string             `json:"run_id"`
	Mode    evaluation.Mode    `json:"mode"`
	Skipped evaluation.Skipped `json:"skipped"`
}

// Publisher turns evaluation progress into bus events. The payload of an
// EventCompleted event is the full evaluation.Report.
type Publisher struct {
	bus   Bus
	topic string
	now   func() time.Time
}

// NewPublisher creates a publisher writing to topic (DefaultTopic if empty).
func NewPublisher(b Bus, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{bus: b, topic: topic, now: time.Now}
}

// RowEvaluated implements evaluation.Observer.
func (p *Publisher) RowEvaluated(ctx context.Context, runID string, mode evaluation.Mode, row evaluation.Row) error {
	return p.publish(ctx, EventRowEvaluated, runID, RowPayload{RunID: runID, Mode: mode, Row: row})
}

// RunSkipped implements evaluation.Observer.
func (p *Publisher) RunSkipped(ctx context.Context, runID string, mode evaluation.Mode, skipped evaluation.Skipped) error {
	return p.publish(ctx, EventRunSkipped, runID, SkippedPayload{RunID: runID, Mode: mode, Skipped: skipped})
}

// Completed implements evaluation.Observer.
func (p *Publisher) Completed(ctx context.Context, report *evaluation.Report) error {
	return p.publish(ctx, EventCompleted, report.RunID, report)
}

func (p *Publisher) publish(ctx context.Context, eventType, runID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, "failed to marshal payload", err).WithDetail("type", eventType)
	}

	event := Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		Source:        Source,
		Timestamp:     p.now().UnixMilli(),
		CorrelationID: runID,
		Payload:       data,
	}
	return p.bus.Publish(ctx, p.topic, event)
}
