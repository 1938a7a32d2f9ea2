package bus

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/ricesearch/placecal/internal/evaluation"
	"github.com/ricesearch/placecal/internal/pkg/errors"
)

// ProgressPrinter returns a Handler that writes one line per evaluation
// event to w. Unknown event types are ignored.
func ProgressPrinter(w io.Writer) Handler {
	return func(ctx context.Context, event Event) error {
		var line string
		switch event.Type {
		case EventRowEvaluated:
			var p RowPayload
			if err := event.Decode(&p); err != nil {
				return errors.Wrap(errors.CodeInternal, "decode row event", err).WithDetail("event_id", event.ID)
			}
			line = fmt.Sprintf("evaluated %s: %s %s, %d samples",
				p.Row.Run, p.Mode.Primary(), formatMetric(p.Row.Primary(p.Mode)), p.Row.Samples)
		case EventRunSkipped:
			var p SkippedPayload
			if err := event.Decode(&p); err != nil {
				return errors.Wrap(errors.CodeInternal, "decode skipped event", err).WithDetail("event_id", event.ID)
			}
			line = fmt.Sprintf("skipped %s: %s", p.Skipped.Run, p.Skipped.Code)
		case EventCompleted:
			var r evaluation.Report
			if err := event.Decode(&r); err != nil {
				return errors.Wrap(errors.CodeInternal, "decode completed event", err).WithDetail("event_id", event.ID)
			}
			best := r.Best
			if best == "" {
				best = "none"
			}
			line = fmt.Sprintf("completed %s (%s): %d evaluated, %d skipped, best %s",
				r.RunID, r.Mode, len(r.Rows), len(r.Skipped), best)
		default:
			return nil
		}

		if _, err := fmt.Fprintln(w, line); err != nil {
			return errors.Wrap(errors.CodeInternal, "write progress", err)
		}
		return nil
	}
}

func formatMetric(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return fmt.Sprintf("%.4f", v)
}
