package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/ricesearch/placecal/internal/evaluation"
	apperrors "github.com/ricesearch/placecal/internal/pkg/errors"
	"github.com/ricesearch/placecal/internal/pkg/logger"
)

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	mb := NewMemoryBus(logger.Discard())
	if err := mb.Subscribe(context.Background(), DefaultTopic, ProgressPrinter(&buf)); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	p := NewPublisher(mb, "")
	ctx := context.Background()
	row := evaluation.Row{Run: "tokyo", Samples: 10, Metrics: evaluation.Metrics{AUSE: 0.0125, AUSC: 0.2}}
	p.RowEvaluated(ctx, "run-1", evaluation.ModeTransfer, row)
	p.RowEvaluated(ctx, "run-1", evaluation.ModeTransfer, evaluation.Row{Run: "flat", Metrics: evaluation.Metrics{AUSE: math.NaN()}})
	p.RunSkipped(ctx, "run-1", evaluation.ModeTransfer, evaluation.Skipped{Run: "gone", Code: apperrors.CodeMissingInput})
	p.Completed(ctx, &evaluation.Report{RunID: "run-1", Mode: evaluation.ModeTransfer, Rows: []evaluation.Row{row}, Best: "tokyo"})
	mb.Close()

	want := []string{
		"evaluated tokyo: ause 0.0125, 10 samples",
		"evaluated flat: ause nan, 0 samples",
		"skipped gone: MISSING_INPUT",
		"completed run-1 (transfer): 1 evaluated, 0 skipped, best tokyo",
	}
	got := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(got) != len(want) {
		t.Fatalf("progress output:\n%s", buf.String())
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestProgressPrinter_Events(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		want    string
		wantErr bool
	}{
		{
			name:  "self-fit row uses ausc",
			event: Event{Type: EventRowEvaluated, Payload: json.RawMessage(`{"run_id":"r","mode":"self-fit","row":{"run":"a","samples":3,"metrics":{"ause":0.5,"ausc":0.25}}}`)},
			want:  "evaluated a: ausc 0.2500, 3 samples\n",
		},
		{
			name:  "no best",
			event: Event{Type: EventCompleted, Payload: json.RawMessage(`{"run_id":"r","mode":"self-fit","rows":[],"skipped":[]}`)},
			want:  "completed r (self-fit): 0 evaluated, 0 skipped, best none\n",
		},
		{
			name:  "unknown type ignored",
			event: Event{Type: "other", Payload: json.RawMessage(`{}`)},
		},
		{
			name:    "malformed payload",
			event:   Event{ID: "bad", Type: EventRunSkipped, Payload: json.RawMessage(`[`)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := ProgressPrinter(&buf)(context.Background(), tt.event)
			if (err != nil) != tt.wantErr {
				t.Fatalf("handler error = %v, wantErr %v", err, tt.wantErr)
			}
			if buf.String() != tt.want {
				t.Errorf("output = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}
