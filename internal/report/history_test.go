package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ricesearch/placecal/internal/bus"
	"github.com/ricesearch/placecal/internal/history"
	apperrors "github.com/ricesearch/placecal/internal/pkg/errors"
)

func TestWriteHistory(t *testing.T) {
	sums := []history.Summary{
		{RunID: "r2", Mode: "transfer", Train: "train", Best: "tokyo", Rows: 3, Skipped: 1, FinishedAt: time.Now()},
		{RunID: "r1", Mode: "self-fit", Rows: 2},
	}

	var text bytes.Buffer
	if err := WriteHistory(&text, sums, FormatText); err != nil {
		t.Fatalf("WriteHistory(text) error = %v", err)
	}
	for _, want := range []string{"r2", "tokyo", "self-fit"} {
		if !strings.Contains(text.String(), want) {
			t.Errorf("text output missing %q:\n%s", want, text.String())
		}
	}

	var out bytes.Buffer
	if err := WriteHistory(&out, sums, FormatCSV); err != nil {
		t.Fatalf("WriteHistory(csv) error = %v", err)
	}
	recs, err := csv.NewReader(&out).ReadAll()
	if err != nil {
		t.Fatalf("csv parse error = %v", err)
	}
	if len(recs) != 3 || recs[2][2] != "-" {
		t.Errorf("csv records = %v", recs)
	}

	var js bytes.Buffer
	if err := WriteHistory(&js, sums, FormatJSON); err != nil {
		t.Fatalf("WriteHistory(json) error = %v", err)
	}
	var decoded []history.Summary
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil || len(decoded) != 2 {
		t.Errorf("json = %v, %v", decoded, err)
	}

	var empty bytes.Buffer
	WriteHistory(&empty, nil, FormatText)
	if !strings.Contains(empty.String(), "no stored reports") {
		t.Errorf("empty output = %q", empty.String())
	}

	if err := WriteHistory(&empty, sums, "xml"); !apperrors.IsValidation(err) {
		t.Errorf("WriteHistory(xml) error = %v", err)
	}
}

func TestWriteEvents(t *testing.T) {
	events := []bus.LoggedEvent{
		{Topic: bus.DefaultTopic, Timestamp: time.Now(), Event: bus.Event{ID: "e1", Type: bus.EventRowEvaluated, CorrelationID: "run-1"}},
		{Topic: bus.DefaultTopic, Timestamp: time.Now(), Event: bus.Event{ID: "e2", Type: bus.EventCompleted, CorrelationID: "run-1"}},
	}

	var text bytes.Buffer
	if err := WriteEvents(&text, events, FormatText); err != nil {
		t.Fatalf("WriteEvents(text) error = %v", err)
	}
	if strings.Count(text.String(), "run-1") != 2 || !strings.Contains(text.String(), bus.EventCompleted) {
		t.Errorf("text output:\n%s", text.String())
	}

	var out bytes.Buffer
	if err := WriteEvents(&out, events, FormatCSV); err != nil {
		t.Fatalf("WriteEvents(csv) error = %v", err)
	}
	recs, err := csv.NewReader(&out).ReadAll()
	if err != nil {
		t.Fatalf("csv parse error = %v", err)
	}
	if len(recs) != 3 || recs[1][3] != "e1" {
		t.Errorf("csv records = %v", recs)
	}
}
