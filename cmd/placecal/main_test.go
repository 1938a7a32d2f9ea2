package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ricesearch/placecal/internal/align"
	"github.com/ricesearch/placecal/internal/config"
	"github.com/ricesearch/placecal/internal/evaluation"
	apperrors "github.com/ricesearch/placecal/internal/pkg/errors"
)

// writeRun creates a run directory whose query i has top-1 prediction i and
// scores[i] inliers; query i is correct when correct[i] is true.
func writeRun(t *testing.T, dir string, scores []int, correct []bool) {
	t.Helper()
	preds := filepath.Join(dir, "preds_superpoint-lg")
	if err := os.MkdirAll(preds, 0755); err != nil {
		t.Fatal(err)
	}

	var p, pos []string
	for i, s := range scores {
		p = append(p, fmt.Sprintf("[%d]", i))
		if correct[i] {
			pos = append(pos, fmt.Sprintf("[%d]", i))
		} else {
			pos = append(pos, "[-1]")
		}
		rec := fmt.Sprintf(`[{"num_inliers": %d}]`, s)
		if err := os.WriteFile(filepath.Join(preds, fmt.Sprintf("%d.json", i)), []byte(rec), 0644); err != nil {
			t.Fatal(err)
		}
	}
	gt := fmt.Sprintf(`{"predictions": [%s], "positives_per_query": [%s]}`, strings.Join(p, ","), strings.Join(pos, ","))
	if err := os.WriteFile(filepath.Join(dir, "z_data.json"), []byte(gt), 0644); err != nil {
		t.Fatal(err)
	}
}

func fixtureRuns(t *testing.T) (train, test string) {
	t.Helper()
	root := t.TempDir()
	train = filepath.Join(root, "train")
	test = filepath.Join(root, "tokyo")

	correct := []bool{true, true, true, true, false, false, false, true, false, false}
	writeRun(t, train, []int{50, 60, 70, 20, 5, 10, 30, 90, 15, 8}, correct)
	writeRun(t, test, []int{40, 80, 25, 35, 3, 12, 45, 65, 9, 2}, correct)
	return train, test
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, _, err := executeWithStderr(t, args...)
	return out, err
}

func executeWithStderr(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestEvaluate_JSON(t *testing.T) {
	train, test := fixtureRuns(t)
	curves := filepath.Join(t.TempDir(), "curves")

	out, err := execute(t, "evaluate", "--format", "json", "--curves-dir", curves,
		"--train", "msls="+train, "--test", "tokyo="+test, "--test", "missing="+filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("evaluate error = %v", err)
	}

	var r evaluation.Report
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("output is not a report: %v\n%s", err, out)
	}
	if r.Mode != evaluation.ModeTransfer || r.Train != "msls" || r.Model == nil {
		t.Errorf("report = %+v", r)
	}
	if len(r.Rows) != 1 || r.Rows[0].Run != "tokyo" || r.Rows[0].Samples != 10 {
		t.Fatalf("rows = %+v", r.Rows)
	}
	if len(r.Rows[0].Fingerprint) != 16 {
		t.Errorf("fingerprint = %q, want 16 hex characters", r.Rows[0].Fingerprint)
	}
	if len(r.Skipped) != 1 || r.Skipped[0].Code != apperrors.CodeMissingInput {
		t.Errorf("skipped = %+v", r.Skipped)
	}
	if r.Best != "tokyo" {
		t.Errorf("best = %q, want tokyo", r.Best)
	}

	if _, err := os.Stat(filepath.Join(curves, "tokyo_sparsification.csv")); err != nil {
		t.Errorf("sparsification curve not exported: %v", err)
	}
}

func TestEvaluate_DegenerateTraining(t *testing.T) {
	train := t.TempDir()
	writeRun(t, train, []int{10, 20, 30}, []bool{true, true, true})
	_, test := fixtureRuns(t)

	_, err := execute(t, "evaluate", "--train", train, "--test", "tokyo="+test)
	if !apperrors.IsDegenerate(err) {
		t.Fatalf("evaluate error = %v, want degenerate", err)
	}
	if exitCode(err) != 4 {
		t.Errorf("exitCode = %d, want 4", exitCode(err))
	}
}

func TestEvaluate_RequiresTests(t *testing.T) {
	train, _ := fixtureRuns(t)
	_, err := execute(t, "evaluate", "--train", train)
	if !apperrors.IsValidation(err) {
		t.Errorf("evaluate error = %v, want validation", err)
	}
}

func TestCompare_WithHistoryAndEvents(t *testing.T) {
	train, test := fixtureRuns(t)
	state := t.TempDir()
	eventLog := filepath.Join(state, "events.jsonl")
	textfile := filepath.Join(state, "prom", "placecal.prom")

	cfgPath := filepath.Join(state, "placecal.yaml")
	cfg := fmt.Sprintf(`history:
  type: sqlite
  path: %s
bus:
  type: memory
  topic: placecal.evaluation
  event_log_path: %s
output:
  format: text
  metrics_textfile: %s
`, filepath.Join(state, "history.db"), eventLog, textfile)
	if err := os.WriteFile(cfgPath, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}

	out, progress, err := executeWithStderr(t, "-c", cfgPath, "compare", train, test)
	if err != nil {
		t.Fatalf("compare error = %v", err)
	}
	if !strings.Contains(out, "tokyo") || !strings.Contains(out, "train") {
		t.Errorf("compare output:\n%s", out)
	}
	for _, want := range []string{"evaluated train: ausc", "evaluated tokyo: ausc", "completed "} {
		if !strings.Contains(progress, want) {
			t.Errorf("progress missing %q:\n%s", want, progress)
		}
	}

	out, err = execute(t, "-c", cfgPath, "history", "list", "--format", "json")
	if err != nil {
		t.Fatalf("history list error = %v", err)
	}
	var sums []map[string]any
	if err := json.Unmarshal([]byte(out), &sums); err != nil || len(sums) != 1 {
		t.Fatalf("history list = %s (%v)", out, err)
	}
	runID, _ := sums[0]["run_id"].(string)

	out, err = execute(t, "-c", cfgPath, "history", "show", runID, "--format", "csv")
	if err != nil {
		t.Fatalf("history show error = %v", err)
	}
	if !strings.Contains(out, runID) {
		t.Errorf("history show output:\n%s", out)
	}

	_, err = execute(t, "-c", cfgPath, "history", "show", "nope")
	if apperrors.CodeOf(err) != apperrors.CodeInvalidRequest {
		t.Errorf("history show unknown error = %v", err)
	}

	out, err = execute(t, "-c", cfgPath, "events", "--format", "csv")
	if err != nil {
		t.Fatalf("events error = %v", err)
	}
	// header + 2 rows + 1 completed
	if lines := strings.Count(strings.TrimSpace(out), "\n") + 1; lines != 4 {
		t.Errorf("events output has %d lines, want 4:\n%s", lines, out)
	}

	if _, err := os.Stat(textfile); err != nil {
		t.Errorf("metrics textfile not written: %v", err)
	}

	_, progress, err = executeWithStderr(t, "-c", cfgPath, "events", "replay")
	if err != nil {
		t.Fatalf("events replay error = %v", err)
	}
	if n := strings.Count(progress, "evaluated "); n != 2 || !strings.Contains(progress, "completed "+runID) {
		t.Errorf("replay progress:\n%s", progress)
	}
	out, err = execute(t, "-c", cfgPath, "events", "--format", "csv")
	if err != nil {
		t.Fatalf("events error = %v", err)
	}
	if lines := strings.Count(strings.TrimSpace(out), "\n") + 1; lines != 4 {
		t.Errorf("replay appended to the event log, %d lines:\n%s", lines, out)
	}

	if _, err := execute(t, "-c", cfgPath, "history", "delete", runID); err != nil {
		t.Fatalf("history delete error = %v", err)
	}
	if _, err := execute(t, "-c", cfgPath, "history", "show", runID); apperrors.CodeOf(err) != apperrors.CodeInvalidRequest {
		t.Errorf("history show after delete error = %v", err)
	}
	if _, err := execute(t, "-c", cfgPath, "history", "delete", runID); apperrors.CodeOf(err) != apperrors.CodeInvalidRequest {
		t.Errorf("history delete twice error = %v", err)
	}
}

func TestEventsReplay_RequiresBus(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "events.jsonl")
	if err := os.WriteFile(logPath, nil, 0644); err != nil {
		t.Fatal(err)
	}
	_, err := execute(t, "events", "replay", "--path", logPath)
	if !apperrors.IsValidation(err) {
		t.Errorf("events replay error = %v, want validation", err)
	}
}

func TestCompare_CurveNameCollision(t *testing.T) {
	train, test := fixtureRuns(t)
	curves := filepath.Join(t.TempDir(), "curves")

	_, err := execute(t, "compare", "--curves-dir", curves, "sf xs="+train, "sf_xs="+test)
	if !apperrors.IsValidation(err) {
		t.Fatalf("compare error = %v, want validation", err)
	}
	if _, err := os.Stat(curves); !os.IsNotExist(err) {
		t.Errorf("no curves should be written, Stat() error = %v", err)
	}

	// Without curve export the names do not clash.
	if _, err := execute(t, "compare", "sf xs="+train, "sf_xs="+test); err != nil {
		t.Errorf("compare without curves error = %v", err)
	}
}

func TestCurve(t *testing.T) {
	train, _ := fixtureRuns(t)

	out, err := execute(t, "curve", "--train", train, "--points", "5", "--max", "100")
	if err != nil {
		t.Fatalf("curve error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 6 || lines[0] != "score,probability" {
		t.Errorf("curve output:\n%s", out)
	}

	out, err = execute(t, "curve", "--format", "json", "--train", "msls="+train, "--points", "3")
	if err != nil {
		t.Fatalf("curve --format json error = %v", err)
	}
	var mc modelCurve
	if err := json.Unmarshal([]byte(out), &mc); err != nil {
		t.Fatalf("curve output is not JSON: %v\n%s", err, out)
	}
	if mc.Model == nil || mc.Model.TrainedOn != "msls" || mc.Model.Samples != 10 || len(mc.Probs) != 3 {
		t.Errorf("curve = %+v", mc)
	}

	if _, err := execute(t, "curve", "--train", train, "--points", "1"); !apperrors.IsValidation(err) {
		t.Errorf("curve --points 1 error = %v", err)
	}
}

func TestInspectAccuracyHistogram(t *testing.T) {
	train, test := fixtureRuns(t)

	out, err := execute(t, "accuracy", "--format", "csv", train, test)
	if err != nil {
		t.Fatalf("accuracy error = %v", err)
	}
	if !strings.Contains(out, "tokyo") {
		t.Errorf("accuracy output:\n%s", out)
	}

	out, err = execute(t, "inspect", "--format", "json", train)
	if err != nil {
		t.Fatalf("inspect error = %v", err)
	}
	var infos []evaluation.RunInfo
	if err := json.Unmarshal([]byte(out), &infos); err != nil || len(infos) != 1 || infos[0].Queries != 10 {
		t.Errorf("inspect = %+v (%v)", infos, err)
	}

	out, err = execute(t, "histogram", "--format", "json", "--bins", "10", "--max", "100", train)
	if err != nil {
		t.Fatalf("histogram error = %v", err)
	}
	var h evaluation.Histogram
	if err := json.Unmarshal([]byte(out), &h); err != nil || len(h.Edges) != 11 {
		t.Errorf("histogram = %+v (%v)", h, err)
	}
}

func TestParseRuns(t *testing.T) {
	runs, err := parseRuns([]string{"tokyo=/data/tokyo", "/data/logs/st_lucia/"})
	if err != nil {
		t.Fatalf("parseRuns() error = %v", err)
	}
	want := []align.RunSpec{
		{Name: "tokyo", LogDir: "/data/tokyo"},
		{Name: "st_lucia", LogDir: "/data/logs/st_lucia"},
	}
	for i := range want {
		if runs[i] != want[i] {
			t.Errorf("runs[%d] = %+v, want %+v", i, runs[i], want[i])
		}
	}

	if _, err := parseRuns([]string{"a=/x", "a=/y"}); !apperrors.IsValidation(err) {
		t.Errorf("duplicate names error = %v", err)
	}
	if _, err := parseRuns([]string{"=/x"}); !apperrors.IsValidation(err) {
		t.Errorf("empty name error = %v", err)
	}
}

func TestConfigRuns(t *testing.T) {
	cfg := &config.Config{
		Train: config.RunConfig{LogDir: "/t"},
		Tests: []config.RunConfig{{Name: "a", LogDir: "/a"}},
	}
	runs := configRuns(cfg)
	if len(runs) != 2 || runs[0].Name != "train" || runs[1].Name != "a" {
		t.Errorf("configRuns() = %+v", runs)
	}

	if _, err := runsOrConfig(&config.Config{}, nil); !apperrors.IsValidation(err) {
		t.Errorf("runsOrConfig(empty) error = %v", err)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.ValidationError("x"), 2},
		{apperrors.MissingInputError("r", "/p"), 3},
		{apperrors.DegenerateError("x"), 4},
		{fmt.Errorf("wrapped: %w", apperrors.DegenerateError("x")), 4},
		{context.Canceled, 130},
		{fmt.Errorf("plain"), 1},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
