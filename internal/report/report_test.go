package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ricesearch/placecal/internal/evaluation"
	apperrors "github.com/ricesearch/placecal/internal/pkg/errors"
	"github.com/ricesearch/placecal/internal/sparsify"
)

func sampleReport(t *testing.T) *evaluation.Report {
	t.Helper()
	good, err := evaluation.Compute([]int{1, 0, 1, 0}, []float64{0.9, 0.2, 0.8, 0.1})
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	allCorrect, err := evaluation.Compute([]int{1, 1}, []float64{0.6, 0.7})
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	return &evaluation.Report{
		RunID: "run-1",
		Mode:  evaluation.ModeTransfer,
		Train: "train",
		Model: &evaluation.ModelInfo{Intercept: -2, Coefficient: 0.1, TrainedOn: "train", Samples: 10},
		Rows: []evaluation.Row{
			{Run: "tokyo", Samples: 4, Positives: 2, Fingerprint: "3f2a9c01d4e5b678", Metrics: good},
			{Run: "st lucia", Samples: 2, Positives: 2, Fingerprint: "0b1c2d3e4f506172", Metrics: allCorrect},
		},
		Skipped: []evaluation.Skipped{
			{Run: "empty", Code: apperrors.CodeNotEvaluable, Reason: "dataset is empty"},
		},
		Best: "tokyo",
	}
}

func TestWrite_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, sampleReport(t), FormatText); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"transfer", "ause", "tokyo *", "st lucia", "nan", "skipped empty", "NOT_EVALUABLE", "auprc"} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}
}

func TestWrite_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, sampleReport(t), FormatJSON); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	var decoded evaluation.Report
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if len(decoded.Rows) != 2 || decoded.Best != "tokyo" {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.Rows[0].Fingerprint != "3f2a9c01d4e5b678" {
		t.Errorf("Fingerprint = %q", decoded.Rows[0].Fingerprint)
	}
	if !math.IsNaN(decoded.Rows[1].Metrics.Spearman) {
		t.Errorf("Spearman = %v, want NaN from null", decoded.Rows[1].Metrics.Spearman)
	}
	if len(decoded.Skipped) != 1 {
		t.Errorf("Skipped = %+v", decoded.Skipped)
	}
}

func TestWrite_CSV(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, sampleReport(t), FormatCSV); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(records))
	}
	if records[0][0] != "run_id" || records[1][2] != "tokyo" || records[1][len(records[1])-1] != "true" {
		t.Errorf("records = %v", records)
	}
	if records[1][5] != "1.0000" {
		t.Errorf("auprc cell = %s, want 1.0000", records[1][5])
	}
	fp := len(records[0]) - 2
	if records[0][fp] != "fingerprint" || records[1][fp] != "3f2a9c01d4e5b678" {
		t.Errorf("fingerprint column = %s / %s", records[0][fp], records[1][fp])
	}
}

func TestWrite_UnknownFormat(t *testing.T) {
	if err := Write(&bytes.Buffer{}, sampleReport(t), "xml"); !apperrors.IsValidation(err) {
		t.Errorf("Write() error = %v, want validation error", err)
	}
	if ValidFormat("xml") || !ValidFormat(FormatCSV) {
		t.Error("ValidFormat() misclassifies formats")
	}
}

func TestWriteAccuracy(t *testing.T) {
	results := []evaluation.Accuracy{
		{Run: "a", Queries: 10, Correct: 9, Recall1: 0.9},
		{Run: "b", Queries: 10, Correct: 5, Recall1: 0.5, Hard: true},
	}

	var buf bytes.Buffer
	if err := WriteAccuracy(&buf, results, nil, FormatText); err != nil {
		t.Fatalf("WriteAccuracy() error = %v", err)
	}
	if !strings.Contains(buf.String(), "90.00%") || !strings.Contains(buf.String(), "below 70%") {
		t.Errorf("text output:\n%s", buf.String())
	}

	buf.Reset()
	if err := WriteAccuracy(&buf, results, nil, FormatCSV); err != nil {
		t.Fatalf("WriteAccuracy() error = %v", err)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 3 {
		t.Errorf("csv lines = %d, want 3", lines)
	}
}

func TestWriteInspect(t *testing.T) {
	infos := []evaluation.RunInfo{{LogDir: "/logs/r1", Dataset: "pitts30k", Queries: 7}}

	var buf bytes.Buffer
	if err := WriteInspect(&buf, infos, FormatText); err != nil {
		t.Fatalf("WriteInspect() error = %v", err)
	}
	if !strings.Contains(buf.String(), "pitts30k") || !strings.Contains(buf.String(), "method:  -") {
		t.Errorf("text output:\n%s", buf.String())
	}
}

func TestExportCurves(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "curves")
	paths, err := ExportCurves(dir, sampleReport(t))
	if err != nil {
		t.Fatalf("ExportCurves() error = %v", err)
	}
	if len(paths) != 4 {
		t.Fatalf("len(paths) = %d, want 4", len(paths))
	}

	want := filepath.Join(dir, "tokyo_sparsification.csv")
	if paths[0] != want {
		t.Errorf("paths[0] = %s, want %s", paths[0], want)
	}
	if paths[2] != filepath.Join(dir, "st_lucia_sparsification.csv") {
		t.Errorf("paths[2] = %s", paths[2])
	}

	f, err := os.Open(want)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(records) != 5 || records[0][2] != "oracle" {
		t.Errorf("records = %v", records)
	}
	if records[1][0] != "0" || records[2][0] != "0.25" {
		t.Errorf("retention column = %s, %s", records[1][0], records[2][0])
	}
}

func TestExportCurves_NameCollision(t *testing.T) {
	r := sampleReport(t)
	r.Rows[1].Run = "st_lucia"
	r.Rows = append(r.Rows, evaluation.Row{Run: "st lucia", Metrics: r.Rows[1].Metrics})

	dir := filepath.Join(t.TempDir(), "curves")
	paths, err := ExportCurves(dir, r)
	if !apperrors.IsValidation(err) {
		t.Fatalf("ExportCurves() error = %v, want validation error", err)
	}
	if len(paths) != 0 {
		t.Errorf("paths = %v, want none", paths)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("curves directory should not be created, Stat() error = %v", err)
	}
}

func TestCheckCurveNames(t *testing.T) {
	tests := []struct {
		name    string
		runs    []string
		wantErr bool
	}{
		{"distinct", []string{"tokyo", "st_lucia", "st-lucia"}, false},
		{"cleaned collision", []string{"sf xs", "sf_xs"}, true},
		{"slash collision", []string{"a/b", "a b"}, true},
		{"exact duplicate", []string{"tokyo", "tokyo"}, true},
		{"empty", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckCurveNames(tt.runs)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckCurveNames(%v) error = %v, wantErr %v", tt.runs, err, tt.wantErr)
			}
		})
	}
}

func TestExportModelCurveAndHistogram(t *testing.T) {
	dir := t.TempDir()

	path, err := ExportModelCurve(dir, []float64{0, 1}, []float64{0.25, 0.5})
	if err != nil {
		t.Fatalf("ExportModelCurve() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "score,probability\n0,0.25\n1,0.5\n" {
		t.Errorf("model curve = %q", data)
	}

	h := &evaluation.Histogram{Edges: []float64{0, 4, 8}, Correct: []float64{1, 0}, Wrong: []float64{2, 3}}
	path, err = ExportHistogram(dir, h)
	if err != nil {
		t.Fatalf("ExportHistogram() error = %v", err)
	}
	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "lower,upper,correct,wrong\n0,4,1,2\n4,8,0,3\n" {
		t.Errorf("histogram = %q", data)
	}
}

func TestCurveFile(t *testing.T) {
	if got := CurveFile("a/b c", sparsify.KindSelective); got != "a_b_c_selective.csv" {
		t.Errorf("CurveFile() = %s", got)
	}
}
