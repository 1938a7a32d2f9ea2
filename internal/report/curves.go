package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ricesearch/placecal/internal/evaluation"
	apperrors "github.com/ricesearch/placecal/internal/pkg/errors"
	"github.com/ricesearch/placecal/internal/sparsify"
)

// Curve file names inside the curves directory.
const (
	ModelCurveFile = "model_curve.csv"
	HistogramFile  = "histogram.csv"
)

// CurveFile returns the file name for a run's curve of the given kind.
func CurveFile(run string, kind sparsify.Kind) string {
	return fmt.Sprintf("%s_%s.csv", safeName(run), kind)
}

// CheckCurveNames fails when two runs would share curve files.
func CheckCurveNames(runs []string) error {
	seen := make(map[string]string, len(runs))
	for _, run := range runs {
		file := safeName(run)
		if other, ok := seen[file]; ok {
			return apperrors.ValidationError(fmt.Sprintf("runs %q and %q map to the same curve file name %q", other, run, file))
		}
		seen[file] = run
	}
	return nil
}

// ExportCurves writes both curve families of every row to dir and returns
// the written paths. Nothing is written when two rows share a file name.
func ExportCurves(dir string, r *evaluation.Report) ([]string, error) {
	runs := make([]string, len(r.Rows))
	for i, row := range r.Rows {
		runs[i] = row.Run
	}
	if err := CheckCurveNames(runs); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, apperrors.StorageError("create curves directory", err)
	}
	var paths []string
	for _, row := range r.Rows {
		for _, c := range []sparsify.Curve{row.Metrics.Sparsification, row.Metrics.Selective} {
			path := filepath.Join(dir, CurveFile(row.Run, c.Kind))
			if err := writeFile(path, func(w io.Writer) error { return curveCSV(w, c) }); err != nil {
				return paths, err
			}
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// ExportModelCurve writes the learned probability series to dir.
func ExportModelCurve(dir string, scores, probs []float64) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", apperrors.StorageError("create curves directory", err)
	}
	path := filepath.Join(dir, ModelCurveFile)
	return path, writeFile(path, func(w io.Writer) error { return ModelCurveCSV(w, scores, probs) })
}

// ExportHistogram writes a histogram to dir.
func ExportHistogram(dir string, h *evaluation.Histogram) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", apperrors.StorageError("create curves directory", err)
	}
	path := filepath.Join(dir, HistogramFile)
	return path, writeFile(path, func(w io.Writer) error { return histogramCSV(w, h) })
}

// ModelCurveCSV writes a score,probability series.
func ModelCurveCSV(w io.Writer, scores, probs []float64) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"score", "probability"}); err != nil {
		return err
	}
	for i := range scores {
		if err := cw.Write([]string{formatFull(scores[i]), formatFull(probs[i])}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func curveCSV(w io.Writer, c sparsify.Curve) error {
	reference := "oracle"
	if c.Kind == sparsify.KindSelective {
		reference = "baseline"
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"retention", "model", reference}); err != nil {
		return err
	}
	for i := range c.Retention {
		if err := cw.Write([]string{
			formatFull(c.Retention[i]), formatFull(c.Model[i]), formatFull(c.Reference[i]),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func histogramCSV(w io.Writer, h *evaluation.Histogram) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"lower", "upper", "correct", "wrong"}); err != nil {
		return err
	}
	for i := 0; i < h.Bins(); i++ {
		if err := cw.Write([]string{
			formatFull(h.Edges[i]), formatFull(h.Edges[i+1]),
			strconv.FormatFloat(h.Correct[i], 'f', 0, 64),
			strconv.FormatFloat(h.Wrong[i], 'f', 0, 64),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return apperrors.StorageError("create "+path, err)
	}
	if err := fn(f); err != nil {
		f.Close()
		return apperrors.StorageError("write "+path, err)
	}
	if err := f.Close(); err != nil {
		return apperrors.StorageError("close "+path, err)
	}
	return nil
}

func formatFull(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// safeName maps a run name to a file-name-safe token.
func safeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, name)
}
