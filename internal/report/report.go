// Package report renders evaluation results as text tables, JSON or CSV.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/ricesearch/placecal/internal/evaluation"
	apperrors "github.com/ricesearch/placecal/internal/pkg/errors"
)

// Supported output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCSV  = "csv"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle = lipgloss.NewStyle().Faint(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#e0af68"))
)

// ValidFormat reports whether f is a supported output format.
func ValidFormat(f string) bool {
	switch f {
	case FormatText, FormatJSON, FormatCSV:
		return true
	}
	return false
}

// Number formats a metric for display. NaN renders as "nan".
func Number(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// Write renders an evaluation report in the given format.
func Write(w io.Writer, r *evaluation.Report, format string) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, r)
	case FormatCSV:
		return writeReportCSV(w, r)
	case FormatText, "":
		return writeReportText(w, r)
	}
	return unknownFormat(format)
}

var metricHeaders = []string{"run", "samples", "correct", "auprc", "spearman", "ause", "ausc", "r2"}

func metricCells(row evaluation.Row) []string {
	return []string{
		row.Run,
		strconv.Itoa(row.Samples),
		strconv.Itoa(row.Positives),
		Number(row.Metrics.AUPRC),
		Number(row.Metrics.Spearman),
		Number(row.Metrics.AUSE),
		Number(row.Metrics.AUSC),
		Number(row.Metrics.R2),
	}
}

func writeReportText(w io.Writer, r *evaluation.Report) error {
	title := fmt.Sprintf("Calibration report (%s, primary %s)", r.Mode, r.Mode.Primary())
	if r.Model != nil {
		title += fmt.Sprintf("\nModel trained on %s: intercept %.4g, coefficient %.4g (%d samples)",
			r.Model.TrainedOn, r.Model.Intercept, r.Model.Coefficient, r.Model.Samples)
	}
	if _, err := fmt.Fprintln(w, titleStyle.Render(title)); err != nil {
		return err
	}

	rows := make([][]string, 0, len(r.Rows))
	for _, row := range r.Rows {
		cells := metricCells(row)
		if row.Run == r.Best {
			cells[0] += " *"
		}
		rows = append(rows, cells)
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(metricHeaders...).
		Rows(rows...)
	if _, err := fmt.Fprintln(w, t.String()); err != nil {
		return err
	}

	if r.Best != "" {
		if _, err := fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("* best %s: %s", r.Mode.Primary(), r.Best))); err != nil {
			return err
		}
	}
	return writeSkippedText(w, r.Skipped)
}

func writeReportCSV(w io.Writer, r *evaluation.Report) error {
	cw := csv.NewWriter(w)
	header := append([]string{"run_id", "mode"}, metricHeaders...)
	header = append(header, "fingerprint", "best")
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range r.Rows {
		rec := append([]string{r.RunID, string(r.Mode)}, metricCells(row)...)
		rec = append(rec, row.Fingerprint, strconv.FormatBool(row.Run == r.Best))
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteAccuracy renders Recall@1 results.
func WriteAccuracy(w io.Writer, results []evaluation.Accuracy, skipped []evaluation.Skipped, format string) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, struct {
			Results []evaluation.Accuracy `json:"results"`
			Skipped []evaluation.Skipped  `json:"skipped"`
		}{results, skipped})
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"run", "queries", "correct", "recall_at_1", "hard"}); err != nil {
			return err
		}
		for _, a := range results {
			if err := cw.Write([]string{
				a.Run, strconv.Itoa(a.Queries), strconv.Itoa(a.Correct), Number(a.Recall1), strconv.FormatBool(a.Hard),
			}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	case FormatText, "":
	default:
		return unknownFormat(format)
	}

	rows := make([][]string, 0, len(results))
	for _, a := range results {
		note := ""
		if a.Hard {
			note = fmt.Sprintf("below %.0f%%", evaluation.HardThreshold*100)
		}
		rows = append(rows, []string{
			a.Run, strconv.Itoa(a.Queries), strconv.Itoa(a.Correct),
			fmt.Sprintf("%.2f%%", a.Recall1*100), note,
		})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("run", "queries", "correct", "recall@1", "").
		Rows(rows...)
	if _, err := fmt.Fprintln(w, t.String()); err != nil {
		return err
	}
	return writeSkippedText(w, skipped)
}

// WriteInspect renders run directory summaries.
func WriteInspect(w io.Writer, infos []evaluation.RunInfo, format string) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, infos)
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"log_dir", "dataset", "method", "queries", "matcher", "files"}); err != nil {
			return err
		}
		for _, info := range infos {
			base := []string{info.LogDir, info.Dataset, info.Method, strconv.Itoa(info.Queries)}
			if len(info.Matchers) == 0 {
				if err := cw.Write(append(base, "", "")); err != nil {
					return err
				}
			}
			for _, m := range info.Matchers {
				rec := append(append([]string{}, base...), m.Name, strconv.Itoa(m.Files))
				if err := cw.Write(rec); err != nil {
					return err
				}
			}
		}
		cw.Flush()
		return cw.Error()
	case FormatText, "":
	default:
		return unknownFormat(format)
	}

	for _, info := range infos {
		if _, err := fmt.Fprintln(w, titleStyle.Render(info.LogDir)); err != nil {
			return err
		}
		fmt.Fprintf(w, "  dataset: %s\n  method:  %s\n  queries: %d\n", orDash(info.Dataset), orDash(info.Method), info.Queries)
		for _, m := range info.Matchers {
			fmt.Fprintf(w, "  %s: %d files\n", m.Name, m.Files)
		}
		for _, p := range info.Problems {
			fmt.Fprintln(w, warnStyle.Render("  "+p))
		}
	}
	return nil
}

// WriteHistogram renders a correct/wrong score histogram.
func WriteHistogram(w io.Writer, h *evaluation.Histogram, format string) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, h)
	case FormatCSV:
		return histogramCSV(w, h)
	case FormatText, "":
	default:
		return unknownFormat(format)
	}

	rows := make([][]string, 0, h.Bins())
	for i := 0; i < h.Bins(); i++ {
		if h.Correct[i] == 0 && h.Wrong[i] == 0 {
			continue
		}
		rows = append(rows, []string{
			fmt.Sprintf("[%g, %g)", h.Edges[i], h.Edges[i+1]),
			strconv.FormatFloat(h.Correct[i], 'f', 0, 64),
			strconv.FormatFloat(h.Wrong[i], 'f', 0, 64),
		})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("inliers", "correct", "wrong").
		Rows(rows...)
	if _, err := fmt.Fprintln(w, titleStyle.Render("Inlier histogram: "+h.Run)); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, t.String()); err != nil {
		return err
	}
	if h.Outside > 0 {
		fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("%d scores outside [%g, %g)", h.Outside, h.Edges[0], h.Edges[len(h.Edges)-1])))
	}
	return nil
}

func writeSkippedText(w io.Writer, skipped []evaluation.Skipped) error {
	for _, s := range skipped {
		line := fmt.Sprintf("skipped %s (%s): %s", s.Run, s.Code, s.Reason)
		if _, err := fmt.Fprintln(w, warnStyle.Render(line)); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func unknownFormat(format string) error {
	return apperrors.ValidationError(fmt.Sprintf("unknown output format %q (want text, json or csv)", format))
}
