package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/ricesearch/placecal/internal/bus"
	"github.com/ricesearch/placecal/internal/history"
)

// WriteHistory renders stored report summaries, newest first.
func WriteHistory(w io.Writer, sums []history.Summary, format string) error {
	header := []string{"run_id", "mode", "train", "best", "rows", "skipped", "finished_at"}
	rows := make([][]string, 0, len(sums))
	for _, s := range sums {
		rows = append(rows, []string{
			s.RunID, s.Mode, orDash(s.Train), orDash(s.Best),
			strconv.Itoa(s.Rows), strconv.Itoa(s.Skipped),
			s.FinishedAt.Local().Format(time.DateTime),
		})
	}

	switch format {
	case FormatJSON:
		return writeJSON(w, sums)
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		if err := cw.WriteAll(rows); err != nil {
			return err
		}
		return cw.Error()
	case FormatText, "":
	default:
		return unknownFormat(format)
	}

	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, mutedStyle.Render("no stored reports"))
		return err
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(header...).
		Rows(rows...)
	_, err := fmt.Fprintln(w, t.String())
	return err
}

// WriteEvents renders entries read from an event log.
func WriteEvents(w io.Writer, events []bus.LoggedEvent, format string) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, events)
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"timestamp", "topic", "type", "id", "correlation_id"}); err != nil {
			return err
		}
		for _, e := range events {
			rec := []string{e.Timestamp.Format(time.RFC3339Nano), e.Topic, e.Event.Type, e.Event.ID, e.Event.CorrelationID}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	case FormatText, "":
	default:
		return unknownFormat(format)
	}

	for _, e := range events {
		line := fmt.Sprintf("%s %-22s %s %s",
			e.Timestamp.Local().Format(time.DateTime), e.Event.Type, e.Event.CorrelationID, mutedStyle.Render(e.Event.ID))
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
