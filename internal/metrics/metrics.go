// Package metrics exposes evaluation results as Prometheus gauges, written to
// a node-exporter textfile after each evaluation.
package metrics

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ricesearch/placecal/internal/evaluation"
	apperrors "github.com/ricesearch/placecal/internal/pkg/errors"
	"github.com/ricesearch/placecal/internal/pkg/logger"
)

const namespace = "placecal"

// Exporter holds all evaluation metrics on a private registry.
type Exporter struct {
	registry *prometheus.Registry
	textfile string
	log      *logger.Logger

	AUPRC    *prometheus.GaugeVec // labels: mode, run
	Spearman *prometheus.GaugeVec // labels: mode, run
	AUSE     *prometheus.GaugeVec // labels: mode, run
	AUSC     *prometheus.GaugeVec // labels: mode, run
	R2       *prometheus.GaugeVec // labels: mode, run
	Samples  *prometheus.GaugeVec // labels: mode, run
	Best     *prometheus.GaugeVec // labels: mode, run
	Skipped  *prometheus.GaugeVec // labels: mode, run, code

	Duration      *prometheus.GaugeVec // labels: mode
	LastCompleted prometheus.Gauge

	BusPublished *prometheus.CounterVec   // labels: topic, status
	BusLatency   *prometheus.HistogramVec // labels: topic
}

// NewExporter creates an exporter. When textfile is non-empty, Completed
// writes the registry to it.
func NewExporter(textfile string, log *logger.Logger) *Exporter {
	if log == nil {
		log = logger.Default()
	}

	runGauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{"mode", "run"})
	}

	e := &Exporter{
		registry: prometheus.NewRegistry(),
		textfile: textfile,
		log:      log,

		AUPRC:    runGauge("auprc", "Area under the precision-recall curve of the confidence model."),
		Spearman: runGauge("spearman", "Spearman rank correlation between confidence and correctness."),
		AUSE:     runGauge("ause", "Area under the sparsification error curve."),
		AUSC:     runGauge("ausc", "Area under the selective (cumulative error) curve."),
		R2:       runGauge("r2", "Coefficient of determination of confidence against correctness."),
		Samples:  runGauge("samples", "Number of aligned queries evaluated."),
		Best:     runGauge("best", "1 for the best run of the latest evaluation."),
		Skipped: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "skipped",
			Help:      "1 for each run skipped by the latest evaluation.",
		}, []string{"mode", "run", "code"}),

		Duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Wall time of the latest evaluation.",
		}, []string{"mode"}),
		LastCompleted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_completed_timestamp_seconds",
			Help:      "Unix time the latest evaluation finished.",
		}),

		BusPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_events_published_total",
			Help:      "Events published to the event bus.",
		}, []string{"topic", "status"}),
		BusLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bus_publish_seconds",
			Help:      "Event bus publish latency.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"topic"}),
	}

	e.registry.MustRegister(
		e.AUPRC, e.Spearman, e.AUSE, e.AUSC, e.R2, e.Samples, e.Best, e.Skipped,
		e.Duration, e.LastCompleted,
		e.BusPublished, e.BusLatency,
	)
	return e
}

// Registry returns the registry holding all exporter metrics.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// RowEvaluated implements evaluation.Observer.
func (e *Exporter) RowEvaluated(ctx context.Context, runID string, mode evaluation.Mode, row evaluation.Row) error {
	m := string(mode)
	e.AUPRC.WithLabelValues(m, row.Run).Set(row.Metrics.AUPRC)
	e.Spearman.WithLabelValues(m, row.Run).Set(row.Metrics.Spearman)
	e.AUSE.WithLabelValues(m, row.Run).Set(row.Metrics.AUSE)
	e.AUSC.WithLabelValues(m, row.Run).Set(row.Metrics.AUSC)
	e.R2.WithLabelValues(m, row.Run).Set(row.Metrics.R2)
	e.Samples.WithLabelValues(m, row.Run).Set(float64(row.Samples))
	return nil
}

// RunSkipped implements evaluation.Observer.
func (e *Exporter) RunSkipped(ctx context.Context, runID string, mode evaluation.Mode, skipped evaluation.Skipped) error {
	e.Skipped.WithLabelValues(string(mode), skipped.Run, skipped.Code).Set(1)
	return nil
}

// Completed implements evaluation.Observer. It marks the best run and writes
// the textfile when one is configured.
func (e *Exporter) Completed(ctx context.Context, report *evaluation.Report) error {
	m := string(report.Mode)

	// Only the latest evaluation's best run stays marked.
	e.Best.DeletePartialMatch(prometheus.Labels{"mode": m})
	if report.Best != "" {
		e.Best.WithLabelValues(m, report.Best).Set(1)
	}
	e.Duration.WithLabelValues(m).Set(report.Duration().Seconds())
	e.LastCompleted.Set(float64(report.FinishedAt.Unix()))

	if e.textfile == "" {
		return nil
	}
	return e.WriteTextfile(e.textfile)
}

// RecordBusPublish implements bus.MetricsRecorder.
func (e *Exporter) RecordBusPublish(topic string, latency time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	e.BusPublished.WithLabelValues(topic, status).Inc()
	e.BusLatency.WithLabelValues(topic).Observe(latency.Seconds())
}

// WriteTextfile writes all metrics to path in the text exposition format.
// The file is replaced atomically.
func (e *Exporter) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return apperrors.StorageError("create metrics directory", err)
	}
	if err := prometheus.WriteToTextfile(path, e.registry); err != nil {
		return apperrors.StorageError("write metrics textfile", err)
	}
	e.log.Debug("Wrote metrics textfile", "path", path)
	return nil
}
