// Package align merges a run's ground truth with its per-query verification
// records into (score, label) samples.
package align

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/ricesearch/placecal/internal/artifact"
	apperrors "github.com/ricesearch/placecal/internal/pkg/errors"
	"github.com/ricesearch/placecal/internal/pkg/hash"
	"github.com/ricesearch/placecal/internal/pkg/logger"
)

// Sample is one query's confidence feature and top-1 correctness.
type Sample struct {
	Score float64 `json:"score"`
	Label int     `json:"label"`
}

// Dataset is an ordered sequence of samples, index-aligned with queries.
type Dataset struct {
	Name    string   `json:"name"`
	Samples []Sample `json:"samples"`

	// GroundTruthQueries and VerificationFiles are the source sizes before truncation.
	GroundTruthQueries int `json:"ground_truth_queries"`
	VerificationFiles  int `json:"verification_files"`

	// Corrupt counts verification files that defaulted to score 0.
	Corrupt int `json:"corrupt"`
}

// Len returns the number of samples.
func (d Dataset) Len() int {
	return len(d.Samples)
}

// Empty reports whether the dataset has nothing to evaluate.
func (d Dataset) Empty() bool {
	return len(d.Samples) == 0
}

// Truncated reports whether either source had surplus entries that were dropped.
func (d Dataset) Truncated() bool {
	return d.GroundTruthQueries != d.VerificationFiles
}

// Scores returns the sample scores.
func (d Dataset) Scores() []float64 {
	out := make([]float64, len(d.Samples))
	for i, s := range d.Samples {
		out[i] = s.Score
	}
	return out
}

// Labels returns the sample labels.
func (d Dataset) Labels() []int {
	out := make([]int, len(d.Samples))
	for i, s := range d.Samples {
		out[i] = s.Label
	}
	return out
}

// Positives returns the number of samples labelled correct.
func (d Dataset) Positives() int {
	n := 0
	for _, s := range d.Samples {
		n += s.Label
	}
	return n
}

// Fingerprint identifies the aligned sample sequence.
func (d Dataset) Fingerprint() string {
	return hash.Samples(d.Scores(), d.Labels())
}

// Align pairs query i of gt with records[i]. The result has
// min(gt.Len(), len(records)) samples; surplus on either side is dropped.
// The label is 1 iff the top-1 prediction is among the positives, and the
// score is the largest usable inlier count (0 when there is none).
func Align(gt *artifact.GroundTruth, records []artifact.VerificationRecord) Dataset {
	queries := 0
	if gt != nil {
		queries = gt.Len()
	}
	n := min(queries, len(records))

	ds := Dataset{
		Samples:            make([]Sample, n),
		GroundTruthQueries: queries,
		VerificationFiles:  len(records),
	}
	for i := 0; i < n; i++ {
		label := 0
		if gt.Correct(i) {
			label = 1
		}
		ds.Samples[i] = Sample{Score: records[i].MaxScore(), Label: label}
		if records[i].Err != nil {
			ds.Corrupt++
		}
	}
	return ds
}

// RunSpec locates one run's artifacts.
type RunSpec struct {
	Name   string
	LogDir string
}

// Aligner loads and aligns run directories.
type Aligner struct {
	groundTruthFile string
	matcherFolder   string
	ext             string
	log             *logger.Logger
}

// Options configures an Aligner.
type Options struct {
	GroundTruthFile string
	MatcherFolder   string
	Ext             string
}

// New creates an Aligner.
func New(opts Options, log *logger.Logger) *Aligner {
	if log == nil {
		log = logger.Default()
	}
	return &Aligner{
		groundTruthFile: opts.GroundTruthFile,
		matcherFolder:   opts.MatcherFolder,
		ext:             opts.Ext,
		log:             log,
	}
}

// GroundTruthPath returns the ground-truth path for a run.
func (a *Aligner) GroundTruthPath(run RunSpec) string {
	return filepath.Join(run.LogDir, a.groundTruthFile)
}

// VerificationDir returns the verification folder for a run.
func (a *Aligner) VerificationDir(run RunSpec) string {
	return filepath.Join(run.LogDir, a.matcherFolder)
}

// Load reads and aligns one run. When the ground truth or verification
// folder is absent it returns an empty dataset and a MISSING_INPUT error.
// Unreadable ground truth fails the run; unreadable verification files only
// zero their own query.
func (a *Aligner) Load(ctx context.Context, run RunSpec) (Dataset, error) {
	log := a.log.WithRun(run.Name, run.LogDir)
	empty := Dataset{Name: run.Name}

	gtPath := a.GroundTruthPath(run)
	verDir := a.VerificationDir(run)
	for _, p := range []string{gtPath, verDir} {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				log.Warn("Skipping run: incomplete inputs", "missing", p)
				return empty, apperrors.MissingInputError(run.Name, p)
			}
			return empty, apperrors.Wrap(apperrors.CodeMissingInput, "cannot stat input", err).
				WithDetail("run", run.Name).WithDetail("path", p)
		}
	}

	if err := ctx.Err(); err != nil {
		return empty, err
	}

	gt, err := artifact.LoadGroundTruth(gtPath)
	if err != nil {
		return empty, apperrors.CorruptArtifactError(gtPath, err).WithDetail("run", run.Name)
	}

	records, err := artifact.ReadVerificationDir(verDir, a.ext)
	if err != nil {
		return empty, apperrors.CorruptArtifactError(verDir, err).WithDetail("run", run.Name)
	}

	ds := Align(gt, records)
	ds.Name = run.Name

	if ds.Truncated() {
		log.Warn("Ground truth and verification counts differ, truncating",
			"ground_truth_queries", ds.GroundTruthQueries,
			"verification_files", ds.VerificationFiles,
			"samples", ds.Len(),
		)
	}
	if ds.Corrupt > 0 {
		log.Warn("Unreadable verification files scored as 0", "count", ds.Corrupt)
		for _, r := range records[:ds.Len()] {
			if r.Err != nil {
				log.Debug("Corrupt verification file", "error", r.Err.Error())
			}
		}
	}
	log.Debug("Aligned run", "samples", ds.Len(), "correct", ds.Positives())

	return ds, nil
}
