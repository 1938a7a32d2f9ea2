package evaluation

import (
	"context"
	"errors"
	"os"

	"github.com/ricesearch/placecal/internal/align"
	"github.com/ricesearch/placecal/internal/artifact"
	apperrors "github.com/ricesearch/placecal/internal/pkg/errors"
	"github.com/ricesearch/placecal/internal/pkg/logger"
)

// HardThreshold is the Recall@1 below which a run is flagged as hard.
const HardThreshold = 0.70

// Accuracy is the top-1 retrieval accuracy of one run.
type Accuracy struct {
	Run     string  `json:"run"`
	Queries int     `json:"queries"`
	Correct int     `json:"correct"`
	Recall1 float64 `json:"recall_at_1"`
	Hard    bool    `json:"hard"`
}

// Recall1 computes top-1 accuracy from ground truth alone.
func Recall1(gt *artifact.GroundTruth) Accuracy {
	acc := Accuracy{Queries: gt.Len()}
	for i := 0; i < acc.Queries; i++ {
		if gt.Correct(i) {
			acc.Correct++
		}
	}
	if acc.Queries > 0 {
		acc.Recall1 = float64(acc.Correct) / float64(acc.Queries)
	}
	acc.Hard = acc.Recall1 < HardThreshold
	return acc
}

// Inspector reports on run directories without fitting a model.
type Inspector struct {
	aligner *align.Aligner
	log     *logger.Logger
}

// NewInspector creates an inspector that locates artifacts with aligner.
func NewInspector(aligner *align.Aligner, log *logger.Logger) *Inspector {
	if log == nil {
		log = logger.Default()
	}
	return &Inspector{aligner: aligner, log: log}
}

// Accuracy computes Recall@1 for each run. Runs without readable ground
// truth are skipped.
func (in *Inspector) Accuracy(ctx context.Context, runs []align.RunSpec) ([]Accuracy, []Skipped, error) {
	var (
		out     []Accuracy
		skipped []Skipped
	)
	for _, run := range runs {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		path := in.aligner.GroundTruthPath(run)
		gt, err := artifact.LoadGroundTruth(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				err = apperrors.MissingInputError(run.Name, path)
			} else {
				err = apperrors.CorruptArtifactError(path, err)
			}
			skipped = append(skipped, *skip(run, err))
			in.log.WithRun(run.Name, run.LogDir).Warn("Skipping run", "reason", err.Error())
			continue
		}
		acc := Recall1(gt)
		acc.Run = run.Name
		out = append(out, acc)
		in.log.WithRun(run.Name, run.LogDir).Info("Computed accuracy",
			"queries", acc.Queries,
			"recall_at_1", acc.Recall1,
			"hard", acc.Hard,
		)
	}
	return out, skipped, nil
}
