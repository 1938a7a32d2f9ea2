package evaluation

import (
	"context"
	"path/filepath"

	"github.com/ricesearch/placecal/internal/align"
	"github.com/ricesearch/placecal/internal/artifact"
)

// RunInfo summarizes the artifacts found in one run directory.
type RunInfo struct {
	LogDir   string                   `json:"log_dir"`
	Dataset  string                   `json:"dataset,omitempty"`
	Method   string                   `json:"method,omitempty"`
	Queries  int                      `json:"queries"`
	Matchers []artifact.MatcherFolder `json:"matchers"`
	Problems []string                 `json:"problems,omitempty"`
}

// Inspect reads each directory's run flags, ground truth and verification
// folders. Unreadable pieces are listed as problems rather than failing.
func (in *Inspector) Inspect(ctx context.Context, dirs []string) ([]RunInfo, error) {
	out := make([]RunInfo, 0, len(dirs))
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info := RunInfo{LogDir: dir, Matchers: []artifact.MatcherFolder{}}
		run := align.RunSpec{Name: filepath.Base(dir), LogDir: dir}

		if flags, err := artifact.LoadRunFlags(dir); err != nil {
			info.Problems = append(info.Problems, "flags: "+err.Error())
		} else {
			info.Dataset = flags.DatasetName
			info.Method = flags.Method
		}

		if gt, err := artifact.LoadGroundTruth(in.aligner.GroundTruthPath(run)); err != nil {
			info.Problems = append(info.Problems, "ground truth: "+err.Error())
		} else {
			info.Queries = gt.Len()
		}

		if matchers, err := artifact.DiscoverMatcherFolders(dir); err != nil {
			info.Problems = append(info.Problems, "matchers: "+err.Error())
		} else if matchers != nil {
			info.Matchers = matchers
		}

		in.log.WithRun(run.Name, dir).Debug("Inspected run",
			"queries", info.Queries,
			"matchers", len(info.Matchers),
			"problems", len(info.Problems),
		)
		out = append(out, info)
	}
	return out, nil
}
