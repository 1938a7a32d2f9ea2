package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FlagsFile is the run arguments file written next to the ground truth.
const FlagsFile = "flags.json"

// MatcherPrefix marks verification folders inside a run directory.
const MatcherPrefix = "preds_"

// RunFlags is the subset of run arguments used to identify a run.
type RunFlags struct {
	DatasetName string `json:"dataset_name"`
	Method      string `json:"method"`
}

// LoadRunFlags reads flags.json from dir. The dataset name falls back to
// the queries folder when no dataset name was recorded.
func LoadRunFlags(dir string) (*RunFlags, error) {
	data, err := os.ReadFile(filepath.Join(dir, FlagsFile))
	if err != nil {
		return nil, err
	}
	var raw struct {
		DatasetName   string `json:"dataset_name"`
		QueriesFolder string `json:"queries_folder"`
		Method        string `json:"method"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	flags := &RunFlags{DatasetName: raw.DatasetName, Method: raw.Method}
	if flags.DatasetName == "" {
		flags.DatasetName = raw.QueriesFolder
	}
	return flags, nil
}

// MatcherFolder describes one verification folder found in a run directory.
type MatcherFolder struct {
	Name  string `json:"name"`
	Files int    `json:"files"`
}

// DiscoverMatcherFolders lists the verification folders in dir, sorted by name.
func DiscoverMatcherFolders(dir string) ([]MatcherFolder, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []MatcherFolder
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), MatcherPrefix) {
			continue
		}
		files, err := os.ReadDir(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, MatcherFolder{Name: e.Name(), Files: len(files)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
