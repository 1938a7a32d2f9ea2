package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Ground-truth artifact keys.
const (
	KeyPredictions = "predictions"
	KeyPositives   = "positives_per_query"
)

// GroundTruth holds per-query retrieval results with plain ids.
type GroundTruth struct {
	// Predictions[i] lists the reference ids retrieved for query i, best first.
	Predictions [][]int64
	// Positives[i] lists the reference ids accepted as correct for query i.
	Positives [][]int64
}

// Len returns the number of queries covered by both sequences.
func (g *GroundTruth) Len() int {
	return min(len(g.Predictions), len(g.Positives))
}

// Top1 returns the highest-ranked prediction for query i.
func (g *GroundTruth) Top1(i int) (int64, bool) {
	if i >= len(g.Predictions) || len(g.Predictions[i]) == 0 {
		return 0, false
	}
	return g.Predictions[i][0], true
}

// Correct reports whether the top-1 prediction of query i is a positive.
// A query without predictions is never correct.
func (g *GroundTruth) Correct(i int) bool {
	top, ok := g.Top1(i)
	if !ok || i >= len(g.Positives) {
		return false
	}
	return slices.Contains(g.Positives[i], top)
}

// LoadGroundTruth reads a ground-truth artifact. Files ending in .yaml or
// .yml are parsed as YAML, everything else as JSON.
func LoadGroundTruth(path string) (*GroundTruth, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse ground truth: %w", err)
		}
	default:
		doc, err = decodeAny(data)
		if err != nil {
			return nil, fmt.Errorf("parse ground truth: %w", err)
		}
	}

	return ParseGroundTruth(doc)
}

// ParseGroundTruth coerces a decoded ground-truth document.
func ParseGroundTruth(doc any) (*GroundTruth, error) {
	m, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("ground truth must be a mapping, got %T", doc)
	}

	preds, err := perQuery(m, KeyPredictions)
	if err != nil {
		return nil, err
	}
	positives, err := perQuery(m, KeyPositives)
	if err != nil {
		return nil, err
	}

	gt := &GroundTruth{
		Predictions: make([][]int64, len(preds)),
		Positives:   make([][]int64, len(positives)),
	}
	for i, p := range preds {
		ids, err := coerceList(p)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", KeyPredictions, i, err)
		}
		gt.Predictions[i] = ids
	}
	for i, p := range positives {
		ids, err := coerceList(p)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", KeyPositives, i, err)
		}
		gt.Positives[i] = ids
	}
	return gt, nil
}

// perQuery returns the per-query entries stored under key.
func perQuery(m map[string]any, key string) ([]any, error) {
	raw, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("ground truth is missing %q", key)
	}
	items, ok := unwrapTensor(raw).([]any)
	if !ok {
		return nil, fmt.Errorf("%q must be a sequence, got %T", key, raw)
	}
	return items, nil
}

// coerceList turns one query's id collection into plain ids. Each element may
// itself be scalar or tensor-like; a tensor object is flattened as a whole.
func coerceList(v any) ([]int64, error) {
	if _, isMap := v.(map[string]any); isMap {
		return flattenInts(v)
	}
	items, ok := v.([]any)
	if !ok {
		id, err := decodeID(v)
		if err != nil {
			return nil, err
		}
		n, err := id.Coerce()
		if err != nil {
			return nil, err
		}
		return []int64{n}, nil
	}
	out := make([]int64, 0, len(items))
	for _, item := range items {
		id, err := decodeID(item)
		if err != nil {
			return nil, err
		}
		n, err := id.Coerce()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
