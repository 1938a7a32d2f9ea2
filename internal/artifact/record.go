package artifact

import (
	"fmt"
	"math"
	"os"

	apperrors "github.com/ricesearch/placecal/internal/pkg/errors"
)

// InlierKeys are the record fields recognized as an inlier count, in priority order.
var InlierKeys = []string{"num_inliers", "inlier_count", "inliers"}

// ScoreRecord is one normalized match attempt.
type ScoreRecord struct {
	Value float64
}

// VerificationRecord holds the match attempts of one query.
type VerificationRecord struct {
	// Source is the file the record was read from.
	Source string
	// Attempts are the usable match attempts, possibly none.
	Attempts []ScoreRecord
	// Err is set when the file was unreadable or structurally unexpected.
	Err error
}

// MaxScore returns the largest attempt value, or 0 when there are none.
func (r VerificationRecord) MaxScore() float64 {
	best := 0.0
	for _, a := range r.Attempts {
		if a.Value > best {
			best = a.Value
		}
	}
	return best
}

// ReadVerificationFile reads and normalizes one per-query verification file.
// Read and parse failures are recorded on the returned record, never returned.
func ReadVerificationFile(path string) VerificationRecord {
	rec := VerificationRecord{Source: path}

	data, err := os.ReadFile(path)
	if err != nil {
		rec.Err = apperrors.CorruptArtifactError(path, err)
		return rec
	}
	doc, err := decodeAny(data)
	if err != nil {
		rec.Err = apperrors.CorruptArtifactError(path, err)
		return rec
	}
	attempts, err := NormalizeRecords(doc)
	if err != nil {
		rec.Err = apperrors.CorruptArtifactError(path, err)
		return rec
	}
	rec.Attempts = attempts
	return rec
}

// NormalizeRecords converts a decoded list of match attempts into score
// records. Each attempt may be an object with an inlier field, a bare number,
// or a one-element tensor-like value. Attempts without a usable non-negative
// finite value are dropped.
func NormalizeRecords(doc any) ([]ScoreRecord, error) {
	items, ok := unwrapTensor(doc).([]any)
	if !ok {
		return nil, fmt.Errorf("verification record must be a sequence, got %T", doc)
	}

	out := make([]ScoreRecord, 0, len(items))
	for _, item := range items {
		v, ok := recordValue(item)
		if !ok {
			continue
		}
		out = append(out, ScoreRecord{Value: v})
	}
	return out, nil
}

func recordValue(item any) (float64, bool) {
	if m, ok := item.(map[string]any); ok {
		for _, key := range InlierKeys {
			if raw, ok := m[key]; ok {
				return scalarValue(raw)
			}
		}
		// tensor object standing in for a bare score
		if _, ok := m["data"]; ok {
			return scalarValue(m)
		}
		if _, ok := m["tensor"]; ok {
			return scalarValue(m)
		}
		return 0, false
	}
	return scalarValue(item)
}

func scalarValue(v any) (float64, bool) {
	v = unwrapTensor(v)
	if arr, ok := v.([]any); ok {
		if len(arr) != 1 {
			return 0, false
		}
		return scalarValue(arr[0])
	}
	f, ok := asFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	return f, true
}
