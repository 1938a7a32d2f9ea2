// Package artifact reads the per-run files produced by retrieval and
// geometric verification, and normalizes their loosely typed contents.
//
// Ids and scores arrive either as plain numbers or as tensor-like values
// (a one-element array, or an object carrying the values under "data" or
// "tensor"). Everything is coerced to plain Go values here; packages
// downstream never see the raw shapes.
package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// IDKind tags the shape an id arrived in.
type IDKind int

const (
	// ScalarID is a plain number.
	ScalarID IDKind = iota
	// TensorLikeID is an array or tensor object that must be reduced with Coerce.
	TensorLikeID
)

func (k IDKind) String() string {
	if k == TensorLikeID {
		return "tensor"
	}
	return "scalar"
}

// ID is a reference id as found in a ground-truth artifact.
type ID struct {
	Kind   IDKind
	Value  int64   // set when Kind == ScalarID
	Values []int64 // flattened contents when Kind == TensorLikeID
}

// Scalar returns a plain id.
func Scalar(v int64) ID {
	return ID{Kind: ScalarID, Value: v}
}

// TensorLike returns a tensor-like id holding values.
func TensorLike(values ...int64) ID {
	return ID{Kind: TensorLikeID, Values: values}
}

// Coerce reduces the id to a plain value. A tensor-like id must hold
// exactly one element.
func (id ID) Coerce() (int64, error) {
	if id.Kind == ScalarID {
		return id.Value, nil
	}
	if len(id.Values) != 1 {
		return 0, fmt.Errorf("tensor-like id has %d elements, want 1", len(id.Values))
	}
	return id.Values[0], nil
}

// UnmarshalJSON decodes a scalar or tensor-like id.
func (id *ID) UnmarshalJSON(b []byte) error {
	v, err := decodeAny(b)
	if err != nil {
		return err
	}
	parsed, err := decodeID(v)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func decodeAny(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// decodeID builds an ID from a generic JSON or YAML value.
func decodeID(v any) (ID, error) {
	if n, ok, err := asInt(v); ok || err != nil {
		if err != nil {
			return ID{}, err
		}
		return Scalar(n), nil
	}
	values, err := flattenInts(v)
	if err != nil {
		return ID{}, err
	}
	return TensorLike(values...), nil
}

// unwrapTensor returns the payload of a tensor object, or v unchanged.
func unwrapTensor(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for _, key := range []string{"data", "tensor", "values"} {
		if inner, ok := m[key]; ok {
			return inner
		}
	}
	return v
}

// flattenInts flattens a (possibly nested) array or tensor object into ints.
func flattenInts(v any) ([]int64, error) {
	v = unwrapTensor(v)
	if n, ok, err := asInt(v); ok || err != nil {
		if err != nil {
			return nil, err
		}
		return []int64{n}, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected id value of type %T", v)
	}
	out := make([]int64, 0, len(items))
	for _, item := range items {
		inner, err := flattenInts(item)
		if err != nil {
			return nil, err
		}
		out = append(out, inner...)
	}
	return out, nil
}

// asInt reports whether v is a number and returns it as an integer.
// ok is true for numbers; err is set when the number is not integral.
func asInt(v any) (n int64, ok bool, err error) {
	f, ok := asFloat(v)
	if !ok {
		return 0, false, nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, true, fmt.Errorf("id %v is not an integer", f)
	}
	if num, isNum := v.(json.Number); isNum {
		if i, err := num.Int64(); err == nil {
			return i, true, nil
		}
	}
	return int64(f), true, nil
}

// asFloat reports whether v is a number and returns it as a float64.
func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case json.Number:
		f, err := strconv.ParseFloat(string(x), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case uint:
		return float64(x), true
	}
	return 0, false
}
