package task

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// normalizeValue coerces a user-supplied parameter value into its canonical
// in-memory form for the declared kind: int64 for integers, float64 for
// floats, []any / map[string]any containers with normalized elements, and
// *Instance for task-valued parameters. nil is the null scalar and is legal
// for every kind.
func normalizeValue(spec ParamSpec, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if inst, ok := v.(*Instance); ok {
		if spec.Kind == KindTask || spec.AllowTask {
			return inst, nil
		}
		return nil, fmt.Errorf("task instance not allowed for %s parameter", spec.Kind)
	}
	switch spec.Kind {
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindInt:
		if i, ok := toInt64(v); ok {
			return i, nil
		}
	case KindFloat:
		if f, ok := toFloat64(v); ok {
			return f, nil
		}
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindSeq:
		return normalizeSeq(spec, v)
	case KindMap:
		return normalizeMap(spec, v)
	case KindTask:
		// *Instance is handled above; anything else is invalid.
	case KindTaskSlice:
		return normalizeTaskSlice(v)
	case KindTaskMap:
		if m, ok := v.(map[string]*Instance); ok {
			out := make(map[string]*Instance, len(m))
			for k, inst := range m {
				if inst == nil {
					return nil, fmt.Errorf("nil task instance at key %q", k)
				}
				out[k] = inst
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("value of type %T does not match declared kind %s", v, spec.Kind)
}

func normalizeSeq(spec ParamSpec, v any) (any, error) {
	elemSpec := ParamSpec{Name: spec.Name, Kind: spec.Elem}
	var raw []any
	switch tv := v.(type) {
	case []any:
		raw = tv
	case []int:
		for _, e := range tv {
			raw = append(raw, e)
		}
	case []int64:
		for _, e := range tv {
			raw = append(raw, e)
		}
	case []float64:
		for _, e := range tv {
			raw = append(raw, e)
		}
	case []string:
		for _, e := range tv {
			raw = append(raw, e)
		}
	case []bool:
		for _, e := range tv {
			raw = append(raw, e)
		}
	default:
		return nil, fmt.Errorf("value of type %T is not a sequence", v)
	}
	out := make([]any, len(raw))
	for i, e := range raw {
		ne, err := normalizeValue(elemSpec, e)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = ne
	}
	return out, nil
}

func normalizeMap(spec ParamSpec, v any) (any, error) {
	elemSpec := ParamSpec{Name: spec.Name, Kind: spec.Elem}
	raw := make(map[string]any)
	switch tv := v.(type) {
	case map[string]any:
		for k, e := range tv {
			raw[k] = e
		}
	case map[string]int:
		for k, e := range tv {
			raw[k] = e
		}
	case map[string]int64:
		for k, e := range tv {
			raw[k] = e
		}
	case map[string]float64:
		for k, e := range tv {
			raw[k] = e
		}
	case map[string]string:
		for k, e := range tv {
			raw[k] = e
		}
	case map[string]bool:
		for k, e := range tv {
			raw[k] = e
		}
	default:
		return nil, fmt.Errorf("value of type %T is not a mapping", v)
	}
	out := make(map[string]any, len(raw))
	for k, e := range raw {
		ne, err := normalizeValue(elemSpec, e)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = ne
	}
	return out, nil
}

func normalizeTaskSlice(v any) (any, error) {
	switch tv := v.(type) {
	case []*Instance:
		out := make([]*Instance, len(tv))
		for i, inst := range tv {
			if inst == nil {
				return nil, fmt.Errorf("nil task instance at index %d", i)
			}
			out[i] = inst
		}
		return out, nil
	case []any:
		out := make([]*Instance, len(tv))
		for i, e := range tv {
			inst, ok := e.(*Instance)
			if !ok || inst == nil {
				return nil, fmt.Errorf("element %d is not a task instance", i)
			}
			out[i] = inst
		}
		return out, nil
	}
	return nil, fmt.Errorf("value of type %T is not a task slice", v)
}

func toInt64(v any) (int64, bool) {
	switch tv := v.(type) {
	case int:
		return int64(tv), true
	case int8:
		return int64(tv), true
	case int16:
		return int64(tv), true
	case int32:
		return int64(tv), true
	case int64:
		return tv, true
	case uint:
		return int64(tv), true
	case uint8:
		return int64(tv), true
	case uint16:
		return int64(tv), true
	case uint32:
		return int64(tv), true
	case uint64:
		if tv > math.MaxInt64 {
			return 0, false
		}
		return int64(tv), true
	case json.Number:
		i, err := tv.Int64()
		return i, err == nil
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch tv := v.(type) {
	case float32:
		return float64(tv), true
	case float64:
		return tv, true
	case json.Number:
		f, err := tv.Float64()
		return f, err == nil
	}
	// Integer literals coerce to float parameters, matching how typed
	// schemas read mixed numeric input.
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

// canonicalValue maps a normalized parameter value to a structure whose JSON
// encoding is byte-stable. Nested task instances contribute only their
// identity tag, never their full parameter tree.
func canonicalValue(v any) (any, error) {
	switch tv := v.(type) {
	case nil:
		return nil, nil
	case bool, int64, string:
		return tv, nil
	case float64:
		return canonicalFloat(tv), nil
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			ce, err := canonicalValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = ce
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, e := range tv {
			ce, err := canonicalValue(e)
			if err != nil {
				return nil, err
			}
			out[k] = ce
		}
		return out, nil
	case *Instance:
		return canonicalRef(tv)
	case []*Instance:
		out := make([]any, len(tv))
		for i, inst := range tv {
			ref, err := canonicalRef(inst)
			if err != nil {
				return nil, err
			}
			out[i] = ref
		}
		return out, nil
	case map[string]*Instance:
		keys := make([]string, 0, len(tv))
		for k := range tv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(tv))
		for _, k := range keys {
			ref, err := canonicalRef(tv[k])
			if err != nil {
				return nil, err
			}
			out[k] = ref
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

// canonicalRef is the identity-only stand-in for a nested task: changing any
// upstream parameter changes the nested id and therefore every ancestor id.
func canonicalRef(inst *Instance) (any, error) {
	id, err := inst.ID()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"namespace": inst.Namespace(),
		"family":    inst.Family(),
		"id":        id,
	}, nil
}

// canonicalFloat renders floats without platform or locale variance. NaN and
// the infinities become string sentinels; negative zero collapses to zero;
// finite values use the shortest round-trip decimal form with a guaranteed
// fraction or exponent marker so a float never collides with an integer.
func canonicalFloat(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	if f == 0 {
		f = 0 // normalize -0
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return json.Number(s)
}
