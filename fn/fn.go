// Package fn defines tasks from plain functions: the compute function's
// return value is persisted as the task's output, and any parameter may be
// fed either a literal or an upstream task producing that literal.
package fn

import (
	"context"
	"fmt"

	"github.com/andhus/stardag/serialize"
	"github.com/andhus/stardag/task"
)

// New builds a task definition around compute. Every declared parameter
// accepts an upstream task in place of a literal, which is how graphs are
// composed: pass one fn task as a parameter of another. The output
// serializer is chosen from T via serialize.For.
func New[T any](namespace, family, version string, compute func(context.Context, *task.RunContext) (T, error), params ...task.ParamSpec) *task.Definition {
	specs := make([]task.ParamSpec, len(params))
	for i, p := range params {
		specs[i] = p.OrTask()
	}
	return &task.Definition{
		Namespace:  namespace,
		Family:     family,
		Version:    version,
		Params:     specs,
		Serializer: serialize.For[T](),
		Run: func(ctx context.Context, rc *task.RunContext) error {
			v, err := compute(ctx, rc)
			if err != nil {
				return err
			}
			out, err := rc.Output()
			if err != nil {
				return err
			}
			return out.Save(ctx, v)
		},
	}
}

// Input loads the named parameter as a V: the upstream task's persisted
// output when the parameter holds a task, the literal otherwise.
func Input[V any](ctx context.Context, rc *task.RunContext, name string) (V, error) {
	var zero V
	raw, err := rc.Load(ctx, name)
	if err != nil {
		return zero, err
	}
	v, err := convert[V](raw)
	if err != nil {
		return zero, fmt.Errorf("fn: parameter %q: %w", name, err)
	}
	return v, nil
}

// InputSlice loads a sequence parameter element-wise, resolving any element
// that is an upstream task to its persisted output.
func InputSlice[V any](ctx context.Context, rc *task.RunContext, name string) ([]V, error) {
	raw, err := rc.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	var elems []any
	switch rv := raw.(type) {
	case []any:
		elems = rv
	case []*task.Instance:
		elems = make([]any, len(rv))
		for i, inst := range rv {
			elems[i] = inst
		}
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("fn: parameter %q is %T, not a sequence", name, raw)
	}
	out := make([]V, len(elems))
	for i, el := range elems {
		if inst, ok := el.(*task.Instance); ok {
			tgt, err := rc.Target(inst)
			if err != nil {
				return nil, err
			}
			el, err = tgt.Load(ctx)
			if err != nil {
				return nil, err
			}
		}
		v, err := convert[V](el)
		if err != nil {
			return nil, fmt.Errorf("fn: parameter %q element %d: %w", name, i, err)
		}
		out[i] = v
	}
	return out, nil
}

// convert bridges the gap between persisted JSON shapes and the caller's
// type: loaded numbers come back as float64 even when the task saved an
// int64.
func convert[V any](raw any) (V, error) {
	var zero V
	if raw == nil {
		return zero, nil
	}
	if v, ok := raw.(V); ok {
		return v, nil
	}
	switch any(zero).(type) {
	case int64:
		if f, ok := raw.(float64); ok && f == float64(int64(f)) {
			return any(int64(f)).(V), nil
		}
		if i, ok := raw.(int); ok {
			return any(int64(i)).(V), nil
		}
	case float64:
		switch n := raw.(type) {
		case int64:
			return any(float64(n)).(V), nil
		case int:
			return any(float64(n)).(V), nil
		}
	case int:
		switch n := raw.(type) {
		case int64:
			return any(int(n)).(V), nil
		case float64:
			if n == float64(int(n)) {
				return any(int(n)).(V), nil
			}
		}
	}
	return zero, fmt.Errorf("cannot use %T as %T", raw, zero)
}
