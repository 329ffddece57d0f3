package dag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/andhus/stardag/task"
)

// Build processes root and its transitive dependencies sequentially,
// dependencies first. Structural problems, such as identity failures, a
// family missing from the registry at decode time, or a dependency cycle,
// abort the build with a non-nil error. Failures of individual run rules
// do not: the failing task is reported OutcomeFailed, its dependents
// OutcomeSkipped, and the build continues through independent subtrees.
//
// Build never re-runs a task whose target already exists, so repeating a
// successful build performs zero runs.
func Build(ctx context.Context, root *task.Instance, resolver task.Resolver) (*Result, error) {
	e := &engine{
		resolver: resolver,
		status:   make(map[string]status),
		result: &Result{
			Nodes: make(map[string]NodeReport),
		},
	}
	rootID, err := root.ID()
	if err != nil {
		return nil, err
	}
	e.result.RootID = rootID
	if _, err := e.process(ctx, root); err != nil {
		return nil, err
	}
	return e.result, nil
}

type status int

const (
	statusInProgress status = iota + 1
	statusDone
)

type engine struct {
	resolver task.Resolver
	status   map[string]status
	result   *Result
}

// process visits one task. Each task id is processed at most once per
// build; diamond-shaped graphs converge on the memoized outcome.
func (e *engine) process(ctx context.Context, inst *task.Instance) (Outcome, error) {
	id, err := inst.ID()
	if err != nil {
		return OutcomeUnknown, err
	}
	name := inst.Namespace()
	if name != "" {
		name += "."
	}
	name += inst.Family()

	switch e.status[id] {
	case statusInProgress:
		return OutcomeUnknown, &CycleError{ID: id, Task: name}
	case statusDone:
		return e.result.Nodes[id].Outcome, nil
	}
	e.status[id] = statusInProgress

	deps, err := inst.Requires()
	if err != nil {
		return OutcomeUnknown, fmt.Errorf("resolving dependencies of %s (%s): %w", name, id, err)
	}
	blocked := false
	for _, dep := range deps.Flatten() {
		out, err := e.process(ctx, dep)
		if err != nil {
			return OutcomeUnknown, err
		}
		if out == OutcomeFailed || out == OutcomeSkipped {
			blocked = true
		}
	}
	if blocked {
		slog.Debug("skipping task, upstream failure", "task", name, "id", id)
		return e.record(id, name, OutcomeSkipped, nil), nil
	}

	tgt, err := task.ResolveTarget(e.resolver, inst)
	if err != nil {
		return OutcomeUnknown, fmt.Errorf("resolving target of %s (%s): %w", name, id, err)
	}
	exists, err := tgt.Exists(ctx)
	if err != nil {
		return e.record(id, name, OutcomeFailed, &RunError{ID: id, Task: name, Err: err}), nil
	}
	if exists {
		return e.record(id, name, OutcomeAlreadyComplete, nil), nil
	}

	slog.Debug("running task", "task", name, "id", id)
	if err := inst.Run(ctx, task.NewRunContext(inst, e.resolver)); err != nil {
		slog.Warn("task failed", "task", name, "id", id, "error", err)
		return e.record(id, name, OutcomeFailed, &RunError{ID: id, Task: name, Err: err}), nil
	}
	exists, err = tgt.Exists(ctx)
	if err != nil {
		return e.record(id, name, OutcomeFailed, &RunError{ID: id, Task: name, Err: err}), nil
	}
	if !exists {
		return e.record(id, name, OutcomeFailed, &ContractViolationError{ID: id, Task: name}), nil
	}
	e.result.Trace = append(e.result.Trace, id)
	return e.record(id, name, OutcomeRan, nil), nil
}

func (e *engine) record(id, name string, out Outcome, err error) Outcome {
	e.status[id] = statusDone
	e.result.Nodes[id] = NodeReport{ID: id, Task: name, Outcome: out, Err: err}
	return out
}
