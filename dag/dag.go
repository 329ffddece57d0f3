// Package dag is the bottom-up build engine: it walks a task instance's
// dependency graph depth-first, checks target completion, and runs exactly
// the tasks whose outputs are missing, dependencies first.
package dag

import (
	"fmt"
	"sort"
)

// Outcome is the per-task result of one build call.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	// OutcomeAlreadyComplete: the target existed, nothing ran.
	OutcomeAlreadyComplete
	// OutcomeRan: the run rule executed and produced the target.
	OutcomeRan
	// OutcomeFailed: the run rule failed, or succeeded without producing
	// its declared output.
	OutcomeFailed
	// OutcomeSkipped: an upstream dependency failed; the task was neither
	// checked nor run.
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAlreadyComplete:
		return "already-complete"
	case OutcomeRan:
		return "ran"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	}
	return "unknown"
}

// NodeReport is the outcome of one task in the build.
type NodeReport struct {
	ID      string
	Task    string // namespace-qualified family
	Outcome Outcome
	Err     error
}

// Result is the full per-node report of one build call.
type Result struct {
	RootID string
	Nodes  map[string]NodeReport
	// Trace lists task ids in the order their run rules were invoked.
	Trace []string
}

// Root returns the root task's report.
func (r *Result) Root() NodeReport { return r.Nodes[r.RootID] }

// Runs counts run invocations performed by this build.
func (r *Result) Runs() int { return len(r.Trace) }

// Failed reports whether any visited task failed or was skipped.
func (r *Result) Failed() bool {
	for _, n := range r.Nodes {
		if n.Outcome == OutcomeFailed || n.Outcome == OutcomeSkipped {
			return true
		}
	}
	return false
}

// IDs returns all visited task ids, sorted.
func (r *Result) IDs() []string {
	ids := make([]string, 0, len(r.Nodes))
	for id := range r.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CycleError is the defensive guard against a task being revisited while
// still in progress. Parameter graphs cannot normally express cycles, so
// hitting one means a custom dependency rule is ill-formed.
type CycleError struct {
	ID   string
	Task string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dag: cycle detected at task %s (%s)", e.Task, e.ID)
}

// RunError wraps a failure of the task's own run rule; it is confined to
// that task id.
type RunError struct {
	ID   string
	Task string
	Err  error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("dag: task %s (%s) failed: %v", e.Task, e.ID, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// ContractViolationError reports a run rule that returned success while its
// target still does not exist.
type ContractViolationError struct {
	ID   string
	Task string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("dag: task %s (%s) ran without producing its declared output", e.Task, e.ID)
}
