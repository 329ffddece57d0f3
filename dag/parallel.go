package dag

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/andhus/stardag/task"
)

// ParallelBuilder runs independent tasks concurrently. Dependency order is
// still honored: a task's run rule starts only after every one of its
// dependencies has finished. Workers bounds the number of run rules
// executing at once; zero means GOMAXPROCS.
type ParallelBuilder struct {
	Resolver task.Resolver
	Workers  int
}

// Build has the same semantics as the package-level Build: run failures are
// confined to the failing subtree and structural errors abort the whole
// build. Sibling subtrees already scheduled keep running to completion.
func (p *ParallelBuilder) Build(ctx context.Context, root *task.Instance) (*Result, error) {
	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	b := &parallelEngine{
		resolver: p.Resolver,
		sem:      make(chan struct{}, workers),
		futures:  make(map[string]*future),
		result: &Result{
			Nodes: make(map[string]NodeReport),
		},
	}
	rootID, err := root.ID()
	if err != nil {
		return nil, err
	}
	b.result.RootID = rootID
	if _, err := b.process(ctx, root, nil); err != nil {
		return nil, err
	}
	return b.result, nil
}

// future is the one-shot slot shared by all builders waiting on a task id.
type future struct {
	done    chan struct{}
	outcome Outcome
	err     error
}

type parallelEngine struct {
	resolver task.Resolver
	sem      chan struct{}

	mu      sync.Mutex
	futures map[string]*future
	result  *Result
}

// process memoizes per task id: the first caller computes, later callers
// wait on the shared future. Cycles are detected per DFS path since the
// global in-progress set would misread legitimate diamonds as cycles.
func (b *parallelEngine) process(ctx context.Context, inst *task.Instance, path map[string]bool) (Outcome, error) {
	id, err := inst.ID()
	if err != nil {
		return OutcomeUnknown, err
	}
	name := inst.Namespace()
	if name != "" {
		name += "."
	}
	name += inst.Family()
	if path[id] {
		return OutcomeUnknown, &CycleError{ID: id, Task: name}
	}

	b.mu.Lock()
	if f, ok := b.futures[id]; ok {
		b.mu.Unlock()
		select {
		case <-f.done:
			return f.outcome, f.err
		case <-ctx.Done():
			return OutcomeUnknown, ctx.Err()
		}
	}
	f := &future{done: make(chan struct{})}
	b.futures[id] = f
	b.mu.Unlock()

	f.outcome, f.err = b.compute(ctx, inst, id, name, path)
	close(f.done)
	return f.outcome, f.err
}

func (b *parallelEngine) compute(ctx context.Context, inst *task.Instance, id, name string, path map[string]bool) (Outcome, error) {
	next := make(map[string]bool, len(path)+1)
	for k := range path {
		next[k] = true
	}
	next[id] = true

	deps, err := inst.Requires()
	if err != nil {
		return OutcomeUnknown, err
	}
	var (
		blockedMu sync.Mutex
		blocked   bool
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, dep := range deps.Flatten() {
		dep := dep
		g.Go(func() error {
			out, err := b.process(gctx, dep, next)
			if err != nil {
				return err
			}
			if out == OutcomeFailed || out == OutcomeSkipped {
				blockedMu.Lock()
				blocked = true
				blockedMu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return OutcomeUnknown, err
	}
	if blocked {
		return b.record(id, name, OutcomeSkipped, nil), nil
	}

	tgt, err := task.ResolveTarget(b.resolver, inst)
	if err != nil {
		return OutcomeUnknown, err
	}
	exists, err := tgt.Exists(ctx)
	if err != nil {
		return b.record(id, name, OutcomeFailed, &RunError{ID: id, Task: name, Err: err}), nil
	}
	if exists {
		return b.record(id, name, OutcomeAlreadyComplete, nil), nil
	}

	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return OutcomeUnknown, ctx.Err()
	}
	slog.Debug("running task", "task", name, "id", id)
	runErr := inst.Run(ctx, task.NewRunContext(inst, b.resolver))
	<-b.sem

	if runErr != nil {
		slog.Warn("task failed", "task", name, "id", id, "error", runErr)
		return b.record(id, name, OutcomeFailed, &RunError{ID: id, Task: name, Err: runErr}), nil
	}
	exists, err = tgt.Exists(ctx)
	if err != nil {
		return b.record(id, name, OutcomeFailed, &RunError{ID: id, Task: name, Err: err}), nil
	}
	if !exists {
		return b.record(id, name, OutcomeFailed, &ContractViolationError{ID: id, Task: name}), nil
	}
	b.mu.Lock()
	b.result.Trace = append(b.result.Trace, id)
	b.mu.Unlock()
	return b.record(id, name, OutcomeRan, nil), nil
}

func (b *parallelEngine) record(id, name string, out Outcome, err error) Outcome {
	b.mu.Lock()
	b.result.Nodes[id] = NodeReport{ID: id, Task: name, Outcome: out, Err: err}
	b.mu.Unlock()
	return out
}
