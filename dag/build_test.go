package dag_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/andhus/stardag/dag"
	"github.com/andhus/stardag/serialize"
	"github.com/andhus/stardag/target"
	"github.com/andhus/stardag/task"
)

// harness wires tasks to an in-memory store and records run order.
type harness struct {
	backend  *target.Memory
	resolver *target.Resolver

	mu   sync.Mutex
	runs []string
}

func newHarness() *harness {
	backend := target.NewMemory()
	return &harness{
		backend:  backend,
		resolver: target.NewResolver("test-root", backend),
	}
}

func (h *harness) record(name string) {
	h.mu.Lock()
	h.runs = append(h.runs, name)
	h.mu.Unlock()
}

func (h *harness) ranNames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.runs...)
}

func (h *harness) countRuns(name string) int {
	n := 0
	for _, r := range h.ranNames() {
		if r == name {
			n++
		}
	}
	return n
}

// stage is a task family whose instances depend on other stages via the
// optional "inputs" parameter and persist a small string artifact.
func (h *harness) stageDef() *task.Definition {
	return &task.Definition{
		Namespace: "test",
		Family:    "stage",
		Version:   "1",
		Params: []task.ParamSpec{
			task.StringParam("name"),
			task.TaskSliceParam("inputs").Opt(),
		},
		Serializer: serialize.JSON[string](),
		Run: func(ctx context.Context, rc *task.RunContext) error {
			name := rc.Param("name").(string)
			h.record(name)
			out, err := rc.Output()
			if err != nil {
				return err
			}
			return out.Save(ctx, "done:"+name)
		},
	}
}

func (h *harness) stage(t *testing.T, name string, inputs ...*task.Instance) *task.Instance {
	t.Helper()
	params := task.Params{"name": name}
	if len(inputs) > 0 {
		params["inputs"] = inputs
	}
	inst, err := task.New(h.stageDef(), params)
	if err != nil {
		t.Fatalf("stage %s: %v", name, err)
	}
	return inst
}

func TestBuildRunsDependenciesFirst(t *testing.T) {
	h := newHarness()
	c := h.stage(t, "c")
	b := h.stage(t, "b", c)
	a := h.stage(t, "a", b)

	result, err := dag.Build(context.Background(), a, h.resolver)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got := h.ranNames()
	if len(got) != 3 || got[0] != "c" || got[1] != "b" || got[2] != "a" {
		t.Errorf("run order: %v", got)
	}
	if result.Runs() != 3 {
		t.Errorf("Runs = %d", result.Runs())
	}
	if out := result.Root().Outcome; out != dag.OutcomeRan {
		t.Errorf("root outcome: %s", out)
	}
	for _, id := range result.IDs() {
		if result.Nodes[id].Outcome != dag.OutcomeRan {
			t.Errorf("node %s: %s", id, result.Nodes[id].Outcome)
		}
	}
}

func TestBuildIsIdempotent(t *testing.T) {
	h := newHarness()
	root := h.stage(t, "a", h.stage(t, "b"))

	if _, err := dag.Build(context.Background(), root, h.resolver); err != nil {
		t.Fatalf("first Build: %v", err)
	}
	result, err := dag.Build(context.Background(), root, h.resolver)
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}
	if result.Runs() != 0 {
		t.Errorf("second build ran %d tasks", result.Runs())
	}
	for _, id := range result.IDs() {
		if result.Nodes[id].Outcome != dag.OutcomeAlreadyComplete {
			t.Errorf("node %s: %s", id, result.Nodes[id].Outcome)
		}
	}
}

func TestBuildSharedDependencyRunsOnce(t *testing.T) {
	h := newHarness()
	shared := h.stage(t, "shared")
	left := h.stage(t, "left", shared)
	right := h.stage(t, "right", shared)
	root := h.stage(t, "root", left, right)

	result, err := dag.Build(context.Background(), root, h.resolver)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if n := h.countRuns("shared"); n != 1 {
		t.Errorf("shared ran %d times", n)
	}
	if len(result.Nodes) != 4 {
		t.Errorf("visited %d nodes", len(result.Nodes))
	}
}

func (h *harness) failingDef(fail *bool) *task.Definition {
	return &task.Definition{
		Namespace: "test",
		Family:    "flaky",
		Version:   "1",
		Params: []task.ParamSpec{
			task.StringParam("name"),
		},
		Serializer: serialize.JSON[string](),
		Run: func(ctx context.Context, rc *task.RunContext) error {
			if *fail {
				return fmt.Errorf("boom")
			}
			name := rc.Param("name").(string)
			h.record(name)
			out, err := rc.Output()
			if err != nil {
				return err
			}
			return out.Save(ctx, "done:"+name)
		},
	}
}

func TestBuildFailureIsConfined(t *testing.T) {
	h := newHarness()
	fail := true
	flaky := task.MustNew(h.failingDef(&fail), task.Params{"name": "flaky"})
	ok := h.stage(t, "ok")
	root := h.stage(t, "root", flaky, ok)

	result, err := dag.Build(context.Background(), root, h.resolver)
	if err != nil {
		t.Fatalf("run failure escalated to a build error: %v", err)
	}
	if !result.Failed() {
		t.Fatalf("result not marked failed")
	}
	if h.countRuns("ok") != 1 {
		t.Errorf("independent sibling did not complete")
	}
	outcomes := map[string]dag.Outcome{}
	for _, n := range result.Nodes {
		outcomes[n.Task+"/"+n.ID] = n.Outcome
	}
	if result.Nodes[flaky.MustID()].Outcome != dag.OutcomeFailed {
		t.Errorf("failing task outcome: %v", outcomes)
	}
	var runErr *dag.RunError
	if !errors.As(result.Nodes[flaky.MustID()].Err, &runErr) {
		t.Errorf("expected RunError, got %v", result.Nodes[flaky.MustID()].Err)
	}
	if result.Root().Outcome != dag.OutcomeSkipped {
		t.Errorf("dependent outcome: %s", result.Root().Outcome)
	}
}

func TestBuildRetriesFailedTasks(t *testing.T) {
	h := newHarness()
	fail := true
	flaky := task.MustNew(h.failingDef(&fail), task.Params{"name": "flaky"})
	root := h.stage(t, "root", flaky)

	first, err := dag.Build(context.Background(), root, h.resolver)
	if err != nil {
		t.Fatalf("first Build: %v", err)
	}
	if first.Root().Outcome != dag.OutcomeSkipped {
		t.Fatalf("first root outcome: %s", first.Root().Outcome)
	}

	fail = false
	second, err := dag.Build(context.Background(), root, h.resolver)
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}
	if second.Root().Outcome != dag.OutcomeRan {
		t.Errorf("second root outcome: %s", second.Root().Outcome)
	}
	if second.Runs() != 2 {
		t.Errorf("second build ran %d tasks", second.Runs())
	}
}

func TestBuildContractViolation(t *testing.T) {
	h := newHarness()
	def := &task.Definition{
		Namespace: "test",
		Family:    "hollow",
		Version:   "1",
		Params:    []task.ParamSpec{task.StringParam("name")},
		Run: func(ctx context.Context, rc *task.RunContext) error {
			return nil // succeeds without saving anything
		},
	}
	inst := task.MustNew(def, task.Params{"name": "x"})

	result, err := dag.Build(context.Background(), inst, h.resolver)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.Root().Outcome != dag.OutcomeFailed {
		t.Fatalf("outcome: %s", result.Root().Outcome)
	}
	var cve *dag.ContractViolationError
	if !errors.As(result.Root().Err, &cve) {
		t.Errorf("expected ContractViolationError, got %v", result.Root().Err)
	}
}

func TestBuildDetectsCycle(t *testing.T) {
	h := newHarness()
	def := &task.Definition{
		Namespace: "test",
		Family:    "loop",
		Version:   "1",
		Params:    []task.ParamSpec{task.StringParam("name")},
		Requires: func(inst *task.Instance) (task.Deps, error) {
			return task.Deps{"self": {inst}}, nil
		},
		Run: func(ctx context.Context, rc *task.RunContext) error {
			return nil
		},
	}
	inst := task.MustNew(def, task.Params{"name": "x"})

	_, err := dag.Build(context.Background(), inst, h.resolver)
	var ce *dag.CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if ce.ID != inst.MustID() {
		t.Errorf("cycle reported at %s, want %s", ce.ID, inst.MustID())
	}
}
