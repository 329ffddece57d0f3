package task_test

import (
	"context"
	"strings"
	"testing"

	"github.com/andhus/stardag/task"
)

func TestNewValidation(t *testing.T) {
	def := leafDef("1")

	if _, err := task.New(def, task.Params{"count": 3}); err == nil {
		t.Errorf("missing required parameter was accepted")
	}
	if _, err := task.New(def, task.Params{"name": "x", "bogus": 1}); err == nil {
		t.Errorf("undeclared parameter was accepted")
	}
	if _, err := task.New(def, task.Params{"name": 42}); err == nil {
		t.Errorf("int for a string parameter was accepted")
	}
	// Optional params may be absent.
	if _, err := task.New(def, task.Params{"name": "x"}); err != nil {
		t.Errorf("absent optional parameter rejected: %v", err)
	}
}

func TestDefinitionReservedParamNames(t *testing.T) {
	for _, name := range []string{"version", "__namespace__", "__family__"} {
		def := &task.Definition{
			Family: "bad",
			Params: []task.ParamSpec{task.StringParam(name)},
		}
		if _, err := task.New(def, task.Params{name: "x"}); err == nil {
			t.Errorf("reserved parameter name %q was accepted", name)
		}
	}
	dup := &task.Definition{
		Family: "bad",
		Params: []task.ParamSpec{task.IntParam("x"), task.StringParam("x")},
	}
	if _, err := task.New(dup, task.Params{"x": 1}); err == nil {
		t.Errorf("duplicate parameter name was accepted")
	}
}

func TestParamNormalization(t *testing.T) {
	def := &task.Definition{
		Namespace: "test", Family: "norm", Version: "1",
		Params: []task.ParamSpec{
			task.IntParam("i"),
			task.FloatParam("f"),
			task.SeqParam("xs", task.KindInt),
			task.MapParam("m", task.KindString),
		},
	}
	inst := task.MustNew(def, task.Params{
		"i":  int32(7),
		"f":  float32(1.5),
		"xs": []int{1, 2, 3},
		"m":  map[string]string{"a": "b"},
	})
	if got, ok := inst.Param("i").(int64); !ok || got != 7 {
		t.Errorf("int32 not normalized to int64: %#v", inst.Param("i"))
	}
	if got, ok := inst.Param("f").(float64); !ok || got != 1.5 {
		t.Errorf("float32 not normalized to float64: %#v", inst.Param("f"))
	}
	xs, ok := inst.Param("xs").([]any)
	if !ok || len(xs) != 3 || xs[1] != int64(2) {
		t.Errorf("typed slice not normalized: %#v", inst.Param("xs"))
	}
	m, ok := inst.Param("m").(map[string]any)
	if !ok || m["a"] != "b" {
		t.Errorf("typed map not normalized: %#v", inst.Param("m"))
	}
}

func TestParamDeepCopy(t *testing.T) {
	def := &task.Definition{
		Namespace: "test", Family: "copy", Version: "1",
		Params: []task.ParamSpec{task.SeqParam("xs", task.KindInt)},
	}
	src := []any{int64(1), int64(2)}
	inst := task.MustNew(def, task.Params{"xs": src})
	before := inst.MustID()
	src[0] = int64(99)
	after := task.MustNew(def, task.Params{"xs": inst.Param("xs")}).MustID()
	if before != after {
		t.Errorf("caller mutation leaked into the instance")
	}
}

func TestRequiresDefault(t *testing.T) {
	leaf := leafDef("1")
	a := task.MustNew(leaf, task.Params{"name": "a"})
	b := task.MustNew(leaf, task.Params{"name": "b"})
	c := task.MustNew(leaf, task.Params{"name": "c"})

	def := &task.Definition{
		Namespace: "test", Family: "agg", Version: "1",
		Params: []task.ParamSpec{
			task.TaskParam("primary"),
			task.TaskSliceParam("extra"),
			task.StringParam("label"),
		},
	}
	inst := task.MustNew(def, task.Params{
		"primary": a,
		"extra":   []*task.Instance{b, c},
		"label":   "x",
	})
	deps, err := inst.Requires()
	if err != nil {
		t.Fatalf("Requires: %v", err)
	}
	if len(deps) != 2 {
		t.Fatalf("expected deps under 2 names, got %d: %v", len(deps), deps)
	}
	if len(deps["primary"]) != 1 || deps["primary"][0] != a {
		t.Errorf("primary dep not collected")
	}
	if len(deps["extra"]) != 2 || deps["extra"][0] != b || deps["extra"][1] != c {
		t.Errorf("slice deps lost order: %v", deps["extra"])
	}

	flat := deps.Flatten()
	if len(flat) != 3 || flat[0] != b || flat[1] != c || flat[2] != a {
		t.Errorf("Flatten not name-sorted with slice order preserved")
	}
}

func TestRequiresOverride(t *testing.T) {
	leaf := leafDef("1")
	dep := task.MustNew(leaf, task.Params{"name": "dep"})
	def := &task.Definition{
		Namespace: "test", Family: "custom", Version: "1",
		Params: []task.ParamSpec{task.StringParam("label")},
		Requires: func(inst *task.Instance) (task.Deps, error) {
			return task.Deps{"derived": {dep}}, nil
		},
	}
	inst := task.MustNew(def, task.Params{"label": "x"})
	deps, err := inst.Requires()
	if err != nil {
		t.Fatalf("Requires: %v", err)
	}
	if len(deps["derived"]) != 1 || deps["derived"][0] != dep {
		t.Errorf("override not honored: %v", deps)
	}
}

func TestRunWithoutRule(t *testing.T) {
	inst := task.MustNew(leafDef("1"), task.Params{"name": "x"})
	err := inst.Run(context.Background(), task.NewRunContext(inst, nil))
	if err == nil || !strings.Contains(err.Error(), "no run rule") {
		t.Errorf("expected a no-run-rule error, got %v", err)
	}
}
