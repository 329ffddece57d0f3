package cmdtask_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/andhus/stardag/cmdtask"
	"github.com/andhus/stardag/dag"
	"github.com/andhus/stardag/execenv"
	"github.com/andhus/stardag/target"
	"github.com/andhus/stardag/task"
)

func TestCommandOutputPersisted(t *testing.T) {
	def := cmdtask.Family(execenv.LocalProvider{})
	inst := task.MustNew(def, task.Params{"command": "echo hello"})

	resolver := target.NewResolver("cmd-test", target.NewMemory())
	ctx := context.Background()
	result, err := dag.Build(ctx, inst, resolver)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.Root().Outcome != dag.OutcomeRan {
		t.Fatalf("outcome: %s, err: %v", result.Root().Outcome, result.Root().Err)
	}

	tgt, err := task.ResolveTarget(resolver, inst)
	if err != nil {
		t.Fatalf("ResolveTarget: %v", err)
	}
	got, err := tgt.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(got.([]byte), []byte("hello\n")) {
		t.Errorf("stdout: %q", got)
	}
}

func TestCommandEnvAndDependencies(t *testing.T) {
	def := cmdtask.Family(execenv.LocalProvider{})
	dep := task.MustNew(def, task.Params{"command": "echo upstream"})
	inst := task.MustNew(def, task.Params{
		"command": "echo $GREETING",
		"after":   []*task.Instance{dep},
		"env":     map[string]string{"GREETING": "hej"},
	})

	deps, err := inst.Requires()
	if err != nil {
		t.Fatalf("Requires: %v", err)
	}
	if len(deps["after"]) != 1 || deps["after"][0] != dep {
		t.Fatalf("deps: %v", deps)
	}

	resolver := target.NewResolver("cmd-test", target.NewMemory())
	ctx := context.Background()
	result, err := dag.Build(ctx, inst, resolver)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.Runs() != 2 {
		t.Errorf("Runs = %d", result.Runs())
	}

	tgt, err := task.ResolveTarget(resolver, inst)
	if err != nil {
		t.Fatalf("ResolveTarget: %v", err)
	}
	got, err := tgt.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(got.([]byte), []byte("hej\n")) {
		t.Errorf("stdout: %q", got)
	}
}

func TestCommandFailure(t *testing.T) {
	def := cmdtask.Family(execenv.LocalProvider{})
	inst := task.MustNew(def, task.Params{"command": "echo sad >&2; exit 3"})

	resolver := target.NewResolver("cmd-test", target.NewMemory())
	result, err := dag.Build(context.Background(), inst, resolver)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.Root().Outcome != dag.OutcomeFailed {
		t.Fatalf("outcome: %s", result.Root().Outcome)
	}
	if result.Root().Err == nil {
		t.Errorf("failed node carries no error")
	}
}
