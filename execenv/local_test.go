package execenv_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/andhus/stardag/execenv"
)

func TestLocalExec(t *testing.T) {
	ctx := context.Background()
	env, err := execenv.LocalProvider{}.Create(ctx, execenv.CreateOptions{
		Env: map[string]string{"NAME": "world"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer env.Close(ctx)

	var stdout, stderr bytes.Buffer
	code, err := env.Exec(ctx, "echo hello $NAME; echo warn >&2", &stdout, &stderr, execenv.ExecOptions{})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if code != 0 {
		t.Errorf("exit code: %d", code)
	}
	if stdout.String() != "hello world\n" {
		t.Errorf("stdout: %q", stdout.String())
	}
	if stderr.String() != "warn\n" {
		t.Errorf("stderr: %q", stderr.String())
	}
}

func TestLocalExecExitCode(t *testing.T) {
	ctx := context.Background()
	env, err := execenv.LocalProvider{}.Create(ctx, execenv.CreateOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer env.Close(ctx)

	code, err := env.Exec(ctx, "exit 7", nil, nil, execenv.ExecOptions{})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if code != 7 {
		t.Errorf("exit code: %d", code)
	}
}

func TestLocalExecPerCallEnvWins(t *testing.T) {
	ctx := context.Background()
	env, err := execenv.LocalProvider{}.Create(ctx, execenv.CreateOptions{
		Env: map[string]string{"MODE": "create"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer env.Close(ctx)

	var stdout bytes.Buffer
	_, err = env.Exec(ctx, "echo $MODE", &stdout, nil, execenv.ExecOptions{
		Env:     map[string]string{"MODE": "exec"},
		Timeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if stdout.String() != "exec\n" {
		t.Errorf("stdout: %q", stdout.String())
	}
}
