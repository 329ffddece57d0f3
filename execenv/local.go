package execenv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync/atomic"
)

// LocalProvider runs commands on the host via the shell. Image, CPU and
// memory settings are ignored.
type LocalProvider struct{}

func (LocalProvider) Name() string { return "local" }

var localSeq atomic.Int64

func (LocalProvider) Create(ctx context.Context, opts CreateOptions) (Environment, error) {
	return &localEnvironment{
		id:  fmt.Sprintf("local-%d", localSeq.Add(1)),
		env: opts.Env,
	}, nil
}

type localEnvironment struct {
	id  string
	env map[string]string
}

func (e *localEnvironment) ID() string { return e.id }

func (e *localEnvironment) Exec(ctx context.Context, cmd string, stdout, stderr io.Writer, opts ExecOptions) (int, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	c.Dir = opts.WorkDir
	c.Env = os.Environ()
	for k, v := range e.env {
		c.Env = append(c.Env, k+"="+v)
	}
	for k, v := range opts.Env {
		c.Env = append(c.Env, k+"="+v)
	}
	c.Stdout = stdout
	c.Stderr = stderr
	err := c.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("executing command: %w", err)
}

func (e *localEnvironment) Close(ctx context.Context) error { return nil }
