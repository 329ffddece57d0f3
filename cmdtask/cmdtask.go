// Package cmdtask provides a task family that runs a shell command in an
// execution environment and persists its stdout as the task's output.
package cmdtask

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/andhus/stardag/execenv"
	"github.com/andhus/stardag/serialize"
	"github.com/andhus/stardag/task"
)

const (
	// Namespace is the namespace of the command family.
	Namespace = "stardag"
	// FamilyName is the family of command tasks.
	FamilyName = "command"
)

// Family builds the command task definition bound to a provider. Parameters:
//
//	command  the shell command to run (required)
//	after    upstream tasks that must complete first (optional)
//	env      extra environment variables (optional)
//	image    container image for providers that use one (optional)
//
// The command's stdout is saved verbatim as the task output, so two builds
// of the same command task reuse the first run's bytes.
func Family(provider execenv.Provider) *task.Definition {
	return &task.Definition{
		Namespace: Namespace,
		Family:    FamilyName,
		Version:   "1",
		Params: []task.ParamSpec{
			task.StringParam("command"),
			task.TaskSliceParam("after").Opt(),
			task.MapParam("env", task.KindString).Opt(),
			task.StringParam("image").Opt(),
		},
		Serializer: serialize.Bytes(),
		Run: func(ctx context.Context, rc *task.RunContext) error {
			return run(ctx, provider, rc)
		},
	}
}

func run(ctx context.Context, provider execenv.Provider, rc *task.RunContext) error {
	command, _ := rc.Param("command").(string)
	if command == "" {
		return fmt.Errorf("cmdtask: empty command")
	}
	image, _ := rc.Param("image").(string)
	env := map[string]string{}
	if m, ok := rc.Param("env").(map[string]any); ok {
		for k, v := range m {
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("cmdtask: env %q is %T, not a string", k, v)
			}
			env[k] = s
		}
	}

	environ, err := provider.Create(ctx, execenv.CreateOptions{Image: image, Env: env})
	if err != nil {
		return fmt.Errorf("cmdtask: creating environment: %w", err)
	}
	defer func() {
		if err := environ.Close(ctx); err != nil {
			slog.Warn("closing environment", "provider", provider.Name(), "error", err)
		}
	}()

	var stdout, stderr bytes.Buffer
	slog.Debug("running command", "provider", provider.Name(), "environment", environ.ID(), "command", command)
	exitCode, err := environ.Exec(ctx, command, &stdout, &stderr, execenv.ExecOptions{})
	if err != nil {
		return fmt.Errorf("cmdtask: %w", err)
	}
	if exitCode != 0 {
		msg := bytes.TrimSpace(stderr.Bytes())
		if len(msg) > 256 {
			msg = msg[len(msg)-256:]
		}
		return fmt.Errorf("cmdtask: command exited with code %d: %s", exitCode, msg)
	}

	out, err := rc.Output()
	if err != nil {
		return err
	}
	return out.Save(ctx, stdout.Bytes())
}
