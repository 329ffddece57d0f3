// Package execenv abstracts where command tasks run: the local shell or a
// remote sandbox.
package execenv

import (
	"context"
	"io"
	"time"
)

// Environment is a place commands can be executed.
type Environment interface {
	// ID returns the unique identifier for this environment.
	ID() string

	// Exec runs a shell command, streaming stdout and stderr to the
	// provided writers, and returns the exit code.
	Exec(ctx context.Context, cmd string, stdout, stderr io.Writer, opts ExecOptions) (int, error)

	// Close releases the environment and its resources.
	Close(ctx context.Context) error
}

// ExecOptions configures command execution.
type ExecOptions struct {
	Env     map[string]string
	Timeout time.Duration
	WorkDir string
}

// Provider is a factory for environments.
type Provider interface {
	// Name returns the provider name (e.g., "local", "modal").
	Name() string

	// Create starts a new environment.
	Create(ctx context.Context, opts CreateOptions) (Environment, error)
}

// CreateOptions configures environment creation. Image and resource fields
// are ignored by providers that run on the host.
type CreateOptions struct {
	Image  string
	CPUs   int
	Memory string
	Env    map[string]string
}
