// Package modal runs commands in Modal sandboxes.
package modal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/modal-labs/libmodal/modal-go"

	"github.com/andhus/stardag/execenv"
)

// Config holds Modal-specific settings.
type Config struct {
	// AppName is the Modal app to attach sandboxes to. If empty, a unique
	// name is generated per Create call.
	AppName string
	// Regions restricts sandbox placement (e.g., "us-east").
	Regions []string
	// Verbose enables detailed sandbox logging.
	Verbose bool
}

// Provider creates Modal sandbox environments. Credentials are picked up
// from the standard Modal configuration by the client.
type Provider struct {
	client *modal.Client
	config Config
}

func NewProvider(config Config) (*Provider, error) {
	slog.Debug("initializing modal client")
	client, err := modal.NewClient()
	if err != nil {
		return nil, fmt.Errorf("creating modal client: %w", err)
	}
	return &Provider{client: client, config: config}, nil
}

func (p *Provider) Name() string { return "modal" }

// Create starts a sandbox from a registry image.
func (p *Provider) Create(ctx context.Context, opts execenv.CreateOptions) (execenv.Environment, error) {
	appName := p.config.AppName
	if appName == "" {
		appName = fmt.Sprintf("stardag-%d", time.Now().UnixNano())
	}
	app, err := p.client.Apps.FromName(ctx, appName, &modal.AppFromNameParams{
		CreateIfMissing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating modal app: %w", err)
	}

	imageRef := opts.Image
	if imageRef == "" {
		imageRef = "debian:bookworm-slim"
	}
	image := p.client.Images.FromRegistry(imageRef, nil)

	cpus := opts.CPUs
	if cpus <= 0 {
		cpus = 1
	}
	memoryMiB, err := ParseMemory(opts.Memory)
	if err != nil {
		return nil, fmt.Errorf("parsing memory: %w", err)
	}
	if memoryMiB <= 0 {
		memoryMiB = 2048
	}

	slog.Debug("creating modal sandbox",
		"app", appName,
		"image", imageRef,
		"cpus", cpus,
		"memory_mib", memoryMiB,
		"regions", p.config.Regions)
	sandbox, err := p.client.Sandboxes.Create(ctx, app, image, &modal.SandboxCreateParams{
		CPU:       float64(cpus),
		MemoryMiB: memoryMiB,
		Env:       opts.Env,
		Timeout:   24 * time.Hour,
		Verbose:   p.config.Verbose,
		Regions:   p.config.Regions,
	})
	if err != nil {
		return nil, fmt.Errorf("creating modal sandbox: %w", err)
	}
	slog.Debug("modal sandbox created", "sandbox_id", sandbox.SandboxID)
	return &environment{sandbox: sandbox}, nil
}

type environment struct {
	sandbox *modal.Sandbox
}

func (e *environment) ID() string { return e.sandbox.SandboxID }

func (e *environment) Exec(ctx context.Context, cmd string, stdout, stderr io.Writer, opts execenv.ExecOptions) (int, error) {
	params := &modal.SandboxExecParams{
		Env: opts.Env,
	}
	if opts.Timeout > 0 {
		params.Timeout = opts.Timeout
	}
	if opts.WorkDir != "" {
		params.Workdir = opts.WorkDir
	}
	process, err := e.sandbox.Exec(ctx, []string{"bash", "-c", cmd}, params)
	if err != nil {
		return -1, fmt.Errorf("executing command: %w", err)
	}

	done := make(chan struct{}, 2)
	go func() {
		if stdout == nil {
			stdout = io.Discard
		}
		io.Copy(stdout, process.Stdout)
		done <- struct{}{}
	}()
	go func() {
		if stderr == nil {
			stderr = io.Discard
		}
		io.Copy(stderr, process.Stderr)
		done <- struct{}{}
	}()
	<-done
	<-done

	exitCode, err := process.Wait(ctx)
	if err != nil {
		return -1, fmt.Errorf("waiting for process: %w", err)
	}
	return exitCode, nil
}

func (e *environment) Close(ctx context.Context) error {
	slog.Debug("terminating modal sandbox", "sandbox_id", e.sandbox.SandboxID)
	if err := e.sandbox.Terminate(ctx); err != nil {
		if strings.Contains(err.Error(), "already terminated") ||
			strings.Contains(err.Error(), "not found") {
			return nil
		}
		return fmt.Errorf("terminating sandbox: %w", err)
	}
	return nil
}
