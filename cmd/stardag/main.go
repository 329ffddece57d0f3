// Command stardag builds declarative command pipelines: it parses a
// pipeline YAML file, derives each task's identity, and runs exactly the
// tasks whose outputs are missing.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/andhus/stardag/cmdtask"
	"github.com/andhus/stardag/config"
	"github.com/andhus/stardag/dag"
	"github.com/andhus/stardag/execenv"
	"github.com/andhus/stardag/execenv/modal"
	"github.com/andhus/stardag/pipeline"
	"github.com/andhus/stardag/task"
)

type cli struct {
	Config  string `help:"Path to the stardag config file." type:"path"`
	Verbose bool   `short:"v" help:"Enable debug logging."`

	Build buildCmd `cmd:"" help:"Build a pipeline: run every incomplete task, dependencies first."`
	ID    idCmd    `cmd:"" help:"Print the identity of every task in a pipeline."`
	Show  showCmd  `cmd:"" help:"Print the canonical description of one task."`
}

type buildCmd struct {
	Pipeline string   `arg:"" type:"path" help:"Pipeline YAML file."`
	Roots    []string `help:"Task names to build instead of the file's roots."`
	Parallel int      `short:"p" help:"Run up to N independent tasks concurrently."`
	Provider string   `default:"local" enum:"local,modal" help:"Where commands run."`
	ModalApp string   `help:"Modal app name for --provider=modal."`
}

type idCmd struct {
	Pipeline string `arg:"" type:"path" help:"Pipeline YAML file."`
}

type showCmd struct {
	Pipeline string `arg:"" type:"path" help:"Pipeline YAML file."`
	Task     string `arg:"" help:"Task name within the pipeline."`
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("stardag"),
		kong.Description("Declarative, content-addressed task pipelines."),
		kong.UsageOnError(),
	)

	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer func() {
		signal.Stop(sigChan)
		cancel()
	}()
	go func() {
		sig := <-sigChan
		slog.Info("interrupt received, shutting down gracefully...", "signal", sig)
		cancel()
	}()

	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.Bind(&c)
	kctx.FatalIfErrorf(kctx.Run())
}

// loadPipeline parses the file and materializes its tasks against the
// command family bound to the chosen provider.
func loadPipeline(path string, provider execenv.Provider) (map[string]*task.Instance, []*task.Instance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading pipeline: %w", err)
	}
	f, err := pipeline.Parse(data)
	if err != nil {
		return nil, nil, err
	}
	return f.Instances(cmdtask.Family(provider))
}

func (b *buildCmd) Run(ctx context.Context, c *cli) error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	factory, err := cfg.Factory()
	if err != nil {
		return err
	}

	var provider execenv.Provider = execenv.LocalProvider{}
	if b.Provider == "modal" {
		provider, err = modal.NewProvider(modal.Config{AppName: b.ModalApp})
		if err != nil {
			return err
		}
	}

	byName, roots, err := loadPipeline(b.Pipeline, provider)
	if err != nil {
		return err
	}
	if len(b.Roots) > 0 {
		roots = roots[:0]
		for _, name := range b.Roots {
			inst, ok := byName[name]
			if !ok {
				return fmt.Errorf("unknown task %q", name)
			}
			roots = append(roots, inst)
		}
	}

	resolver := factory.Default()
	failed := false
	for _, root := range roots {
		var result *dag.Result
		if b.Parallel > 1 {
			builder := &dag.ParallelBuilder{Resolver: resolver, Workers: b.Parallel}
			result, err = builder.Build(ctx, root)
		} else {
			result, err = dag.Build(ctx, root, resolver)
		}
		if err != nil {
			return err
		}
		printSummary(result)
		if result.Failed() {
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
	return nil
}

func printSummary(result *dag.Result) {
	counts := make(map[dag.Outcome]int)
	for _, n := range result.Nodes {
		counts[n.Outcome]++
	}
	root := result.Root()
	fmt.Printf("\nRoot: %s (%s): %s\n", root.Task, root.ID, root.Outcome)
	fmt.Printf("Tasks: %d\n", len(result.Nodes))
	fmt.Printf("Ran: %d\n", counts[dag.OutcomeRan])
	fmt.Printf("Already complete: %d\n", counts[dag.OutcomeAlreadyComplete])
	fmt.Printf("Failed: %d\n", counts[dag.OutcomeFailed])
	fmt.Printf("Skipped: %d\n", counts[dag.OutcomeSkipped])
	for _, id := range result.IDs() {
		n := result.Nodes[id]
		if n.Err != nil {
			fmt.Printf("  %s: %v\n", id, n.Err)
		}
	}
}

func (i *idCmd) Run(ctx context.Context, c *cli) error {
	byName, _, err := loadPipeline(i.Pipeline, execenv.LocalProvider{})
	if err != nil {
		return err
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		id, err := byName[name].ID()
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\n", name, id)
	}
	return nil
}

func (s *showCmd) Run(ctx context.Context, c *cli) error {
	byName, _, err := loadPipeline(s.Pipeline, execenv.LocalProvider{})
	if err != nil {
		return err
	}
	inst, ok := byName[s.Task]
	if !ok {
		return fmt.Errorf("unknown task %q", s.Task)
	}
	data, err := task.Encode(inst)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		return err
	}
	fmt.Println(pretty.String())
	return nil
}
