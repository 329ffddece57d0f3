// Package pipeline parses the YAML pipeline file: a set of named command
// tasks wired together by "after" references. Names exist only in the file;
// task identity is derived from the command parameters, so renaming a task
// never invalidates its artifacts.
package pipeline

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/andhus/stardag/task"
)

// File is the parsed pipeline.
type File struct {
	// Tasks maps a file-local name to its command spec.
	Tasks map[string]Spec `yaml:"tasks"`
	// Roots names the tasks to build. Empty means every task no other
	// task runs after.
	Roots []string `yaml:"roots"`
}

// Spec is one command task in the file.
type Spec struct {
	Command string            `yaml:"command"`
	After   []string          `yaml:"after"`
	Env     map[string]string `yaml:"env"`
	Image   string            `yaml:"image"`
}

// Parse decodes a pipeline file and validates its references.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("pipeline: parse: %w", err)
	}
	if len(f.Tasks) == 0 {
		return nil, fmt.Errorf("pipeline: no tasks defined")
	}
	for name, spec := range f.Tasks {
		if spec.Command == "" {
			return nil, fmt.Errorf("pipeline: task %q has no command", name)
		}
		for _, ref := range spec.After {
			if _, ok := f.Tasks[ref]; !ok {
				return nil, fmt.Errorf("pipeline: task %q runs after unknown task %q", name, ref)
			}
		}
	}
	for _, root := range f.Roots {
		if _, ok := f.Tasks[root]; !ok {
			return nil, fmt.Errorf("pipeline: unknown root %q", root)
		}
	}
	return &f, nil
}

// Instances materializes every task in the file against the command
// definition and returns them by name, plus the root instances in name
// order. A cycle among "after" references is an error.
func (f *File) Instances(def *task.Definition) (map[string]*task.Instance, []*task.Instance, error) {
	built := make(map[string]*task.Instance, len(f.Tasks))
	visiting := make(map[string]bool)

	var build func(name string) (*task.Instance, error)
	build = func(name string) (*task.Instance, error) {
		if inst, ok := built[name]; ok {
			return inst, nil
		}
		if visiting[name] {
			return nil, fmt.Errorf("pipeline: cycle through task %q", name)
		}
		visiting[name] = true
		defer delete(visiting, name)

		spec := f.Tasks[name]
		after := make([]*task.Instance, 0, len(spec.After))
		for _, ref := range spec.After {
			dep, err := build(ref)
			if err != nil {
				return nil, err
			}
			after = append(after, dep)
		}
		params := task.Params{"command": spec.Command}
		if len(after) > 0 {
			params["after"] = after
		}
		if len(spec.Env) > 0 {
			params["env"] = spec.Env
		}
		if spec.Image != "" {
			params["image"] = spec.Image
		}
		inst, err := task.New(def, params)
		if err != nil {
			return nil, fmt.Errorf("pipeline: task %q: %w", name, err)
		}
		built[name] = inst
		return inst, nil
	}

	names := make([]string, 0, len(f.Tasks))
	for name := range f.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := build(name); err != nil {
			return nil, nil, err
		}
	}

	rootNames := f.Roots
	if len(rootNames) == 0 {
		rootNames = f.sinkNames()
	}
	roots := make([]*task.Instance, len(rootNames))
	for i, name := range rootNames {
		roots[i] = built[name]
	}
	return built, roots, nil
}

// sinkNames returns, sorted, the tasks nothing runs after.
func (f *File) sinkNames() []string {
	depended := make(map[string]bool)
	for _, spec := range f.Tasks {
		for _, ref := range spec.After {
			depended[ref] = true
		}
	}
	var sinks []string
	for name := range f.Tasks {
		if !depended[name] {
			sinks = append(sinks, name)
		}
	}
	sort.Strings(sinks)
	return sinks
}
