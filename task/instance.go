package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Instance is one immutable task instance: a definition plus parameter
// values. Two instances with equal namespace, family, version and parameters
// are the same task regardless of which pointer holds them.
type Instance struct {
	def     *Definition
	version string
	params  Params

	idOnce sync.Once
	id     string
	idErr  error
}

// New validates params against the definition's schema and returns an
// immutable instance. Parameter values are normalized (integer widths to
// int64, float32 to float64, typed slices and maps to their canonical
// container forms) and deep-copied so later mutation of the caller's values
// cannot leak in.
func New(def *Definition, params Params) (*Instance, error) {
	if err := def.validate(); err != nil {
		return nil, err
	}
	return newInstance(def, def.Version, params)
}

// MustNew is New for statically known-good parameters; it panics on error.
func MustNew(def *Definition, params Params) *Instance {
	inst, err := New(def, params)
	if err != nil {
		panic(err)
	}
	return inst
}

func newInstance(def *Definition, version string, params Params) (*Instance, error) {
	normalized := make(Params, len(params))
	for name, v := range params {
		spec, ok := def.param(name)
		if !ok {
			return nil, fmt.Errorf("task: %s has no parameter %q", namespaceFamily(def.Namespace, def.Family), name)
		}
		nv, err := normalizeValue(spec, v)
		if err != nil {
			return nil, fmt.Errorf("task: %s parameter %q: %w", namespaceFamily(def.Namespace, def.Family), name, err)
		}
		normalized[name] = nv
	}
	for _, spec := range def.Params {
		if _, ok := normalized[spec.Name]; !ok && !spec.Optional {
			return nil, fmt.Errorf("task: %s missing required parameter %q", namespaceFamily(def.Namespace, def.Family), spec.Name)
		}
	}
	return &Instance{def: def, version: version, params: normalized}, nil
}

func (in *Instance) Definition() *Definition { return in.def }
func (in *Instance) Namespace() string       { return in.def.Namespace }
func (in *Instance) Family() string          { return in.def.Family }
func (in *Instance) Version() string         { return in.version }

// Param returns the normalized value of the named parameter, or nil if
// absent.
func (in *Instance) Param(name string) any { return in.params[name] }

// ParamNames returns the names of parameters that are present, sorted.
func (in *Instance) ParamNames() []string {
	names := make([]string, 0, len(in.params))
	for name := range in.params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Requires derives the set of upstream instances. The default rule collects
// every parameter value that is (or contains, one level deep) an instance,
// keyed by parameter name; definitions may override it.
func (in *Instance) Requires() (Deps, error) {
	if in.def.Requires != nil {
		return in.def.Requires(in)
	}
	deps := make(Deps)
	for _, name := range in.ParamNames() {
		if insts := instancesIn(in.params[name]); len(insts) > 0 {
			deps[name] = insts
		}
	}
	return deps, nil
}

// instancesIn extracts instances from a normalized parameter value,
// recursing one level into sequences and mappings.
func instancesIn(v any) []*Instance {
	switch tv := v.(type) {
	case *Instance:
		return []*Instance{tv}
	case []*Instance:
		return append([]*Instance(nil), tv...)
	case map[string]*Instance:
		keys := make([]string, 0, len(tv))
		for k := range tv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]*Instance, 0, len(tv))
		for _, k := range keys {
			out = append(out, tv[k])
		}
		return out
	}
	return nil
}

// Run invokes the definition's run rule.
func (in *Instance) Run(ctx context.Context, rc *RunContext) error {
	if in.def.Run == nil {
		return fmt.Errorf("task: %s has no run rule", namespaceFamily(in.Namespace(), in.Family()))
	}
	return in.def.Run(ctx, rc)
}

// Output resolves the instance's target via the definition's override, or
// reports that the configured resolver should be used.
func (in *Instance) output() (Target, bool, error) {
	if in.def.Output == nil {
		return nil, false, nil
	}
	t, err := in.def.Output(in)
	return t, true, err
}

// RunContext gives a run rule access to its own target and to the targets of
// its dependencies, resolved lazily.
type RunContext struct {
	inst     *Instance
	resolver Resolver
}

// NewRunContext pairs an instance with the resolver that addresses targets
// during one build.
func NewRunContext(inst *Instance, resolver Resolver) *RunContext {
	return &RunContext{inst: inst, resolver: resolver}
}

// Task returns the instance being run.
func (rc *RunContext) Task() *Instance { return rc.inst }

// Param returns a literal parameter value of the running task.
func (rc *RunContext) Param(name string) any { return rc.inst.Param(name) }

// Output resolves the running task's own target.
func (rc *RunContext) Output() (Target, error) {
	return ResolveTarget(rc.resolver, rc.inst)
}

// Target resolves the target of an upstream instance.
func (rc *RunContext) Target(dep *Instance) (Target, error) {
	return ResolveTarget(rc.resolver, dep)
}

// Load returns the value behind the named parameter: the loaded output of
// the upstream task when the parameter holds an instance, the literal value
// otherwise.
func (rc *RunContext) Load(ctx context.Context, name string) (any, error) {
	v := rc.inst.Param(name)
	dep, ok := v.(*Instance)
	if !ok {
		return v, nil
	}
	tgt, err := rc.Target(dep)
	if err != nil {
		return nil, err
	}
	return tgt.Load(ctx)
}

// ResolveTarget applies the definition's output override when present and
// falls back to the resolver's addressing policy.
func ResolveTarget(resolver Resolver, inst *Instance) (Target, error) {
	if t, overridden, err := inst.output(); overridden {
		return t, err
	}
	if resolver == nil {
		return nil, fmt.Errorf("task: no resolver configured for %s", namespaceFamily(inst.Namespace(), inst.Family()))
	}
	return resolver.Resolve(inst)
}
