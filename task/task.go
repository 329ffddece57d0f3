// Package task models declarative tasks: immutable instances identified by a
// stable content digest, definitions describing how instances behave, and the
// registry used to reconstruct instance trees from their serialized form.
package task

import (
	"context"
	"fmt"
	"sort"

	"github.com/andhus/stardag/serialize"
)

// Kind enumerates the supported parameter value kinds.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindFloat
	KindString
	KindSeq
	KindMap
	KindTask
	KindTaskSlice
	KindTaskMap
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindSeq:
		return "seq"
	case KindMap:
		return "map"
	case KindTask:
		return "task"
	case KindTaskSlice:
		return "task-slice"
	case KindTaskMap:
		return "task-map"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParamSpec declares one named parameter of a task definition.
type ParamSpec struct {
	Name string
	Kind Kind
	// Elem is the element kind for KindSeq and KindMap parameters.
	Elem Kind
	// AllowTask permits a task instance in place of a literal value. The
	// instance's output is expected to produce the declared kind.
	AllowTask bool
	// Optional parameters may be absent; absent parameters do not
	// contribute to the task id.
	Optional bool
}

// OrTask returns a copy of the spec that also accepts a task instance the
// output of which supplies the value.
func (p ParamSpec) OrTask() ParamSpec {
	p.AllowTask = true
	return p
}

// Opt returns a copy of the spec marked optional.
func (p ParamSpec) Opt() ParamSpec {
	p.Optional = true
	return p
}

func BoolParam(name string) ParamSpec   { return ParamSpec{Name: name, Kind: KindBool} }
func IntParam(name string) ParamSpec    { return ParamSpec{Name: name, Kind: KindInt} }
func FloatParam(name string) ParamSpec  { return ParamSpec{Name: name, Kind: KindFloat} }
func StringParam(name string) ParamSpec { return ParamSpec{Name: name, Kind: KindString} }
func SeqParam(name string, elem Kind) ParamSpec {
	return ParamSpec{Name: name, Kind: KindSeq, Elem: elem}
}
func MapParam(name string, elem Kind) ParamSpec {
	return ParamSpec{Name: name, Kind: KindMap, Elem: elem}
}
func TaskParam(name string) ParamSpec      { return ParamSpec{Name: name, Kind: KindTask} }
func TaskSliceParam(name string) ParamSpec { return ParamSpec{Name: name, Kind: KindTaskSlice} }
func TaskMapParam(name string) ParamSpec   { return ParamSpec{Name: name, Kind: KindTaskMap} }

// Params holds the parameter values of one task instance, keyed by name.
type Params map[string]any

// Deps maps a parameter (or derived dependency) name to the upstream
// instances it contributes. A plain task parameter contributes a single
// element slice; slice and map parameters contribute all their instances.
type Deps map[string][]*Instance

// Flatten returns all instances over all names in deterministic order:
// names sorted, slice order preserved within a name.
func (d Deps) Flatten() []*Instance {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	var out []*Instance
	for _, name := range names {
		out = append(out, d[name]...)
	}
	return out
}

// Target is the handle for a task's persisted output. Address computation is
// the resolver's concern; a Target only checks, loads and saves.
type Target interface {
	Exists(ctx context.Context) (bool, error)
	Load(ctx context.Context) (any, error)
	Save(ctx context.Context, v any) error
}

// Resolver maps a task instance to its target. Resolve performs no I/O.
type Resolver interface {
	Resolve(inst *Instance) (Target, error)
}

// Definition describes a task family: its identity tag, parameter schema,
// dependency derivation, and run rule.
type Definition struct {
	// Namespace groups related families; empty means "no namespace".
	Namespace string
	Family    string
	// Version invalidates previously persisted artifacts when the run
	// rule's logic changes.
	Version string

	Params []ParamSpec

	// Requires overrides the default dependency derivation (all parameter
	// values that are task instances). Most definitions leave it nil.
	Requires func(inst *Instance) (Deps, error)

	// Run produces the target's content. On success the instance's target
	// must exist; the build engine verifies this.
	Run func(ctx context.Context, rc *RunContext) error

	// Output overrides target resolution entirely, e.g. for non-filesystem
	// targets. When nil the configured resolver's addressing policy is used.
	Output func(inst *Instance) (Target, error)

	// Serializer encodes the value produced by Run. Defaults to JSON when
	// nil.
	Serializer serialize.Serializer
}

func (d *Definition) validate() error {
	if d.Family == "" {
		return fmt.Errorf("task: definition has empty family")
	}
	if d.Run == nil && d.Requires == nil && len(d.Params) == 0 {
		return fmt.Errorf("task: definition %s declares nothing", namespaceFamily(d.Namespace, d.Family))
	}
	seen := make(map[string]struct{}, len(d.Params))
	for _, p := range d.Params {
		if p.Name == "" {
			return fmt.Errorf("task: definition %s has unnamed parameter", namespaceFamily(d.Namespace, d.Family))
		}
		if p.Name == versionKey || p.Name == namespaceTag || p.Name == familyTag {
			return fmt.Errorf("task: parameter name %q is reserved", p.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("task: duplicate parameter %q in %s", p.Name, namespaceFamily(d.Namespace, d.Family))
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

func (d *Definition) param(name string) (ParamSpec, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// Serializer returns the definition's output codec, defaulting to raw JSON.
func (d *Definition) serializer() serialize.Serializer {
	if d.Serializer != nil {
		return d.Serializer
	}
	return serialize.JSONAny()
}

func namespaceFamily(namespace, family string) string {
	if namespace == "" {
		return family
	}
	return namespace + "." + family
}
