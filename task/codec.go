package task

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Tag keys of the serialized task description. A persisted description is
// fully self-describing: nested task parameters are embedded recursively in
// the same tagged form, never as bare ids.
const (
	namespaceTag = "__namespace__"
	familyTag    = "__family__"
	versionKey   = "version"
)

// Encode renders the instance tree as tagged JSON, reconstructible with
// Decode against a registry holding the same definitions.
func Encode(inst *Instance) ([]byte, error) {
	obj, err := encodeTagged(inst)
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

func encodeTagged(inst *Instance) (map[string]any, error) {
	obj := map[string]any{
		namespaceTag: inst.Namespace(),
		familyTag:    inst.Family(),
		versionKey:   inst.Version(),
	}
	for name, v := range inst.params {
		ev, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("task: encoding %s parameter %q: %w",
				namespaceFamily(inst.Namespace(), inst.Family()), name, err)
		}
		obj[name] = ev
	}
	return obj, nil
}

func encodeValue(v any) (any, error) {
	switch tv := v.(type) {
	case nil, bool, int64, float64, string:
		return tv, nil
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			ev, err := encodeValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, e := range tv {
			ev, err := encodeValue(e)
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	case *Instance:
		return encodeTagged(tv)
	case []*Instance:
		out := make([]any, len(tv))
		for i, inst := range tv {
			ev, err := encodeTagged(inst)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	case map[string]*Instance:
		out := make(map[string]any, len(tv))
		for k, inst := range tv {
			ev, err := encodeTagged(inst)
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

// Decode reconstructs an instance tree from its tagged JSON form using the
// registry for polymorphic (namespace, family) lookup.
func Decode(reg *Registry, data []byte) (*Instance, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("task: decoding description: %w", err)
	}
	return decodeTagged(reg, obj)
}

func decodeTagged(reg *Registry, obj map[string]any) (*Instance, error) {
	namespace, ok := obj[namespaceTag].(string)
	if !ok {
		return nil, fmt.Errorf("task: description missing %q", namespaceTag)
	}
	family, ok := obj[familyTag].(string)
	if !ok {
		return nil, fmt.Errorf("task: description missing %q", familyTag)
	}
	def, err := reg.Lookup(namespace, family)
	if err != nil {
		return nil, err
	}
	version := def.Version
	if v, ok := obj[versionKey].(string); ok {
		version = v
	}
	params := make(Params)
	for key, raw := range obj {
		if key == namespaceTag || key == familyTag || key == versionKey {
			continue
		}
		spec, ok := def.param(key)
		if !ok {
			return nil, fmt.Errorf("task: %s has no parameter %q", namespaceFamily(namespace, family), key)
		}
		v, err := decodeParam(reg, spec, raw)
		if err != nil {
			return nil, fmt.Errorf("task: decoding %s parameter %q: %w", namespaceFamily(namespace, family), key, err)
		}
		params[key] = v
	}
	return newInstance(def, version, params)
}

// decodeParam rebuilds nested instances from tagged objects; remaining raw
// JSON values (incl. json.Number) are normalized by instance construction.
func decodeParam(reg *Registry, spec ParamSpec, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if m, ok := raw.(map[string]any); ok && isTagged(m) {
		if spec.Kind != KindTask && !spec.AllowTask {
			return nil, fmt.Errorf("unexpected task description for %s parameter", spec.Kind)
		}
		return decodeTagged(reg, m)
	}
	switch spec.Kind {
	case KindTaskSlice:
		items, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("expected array of task descriptions, got %T", raw)
		}
		out := make([]*Instance, len(items))
		for i, e := range items {
			m, ok := e.(map[string]any)
			if !ok || !isTagged(m) {
				return nil, fmt.Errorf("element %d is not a task description", i)
			}
			inst, err := decodeTagged(reg, m)
			if err != nil {
				return nil, err
			}
			out[i] = inst
		}
		return out, nil
	case KindTaskMap:
		items, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected mapping of task descriptions, got %T", raw)
		}
		out := make(map[string]*Instance, len(items))
		for k, e := range items {
			m, ok := e.(map[string]any)
			if !ok || !isTagged(m) {
				return nil, fmt.Errorf("key %q is not a task description", k)
			}
			inst, err := decodeTagged(reg, m)
			if err != nil {
				return nil, err
			}
			out[k] = inst
		}
		return out, nil
	}
	return raw, nil
}

func isTagged(m map[string]any) bool {
	_, hasNS := m[namespaceTag]
	_, hasFam := m[familyTag]
	return hasNS && hasFam
}
