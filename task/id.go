package task

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
)

// ID returns the instance's task id: the hex sha1 digest of the canonical
// JSON form of {namespace, family, version, parameters}. json.Marshal emits
// map keys sorted with compact separators, so structurally equal instances
// produce identical bytes regardless of construction order. The id is
// computed once per instance; instances are immutable.
func (in *Instance) ID() (string, error) {
	in.idOnce.Do(func() {
		in.id, in.idErr = computeID(in)
	})
	return in.id, in.idErr
}

// MustID is ID for instances whose parameters are known canonicalizable.
func (in *Instance) MustID() string {
	id, err := in.ID()
	if err != nil {
		panic(err)
	}
	return id
}

func computeID(in *Instance) (string, error) {
	params := make(map[string]any, len(in.params))
	for name, v := range in.params {
		cv, err := canonicalValue(v)
		if err != nil {
			return "", &IdentityError{
				Task:  namespaceFamily(in.Namespace(), in.Family()),
				Param: name,
				Err:   err,
			}
		}
		params[name] = cv
	}
	payload := map[string]any{
		"namespace":  in.Namespace(),
		"family":     in.Family(),
		"version":    in.Version(),
		"parameters": params,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", &IdentityError{
			Task: namespaceFamily(in.Namespace(), in.Family()),
			Err:  err,
		}
	}
	return fmt.Sprintf("%x", sha1.Sum(b)), nil
}
