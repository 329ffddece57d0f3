package task

import "fmt"

// IdentityError reports a parameter value that cannot be canonicalized into
// the task id. It is structural: a build that hits one is aborted.
type IdentityError struct {
	Task  string
	Param string
	Err   error
}

func (e *IdentityError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("task %s: parameter %q: %v", e.Task, e.Param, e.Err)
	}
	return fmt.Sprintf("task %s: %v", e.Task, e.Err)
}

func (e *IdentityError) Unwrap() error { return e.Err }

// NotRegisteredError reports a (namespace, family) tag with no registered
// definition, encountered while decoding a serialized task description.
type NotRegisteredError struct {
	Namespace string
	Family    string
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("task: no definition registered for %q", namespaceFamily(e.Namespace, e.Family))
}
