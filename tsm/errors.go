package tsm

import "fmt"

// MalformedAppHandleError is returned by ParseAppHandle when the supplied
// string does not match the "backend://session/app_id" grammar.
type MalformedAppHandleError struct {
	Handle string
	Reason string
}

func (e *MalformedAppHandleError) Error() string {
	return fmt.Sprintf("malformed app handle %q: %s", e.Handle, e.Reason)
}

// InvalidRunConfigError is returned by runopts.Resolve (and anything that
// calls it, such as Scheduler.Submit) when a RunConfig is missing a
// required option or supplies one with the wrong type.
type InvalidRunConfigError struct {
	Option string
	Reason string
}

func (e *InvalidRunConfigError) Error() string {
	return fmt.Sprintf("invalid run config option %q: %s", e.Option, e.Reason)
}

// ValueError mirrors the Python ValueError the source raises for bad
// constructor/argument inputs: unset resources, non-positive cache sizes,
// relative image paths, and the like.
type ValueError struct {
	Op     string
	Reason string
}

func (e *ValueError) Error() string {
	if e.Op == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// TypeError is returned by runopts.Add when a default value's runtime type
// disagrees with the option's declared type.
type TypeError struct {
	Option string
	Reason string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("run option %q: %s", e.Option, e.Reason)
}

// CapacityExceededError is returned by a scheduler's Submit when it cannot
// make room for a new application record (local scheduler: the cache is
// full and nothing in it is terminal; or a configured resource ceiling
// would be exceeded).
type CapacityExceededError struct {
	Reason string
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("capacity exceeded: %s", e.Reason)
}
