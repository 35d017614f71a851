// Package fault defines the typed errors the engine surfaces to callers.
// Each carries enough structured detail to render a precise message; none
// of them should ever crash the process.
package fault

import "fmt"

// ValidationError reports a recoverable field-level problem such as a
// missing justification or an exceeded word count.
type ValidationError struct {
	Field  string
	Limit  int
	Actual int
	Msg    string
}

func (e ValidationError) Error() string {
	if e.Limit > 0 {
		return fmt.Sprintf("field %s exceeds the %d word limit (%d words)", e.Field, e.Limit, e.Actual)
	}
	if e.Msg != "" {
		return fmt.Sprintf("field %s: %s", e.Field, e.Msg)
	}
	return fmt.Sprintf("field %s is invalid", e.Field)
}

// InvalidStateError reports an illegal status transition.
type InvalidStateError struct {
	Entity string
	From   string
	To     string
	Reason string
}

func (e InvalidStateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid %s transition %s -> %s: %s", e.Entity, e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Entity, e.From, e.To)
}

// PermissionError reports a false edit-capability flag.
type PermissionError struct {
	Action string
}

func (e PermissionError) Error() string {
	return fmt.Sprintf("no permission to %s", e.Action)
}

// StaleWriteError reports an optimistic-lock mismatch. The stored record is
// left unchanged; callers should reload and retry rather than auto-retrying.
type StaleWriteError struct {
	Expected string
	Actual   string
}

func (e StaleWriteError) Error() string {
	return fmt.Sprintf("stale copy: expected timestamp %s but stored is %s", e.Expected, e.Actual)
}

// CompletionLockedError reports an attempt to change review data after the
// review was completed or finalised.
type CompletionLockedError struct {
	Finalised bool
}

func (e CompletionLockedError) Error() string {
	return "data cannot be changed after completion"
}

// NotFoundError reports a framework node absent from the loaded tree. It
// indicates a specification defect and should surface at compile/start-up
// time rather than at request time.
type NotFoundError struct {
	Kind string
	Code string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found in framework", e.Kind, e.Code)
}
