// Package banderr defines the closed error-kind taxonomy the scheduler core
// uses to classify failures instead of panicking or leaking opaque errors.
package banderr

import (
	"errors"
	"fmt"
)

// Kind is a closed set of error classifications. Callers branch on Kind via
// errors.As, never on error strings.
type Kind int

const (
	// InvalidArgument marks bad configuration or API misuse.
	InvalidArgument Kind = iota
	// NotFound marks an unknown path, id, or key.
	NotFound
	// Unavailable marks a missing platform capability (e.g. non-Linux sysfs).
	Unavailable
	// Internal marks an invariant breach; should not happen outside a bug.
	Internal
	// DeviceError marks a retriable backend failure that triggers throttling.
	DeviceError
	// FatalInvoke marks a non-retriable backend failure.
	FatalInvoke
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case NotFound:
		return "NotFound"
	case Unavailable:
		return "Unavailable"
	case Internal:
		return "Internal"
	case DeviceError:
		return "DeviceError"
	case FatalInvoke:
		return "FatalInvoke"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with a closed Kind.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "ResourceMonitor.GetThermal"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for op/kind, optionally wrapping cause.
func New(op string, kind Kind, cause error) *Error {
	return &Error{Op: op, Kind: kind, Err: cause}
}

// Newf builds an *Error with a formatted cause.
func Newf(op string, kind Kind, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
