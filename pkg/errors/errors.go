// Package errors defines the error taxonomy shared by every component of the
// task-lifecycle engine. Components never invent ad-hoc error types; they
// wrap a Kind with context via fmt.Errorf("...: %w", err) and let callers
// recover the Kind with errors.As.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way the engine's components must agree on,
// independent of which component raised it.
type Kind int

const (
	// KindInternal marks an invariant violation; always logged with the
	// originating component.
	KindInternal Kind = iota
	KindNotFound
	KindAllocationFailed
	KindProvisioningFailed
	KindResourceLocked
	KindPluginError
	KindCommunicationError
	KindTimeout
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindAllocationFailed:
		return "AllocationFailed"
	case KindProvisioningFailed:
		return "ProvisioningFailed"
	case KindResourceLocked:
		return "ResourceLocked"
	case KindPluginError:
		return "PluginError"
	case KindCommunicationError:
		return "CommunicationError"
	case KindTimeout:
		return "Timeout"
	case KindCanceled:
		return "Canceled"
	default:
		return "Internal"
	}
}

// Error is the concrete error type carried through the engine. Component is
// the name of the originating subsystem (e.g. "resource-manager"),
// populated for Internal errors and left empty otherwise.
type Error struct {
	Kind      Kind
	Component string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match by Kind, not identity: two independently
// constructed *Error values with the same Kind are considered equal for
// classification purposes.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs an Error of the given Kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches context and a Kind to an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Internal builds a KindInternal error tagged with the originating
// component, per spec: "always logged with the originating component".
func Internal(component, message string) *Error {
	return &Error{Kind: KindInternal, Component: component, Message: message}
}

// KindOf extracts the Kind of err, defaulting to KindInternal when err does
// not wrap an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Sentinels for errors.Is comparisons against a bare Kind.
var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrAllocationFailed   = &Error{Kind: KindAllocationFailed}
	ErrProvisioningFailed = &Error{Kind: KindProvisioningFailed}
	ErrResourceLocked     = &Error{Kind: KindResourceLocked}
	ErrPluginError        = &Error{Kind: KindPluginError}
	ErrCommunicationError = &Error{Kind: KindCommunicationError}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrCanceled           = &Error{Kind: KindCanceled}
)
