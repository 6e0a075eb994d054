// Package failure defines the error kinds reported by the launcher and the
// in-container bootstrap.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a failure
type Kind string

const (
	RuntimeNotInstalled Kind = "RuntimeNotInstalled"
	RuntimeNotRunning   Kind = "RuntimeNotRunning"
	TargetNotFound      Kind = "TargetNotFound"
	MissingCredential   Kind = "MissingCredential"
	DataDirUnwritable   Kind = "DataDirUnwritable"
	MountUnverified     Kind = "MountUnverified"
	ConfigWriteFailed   Kind = "ConfigWriteFailed"
	ConfigInvalid       Kind = "ConfigInvalid"
	SmokeTestFailed     Kind = "SmokeTestFailed"
	ImageUnavailable    Kind = "ImageUnavailable"
	LaunchFailed        Kind = "LaunchFailed"
)

// IsWarning reports whether failures of this kind only degrade the run
func IsWarning(k Kind) bool {
	return k == MountUnverified || k == SmokeTestFailed
}

// Error is a classified failure with an optional remediation hint
type Error struct {
	Kind Kind
	Msg  string
	Hint string
	Err  error
}

// New returns a failure of kind k
func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Msg: msg}
}

// Wrap returns a failure of kind k caused by err
func Wrap(k Kind, err error, msg string) *Error {
	return &Error{Kind: k, Msg: msg, Err: err}
}

// WithHint sets the remediation hint shown to the operator
func (e *Error) WithHint(format string, args ...any) *Error {
	e.Hint = fmt.Sprintf(format, args...)
	return e
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, failure.New(k, ""))
// works as a kind check.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// HintOf returns the remediation hint of the first *Error in err's chain
func HintOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Hint
	}
	return ""
}
