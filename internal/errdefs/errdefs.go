// Package errdefs classifies failures so callers can decide between
// retrying, reporting to the operator and giving up.
package errdefs

import (
	"errors"
	"fmt"
)

// Error classes. Use errors.Is against these to classify any error
// produced by labelctl packages.
var (
	// ErrValidation marks malformed operator input. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrTransient marks infrastructure that may recover on its own
	// (spooler not ready, device unplugged, network down).
	ErrTransient = errors.New("transient infrastructure error")
	// ErrPermanent marks configuration that will not fix itself
	// (missing credential, unsupported provider).
	ErrPermanent = errors.New("permanent configuration error")
	// ErrResourceExhausted marks an exhausted search space such as a port range.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrNotFound marks a missing record or queue.
	ErrNotFound = errors.New("not found")
)

// classified attaches a class and an optional remediation hint to a cause.
type classified struct {
	class error
	msg   string
	cause error
	hint  string
}

func (e *classified) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *classified) Unwrap() []error {
	if e.cause != nil {
		return []error{e.class, e.cause}
	}
	return []error{e.class}
}

// Validation returns an ErrValidation-classified error.
func Validation(format string, args ...interface{}) error {
	return &classified{class: ErrValidation, msg: fmt.Sprintf(format, args...)}
}

// Transient wraps cause as ErrTransient.
func Transient(cause error, format string, args ...interface{}) error {
	return &classified{class: ErrTransient, msg: fmt.Sprintf(format, args...), cause: cause}
}

// Permanent wraps cause as ErrPermanent and records a remediation hint for the operator.
func Permanent(cause error, hint string, format string, args ...interface{}) error {
	return &classified{class: ErrPermanent, msg: fmt.Sprintf(format, args...), cause: cause, hint: hint}
}

// NotFound returns an ErrNotFound-classified error.
func NotFound(format string, args ...interface{}) error {
	return &classified{class: ErrNotFound, msg: fmt.Sprintf(format, args...)}
}

// Hint returns the first remediation hint found in err's chain.
func Hint(err error) string {
	var c *classified
	if errors.As(err, &c) {
		return c.hint
	}
	return ""
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsTransient reports whether err is worth retrying later.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// IsPermanent reports whether err requires operator action.
func IsPermanent(err error) bool { return errors.Is(err, ErrPermanent) }

// IsResourceExhausted reports whether err is an exhausted-range error.
func IsResourceExhausted(err error) bool { return errors.Is(err, ErrResourceExhausted) }

// IsNotFound reports whether err denotes a missing record.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Class returns a short label for err suitable for status output.
func Class(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		return "validation"
	case IsTransient(err):
		return "transient"
	case IsPermanent(err):
		return "configuration"
	case IsResourceExhausted(err):
		return "exhausted"
	case IsNotFound(err):
		return "not_found"
	default:
		return "internal"
	}
}
