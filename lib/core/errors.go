package core

import (
	"errors"

	"github.com/samber/oops"
)

// Error codes attached to oops errors. They are stable and safe to expose to
// the API layer.
const (
	CodeValidation     = "validation"
	CodeStartup        = "startup"
	CodeBinaryNotFound = "binary_not_found"
	CodeUnknownBackend = "unknown_backend"
	CodeAlreadyActive  = "already_active"
)

var (
	// ErrValidation is returned when a spec is missing a required field or
	// carries a value outside its allowed set.
	ErrValidation = errors.New("invalid tunnel spec")
	// ErrStartup is returned when the tunnel process exits before the
	// confirmation window elapses.
	ErrStartup = errors.New("tunnel process failed to start")
	// ErrBinaryNotFound is returned when no candidate binary path resolves.
	ErrBinaryNotFound = errors.New("tunnel binary not found")
	// ErrUnknownBackend is returned for tunnel core names outside the Backend set.
	ErrUnknownBackend = errors.New("unknown tunnel core")
	// ErrAlreadyActive is returned when apply targets a tunnel id that already
	// has a live process. Remove it first.
	ErrAlreadyActive = errors.New("tunnel already active")
)

// NewValidationError reports a bad or missing spec field.
func NewValidationError(backend Backend, field, format string, args ...any) error {
	return oops.
		Code(CodeValidation).
		In(backend.String()).
		With("field", field).
		Wrapf(ErrValidation, format, args...)
}

// NewStartupError reports a process that died inside its confirmation window.
// output is the captured stderr or log tail and may be empty.
func NewStartupError(backend Backend, id TunnelID, output string) error {
	return oops.
		Code(CodeStartup).
		In(backend.String()).
		With("tunnel_id", id.String(), "output", output).
		Wrapf(ErrStartup, "%s failed to start: %s", backend, output)
}

// NewAlreadyActiveError reports an apply against a tunnel that is still running.
func NewAlreadyActiveError(backend Backend, id TunnelID) error {
	return oops.
		Code(CodeAlreadyActive).
		In(backend.String()).
		With("tunnel_id", id.String()).
		Hint("remove the tunnel before applying it again").
		Wrapf(ErrAlreadyActive, "tunnel %s is already active", id)
}

// ErrorCode returns the oops code carried by err, or "" when there is none.
func ErrorCode(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}
