package schemas

import (
	"context"
	"errors"
)

// Sentinel errors shared across the delegation boundary. Wrap them with %w and
// match them with errors.Is.
var (
	ErrPathEscape             = errors.New("path escapes sandbox root")
	ErrNotFound               = errors.New("not found")
	ErrUnknownCapability      = errors.New("unknown capability")
	ErrCapabilityNotPermitted = errors.New("capability not permitted")
	ErrDuplicateCapability    = errors.New("duplicate capability")
	ErrTimeout                = errors.New("timed out")
	ErrAuditSinkUnavailable   = errors.New("audit sink unavailable")
	ErrEngineUnavailable      = errors.New("reasoning engine unavailable")
	ErrMalformedReply         = errors.New("malformed engine reply")
	ErrMalformedEvent         = errors.New("malformed stream event")
	ErrPrivilegeViolation     = errors.New("privilege violation")
	ErrInvalidArguments       = errors.New("invalid arguments")
)

// ErrorCode is the structured code attached to failed tool results so an engine
// can branch on the failure class without parsing prose.
type ErrorCode string

const (
	CodePathEscape        ErrorCode = "PATH_ESCAPE"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeUnknownCapability ErrorCode = "UNKNOWN_CAPABILITY"
	CodeNotPermitted      ErrorCode = "NOT_PERMITTED"
	CodeTimeout           ErrorCode = "TIMEOUT_ERROR"
	CodeInvalidArguments  ErrorCode = "INVALID_PARAMETERS"
	CodeExecutionFailure  ErrorCode = "EXECUTION_FAILURE"
)

// CodeFor maps an error onto its ErrorCode.
func CodeFor(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPathEscape):
		return CodePathEscape
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrUnknownCapability):
		return CodeUnknownCapability
	case errors.Is(err, ErrCapabilityNotPermitted):
		return CodeNotPermitted
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, ErrInvalidArguments), errors.Is(err, ErrMalformedReply):
		return CodeInvalidArguments
	default:
		return CodeExecutionFailure
	}
}
