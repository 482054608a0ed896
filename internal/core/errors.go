package core

import "errors"

var (
	ErrSerialization     = errors.New("serialization error")
	ErrInvalidPlan       = errors.New("invalid plan")
	ErrDependencyFailed  = errors.New("dependency failed")
	ErrStep              = errors.New("step error")
	ErrTimeout           = errors.New("timeout")
	ErrUpstream          = errors.New("upstream failure")
	ErrNotFound          = errors.New("not found")
	ErrUnsupported       = errors.New("operation not supported")
	ErrAccessDenied      = errors.New("access denied")
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrContextMissing    = errors.New("session context does not exist")
)

// ErrorKind names the taxonomy bucket of err for result records.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidPlan):
		return "invalid_plan"
	case errors.Is(err, ErrDependencyFailed):
		return "dependency_failed"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrStep):
		return "step_error"
	case errors.Is(err, ErrUpstream):
		return "upstream_failure"
	case errors.Is(err, ErrSerialization):
		return "serialization_error"
	default:
		return "error"
	}
}
