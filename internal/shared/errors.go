package shared

import "errors"

// Sentinel errors shared across the control-plane core. Handlers map these to
// problem responses in httpx; services wrap them with fmt.Errorf("...: %w", ...)
// so callers can still match with errors.Is.
var (
	// ErrNotFound indicates a referenced target, action, user, role or key does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrDuplicateKey indicates a uniqueness violation on create.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrAuthenticationFailed indicates the supplied credential does not verify.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrPermissionDenied indicates a delegation, impersonation or ownership rule was violated.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidStateTransition indicates a lifecycle operation on an entity in the wrong state.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrNoActiveSession indicates quick binding found no eligible session.
	ErrNoActiveSession = errors.New("no active session")
	// ErrMalformedAction indicates the action string failed to parse.
	ErrMalformedAction = errors.New("malformed action")
	// ErrCannotBindAction indicates the action's target does not exist.
	ErrCannotBindAction = errors.New("cannot bind action")
	// ErrMalformedRequest indicates a request failed boundary validation.
	ErrMalformedRequest = errors.New("malformed request")
)

// ErrorKind returns the machine-readable kind for a core error, or "internal"
// when the error does not belong to the taxonomy.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateKey):
		return "duplicate_key"
	case errors.Is(err, ErrAuthenticationFailed):
		return "authentication_failed"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrInvalidStateTransition):
		return "invalid_state_transition"
	case errors.Is(err, ErrNoActiveSession):
		return "no_active_session"
	case errors.Is(err, ErrMalformedAction):
		return "malformed_action"
	case errors.Is(err, ErrCannotBindAction):
		return "cannot_bind_action"
	case errors.Is(err, ErrMalformedRequest):
		return "malformed_request"
	default:
		return "internal"
	}
}
