package httpx

import (
	"errors"
	"net/http"

	"github.com/vantage-c2/vantage/internal/shared"
)

// RespondError maps core errors to problem responses. The problem type field
// carries the machine-readable error kind from the shared taxonomy.
func RespondError(w http.ResponseWriter, err error) {
	kind := shared.ErrorKind(err)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, kind, "Not Found", err.Error())
	case errors.Is(err, shared.ErrDuplicateKey):
		Problem(w, http.StatusConflict, kind, "Duplicate Key", err.Error())
	case errors.Is(err, shared.ErrAuthenticationFailed):
		Problem(w, http.StatusUnauthorized, kind, "Authentication Failed", err.Error())
	case errors.Is(err, shared.ErrPermissionDenied):
		Problem(w, http.StatusForbidden, kind, "Permission Denied", err.Error())
	case errors.Is(err, shared.ErrInvalidStateTransition):
		Problem(w, http.StatusConflict, kind, "Invalid State Transition", err.Error())
	case errors.Is(err, shared.ErrNoActiveSession):
		Problem(w, http.StatusConflict, kind, "No Active Session", err.Error())
	case errors.Is(err, shared.ErrMalformedAction):
		Problem(w, http.StatusBadRequest, kind, "Malformed Action", err.Error())
	case errors.Is(err, shared.ErrCannotBindAction):
		Problem(w, http.StatusBadRequest, kind, "Cannot Bind Action", err.Error())
	case errors.Is(err, shared.ErrMalformedRequest):
		Problem(w, http.StatusBadRequest, kind, "Malformed Request", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, kind, "Internal Error", "")
	}
}
