package httpx

import (
	"errors"
	"net/http"

	"github.com/MRC-CLIMB/bryn/internal/domain"
	"github.com/MRC-CLIMB/bryn/internal/openstack"
	"github.com/MRC-CLIMB/bryn/internal/repository"
)

// mapDomainError converts service errors to a status and a client-safe message.
func mapDomainError(err error) (int, string) {
	var verr *domain.ValidationError
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, openstack.ErrVolumeNotAvailable):
		return http.StatusMethodNotAllowed, openstack.ErrVolumeNotAvailable.Error()
	case errors.Is(err, openstack.ErrNotFound):
		return http.StatusNotFound, openstack.ErrNotFound.Error()
	case errors.Is(err, openstack.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, openstack.ErrServiceUnavailable.Error()
	case errors.Is(err, openstack.ErrProvider):
		return http.StatusInternalServerError, openstack.ErrProvider.Error()
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrNotAllowed):
		return http.StatusMethodNotAllowed, err.Error()
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, repository.ErrConflict):
		return http.StatusConflict, "already exists"
	case errors.Is(err, repository.ErrInUse):
		return http.StatusConflict, "still in use"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// fail writes err as a JSON error response. Validation errors carry their
// per-field messages.
func (r *Router) fail(w http.ResponseWriter, req *http.Request, err error) {
	status, msg := mapDomainError(err)
	if status >= http.StatusInternalServerError {
		r.logger.Error("request failed", "path", req.URL.Path, "status", status, "error", err)
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, status, map[string]any{"error": msg, "fields": verr.Fields})
		return
	}
	writeError(w, status, msg)
}
