package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/veldtlabs/runq/errors"
)

// handleError maps a core error onto the HTTP error envelope.
// invalid_argument surfaces as 400 with its details, not_found as 404;
// anything else is an internal error that carries only an error_id and
// a generic message, never executor internals.
func handleError(w http.ResponseWriter, r *http.Request, logger *zap.SugaredLogger, err error, context string) {
	switch {
	case errors.IsInvalidArgumentError(err):
		writeError(w, r, http.StatusBadRequest, err.Error(), detailsOf(err))
	case errors.IsNotFoundError(err):
		writeError(w, r, http.StatusNotFound, err.Error(), nil)
	default:
		logger.Errorw(context,
			"error", err,
			"request_id", requestID(r),
			"path", r.URL.Path)
		writeError(w, r, http.StatusInternalServerError, "internal error", nil)
	}
}

// detailsOf lifts error details attached via errors.WithDetail into the
// envelope's details object
func detailsOf(err error) map[string]interface{} {
	all := errors.GetAllDetails(err)
	if len(all) == 0 {
		return nil
	}
	return map[string]interface{}{"hints": all}
}
