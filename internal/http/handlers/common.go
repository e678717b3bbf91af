package handlers

import (
	"errors"
	"net/http"

	pkgerrors "github.com/yungbote/labintel-backend/internal/pkg/errors"
)

// classifyError maps service sentinels onto HTTP statuses and stable error
// codes.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, pkgerrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, pkgerrors.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, pkgerrors.ErrUnrecognizedDocument):
		return http.StatusUnprocessableEntity, "unrecognized_document"
	case errors.Is(err, pkgerrors.ErrPipelineBusy):
		return http.StatusConflict, "pipeline_busy"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
