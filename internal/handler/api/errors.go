package api

import (
	"errors"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	xhttp "FinScan/pkg/http"
)

// toAppError maps domain failures onto HTTP errors.
func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var cfgErr *models.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		return xhttp.BadRequestError(cfgErr.Error()).WithField(cfgErr.Field).WithError(err)
	case errors.Is(err, domrepo.ErrNotFound):
		return xhttp.NotFoundError(err.Error())
	case models.IsDataQuality(err):
		return xhttp.UnprocessableError(err.Error()).WithError(err)
	case models.IsTransient(err):
		return xhttp.ServiceUnavailableError("storage temporarily unavailable").WithError(err)
	default:
		return xhttp.InternalError("internal error").WithError(err)
	}
}
