package http

import (
	"net/http"
)

// AppError carries an HTTP status and a stable public code. Err is the
// cause for logs and never reaches the client.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *AppError) Unwrap() error { return e.Err }

// WithField names the request field at fault.
func (e *AppError) WithField(field string) *AppError {
	e.Field = field
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func NewAppError(status int, code, message string) *AppError {
	return &AppError{Status: status, Code: code, Message: message}
}

// errorKind builds constructors for the statuses handlers return.
func errorKind(status int, code string) func(string) *AppError {
	return func(message string) *AppError { return NewAppError(status, code, message) }
}

var (
	BadRequestError         = errorKind(http.StatusBadRequest, "ERR_BAD_REQUEST")
	NotFoundError           = errorKind(http.StatusNotFound, "ERR_NOT_FOUND")
	UnprocessableError      = errorKind(http.StatusUnprocessableEntity, "ERR_UNPROCESSABLE")
	TooManyRequestsError    = errorKind(http.StatusTooManyRequests, "ERR_RATE_LIMITED")
	InternalError           = errorKind(http.StatusInternalServerError, "ERR_INTERNAL")
	ServiceUnavailableError = errorKind(http.StatusServiceUnavailable, "ERR_UNAVAILABLE")
)
