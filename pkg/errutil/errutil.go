package errutil

import (
	"errors"
	"net/http"
)

type HttpError struct {
	code int
	err  error
}

func (e *HttpError) Error() string {
	if e.err == nil {
		return http.StatusText(e.code)
	}
	return e.err.Error()
}

func (e *HttpError) Unwrap() error {
	return e.err
}

func (e *HttpError) Code() int {
	return e.code
}

func newHttpError(code int, err error) error {
	return &HttpError{
		code: code,
		err:  err,
	}
}

func BadRequestError(err error) error {
	return newHttpError(http.StatusBadRequest, err)
}

func ValidationError(err error) error {
	return newHttpError(http.StatusBadRequest, err)
}

func UnauthorizedError(err error) error {
	return newHttpError(http.StatusUnauthorized, err)
}

func NotFoundError(err error) error {
	return newHttpError(http.StatusNotFound, err)
}

func ConflictError(err error) error {
	return newHttpError(http.StatusConflict, err)
}

func TooManyRequestsError(err error) error {
	return newHttpError(http.StatusTooManyRequests, err)
}

// ConfigError marks a missing credential or endpoint. Only the request that
// needs it fails.
func ConfigError(err error) error {
	return newHttpError(http.StatusServiceUnavailable, err)
}

func ParseHttpError(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}

	var httpErr *HttpError
	if errors.As(err, &httpErr) {
		return httpErr.Code(), httpErr.Error()
	}

	return http.StatusInternalServerError, err.Error()
}

func IsNotFound(err error) bool {
	var httpErr *HttpError
	return errors.As(err, &httpErr) && httpErr.Code() == http.StatusNotFound
}
