package apierr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/yungbote/vidscribe-backend/internal/pkg/errdef"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// From maps tagged domain errors onto HTTP statuses for the edge.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, errdef.ErrQuotaExceeded):
		return New(http.StatusTooManyRequests, "quota_exceeded", err)
	case errors.Is(err, errdef.ErrInvalidInput):
		return New(http.StatusBadRequest, "invalid_input", err)
	case errors.Is(err, errdef.ErrNotFound):
		return New(http.StatusNotFound, "not_found", err)
	case errors.Is(err, errdef.ErrConflict):
		return New(http.StatusConflict, "conflict", err)
	case errors.Is(err, errdef.ErrUnauthorized):
		return New(http.StatusUnauthorized, "unauthorized", err)
	case errors.Is(err, errdef.ErrCanceled):
		return New(http.StatusConflict, "canceled", err)
	default:
		return New(http.StatusInternalServerError, "internal", err)
	}
}
