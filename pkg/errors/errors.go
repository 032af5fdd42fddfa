package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInvalidCategoryPath = errors.New("invalid category path")
	ErrObjectClosed        = errors.New("object already closed")
	ErrIllegalState        = errors.New("illegal state")
	ErrCorruptData         = errors.New("corrupt data")
	ErrIndexNotFound       = errors.New("taxonomy index not found")
	ErrNotFound            = errors.New("not found")
	ErrInternal            = errors.New("internal error")
	ErrTimeout             = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrIndexNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrInvalidCategoryPath):
		return http.StatusBadRequest
	case errors.Is(err, ErrObjectClosed), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrIllegalState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
