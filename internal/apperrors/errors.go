package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidBatch            = errors.New("invalid batch")
	ErrEmbeddingFailure        = errors.New("embedding failure")
	ErrClassificationFailure   = errors.New("classification failure")
	ErrJobFailure              = errors.New("job failure")
	ErrNoTrainingData          = errors.New("no training data")
	ErrExternalLabelingFailure = errors.New("external labeling failure")
	ErrNotFound                = errors.New("not found")
	ErrConflict                = errors.New("conflict")
	ErrUnavailable             = errors.New("unavailable")
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

// HTTPStatusCode maps an error chain onto the response code the API returns.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidBatch):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoTrainingData):
		return http.StatusNoContent
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrExternalLabelingFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
