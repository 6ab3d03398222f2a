package app

import (
	"errors"
	"fmt"
	"net/http"

	"jobboard/api/internal/auth"
	"jobboard/api/internal/board"
	"jobboard/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

const (
	codeValidation       = "VALIDATION_ERROR"
	codeItemNotFound     = "ITEM_NOT_FOUND"
	codeNeighborNotFound = "NEIGHBOR_NOT_FOUND"
	codeStatusNotFound   = "STATUS_NOT_FOUND"
	codeColumnNotFound   = "COLUMN_NOT_FOUND"
	codeNotFound         = "NOT_FOUND"
	codeTransient        = "TRANSIENT_FAILURE"
	codeUnauthorized     = "UNAUTHORIZED"
	codeForbidden        = "FORBIDDEN"
	codeUnavailable      = "FEATURE_DISABLED"
	codeServerError      = "SERVER_ERROR"
)

func invalidInput(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, codeValidation, message, details)
}

// notFoundAs converts a store miss into a coded 404 and passes every other
// error through.
func notFoundAs(err error, code, message string, details any) error {
	if errors.Is(err, store.ErrNotFound) {
		return domainError(http.StatusNotFound, code, message, details)
	}
	return err
}

func mapError(err error) (int, string, string, any) {
	var domainErr *DomainError
	switch {
	case errors.As(err, &domainErr):
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, codeNotFound, "resource not found", nil
	case errors.Is(err, board.ErrUnknownStatus):
		return http.StatusUnprocessableEntity, codeValidation, err.Error(), nil
	case errors.Is(err, store.ErrTransient):
		return http.StatusServiceUnavailable, codeTransient, "the board is busy, retry the request", nil
	case errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, codeUnauthorized, "session expired", nil
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, codeUnauthorized, "invalid session", nil
	default:
		return http.StatusInternalServerError, codeServerError, "internal server error", nil
	}
}
