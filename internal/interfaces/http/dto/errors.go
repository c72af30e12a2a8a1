package dto

import (
	"errors"
	"net/http"

	"github.com/erp/payalloc/internal/domain/allocation"
	"github.com/erp/payalloc/internal/domain/shared"
	batchimport "github.com/erp/payalloc/internal/infrastructure/import"
)

// Transport error codes. Domain errors keep their own codes
// (EXCEEDS_BALANCE_DUE, ALREADY_REVERSED, ...) on the wire.
const (
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "INTERNAL_ERROR"
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "BAD_REQUEST"
	// ErrCodeValidation is used when request binding fails
	ErrCodeValidation = "VALIDATION_ERROR"
	// ErrCodeUnauthorized is used when the caller cannot be identified
	ErrCodeUnauthorized = "UNAUTHORIZED"
	// ErrCodeNotFound is used for unknown routes and records
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeRequestTooLarge is used when a body exceeds the configured limit
	ErrCodeRequestTooLarge = "REQUEST_TOO_LARGE"
	// ErrCodeBatchRejected is used when an all-or-nothing import is refused
	ErrCodeBatchRejected = "BATCH_REJECTED"
	// ErrCodeInvalidFile is used when an uploaded source cannot be parsed
	ErrCodeInvalidFile = "INVALID_FILE"
)

// codeStatus holds domain codes that are neither validation nor state errors
var codeStatus = map[string]int{
	shared.ErrAlreadyExists.Code: http.StatusConflict,
	"BATCH_TOO_LARGE":            http.StatusRequestEntityTooLarge,
	ErrCodeRequestTooLarge:       http.StatusRequestEntityTooLarge,
	ErrCodeUnauthorized:          http.StatusUnauthorized,
	ErrCodeBatchRejected:         http.StatusUnprocessableEntity,
	ErrCodeInvalidFile:           http.StatusUnprocessableEntity,
}

// StatusFor maps an error to its HTTP status and wire code.
//
//	validation -> 422, state -> 409, not found -> 404, other domain -> 400,
//	anything else -> 500
func StatusFor(err error) (int, string) {
	de, ok := shared.AsDomainError(err)
	if !ok {
		if isSourceError(err) {
			return http.StatusUnprocessableEntity, ErrCodeInvalidFile
		}
		return http.StatusInternalServerError, ErrCodeInternal
	}
	switch {
	case allocation.IsNotFound(err):
		return http.StatusNotFound, de.Code
	case allocation.IsValidationError(err):
		return http.StatusUnprocessableEntity, de.Code
	case allocation.IsStateError(err):
		return http.StatusConflict, de.Code
	}
	if status, ok := codeStatus[de.Code]; ok {
		return status, de.Code
	}
	return http.StatusBadRequest, de.Code
}

// isSourceError reports whether err came from parsing an uploaded source
func isSourceError(err error) bool {
	for _, target := range []error{
		batchimport.ErrEmptyFile,
		batchimport.ErrInvalidEncoding,
		batchimport.ErrMissingHeader,
		batchimport.ErrNoDataRows,
		batchimport.ErrFileTooLarge,
		batchimport.ErrTooManyRows,
		batchimport.ErrUnsupportedFormat,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// PublicMessage returns the message safe to show a client. Internal errors
// are never echoed.
func PublicMessage(err error) string {
	if de, ok := shared.AsDomainError(err); ok {
		return de.Message
	}
	if isSourceError(err) {
		return err.Error()
	}
	return "An unexpected error occurred"
}
