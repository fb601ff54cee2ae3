// Package apperrors provides the application's error taxonomy.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes. The first block mirrors a conventional HTTP-facing taxonomy
// (kept for the debug surface); the second block is the kind-based taxonomy
// from the orchestrator's error handling design, used internally to decide
// recovery policy.
const (
	CodeNotFound      = "NOT_FOUND"
	CodeBadRequest    = "BAD_REQUEST"
	CodeInternalError = "INTERNAL_ERROR"
	CodeUnavailable   = "SERVICE_UNAVAILABLE"

	CodeProtocolError  = "PROTOCOL_ERROR"  // bad JSON / bad JSON-RPC shape
	CodeRemoteError    = "REMOTE_ERROR"    // JSON-RPC error response
	CodeConnClosed     = "CONNECTION_CLOSED"
	CodeSpawnError     = "SPAWN_ERROR"
	CodeHealthError    = "HEALTH_ERROR"
	CodeRoutingError   = "ROUTING_ERROR"
	CodeStorageError   = "STORAGE_ERROR"
	CodeCoalescerError = "COALESCER_ERROR"
	CodeEscalation     = "ESCALATION"
)

// AppError is an application error carrying a stable code and, where
// meaningful, an HTTP status for the debug surface.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: http.StatusInternalServerError}
}

func Wrap(code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: http.StatusInternalServerError, Err: err}
}

// Constructors for the kind-based taxonomy (spec §7). These are the ones
// used across the orchestrator quartet; HTTPStatus is informational only.

func ProtocolError(err error) *AppError {
	return &AppError{Code: CodeProtocolError, Message: "malformed JSON-RPC line", HTTPStatus: http.StatusBadRequest, Err: err}
}

func RemoteError(code int, message string) *AppError {
	return &AppError{Code: CodeRemoteError, Message: fmt.Sprintf("remote error %d: %s", code, message), HTTPStatus: http.StatusBadGateway}
}

func ConnectionClosed() *AppError {
	return &AppError{Code: CodeConnClosed, Message: "connection closed", HTTPStatus: http.StatusServiceUnavailable}
}

func SpawnError(err error) *AppError {
	return &AppError{Code: CodeSpawnError, Message: "failed to spawn agent", HTTPStatus: http.StatusInternalServerError, Err: err}
}

func HealthError(message string) *AppError {
	return &AppError{Code: CodeHealthError, Message: message, HTTPStatus: http.StatusInternalServerError}
}

func RoutingError(message string) *AppError {
	return &AppError{Code: CodeRoutingError, Message: message, HTTPStatus: http.StatusBadRequest}
}

func StorageError(message string, err error) *AppError {
	return &AppError{Code: CodeStorageError, Message: message, HTTPStatus: http.StatusInternalServerError, Err: err}
}

func CoalescerError(message string, err error) *AppError {
	return &AppError{Code: CodeCoalescerError, Message: message, HTTPStatus: http.StatusInternalServerError, Err: err}
}

func Escalation(message string) *AppError {
	return &AppError{Code: CodeEscalation, Message: message, HTTPStatus: http.StatusInternalServerError}
}

// Is reports whether err is an *AppError with the given code.
func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// HTTPStatus returns the HTTP status for the error, defaulting to 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
