/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package errors provides a typed, structured error taxonomy shared by every
// pipeline stage. It replaces ad-hoc error strings with a single AppError
// type carrying a classification, an HTTP-equivalent status, and optional
// details, so stage runners can make retry/fallback decisions by switching
// on Type rather than parsing messages.
package errors

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorType classifies an error for retry, fallback, and reporting decisions.
type ErrorType string

const (
	// ErrorTypeValidation covers malformed requests or inputs.
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeDatabase covers the store gateway and idempotency ledger.
	ErrorTypeDatabase ErrorType = "database"
	// ErrorTypeNetwork covers transport-level failures to any external collaborator.
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeAuth covers credential/authentication failures talking to collaborators.
	ErrorTypeAuth ErrorType = "auth"
	ErrorTypeNotFound ErrorType = "not_found"
	ErrorTypeConflict ErrorType = "conflict"
	ErrorTypeInternal ErrorType = "internal"
	ErrorTypeTimeout  ErrorType = "timeout"
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeTransient covers retryable infrastructure failures: timeouts,
	// throttling, transient I/O, 5xx from adapters. Spec §7.
	ErrorTypeTransient ErrorType = "transient"
	// ErrorTypeInvalidInput covers missing keys or malformed schema on the way in.
	ErrorTypeInvalidInput ErrorType = "invalid_input"
	// ErrorTypeInvalidContent covers moderation/card-type rejection of an image.
	ErrorTypeInvalidContent ErrorType = "invalid_content"
	// ErrorTypeSchemaViolation covers an LLM response that fails schema validation.
	ErrorTypeSchemaViolation ErrorType = "schema_violation"
	// ErrorTypeDeadlineExceeded covers a per-stage or per-execution deadline breach.
	ErrorTypeDeadlineExceeded ErrorType = "deadline_exceeded"
	// ErrorTypePermissionDenied covers cross-tenant access attempts.
	ErrorTypePermissionDenied ErrorType = "permission_denied"
)

// statusCodes maps each ErrorType to its HTTP-equivalent status, used for
// logging/telemetry and for the Event Trigger's HTTP problem responses.
var statusCodes = map[ErrorType]int{
	ErrorTypeValidation:       http.StatusBadRequest,
	ErrorTypeDatabase:         http.StatusInternalServerError,
	ErrorTypeNetwork:          http.StatusInternalServerError,
	ErrorTypeAuth:             http.StatusUnauthorized,
	ErrorTypeNotFound:         http.StatusNotFound,
	ErrorTypeConflict:         http.StatusConflict,
	ErrorTypeInternal:         http.StatusInternalServerError,
	ErrorTypeTimeout:          http.StatusRequestTimeout,
	ErrorTypeRateLimit:        http.StatusTooManyRequests,
	ErrorTypeTransient:        http.StatusServiceUnavailable,
	ErrorTypeInvalidInput:     http.StatusBadRequest,
	ErrorTypeInvalidContent:   http.StatusUnprocessableEntity,
	ErrorTypeSchemaViolation:  http.StatusUnprocessableEntity,
	ErrorTypeDeadlineExceeded: http.StatusGatewayTimeout,
	ErrorTypePermissionDenied: http.StatusForbidden,
}

// AppError is the structured error type returned by every pipeline stage.
type AppError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Details    string
	Cause      error
}

func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Details != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Details)
	}
	return msg
}

// Unwrap allows errors.Is/errors.As to reach the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates an AppError of the given type with no underlying cause.
func New(t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodeFor(t),
	}
}

// Newf creates an AppError with a formatted message.
func Newf(t ErrorType, format string, args ...interface{}) *AppError {
	return New(t, fmt.Sprintf(format, args...))
}

// Wrap creates an AppError wrapping an existing error.
func Wrap(cause error, t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodeFor(t),
		Cause:      cause,
	}
}

// Wrapf creates an AppError wrapping an existing error with a formatted message.
func Wrapf(cause error, t ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

// WithDetails mutates and returns err with Details set, for chained construction.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf mutates and returns err with a formatted Details string.
func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

func statusCodeFor(t ErrorType) int {
	if code, ok := statusCodes[t]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// Predefined constructors for the most common stage failures.

func NewValidationError(message string) *AppError { return New(ErrorTypeValidation, message) }

func NewDatabaseError(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeDatabase, "database operation failed: %s", operation)
}

func NewNotFoundError(resource string) *AppError {
	return Newf(ErrorTypeNotFound, "%s not found", resource)
}

func NewAuthError(message string) *AppError { return New(ErrorTypeAuth, message) }

func NewTimeoutError(operation string) *AppError {
	return Newf(ErrorTypeTimeout, "operation timed out: %s", operation)
}

func NewInvalidContentError(reason string) *AppError {
	return New(ErrorTypeInvalidContent, reason)
}

func NewPermissionDeniedError(message string) *AppError {
	return New(ErrorTypePermissionDenied, message)
}

func NewSchemaViolationError(message string) *AppError {
	return New(ErrorTypeSchemaViolation, message)
}

// IsType reports whether err is an *AppError of type t.
func IsType(err error, t ErrorType) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Type == t
}

// GetType returns the ErrorType of err, or ErrorTypeInternal for non-AppErrors.
func GetType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the HTTP-equivalent status code for err.
func GetStatusCode(err error) int {
	if appErr, ok := err.(*AppError); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable reports whether err belongs to one of the transient categories
// retried by stage policies (spec.md §4.1, §7): Transient, Timeout,
// RateLimit, DeadlineExceeded, Network. Validation/Auth/NotFound/InvalidContent/
// SchemaViolation/PermissionDenied are never retried.
func IsRetryable(err error) bool {
	switch GetType(err) {
	case ErrorTypeTransient, ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeDeadlineExceeded, ErrorTypeNetwork:
		return true
	default:
		return false
	}
}

// ErrorMessages holds the safe, user-facing strings for error types whose
// underlying details must never leak (credentials, infra internals).
var ErrorMessages = struct {
	ResourceNotFound       string
	AuthenticationFailed   string
	OperationTimeout       string
	RateLimitExceeded      string
	ConcurrentModification string
}{
	ResourceNotFound:       "The requested resource was not found",
	AuthenticationFailed:   "Authentication failed",
	OperationTimeout:       "The operation timed out",
	RateLimitExceeded:      "Rate limit exceeded, please retry later",
	ConcurrentModification: "The resource was modified concurrently",
}

// SafeErrorMessage returns a message safe to surface to a caller or
// dead-letter record without leaking internal details.
func SafeErrorMessage(err error) string {
	appErr, ok := err.(*AppError)
	if !ok {
		return "An unexpected error occurred"
	}
	switch appErr.Type {
	case ErrorTypeValidation:
		return appErr.Message
	case ErrorTypeNotFound:
		return ErrorMessages.ResourceNotFound
	case ErrorTypeAuth, ErrorTypePermissionDenied:
		return ErrorMessages.AuthenticationFailed
	case ErrorTypeTimeout, ErrorTypeDeadlineExceeded:
		return ErrorMessages.OperationTimeout
	case ErrorTypeRateLimit:
		return ErrorMessages.RateLimitExceeded
	case ErrorTypeConflict:
		return ErrorMessages.ConcurrentModification
	default:
		return "An internal error occurred"
	}
}

// LogFields returns a structured field set for logrus, keyed so every stage
// logs errors consistently.
func LogFields(err error) map[string]interface{} {
	fields := map[string]interface{}{"error": err.Error()}
	appErr, ok := err.(*AppError)
	if !ok {
		return fields
	}
	fields["error_type"] = string(appErr.Type)
	fields["status_code"] = appErr.StatusCode
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	return fields
}

// Chain joins multiple non-nil errors into one, in the style of the
// teacher's multi-error helper. Returns nil if every error is nil, and the
// single error unwrapped if only one is non-nil.
func Chain(errs ...error) error {
	var nonNil []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		msgs := make([]string, len(nonNil))
		for i, e := range nonNil {
			msgs[i] = e.Error()
		}
		return fmt.Errorf("%s", strings.Join(msgs, " -> "))
	}
}
