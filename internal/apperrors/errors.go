// Package apperrors holds the error taxonomy shared by handlers, the gateway
// and the worker, and renders it into the JSON error envelope.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation      Kind = "VALIDATION_ERROR"
	KindAuthentication  Kind = "AUTHENTICATION_ERROR"
	KindAuthorization   Kind = "AUTHORIZATION_ERROR"
	KindNotFound        Kind = "NOT_FOUND"
	KindConflict        Kind = "CONFLICT"
	KindRateLimit       Kind = "RATE_LIMIT_EXCEEDED"
	KindExternalService Kind = "EXTERNAL_SERVICE_ERROR"
	KindInternal        Kind = "INTERNAL_ERROR"
)

var statusByKind = map[Kind]int{
	KindValidation:      http.StatusBadRequest,
	KindAuthentication:  http.StatusUnauthorized,
	KindAuthorization:   http.StatusForbidden,
	KindNotFound:        http.StatusNotFound,
	KindConflict:        http.StatusConflict,
	KindRateLimit:       http.StatusTooManyRequests,
	KindExternalService: http.StatusBadGateway,
	KindInternal:        http.StatusInternalServerError,
}

// Error is an operational error with a stable code and HTTP status.
type Error struct {
	Kind    Kind
	Code    string // overrides Kind in the envelope, e.g. DOCUMENT_NOT_FOUND
	Message string
	Service string // set for KindExternalService
	Details any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status for the error kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// ErrorCode returns the envelope code.
func (e *Error) ErrorCode() string {
	if e.Code != "" {
		return e.Code
	}
	return string(e.Kind)
}

// WithCode returns a copy carrying a more specific envelope code.
func (e *Error) WithCode(code string) *Error {
	cp := *e
	cp.Code = code
	return &cp
}

// WithDetails returns a copy carrying details shown in development mode.
func (e *Error) WithDetails(details any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Authentication(msg string) *Error {
	if msg == "" {
		msg = "Authentication required"
	}
	return &Error{Kind: KindAuthentication, Message: msg}
}

func Authorization(msg string) *Error {
	if msg == "" {
		msg = "Insufficient permissions"
	}
	return &Error{Kind: KindAuthorization, Message: msg}
}

// NotFound builds "<resource> not found".
func NotFound(resource string) *Error {
	if resource == "" {
		resource = "Resource"
	}
	return &Error{Kind: KindNotFound, Message: resource + " not found"}
}

func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg}
}

func RateLimited(msg string) *Error {
	return &Error{Kind: KindRateLimit, Message: msg}
}

// ExternalService reports an upstream provider failure.
func ExternalService(service, msg string) *Error {
	return &Error{
		Kind:    KindExternalService,
		Service: service,
		Message: fmt.Sprintf("External service error (%s): %s", service, msg),
	}
}

// WrapExternal reports an upstream failure and keeps the cause for logs.
// A cause that already is an external service error is returned unchanged.
func WrapExternal(service string, cause error) *Error {
	var existing *Error
	if errors.As(cause, &existing) && existing.Kind == KindExternalService {
		return existing
	}
	e := ExternalService(service, cause.Error())
	e.cause = cause
	return e
}

func Internal(msg string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: msg, cause: cause}
}

// From classifies any error. Unknown errors become internal errors that
// keep the original as cause.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Message: "Internal server error", cause: err}
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
