// Package utils provides utility functions for the DisasterLink application.
package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// ErrorKind classifies an error independently of its HTTP status.
type ErrorKind string

const (
	KindBadRequest          ErrorKind = "bad_request"
	KindUnauthorized        ErrorKind = "unauthorized"
	KindValidation          ErrorKind = "validation"
	KindForbidden           ErrorKind = "forbidden"
	KindNotFound            ErrorKind = "not_found"
	KindConflict            ErrorKind = "conflict"
	KindInvalidState        ErrorKind = "invalid_state"
	KindInvalidTransition   ErrorKind = "invalid_transition"
	KindDependencyFailure   ErrorKind = "dependency_failure"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindInternal            ErrorKind = "internal"
)

// Common error types for reuse. Compare with errors.Is; matching is by kind.
var (
	ErrBadRequest          = newKindError(fiber.StatusBadRequest, KindBadRequest, "Invalid request")
	ErrUnauthorized        = newKindError(fiber.StatusUnauthorized, KindUnauthorized, "Unauthorized")
	ErrValidation          = newKindError(fiber.StatusUnprocessableEntity, KindValidation, "Validation failed")
	ErrForbidden           = newKindError(fiber.StatusForbidden, KindForbidden, "Forbidden")
	ErrNotFound            = newKindError(fiber.StatusNotFound, KindNotFound, "Resource not found")
	ErrConflict            = newKindError(fiber.StatusConflict, KindConflict, "Conflict")
	ErrInvalidState        = newKindError(fiber.StatusConflict, KindInvalidState, "Invalid state")
	ErrInvalidTransition   = newKindError(fiber.StatusConflict, KindInvalidTransition, "Invalid transition")
	ErrDependencyFailure   = newKindError(fiber.StatusBadGateway, KindDependencyFailure, "Dependency failure")
	ErrUpstreamUnavailable = newKindError(fiber.StatusServiceUnavailable, KindUpstreamUnavailable, "Upstream unavailable")
	ErrInternalServerError = newKindError(fiber.StatusInternalServerError, KindInternal, "Internal server error")
)

// CustomError represents a structured error for the web app.
type CustomError struct {
	Code    int       `json:"code"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Errors  []CError  `json:"errors,omitempty"`
}

func newKindError(code int, kind ErrorKind, message string) *CustomError {
	return &CustomError{Code: code, Kind: kind, Message: message}
}

// NewError creates a new Error with a status code, message, and optional details.
func NewError(code int, message string, details ...string) *CustomError {
	e := &CustomError{
		Code:    code,
		Kind:    kindForCode(code),
		Message: message,
	}
	if len(details) > 0 {
		e.Details = details[0]
	}
	return e
}

func kindForCode(code int) ErrorKind {
	switch code {
	case fiber.StatusBadRequest:
		return KindBadRequest
	case fiber.StatusUnauthorized:
		return KindUnauthorized
	case fiber.StatusUnprocessableEntity:
		return KindValidation
	case fiber.StatusForbidden:
		return KindForbidden
	case fiber.StatusNotFound:
		return KindNotFound
	case fiber.StatusConflict:
		return KindConflict
	case fiber.StatusBadGateway:
		return KindDependencyFailure
	case fiber.StatusServiceUnavailable:
		return KindUpstreamUnavailable
	default:
		return KindInternal
	}
}

// Error implements the error interface.
func (e *CustomError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("status %d: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}

// Is reports whether target has the same kind, so errors.Is(err, ErrForbidden) works on any forbidden error.
func (e *CustomError) Is(target error) bool {
	t, ok := target.(*CustomError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithCause attaches underlying details to a copy of the error.
func (e *CustomError) WithCause(err error) *CustomError {
	c := *e
	if err != nil {
		c.Details = err.Error()
	}
	return &c
}

// Field returns the violation recorded for field, if any.
func (e *CustomError) Field(field string) (CError, bool) {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return fe, true
		}
	}
	return CError{}, false
}

// WrapError wraps an existing error with a custom status and message.
func WrapError(err error, code int, message string) *CustomError {
	if err == nil {
		return NewError(code, message)
	}
	return NewError(code, message, err.Error())
}

// Forbidden builds an actor/ownership mismatch error.
func Forbidden(message string) *CustomError {
	return newKindError(fiber.StatusForbidden, KindForbidden, message)
}

// NotFound builds a missing-entity error.
func NotFound(message string) *CustomError {
	return newKindError(fiber.StatusNotFound, KindNotFound, message)
}

// Conflict builds a write-conflict error.
func Conflict(message string) *CustomError {
	return newKindError(fiber.StatusConflict, KindConflict, message)
}

// InvalidState names the current state and the action that is not allowed in it.
func InvalidState(current, action string) *CustomError {
	e := newKindError(fiber.StatusConflict, KindInvalidState, fmt.Sprintf("cannot %s while status is %q", action, current))
	e.Details = current
	return e
}

// InvalidTransition names both ends of an undefined state change.
func InvalidTransition(from, to string) *CustomError {
	e := newKindError(fiber.StatusConflict, KindInvalidTransition, fmt.Sprintf("transition %q -> %q is not allowed", from, to))
	e.Details = from
	return e
}

// DependencyFailure wraps a storage or notification failure.
func DependencyFailure(dependency string, err error) *CustomError {
	e := newKindError(fiber.StatusBadGateway, KindDependencyFailure, dependency+" failed")
	if err != nil {
		e.Details = err.Error()
	}
	return e
}

// UpstreamUnavailable wraps an optional upstream service failure.
func UpstreamUnavailable(service string, err error) *CustomError {
	e := newKindError(fiber.StatusServiceUnavailable, KindUpstreamUnavailable, service+" unavailable")
	if err != nil {
		e.Details = err.Error()
	}
	return e
}

// ValidationFailed builds a validation error that carries every violated field.
func ValidationFailed(violations []CError) *CustomError {
	e := newKindError(fiber.StatusUnprocessableEntity, KindValidation, "Validation failed")
	e.Errors = violations
	msgs := make([]string, 0, len(violations))
	for _, v := range violations {
		msgs = append(msgs, v.Msg)
	}
	e.Details = strings.Join(msgs, "; ")
	return e
}

// HandleError sends a standardized error response using GoFiber.
func HandleError(c *fiber.Ctx, err error) error {
	var appErr *CustomError

	if As(err, &appErr) {
		body := fiber.Map{
			"code":    appErr.Code,
			"kind":    appErr.Kind,
			"message": appErr.Message,
		}
		if appErr.Code < 500 {
			body["details"] = appErr.Details
		}
		if len(appErr.Errors) > 0 {
			body["errors"] = appErr.Errors
		}
		return c.Status(appErr.Code).JSON(fiber.Map{"error": body})
	}

	// Fallback for unhandled errors
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    fiber.StatusInternalServerError,
			"kind":    KindInternal,
			"message": "Something went wrong",
		},
	})
}

// As unwraps err into a *CustomError.
func As(err error, target **CustomError) bool {
	if err == nil {
		return false
	}
	return errors.As(err, target)
}
