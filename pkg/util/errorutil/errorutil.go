package errorutil

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes surfaced to API callers.
const (
	CodeValidation        = "VALIDATION_FAILED"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeTerminalState     = "TERMINAL_STATE"
	CodeForbidden         = "FORBIDDEN"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeTicketNotFound    = "TICKET_NOT_FOUND"
	CodePersonNotFound    = "PERSON_NOT_FOUND"
	CodeGroupNotFound     = "GROUP_NOT_FOUND"
	CodeNotFound          = "NOT_FOUND"
	CodeLockContended     = "LOCK_CONTENDED"
	CodeConflict          = "CONFLICT"
	CodeInternal          = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewTicketNotFound(ticketID int64) error {
	return NewDomainError(CodeTicketNotFound, "ticket not found", http.StatusNotFound,
		map[string]any{"ticket_id": ticketID})
}

func NewPersonNotFound(personID int64) error {
	return NewDomainError(CodePersonNotFound, "person not found", http.StatusNotFound,
		map[string]any{"person_id": personID})
}

func NewGroupNotFound(groupID int64) error {
	return NewDomainError(CodeGroupNotFound, "group not found", http.StatusNotFound,
		map[string]any{"group_id": groupID})
}

func NewInvalidTransition(from, to string) error {
	return NewDomainError(CodeInvalidTransition,
		fmt.Sprintf("cannot move ticket from %s to %s", from, to),
		http.StatusConflict,
		map[string]any{"current": from, "target": to})
}

func NewTerminalState(status string) error {
	return NewDomainError(CodeTerminalState,
		fmt.Sprintf("ticket is in terminal state %s", status),
		http.StatusConflict,
		map[string]any{"current": status})
}

// NewLockContended reports that a named lock could not be acquired in time.
func NewLockContended(name string, err error) error {
	return &DomainError{
		Code:       CodeLockContended,
		Message:    "resource is temporarily locked, try again",
		HTTPStatus: http.StatusLocked,
		Details:    map[string]any{"lock": name},
		Err:        err,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// MapError is ToDomainError for callers that return a plain error.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	return ToDomainError(err)
}

// CodeOf returns the stable code carried by err, or "" for nil.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	return ToDomainError(err).Code
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}
