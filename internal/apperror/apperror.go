// Package apperror defines the error kinds surfaced by booking operations
// and their mapping to HTTP status codes.
package apperror

import (
	"errors"
	"net/http"
)

// Kind classifies an application error.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthorization  Kind = "authorization"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindInfrastructure Kind = "infrastructure"
)

// Messages shared by several operations.
const (
	MsgNotAuthorized       = "Not authorized"
	MsgBookingNotFound     = "Booking not found"
	MsgEscalationNotFound  = "Escalation not found"
	MsgInternal            = "Something went wrong"
	MsgStudentsCancelOnly  = "Students can only cancel bookings"
	MsgInstructorBusy      = "Instructor is not available at this time"
	MsgStudentBusy         = "You already have a booking at this time"
	MsgInstructorReassign  = "Instructor is already booked at this time"
	MsgStartBeforeEnd      = "Start time must be before end time"
	MsgCannotBookInThePast = "Cannot book in the past"
)

// Error is an application error with a user-visible message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error kind to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the message safe to return to clients.
func (e *Error) PublicMessage() string {
	if e.Kind == KindInfrastructure {
		return MsgInternal
	}
	return e.Message
}

func Validation(msg string) *Error    { return &Error{Kind: KindValidation, Message: msg} }
func Authorization(msg string) *Error { return &Error{Kind: KindAuthorization, Message: msg} }
func NotFound(msg string) *Error      { return &Error{Kind: KindNotFound, Message: msg} }
func Conflict(msg string) *Error      { return &Error{Kind: KindConflict, Message: msg} }

// Infra wraps a storage or transport failure.
func Infra(msg string, err error) *Error {
	return &Error{Kind: KindInfrastructure, Message: msg, Err: err}
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err; unknown errors are infrastructure failures.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInfrastructure
}

// Is reports whether err is an application error of the given kind.
func Is(err error, kind Kind) bool {
	appErr, ok := As(err)
	return ok && appErr.Kind == kind
}
