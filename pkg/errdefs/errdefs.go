// Package errdefs defines the error kinds shared by the control plane core.
//
// Core packages return plain error values that carry a Kind; HTTP handlers
// convert them to responses exactly once, with HTTPStatus.
package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and for the HTTP boundary
type Kind string

const (
	KindInternal             Kind = "internal"
	KindConfiguration        Kind = "configuration"
	KindDaemonUnreachable    Kind = "daemon_unreachable"
	KindDaemonRPC            Kind = "daemon_rpc"
	KindForbidden            Kind = "forbidden"
	KindNotFound             Kind = "not_found"
	KindInvalidState         Kind = "invalid_state"
	KindInvalidArgument      Kind = "invalid_argument"
	KindInsufficientCapacity Kind = "insufficient_capacity"
	KindAllocationConflict   Kind = "allocation_conflict"
)

// Error is an error tagged with a Kind
type Error struct {
	Kind    Kind
	Message string
	// Status is the HTTP status returned by the daemon for KindDaemonRPC
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, errdefs.ErrNotFound) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons
var (
	ErrConfiguration        = &Error{Kind: KindConfiguration}
	ErrDaemonUnreachable    = &Error{Kind: KindDaemonUnreachable}
	ErrDaemonRPC            = &Error{Kind: KindDaemonRPC}
	ErrForbidden            = &Error{Kind: KindForbidden}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrInvalidState         = &Error{Kind: KindInvalidState}
	ErrInvalidArgument      = &Error{Kind: KindInvalidArgument}
	ErrInsufficientCapacity = &Error{Kind: KindInsufficientCapacity}
	ErrAllocationConflict   = &Error{Kind: KindAllocationConflict}
)

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Configuration(format string, args ...interface{}) error {
	return newf(KindConfiguration, format, args...)
}

func NotFound(format string, args ...interface{}) error {
	return newf(KindNotFound, format, args...)
}

func Forbidden(format string, args ...interface{}) error {
	return newf(KindForbidden, format, args...)
}

func InvalidState(format string, args ...interface{}) error {
	return newf(KindInvalidState, format, args...)
}

func InvalidArgument(format string, args ...interface{}) error {
	return newf(KindInvalidArgument, format, args...)
}

func InsufficientCapacity(format string, args ...interface{}) error {
	return newf(KindInsufficientCapacity, format, args...)
}

func AllocationConflict(format string, args ...interface{}) error {
	return newf(KindAllocationConflict, format, args...)
}

// DaemonUnreachable wraps a transport failure talking to a daemon
func DaemonUnreachable(endpoint string, err error) error {
	return &Error{
		Kind:    KindDaemonUnreachable,
		Message: fmt.Sprintf("daemon unreachable at %s", endpoint),
		Err:     err,
	}
}

// DaemonRPC records a non-2xx response from a daemon
func DaemonRPC(status int, message string) error {
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{
		Kind:    KindDaemonRPC,
		Message: fmt.Sprintf("daemon returned HTTP %d: %s", status, message),
		Status:  status,
	}
}

// KindOf returns the kind of err, or KindInternal if it carries none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsDaemonFailure reports whether err came from talking to a daemon
func IsDaemonFailure(err error) bool {
	k := KindOf(err)
	return k == KindDaemonUnreachable || k == KindDaemonRPC
}

// HTTPStatus maps an error to the status code returned to API callers
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindConfiguration:
		return http.StatusInternalServerError
	case KindDaemonUnreachable:
		return http.StatusBadGateway
	case KindDaemonRPC:
		return http.StatusBadGateway
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState, KindAllocationConflict, KindInsufficientCapacity:
		return http.StatusConflict
	case KindInvalidArgument:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// PublicMessage summarizes err for an API response without leaking daemon
// payloads or internal details
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal server error"
	}
	switch e.Kind {
	case KindDaemonRPC:
		return fmt.Sprintf("daemon returned an error (HTTP %d)", e.Status)
	case KindDaemonUnreachable:
		return "daemon could not be reached"
	case KindConfiguration:
		return "server misconfigured"
	case KindForbidden:
		return "forbidden"
	case KindInternal:
		return "internal server error"
	}
	return e.Message
}
