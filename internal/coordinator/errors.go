package coordinator

import "errors"

// ErrorKind classifies coordinator failures. Registration races are expected
// during app startup, so these come back as typed results the caller can
// branch on rather than faults.
type ErrorKind string

const (
	// KindAlreadyRegistered: RegisterModule was called twice for a live module.
	KindAlreadyRegistered ErrorKind = "already_registered"
	// KindTargetNotRegistered: the request target is not an active module.
	KindTargetNotRegistered ErrorKind = "target_not_registered"
	// KindRequestTimeout: no reply arrived before the timeout elapsed.
	KindRequestTimeout ErrorKind = "request_timeout"
	// KindCancelled: the request was abandoned, either because the caller's
	// context ended or the requesting module deregistered mid-flight.
	KindCancelled ErrorKind = "cancelled"
)

// Error is a structured coordinator error.
type Error struct {
	Kind    ErrorKind
	Module  string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsKind reports whether err is a coordinator error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var cerr *Error
	return errors.As(err, &cerr) && cerr.Kind == kind
}
