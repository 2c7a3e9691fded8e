// Package autherr defines the error taxonomy shared by the auth client, session machine, gate and orchestrator.
//
// Every failure a user can observe is one of four kinds: Validation (bad local input, no network call),
// AuthRejected (remote service declined), Transport (network failure or unparsable response) and
// AuthorizationDenied (local gate refused a mutating action). Errors of this package carry the
// user-facing message and match the kind sentinels with errors.Is.
package autherr

import "errors"

// Kind classifies an error for presentation.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindAuthRejected        Kind = "auth_rejected"
	KindTransport           Kind = "transport"
	KindAuthorizationDenied Kind = "authorization_denied"
	KindIllegalTransition   Kind = "illegal_transition"
	KindInFlight            Kind = "in_flight"
)

// Sentinel errors, one per kind. Use errors.Is(err, ErrTransport) and friends.
var (
	ErrValidation          = errors.New("validation error")
	ErrAuthRejected        = errors.New("authentication rejected")
	ErrTransport           = errors.New("transport error")
	ErrAuthorizationDenied = errors.New("authorization denied")
	ErrIllegalTransition   = errors.New("illegal session transition")
	ErrInFlight            = errors.New("request already in flight")
)

// Error is a classified error with a message suitable for display.
type Error struct {
	Kind    Kind
	Message string
	Err     error // underlying cause; never shown to the user
}

// New returns an *Error of the given kind and display message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an *Error of the given kind that keeps cause for logging.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	return sentinel(e.Kind) == target
}

// DisplayMessage returns the user-facing message of err, or fallback when err carries none.
func DisplayMessage(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func sentinel(k Kind) error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindAuthRejected:
		return ErrAuthRejected
	case KindTransport:
		return ErrTransport
	case KindAuthorizationDenied:
		return ErrAuthorizationDenied
	case KindIllegalTransition:
		return ErrIllegalTransition
	case KindInFlight:
		return ErrInFlight
	}
	return nil
}
