package domain

import (
	"errors"

	userdomain "userdesk/client/internal/user/domain"
)

// Phase is the discrete state of the authentication session.
type Phase string

const (
	PhaseAnonymous           Phase = "anonymous"
	PhaseAwaitingCredentials Phase = "awaiting_credentials"
	PhaseAwaitingOTP         Phase = "awaiting_otp"
	PhaseAuthenticated       Phase = "authenticated"
)

func (p Phase) String() string { return string(p) }

// Challenge is the pending OTP verification context issued after a successful first-factor login.
type Challenge struct {
	Email  string
	UserID int64
	// Suspect is true when UserID is a configured placeholder rather than an id returned by the service.
	Suspect bool
}

// Session is an immutable snapshot of the authentication state.
// Pending is set iff Phase is PhaseAwaitingOTP; User is set iff Phase is PhaseAuthenticated.
type Session struct {
	Phase   Phase
	Pending *Challenge
	User    *userdomain.AuthenticatedUser
}

// Anonymous returns the initial session.
func Anonymous() Session {
	return Session{Phase: PhaseAnonymous}
}

// Authenticated reports whether the session has a verified user.
func (s Session) Authenticated() bool {
	return s.Phase == PhaseAuthenticated && s.User != nil
}

// Validate checks the phase/side-data invariants. Returns an error describing the first violation.
func (s Session) Validate() error {
	switch s.Phase {
	case PhaseAnonymous, PhaseAwaitingCredentials:
		if s.Pending != nil || s.User != nil {
			return errors.New("session: no side data allowed before a challenge")
		}
	case PhaseAwaitingOTP:
		if s.Pending == nil || s.User != nil {
			return errors.New("session: awaiting otp requires a challenge and no user")
		}
		if s.Pending.UserID <= 0 {
			return errors.New("session: challenge user id must be positive")
		}
	case PhaseAuthenticated:
		if s.User == nil || s.Pending != nil {
			return errors.New("session: authenticated requires a user and no challenge")
		}
	default:
		return errors.New("session: unknown phase")
	}
	return nil
}
