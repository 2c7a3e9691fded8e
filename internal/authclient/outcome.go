package authclient

import (
	userdomain "userdesk/client/internal/user/domain"
)

// Credentials are the first-factor login inputs. Never persisted or logged.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginOutcome is one of ChallengeIssued, Rejected or TransportError.
type LoginOutcome interface{ loginOutcome() }

// VerifyOutcome is one of Verified, Rejected or TransportError.
type VerifyOutcome interface{ verifyOutcome() }

// RequestOutcome is one of Sent, Rejected or TransportError.
type RequestOutcome interface{ requestOutcome() }

// ChallengeIssued means the credentials were accepted and an OTP must be verified.
type ChallengeIssued struct {
	Email  string
	UserID int64
	// Suspect is set when UserID is the configured placeholder because the service omitted it.
	Suspect bool
}

// Verified carries the user returned by a successful OTP verification.
type Verified struct {
	User userdomain.AuthenticatedUser
}

// Sent means a new OTP was dispatched by the service.
type Sent struct {
	Message string
}

// Rejected means the service declined the request. Message is displayed verbatim.
type Rejected struct {
	Message string
}

// TransportError means no usable answer was obtained: network failure, unparsable body or protocol violation.
type TransportError struct {
	Message string // generic display message
	Err     error  // cause, for logs only
}

func (ChallengeIssued) loginOutcome() {}
func (Rejected) loginOutcome()        {}
func (TransportError) loginOutcome()  {}

func (Verified) verifyOutcome()       {}
func (Rejected) verifyOutcome()       {}
func (TransportError) verifyOutcome() {}

func (Sent) requestOutcome()           {}
func (Rejected) requestOutcome()       {}
func (TransportError) requestOutcome() {}

func (e TransportError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e TransportError) Unwrap() error { return e.Err }
