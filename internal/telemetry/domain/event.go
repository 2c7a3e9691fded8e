package domain

import "time"

// EventType names an authentication or gate event.
type EventType string

const (
	EventChallengeIssued EventType = "challenge_issued"
	EventLoginRejected   EventType = "login_rejected"
	EventLoginTransport  EventType = "login_transport_error"
	EventVerified        EventType = "verified"
	EventVerifyRejected  EventType = "verify_rejected"
	EventVerifyTransport EventType = "verify_transport_error"
	EventOTPResent       EventType = "otp_resent"
	EventResendRejected  EventType = "resend_rejected"
	EventResendTransport EventType = "resend_transport_error"
	EventCancel          EventType = "cancel"
	EventLogout          EventType = "logout"
	EventGateDenied      EventType = "gate_denied"
)

// Event is a client-side auth event (session-scoped, optional user/challenge data).
type Event struct {
	Type      EventType
	SessionID string // local trace id of the session, not a server session
	UserID    int64  // 0 if not known
	Email     string
	Phase     string // phase after the event
	Detail    string // rejection message or gated action
	CreatedAt time.Time
}
