package orchestrator

import (
	"userdesk/client/internal/otp"
	sessiondomain "userdesk/client/internal/session/domain"
	userdomain "userdesk/client/internal/user/domain"
)

// View is a snapshot of everything a presentation layer renders.
type View struct {
	Phase sessiondomain.Phase
	// PendingEmail is the email of the challenge awaiting a code; empty outside AwaitingOTP.
	PendingEmail string
	// Suspect is set when the pending challenge carries a placeholder user id.
	Suspect bool
	User    *userdomain.AuthenticatedUser

	OTPInput     string
	CanSubmitOTP bool
	// Hint is the expiry and throttling notice shown while a code is awaited.
	Hint string

	Login  FlowState
	Verify FlowState
	Resend FlowState

	Users     []userdomain.User
	ListError string
}

// View returns a consistent snapshot of the session and every flow.
func (o *Orchestrator) View() View {
	s := o.machine.Current()
	v := View{Phase: s.Phase}
	if s.Pending != nil {
		v.PendingEmail = s.Pending.Email
		v.Suspect = s.Pending.Suspect
		v.Hint = MsgOTPHint
	}
	if s.User != nil {
		u := *s.User
		v.User = &u
	}
	if o.records != nil {
		v.Users = o.records.All()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	v.OTPInput = o.otpInput
	v.Login = *o.flows[FlowLogin]
	v.Verify = *o.flows[FlowVerify]
	v.Resend = *o.flows[FlowResend]
	v.CanSubmitOTP = otp.Complete(o.otpInput) && !v.Verify.InFlight
	v.ListError = o.listErr
	return v
}
