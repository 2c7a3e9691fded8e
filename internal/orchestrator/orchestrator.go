// Package orchestrator drives the login, verify and resend calls through a loading/result/error
// lifecycle and feeds every outcome to the session machine.
//
// Each flow has its own in-flight flag, error and notice. A flow accepts one call at a time; a second
// submission while the first is in flight is refused with autherr.ErrInFlight. The in-flight flag is
// reset by a deferred call on every exit path. The lock is never held across a network call.
package orchestrator

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"userdesk/client/internal/authclient"
	"userdesk/client/internal/autherr"
	"userdesk/client/internal/directory"
	"userdesk/client/internal/otp"
	"userdesk/client/internal/session"
	sessiondomain "userdesk/client/internal/session/domain"
	"userdesk/client/internal/telemetry"
	telemetrydomain "userdesk/client/internal/telemetry/domain"
	userdomain "userdesk/client/internal/user/domain"
)

// Display strings owned by the orchestrator.
const (
	MsgCredentialsRequired = "Email et mot de passe requis"
	MsgOTPHint             = "Le code OTP expire dans 2 minutes. Délai de 30 secondes entre chaque demande."
)

// Flow names one orchestrated call.
type Flow string

const (
	FlowLogin  Flow = "login"
	FlowVerify Flow = "verify"
	FlowResend Flow = "resend"
)

// FlowState is the presentation state of one flow.
type FlowState struct {
	InFlight bool
	Error    string
	Notice   string
}

// AuthClient is the subset of *authclient.Client used here.
type AuthClient interface {
	Login(ctx context.Context, creds authclient.Credentials) authclient.LoginOutcome
	VerifyOTP(ctx context.Context, userID int64, code string) authclient.VerifyOutcome
	RequestOTP(ctx context.Context, email string) authclient.RequestOutcome
}

// UserLister loads the directory after a successful verification. Implemented by *directory.Client.
type UserLister interface {
	List(ctx context.Context) ([]userdomain.User, error)
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	auth    AuthClient
	machine *session.Machine
	users   UserLister
	records *directory.Records
	emitter telemetry.EventEmitter
	logger  *zap.Logger

	mu       sync.Mutex
	flows    map[Flow]*FlowState
	otpInput string
	// listErr is the last failure to reload records after sign-in; cleared on the next success.
	listErr string
}

// Deps groups the collaborators of an Orchestrator. Auth and Machine are required.
type Deps struct {
	Auth    AuthClient
	Machine *session.Machine
	Users   UserLister         // optional
	Records *directory.Records // optional; cleared whenever an authenticated session ends
	Emitter telemetry.EventEmitter
	Logger  *zap.Logger
}

// New returns an orchestrator over d. When d.Records is set it is subscribed to the machine.
func New(d Deps) *Orchestrator {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		auth:    d.Auth,
		machine: d.Machine,
		users:   d.Users,
		records: d.Records,
		emitter: d.Emitter,
		logger:  logger,
		flows: map[Flow]*FlowState{
			FlowLogin:  {},
			FlowVerify: {},
			FlowResend: {},
		},
	}
	if d.Records != nil {
		d.Machine.Subscribe(d.Records.ClearOnSignOut)
	}
	return o
}

// OpenLogin moves an anonymous session to the credentials form.
func (o *Orchestrator) OpenLogin() error {
	_, err := o.machine.Apply(session.OpenLogin{})
	return err
}

// SubmitCredentials sends creds to the login endpoint. On ChallengeIssued the session moves to
// AwaitingOTP and nil is returned. Otherwise the login flow error is set and returned.
func (o *Orchestrator) SubmitCredentials(ctx context.Context, creds authclient.Credentials) error {
	if p := o.machine.Phase(); p != sessiondomain.PhaseAnonymous && p != sessiondomain.PhaseAwaitingCredentials {
		return autherr.New(autherr.KindIllegalTransition, "action indisponible dans l'état "+p.String())
	}
	if strings.TrimSpace(creds.Email) == "" || creds.Password == "" {
		o.fail(FlowLogin, MsgCredentialsRequired)
		return autherr.New(autherr.KindValidation, MsgCredentialsRequired)
	}
	if err := o.begin(FlowLogin); err != nil {
		return err
	}
	var res result
	defer o.end(FlowLogin, &res)

	outcome := o.auth.Login(ctx, creds)
	next, err := o.machine.Apply(session.LoginResult{Outcome: outcome})
	if err != nil {
		res.err = autherr.DisplayMessage(err, authclient.MsgServerUnreachable)
		o.emit(telemetrydomain.EventLoginTransport, creds.Email, 0, res.err)
		return err
	}
	switch out := outcome.(type) {
	case authclient.ChallengeIssued:
		o.setOTPInput("")
		if out.Suspect {
			o.logger.Warn("orchestrator: challenge issued with placeholder user id",
				zap.Int64("user_id", out.UserID))
		}
		o.emit(telemetrydomain.EventChallengeIssued, next.Pending.Email, next.Pending.UserID, "")
		return nil
	case authclient.Rejected:
		res.err = out.Message
		o.emit(telemetrydomain.EventLoginRejected, creds.Email, 0, out.Message)
		return autherr.New(autherr.KindAuthRejected, out.Message)
	case authclient.TransportError:
		res.err = out.Message
		o.emit(telemetrydomain.EventLoginTransport, creds.Email, 0, out.Message)
		return autherr.Wrap(autherr.KindTransport, out.Message, out.Err)
	}
	res.err = authclient.MsgServerUnreachable
	return autherr.New(autherr.KindTransport, authclient.MsgServerUnreachable)
}

// SetOTPInput replaces the OTP field with the sanitized form of raw and returns what was kept.
func (o *Orchestrator) SetOTPInput(raw string) string {
	return o.setOTPInput(raw)
}

// OTPInput returns the current OTP field.
func (o *Orchestrator) OTPInput() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.otpInput
}

// CanSubmitOTP reports whether the OTP field holds a complete code and no verification is in flight.
func (o *Orchestrator) CanSubmitOTP() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return otp.Complete(o.otpInput) && !o.flows[FlowVerify].InFlight
}

// SubmitOTP verifies the OTP field against the pending challenge. An incomplete code is refused
// with a validation error and no request. On success the session becomes Authenticated and the
// user list is reloaded.
func (o *Orchestrator) SubmitOTP(ctx context.Context) error {
	s := o.machine.Current()
	if s.Phase != sessiondomain.PhaseAwaitingOTP || s.Pending == nil {
		return autherr.New(autherr.KindIllegalTransition, "action indisponible dans l'état "+s.Phase.String())
	}
	code, err := o.beginVerify()
	if err != nil {
		return err
	}
	var res result
	defer o.end(FlowVerify, &res)

	outcome := o.auth.VerifyOTP(ctx, s.Pending.UserID, code)
	next, err := o.machine.Apply(session.VerifyResult{Outcome: outcome})
	if err != nil {
		res.err = autherr.DisplayMessage(err, authclient.MsgServerUnreachable)
		return err
	}
	switch out := outcome.(type) {
	case authclient.Verified:
		o.setOTPInput("")
		o.clearFlow(FlowLogin)
		o.clearFlow(FlowResend)
		res.notice = "Bienvenue " + out.User.Name + " !"
		o.emit(telemetrydomain.EventVerified, next.User.Email, next.User.ID, "")
		o.reloadUsers(ctx)
		return nil
	case authclient.Rejected:
		res.err = out.Message
		o.emit(telemetrydomain.EventVerifyRejected, s.Pending.Email, s.Pending.UserID, out.Message)
		return autherr.New(autherr.KindAuthRejected, out.Message)
	case authclient.TransportError:
		res.err = out.Message
		o.emit(telemetrydomain.EventVerifyTransport, s.Pending.Email, s.Pending.UserID, out.Message)
		return autherr.Wrap(autherr.KindTransport, out.Message, out.Err)
	}
	res.err = authclient.MsgServerUnreachable
	return autherr.New(autherr.KindTransport, authclient.MsgServerUnreachable)
}

// ResendOTP asks the service to send a new code for the pending challenge. The service enforces
// its own throttling; a refusal is surfaced as the resend flow error.
func (o *Orchestrator) ResendOTP(ctx context.Context) error {
	s := o.machine.Current()
	if s.Phase != sessiondomain.PhaseAwaitingOTP || s.Pending == nil {
		return autherr.New(autherr.KindIllegalTransition, "action indisponible dans l'état "+s.Phase.String())
	}
	if err := o.begin(FlowResend); err != nil {
		return err
	}
	var res result
	defer o.end(FlowResend, &res)

	switch out := o.auth.RequestOTP(ctx, s.Pending.Email).(type) {
	case authclient.Sent:
		res.notice = out.Message
		o.emit(telemetrydomain.EventOTPResent, s.Pending.Email, s.Pending.UserID, "")
		return nil
	case authclient.Rejected:
		res.err = out.Message
		o.emit(telemetrydomain.EventResendRejected, s.Pending.Email, s.Pending.UserID, out.Message)
		return autherr.New(autherr.KindAuthRejected, out.Message)
	case authclient.TransportError:
		res.err = out.Message
		o.emit(telemetrydomain.EventResendTransport, s.Pending.Email, s.Pending.UserID, out.Message)
		return autherr.Wrap(autherr.KindTransport, out.Message, out.Err)
	}
	res.err = authclient.MsgServerUnreachable
	return autherr.New(autherr.KindTransport, authclient.MsgServerUnreachable)
}

// Cancel abandons the pending challenge or the credentials form and returns to Anonymous.
func (o *Orchestrator) Cancel() error {
	prev := o.machine.Current()
	if _, err := o.machine.Apply(session.Cancel{}); err != nil {
		return err
	}
	o.setOTPInput("")
	o.clearFlow(FlowVerify)
	o.clearFlow(FlowResend)
	var email string
	if prev.Pending != nil {
		email = prev.Pending.Email
	}
	o.emit(telemetrydomain.EventCancel, email, 0, prev.Phase.String())
	return nil
}

// Logout ends the session. Calling it without a session is a no-op.
func (o *Orchestrator) Logout() {
	prev := o.machine.Current()
	if _, err := o.machine.Apply(session.Logout{}); err != nil {
		o.logger.Error("orchestrator: logout refused", zap.Error(err))
		return
	}
	o.setOTPInput("")
	o.mu.Lock()
	for _, f := range o.flows {
		f.Error, f.Notice = "", ""
	}
	o.listErr = ""
	o.mu.Unlock()
	if prev.Phase == sessiondomain.PhaseAnonymous {
		return
	}
	var userID int64
	if prev.User != nil {
		userID = prev.User.ID
	}
	o.emit(telemetrydomain.EventLogout, "", userID, prev.Phase.String())
}

// ReloadUsers fetches the user list into the record store. Listing is not gated.
// A list that completes after the session ended is dropped so it cannot refill the cleared store.
func (o *Orchestrator) ReloadUsers(ctx context.Context) error {
	if o.users == nil || o.records == nil {
		return nil
	}
	trace := o.machine.TraceID()
	users, err := o.users.List(ctx)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.machine.TraceID() != trace {
		o.logger.Debug("orchestrator: discarding user list fetched before sign-out", zap.Error(err))
		return nil
	}
	if err != nil {
		o.listErr = autherr.DisplayMessage(err, authclient.MsgServerUnreachable)
		return err
	}
	o.listErr = ""
	o.records.Replace(users)
	// A sign-out that committed between the check and Replace may have cleared the store first.
	if o.machine.TraceID() != trace {
		o.records.Clear()
	}
	return nil
}

func (o *Orchestrator) reloadUsers(ctx context.Context) {
	if err := o.ReloadUsers(ctx); err != nil {
		o.logger.Warn("orchestrator: user list reload failed", zap.Error(err))
	}
}

// result is what a finished call leaves on its flow.
type result struct {
	err    string
	notice string
}

func (o *Orchestrator) begin(f Flow) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.flows[f]
	if st.InFlight {
		return autherr.New(autherr.KindInFlight, "requête en cours")
	}
	st.InFlight = true
	st.Error = ""
	st.Notice = ""
	return nil
}

// beginVerify is begin for the verify flow, with the OTP completeness check under the same lock.
func (o *Orchestrator) beginVerify() (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.flows[FlowVerify]
	if st.InFlight {
		return "", autherr.New(autherr.KindInFlight, "requête en cours")
	}
	if err := otp.Validate(o.otpInput); err != nil {
		st.Error = otp.MsgInvalidCode
		st.Notice = ""
		return "", err
	}
	st.InFlight = true
	st.Error = ""
	st.Notice = ""
	return o.otpInput, nil
}

func (o *Orchestrator) end(f Flow, res *result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.flows[f]
	st.InFlight = false
	st.Error = res.err
	st.Notice = res.notice
}

func (o *Orchestrator) fail(f Flow, msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st := o.flows[f]; !st.InFlight {
		st.Error = msg
		st.Notice = ""
	}
}

func (o *Orchestrator) clearFlow(f Flow) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.flows[f]
	st.Error = ""
	st.Notice = ""
}

func (o *Orchestrator) setOTPInput(raw string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.otpInput = otp.Sanitize(raw)
	return o.otpInput
}

func (o *Orchestrator) emit(t telemetrydomain.EventType, email string, userID int64, detail string) {
	telemetry.EmitAsync(o.emitter, o.logger, &telemetrydomain.Event{
		Type:      t,
		SessionID: o.machine.TraceID(),
		UserID:    userID,
		Email:     email,
		Phase:     o.machine.Phase().String(),
		Detail:    detail,
	})
}
