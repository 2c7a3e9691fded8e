// Package session holds the authentication phase and its challenge data.
//
// All changes go through Transition, a pure reducer over (Session, Event). Machine stores the current
// snapshot, applies events under a lock and notifies subscribers; nothing else writes the session.
package session

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"userdesk/client/internal/authclient"
	"userdesk/client/internal/autherr"
	"userdesk/client/internal/session/domain"
)

// Event is an input to the state machine.
type Event interface{ event() }

// OpenLogin is the user opening the credentials form.
type OpenLogin struct{}

// LoginResult feeds the outcome of a credentials submission.
type LoginResult struct {
	Outcome authclient.LoginOutcome
}

// VerifyResult feeds the outcome of an OTP verification.
type VerifyResult struct {
	Outcome authclient.VerifyOutcome
}

// Cancel abandons a pending challenge.
type Cancel struct{}

// Logout ends the session. Idempotent.
type Logout struct{}

func (OpenLogin) event()    {}
func (LoginResult) event()  {}
func (VerifyResult) event() {}
func (Cancel) event()       {}
func (Logout) event()       {}

// Transition returns the session that results from applying ev to s.
// Rejected and transport outcomes leave s unchanged and return nil; display of their messages is the
// caller's concern. Events that are not legal in s.Phase return s and an illegal-transition error.
func Transition(s domain.Session, ev Event) (domain.Session, error) {
	switch e := ev.(type) {
	case OpenLogin:
		switch s.Phase {
		case domain.PhaseAnonymous, domain.PhaseAwaitingCredentials:
			return domain.Session{Phase: domain.PhaseAwaitingCredentials}, nil
		}
	case LoginResult:
		if s.Phase != domain.PhaseAnonymous && s.Phase != domain.PhaseAwaitingCredentials {
			break
		}
		switch o := e.Outcome.(type) {
		case authclient.ChallengeIssued:
			if o.UserID <= 0 {
				return s, autherr.New(autherr.KindTransport, authclient.MsgServerUnreachable)
			}
			return domain.Session{
				Phase:   domain.PhaseAwaitingOTP,
				Pending: &domain.Challenge{Email: o.Email, UserID: o.UserID, Suspect: o.Suspect},
			}, nil
		case authclient.Rejected, authclient.TransportError:
			return s, nil
		}
	case VerifyResult:
		if s.Phase != domain.PhaseAwaitingOTP {
			break
		}
		switch o := e.Outcome.(type) {
		case authclient.Verified:
			u := o.User
			return domain.Session{Phase: domain.PhaseAuthenticated, User: &u}, nil
		case authclient.Rejected, authclient.TransportError:
			return s, nil
		}
	case Cancel:
		if s.Phase == domain.PhaseAwaitingOTP || s.Phase == domain.PhaseAwaitingCredentials {
			return domain.Anonymous(), nil
		}
	case Logout:
		return domain.Anonymous(), nil
	}
	return s, autherr.New(autherr.KindIllegalTransition, "action indisponible dans l'état "+s.Phase.String())
}

// Listener observes a committed change. prev and next differ in Phase or side data.
type Listener func(prev, next domain.Session)

// Machine holds the current session. Safe for concurrent use.
type Machine struct {
	mu        sync.RWMutex
	current   domain.Session
	traceID   string
	listeners []Listener
	logger    *zap.Logger
}

// NewMachine returns a machine in the Anonymous phase.
func NewMachine(logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		current: domain.Anonymous(),
		traceID: uuid.NewString(),
		logger:  logger,
	}
}

// Current returns the current snapshot. Pointers in it must be treated as read-only.
func (m *Machine) Current() domain.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Phase returns the current phase.
func (m *Machine) Phase() domain.Phase {
	return m.Current().Phase
}

// TraceID identifies this process's session in telemetry. It changes on every return to Anonymous.
func (m *Machine) TraceID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.traceID
}

// Subscribe registers l for every committed change. Listeners run synchronously after the lock is released.
func (m *Machine) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Apply runs Transition on the current session and commits the result.
func (m *Machine) Apply(ev Event) (domain.Session, error) {
	m.mu.Lock()
	prev := m.current
	next, err := Transition(prev, ev)
	if err != nil {
		m.mu.Unlock()
		m.logger.Debug("session: event refused", zap.String("phase", prev.Phase.String()), zap.Error(err))
		return prev, err
	}
	if verr := next.Validate(); verr != nil {
		m.mu.Unlock()
		m.logger.Error("session: invariant violated, change dropped", zap.Error(verr))
		return prev, autherr.Wrap(autherr.KindIllegalTransition, "état de session invalide", verr)
	}
	changed := !sameSession(prev, next)
	m.current = next
	if changed && next.Phase == domain.PhaseAnonymous {
		m.traceID = uuid.NewString()
	}
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	if changed {
		m.logger.Info("session: phase changed",
			zap.String("from", prev.Phase.String()),
			zap.String("to", next.Phase.String()))
		for _, l := range listeners {
			l(prev, next)
		}
	}
	return next, nil
}

func sameSession(a, b domain.Session) bool {
	return a.Phase == b.Phase && a.Pending == b.Pending && a.User == b.User
}
