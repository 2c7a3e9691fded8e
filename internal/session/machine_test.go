package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"userdesk/client/internal/authclient"
	"userdesk/client/internal/autherr"
	"userdesk/client/internal/session/domain"
	userdomain "userdesk/client/internal/user/domain"
)

var ana = userdomain.AuthenticatedUser{ID: 42, Name: "Ana", Email: "a@b.com", Phone: "0600000000"}

func awaitingOTP() domain.Session {
	return domain.Session{Phase: domain.PhaseAwaitingOTP, Pending: &domain.Challenge{Email: "a@b.com", UserID: 42}}
}

func authenticated() domain.Session {
	u := ana
	return domain.Session{Phase: domain.PhaseAuthenticated, User: &u}
}

func TestTransition_LoginChallengeIssued(t *testing.T) {
	for _, from := range []domain.Session{domain.Anonymous(), {Phase: domain.PhaseAwaitingCredentials}} {
		next, err := Transition(from, LoginResult{Outcome: authclient.ChallengeIssued{Email: "a@b.com", UserID: 42}})
		require.NoError(t, err)
		assert.Equal(t, domain.PhaseAwaitingOTP, next.Phase)
		require.NotNil(t, next.Pending)
		assert.Equal(t, domain.Challenge{Email: "a@b.com", UserID: 42}, *next.Pending)
		assert.Nil(t, next.User)
	}
}

func TestTransition_LoginSuspectChallengeKeepsFlag(t *testing.T) {
	next, err := Transition(domain.Anonymous(), LoginResult{Outcome: authclient.ChallengeIssued{Email: "a@b.com", UserID: 1, Suspect: true}})
	require.NoError(t, err)
	require.NotNil(t, next.Pending)
	assert.True(t, next.Pending.Suspect)
}

func TestTransition_LoginChallengeWithoutUserIDRefused(t *testing.T) {
	next, err := Transition(domain.Anonymous(), LoginResult{Outcome: authclient.ChallengeIssued{Email: "a@b.com"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, autherr.ErrTransport))
	assert.Equal(t, domain.PhaseAnonymous, next.Phase)
	assert.Nil(t, next.Pending)
}

func TestTransition_LoginFailuresKeepPhase(t *testing.T) {
	outcomes := []authclient.LoginOutcome{
		authclient.Rejected{Message: "Identifiants invalides"},
		authclient.TransportError{Message: authclient.MsgServerUnreachable},
	}
	for _, o := range outcomes {
		next, err := Transition(domain.Anonymous(), LoginResult{Outcome: o})
		require.NoError(t, err)
		assert.Equal(t, domain.Anonymous(), next)
	}
}

func TestTransition_VerifySuccess(t *testing.T) {
	next, err := Transition(awaitingOTP(), VerifyResult{Outcome: authclient.Verified{User: ana}})
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseAuthenticated, next.Phase)
	assert.Nil(t, next.Pending)
	require.NotNil(t, next.User)
	assert.Equal(t, "Ana", next.User.Name)
}

func TestTransition_VerifyFailuresRetainChallenge(t *testing.T) {
	from := awaitingOTP()
	outcomes := []authclient.VerifyOutcome{
		authclient.Rejected{Message: "Code OTP invalide"},
		authclient.TransportError{Message: authclient.MsgServerUnreachable},
	}
	for _, o := range outcomes {
		next, err := Transition(from, VerifyResult{Outcome: o})
		require.NoError(t, err)
		assert.Equal(t, domain.PhaseAwaitingOTP, next.Phase)
		assert.Same(t, from.Pending, next.Pending)
	}
}

func TestTransition_Cancel(t *testing.T) {
	next, err := Transition(awaitingOTP(), Cancel{})
	require.NoError(t, err)
	assert.Equal(t, domain.Anonymous(), next)
}

func TestTransition_Logout(t *testing.T) {
	next, err := Transition(authenticated(), Logout{})
	require.NoError(t, err)
	assert.Equal(t, domain.Anonymous(), next)

	next, err = Transition(domain.Anonymous(), Logout{})
	require.NoError(t, err)
	assert.Equal(t, domain.Anonymous(), next)
}

func TestTransition_IllegalEvents(t *testing.T) {
	testCases := []struct {
		name string
		from domain.Session
		ev   Event
	}{
		{"verify while anonymous", domain.Anonymous(), VerifyResult{Outcome: authclient.Verified{User: ana}}},
		{"verify while authenticated", authenticated(), VerifyResult{Outcome: authclient.Verified{User: ana}}},
		{"login while awaiting otp", awaitingOTP(), LoginResult{Outcome: authclient.ChallengeIssued{Email: "x@y.z", UserID: 9}}},
		{"login while authenticated", authenticated(), LoginResult{Outcome: authclient.ChallengeIssued{Email: "x@y.z", UserID: 9}}},
		{"cancel while anonymous", domain.Anonymous(), Cancel{}},
		{"cancel while authenticated", authenticated(), Cancel{}},
		{"open login while authenticated", authenticated(), OpenLogin{}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			next, err := Transition(tc.from, tc.ev)
			require.Error(t, err)
			assert.True(t, errors.Is(err, autherr.ErrIllegalTransition))
			assert.Equal(t, tc.from, next)
		})
	}
}

func TestTransition_PreservesInvariants(t *testing.T) {
	states := []domain.Session{domain.Anonymous(), {Phase: domain.PhaseAwaitingCredentials}, awaitingOTP(), authenticated()}
	events := []Event{
		OpenLogin{},
		LoginResult{Outcome: authclient.ChallengeIssued{Email: "a@b.com", UserID: 42}},
		LoginResult{Outcome: authclient.Rejected{Message: "no"}},
		LoginResult{Outcome: authclient.TransportError{}},
		VerifyResult{Outcome: authclient.Verified{User: ana}},
		VerifyResult{Outcome: authclient.Rejected{Message: "no"}},
		VerifyResult{Outcome: authclient.TransportError{}},
		Cancel{},
		Logout{},
	}
	for _, s := range states {
		for _, ev := range events {
			next, _ := Transition(s, ev)
			assert.NoError(t, next.Validate(), "from %s with %T", s.Phase, ev)
			assert.Equal(t, next.Phase == domain.PhaseAwaitingOTP, next.Pending != nil)
			assert.Equal(t, next.Phase == domain.PhaseAuthenticated, next.User != nil)
		}
	}
}

func TestMachine_FullFlowNotifiesListeners(t *testing.T) {
	m := NewMachine(nil)
	assert.Equal(t, domain.PhaseAnonymous, m.Phase())
	firstTrace := m.TraceID()

	var seen []domain.Phase
	m.Subscribe(func(prev, next domain.Session) {
		seen = append(seen, next.Phase)
	})

	_, err := m.Apply(LoginResult{Outcome: authclient.ChallengeIssued{Email: "a@b.com", UserID: 42}})
	require.NoError(t, err)
	_, err = m.Apply(VerifyResult{Outcome: authclient.Rejected{Message: "Code OTP invalide"}})
	require.NoError(t, err)
	s, err := m.Apply(VerifyResult{Outcome: authclient.Verified{User: ana}})
	require.NoError(t, err)
	assert.True(t, s.Authenticated())

	_, err = m.Apply(Logout{})
	require.NoError(t, err)
	_, err = m.Apply(Logout{})
	require.NoError(t, err)

	assert.Equal(t, []domain.Phase{domain.PhaseAwaitingOTP, domain.PhaseAuthenticated, domain.PhaseAnonymous}, seen)
	assert.Equal(t, domain.Anonymous(), m.Current())
	assert.NotEqual(t, firstTrace, m.TraceID())
}

func TestMachine_RefusedEventDoesNotNotify(t *testing.T) {
	m := NewMachine(nil)
	called := false
	m.Subscribe(func(prev, next domain.Session) { called = true })

	_, err := m.Apply(Cancel{})
	require.Error(t, err)
	assert.False(t, called)
	assert.Equal(t, domain.PhaseAnonymous, m.Phase())
}
