package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"

	"userdesk/client/internal/authclient"
	"userdesk/client/internal/session"
	userdomain "userdesk/client/internal/user/domain"
)

// stubAuth counts calls and answers with the configured funcs (Rejected when unset).
type stubAuth struct {
	login   func(authclient.Credentials) authclient.LoginOutcome
	verify  func(int64, string) authclient.VerifyOutcome
	request func(string) authclient.RequestOutcome

	loginCalls   int32
	verifyCalls  int32
	requestCalls int32
}

func (s *stubAuth) Login(_ context.Context, c authclient.Credentials) authclient.LoginOutcome {
	atomic.AddInt32(&s.loginCalls, 1)
	if s.login == nil {
		return authclient.Rejected{Message: authclient.MsgLoginFailed}
	}
	return s.login(c)
}

func (s *stubAuth) VerifyOTP(_ context.Context, userID int64, code string) authclient.VerifyOutcome {
	atomic.AddInt32(&s.verifyCalls, 1)
	if s.verify == nil {
		return authclient.Rejected{Message: authclient.MsgInvalidOTP}
	}
	return s.verify(userID, code)
}

func (s *stubAuth) RequestOTP(_ context.Context, email string) authclient.RequestOutcome {
	atomic.AddInt32(&s.requestCalls, 1)
	if s.request == nil {
		return authclient.Rejected{Message: authclient.MsgResendFailed}
	}
	return s.request(email)
}

func awaitOTP(t *testing.T, m *session.Machine) {
	t.Helper()
	if _, err := m.Apply(session.LoginResult{Outcome: authclient.ChallengeIssued{Email: "a@b.com", UserID: 42}}); err != nil {
		t.Fatalf("login: %v", err)
	}
}

func signIn(t *testing.T, m *session.Machine) {
	t.Helper()
	awaitOTP(t, m)
	if _, err := m.Apply(session.VerifyResult{Outcome: authclient.Verified{User: userdomain.AuthenticatedUser{ID: 42, Name: "Ana", Email: "a@b.com"}}}); err != nil {
		t.Fatalf("verify: %v", err)
	}
}
