package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"userdesk/client/internal/authclient"
	"userdesk/client/internal/autherr"
	"userdesk/client/internal/directory"
	"userdesk/client/internal/otp"
	"userdesk/client/internal/platform/rbac"
	"userdesk/client/internal/session"
	sessiondomain "userdesk/client/internal/session/domain"
	telemetrydomain "userdesk/client/internal/telemetry/domain"
	userdomain "userdesk/client/internal/user/domain"
)

type response struct {
	status int
	body   string
}

// backend is a fake directory service with one canned response per path.
type backend struct {
	server    *httptest.Server
	mu        sync.Mutex
	responses map[string]response
	hits      map[string]*int32
}

func newBackend(t *testing.T, responses map[string]response) *backend {
	t.Helper()
	b := &backend{responses: responses, hits: map[string]*int32{}}
	for p := range responses {
		b.hits[p] = new(int32)
	}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		resp, ok := b.responses[r.URL.Path]
		b.mu.Unlock()
		if !ok {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		atomic.AddInt32(b.hits[r.URL.Path], 1)
		w.WriteHeader(resp.status)
		w.Write([]byte(resp.body))
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *backend) set(path string, resp response) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responses[path] = resp
}

func (b *backend) count(path string) int32 {
	return atomic.LoadInt32(b.hits[path])
}

type fixture struct {
	orch    *Orchestrator
	machine *session.Machine
	records *directory.Records
	events  chan *telemetrydomain.Event
}

type chanEmitter chan *telemetrydomain.Event

func (c chanEmitter) Emit(_ context.Context, e *telemetrydomain.Event) error {
	c <- e
	return nil
}

func newFixture(t *testing.T, auth AuthClient, baseURL string) *fixture {
	t.Helper()
	m := session.NewMachine(nil)
	records := directory.NewRecords()
	events := make(chan *telemetrydomain.Event, 16)
	var users UserLister
	if baseURL != "" {
		users = directory.NewClient(baseURL+"/users", time.Second, rbac.NewGate(m, nil, nil, nil), nil)
	}
	o := New(Deps{
		Auth:    auth,
		Machine: m,
		Users:   users,
		Records: records,
		Emitter: chanEmitter(events),
	})
	return &fixture{orch: o, machine: m, records: records, events: events}
}

func httpFixture(t *testing.T, b *backend) *fixture {
	return newFixture(t, authclient.NewClient(b.server.URL+"/api/auth", time.Second, nil), b.server.URL)
}

func nextEvent(t *testing.T, events chan *telemetrydomain.Event) *telemetrydomain.Event {
	t.Helper()
	select {
	case e := <-events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no telemetry event emitted")
		return nil
	}
}

var creds = authclient.Credentials{Email: "a@b.com", Password: "x"}

func TestSubmitCredentials_ChallengeIssued(t *testing.T) {
	b := newBackend(t, map[string]response{
		"/api/auth/login": {http.StatusOK, `{"requiresOTP":true,"userId":42}`},
	})
	f := httpFixture(t, b)

	require.NoError(t, f.orch.SubmitCredentials(context.Background(), creds))

	s := f.machine.Current()
	assert.Equal(t, sessiondomain.PhaseAwaitingOTP, s.Phase)
	require.NotNil(t, s.Pending)
	assert.Equal(t, sessiondomain.Challenge{Email: "a@b.com", UserID: 42}, *s.Pending)

	v := f.orch.View()
	assert.False(t, v.Login.InFlight)
	assert.Empty(t, v.Login.Error)
	assert.Equal(t, "a@b.com", v.PendingEmail)
	assert.Equal(t, MsgOTPHint, v.Hint)

	e := nextEvent(t, f.events)
	assert.Equal(t, telemetrydomain.EventChallengeIssued, e.Type)
	assert.Equal(t, int64(42), e.UserID)
	assert.Equal(t, f.machine.TraceID(), e.SessionID)
}

func TestSubmitCredentials_UnparsableBody(t *testing.T) {
	b := newBackend(t, map[string]response{
		"/api/auth/login": {http.StatusOK, `<html>oops</html>`},
	})
	f := httpFixture(t, b)

	err := f.orch.SubmitCredentials(context.Background(), creds)
	require.ErrorIs(t, err, autherr.ErrTransport)
	assert.Equal(t, sessiondomain.PhaseAnonymous, f.machine.Phase())
	assert.Equal(t, authclient.MsgServerUnreachable, f.orch.View().Login.Error)
}

func TestSubmitCredentials_RejectedThenSuccessClearsError(t *testing.T) {
	b := newBackend(t, map[string]response{
		"/api/auth/login": {http.StatusUnauthorized, `{"message":"Identifiants invalides"}`},
	})
	f := httpFixture(t, b)

	err := f.orch.SubmitCredentials(context.Background(), creds)
	require.ErrorIs(t, err, autherr.ErrAuthRejected)
	assert.Equal(t, "Identifiants invalides", f.orch.View().Login.Error)
	assert.Equal(t, sessiondomain.PhaseAnonymous, f.machine.Phase())

	b.set("/api/auth/login", response{http.StatusOK, `{"requiresOTP":true,"userId":42}`})
	require.NoError(t, f.orch.SubmitCredentials(context.Background(), creds))
	assert.Empty(t, f.orch.View().Login.Error)
	assert.Equal(t, sessiondomain.PhaseAwaitingOTP, f.machine.Phase())
}

func TestSubmitCredentials_MissingFieldsNoNetwork(t *testing.T) {
	b := newBackend(t, map[string]response{
		"/api/auth/login": {http.StatusOK, `{"requiresOTP":true,"userId":42}`},
	})
	f := httpFixture(t, b)

	err := f.orch.SubmitCredentials(context.Background(), authclient.Credentials{Email: "a@b.com"})
	require.ErrorIs(t, err, autherr.ErrValidation)
	assert.Equal(t, MsgCredentialsRequired, f.orch.View().Login.Error)
	assert.Zero(t, b.count("/api/auth/login"))
}

func TestSubmitCredentials_NotFromAuthenticated(t *testing.T) {
	f := newFixture(t, &stubAuth{}, "")
	signIn(t, f.machine)
	err := f.orch.SubmitCredentials(context.Background(), creds)
	require.ErrorIs(t, err, autherr.ErrIllegalTransition)
}

func TestSubmitOTP_Verified(t *testing.T) {
	b := newBackend(t, map[string]response{
		"/api/auth/login":      {http.StatusOK, `{"requiresOTP":true,"userId":42}`},
		"/api/auth/verify-otp": {http.StatusOK, `{"user":{"id":42,"name":"Ana","email":"a@b.com","phone":"0600000000"}}`},
		"/users":               {http.StatusOK, `[{"id":42,"name":"Ana","email":"a@b.com","phone":"0600000000"}]`},
	})
	f := httpFixture(t, b)
	ctx := context.Background()

	require.NoError(t, f.orch.SubmitCredentials(ctx, creds))
	f.orch.SetOTPInput("123456")
	require.NoError(t, f.orch.SubmitOTP(ctx))

	s := f.machine.Current()
	assert.Equal(t, sessiondomain.PhaseAuthenticated, s.Phase)
	require.NotNil(t, s.User)
	assert.Equal(t, "Ana", s.User.Name)
	assert.Nil(t, s.Pending)

	v := f.orch.View()
	assert.Equal(t, "Bienvenue Ana !", v.Verify.Notice)
	assert.Empty(t, v.OTPInput)
	assert.Empty(t, v.Hint)
	require.Len(t, v.Users, 1)
	assert.Equal(t, int32(1), b.count("/users"))
}

func TestSubmitOTP_InvalidCodeKeepsChallenge(t *testing.T) {
	b := newBackend(t, map[string]response{
		"/api/auth/login":      {http.StatusOK, `{"requiresOTP":true,"userId":42}`},
		"/api/auth/verify-otp": {http.StatusBadRequest, `{"message":"Code OTP invalide"}`},
	})
	f := httpFixture(t, b)
	ctx := context.Background()

	require.NoError(t, f.orch.SubmitCredentials(ctx, creds))
	f.orch.SetOTPInput("123456")
	err := f.orch.SubmitOTP(ctx)
	require.ErrorIs(t, err, autherr.ErrAuthRejected)

	s := f.machine.Current()
	assert.Equal(t, sessiondomain.PhaseAwaitingOTP, s.Phase)
	require.NotNil(t, s.Pending)
	assert.Equal(t, int64(42), s.Pending.UserID)

	v := f.orch.View()
	assert.Equal(t, "Code OTP invalide", v.Verify.Error)
	assert.Equal(t, "123456", v.OTPInput)
	assert.True(t, v.CanSubmitOTP)
}

func TestSubmitOTP_TransportErrorKeepsChallenge(t *testing.T) {
	auth := &stubAuth{
		verify: func(int64, string) authclient.VerifyOutcome {
			return authclient.TransportError{Message: authclient.MsgServerUnreachable}
		},
	}
	f := newFixture(t, auth, "")
	awaitOTP(t, f.machine)
	f.orch.SetOTPInput("654321")

	err := f.orch.SubmitOTP(context.Background())
	require.ErrorIs(t, err, autherr.ErrTransport)
	assert.Equal(t, sessiondomain.PhaseAwaitingOTP, f.machine.Phase())
	assert.Equal(t, authclient.MsgServerUnreachable, f.orch.View().Verify.Error)
}

func TestSubmitOTP_IncompleteCodeNoNetwork(t *testing.T) {
	auth := &stubAuth{}
	f := newFixture(t, auth, "")
	awaitOTP(t, f.machine)

	f.orch.SetOTPInput("12a3")
	assert.False(t, f.orch.CanSubmitOTP())
	err := f.orch.SubmitOTP(context.Background())
	require.ErrorIs(t, err, autherr.ErrValidation)
	assert.Equal(t, otp.MsgInvalidCode, f.orch.View().Verify.Error)
	assert.Zero(t, atomic.LoadInt32(&auth.verifyCalls))
}

func TestSubmitOTP_OutsideChallenge(t *testing.T) {
	auth := &stubAuth{}
	f := newFixture(t, auth, "")
	f.orch.SetOTPInput("123456")
	require.ErrorIs(t, f.orch.SubmitOTP(context.Background()), autherr.ErrIllegalTransition)
	assert.Zero(t, atomic.LoadInt32(&auth.verifyCalls))
}

func TestSetOTPInput_Sanitizes(t *testing.T) {
	f := newFixture(t, &stubAuth{}, "")
	testCases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"", "", false},
		{"12", "12", false},
		{"12a-3 4", "1234", false},
		{"123456", "123456", true},
		{"1234567890", "123456", true},
		{"١٢٣456", "456", false},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, f.orch.SetOTPInput(tc.raw), "raw %q", tc.raw)
		assert.Equal(t, tc.want, f.orch.OTPInput())
		assert.Equal(t, tc.ok, f.orch.CanSubmitOTP(), "raw %q", tc.raw)
	}
}

func TestSubmitCredentials_InFlightSuppression(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	auth := &stubAuth{
		login: func(authclient.Credentials) authclient.LoginOutcome {
			close(started)
			<-release
			return authclient.Rejected{Message: "non"}
		},
	}
	f := newFixture(t, auth, "")

	done := make(chan error, 1)
	go func() { done <- f.orch.SubmitCredentials(context.Background(), creds) }()
	<-started

	assert.True(t, f.orch.View().Login.InFlight)
	err := f.orch.SubmitCredentials(context.Background(), creds)
	require.ErrorIs(t, err, autherr.ErrInFlight)
	assert.Equal(t, int32(1), atomic.LoadInt32(&auth.loginCalls))

	close(release)
	require.ErrorIs(t, <-done, autherr.ErrAuthRejected)
	v := f.orch.View()
	assert.False(t, v.Login.InFlight)
	assert.Equal(t, "non", v.Login.Error)
}

func TestSubmitOTP_InFlightDisablesSubmit(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	auth := &stubAuth{
		verify: func(int64, string) authclient.VerifyOutcome {
			close(started)
			<-release
			return authclient.Rejected{Message: authclient.MsgInvalidOTP}
		},
	}
	f := newFixture(t, auth, "")
	awaitOTP(t, f.machine)
	f.orch.SetOTPInput("123456")
	require.True(t, f.orch.CanSubmitOTP())

	done := make(chan error, 1)
	go func() { done <- f.orch.SubmitOTP(context.Background()) }()
	<-started

	assert.False(t, f.orch.CanSubmitOTP())
	assert.False(t, f.orch.View().CanSubmitOTP)
	require.ErrorIs(t, f.orch.SubmitOTP(context.Background()), autherr.ErrInFlight)

	close(release)
	<-done
	assert.True(t, f.orch.CanSubmitOTP())
	assert.Equal(t, int32(1), atomic.LoadInt32(&auth.verifyCalls))
}

func TestInFlightResetOnPanic(t *testing.T) {
	auth := &stubAuth{
		login: func(authclient.Credentials) authclient.LoginOutcome { panic("boom") },
	}
	f := newFixture(t, auth, "")
	assert.Panics(t, func() { _ = f.orch.SubmitCredentials(context.Background(), creds) })
	assert.False(t, f.orch.View().Login.InFlight)
}

func TestResendOTP(t *testing.T) {
	b := newBackend(t, map[string]response{
		"/api/auth/login":       {http.StatusOK, `{"requiresOTP":true,"userId":42,"email":"a@b.com"}`},
		"/api/auth/request-otp": {http.StatusOK, `{"status":"success"}`},
	})
	f := httpFixture(t, b)
	ctx := context.Background()
	require.NoError(t, f.orch.SubmitCredentials(ctx, creds))

	require.NoError(t, f.orch.ResendOTP(ctx))
	assert.Equal(t, authclient.MsgOTPSent, f.orch.View().Resend.Notice)

	b.set("/api/auth/request-otp", response{http.StatusTooManyRequests, `{"status":"error","message":"Veuillez attendre 30 secondes"}`})
	err := f.orch.ResendOTP(ctx)
	require.ErrorIs(t, err, autherr.ErrAuthRejected)
	v := f.orch.View()
	assert.Equal(t, "Veuillez attendre 30 secondes", v.Resend.Error)
	assert.Empty(t, v.Resend.Notice)
	assert.Equal(t, sessiondomain.PhaseAwaitingOTP, v.Phase)
}

func TestResendOTP_TransportError(t *testing.T) {
	auth := &stubAuth{request: func(string) authclient.RequestOutcome {
		return authclient.TransportError{Message: authclient.MsgServerUnreachable}
	}}
	f := newFixture(t, auth, "")
	awaitOTP(t, f.machine)

	require.ErrorIs(t, f.orch.ResendOTP(context.Background()), autherr.ErrTransport)
	e := nextEvent(t, f.events)
	assert.Equal(t, telemetrydomain.EventResendTransport, e.Type)
	assert.Equal(t, authclient.MsgServerUnreachable, f.orch.View().Resend.Error)
	assert.Equal(t, sessiondomain.PhaseAwaitingOTP, f.machine.Phase())
}

func TestResendOTP_OutsideChallenge(t *testing.T) {
	auth := &stubAuth{}
	f := newFixture(t, auth, "")
	require.ErrorIs(t, f.orch.ResendOTP(context.Background()), autherr.ErrIllegalTransition)
	assert.Zero(t, atomic.LoadInt32(&auth.requestCalls))
}

func TestCancel(t *testing.T) {
	f := newFixture(t, &stubAuth{}, "")
	awaitOTP(t, f.machine)
	f.orch.SetOTPInput("123")

	require.NoError(t, f.orch.Cancel())
	v := f.orch.View()
	assert.Equal(t, sessiondomain.PhaseAnonymous, v.Phase)
	assert.Empty(t, v.OTPInput)
	assert.Empty(t, v.PendingEmail)

	require.ErrorIs(t, f.orch.Cancel(), autherr.ErrIllegalTransition)
}

func TestLogout_Idempotent(t *testing.T) {
	f := newFixture(t, &stubAuth{}, "")
	traceID := f.machine.TraceID()

	f.orch.Logout()
	assert.Equal(t, sessiondomain.PhaseAnonymous, f.machine.Phase())
	assert.Equal(t, traceID, f.machine.TraceID())

	signIn(t, f.machine)
	f.records.Replace([]userdomain.User{{ID: 1, Name: "Ana"}})
	f.orch.Logout()
	v := f.orch.View()
	assert.Equal(t, sessiondomain.PhaseAnonymous, v.Phase)
	assert.Nil(t, v.User)
	assert.Empty(t, v.Users)
	assert.NotEqual(t, traceID, f.machine.TraceID())

	f.orch.Logout()
	assert.Equal(t, sessiondomain.PhaseAnonymous, f.machine.Phase())
}

func TestOpenLogin(t *testing.T) {
	f := newFixture(t, &stubAuth{}, "")
	require.NoError(t, f.orch.OpenLogin())
	assert.Equal(t, sessiondomain.PhaseAwaitingCredentials, f.machine.Phase())
	require.NoError(t, f.orch.Cancel())
	assert.Equal(t, sessiondomain.PhaseAnonymous, f.machine.Phase())
}

func TestReloadUsers_FailureSurfacedOnView(t *testing.T) {
	b := newBackend(t, map[string]response{
		"/users": {http.StatusInternalServerError, `{"message":"Service indisponible"}`},
	})
	f := newFixture(t, &stubAuth{}, b.server.URL)
	require.ErrorIs(t, f.orch.ReloadUsers(context.Background()), autherr.ErrAuthRejected)
	assert.Equal(t, "Service indisponible", f.orch.View().ListError)
}

// blockingLister holds List until release is closed.
type blockingLister struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingLister) List(ctx context.Context) ([]userdomain.User, error) {
	close(b.started)
	<-b.release
	return []userdomain.User{{ID: 1, Name: "Ana"}, {ID: 7, Name: "Bob"}}, nil
}

func TestReloadUsers_DroppedAfterLogout(t *testing.T) {
	m := session.NewMachine(nil)
	records := directory.NewRecords()
	lister := &blockingLister{started: make(chan struct{}), release: make(chan struct{})}
	o := New(Deps{Auth: &stubAuth{}, Machine: m, Users: lister, Records: records})
	signIn(t, m)

	done := make(chan error, 1)
	go func() { done <- o.ReloadUsers(context.Background()) }()
	<-lister.started
	o.Logout()
	close(lister.release)

	require.NoError(t, <-done)
	assert.Zero(t, records.Len())
	assert.Empty(t, o.View().Users)
}

func TestReloadUsers_SameSessionFillsRecords(t *testing.T) {
	m := session.NewMachine(nil)
	records := directory.NewRecords()
	lister := &blockingLister{started: make(chan struct{}), release: make(chan struct{})}
	o := New(Deps{Auth: &stubAuth{}, Machine: m, Users: lister, Records: records})
	signIn(t, m)
	close(lister.release)

	require.NoError(t, o.ReloadUsers(context.Background()))
	assert.Equal(t, 2, records.Len())
}
