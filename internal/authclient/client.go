// Package authclient issues the three authentication requests (login, request-otp, verify-otp) to the
// directory service and normalizes every result into a typed outcome. Nothing here returns an error or
// panics past the package boundary; failures become TransportError values.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"userdesk/client/internal/telemetry"
	userdomain "userdesk/client/internal/user/domain"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20

	loginPath      = "/login"
	verifyOTPPath  = "/verify-otp"
	requestOTPPath = "/request-otp"
)

// Protocol violations; always reported as TransportError.
var (
	ErrMissingUserID    = errors.New("authclient: challenge response without userId")
	ErrMissingUser      = errors.New("authclient: verification response without user")
	ErrInvalidChallenge = errors.New("authclient: challenge user id must be positive")
)

// Client calls the authentication endpoints under BaseURL (e.g. http://localhost:8082/api/auth).
type Client struct {
	BaseURL string
	// OTPBaseURL is the prefix of request-otp (e.g. http://localhost:8082/auth), which the directory
	// service mounts apart from login and verify-otp. Empty uses BaseURL.
	OTPBaseURL string
	HTTPClient *http.Client
	// PlaceholderUserID, when non-zero, is used for a challenge response that omits userId.
	// The resulting challenge is flagged Suspect. Zero turns the omission into a TransportError.
	PlaceholderUserID int64
	Logger            *zap.Logger
	Tracker           *telemetry.Tracker
}

// NewClient returns a client for baseURL with the given request timeout (<= 0 uses 15s).
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
		Logger:     logger,
	}
}

type loginResponse struct {
	RequiresOTP bool   `json:"requiresOTP"`
	UserID      int64  `json:"userId"`
	Email       string `json:"email"`
	Message     string `json:"message"`
}

type verifyOTPRequest struct {
	UserID  int64  `json:"userId"`
	OTPCode string `json:"otpCode"`
}

type verifyOTPResponse struct {
	User    *userdomain.AuthenticatedUser `json:"user"`
	Message string                        `json:"message"`
}

type requestOTPRequest struct {
	Email string `json:"email"`
}

// requestOTPResponse.Status is "success" on dispatch. Error bodies may carry a numeric status.
type requestOTPResponse struct {
	Status  json.RawMessage `json:"status"`
	Message string          `json:"message"`
}

// Login submits credentials. Both a 2xx status and requiresOTP=true are needed for ChallengeIssued;
// when both hold, a message in the same body is ignored.
func (c *Client) Login(ctx context.Context, creds Credentials) LoginOutcome {
	ctx, call := c.Tracker.Start(ctx, "auth.login", http.MethodPost, loginPath)
	var body loginResponse
	status, err := c.postJSON(ctx, c.BaseURL, loginPath, creds, &body)
	if err != nil {
		c.log().Warn("login: transport failure", zap.Int("status", status), zap.Error(err))
		call.End(status, "transport_error", true)
		return TransportError{Message: MsgServerUnreachable, Err: err}
	}
	if !challengeIssued(status, body) {
		msg := body.Message
		if msg == "" {
			msg = MsgLoginFailed
		}
		call.End(status, "rejected", true)
		return Rejected{Message: msg}
	}
	email := body.Email
	if email == "" {
		email = creds.Email
	}
	if body.UserID <= 0 {
		if c.PlaceholderUserID <= 0 {
			c.log().Error("login: challenge response without userId", zap.Int("status", status))
			call.End(status, "protocol_violation", true)
			return TransportError{Message: MsgServerUnreachable, Err: ErrMissingUserID}
		}
		c.log().Warn("login: challenge response without userId, using placeholder",
			zap.Int64("placeholder_user_id", c.PlaceholderUserID))
		call.End(status, "challenge_issued_suspect", false)
		return ChallengeIssued{Email: email, UserID: c.PlaceholderUserID, Suspect: true}
	}
	call.End(status, "challenge_issued", false)
	return ChallengeIssued{Email: email, UserID: body.UserID}
}

// VerifyOTP submits code for the challenge identified by userID.
func (c *Client) VerifyOTP(ctx context.Context, userID int64, code string) VerifyOutcome {
	if userID <= 0 {
		return TransportError{Message: MsgServerUnreachable, Err: ErrInvalidChallenge}
	}
	ctx, call := c.Tracker.Start(ctx, "auth.verify_otp", http.MethodPost, verifyOTPPath)
	var body verifyOTPResponse
	status, err := c.postJSON(ctx, c.BaseURL, verifyOTPPath, verifyOTPRequest{UserID: userID, OTPCode: code}, &body)
	if err != nil {
		c.log().Warn("verify-otp: transport failure", zap.Int("status", status), zap.Error(err))
		call.End(status, "transport_error", true)
		return TransportError{Message: MsgServerUnreachable, Err: err}
	}
	if !statusOK(status) {
		msg := body.Message
		if msg == "" {
			msg = MsgInvalidOTP
		}
		call.End(status, "rejected", true)
		return Rejected{Message: msg}
	}
	if body.User == nil {
		c.log().Error("verify-otp: success response without user", zap.Int("status", status))
		call.End(status, "protocol_violation", true)
		return TransportError{Message: MsgServerUnreachable, Err: ErrMissingUser}
	}
	call.End(status, "verified", false)
	return Verified{User: *body.User}
}

// RequestOTP asks the service to send a new code to email (resend path).
// The service throttles requests; its rejection message is returned as is.
func (c *Client) RequestOTP(ctx context.Context, email string) RequestOutcome {
	ctx, call := c.Tracker.Start(ctx, "auth.request_otp", http.MethodPost, requestOTPPath)
	var body requestOTPResponse
	status, err := c.postJSON(ctx, c.otpBaseURL(), requestOTPPath, requestOTPRequest{Email: email}, &body)
	if err != nil {
		c.log().Warn("request-otp: transport failure", zap.Int("status", status), zap.Error(err))
		call.End(status, "transport_error", true)
		return TransportError{Message: MsgServerUnreachable, Err: err}
	}
	if !otpDispatched(status, body) {
		msg := body.Message
		if msg == "" {
			msg = MsgResendFailed
		}
		call.End(status, "rejected", true)
		return Rejected{Message: msg}
	}
	msg := body.Message
	if msg == "" {
		msg = MsgOTPSent
	}
	call.End(status, "sent", false)
	return Sent{Message: msg}
}

// postJSON sends payload and decodes the response into out. The body is read as raw text first and
// then parsed; a parse failure is returned as an error together with the HTTP status.
func (c *Client) postJSON(ctx context.Context, base, path string, payload, out any) (int, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(raw))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	text, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(text, out); err != nil {
		return resp.StatusCode, fmt.Errorf("parse body (status=%d): %w", resp.StatusCode, err)
	}
	return resp.StatusCode, nil
}

func (c *Client) otpBaseURL() string {
	if c.OTPBaseURL == "" {
		return c.BaseURL
	}
	return strings.TrimRight(c.OTPBaseURL, "/")
}

func (c *Client) log() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
