// Package directory is the client for the users resource of the directory service.
//
// Listing is open; create, update and delete go through the rbac gate first and are refused locally,
// with no request sent, when no session is authenticated.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"userdesk/client/internal/authclient"
	"userdesk/client/internal/autherr"
	"userdesk/client/internal/platform/rbac"
	"userdesk/client/internal/telemetry"
	userdomain "userdesk/client/internal/user/domain"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20
)

// Display messages used when the service gives none.
const (
	MsgRequestFailed = "Erreur lors de la requête utilisateurs"
	MsgInvalidRecord = "Données utilisateur invalides"
	MsgInvalidID     = "Identifiant utilisateur invalide"
)

// Gate is the authorization check consulted before every mutation. Implemented by *rbac.Gate.
type Gate interface {
	RequireSession(ctx context.Context, action rbac.Action) (userdomain.AuthenticatedUser, error)
}

// Client calls the users endpoints under URL (e.g. http://localhost:8082/users).
type Client struct {
	URL        string
	HTTPClient *http.Client
	Gate       Gate
	Logger     *zap.Logger
	Tracker    *telemetry.Tracker
}

// NewClient returns a client for usersURL. timeout <= 0 uses 15s.
func NewClient(usersURL string, timeout time.Duration, gate Gate, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		URL:        strings.TrimRight(usersURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
		Gate:       gate,
		Logger:     logger,
	}
}

type errorResponse struct {
	Message string `json:"message"`
}

// List fetches every user record.
func (c *Client) List(ctx context.Context) ([]userdomain.User, error) {
	var users []userdomain.User
	if err := c.do(ctx, "users.list", http.MethodGet, c.URL, nil, &users); err != nil {
		return nil, err
	}
	if users == nil {
		users = []userdomain.User{}
	}
	return users, nil
}

// Create adds u. Refused locally unless a session is authenticated.
func (c *Client) Create(ctx context.Context, u userdomain.User) error {
	if err := c.authorize(ctx, rbac.ActionCreate); err != nil {
		return err
	}
	if err := u.Validate(); err != nil {
		return autherr.Wrap(autherr.KindValidation, MsgInvalidRecord, err)
	}
	u.ID = 0
	return c.do(ctx, "users.create", http.MethodPost, c.URL, u, nil)
}

// Update replaces the record id with u. Refused locally unless a session is authenticated.
func (c *Client) Update(ctx context.Context, id int64, u userdomain.User) error {
	if err := c.authorize(ctx, rbac.ActionUpdate); err != nil {
		return err
	}
	if id <= 0 {
		return autherr.New(autherr.KindValidation, MsgInvalidID)
	}
	if err := u.Validate(); err != nil {
		return autherr.Wrap(autherr.KindValidation, MsgInvalidRecord, err)
	}
	u.ID = id
	return c.do(ctx, "users.update", http.MethodPut, c.recordURL(id), u, nil)
}

// Delete removes the record id. Refused locally unless a session is authenticated.
func (c *Client) Delete(ctx context.Context, id int64) error {
	if err := c.authorize(ctx, rbac.ActionDelete); err != nil {
		return err
	}
	if id <= 0 {
		return autherr.New(autherr.KindValidation, MsgInvalidID)
	}
	return c.do(ctx, "users.delete", http.MethodDelete, c.recordURL(id), nil, nil)
}

func (c *Client) authorize(ctx context.Context, action rbac.Action) error {
	if c.Gate == nil {
		return autherr.New(autherr.KindAuthorizationDenied, rbac.DeniedMessage(action))
	}
	_, err := c.Gate.RequireSession(ctx, action)
	return err
}

func (c *Client) recordURL(id int64) string {
	return c.URL + "/" + strconv.FormatInt(id, 10)
}

// do sends one request. A nil payload sends no body; a nil out ignores the response body on success.
func (c *Client) do(ctx context.Context, op, method, url string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return autherr.Wrap(autherr.KindValidation, MsgInvalidRecord, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return autherr.Wrap(autherr.KindTransport, authclient.MsgServerUnreachable, err)
	}
	ctx, call := c.Tracker.Start(ctx, op, method, req.URL.Path)
	req = req.WithContext(ctx)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.log().Warn("directory: transport failure", zap.String("op", op), zap.Error(err))
		call.End(0, "transport_error", true)
		return autherr.Wrap(autherr.KindTransport, authclient.MsgServerUnreachable, err)
	}
	defer resp.Body.Close()
	text, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		call.End(resp.StatusCode, "transport_error", true)
		return autherr.Wrap(autherr.KindTransport, authclient.MsgServerUnreachable, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorResponse
		_ = json.Unmarshal(text, &e)
		msg := e.Message
		if msg == "" {
			msg = MsgRequestFailed
		}
		c.log().Info("directory: request rejected", zap.String("op", op), zap.Int("status", resp.StatusCode))
		call.End(resp.StatusCode, "rejected", true)
		return autherr.New(autherr.KindAuthRejected, msg)
	}
	if out != nil {
		if err := json.Unmarshal(text, out); err != nil {
			c.log().Warn("directory: unparsable response", zap.String("op", op), zap.Int("status", resp.StatusCode))
			call.End(resp.StatusCode, "parse_error", true)
			return autherr.Wrap(autherr.KindTransport, authclient.MsgServerUnreachable,
				fmt.Errorf("parse body (status=%d): %w", resp.StatusCode, err))
		}
	}
	call.End(resp.StatusCode, "ok", false)
	return nil
}

func (c *Client) log() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
