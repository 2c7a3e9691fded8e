// Package rbac implements the local authorization gate for mutating directory operations.
//
// The gate is advisory and exists for UX only: it avoids needless network calls and inconsistent
// screens when nobody is signed in. It is NOT a security boundary. The directory service must enforce
// access control on every request independently of anything decided here.
package rbac

import (
	"context"

	"go.uber.org/zap"

	"userdesk/client/internal/autherr"
	"userdesk/client/internal/policy/engine"
	sessiondomain "userdesk/client/internal/session/domain"
	"userdesk/client/internal/telemetry"
	telemetrydomain "userdesk/client/internal/telemetry/domain"
	userdomain "userdesk/client/internal/user/domain"
)

// Action is a mutating operation on the users resource.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

var actionVerbs = map[Action]string{
	ActionCreate: "créer",
	ActionUpdate: "modifier",
	ActionDelete: "supprimer",
}

// DeniedMessage is the user-facing refusal for action.
func DeniedMessage(action Action) string {
	verb, ok := actionVerbs[action]
	if !ok {
		verb = "modifier"
	}
	return "Veuillez vous connecter pour " + verb + " un utilisateur"
}

// CanMutate reports whether s allows mutating operations.
func CanMutate(s sessiondomain.Session) bool {
	return s.Phase == sessiondomain.PhaseAuthenticated
}

// SessionSource returns the current session. Implemented by *session.Machine.
type SessionSource interface {
	Current() sessiondomain.Session
	TraceID() string
}

// Gate is the enforcement point consulted before every create, update and delete.
type Gate struct {
	sessions  SessionSource
	evaluator engine.Evaluator
	emitter   telemetry.EventEmitter
	logger    *zap.Logger
}

// NewGate returns a gate over sessions. evaluator may be nil (phase check only); emitter may be nil.
func NewGate(sessions SessionSource, evaluator engine.Evaluator, emitter telemetry.EventEmitter, logger *zap.Logger) *Gate {
	if evaluator == nil {
		evaluator = engine.PhaseEvaluator{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{sessions: sessions, evaluator: evaluator, emitter: emitter, logger: logger}
}

// RequireSession ensures the session is authenticated and the evaluator allows action.
// Returns the signed-in user on success; returns an AuthorizationDenied error otherwise.
// An evaluator failure denies.
func (g *Gate) RequireSession(ctx context.Context, action Action) (userdomain.AuthenticatedUser, error) {
	s := g.sessions.Current()
	if !CanMutate(s) || s.User == nil {
		return userdomain.AuthenticatedUser{}, g.deny(s, action, "no active session")
	}
	in := engine.GateInput{
		Phase:  s.Phase.String(),
		Action: string(action),
		UserID: s.User.ID,
	}
	allowed, err := g.evaluator.AllowMutation(ctx, in)
	if err != nil {
		g.logger.Warn("gate: evaluator failed", zap.String("action", string(action)), zap.Error(err))
		return userdomain.AuthenticatedUser{}, g.deny(s, action, "policy error")
	}
	if !allowed {
		return userdomain.AuthenticatedUser{}, g.deny(s, action, "policy")
	}
	return *s.User, nil
}

func (g *Gate) deny(s sessiondomain.Session, action Action, reason string) error {
	g.logger.Info("gate: mutation refused",
		zap.String("action", string(action)),
		zap.String("phase", s.Phase.String()),
		zap.String("reason", reason))
	telemetry.EmitAsync(g.emitter, g.logger, &telemetrydomain.Event{
		Type:      telemetrydomain.EventGateDenied,
		SessionID: g.sessions.TraceID(),
		Phase:     s.Phase.String(),
		Detail:    string(action),
	})
	return autherr.New(autherr.KindAuthorizationDenied, DeniedMessage(action))
}
