package engine

import "context"

// GateInput is what a gate evaluator sees about a mutating action.
type GateInput struct {
	Phase  string // session phase, e.g. "authenticated"
	Action string // "create", "update" or "delete"
	UserID int64  // authenticated user id; 0 when none
}

// Evaluator decides whether a mutating action may be dispatched.
// Evaluators can only narrow the gate: the caller also requires an authenticated phase.
type Evaluator interface {
	AllowMutation(ctx context.Context, in GateInput) (bool, error)
}

// PhaseEvaluator allows every mutation from an authenticated phase.
type PhaseEvaluator struct{}

// AllowMutation implements Evaluator.
func (PhaseEvaluator) AllowMutation(_ context.Context, in GateInput) (bool, error) {
	return in.Phase == "authenticated", nil
}
