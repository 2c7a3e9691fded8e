package engine

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"

	"userdesk/client/internal/policy/repository"
)

const gateQuery = "data.userdesk.gate.allow"

// Default Rego policy equivalent to PhaseEvaluator.
const defaultRegoPolicy = `package userdesk.gate

default allow := false

allow if {
	input.phase == "authenticated"
	input.action in {"create", "update", "delete"}
}
`

// OPAEvaluator evaluates gate policies using OPA Rego.
type OPAEvaluator struct {
	policyRepo repository.Repository
	logger     *zap.Logger
}

// NewOPAEvaluator returns an OPA-based gate evaluator. policyRepo may be nil (built-in policy only).
func NewOPAEvaluator(policyRepo repository.Repository, logger *zap.Logger) *OPAEvaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OPAEvaluator{policyRepo: policyRepo, logger: logger}
}

// HealthCheck verifies that the configured policies (or the built-in one) compile and evaluate.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	policies, err := e.policies(ctx)
	if err != nil {
		return err
	}
	_, err = evaluate(ctx, policies, GateInput{Phase: "anonymous", Action: "create"})
	return err
}

// AllowMutation evaluates data.userdesk.gate.allow for in.
// When the policies cannot be loaded or evaluated the built-in policy decides.
func (e *OPAEvaluator) AllowMutation(ctx context.Context, in GateInput) (bool, error) {
	policies, err := e.policies(ctx)
	if err != nil {
		e.logger.Warn("policy: failed to load gate policies, using built-in", zap.Error(err))
		policies = []string{defaultRegoPolicy}
	}
	allowed, err := evaluate(ctx, policies, in)
	if err != nil {
		e.logger.Warn("policy: evaluation failed, using built-in", zap.Error(err))
		return evaluate(ctx, []string{defaultRegoPolicy}, in)
	}
	return allowed, nil
}

func (e *OPAEvaluator) policies(ctx context.Context) ([]string, error) {
	var out []string
	if e.policyRepo != nil {
		enabled, err := e.policyRepo.GetEnabledPolicies(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range enabled {
			if p.Enabled && p.Rules != "" {
				out = append(out, p.Rules)
			}
		}
	}
	if len(out) == 0 {
		out = []string{defaultRegoPolicy}
	}
	return out, nil
}

func evaluate(ctx context.Context, policies []string, in GateInput) (bool, error) {
	modules := make(map[string]string, len(policies))
	for i, p := range policies {
		modules[fmt.Sprintf("policy_%d.rego", i)] = p
	}
	compiler, err := ast.CompileModules(modules)
	if err != nil {
		return false, fmt.Errorf("compile policies: %w", err)
	}
	input := map[string]interface{}{
		"phase":   in.Phase,
		"action":  in.Action,
		"user_id": in.UserID,
	}
	rs, err := rego.New(
		rego.Query(gateQuery),
		rego.Compiler(compiler),
		rego.Input(input),
	).Eval(ctx)
	if err != nil {
		return false, fmt.Errorf("eval policies: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("policy: %s is not a boolean", gateQuery)
	}
	return allowed, nil
}
