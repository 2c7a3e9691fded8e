package repository

import (
	"context"

	"userdesk/client/internal/policy/domain"
)

// Repository provides the gate policies to evaluate.
type Repository interface {
	// GetEnabledPolicies returns the enabled policies; an empty result means the built-in policy applies.
	GetEnabledPolicies(ctx context.Context) ([]*domain.Policy, error)
}
