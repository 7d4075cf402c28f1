// Package delegation resolves approver identities through the delegation
// registry. Resolution happens exactly once, when a decision is created; an
// already-created decision is never re-routed by later registry changes.
package delegation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/complyflow/policy-workflow/internal/application/port"
	"github.com/complyflow/policy-workflow/internal/domain/entity"
)

// Resolution is the result of resolving an approver at a point in time.
type Resolution struct {
	ApproverID string // post-delegation identity
	Delegated  bool
	Delegator  string // set when Delegated
}

// Registry resolves delegator to delegate mappings.
type Registry struct {
	repo   port.DelegationRepository
	logger *zap.Logger
}

// NewRegistry creates a new delegation registry
func NewRegistry(repo port.DelegationRepository, logger *zap.Logger) *Registry {
	return &Registry{
		repo:   repo,
		logger: logger,
	}
}

// Resolve returns the identity that should receive work assigned to
// approverID at the given time, honoring the category scope. When several
// delegations are active for the same delegator the most recently created one
// wins, so resolution is deterministic.
func (r *Registry) Resolve(ctx context.Context, approverID string, at time.Time, category string) (Resolution, error) {
	delegations, err := r.repo.ListByDelegator(ctx, approverID)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to list delegations: %w", err)
	}

	var picked *entity.Delegation
	for _, d := range delegations {
		if !d.Active || !d.CoversTime(at) || !d.CoversCategory(category) {
			continue
		}
		if picked == nil || d.CreatedAt.After(picked.CreatedAt) ||
			(d.CreatedAt.Equal(picked.CreatedAt) && d.ID > picked.ID) {
			picked = d
		}
	}

	if picked == nil {
		return Resolution{ApproverID: approverID}, nil
	}

	r.logger.Debug("Resolved delegation",
		zap.String("delegator", approverID),
		zap.String("delegate", picked.DelegateID),
		zap.String("type", picked.Type))

	return Resolution{
		ApproverID: picked.DelegateID,
		Delegated:  true,
		Delegator:  approverID,
	}, nil
}
