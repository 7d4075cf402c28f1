package delegation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/complyflow/policy-workflow/internal/domain/entity"
)

type stubDelegationRepo struct {
	byDelegator map[string][]*entity.Delegation
}

func (r *stubDelegationRepo) Create(ctx context.Context, d *entity.Delegation) error { return nil }

func (r *stubDelegationRepo) GetByID(ctx context.Context, id string) (*entity.Delegation, error) {
	return nil, nil
}

func (r *stubDelegationRepo) ListByDelegator(ctx context.Context, delegatorID string) ([]*entity.Delegation, error) {
	return r.byDelegator[delegatorID], nil
}

func (r *stubDelegationRepo) SetActive(ctx context.Context, id string, active bool) error {
	return nil
}

func TestRegistry_Resolve(t *testing.T) {
	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	weekAgo := at.Add(-7 * 24 * time.Hour)
	weekAhead := at.Add(7 * 24 * time.Hour)
	yesterday := at.Add(-24 * time.Hour)

	tests := []struct {
		name        string
		delegations []*entity.Delegation
		category    string
		wantID      string
		wantFlag    bool
	}{
		{
			name:     "no delegations resolves to self",
			wantID:   "alice",
			wantFlag: false,
		},
		{
			name: "active delegation routes to delegate",
			delegations: []*entity.Delegation{
				{ID: "d1", DelegatorID: "alice", DelegateID: "bob", Active: true, StartAt: weekAgo, EndAt: &weekAhead, CreatedAt: weekAgo},
			},
			wantID:   "bob",
			wantFlag: true,
		},
		{
			name: "inactive delegation ignored",
			delegations: []*entity.Delegation{
				{ID: "d1", DelegatorID: "alice", DelegateID: "bob", Active: false, StartAt: weekAgo, CreatedAt: weekAgo},
			},
			wantID:   "alice",
			wantFlag: false,
		},
		{
			name: "expired delegation ignored",
			delegations: []*entity.Delegation{
				{ID: "d1", DelegatorID: "alice", DelegateID: "bob", Active: true, StartAt: weekAgo, EndAt: &yesterday, CreatedAt: weekAgo},
			},
			wantID:   "alice",
			wantFlag: false,
		},
		{
			name: "open ended delegation applies",
			delegations: []*entity.Delegation{
				{ID: "d1", DelegatorID: "alice", DelegateID: "bob", Active: true, StartAt: weekAgo, CreatedAt: weekAgo},
			},
			wantID:   "bob",
			wantFlag: true,
		},
		{
			name: "category scoped delegation skipped for other category",
			delegations: []*entity.Delegation{
				{ID: "d1", DelegatorID: "alice", DelegateID: "bob", Active: true, StartAt: weekAgo, Categories: []string{"FINANCE"}, CreatedAt: weekAgo},
			},
			category: "HR",
			wantID:   "alice",
			wantFlag: false,
		},
		{
			name: "category scoped delegation applies within scope",
			delegations: []*entity.Delegation{
				{ID: "d1", DelegatorID: "alice", DelegateID: "bob", Active: true, StartAt: weekAgo, Categories: []string{"FINANCE"}, CreatedAt: weekAgo},
			},
			category: "FINANCE",
			wantID:   "bob",
			wantFlag: true,
		},
		{
			name: "most recently created delegation wins",
			delegations: []*entity.Delegation{
				{ID: "d1", DelegatorID: "alice", DelegateID: "bob", Active: true, StartAt: weekAgo, CreatedAt: weekAgo},
				{ID: "d2", DelegatorID: "alice", DelegateID: "carol", Active: true, StartAt: weekAgo, CreatedAt: yesterday},
			},
			wantID:   "carol",
			wantFlag: true,
		},
		{
			name: "identical creation times break ties by id",
			delegations: []*entity.Delegation{
				{ID: "d1", DelegatorID: "alice", DelegateID: "bob", Active: true, StartAt: weekAgo, CreatedAt: weekAgo},
				{ID: "d2", DelegatorID: "alice", DelegateID: "carol", Active: true, StartAt: weekAgo, CreatedAt: weekAgo},
			},
			wantID:   "carol",
			wantFlag: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubDelegationRepo{byDelegator: map[string][]*entity.Delegation{
				"alice": tt.delegations,
			}}
			registry := NewRegistry(repo, zap.NewNop())

			got, err := registry.Resolve(context.Background(), "alice", at, tt.category)
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, got.ApproverID)
			assert.Equal(t, tt.wantFlag, got.Delegated)
			if tt.wantFlag {
				assert.Equal(t, "alice", got.Delegator)
			}
		})
	}
}
