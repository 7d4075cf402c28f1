package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/complyflow/policy-workflow/internal/domain/entity"
	"github.com/complyflow/policy-workflow/pkg/database"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Path:            filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	migrator := database.NewMigrator(db, zap.NewNop())
	require.NoError(t, migrator.RunMigrations("../../migrations"))

	return db
}

func TestTemplateRepository_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	repo := NewTemplateRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	tpl := &entity.WorkflowTemplate{
		ID:       "tpl-1",
		Name:     "Policy Review",
		Category: "HR",
		Stages: []entity.Stage{
			{
				ID:        "s1",
				Name:      "Review",
				Type:      entity.StageTypeReview,
				Order:     1,
				Approvers: []string{"alice", "bob"},
				Rule:      entity.RuleMajorityApproves,
				DueInDays: 3,
			},
			{
				ID:        "s2",
				Name:      "Sign-off",
				Type:      entity.StageTypeFinalApproval,
				Order:     2,
				Approvers: []string{"carol"},
				Rule:      entity.RuleAnyOneApproves,
				Escalation: &entity.StageEscalation{
					Enabled: true,
					DueDays: 2,
					Action:  entity.EscalationAutoApprove,
				},
			},
		},
		Active:    true,
		IsDefault: true,
	}
	require.NoError(t, repo.Create(ctx, tpl))

	got, err := repo.GetByID(ctx, "tpl-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Policy Review", got.Name)
	require.Len(t, got.Stages, 2)
	assert.Equal(t, 1, got.Stages[0].Order)
	assert.Equal(t, 2, got.Stages[1].Order)
	assert.Equal(t, []string{"alice", "bob"}, got.Stages[0].Approvers)
	require.NotNil(t, got.Stages[1].Escalation)
	assert.Equal(t, entity.EscalationAutoApprove, got.Stages[1].Escalation.Action)

	missing, err := repo.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTemplateRepository_ListActiveIncludesWildcards(t *testing.T) {
	db := newTestDB(t)
	repo := NewTemplateRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	stages := []entity.Stage{{ID: "s1", Name: "Review", Order: 1, Approvers: []string{"alice"}}}
	require.NoError(t, repo.Create(ctx, &entity.WorkflowTemplate{ID: "hr", Name: "HR Flow", Category: "HR", Stages: stages, Active: true}))
	require.NoError(t, repo.Create(ctx, &entity.WorkflowTemplate{ID: "any", Name: "Any Flow", Category: "", Stages: stages, Active: true}))
	require.NoError(t, repo.Create(ctx, &entity.WorkflowTemplate{ID: "fin", Name: "Finance Flow", Category: "FINANCE", Stages: stages, Active: true}))
	require.NoError(t, repo.Create(ctx, &entity.WorkflowTemplate{ID: "off", Name: "Retired", Category: "HR", Stages: stages, Active: false}))

	got, err := repo.ListActive(ctx, "HR")
	require.NoError(t, err)
	require.Len(t, got, 2)

	ids := []string{got[0].ID, got[1].ID}
	assert.Contains(t, ids, "hr")
	assert.Contains(t, ids, "any")
}

func TestInstanceRepository_RoundTripAndUpdate(t *testing.T) {
	db := newTestDB(t)
	repo := NewInstanceRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	started := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	instance := &entity.WorkflowInstance{
		ID:        "inst-1",
		SubjectID: "policy-1",
		Category:  "HR",
		Stages: []entity.Stage{
			{ID: "s1", Name: "Review", Order: 1, Approvers: []string{"alice"}, Rule: entity.RuleAnyOneApproves},
			{ID: "s2", Name: "Sign-off", Order: 2, Approvers: []string{"bob"}, Rule: entity.RuleAnyOneApproves},
		},
		CurrentStageID:    "s1",
		CurrentStageOrder: 1,
		Status:            entity.StatusPendingReview,
		Initiator:         "dana",
		StartedAt:         started,
	}
	require.NoError(t, repo.Create(ctx, instance))

	got, err := repo.GetByID(ctx, "inst-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entity.StatusPendingReview, got.Status)
	assert.Nil(t, got.CompletedAt)
	require.Len(t, got.Stages, 2)

	// Advance and finalize.
	completed := started.Add(48 * time.Hour)
	got.CurrentStageID = "s2"
	got.CurrentStageOrder = 2
	got.Status = entity.StatusApproved
	got.CompletedAt = &completed
	require.NoError(t, repo.Update(ctx, got))

	final, err := repo.GetByID(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "s2", final.CurrentStageID)
	assert.Equal(t, entity.StatusApproved, final.Status)
	require.NotNil(t, final.CompletedAt)

	bySubject, err := repo.GetBySubjectID(ctx, "policy-1")
	require.NoError(t, err)
	assert.Len(t, bySubject, 1)
}

func TestDecisionRepository_OverdueQuery(t *testing.T) {
	db := newTestDB(t)
	instRepo := NewInstanceRepository(db.DB, zap.NewNop())
	repo := NewDecisionRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, instRepo.Create(ctx, &entity.WorkflowInstance{
		ID: "inst-1", SubjectID: "policy-1",
		Stages:         []entity.Stage{{ID: "s1", Name: "Review", Order: 1, Approvers: []string{"alice"}}},
		CurrentStageID: "s1", CurrentStageOrder: 1,
		Status: entity.StatusPendingReview, Initiator: "dana", StartedAt: now.Add(-10 * 24 * time.Hour),
	}))

	mk := func(id string, due time.Time, value string) *entity.ApprovalDecision {
		return &entity.ApprovalDecision{
			ID: id, InstanceID: "inst-1", StageID: "s1",
			ApproverID: "alice", OriginalApproverID: "alice",
			Value: value, RequestedAt: now.Add(-5 * 24 * time.Hour), DueAt: due,
		}
	}
	require.NoError(t, repo.Create(ctx, mk("late-2", now.Add(-48*time.Hour), entity.DecisionPending)))
	require.NoError(t, repo.Create(ctx, mk("late-5", now.Add(-5*24*time.Hour), entity.DecisionPending)))
	require.NoError(t, repo.Create(ctx, mk("future", now.Add(24*time.Hour), entity.DecisionPending)))
	require.NoError(t, repo.Create(ctx, mk("resolved", now.Add(-3*24*time.Hour), entity.DecisionApproved)))

	overdue, err := repo.ListOverduePending(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, overdue, 2)
	// Oldest due first.
	assert.Equal(t, "late-5", overdue[0].ID)
	assert.Equal(t, "late-2", overdue[1].ID)

	limited, err := repo.ListOverduePending(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDecisionRepository_UpdatePersistsEscalationState(t *testing.T) {
	db := newTestDB(t)
	instRepo := NewInstanceRepository(db.DB, zap.NewNop())
	repo := NewDecisionRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, instRepo.Create(ctx, &entity.WorkflowInstance{
		ID: "inst-1", SubjectID: "policy-1",
		Stages:         []entity.Stage{{ID: "s1", Name: "Review", Order: 1, Approvers: []string{"alice"}}},
		CurrentStageID: "s1", CurrentStageOrder: 1,
		Status: entity.StatusPendingReview, Initiator: "dana", StartedAt: now,
	}))

	d := &entity.ApprovalDecision{
		ID: "dec-1", InstanceID: "inst-1", StageID: "s1",
		ApproverID: "alice", OriginalApproverID: "alice",
		Value: entity.DecisionPending, RequestedAt: now, DueAt: now.Add(24 * time.Hour),
	}
	require.NoError(t, repo.Create(ctx, d))

	escalated := now.Add(3 * 24 * time.Hour)
	d.ApproverID = "erin"
	d.EscalationLevel = 2
	d.LastEscalatedAt = &escalated
	d.NotificationsSent = 4
	require.NoError(t, repo.Update(ctx, d))

	got, err := repo.GetByID(ctx, "dec-1")
	require.NoError(t, err)
	assert.Equal(t, "erin", got.ApproverID)
	assert.Equal(t, "alice", got.OriginalApproverID)
	assert.Equal(t, 2, got.EscalationLevel)
	require.NotNil(t, got.LastEscalatedAt)
	assert.Equal(t, 4, got.NotificationsSent)
	assert.Nil(t, got.RespondedAt)
}

func TestDelegationRepository_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	repo := NewDelegationRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(14 * 24 * time.Hour)
	d := &entity.Delegation{
		ID:          "del-1",
		DelegatorID: "alice",
		DelegateID:  "bob",
		Type:        entity.DelegationOutOfOffice,
		StartAt:     start,
		EndAt:       &end,
		Categories:  []string{"HR", "LEGAL"},
		Active:      true,
	}
	require.NoError(t, repo.Create(ctx, d))

	got, err := repo.GetByID(ctx, "del-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "bob", got.DelegateID)
	assert.Equal(t, []string{"HR", "LEGAL"}, got.Categories)
	require.NotNil(t, got.EndAt)

	require.NoError(t, repo.SetActive(ctx, "del-1", false))
	got, err = repo.GetByID(ctx, "del-1")
	require.NoError(t, err)
	assert.False(t, got.Active)

	listed, err := repo.ListByDelegator(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestEscalationRuleRepository_ListActiveOrdering(t *testing.T) {
	db := newTestDB(t)
	repo := NewEscalationRuleRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	mk := func(id string, priority, trigger int, active bool) *entity.EscalationRule {
		return &entity.EscalationRule{
			ID: id, Name: id, TriggerDays: trigger,
			Action: entity.EscalationNotify, TargetType: entity.TargetTypeUsers,
			MaxEscalations: 1, IntervalDays: 1, Priority: priority, Active: active,
		}
	}
	require.NoError(t, repo.Create(ctx, mk("low", 10, 3, true)))
	require.NoError(t, repo.Create(ctx, mk("high", 1, 5, true)))
	require.NoError(t, repo.Create(ctx, mk("off", 0, 1, false)))

	rules, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "high", rules[0].ID)
	assert.Equal(t, "low", rules[1].ID)
}

func TestHistoryRepository_RecordAndFetch(t *testing.T) {
	db := newTestDB(t)
	instRepo := NewInstanceRepository(db.DB, zap.NewNop())
	repo := NewHistoryRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, instRepo.Create(ctx, &entity.WorkflowInstance{
		ID: "inst-1", SubjectID: "policy-1",
		Stages:         []entity.Stage{{ID: "s1", Name: "Review", Order: 1, Approvers: []string{"alice"}}},
		CurrentStageID: "s1", CurrentStageOrder: 1,
		Status: entity.StatusPendingReview, Initiator: "dana", StartedAt: now,
	}))

	require.NoError(t, repo.Record(ctx, "inst-1", entity.HistoryWorkflowStarted, "subject=policy-1"))
	require.NoError(t, repo.Record(ctx, "inst-1", entity.HistoryDecisionSubmitted, "decision=dec-1"))

	records, err := repo.GetByInstanceID(ctx, "inst-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, entity.HistoryWorkflowStarted, records[0].Action)
	assert.Equal(t, entity.HistoryDecisionSubmitted, records[1].Action)
	assert.NotZero(t, records[0].ID)
}
