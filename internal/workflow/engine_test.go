package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/complyflow/policy-workflow/internal/application/port"
	"github.com/complyflow/policy-workflow/internal/delegation"
	"github.com/complyflow/policy-workflow/internal/domain/entity"
)

// In-memory fakes. Reads return copies so engine-side mutation never aliases
// the stored state, mirroring a real database round trip.

type memInstanceRepo struct {
	mu        sync.Mutex
	instances map[string]*entity.WorkflowInstance
}

func newMemInstanceRepo() *memInstanceRepo {
	return &memInstanceRepo{instances: make(map[string]*entity.WorkflowInstance)}
}

func cloneInstance(in *entity.WorkflowInstance) *entity.WorkflowInstance {
	c := *in
	c.Stages = append([]entity.Stage(nil), in.Stages...)
	return &c
}

func (r *memInstanceRepo) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[instance.ID] = cloneInstance(instance)
	return nil
}

func (r *memInstanceRepo) GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.instances[id]
	if !ok {
		return nil, nil
	}
	return cloneInstance(in), nil
}

func (r *memInstanceRepo) GetBySubjectID(ctx context.Context, subjectID string) ([]*entity.WorkflowInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.WorkflowInstance
	for _, in := range r.instances {
		if in.SubjectID == subjectID {
			out = append(out, cloneInstance(in))
		}
	}
	return out, nil
}

func (r *memInstanceRepo) Update(ctx context.Context, instance *entity.WorkflowInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[instance.ID] = cloneInstance(instance)
	return nil
}

func (r *memInstanceRepo) List(ctx context.Context, limit, offset int) ([]*entity.WorkflowInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.WorkflowInstance
	for _, in := range r.instances {
		out = append(out, cloneInstance(in))
	}
	return out, nil
}

type memDecisionRepo struct {
	mu        sync.Mutex
	decisions map[string]*entity.ApprovalDecision
	order     []string
}

func newMemDecisionRepo() *memDecisionRepo {
	return &memDecisionRepo{decisions: make(map[string]*entity.ApprovalDecision)}
}

func cloneDecision(d *entity.ApprovalDecision) *entity.ApprovalDecision {
	c := *d
	return &c
}

func (r *memDecisionRepo) Create(ctx context.Context, d *entity.ApprovalDecision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions[d.ID] = cloneDecision(d)
	r.order = append(r.order, d.ID)
	return nil
}

func (r *memDecisionRepo) GetByID(ctx context.Context, id string) (*entity.ApprovalDecision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.decisions[id]
	if !ok {
		return nil, nil
	}
	return cloneDecision(d), nil
}

func (r *memDecisionRepo) GetByStage(ctx context.Context, instanceID, stageID string) ([]*entity.ApprovalDecision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.ApprovalDecision
	for _, id := range r.order {
		d := r.decisions[id]
		if d.InstanceID == instanceID && d.StageID == stageID {
			out = append(out, cloneDecision(d))
		}
	}
	return out, nil
}

func (r *memDecisionRepo) GetByInstanceID(ctx context.Context, instanceID string) ([]*entity.ApprovalDecision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.ApprovalDecision
	for _, id := range r.order {
		d := r.decisions[id]
		if d.InstanceID == instanceID {
			out = append(out, cloneDecision(d))
		}
	}
	return out, nil
}

func (r *memDecisionRepo) Update(ctx context.Context, d *entity.ApprovalDecision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions[d.ID] = cloneDecision(d)
	return nil
}

func (r *memDecisionRepo) ListOverduePending(ctx context.Context, asOf time.Time, limit int) ([]*entity.ApprovalDecision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.ApprovalDecision
	for _, id := range r.order {
		d := r.decisions[id]
		if d.Value == entity.DecisionPending && d.DueAt.Before(asOf) {
			out = append(out, cloneDecision(d))
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeCatalog struct {
	templates  map[string]*entity.WorkflowTemplate
	defaultTpl *entity.WorkflowTemplate
}

func (c *fakeCatalog) Get(ctx context.Context, id string) (*entity.WorkflowTemplate, error) {
	tpl, ok := c.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	return tpl, nil
}

func (c *fakeCatalog) GetDefault(ctx context.Context, category string) (*entity.WorkflowTemplate, error) {
	return c.defaultTpl, nil
}

type fakeResolver struct {
	mapping map[string]string // delegator -> delegate
}

func (r *fakeResolver) Resolve(ctx context.Context, approverID string, at time.Time, category string) (delegation.Resolution, error) {
	if delegate, ok := r.mapping[approverID]; ok {
		return delegation.Resolution{ApproverID: delegate, Delegated: true, Delegator: approverID}, nil
	}
	return delegation.Resolution{ApproverID: approverID}, nil
}

type fakeSubjects struct {
	mu       sync.Mutex
	subjects map[string]string // id -> category
	statuses map[string]string
}

func (s *fakeSubjects) GetSubject(ctx context.Context, id string) (*port.Subject, error) {
	category, ok := s.subjects[id]
	if !ok {
		return nil, nil
	}
	return &port.Subject{ID: id, Category: category}, nil
}

func (s *fakeSubjects) SetSubjectStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = status
	return nil
}

type notification struct {
	recipient string
	kind      string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *fakeNotifier) Notify(ctx context.Context, recipientID, kind string, details map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{recipient: recipientID, kind: kind})
	return nil
}

func (n *fakeNotifier) countKind(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, msg := range n.sent {
		if msg.kind == kind {
			count++
		}
	}
	return count
}

type fakeRecorder struct {
	mu      sync.Mutex
	actions []string
}

func (r *fakeRecorder) Record(ctx context.Context, instanceID, action, details string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
	return nil
}

func (r *fakeRecorder) has(action string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.actions {
		if a == action {
			return true
		}
	}
	return false
}

type passTx struct{}

func (passTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type engineFixture struct {
	engine       *Engine
	catalog      *fakeCatalog
	resolver     *fakeResolver
	instanceRepo *memInstanceRepo
	decisionRepo *memDecisionRepo
	subjects     *fakeSubjects
	notifier     *fakeNotifier
	recorder     *fakeRecorder
	now          time.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	f := &engineFixture{
		catalog:      &fakeCatalog{templates: make(map[string]*entity.WorkflowTemplate)},
		resolver:     &fakeResolver{mapping: make(map[string]string)},
		instanceRepo: newMemInstanceRepo(),
		decisionRepo: newMemDecisionRepo(),
		subjects: &fakeSubjects{
			subjects: map[string]string{"policy-1": "HR"},
			statuses: make(map[string]string),
		},
		notifier: &fakeNotifier{},
		recorder: &fakeRecorder{},
		now:      time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}

	f.engine = NewEngine(
		f.catalog,
		f.resolver,
		f.instanceRepo,
		f.decisionRepo,
		f.subjects,
		f.notifier,
		f.recorder,
		passTx{},
		zap.NewNop(),
	)
	f.engine.now = func() time.Time { return f.now }
	return f
}

func twoStageTemplate() *entity.WorkflowTemplate {
	return &entity.WorkflowTemplate{
		ID:     "tpl-1",
		Name:   "Standard Review",
		Active: true,
		Stages: []entity.Stage{
			{
				ID:        "stage-1",
				Name:      "Team Review",
				Type:      entity.StageTypeReview,
				Order:     1,
				Approvers: []string{"alice", "bob"},
				Rule:      entity.RuleAllMustApprove,
			},
			{
				ID:        "stage-2",
				Name:      "Final Sign-off",
				Type:      entity.StageTypeFinalApproval,
				Order:     2,
				Approvers: []string{"carol"},
				Rule:      entity.RuleAnyOneApproves,
			},
		},
	}
}

func TestStartWorkflow_UsesDefaultTemplate(t *testing.T) {
	f := newEngineFixture(t)
	f.catalog.defaultTpl = twoStageTemplate()

	instance, err := f.engine.StartWorkflow(context.Background(), StartRequest{
		SubjectID: "policy-1",
		Initiator: "dana",
	})
	require.NoError(t, err)

	assert.Equal(t, "HR", instance.Category)
	assert.Equal(t, "stage-1", instance.CurrentStageID)
	assert.Equal(t, 1, instance.CurrentStageOrder)
	assert.Equal(t, entity.StatusPendingReview, instance.Status)
	assert.Len(t, instance.Stages, 2)

	decisions, err := f.decisionRepo.GetByStage(context.Background(), instance.ID, "stage-1")
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	for _, d := range decisions {
		assert.Equal(t, entity.DecisionPending, d.Value)
		assert.Equal(t, f.now.Add(7*24*time.Hour), d.DueAt)
	}

	// No decisions yet for the second stage.
	later, err := f.decisionRepo.GetByStage(context.Background(), instance.ID, "stage-2")
	require.NoError(t, err)
	assert.Empty(t, later)

	assert.Equal(t, entity.SubjectStatusInReview, f.subjects.statuses["policy-1"])
	assert.True(t, f.recorder.has(entity.HistoryWorkflowStarted))
	assert.Equal(t, 2, f.notifier.countKind(entity.NotifyApprovalRequest))
}

func TestStartWorkflow_SubjectNotFound(t *testing.T) {
	f := newEngineFixture(t)
	f.catalog.defaultTpl = twoStageTemplate()

	_, err := f.engine.StartWorkflow(context.Background(), StartRequest{
		SubjectID: "missing",
		Initiator: "dana",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartWorkflow_NoDefaultTemplate(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.StartWorkflow(context.Background(), StartRequest{
		SubjectID: "policy-1",
		Initiator: "dana",
	})
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestStartWorkflow_InvalidCustomStages(t *testing.T) {
	f := newEngineFixture(t)

	tests := []struct {
		name   string
		stages []entity.Stage
	}{
		{
			name: "duplicate order",
			stages: []entity.Stage{
				{Name: "A", Order: 1, Approvers: []string{"alice"}},
				{Name: "B", Order: 1, Approvers: []string{"bob"}},
			},
		},
		{
			name: "no approvers",
			stages: []entity.Stage{
				{Name: "A", Order: 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.StartWorkflow(context.Background(), StartRequest{
				SubjectID:    "policy-1",
				CustomStages: tt.stages,
				Initiator:    "dana",
			})
			assert.ErrorIs(t, err, ErrInvalidStages)
		})
	}
}

func TestSubmitDecision_AdvanceAndComplete(t *testing.T) {
	f := newEngineFixture(t)
	f.catalog.defaultTpl = twoStageTemplate()
	ctx := context.Background()

	instance, err := f.engine.StartWorkflow(ctx, StartRequest{SubjectID: "policy-1", Initiator: "dana"})
	require.NoError(t, err)

	decisions, err := f.decisionRepo.GetByStage(ctx, instance.ID, "stage-1")
	require.NoError(t, err)
	require.Len(t, decisions, 2)

	// First approval leaves the stage open.
	_, err = f.engine.SubmitDecision(ctx, decisions[0].ID, true, "looks fine")
	require.NoError(t, err)

	current, err := f.instanceRepo.GetByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "stage-1", current.CurrentStageID)

	// Second approval completes the stage and advances.
	_, err = f.engine.SubmitDecision(ctx, decisions[1].ID, true, "")
	require.NoError(t, err)

	current, err = f.instanceRepo.GetByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "stage-2", current.CurrentStageID)
	assert.Equal(t, 2, current.CurrentStageOrder)
	assert.Equal(t, entity.StatusPendingApproval, current.Status)

	stage2, err := f.decisionRepo.GetByStage(ctx, instance.ID, "stage-2")
	require.NoError(t, err)
	require.Len(t, stage2, 1)
	assert.Equal(t, "carol", stage2[0].ApproverID)

	// Final approver completes the workflow.
	_, err = f.engine.SubmitDecision(ctx, stage2[0].ID, true, "")
	require.NoError(t, err)

	final, err := f.instanceRepo.GetByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, final.Status)
	require.NotNil(t, final.CompletedAt)
	assert.Equal(t, entity.SubjectStatusApproved, f.subjects.statuses["policy-1"])
	assert.True(t, f.recorder.has(entity.HistoryStageAdvanced))
	assert.True(t, f.recorder.has(entity.HistoryWorkflowApproved))
	assert.Equal(t, 1, f.notifier.countKind(entity.NotifyWorkflowCompleted))

	// Resubmitting a resolved decision fails cleanly.
	_, err = f.engine.SubmitDecision(ctx, stage2[0].ID, false, "")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSubmitDecision_RejectionHaltsWorkflow(t *testing.T) {
	f := newEngineFixture(t)
	f.catalog.defaultTpl = &entity.WorkflowTemplate{
		ID:     "tpl-reject",
		Name:   "Quick Gate",
		Active: true,
		Stages: []entity.Stage{
			{
				ID:        "gate",
				Name:      "Gate",
				Type:      entity.StageTypeApproval,
				Order:     1,
				Approvers: []string{"alice", "bob"},
				Rule:      entity.RuleAnyOneApproves,
			},
			{
				ID:        "never",
				Name:      "Never Reached",
				Type:      entity.StageTypeFinalApproval,
				Order:     2,
				Approvers: []string{"carol"},
			},
		},
	}
	ctx := context.Background()

	instance, err := f.engine.StartWorkflow(ctx, StartRequest{SubjectID: "policy-1", Initiator: "dana"})
	require.NoError(t, err)

	decisions, err := f.decisionRepo.GetByStage(ctx, instance.ID, "gate")
	require.NoError(t, err)
	require.Len(t, decisions, 2)

	_, err = f.engine.SubmitDecision(ctx, decisions[0].ID, false, "not compliant")
	require.NoError(t, err)

	final, err := f.instanceRepo.GetByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRejected, final.Status)
	require.NotNil(t, final.CompletedAt)
	assert.Equal(t, entity.SubjectStatusRejected, f.subjects.statuses["policy-1"])
	assert.True(t, f.recorder.has(entity.HistoryWorkflowRejected))

	// The second stage was never opened.
	never, err := f.decisionRepo.GetByStage(ctx, instance.ID, "never")
	require.NoError(t, err)
	assert.Empty(t, never)

	// The other gate approver can no longer act.
	_, err = f.engine.SubmitDecision(ctx, decisions[1].ID, true, "")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSubmitDecision_CommentRequired(t *testing.T) {
	f := newEngineFixture(t)
	f.catalog.defaultTpl = &entity.WorkflowTemplate{
		ID:     "tpl-comment",
		Name:   "Legal",
		Active: true,
		Stages: []entity.Stage{
			{
				ID:             "legal",
				Name:           "Legal Review",
				Type:           entity.StageTypeLegalReview,
				Order:          1,
				Approvers:      []string{"alice"},
				Rule:           entity.RuleAnyOneApproves,
				RequireComment: true,
			},
		},
	}
	ctx := context.Background()

	instance, err := f.engine.StartWorkflow(ctx, StartRequest{SubjectID: "policy-1", Initiator: "dana"})
	require.NoError(t, err)

	decisions, err := f.decisionRepo.GetByStage(ctx, instance.ID, "legal")
	require.NoError(t, err)
	require.Len(t, decisions, 1)

	_, err = f.engine.SubmitDecision(ctx, decisions[0].ID, true, "   ")
	assert.ErrorIs(t, err, ErrCommentRequired)

	// The decision is untouched and still actionable.
	d, err := f.decisionRepo.GetByID(ctx, decisions[0].ID)
	require.NoError(t, err)
	assert.True(t, d.IsPending())

	_, err = f.engine.SubmitDecision(ctx, decisions[0].ID, true, "reviewed clause 4")
	require.NoError(t, err)
}

func TestStartWorkflow_DelegationAppliedOnce(t *testing.T) {
	f := newEngineFixture(t)
	f.resolver.mapping["alice"] = "bob"
	f.catalog.defaultTpl = &entity.WorkflowTemplate{
		ID:     "tpl-delegate",
		Name:   "Delegated",
		Active: true,
		Stages: []entity.Stage{
			{
				ID:        "s1",
				Name:      "Review",
				Order:     1,
				Approvers: []string{"alice", "bob"},
				Rule:      entity.RuleAllMustApprove,
			},
		},
	}
	ctx := context.Background()

	instance, err := f.engine.StartWorkflow(ctx, StartRequest{SubjectID: "policy-1", Initiator: "dana"})
	require.NoError(t, err)

	// alice resolves to bob, so the two approvers collapse into one decision.
	decisions, err := f.decisionRepo.GetByStage(ctx, instance.ID, "s1")
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "bob", decisions[0].ApproverID)
	assert.Equal(t, "alice", decisions[0].OriginalApproverID)
	assert.Equal(t, "alice", decisions[0].DelegatorID)
	assert.True(t, decisions[0].IsDelegated())

	// Removing the delegation later does not re-route the existing decision.
	delete(f.resolver.mapping, "alice")
	d, err := f.decisionRepo.GetByID(ctx, decisions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", d.ApproverID)
}

func TestSubmitDecision_MajorityCompletesEarly(t *testing.T) {
	f := newEngineFixture(t)
	f.catalog.defaultTpl = &entity.WorkflowTemplate{
		ID:     "tpl-majority",
		Name:   "Board",
		Active: true,
		Stages: []entity.Stage{
			{
				ID:        "board",
				Name:      "Board Vote",
				Order:     1,
				Approvers: []string{"alice", "bob", "carol"},
				Rule:      entity.RuleMajorityApproves,
			},
		},
	}
	ctx := context.Background()

	instance, err := f.engine.StartWorkflow(ctx, StartRequest{SubjectID: "policy-1", Initiator: "dana"})
	require.NoError(t, err)

	decisions, err := f.decisionRepo.GetByStage(ctx, instance.ID, "board")
	require.NoError(t, err)
	require.Len(t, decisions, 3)

	_, err = f.engine.SubmitDecision(ctx, decisions[0].ID, true, "")
	require.NoError(t, err)
	_, err = f.engine.SubmitDecision(ctx, decisions[1].ID, true, "")
	require.NoError(t, err)

	final, err := f.instanceRepo.GetByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, final.Status)

	// The third vote arrives too late.
	_, err = f.engine.SubmitDecision(ctx, decisions[2].ID, false, "")
	assert.ErrorIs(t, err, ErrInvalidState)
}
