package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/complyflow/policy-workflow/internal/application/port"
	"github.com/complyflow/policy-workflow/internal/delegation"
	"github.com/complyflow/policy-workflow/internal/domain/entity"
)

// defaultDueInDays applies when a stage carries no due-in-days configuration.
const defaultDueInDays = 7

// TemplateCatalog is the subset of the template catalog the engine needs.
type TemplateCatalog interface {
	Get(ctx context.Context, id string) (*entity.WorkflowTemplate, error)
	GetDefault(ctx context.Context, category string) (*entity.WorkflowTemplate, error)
}

// DelegationResolver resolves an approver identity at decision-creation time.
type DelegationResolver interface {
	Resolve(ctx context.Context, approverID string, at time.Time, category string) (delegation.Resolution, error)
}

// Engine orchestrates workflow instances: creation, stage advancement,
// rejection and completion. All collaborators are injected explicitly.
type Engine struct {
	templates    TemplateCatalog
	delegations  DelegationResolver
	instanceRepo port.InstanceRepository
	decisionRepo port.DecisionRepository
	subjects     port.SubjectStore
	notifier     port.NotificationDispatcher
	recorder     port.HistoryRecorder
	txManager    port.TransactionManager
	locks        *InstanceLocks
	logger       *zap.Logger
	now          func() time.Time

	defaultDueDays int
}

// NewEngine creates a new workflow engine
func NewEngine(
	templates TemplateCatalog,
	delegations DelegationResolver,
	instanceRepo port.InstanceRepository,
	decisionRepo port.DecisionRepository,
	subjects port.SubjectStore,
	notifier port.NotificationDispatcher,
	recorder port.HistoryRecorder,
	txManager port.TransactionManager,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		templates:    templates,
		delegations:  delegations,
		instanceRepo: instanceRepo,
		decisionRepo: decisionRepo,
		subjects:     subjects,
		notifier:     notifier,
		recorder:     recorder,
		txManager:    txManager,
		locks:        NewInstanceLocks(),
		logger:       logger,
		now:          time.Now,

		defaultDueDays: defaultDueInDays,
	}
}

// SetDefaultDueInDays overrides the due window applied to stages that carry
// no due-in-days of their own.
func (e *Engine) SetDefaultDueInDays(days int) {
	if days > 0 {
		e.defaultDueDays = days
	}
}

// StartRequest carries the inputs for starting a workflow. CustomStages, when
// set, take precedence over TemplateID; with neither, the category default
// template is used.
type StartRequest struct {
	SubjectID    string
	TemplateID   string
	CustomStages []entity.Stage
	Initiator    string
}

// StartWorkflow resolves and snapshots the stage list, creates the first
// stage's decisions with delegation applied, and persists everything
// atomically. A failed start leaves no instance behind.
func (e *Engine) StartWorkflow(ctx context.Context, req StartRequest) (*entity.WorkflowInstance, error) {
	subject, err := e.subjects.GetSubject(ctx, req.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}
	if subject == nil {
		return nil, fmt.Errorf("subject %s: %w", req.SubjectID, ErrNotFound)
	}

	stages, err := e.resolveStages(ctx, req, subject.Category)
	if err != nil {
		return nil, err
	}

	now := e.now()
	instance := &entity.WorkflowInstance{
		ID:                uuid.NewString(),
		SubjectID:         req.SubjectID,
		Category:          subject.Category,
		Stages:            stages,
		CurrentStageID:    stages[0].ID,
		CurrentStageOrder: stages[0].Order,
		Status:            stages[0].PendingStatus(),
		Initiator:         req.Initiator,
		StartedAt:         now,
	}

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.instanceRepo.Create(txCtx, instance); err != nil {
			return fmt.Errorf("failed to create instance: %w", err)
		}
		decisions, err := e.createStageDecisions(txCtx, instance, &instance.Stages[0], now)
		if err != nil {
			return err
		}
		if len(decisions) == 0 {
			return fmt.Errorf("stage %s has no resolvable approvers: %w", instance.Stages[0].Name, ErrInvalidStages)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Workflow started",
		zap.String("instance_id", instance.ID),
		zap.String("subject_id", instance.SubjectID),
		zap.String("stage", instance.Stages[0].Name),
		zap.Int("stage_count", len(instance.Stages)))

	// Collaborator effects are observability, not correctness.
	e.setSubjectStatus(ctx, instance.SubjectID, entity.SubjectStatusInReview)
	e.record(ctx, instance.ID, entity.HistoryWorkflowStarted,
		fmt.Sprintf("subject=%s initiator=%s stages=%d", instance.SubjectID, instance.Initiator, len(instance.Stages)))
	e.notifyStageApprovers(ctx, instance, instance.CurrentStageID, entity.NotifyApprovalRequest)

	return instance, nil
}

// SubmitDecision records an approver's response and runs stage-completion
// processing. Submitting against a resolved decision or a stage that is no
// longer current fails with ErrInvalidState and changes nothing.
func (e *Engine) SubmitDecision(ctx context.Context, decisionID string, approved bool, comments string) (*entity.ApprovalDecision, error) {
	probe, err := e.decisionRepo.GetByID(ctx, decisionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	if probe == nil {
		return nil, fmt.Errorf("decision %s: %w", decisionID, ErrNotFound)
	}

	unlock := e.locks.Lock(probe.InstanceID)
	defer unlock()

	decision, instance, err := e.loadPending(ctx, decisionID)
	if err != nil {
		return nil, err
	}

	stage := instance.StageByID(decision.StageID)
	if stage == nil {
		return nil, fmt.Errorf("stage %s missing from instance snapshot: %w", decision.StageID, ErrInvalidState)
	}
	if stage.RequireComment && strings.TrimSpace(comments) == "" {
		return nil, fmt.Errorf("stage %s: %w", stage.Name, ErrCommentRequired)
	}

	tr, err := e.resolveDecision(ctx, instance, decision, approved, comments)
	if err != nil {
		return nil, err
	}

	e.record(ctx, instance.ID, entity.HistoryDecisionSubmitted,
		fmt.Sprintf("decision=%s approver=%s value=%s", decision.ID, decision.ApproverID, decision.Value))
	e.applyTransitionEffects(ctx, instance, tr)

	return decision, nil
}

// ApplyAutoDecision resolves a decision on behalf of the escalation engine,
// as if the approver had responded. The comment-required rule does not apply
// to automated responses.
func (e *Engine) ApplyAutoDecision(ctx context.Context, decisionID string, approved bool, reason string) error {
	probe, err := e.decisionRepo.GetByID(ctx, decisionID)
	if err != nil {
		return fmt.Errorf("failed to get decision: %w", err)
	}
	if probe == nil {
		return fmt.Errorf("decision %s: %w", decisionID, ErrNotFound)
	}

	unlock := e.locks.Lock(probe.InstanceID)
	defer unlock()

	decision, instance, err := e.loadPending(ctx, decisionID)
	if err != nil {
		return err
	}

	tr, err := e.resolveDecision(ctx, instance, decision, approved, reason)
	if err != nil {
		return err
	}

	e.record(ctx, instance.ID, entity.HistoryDecisionSubmitted,
		fmt.Sprintf("decision=%s approver=%s value=%s auto=true", decision.ID, decision.ApproverID, decision.Value))
	e.applyTransitionEffects(ctx, instance, tr)

	return nil
}

// LockInstance acquires the per-instance mutex shared by the submission path
// and the escalation sweep. The returned function releases it.
func (e *Engine) LockInstance(instanceID string) func() {
	return e.locks.Lock(instanceID)
}

// GetInstance retrieves an instance by id.
func (e *Engine) GetInstance(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	instance, err := e.instanceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	if instance == nil {
		return nil, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	return instance, nil
}

// ListInstances retrieves a paginated list of instances.
func (e *Engine) ListInstances(ctx context.Context, limit, offset int) ([]*entity.WorkflowInstance, error) {
	return e.instanceRepo.List(ctx, limit, offset)
}

// InstanceDecisions returns all decisions belonging to an instance.
func (e *Engine) InstanceDecisions(ctx context.Context, instanceID string) ([]*entity.ApprovalDecision, error) {
	return e.decisionRepo.GetByInstanceID(ctx, instanceID)
}

// resolveStages picks the stage list for a start request: custom stages win,
// then the explicit template, then the category default.
func (e *Engine) resolveStages(ctx context.Context, req StartRequest, category string) ([]entity.Stage, error) {
	switch {
	case len(req.CustomStages) > 0:
		return normalizeStages(req.CustomStages)

	case req.TemplateID != "":
		tpl, err := e.templates.Get(ctx, req.TemplateID)
		if err != nil {
			return nil, err
		}
		return normalizeStages(tpl.Stages)

	default:
		tpl, err := e.templates.GetDefault(ctx, category)
		if err != nil {
			return nil, err
		}
		if tpl == nil {
			return nil, fmt.Errorf("category %q: %w", category, ErrTemplateNotFound)
		}
		return normalizeStages(tpl.Stages)
	}
}

// loadPending loads a decision and its instance under the instance lock and
// verifies the decision is still actionable.
func (e *Engine) loadPending(ctx context.Context, decisionID string) (*entity.ApprovalDecision, *entity.WorkflowInstance, error) {
	decision, err := e.decisionRepo.GetByID(ctx, decisionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get decision: %w", err)
	}
	if decision == nil {
		return nil, nil, fmt.Errorf("decision %s: %w", decisionID, ErrNotFound)
	}
	if !decision.IsPending() {
		return nil, nil, fmt.Errorf("decision %s already resolved: %w", decisionID, ErrInvalidState)
	}

	instance, err := e.instanceRepo.GetByID(ctx, decision.InstanceID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get instance: %w", err)
	}
	if instance == nil {
		return nil, nil, fmt.Errorf("instance %s: %w", decision.InstanceID, ErrNotFound)
	}
	if instance.IsTerminal() {
		return nil, nil, fmt.Errorf("instance %s already %s: %w", instance.ID, instance.Status, ErrInvalidState)
	}
	if decision.StageID != instance.CurrentStageID {
		return nil, nil, fmt.Errorf("stage %s is not current: %w", decision.StageID, ErrInvalidState)
	}
	return decision, instance, nil
}

// transition describes what a resolved decision did to the instance.
type transition struct {
	stageComplete bool
	advancedTo    *entity.Stage
	newDecisions  []*entity.ApprovalDecision
	finalStatus   string
}

// resolveDecision records the decision value and runs stage-completion
// processing in a single transaction. Caller must hold the instance lock.
func (e *Engine) resolveDecision(ctx context.Context, instance *entity.WorkflowInstance, decision *entity.ApprovalDecision, approved bool, comments string) (*transition, error) {
	now := e.now()
	stage := instance.StageByID(decision.StageID)
	if stage == nil {
		return nil, fmt.Errorf("stage %s missing from instance snapshot: %w", decision.StageID, ErrInvalidState)
	}

	tr := &transition{}
	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		decision.Value = entity.DecisionApproved
		if !approved {
			decision.Value = entity.DecisionRejected
		}
		if comments != "" {
			decision.Comments = comments
		}
		decision.RespondedAt = &now

		if err := e.decisionRepo.Update(txCtx, decision); err != nil {
			return fmt.Errorf("failed to update decision: %w", err)
		}

		decisions, err := e.decisionRepo.GetByStage(txCtx, instance.ID, stage.ID)
		if err != nil {
			return fmt.Errorf("failed to load stage decisions: %w", err)
		}

		outcome := Evaluate(stage, decisions)
		if !outcome.Complete {
			return nil
		}
		tr.stageComplete = true

		if !outcome.Approved {
			// A single failed stage halts the whole workflow.
			return e.finalize(txCtx, instance, entity.StatusRejected, now, tr)
		}

		next := instance.NextStage(stage.Order)
		if next == nil {
			return e.finalize(txCtx, instance, entity.StatusApproved, now, tr)
		}

		created, err := e.createStageDecisions(txCtx, instance, next, now)
		if err != nil {
			return err
		}
		instance.CurrentStageID = next.ID
		instance.CurrentStageOrder = next.Order
		instance.Status = next.PendingStatus()
		if err := e.instanceRepo.Update(txCtx, instance); err != nil {
			return fmt.Errorf("failed to advance instance: %w", err)
		}
		tr.advancedTo = next
		tr.newDecisions = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tr, nil
}

// finalize marks the instance terminal inside the surrounding transaction.
func (e *Engine) finalize(txCtx context.Context, instance *entity.WorkflowInstance, status string, now time.Time, tr *transition) error {
	instance.Status = status
	instance.CompletedAt = &now
	if err := e.instanceRepo.Update(txCtx, instance); err != nil {
		return fmt.Errorf("failed to finalize instance: %w", err)
	}
	tr.finalStatus = status
	return nil
}

// createStageDecisions creates one Pending decision per resolved approver of
// the stage. Delegation is resolved here, once; approvers that resolve to the
// same delegate collapse into a single decision.
func (e *Engine) createStageDecisions(ctx context.Context, instance *entity.WorkflowInstance, stage *entity.Stage, now time.Time) ([]*entity.ApprovalDecision, error) {
	dueDays := stage.DueInDays
	if dueDays <= 0 {
		dueDays = e.defaultDueDays
	}
	dueAt := now.Add(time.Duration(dueDays) * 24 * time.Hour)

	seen := make(map[string]bool, len(stage.Approvers))
	var created []*entity.ApprovalDecision
	for _, approver := range stage.Approvers {
		resolution, err := e.delegations.Resolve(ctx, approver, now, instance.Category)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve approver %s: %w", approver, err)
		}
		if seen[resolution.ApproverID] {
			continue
		}
		seen[resolution.ApproverID] = true

		decision := &entity.ApprovalDecision{
			ID:                 uuid.NewString(),
			InstanceID:         instance.ID,
			StageID:            stage.ID,
			ApproverID:         resolution.ApproverID,
			OriginalApproverID: approver,
			Value:              entity.DecisionPending,
			RequestedAt:        now,
			DueAt:              dueAt,
		}
		if resolution.Delegated {
			decision.DelegatorID = resolution.Delegator
		}
		if err := e.decisionRepo.Create(ctx, decision); err != nil {
			return nil, fmt.Errorf("failed to create decision: %w", err)
		}
		created = append(created, decision)
	}
	return created, nil
}

// applyTransitionEffects performs the best-effort collaborator calls that
// follow a committed transition.
func (e *Engine) applyTransitionEffects(ctx context.Context, instance *entity.WorkflowInstance, tr *transition) {
	if tr.advancedTo != nil {
		e.logger.Info("Stage advanced",
			zap.String("instance_id", instance.ID),
			zap.String("stage", tr.advancedTo.Name),
			zap.Int("decisions", len(tr.newDecisions)))
		e.record(ctx, instance.ID, entity.HistoryStageAdvanced,
			fmt.Sprintf("stage=%s order=%d decisions=%d", tr.advancedTo.Name, tr.advancedTo.Order, len(tr.newDecisions)))
		for _, d := range tr.newDecisions {
			e.notify(ctx, d.ApproverID, entity.NotifyApprovalRequest, map[string]string{
				"instance_id": instance.ID,
				"decision_id": d.ID,
				"stage":       tr.advancedTo.Name,
				"due_at":      d.DueAt.Format(time.RFC3339),
			})
		}
		return
	}

	switch tr.finalStatus {
	case entity.StatusApproved:
		e.logger.Info("Workflow approved", zap.String("instance_id", instance.ID))
		e.setSubjectStatus(ctx, instance.SubjectID, entity.SubjectStatusApproved)
		e.record(ctx, instance.ID, entity.HistoryWorkflowApproved,
			fmt.Sprintf("duration=%s", instance.Duration()))
		e.notify(ctx, instance.Initiator, entity.NotifyWorkflowCompleted, map[string]string{
			"instance_id": instance.ID,
			"status":      instance.Status,
		})
	case entity.StatusRejected:
		e.logger.Info("Workflow rejected", zap.String("instance_id", instance.ID))
		e.setSubjectStatus(ctx, instance.SubjectID, entity.SubjectStatusRejected)
		e.record(ctx, instance.ID, entity.HistoryWorkflowRejected,
			fmt.Sprintf("duration=%s", instance.Duration()))
		e.notify(ctx, instance.Initiator, entity.NotifyWorkflowCompleted, map[string]string{
			"instance_id": instance.ID,
			"status":      instance.Status,
		})
	}
}

// notifyStageApprovers notifies every pending approver of a stage.
func (e *Engine) notifyStageApprovers(ctx context.Context, instance *entity.WorkflowInstance, stageID, kind string) {
	decisions, err := e.decisionRepo.GetByStage(ctx, instance.ID, stageID)
	if err != nil {
		e.logger.Warn("Failed to load decisions for notification",
			zap.String("instance_id", instance.ID), zap.Error(err))
		return
	}
	for _, d := range decisions {
		if !d.IsPending() {
			continue
		}
		e.notify(ctx, d.ApproverID, kind, map[string]string{
			"instance_id": instance.ID,
			"decision_id": d.ID,
			"due_at":      d.DueAt.Format(time.RFC3339),
		})
	}
}

func (e *Engine) notify(ctx context.Context, recipient, kind string, details map[string]string) {
	if err := e.notifier.Notify(ctx, recipient, kind, details); err != nil {
		e.logger.Warn("Notification failed",
			zap.String("recipient", recipient),
			zap.String("kind", kind),
			zap.Error(err))
	}
}

func (e *Engine) record(ctx context.Context, instanceID, action, details string) {
	if err := e.recorder.Record(ctx, instanceID, action, details); err != nil {
		e.logger.Warn("History record failed",
			zap.String("instance_id", instanceID),
			zap.String("action", action),
			zap.Error(err))
	}
}

func (e *Engine) setSubjectStatus(ctx context.Context, subjectID, status string) {
	if err := e.subjects.SetSubjectStatus(ctx, subjectID, status); err != nil {
		e.logger.Warn("Subject status update failed",
			zap.String("subject_id", subjectID),
			zap.String("status", status),
			zap.Error(err))
	}
}

// normalizeStages validates and normalizes a stage list: at least one stage,
// every stage has approvers, orders strictly increasing. Missing ids and
// rules get defaults; the returned slice is a copy sorted by order.
func normalizeStages(stages []entity.Stage) ([]entity.Stage, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("empty stage list: %w", ErrInvalidStages)
	}

	out := make([]entity.Stage, len(stages))
	copy(out, stages)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })

	for i := range out {
		if i > 0 && out[i].Order <= out[i-1].Order {
			return nil, fmt.Errorf("stage order %d not strictly increasing: %w", out[i].Order, ErrInvalidStages)
		}
		if len(out[i].Approvers) == 0 {
			return nil, fmt.Errorf("stage %q has no approvers: %w", out[i].Name, ErrInvalidStages)
		}
		if out[i].ID == "" {
			out[i].ID = uuid.NewString()
		}
		if out[i].Rule == "" {
			out[i].Rule = entity.RuleAllMustApprove
		}
		if out[i].Type == "" {
			out[i].Type = entity.StageTypeApproval
		}
	}
	return out, nil
}
