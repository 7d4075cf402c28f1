// Package escalation implements the periodic sweep over overdue pending
// decisions. The sweep is timer-driven, never event-driven, and shares the
// per-instance lock discipline with the submission path through the engine.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/complyflow/policy-workflow/internal/application/port"
	"github.com/complyflow/policy-workflow/internal/domain/entity"
	"github.com/complyflow/policy-workflow/internal/workflow"
)

// Defaults for stage-level escalation overrides, which configure no
// max-escalations or cooldown of their own.
const (
	stageRuleMaxEscalations = 1
	stageRuleIntervalDays   = 1
)

// SweepResult summarizes one escalation run. Per-decision failures are
// isolated and counted rather than aborting the batch.
type SweepResult struct {
	Processed    int `json:"processed"`
	Escalated    int `json:"escalated"`
	Notified     int `json:"notified"`
	AutoApproved int `json:"auto_approved"`
	AutoRejected int `json:"auto_rejected"`
	Reassigned   int `json:"reassigned"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`
}

// Sweeper scans overdue pending decisions and applies escalation rules.
type Sweeper struct {
	ruleRepo     port.EscalationRuleRepository
	decisionRepo port.DecisionRepository
	instanceRepo port.InstanceRepository
	engine       *workflow.Engine
	notifier     port.NotificationDispatcher
	recorder     port.HistoryRecorder
	logger       *zap.Logger

	batchSize int
	now       func() time.Time
}

// NewSweeper creates a new escalation sweeper
func NewSweeper(
	ruleRepo port.EscalationRuleRepository,
	decisionRepo port.DecisionRepository,
	instanceRepo port.InstanceRepository,
	engine *workflow.Engine,
	notifier port.NotificationDispatcher,
	recorder port.HistoryRecorder,
	logger *zap.Logger,
) *Sweeper {
	return &Sweeper{
		ruleRepo:     ruleRepo,
		decisionRepo: decisionRepo,
		instanceRepo: instanceRepo,
		engine:       engine,
		notifier:     notifier,
		recorder:     recorder,
		logger:       logger,
		batchSize:    200,
		now:          time.Now,
	}
}

// SetBatchSize overrides the per-sweep decision limit
func (s *Sweeper) SetBatchSize(n int) {
	if n > 0 {
		s.batchSize = n
	}
}

// Run executes one sweep: load active rules by priority, load overdue pending
// decisions, apply the first matching rule to each. One failing decision does
// not stop the rest.
func (s *Sweeper) Run(ctx context.Context) (*SweepResult, error) {
	now := s.now()
	result := &SweepResult{}

	rules, err := s.ruleRepo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load escalation rules: %w", err)
	}

	overdue, err := s.decisionRepo.ListOverduePending(ctx, now, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load overdue decisions: %w", err)
	}

	for _, decision := range overdue {
		result.Processed++
		if err := s.processDecision(ctx, decision, rules, now, result); err != nil {
			result.Failed++
			s.logger.Error("Escalation failed for decision",
				zap.String("decision_id", decision.ID),
				zap.Error(err))
		}
	}

	if result.Processed > 0 {
		s.logger.Info("Escalation sweep completed",
			zap.Int("processed", result.Processed),
			zap.Int("escalated", result.Escalated),
			zap.Int("auto_approved", result.AutoApproved),
			zap.Int("auto_rejected", result.AutoRejected),
			zap.Int("failed", result.Failed))
	}
	return result, nil
}

func (s *Sweeper) processDecision(ctx context.Context, decision *entity.ApprovalDecision, rules []*entity.EscalationRule, now time.Time, result *SweepResult) error {
	instance, err := s.instanceRepo.GetByID(ctx, decision.InstanceID)
	if err != nil {
		return fmt.Errorf("failed to get instance: %w", err)
	}
	if instance == nil || instance.IsTerminal() || decision.StageID != instance.CurrentStageID {
		// Stale: the stage resolved between the query and now.
		result.Skipped++
		return nil
	}

	stage := instance.StageByID(decision.StageID)
	if stage == nil {
		result.Skipped++
		return nil
	}

	rule := s.matchRule(decision, stage, instance.Category, rules, now)
	if rule == nil {
		result.Skipped++
		return nil
	}

	if decision.EscalationLevel > 0 && decision.LastEscalatedAt != nil {
		cooldown := time.Duration(rule.IntervalDays) * 24 * time.Hour
		if now.Sub(*decision.LastEscalatedAt) < cooldown {
			result.Skipped++
			return nil
		}
	}

	switch rule.Action {
	case entity.EscalationAutoApprove, entity.EscalationAutoReject:
		return s.applyAutoAction(ctx, rule, decision, now, result)
	case entity.EscalationNotify, entity.EscalationNotifyManager, entity.EscalationReassign:
		return s.applyDecisionAction(ctx, rule, decision, instance, now, result)
	default:
		return fmt.Errorf("unknown escalation action %q", rule.Action)
	}
}

// applyAutoAction resolves the decision through the engine (which serializes
// on the instance lock itself), then records the escalation level. The
// resolved decision is no longer mutated by anyone else, so the level bump
// needs no lock.
func (s *Sweeper) applyAutoAction(ctx context.Context, rule *entity.EscalationRule, decision *entity.ApprovalDecision, now time.Time, result *SweepResult) error {
	approve := rule.Action == entity.EscalationAutoApprove
	reason := "auto-rejected by escalation rule " + rule.Name
	if approve {
		reason = "auto-approved by escalation rule " + rule.Name
	}
	if err := s.engine.ApplyAutoDecision(ctx, decision.ID, approve, reason); err != nil {
		if errors.Is(err, workflow.ErrInvalidState) {
			// An approver resolved it between the overdue scan and the lock.
			result.Skipped++
			return nil
		}
		return fmt.Errorf("auto decision failed: %w", err)
	}

	current, err := s.decisionRepo.GetByID(ctx, decision.ID)
	if err != nil {
		return fmt.Errorf("failed to reload decision: %w", err)
	}
	if current == nil {
		return fmt.Errorf("decision %s vanished during escalation", decision.ID)
	}
	current.EscalationLevel++
	current.LastEscalatedAt = &now
	if err := s.decisionRepo.Update(ctx, current); err != nil {
		return fmt.Errorf("failed to record escalation level: %w", err)
	}

	if approve {
		result.AutoApproved++
	} else {
		result.AutoRejected++
	}
	result.Escalated++
	s.recordHistory(ctx, decision.InstanceID, entity.HistoryDecisionEscalated,
		fmt.Sprintf("decision=%s action=%s level=%d", decision.ID, rule.Action, current.EscalationLevel))
	return nil
}

// applyDecisionAction handles the actions that mutate a still-pending
// decision without resolving it. Runs under the instance lock so a racing
// submission cannot be clobbered; the level bump shares the same update.
func (s *Sweeper) applyDecisionAction(ctx context.Context, rule *entity.EscalationRule, decision *entity.ApprovalDecision, instance *entity.WorkflowInstance, now time.Time, result *SweepResult) error {
	unlock := s.engine.LockInstance(decision.InstanceID)
	defer unlock()

	fresh, err := s.decisionRepo.GetByID(ctx, decision.ID)
	if err != nil {
		return fmt.Errorf("failed to reload decision: %w", err)
	}
	if fresh == nil || !fresh.IsPending() {
		// Resolved while we waited for the lock.
		result.Skipped++
		return nil
	}

	// Re-check level and cooldown on the fresh read: a concurrent sweep may
	// have escalated this decision after the unlocked pre-check.
	if fresh.EscalationLevel >= rule.MaxEscalations {
		result.Skipped++
		return nil
	}
	if fresh.EscalationLevel > 0 && fresh.LastEscalatedAt != nil {
		cooldown := time.Duration(rule.IntervalDays) * 24 * time.Hour
		if now.Sub(*fresh.LastEscalatedAt) < cooldown {
			result.Skipped++
			return nil
		}
	}

	switch rule.Action {
	case entity.EscalationNotify:
		s.notify(ctx, fresh.ApproverID, entity.NotifyApprovalReminder, fresh, instance)
		fresh.NotificationsSent++
		result.Notified++

	case entity.EscalationNotifyManager:
		for _, target := range rule.TargetIDs {
			s.notify(ctx, target, entity.NotifyEscalationAlert, fresh, instance)
		}
		fresh.NotificationsSent++
		result.Notified++

	case entity.EscalationReassign:
		if len(rule.TargetIDs) == 0 {
			return fmt.Errorf("reassign rule %s has no targets", rule.ID)
		}
		backup := rule.TargetIDs[0]
		fresh.ApproverID = backup
		s.notify(ctx, backup, entity.NotifyDecisionReassigned, fresh, instance)
		s.recordHistory(ctx, instance.ID, entity.HistoryDecisionReassigned,
			fmt.Sprintf("decision=%s approver=%s", fresh.ID, backup))
		result.Reassigned++
	}

	fresh.EscalationLevel++
	fresh.LastEscalatedAt = &now
	if err := s.decisionRepo.Update(ctx, fresh); err != nil {
		return fmt.Errorf("failed to update decision: %w", err)
	}
	result.Escalated++

	s.recordHistory(ctx, instance.ID, entity.HistoryDecisionEscalated,
		fmt.Sprintf("decision=%s action=%s level=%d", fresh.ID, rule.Action, fresh.EscalationLevel))
	return nil
}

// matchRule finds the first applicable rule. A stage-level escalation
// override, when enabled and triggered, outranks every registry rule; when
// present but disabled the stage is excluded from escalation entirely.
func (s *Sweeper) matchRule(decision *entity.ApprovalDecision, stage *entity.Stage, category string, rules []*entity.EscalationRule, now time.Time) *entity.EscalationRule {
	daysOverdue := decision.DaysOverdue(now)

	if stage.Escalation != nil {
		if !stage.Escalation.Enabled {
			return nil
		}
		if daysOverdue >= stage.Escalation.DueDays && decision.EscalationLevel < stageRuleMaxEscalations {
			return &entity.EscalationRule{
				ID:             "stage:" + stage.ID,
				Name:           stage.Name + " escalation",
				TriggerDays:    stage.Escalation.DueDays,
				Action:         stage.Escalation.Action,
				TargetType:     entity.TargetTypeUsers,
				TargetIDs:      stage.Escalation.Targets,
				MaxEscalations: stageRuleMaxEscalations,
				IntervalDays:   stageRuleIntervalDays,
				Active:         true,
			}
		}
		// Stage override not yet triggered; registry rules still apply.
	}

	for _, rule := range rules {
		if rule.TriggerDays > daysOverdue {
			continue
		}
		if decision.EscalationLevel >= rule.MaxEscalations {
			continue
		}
		if !rule.CoversCategory(category) || !rule.MatchesStageType(stage.Type) {
			continue
		}
		return rule
	}
	return nil
}

func (s *Sweeper) notify(ctx context.Context, recipient, kind string, decision *entity.ApprovalDecision, instance *entity.WorkflowInstance) {
	err := s.notifier.Notify(ctx, recipient, kind, map[string]string{
		"instance_id": instance.ID,
		"decision_id": decision.ID,
		"subject_id":  instance.SubjectID,
		"due_at":      decision.DueAt.Format(time.RFC3339),
	})
	if err != nil {
		s.logger.Warn("Escalation notification failed",
			zap.String("recipient", recipient),
			zap.String("kind", kind),
			zap.Error(err))
	}
}

func (s *Sweeper) recordHistory(ctx context.Context, instanceID, action, details string) {
	if err := s.recorder.Record(ctx, instanceID, action, details); err != nil {
		s.logger.Warn("History record failed",
			zap.String("instance_id", instanceID),
			zap.Error(err))
	}
}
