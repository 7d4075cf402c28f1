package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/complyflow/policy-workflow/internal/application/port"
	"github.com/complyflow/policy-workflow/internal/domain/entity"
	"github.com/complyflow/policy-workflow/pkg/database"
)

// DecisionRepository implements port.DecisionRepository on sqlite
type DecisionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDecisionRepository creates a new decision repository
func NewDecisionRepository(db *sql.DB, logger *zap.Logger) port.DecisionRepository {
	return &DecisionRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new approval decision
func (r *DecisionRepository) Create(ctx context.Context, decision *entity.ApprovalDecision) error {
	query := `
		INSERT INTO approval_decisions (
			id, instance_id, stage_id, approver_id, original_approver_id,
			delegator_id, value, comments, requested_at, due_at, responded_at,
			escalation_level, last_escalated_at, notifications_sent
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := database.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		decision.ID,
		decision.InstanceID,
		decision.StageID,
		decision.ApproverID,
		decision.OriginalApproverID,
		decision.DelegatorID,
		decision.Value,
		decision.Comments,
		decision.RequestedAt,
		decision.DueAt,
		nullTime(decision.RespondedAt),
		decision.EscalationLevel,
		nullTime(decision.LastEscalatedAt),
		decision.NotificationsSent,
	)
	if err != nil {
		r.logger.Error("Failed to create decision", zap.String("id", decision.ID), zap.Error(err))
		return fmt.Errorf("failed to create decision: %w", err)
	}
	return nil
}

// GetByID retrieves a decision by ID, nil when absent
func (r *DecisionRepository) GetByID(ctx context.Context, id string) (*entity.ApprovalDecision, error) {
	query := decisionSelect + ` WHERE id = ?`
	row := database.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id)
	decision, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get decision", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	return decision, nil
}

// GetByStage retrieves all decisions of one stage instance
func (r *DecisionRepository) GetByStage(ctx context.Context, instanceID, stageID string) ([]*entity.ApprovalDecision, error) {
	query := decisionSelect + ` WHERE instance_id = ? AND stage_id = ? ORDER BY requested_at, id`
	rows, err := database.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, instanceID, stageID)
	if err != nil {
		r.logger.Error("Failed to get stage decisions",
			zap.String("instance_id", instanceID),
			zap.String("stage_id", stageID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get stage decisions: %w", err)
	}
	defer rows.Close()
	return collectDecisions(rows)
}

// GetByInstanceID retrieves all decisions of an instance
func (r *DecisionRepository) GetByInstanceID(ctx context.Context, instanceID string) ([]*entity.ApprovalDecision, error) {
	query := decisionSelect + ` WHERE instance_id = ? ORDER BY requested_at, id`
	rows, err := database.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, instanceID)
	if err != nil {
		r.logger.Error("Failed to get instance decisions", zap.String("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to get instance decisions: %w", err)
	}
	defer rows.Close()
	return collectDecisions(rows)
}

// Update persists a decision's mutable fields
func (r *DecisionRepository) Update(ctx context.Context, decision *entity.ApprovalDecision) error {
	query := `
		UPDATE approval_decisions
		SET approver_id = ?, value = ?, comments = ?, responded_at = ?,
			escalation_level = ?, last_escalated_at = ?, notifications_sent = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	_, err := database.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		decision.ApproverID,
		decision.Value,
		decision.Comments,
		nullTime(decision.RespondedAt),
		decision.EscalationLevel,
		nullTime(decision.LastEscalatedAt),
		decision.NotificationsSent,
		decision.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update decision", zap.String("id", decision.ID), zap.Error(err))
		return fmt.Errorf("failed to update decision: %w", err)
	}
	return nil
}

// ListOverduePending retrieves pending decisions whose due date has passed,
// oldest due first
func (r *DecisionRepository) ListOverduePending(ctx context.Context, asOf time.Time, limit int) ([]*entity.ApprovalDecision, error) {
	query := decisionSelect + ` WHERE value = ? AND due_at < ? ORDER BY due_at LIMIT ?`
	rows, err := database.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, entity.DecisionPending, asOf, limit)
	if err != nil {
		r.logger.Error("Failed to list overdue decisions", zap.Error(err))
		return nil, fmt.Errorf("failed to list overdue decisions: %w", err)
	}
	defer rows.Close()
	return collectDecisions(rows)
}

const decisionSelect = `
	SELECT id, instance_id, stage_id, approver_id, original_approver_id,
		delegator_id, value, comments, requested_at, due_at, responded_at,
		escalation_level, last_escalated_at, notifications_sent,
		created_at, updated_at
	FROM approval_decisions`

func scanDecision(row rowScanner) (*entity.ApprovalDecision, error) {
	var d entity.ApprovalDecision
	var respondedAt, lastEscalatedAt sql.NullTime

	err := row.Scan(
		&d.ID,
		&d.InstanceID,
		&d.StageID,
		&d.ApproverID,
		&d.OriginalApproverID,
		&d.DelegatorID,
		&d.Value,
		&d.Comments,
		&d.RequestedAt,
		&d.DueAt,
		&respondedAt,
		&d.EscalationLevel,
		&lastEscalatedAt,
		&d.NotificationsSent,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if respondedAt.Valid {
		d.RespondedAt = &respondedAt.Time
	}
	if lastEscalatedAt.Valid {
		d.LastEscalatedAt = &lastEscalatedAt.Time
	}
	return &d, nil
}

func collectDecisions(rows *sql.Rows) ([]*entity.ApprovalDecision, error) {
	var decisions []*entity.ApprovalDecision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Verify interface compliance
var _ port.DecisionRepository = (*DecisionRepository)(nil)
