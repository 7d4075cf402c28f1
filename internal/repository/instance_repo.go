package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/complyflow/policy-workflow/internal/application/port"
	"github.com/complyflow/policy-workflow/internal/domain/entity"
	"github.com/complyflow/policy-workflow/pkg/database"
)

// InstanceRepository implements port.InstanceRepository on sqlite
type InstanceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *sql.DB, logger *zap.Logger) port.InstanceRepository {
	return &InstanceRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new workflow instance
func (r *InstanceRepository) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	stagesJSON, err := json.Marshal(instance.Stages)
	if err != nil {
		return fmt.Errorf("failed to marshal stage snapshot: %w", err)
	}

	query := `
		INSERT INTO workflow_instances (
			id, subject_id, category, stages, current_stage_id,
			current_stage_order, status, initiator, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var completedAt sql.NullTime
	if instance.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *instance.CompletedAt, Valid: true}
	}

	_, err = database.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		instance.ID,
		instance.SubjectID,
		instance.Category,
		string(stagesJSON),
		instance.CurrentStageID,
		instance.CurrentStageOrder,
		instance.Status,
		instance.Initiator,
		instance.StartedAt,
		completedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create instance", zap.String("id", instance.ID), zap.Error(err))
		return fmt.Errorf("failed to create instance: %w", err)
	}
	return nil
}

// GetByID retrieves a workflow instance by ID, nil when absent
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	query := instanceSelect + ` WHERE id = ?`
	row := database.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id)
	instance, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get instance", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return instance, nil
}

// GetBySubjectID retrieves all instances for a subject, newest first
func (r *InstanceRepository) GetBySubjectID(ctx context.Context, subjectID string) ([]*entity.WorkflowInstance, error) {
	query := instanceSelect + ` WHERE subject_id = ? ORDER BY started_at DESC`
	rows, err := database.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, subjectID)
	if err != nil {
		r.logger.Error("Failed to get instances by subject", zap.String("subject_id", subjectID), zap.Error(err))
		return nil, fmt.Errorf("failed to get instances: %w", err)
	}
	defer rows.Close()
	return collectInstances(rows)
}

// Update persists the instance's derived fields after advancement or
// finalization
func (r *InstanceRepository) Update(ctx context.Context, instance *entity.WorkflowInstance) error {
	query := `
		UPDATE workflow_instances
		SET current_stage_id = ?, current_stage_order = ?, status = ?,
			completed_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	var completedAt sql.NullTime
	if instance.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *instance.CompletedAt, Valid: true}
	}

	_, err := database.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		instance.CurrentStageID,
		instance.CurrentStageOrder,
		instance.Status,
		completedAt,
		instance.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update instance", zap.String("id", instance.ID), zap.Error(err))
		return fmt.Errorf("failed to update instance: %w", err)
	}
	return nil
}

// List retrieves workflow instances with pagination, newest first
func (r *InstanceRepository) List(ctx context.Context, limit, offset int) ([]*entity.WorkflowInstance, error) {
	query := instanceSelect + ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	rows, err := database.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list instances", zap.Error(err))
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()
	return collectInstances(rows)
}

const instanceSelect = `
	SELECT id, subject_id, category, stages, current_stage_id,
		current_stage_order, status, initiator, started_at, completed_at,
		created_at, updated_at
	FROM workflow_instances`

func scanInstance(row rowScanner) (*entity.WorkflowInstance, error) {
	var instance entity.WorkflowInstance
	var stagesJSON string
	var completedAt sql.NullTime

	err := row.Scan(
		&instance.ID,
		&instance.SubjectID,
		&instance.Category,
		&stagesJSON,
		&instance.CurrentStageID,
		&instance.CurrentStageOrder,
		&instance.Status,
		&instance.Initiator,
		&instance.StartedAt,
		&completedAt,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(stagesJSON), &instance.Stages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stage snapshot: %w", err)
	}
	if completedAt.Valid {
		instance.CompletedAt = &completedAt.Time
	}
	return &instance, nil
}

func collectInstances(rows *sql.Rows) ([]*entity.WorkflowInstance, error) {
	var instances []*entity.WorkflowInstance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, instance)
	}
	return instances, rows.Err()
}

// Verify interface compliance
var _ port.InstanceRepository = (*InstanceRepository)(nil)
