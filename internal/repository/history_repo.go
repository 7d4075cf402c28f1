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

// HistoryRepository implements port.HistoryRepository on sqlite. It also
// satisfies port.HistoryRecorder so the engine and sweeper can append audit
// records without knowing about persistence.
type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) *HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends a history record and fills in its generated ID
func (r *HistoryRepository) Create(ctx context.Context, record *entity.WorkflowHistory) error {
	query := `
		INSERT INTO workflow_history (instance_id, action, details, timestamp)
		VALUES (?, ?, ?, ?)
	`
	result, err := database.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		record.InstanceID,
		record.Action,
		record.Details,
		record.Timestamp,
	)
	if err != nil {
		r.logger.Error("Failed to create history record", zap.String("instance_id", record.InstanceID), zap.Error(err))
		return fmt.Errorf("failed to create history record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get history record id: %w", err)
	}
	record.ID = id
	return nil
}

// GetByInstanceID retrieves the audit trail of an instance in insertion order
func (r *HistoryRepository) GetByInstanceID(ctx context.Context, instanceID string) ([]*entity.WorkflowHistory, error) {
	query := `
		SELECT id, instance_id, action, details, timestamp
		FROM workflow_history
		WHERE instance_id = ?
		ORDER BY id
	`
	rows, err := database.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, instanceID)
	if err != nil {
		r.logger.Error("Failed to get history", zap.String("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var records []*entity.WorkflowHistory
	for rows.Next() {
		var record entity.WorkflowHistory
		err := rows.Scan(
			&record.ID,
			&record.InstanceID,
			&record.Action,
			&record.Details,
			&record.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}

// Record appends an audit record stamped with the current time
func (r *HistoryRepository) Record(ctx context.Context, instanceID, action, details string) error {
	return r.Create(ctx, &entity.WorkflowHistory{
		InstanceID: instanceID,
		Action:     action,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	})
}

// Verify interface compliance
var (
	_ port.HistoryRepository = (*HistoryRepository)(nil)
	_ port.HistoryRecorder   = (*HistoryRepository)(nil)
)
