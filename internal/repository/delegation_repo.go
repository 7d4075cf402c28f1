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

// DelegationRepository implements port.DelegationRepository on sqlite
type DelegationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDelegationRepository creates a new delegation repository
func NewDelegationRepository(db *sql.DB, logger *zap.Logger) port.DelegationRepository {
	return &DelegationRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new delegation
func (r *DelegationRepository) Create(ctx context.Context, delegation *entity.Delegation) error {
	categoriesJSON, err := json.Marshal(delegation.Categories)
	if err != nil {
		return fmt.Errorf("failed to marshal categories: %w", err)
	}

	query := `
		INSERT INTO delegations (
			id, delegator_id, delegate_id, type, start_at, end_at,
			categories, active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = database.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		delegation.ID,
		delegation.DelegatorID,
		delegation.DelegateID,
		delegation.Type,
		delegation.StartAt,
		nullTime(delegation.EndAt),
		string(categoriesJSON),
		delegation.Active,
	)
	if err != nil {
		r.logger.Error("Failed to create delegation", zap.String("id", delegation.ID), zap.Error(err))
		return fmt.Errorf("failed to create delegation: %w", err)
	}
	return nil
}

// GetByID retrieves a delegation by ID, nil when absent
func (r *DelegationRepository) GetByID(ctx context.Context, id string) (*entity.Delegation, error) {
	query := delegationSelect + ` WHERE id = ?`
	row := database.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id)
	delegation, err := scanDelegation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get delegation", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get delegation: %w", err)
	}
	return delegation, nil
}

// ListByDelegator retrieves all delegations created by one delegator,
// newest first
func (r *DelegationRepository) ListByDelegator(ctx context.Context, delegatorID string) ([]*entity.Delegation, error) {
	query := delegationSelect + ` WHERE delegator_id = ? ORDER BY created_at DESC, id DESC`
	rows, err := database.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, delegatorID)
	if err != nil {
		r.logger.Error("Failed to list delegations", zap.String("delegator_id", delegatorID), zap.Error(err))
		return nil, fmt.Errorf("failed to list delegations: %w", err)
	}
	defer rows.Close()

	var delegations []*entity.Delegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delegation: %w", err)
		}
		delegations = append(delegations, d)
	}
	return delegations, rows.Err()
}

// SetActive toggles a delegation's active flag
func (r *DelegationRepository) SetActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE delegations SET active = ? WHERE id = ?`
	_, err := database.ExecutorFrom(ctx, r.db).ExecContext(ctx, query, active, id)
	if err != nil {
		r.logger.Error("Failed to set delegation active flag", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("failed to set delegation active flag: %w", err)
	}
	return nil
}

const delegationSelect = `
	SELECT id, delegator_id, delegate_id, type, start_at, end_at,
		categories, active, created_at
	FROM delegations`

func scanDelegation(row rowScanner) (*entity.Delegation, error) {
	var d entity.Delegation
	var endAt sql.NullTime
	var categoriesJSON string

	err := row.Scan(
		&d.ID,
		&d.DelegatorID,
		&d.DelegateID,
		&d.Type,
		&d.StartAt,
		&endAt,
		&categoriesJSON,
		&d.Active,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if endAt.Valid {
		d.EndAt = &endAt.Time
	}
	if categoriesJSON != "" {
		if err := json.Unmarshal([]byte(categoriesJSON), &d.Categories); err != nil {
			return nil, fmt.Errorf("failed to unmarshal categories: %w", err)
		}
	}
	return &d, nil
}

// Verify interface compliance
var _ port.DelegationRepository = (*DelegationRepository)(nil)
