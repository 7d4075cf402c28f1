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

// EscalationRuleRepository implements port.EscalationRuleRepository on sqlite
type EscalationRuleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEscalationRuleRepository creates a new escalation rule repository
func NewEscalationRuleRepository(db *sql.DB, logger *zap.Logger) port.EscalationRuleRepository {
	return &EscalationRuleRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new escalation rule
func (r *EscalationRuleRepository) Create(ctx context.Context, rule *entity.EscalationRule) error {
	targetsJSON, err := json.Marshal(rule.TargetIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal targets: %w", err)
	}
	categoriesJSON, err := json.Marshal(rule.Categories)
	if err != nil {
		return fmt.Errorf("failed to marshal categories: %w", err)
	}

	query := `
		INSERT INTO escalation_rules (
			id, name, trigger_days, condition, action, target_type,
			target_ids, max_escalations, interval_days, priority,
			categories, active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = database.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		rule.ID,
		rule.Name,
		rule.TriggerDays,
		rule.Condition,
		rule.Action,
		rule.TargetType,
		string(targetsJSON),
		rule.MaxEscalations,
		rule.IntervalDays,
		rule.Priority,
		string(categoriesJSON),
		rule.Active,
	)
	if err != nil {
		r.logger.Error("Failed to create escalation rule", zap.String("id", rule.ID), zap.Error(err))
		return fmt.Errorf("failed to create escalation rule: %w", err)
	}
	return nil
}

// ListActive retrieves active rules ordered by ascending priority
func (r *EscalationRuleRepository) ListActive(ctx context.Context) ([]*entity.EscalationRule, error) {
	query := `
		SELECT id, name, trigger_days, condition, action, target_type,
			target_ids, max_escalations, interval_days, priority,
			categories, active
		FROM escalation_rules
		WHERE active = 1
		ORDER BY priority, trigger_days DESC
	`
	rows, err := database.ExecutorFrom(ctx, r.db).QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list escalation rules", zap.Error(err))
		return nil, fmt.Errorf("failed to list escalation rules: %w", err)
	}
	defer rows.Close()

	var rules []*entity.EscalationRule
	for rows.Next() {
		var rule entity.EscalationRule
		var targetsJSON, categoriesJSON string

		err := rows.Scan(
			&rule.ID,
			&rule.Name,
			&rule.TriggerDays,
			&rule.Condition,
			&rule.Action,
			&rule.TargetType,
			&targetsJSON,
			&rule.MaxEscalations,
			&rule.IntervalDays,
			&rule.Priority,
			&categoriesJSON,
			&rule.Active,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan escalation rule: %w", err)
		}

		if targetsJSON != "" {
			if err := json.Unmarshal([]byte(targetsJSON), &rule.TargetIDs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal targets: %w", err)
			}
		}
		if categoriesJSON != "" {
			if err := json.Unmarshal([]byte(categoriesJSON), &rule.Categories); err != nil {
				return nil, fmt.Errorf("failed to unmarshal categories: %w", err)
			}
		}
		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

// Verify interface compliance
var _ port.EscalationRuleRepository = (*EscalationRuleRepository)(nil)
