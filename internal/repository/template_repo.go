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

// TemplateRepository implements port.TemplateRepository on sqlite. The stage
// list is serialized to JSON only at this boundary; the domain model never
// sees raw serialized text.
type TemplateRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTemplateRepository creates a new template repository
func NewTemplateRepository(db *sql.DB, logger *zap.Logger) port.TemplateRepository {
	return &TemplateRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new workflow template
func (r *TemplateRepository) Create(ctx context.Context, tpl *entity.WorkflowTemplate) error {
	stagesJSON, err := json.Marshal(tpl.Stages)
	if err != nil {
		return fmt.Errorf("failed to marshal stages: %w", err)
	}

	query := `
		INSERT INTO workflow_templates (id, name, category, stages, active, is_default)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = database.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		tpl.ID,
		tpl.Name,
		tpl.Category,
		string(stagesJSON),
		tpl.Active,
		tpl.IsDefault,
	)
	if err != nil {
		r.logger.Error("Failed to create template", zap.String("id", tpl.ID), zap.Error(err))
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// GetByID retrieves a template by ID, nil when absent
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowTemplate, error) {
	query := `
		SELECT id, name, category, stages, active, is_default, created_at, updated_at
		FROM workflow_templates
		WHERE id = ?
	`
	row := database.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id)
	tpl, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get template", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return tpl, nil
}

// ListActive retrieves active templates for a category. Templates without a
// category act as wildcards and are included for every category.
func (r *TemplateRepository) ListActive(ctx context.Context, category string) ([]*entity.WorkflowTemplate, error) {
	query := `
		SELECT id, name, category, stages, active, is_default, created_at, updated_at
		FROM workflow_templates
		WHERE active = 1 AND (category = ? OR category = '')
		ORDER BY name
	`
	rows, err := database.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, category)
	if err != nil {
		r.logger.Error("Failed to list templates", zap.Error(err))
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	return collectTemplates(rows)
}

// ListDefaults retrieves all templates flagged as defaults
func (r *TemplateRepository) ListDefaults(ctx context.Context) ([]*entity.WorkflowTemplate, error) {
	query := `
		SELECT id, name, category, stages, active, is_default, created_at, updated_at
		FROM workflow_templates
		WHERE is_default = 1
		ORDER BY category DESC
	`
	rows, err := database.ExecutorFrom(ctx, r.db).QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list default templates", zap.Error(err))
		return nil, fmt.Errorf("failed to list default templates: %w", err)
	}
	defer rows.Close()

	return collectTemplates(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTemplate(row rowScanner) (*entity.WorkflowTemplate, error) {
	var tpl entity.WorkflowTemplate
	var stagesJSON string

	err := row.Scan(
		&tpl.ID,
		&tpl.Name,
		&tpl.Category,
		&stagesJSON,
		&tpl.Active,
		&tpl.IsDefault,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(stagesJSON), &tpl.Stages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stages: %w", err)
	}
	return &tpl, nil
}

func collectTemplates(rows *sql.Rows) ([]*entity.WorkflowTemplate, error) {
	var templates []*entity.WorkflowTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

// Verify interface compliance
var _ port.TemplateRepository = (*TemplateRepository)(nil)
