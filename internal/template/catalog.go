// Package template provides read access to the catalog of reusable workflow
// templates, including the per-category default lookup.
package template

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/complyflow/policy-workflow/internal/application/port"
	"github.com/complyflow/policy-workflow/internal/domain/entity"
	"github.com/complyflow/policy-workflow/internal/workflow"
)

// Catalog serves workflow templates. Read-only, no side effects.
type Catalog struct {
	repo   port.TemplateRepository
	logger *zap.Logger
}

// NewCatalog creates a new template catalog
func NewCatalog(repo port.TemplateRepository, logger *zap.Logger) *Catalog {
	return &Catalog{
		repo:   repo,
		logger: logger,
	}
}

// Get retrieves a template by explicit id.
func (c *Catalog) Get(ctx context.Context, id string) (*entity.WorkflowTemplate, error) {
	tpl, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	if tpl == nil {
		return nil, fmt.Errorf("template %s: %w", id, workflow.ErrNotFound)
	}
	return tpl, nil
}

// ListActive returns active templates matching the given category. Templates
// with no category act as wildcards and are always included.
func (c *Catalog) ListActive(ctx context.Context, category string) ([]*entity.WorkflowTemplate, error) {
	templates, err := c.repo.ListActive(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return templates, nil
}

// GetDefault returns the default template for the given category. A default
// scoped to the exact category wins over an uncategorized wildcard default.
// Returns nil (no error) when no default exists.
func (c *Catalog) GetDefault(ctx context.Context, category string) (*entity.WorkflowTemplate, error) {
	defaults, err := c.repo.ListDefaults(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list default templates: %w", err)
	}

	var wildcard *entity.WorkflowTemplate
	for _, tpl := range defaults {
		if !tpl.Active {
			continue
		}
		if tpl.Category == category && category != "" {
			return tpl, nil
		}
		if tpl.Category == "" && wildcard == nil {
			wildcard = tpl
		}
	}

	if wildcard == nil {
		c.logger.Debug("No default template", zap.String("category", category))
	}
	return wildcard, nil
}
