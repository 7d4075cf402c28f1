package port

import (
	"context"
	"time"

	"github.com/complyflow/policy-workflow/internal/domain/entity"
)

// TemplateRepository defines persistence operations for WorkflowTemplate
type TemplateRepository interface {
	Create(ctx context.Context, tpl *entity.WorkflowTemplate) error
	GetByID(ctx context.Context, id string) (*entity.WorkflowTemplate, error)
	ListActive(ctx context.Context, category string) ([]*entity.WorkflowTemplate, error)
	ListDefaults(ctx context.Context) ([]*entity.WorkflowTemplate, error)
}

// InstanceRepository defines persistence operations for WorkflowInstance
type InstanceRepository interface {
	Create(ctx context.Context, instance *entity.WorkflowInstance) error
	GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error)
	GetBySubjectID(ctx context.Context, subjectID string) ([]*entity.WorkflowInstance, error)
	Update(ctx context.Context, instance *entity.WorkflowInstance) error
	List(ctx context.Context, limit, offset int) ([]*entity.WorkflowInstance, error)
}

// DecisionRepository defines persistence operations for ApprovalDecision
type DecisionRepository interface {
	Create(ctx context.Context, decision *entity.ApprovalDecision) error
	GetByID(ctx context.Context, id string) (*entity.ApprovalDecision, error)
	GetByStage(ctx context.Context, instanceID, stageID string) ([]*entity.ApprovalDecision, error)
	GetByInstanceID(ctx context.Context, instanceID string) ([]*entity.ApprovalDecision, error)
	Update(ctx context.Context, decision *entity.ApprovalDecision) error
	ListOverduePending(ctx context.Context, asOf time.Time, limit int) ([]*entity.ApprovalDecision, error)
}

// DelegationRepository defines persistence operations for Delegation
type DelegationRepository interface {
	Create(ctx context.Context, delegation *entity.Delegation) error
	GetByID(ctx context.Context, id string) (*entity.Delegation, error)
	ListByDelegator(ctx context.Context, delegatorID string) ([]*entity.Delegation, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// EscalationRuleRepository defines persistence operations for EscalationRule
type EscalationRuleRepository interface {
	Create(ctx context.Context, rule *entity.EscalationRule) error
	ListActive(ctx context.Context) ([]*entity.EscalationRule, error)
}

// HistoryRepository defines persistence operations for WorkflowHistory
type HistoryRepository interface {
	Create(ctx context.Context, record *entity.WorkflowHistory) error
	GetByInstanceID(ctx context.Context, instanceID string) ([]*entity.WorkflowHistory, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
