package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/complyflow/policy-workflow/internal/application/port"
	"github.com/complyflow/policy-workflow/internal/delegation"
	"github.com/complyflow/policy-workflow/internal/domain/entity"
	"github.com/complyflow/policy-workflow/internal/escalation"
	"github.com/complyflow/policy-workflow/internal/report"
	"github.com/complyflow/policy-workflow/internal/template"
	"github.com/complyflow/policy-workflow/internal/workflow"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine         *workflow.Engine
	catalog        *template.Catalog
	registry       *delegation.Registry
	sweeper        *escalation.Sweeper
	exporter       *report.Exporter
	templateRepo   port.TemplateRepository
	delegationRepo port.DelegationRepository
	ruleRepo       port.EscalationRuleRepository
	historyRepo    port.HistoryRepository
	logger         *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	engine *workflow.Engine,
	catalog *template.Catalog,
	registry *delegation.Registry,
	sweeper *escalation.Sweeper,
	exporter *report.Exporter,
	templateRepo port.TemplateRepository,
	delegationRepo port.DelegationRepository,
	ruleRepo port.EscalationRuleRepository,
	historyRepo port.HistoryRepository,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		engine:         engine,
		catalog:        catalog,
		registry:       registry,
		sweeper:        sweeper,
		exporter:       exporter,
		templateRepo:   templateRepo,
		delegationRepo: delegationRepo,
		ruleRepo:       ruleRepo,
		historyRepo:    historyRepo,
		logger:         logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   "1.0.0",
		},
	})
}

// StartWorkflowRequest is the body for POST /api/workflows
type StartWorkflowRequest struct {
	SubjectID    string         `json:"subject_id" binding:"required"`
	TemplateID   string         `json:"template_id"`
	CustomStages []entity.Stage `json:"custom_stages"`
	Initiator    string         `json:"initiator" binding:"required"`
}

// StartWorkflow handles POST /api/workflows
func (h *Handlers) StartWorkflow(c *gin.Context) {
	var req StartWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	instance, err := h.engine.StartWorkflow(c.Request.Context(), workflow.StartRequest{
		SubjectID:    req.SubjectID,
		TemplateID:   req.TemplateID,
		CustomStages: req.CustomStages,
		Initiator:    req.Initiator,
	})
	if err != nil {
		h.serviceError(c, err, "failed to start workflow")
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: instance})
}

// ListWorkflowsRequest represents query parameters for listing instances
type ListWorkflowsRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// ListWorkflows handles GET /api/workflows
func (h *Handlers) ListWorkflows(c *gin.Context) {
	var req ListWorkflowsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, "invalid query parameters")
		return
	}
	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	instances, err := h.engine.ListInstances(c.Request.Context(), req.Limit, req.Offset)
	if err != nil {
		h.serviceError(c, err, "failed to list workflows")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: instances})
}

// GetWorkflow handles GET /api/workflows/:id
func (h *Handlers) GetWorkflow(c *gin.Context) {
	instance, err := h.engine.GetInstance(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.serviceError(c, err, "failed to get workflow")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: instance})
}

// ListWorkflowDecisions handles GET /api/workflows/:id/decisions
func (h *Handlers) ListWorkflowDecisions(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.engine.GetInstance(c.Request.Context(), id); err != nil {
		h.serviceError(c, err, "failed to get workflow")
		return
	}
	decisions, err := h.engine.InstanceDecisions(c.Request.Context(), id)
	if err != nil {
		h.serviceError(c, err, "failed to list decisions")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: decisions})
}

// GetWorkflowHistory handles GET /api/workflows/:id/history
func (h *Handlers) GetWorkflowHistory(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.engine.GetInstance(c.Request.Context(), id); err != nil {
		h.serviceError(c, err, "failed to get workflow")
		return
	}
	records, err := h.historyRepo.GetByInstanceID(c.Request.Context(), id)
	if err != nil {
		h.serviceError(c, err, "failed to get history")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: records})
}

// SubmitDecisionRequest is the body for POST /api/decisions/:id/submit
type SubmitDecisionRequest struct {
	Approved *bool  `json:"approved" binding:"required"`
	Comments string `json:"comments"`
}

// SubmitDecision handles POST /api/decisions/:id/submit
func (h *Handlers) SubmitDecision(c *gin.Context) {
	var req SubmitDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body: approved is required")
		return
	}

	decision, err := h.engine.SubmitDecision(c.Request.Context(), c.Param("id"), *req.Approved, req.Comments)
	if err != nil {
		h.serviceError(c, err, "failed to submit decision")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: decision})
}

// CreateTemplateRequest is the body for POST /api/templates
type CreateTemplateRequest struct {
	Name      string         `json:"name" binding:"required"`
	Category  string         `json:"category"`
	Stages    []entity.Stage `json:"stages" binding:"required"`
	IsDefault bool           `json:"is_default"`
}

// CreateTemplate handles POST /api/templates
func (h *Handlers) CreateTemplate(c *gin.Context) {
	var req CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	tpl := &entity.WorkflowTemplate{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Category:  req.Category,
		Stages:    req.Stages,
		Active:    true,
		IsDefault: req.IsDefault,
	}
	if err := h.templateRepo.Create(c.Request.Context(), tpl); err != nil {
		h.serviceError(c, err, "failed to create template")
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: tpl})
}

// ListTemplates handles GET /api/templates
func (h *Handlers) ListTemplates(c *gin.Context) {
	templates, err := h.catalog.ListActive(c.Request.Context(), c.Query("category"))
	if err != nil {
		h.serviceError(c, err, "failed to list templates")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: templates})
}

// GetTemplate handles GET /api/templates/:id
func (h *Handlers) GetTemplate(c *gin.Context) {
	tpl, err := h.catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.serviceError(c, err, "failed to get template")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: tpl})
}

// CreateDelegationRequest is the body for POST /api/delegations
type CreateDelegationRequest struct {
	DelegatorID string     `json:"delegator_id" binding:"required"`
	DelegateID  string     `json:"delegate_id" binding:"required"`
	Type        string     `json:"type"`
	StartAt     time.Time  `json:"start_at"`
	EndAt       *time.Time `json:"end_at"`
	Categories  []string   `json:"categories"`
}

// CreateDelegation handles POST /api/delegations
func (h *Handlers) CreateDelegation(c *gin.Context) {
	var req CreateDelegationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}
	if req.DelegatorID == req.DelegateID {
		h.badRequest(c, "delegator and delegate must differ")
		return
	}
	if req.StartAt.IsZero() {
		req.StartAt = time.Now().UTC()
	}
	if req.EndAt != nil && !req.EndAt.After(req.StartAt) {
		h.badRequest(c, "end_at must be after start_at")
		return
	}
	if req.Type == "" {
		req.Type = entity.DelegationTemporary
	}

	d := &entity.Delegation{
		ID:          uuid.NewString(),
		DelegatorID: req.DelegatorID,
		DelegateID:  req.DelegateID,
		Type:        req.Type,
		StartAt:     req.StartAt,
		EndAt:       req.EndAt,
		Categories:  req.Categories,
		Active:      true,
	}
	if err := h.delegationRepo.Create(c.Request.Context(), d); err != nil {
		h.serviceError(c, err, "failed to create delegation")
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: d})
}

// ListDelegations handles GET /api/delegations?delegator_id=
func (h *Handlers) ListDelegations(c *gin.Context) {
	delegatorID := c.Query("delegator_id")
	if delegatorID == "" {
		h.badRequest(c, "delegator_id is required")
		return
	}
	delegations, err := h.delegationRepo.ListByDelegator(c.Request.Context(), delegatorID)
	if err != nil {
		h.serviceError(c, err, "failed to list delegations")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: delegations})
}

// DeactivateDelegation handles POST /api/delegations/:id/deactivate
func (h *Handlers) DeactivateDelegation(c *gin.Context) {
	id := c.Param("id")
	d, err := h.delegationRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		h.serviceError(c, err, "failed to get delegation")
		return
	}
	if d == nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "delegation not found"})
		return
	}
	if err := h.delegationRepo.SetActive(c.Request.Context(), id, false); err != nil {
		h.serviceError(c, err, "failed to deactivate delegation")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// ResolveDelegation handles GET /api/delegations/resolve. It previews who
// would receive work assigned to an approver right now.
func (h *Handlers) ResolveDelegation(c *gin.Context) {
	approverID := c.Query("approver_id")
	if approverID == "" {
		h.badRequest(c, "approver_id is required")
		return
	}
	resolution, err := h.registry.Resolve(c.Request.Context(), approverID, time.Now(), c.Query("category"))
	if err != nil {
		h.serviceError(c, err, "failed to resolve delegation")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{
		"approver_id": resolution.ApproverID,
		"delegated":   resolution.Delegated,
		"delegator":   resolution.Delegator,
	}})
}

// CreateEscalationRuleRequest is the body for POST /api/escalation-rules
type CreateEscalationRuleRequest struct {
	Name           string   `json:"name" binding:"required"`
	TriggerDays    int      `json:"trigger_days" binding:"required"`
	Condition      string   `json:"condition"`
	Action         string   `json:"action" binding:"required"`
	TargetType     string   `json:"target_type"`
	TargetIDs      []string `json:"target_ids"`
	MaxEscalations int      `json:"max_escalations"`
	IntervalDays   int      `json:"interval_days"`
	Priority       int      `json:"priority"`
	Categories     []string `json:"categories"`
}

// CreateEscalationRule handles POST /api/escalation-rules
func (h *Handlers) CreateEscalationRule(c *gin.Context) {
	var req CreateEscalationRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}
	if req.MaxEscalations <= 0 {
		req.MaxEscalations = 1
	}
	if req.IntervalDays <= 0 {
		req.IntervalDays = 1
	}
	if req.TargetType == "" {
		req.TargetType = entity.TargetTypeUsers
	}

	rule := &entity.EscalationRule{
		ID:             uuid.NewString(),
		Name:           req.Name,
		TriggerDays:    req.TriggerDays,
		Condition:      req.Condition,
		Action:         req.Action,
		TargetType:     req.TargetType,
		TargetIDs:      req.TargetIDs,
		MaxEscalations: req.MaxEscalations,
		IntervalDays:   req.IntervalDays,
		Priority:       req.Priority,
		Categories:     req.Categories,
		Active:         true,
	}
	if err := h.ruleRepo.Create(c.Request.Context(), rule); err != nil {
		h.serviceError(c, err, "failed to create escalation rule")
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: rule})
}

// ListEscalationRules handles GET /api/escalation-rules
func (h *Handlers) ListEscalationRules(c *gin.Context) {
	rules, err := h.ruleRepo.ListActive(c.Request.Context())
	if err != nil {
		h.serviceError(c, err, "failed to list escalation rules")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: rules})
}

// TriggerSweep handles POST /api/escalations/sweep
func (h *Handlers) TriggerSweep(c *gin.Context) {
	result, err := h.sweeper.Run(c.Request.Context())
	if err != nil {
		h.serviceError(c, err, "escalation sweep failed")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// ExportWorkflowsRequest is the body for POST /api/reports/workflows
type ExportWorkflowsRequest struct {
	Limit int `json:"limit"`
}

// ExportWorkflows handles POST /api/reports/workflows
func (h *Handlers) ExportWorkflows(c *gin.Context) {
	var req ExportWorkflowsRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		h.badRequest(c, "invalid request body")
		return
	}

	path, err := h.exporter.ExportInstances(c.Request.Context(), req.Limit)
	if err != nil {
		h.serviceError(c, err, "failed to export workflows")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"path": path}})
}

func (h *Handlers) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg})
}

// serviceError maps domain sentinel errors to HTTP status codes.
func (h *Handlers) serviceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, workflow.ErrNotFound), errors.Is(err, workflow.ErrTemplateNotFound):
		c.JSON(http.StatusNotFound, Response{Success: false, Error: err.Error()})
	case errors.Is(err, workflow.ErrInvalidState):
		c.JSON(http.StatusConflict, Response{Success: false, Error: err.Error()})
	case errors.Is(err, workflow.ErrCommentRequired), errors.Is(err, workflow.ErrInvalidStages):
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
	default:
		h.logger.Error(fallback, zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: fallback})
	}
}
