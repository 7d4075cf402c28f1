package entity

import "time"

// WorkflowTemplate is a reusable ordered list of approval stages, optionally
// scoped to a policy category. Templates are immutable once a running instance
// references them: instances snapshot the stage list at start time, so later
// template edits never affect in-flight workflows.
type WorkflowTemplate struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category,omitempty"`
	Stages    []Stage   `json:"stages"`
	Active    bool      `json:"active"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stage is one ordered step of an approval template. Order values must be
// strictly increasing within a template.
type Stage struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Type           string           `json:"type"`
	Order          int              `json:"order"`
	Approvers      []string         `json:"approvers"`
	ApproverRoles  []string         `json:"approver_roles,omitempty"`
	Rule           string           `json:"rule"`
	QuorumPercent  int              `json:"quorum_percent,omitempty"`
	DueInDays      int              `json:"due_in_days"`
	RequireComment bool             `json:"require_comment"`
	Escalation     *StageEscalation `json:"escalation,omitempty"`
}

// StageEscalation is the per-stage escalation override. When present and
// enabled it is evaluated before any registry-wide escalation rule; when
// present and disabled the stage opts out of escalation entirely.
type StageEscalation struct {
	Enabled bool     `json:"enabled"`
	DueDays int      `json:"due_days"`
	Action  string   `json:"action"`
	Targets []string `json:"targets,omitempty"`
}

// PendingStatus returns the instance status implied by the stage type.
func (s *Stage) PendingStatus() string {
	switch s.Type {
	case StageTypeApproval, StageTypeFinalApproval:
		return StatusPendingApproval
	default:
		return StatusPendingReview
	}
}
