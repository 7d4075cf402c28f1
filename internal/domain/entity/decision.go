package entity

import "time"

// ApprovalDecision is one approver's pending or resolved response within a
// stage. ApproverID is the post-delegation identity, frozen at creation time;
// a later change in the delegation registry never re-routes an existing
// decision. EscalationLevel only ever increases.
type ApprovalDecision struct {
	ID                 string     `json:"id"`
	InstanceID         string     `json:"instance_id"`
	StageID            string     `json:"stage_id"`
	ApproverID         string     `json:"approver_id"`
	OriginalApproverID string     `json:"original_approver_id"`
	DelegatorID        string     `json:"delegator_id,omitempty"`
	Value              string     `json:"value"`
	Comments           string     `json:"comments,omitempty"`
	RequestedAt        time.Time  `json:"requested_at"`
	DueAt              time.Time  `json:"due_at"`
	RespondedAt        *time.Time `json:"responded_at,omitempty"`
	EscalationLevel    int        `json:"escalation_level"`
	LastEscalatedAt    *time.Time `json:"last_escalated_at,omitempty"`
	NotificationsSent  int        `json:"notifications_sent"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsPending reports whether the decision still awaits a response.
func (d *ApprovalDecision) IsPending() bool {
	return d.Value == DecisionPending
}

// IsDelegated reports whether the decision was routed to a delegate at
// creation time.
func (d *ApprovalDecision) IsDelegated() bool {
	return d.DelegatorID != ""
}

// DaysOverdue returns how many whole days past due the decision is at the
// given time, zero when not yet due.
func (d *ApprovalDecision) DaysOverdue(now time.Time) int {
	if !now.After(d.DueAt) {
		return 0
	}
	return int(now.Sub(d.DueAt).Hours() / 24)
}
