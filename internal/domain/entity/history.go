package entity

import "time"

// WorkflowHistory is one append-only record of a workflow state transition.
type WorkflowHistory struct {
	ID         int64     `json:"id"`
	InstanceID string    `json:"instance_id"`
	Action     string    `json:"action"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
