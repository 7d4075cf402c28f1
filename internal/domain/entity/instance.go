package entity

import "time"

// WorkflowInstance is one running execution of a stage list against a policy
// document. Stages holds the snapshot taken at start time; CurrentStageID,
// CurrentStageOrder and Status are derived from the decision set and must stay
// consistent with it.
type WorkflowInstance struct {
	ID                string     `json:"id"`
	SubjectID         string     `json:"subject_id"`
	Category          string     `json:"category,omitempty"`
	Stages            []Stage    `json:"stages"`
	CurrentStageID    string     `json:"current_stage_id"`
	CurrentStageOrder int        `json:"current_stage_order"`
	Status            string     `json:"status"`
	Initiator         string     `json:"initiator"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// IsTerminal reports whether the instance has been finalized.
func (i *WorkflowInstance) IsTerminal() bool {
	return i.Status == StatusApproved || i.Status == StatusRejected
}

// Duration returns the total workflow duration, zero while still running.
func (i *WorkflowInstance) Duration() time.Duration {
	if i.CompletedAt == nil {
		return 0
	}
	return i.CompletedAt.Sub(i.StartedAt)
}

// StageByID returns the snapshotted stage with the given id, or nil.
func (i *WorkflowInstance) StageByID(stageID string) *Stage {
	for idx := range i.Stages {
		if i.Stages[idx].ID == stageID {
			return &i.Stages[idx]
		}
	}
	return nil
}

// NextStage returns the stage following the given order in the snapshot, or
// nil when the given stage is the last one.
func (i *WorkflowInstance) NextStage(afterOrder int) *Stage {
	for idx := range i.Stages {
		if i.Stages[idx].Order > afterOrder {
			return &i.Stages[idx]
		}
	}
	return nil
}
