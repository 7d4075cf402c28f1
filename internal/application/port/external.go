package port

import "context"

// Subject is the minimal view of a policy document held by the external
// document store.
type Subject struct {
	ID          string
	Category    string
	DisplayName string
}

// SubjectStore is the external document/list platform holding the policy
// documents that workflows run against. Implemented outside this service.
type SubjectStore interface {
	GetSubject(ctx context.Context, id string) (*Subject, error)
	SetSubjectStatus(ctx context.Context, id, status string) error
}

// NotificationDispatcher delivers approval requests and escalation alerts.
// Delivery is fire-and-forget: callers log failures and move on.
type NotificationDispatcher interface {
	Notify(ctx context.Context, recipientID, kind string, context map[string]string) error
}

// HistoryRecorder appends workflow state transitions to the audit trail.
// Best-effort: a recording failure must never fail the triggering operation.
type HistoryRecorder interface {
	Record(ctx context.Context, instanceID, action, details string) error
}
