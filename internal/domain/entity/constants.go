package entity

// Stage type constants
const (
	StageTypeReview          = "REVIEW"
	StageTypeLegalReview     = "LEGAL_REVIEW"
	StageTypeApproval        = "APPROVAL"
	StageTypeFinalApproval   = "FINAL_APPROVAL"
	StageTypeAcknowledgement = "ACKNOWLEDGEMENT"
)

// Approval rule constants for a stage
const (
	RuleAllMustApprove   = "ALL_MUST_APPROVE"
	RuleAnyOneApproves   = "ANY_ONE_APPROVES"
	RuleMajorityApproves = "MAJORITY_APPROVES"
	RuleQuorumApproves   = "QUORUM_APPROVES"
)

// DefaultQuorumPercent applies only when a quorum stage has no configured percentage.
const DefaultQuorumPercent = 60

// Decision value constants for ApprovalDecision
const (
	DecisionPending  = "PENDING"
	DecisionApproved = "APPROVED"
	DecisionRejected = "REJECTED"
)

// Status constants for WorkflowInstance
const (
	StatusPendingReview   = "PENDING_REVIEW"
	StatusPendingApproval = "PENDING_APPROVAL"
	StatusApproved        = "APPROVED"
	StatusRejected        = "REJECTED"
)

// Subject status constants pushed to the external subject store
const (
	SubjectStatusInReview = "IN_REVIEW"
	SubjectStatusApproved = "APPROVED"
	SubjectStatusRejected = "REJECTED"
)

// Delegation type constants
const (
	DelegationTemporary   = "TEMPORARY"
	DelegationPermanent   = "PERMANENT"
	DelegationOutOfOffice = "OUT_OF_OFFICE"
)

// Escalation action constants
const (
	EscalationNotify        = "NOTIFY"
	EscalationNotifyManager = "NOTIFY_MANAGER"
	EscalationAutoApprove   = "AUTO_APPROVE"
	EscalationAutoReject    = "AUTO_REJECT"
	EscalationReassign      = "REASSIGN"
)

// Escalation target type constants
const (
	TargetTypeUsers   = "USERS"
	TargetTypeManager = "MANAGER"
)

// History action constants
const (
	HistoryWorkflowStarted    = "WORKFLOW_STARTED"
	HistoryDecisionSubmitted  = "DECISION_SUBMITTED"
	HistoryStageAdvanced      = "STAGE_ADVANCED"
	HistoryWorkflowApproved   = "WORKFLOW_APPROVED"
	HistoryWorkflowRejected   = "WORKFLOW_REJECTED"
	HistoryDecisionEscalated  = "DECISION_ESCALATED"
	HistoryDecisionReassigned = "DECISION_REASSIGNED"
)

// Notification kind constants
const (
	NotifyApprovalRequest    = "APPROVAL_REQUEST"
	NotifyApprovalReminder   = "APPROVAL_REMINDER"
	NotifyEscalationAlert    = "ESCALATION_ALERT"
	NotifyWorkflowCompleted  = "WORKFLOW_COMPLETED"
	NotifyDecisionReassigned = "DECISION_REASSIGNED"
)
