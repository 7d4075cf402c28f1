package workflow

import "errors"

// Domain errors for workflow operations
var (
	// ErrNotFound covers absent instances, decisions and templates requested
	// by explicit id.
	ErrNotFound = errors.New("not found")

	// ErrTemplateNotFound is returned by StartWorkflow when neither a
	// template id, custom stages, nor a category default can resolve a
	// stage list.
	ErrTemplateNotFound = errors.New("no workflow template resolvable")

	// ErrInvalidState covers operations against already-resolved decisions,
	// finalized instances or stages that are no longer current.
	ErrInvalidState = errors.New("invalid workflow state")

	// ErrCommentRequired is returned when a stage requires a comment and the
	// submission carries none.
	ErrCommentRequired = errors.New("comment required for this stage")

	// ErrInvalidStages is returned when a stage list fails validation
	// (empty, missing approvers, non-increasing order).
	ErrInvalidStages = errors.New("invalid stage list")
)
