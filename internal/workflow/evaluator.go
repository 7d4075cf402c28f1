package workflow

import "github.com/complyflow/policy-workflow/internal/domain/entity"

// Outcome is the result of evaluating a stage against its decision set.
// Complete and Approved are computed by different thresholds for the
// majority/quorum rules, so a completed stage is not necessarily approved.
type Outcome struct {
	Complete bool
	Approved bool
}

// Evaluate decides, from a stage's rule and its current decisions, whether
// the stage is complete and whether it is approved. Pure function, no side
// effects. Ties (approved == rejected) resolve to not approved.
func Evaluate(stage *entity.Stage, decisions []*entity.ApprovalDecision) Outcome {
	total := len(decisions)
	if total == 0 {
		return Outcome{}
	}

	var pending, approved, rejected int
	for _, d := range decisions {
		switch d.Value {
		case entity.DecisionApproved:
			approved++
		case entity.DecisionRejected:
			rejected++
		default:
			pending++
		}
	}

	switch stage.Rule {
	case entity.RuleAnyOneApproves:
		return Outcome{
			Complete: approved+rejected >= 1,
			Approved: approved >= 1,
		}

	case entity.RuleMajorityApproves:
		majority := (total + 1) / 2
		return Outcome{
			Complete: approved >= majority || rejected >= majority,
			Approved: approved > rejected,
		}

	case entity.RuleQuorumApproves:
		percent := stage.QuorumPercent
		if percent <= 0 {
			percent = entity.DefaultQuorumPercent
		}
		needed := (total*percent + 99) / 100
		return Outcome{
			Complete: approved+rejected >= needed,
			Approved: approved > rejected,
		}

	default: // AllMustApprove is also the fallback for unknown rules
		return Outcome{
			Complete: pending == 0,
			Approved: rejected == 0 && approved == total,
		}
	}
}
