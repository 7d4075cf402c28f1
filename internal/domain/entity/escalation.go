package entity

// EscalationRule describes an automated action against overdue pending
// decisions. Rules are evaluated in ascending Priority order; the first rule
// whose trigger and scope match wins.
type EscalationRule struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	TriggerDays    int      `json:"trigger_days"`
	Condition      string   `json:"condition,omitempty"`
	Action         string   `json:"action"`
	TargetType     string   `json:"target_type,omitempty"`
	TargetIDs      []string `json:"target_ids,omitempty"`
	MaxEscalations int      `json:"max_escalations"`
	IntervalDays   int      `json:"interval_days"`
	Priority       int      `json:"priority"`
	Categories     []string `json:"categories,omitempty"`
	Active         bool     `json:"active"`
}

// CoversCategory reports whether the rule applies to the given category.
// An unscoped rule covers every category.
func (r *EscalationRule) CoversCategory(category string) bool {
	if len(r.Categories) == 0 {
		return true
	}
	for _, c := range r.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// MatchesStageType reports whether the rule's condition admits the given
// stage type. Condition is an optional stage-type filter; empty matches all.
func (r *EscalationRule) MatchesStageType(stageType string) bool {
	return r.Condition == "" || r.Condition == stageType
}
