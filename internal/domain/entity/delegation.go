package entity

import "time"

// Delegation is a time-bounded reassignment of one person's approval
// responsibility to another, optionally scoped to policy categories.
type Delegation struct {
	ID          string     `json:"id"`
	DelegatorID string     `json:"delegator_id"`
	DelegateID  string     `json:"delegate_id"`
	Type        string     `json:"type"`
	StartAt     time.Time  `json:"start_at"`
	EndAt       *time.Time `json:"end_at,omitempty"`
	Categories  []string   `json:"categories,omitempty"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CoversTime reports whether the delegation window contains the given time.
// A nil EndAt means open-ended.
func (d *Delegation) CoversTime(at time.Time) bool {
	if at.Before(d.StartAt) {
		return false
	}
	return d.EndAt == nil || at.Before(*d.EndAt)
}

// CoversCategory reports whether the delegation applies to the given
// category. An unscoped delegation covers every category.
func (d *Delegation) CoversCategory(category string) bool {
	if len(d.Categories) == 0 {
		return true
	}
	for _, c := range d.Categories {
		if c == category {
			return true
		}
	}
	return false
}
