package models

import "time"

// RuleKind classifies what an availability rule offers.
type RuleKind string

const (
	RuleKindRegular    RuleKind = "regular"
	RuleKindOccasional RuleKind = "occasional"
	RuleKindMakeup     RuleKind = "makeup"
)

// Cadence is the repeat step of a recurring rule.
type Cadence string

const (
	CadenceWeekly   Cadence = "weekly"
	CadenceBiWeekly Cadence = "bi-weekly"
	CadenceMonthly  Cadence = "monthly"
)

// Repeating describes how a rule recurs after its first occurrence.
type Repeating struct {
	Cadence  Cadence    `json:"cadence"`
	Interval int        `json:"interval"`
	EndDate  *time.Time `json:"end_date,omitempty"`
}

// AvailabilityRule is a teacher's recurring or one-off offer of time.
type AvailabilityRule struct {
	ID        string     `json:"id"`
	TeacherID string     `json:"teacher_id"`
	Kind      RuleKind   `json:"kind"`
	StartDate time.Time  `json:"start_date"`
	StartTime ClockTime  `json:"start_time"`
	EndTime   ClockTime  `json:"end_time"`
	Title     *string    `json:"title,omitempty"`
	Color     *string    `json:"color,omitempty"`
	Label     *string    `json:"label,omitempty"`
	Repeating *Repeating `json:"repeating,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Duration is the length of every occurrence of the rule.
func (r AvailabilityRule) Duration() time.Duration {
	return time.Duration(r.EndTime-r.StartTime) * time.Minute
}

// AvailabilityException cancels a single dated occurrence of a rule.
type AvailabilityException struct {
	ID        string    `db:"id" json:"id"`
	RuleID    string    `db:"original_rule_id" json:"original_rule_id"`
	Date      time.Time `db:"exception_date" json:"date"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
