package models

import (
	"time"

	"github.com/lib/pq"
)

// VacationPeriod is a teacher-declared inclusive date range of unavailability.
type VacationPeriod struct {
	ID               string         `db:"id" json:"id"`
	TeacherID        string         `db:"teacher_id" json:"teacher_id"`
	StartDate        time.Time      `db:"start_date" json:"start_date"`
	EndDate          time.Time      `db:"end_date" json:"end_date"`
	AffectedClassIDs pq.StringArray `db:"affected_class_ids" json:"affected_class_ids"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
}

// InclusiveDays counts calendar days between start and end, both included.
func InclusiveDays(start, end time.Time) int {
	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	s := time.Date(sy, sm, sd, 0, 0, 0, 0, time.UTC)
	e := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	return int(e.Sub(s).Hours()/24) + 1
}

// Days returns the inclusive day count of the period.
func (v VacationPeriod) Days() int {
	return InclusiveDays(v.StartDate, v.EndDate)
}

// Covers reports whether the calendar date of day falls within the period.
func (v VacationPeriod) Covers(day time.Time) bool {
	key := day.Format(DateLayout)
	return key >= v.StartDate.Format(DateLayout) && key <= v.EndDate.Format(DateLayout)
}

// RestoreConflict explains why a vacation-affected class was not restored.
type RestoreConflict struct {
	ClassID string `json:"class_id"`
	Reason  string `json:"reason"`
}

// VacationRemoval reports the outcome of deleting a vacation period.
type VacationRemoval struct {
	VacationID      string            `json:"vacation_id"`
	RefundedDays    int               `json:"refunded_days"`
	RestoredClasses []string          `json:"restored_classes"`
	Conflicts       []RestoreConflict `json:"conflicts,omitempty"`
}
