package models

import "time"

// ClassStatus is the lifecycle state of a booked class.
type ClassStatus string

const (
	ClassStatusScheduled       ClassStatus = "scheduled"
	ClassStatusCompleted       ClassStatus = "completed"
	ClassStatusCanceledStudent ClassStatus = "canceled-student"
	ClassStatusCanceledTeacher ClassStatus = "canceled-teacher"
	ClassStatusNoShow          ClassStatus = "no-show"
	ClassStatusRescheduled     ClassStatus = "rescheduled"
	ClassStatusTeacherVacation ClassStatus = "teacher-vacation"
	ClassStatusOverdue         ClassStatus = "overdue"
)

// OccupyingStatuses hold their time slot; every other status frees it.
var OccupyingStatuses = []ClassStatus{
	ClassStatusScheduled,
	ClassStatusCompleted,
	ClassStatusNoShow,
	ClassStatusOverdue,
}

// Occupies reports whether a class in this status reserves its slot.
func (s ClassStatus) Occupies() bool {
	for _, st := range OccupyingStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// Canceled reports whether the status is one of the canceled-* family.
func (s ClassStatus) Canceled() bool {
	return s == ClassStatusCanceledStudent || s == ClassStatusCanceledTeacher
}

// CreditSource records how a class was funded.
type CreditSource string

const (
	CreditSourceNone          CreditSource = "none"
	CreditSourceClassCredits  CreditSource = "class_credits"
	CreditSourceRegularCredit CreditSource = "regular_credit"
)

// BookedClass is a concrete session between one student and one teacher.
type BookedClass struct {
	ID                 string       `db:"id" json:"id"`
	StudentID          string       `db:"student_id" json:"student_id"`
	TeacherID          string       `db:"teacher_id" json:"teacher_id"`
	ScheduledAt        time.Time    `db:"scheduled_at" json:"scheduled_at"`
	DurationMinutes    int          `db:"duration_minutes" json:"duration_minutes"`
	Status             ClassStatus  `db:"status" json:"status"`
	Kind               RuleKind     `db:"kind" json:"kind"`
	Topic              *string      `db:"topic" json:"topic,omitempty"`
	CreatedBy          string       `db:"created_by" json:"created_by"`
	AvailabilitySlotID *string      `db:"availability_slot_id" json:"availability_slot_id,omitempty"`
	RescheduledFrom    *string      `db:"rescheduled_from" json:"rescheduled_from,omitempty"`
	CreditSource       CreditSource `db:"credit_source" json:"credit_source"`
	CreditID           *string      `db:"credit_id" json:"credit_id,omitempty"`
	CreditType         *CreditType  `db:"credit_type" json:"credit_type,omitempty"`
	VacationID         *string      `db:"vacation_id" json:"vacation_id,omitempty"`
	CanceledAt         *time.Time   `db:"canceled_at" json:"canceled_at,omitempty"`
	CanceledBy         *string      `db:"canceled_by" json:"canceled_by,omitempty"`
	CancelReason       *string      `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CompletedAt        *time.Time   `db:"completed_at" json:"completed_at,omitempty"`
	Feedback           *string      `db:"feedback" json:"feedback,omitempty"`
	Notes              *string      `db:"notes" json:"notes,omitempty"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time    `db:"updated_at" json:"updated_at"`
}

// EndsAt returns the scheduled end of the class.
func (c BookedClass) EndsAt() time.Time {
	return c.ScheduledAt.Add(time.Duration(c.DurationMinutes) * time.Minute)
}

// CreditFunded reports whether a credit was consumed to book the class.
func (c BookedClass) CreditFunded() bool {
	return c.CreditSource == CreditSourceClassCredits || c.CreditSource == CreditSourceRegularCredit
}

// ClassTransition is a compare-and-set status change on a stored class. The
// update only applies while the class is still in From.
type ClassTransition struct {
	ClassID      string      `db:"id"`
	From         ClassStatus `db:"from_status"`
	To           ClassStatus `db:"to_status"`
	At           time.Time   `db:"updated_at"`
	CanceledAt   *time.Time  `db:"canceled_at"`
	CanceledBy   *string     `db:"canceled_by"`
	CancelReason *string     `db:"cancel_reason"`
	VacationID   *string     `db:"vacation_id"`
	CompletedAt  *time.Time  `db:"completed_at"`
	Feedback     *string     `db:"feedback"`
	Notes        *string     `db:"notes"`
	CreditID     *string     `db:"credit_id"`
}
