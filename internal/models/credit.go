package models

import "time"

// CreditType distinguishes typed regular-class credits.
type CreditType string

const (
	CreditTypeBonus        CreditType = "bonus"
	CreditTypeLateStudents CreditType = "late-students"
)

// Valid reports whether the credit type is known.
func (t CreditType) Valid() bool {
	return t == CreditTypeBonus || t == CreditTypeLateStudents
}

// RegularClassCredit is a typed, expiring credit granted to a regular student.
type RegularClassCredit struct {
	ID              string     `db:"id" json:"id"`
	StudentID       string     `db:"student_id" json:"student_id"`
	Type            CreditType `db:"type" json:"type"`
	Amount          int        `db:"amount" json:"amount"`
	Remaining       int        `db:"remaining" json:"remaining"`
	ExpiresAt       time.Time  `db:"expires_at" json:"expires_at"`
	GrantedBy       string     `db:"granted_by" json:"granted_by"`
	Reason          *string    `db:"reason" json:"reason,omitempty"`
	RefundOfClassID *string    `db:"refund_of_class_id" json:"refund_of_class_id,omitempty"`
	ConsumedAt      *time.Time `db:"consumed_at" json:"consumed_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// UsableAt reports whether at least one unit can be consumed at instant at.
func (c RegularClassCredit) UsableAt(at time.Time) bool {
	return c.Remaining > 0 && at.Before(c.ExpiresAt)
}

// StudentCreditBalance is the simple per-student class credit counter.
type StudentCreditBalance struct {
	StudentID    string    `db:"student_id" json:"student_id"`
	ClassCredits int       `db:"class_credits" json:"class_credits"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// CreditSummary aggregates both credit families for a student.
type CreditSummary struct {
	StudentID      string               `json:"student_id"`
	ClassCredits   int                  `json:"class_credits"`
	RegularCredits []RegularClassCredit `json:"regular_credits"`
}
