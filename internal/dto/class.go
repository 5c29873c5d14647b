package dto

import "time"

// BookClassRequest books a vacant slot for a student.
type BookClassRequest struct {
	StudentID       string    `json:"studentId" validate:"required"`
	TeacherID       string    `json:"teacherId" validate:"required"`
	StartAt         time.Time `json:"startAt" validate:"required"`
	DurationMinutes int       `json:"durationMinutes" validate:"required,min=15,max=480"`
	Topic           *string   `json:"topic" validate:"omitempty,max=255"`
	CreditSource    string    `json:"creditSource" validate:"omitempty,oneof=none class_credits regular_credit"`
	CreditType      string    `json:"creditType" validate:"required_if=CreditSource regular_credit,omitempty,oneof=bonus late-students"`
}

// CreateClassWithCreditRequest is the staff-assisted booking that always consumes a credit.
type CreateClassWithCreditRequest struct {
	StudentID       string    `json:"studentId" validate:"required"`
	TeacherID       string    `json:"teacherId" validate:"required"`
	StartAt         time.Time `json:"startAt" validate:"required"`
	DurationMinutes int       `json:"durationMinutes" validate:"required,min=15,max=480"`
	Topic           *string   `json:"topic" validate:"omitempty,max=255"`
	CreditSource    string    `json:"creditSource" validate:"required,oneof=class_credits regular_credit"`
	CreditType      string    `json:"creditType" validate:"required_if=CreditSource regular_credit,omitempty,oneof=bonus late-students"`
}

// RescheduleClassRequest moves a scheduled class to a new start.
type RescheduleClassRequest struct {
	NewStartAt time.Time `json:"newStartAt" validate:"required"`
	Reason     *string   `json:"reason" validate:"omitempty,max=500"`
}

// CancelClassRequest carries an optional cancellation reason.
type CancelClassRequest struct {
	Reason *string `json:"reason" validate:"omitempty,max=500"`
}

// CompleteClassRequest closes a class that took place.
type CompleteClassRequest struct {
	Feedback *string `json:"feedback" validate:"omitempty,max=2000"`
	Notes    *string `json:"notes" validate:"omitempty,max=2000"`
}

// CancelClassResponse reports the canceled class and whether a credit came back.
type CancelClassResponse struct {
	ClassID  string `json:"classId"`
	Status   string `json:"status"`
	Refunded bool   `json:"refunded"`
	// RefundCreditID is set when a typed credit was re-issued.
	RefundCreditID *string `json:"refundCreditId,omitempty"`
}

// OverdueSweepResult summarises one overdue sweep pass.
type OverdueSweepResult struct {
	Marked   int       `json:"marked"`
	SweptAt  time.Time `json:"sweptAt"`
	ClassIDs []string  `json:"classIds"`
}

// ConvertToSlotResponse reports the slot freed by a canceled or rescheduled class.
type ConvertToSlotResponse struct {
	ClassID           string    `json:"classId"`
	StartAt           time.Time `json:"startAt"`
	ExceptionsRemoved int64     `json:"exceptionsRemoved"`
	State             string    `json:"state"`
}
