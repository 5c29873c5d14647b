package models

import "time"

// Occurrence is one concrete dated instance of an availability rule.
type Occurrence struct {
	RuleID    string
	TeacherID string
	Kind      RuleKind
	Start     time.Time
	End       time.Time
	Title     *string
	Color     *string
	Label     *string
}

// Date returns the calendar date of the occurrence start.
func (o Occurrence) Date() string {
	return o.Start.Format(DateLayout)
}

// SlotState is the classification of an occurrence against bookings and exceptions.
type SlotState string

const (
	SlotVacant   SlotState = "vacant"
	SlotReserved SlotState = "reserved"
	SlotExcepted SlotState = "excepted"
)

// ExceptReason explains why an occurrence was suppressed.
type ExceptReason string

const (
	ExceptReasonException ExceptReason = "exception"
	ExceptReasonVacation  ExceptReason = "vacation"
)

// ClassSummary is the displayable part of a booked class attached to a reserved slot.
type ClassSummary struct {
	ID              string      `json:"id"`
	StudentID       string      `json:"student_id,omitempty"`
	Status          ClassStatus `json:"status"`
	DurationMinutes int         `json:"duration_minutes"`
	Topic           *string     `json:"topic,omitempty"`
	Notes           *string     `json:"notes,omitempty"`
	Feedback        *string     `json:"feedback,omitempty"`
}

// SummaryOf builds the full summary of a class.
func SummaryOf(class BookedClass) *ClassSummary {
	return &ClassSummary{
		ID:              class.ID,
		StudentID:       class.StudentID,
		Status:          class.Status,
		DurationMinutes: class.DurationMinutes,
		Topic:           class.Topic,
		Notes:           class.Notes,
		Feedback:        class.Feedback,
	}
}

// Redacted strips everything that identifies the student or their session content.
func (s ClassSummary) Redacted() *ClassSummary {
	return &ClassSummary{ID: s.ID, Status: s.Status, DurationMinutes: s.DurationMinutes}
}

// Slot is a resolved, displayable occurrence.
type Slot struct {
	State        SlotState     `json:"state"`
	RuleID       string        `json:"rule_id,omitempty"`
	TeacherID    string        `json:"teacher_id"`
	Kind         RuleKind      `json:"kind,omitempty"`
	Date         string        `json:"date"`
	Start        time.Time     `json:"start"`
	End          time.Time     `json:"end"`
	Title        *string       `json:"title,omitempty"`
	Color        *string       `json:"color,omitempty"`
	Label        *string       `json:"label,omitempty"`
	Booking      *ClassSummary `json:"booking,omitempty"`
	ExceptReason ExceptReason  `json:"except_reason,omitempty"`
}

// AvailabilityResult groups resolved slots by state, each sorted by start.
type AvailabilityResult struct {
	TeacherID string `json:"teacher_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Vacant    []Slot `json:"vacant"`
	Reserved  []Slot `json:"reserved"`
	Excepted  []Slot `json:"excepted,omitempty"`
}
