package models

import "time"

// TeacherSettings stores per-teacher overrides of the booking policy.
type TeacherSettings struct {
	TeacherID                  string    `db:"teacher_id" json:"teacher_id"`
	BookingLeadTimeHours       *int      `db:"booking_lead_time_hours" json:"booking_lead_time_hours,omitempty"`
	BookingHorizonDays         *int      `db:"booking_horizon_days" json:"booking_horizon_days,omitempty"`
	MaxOccasionalClassesPerDay *int      `db:"max_occasional_classes_per_day" json:"max_occasional_classes_per_day,omitempty"`
	CancellationPolicyHours    *int      `db:"cancellation_policy_hours" json:"cancellation_policy_hours,omitempty"`
	VacationDaysRemaining      int       `db:"vacation_days_remaining" json:"vacation_days_remaining"`
	UpdatedAt                  time.Time `db:"updated_at" json:"updated_at"`
}

// BookingPolicy is the effective policy for one teacher.
type BookingPolicy struct {
	LeadTimeHours           int `json:"booking_lead_time_hours"`
	HorizonDays             int `json:"booking_horizon_days"`
	MaxOccasionalPerDay     int `json:"max_occasional_classes_per_day"`
	CancellationPolicyHours int `json:"cancellation_policy_hours"`
}

// LeadTime returns the minimum notice as a duration.
func (p BookingPolicy) LeadTime() time.Duration {
	return time.Duration(p.LeadTimeHours) * time.Hour
}

// CancellationWindow returns the refund window as a duration.
func (p BookingPolicy) CancellationWindow() time.Duration {
	return time.Duration(p.CancellationPolicyHours) * time.Hour
}

// Resolve applies the teacher overrides on top of defaults. A nil receiver
// yields the defaults unchanged.
func (s *TeacherSettings) Resolve(defaults BookingPolicy) BookingPolicy {
	policy := defaults
	if s == nil {
		return policy
	}
	if s.BookingLeadTimeHours != nil && *s.BookingLeadTimeHours >= 0 {
		policy.LeadTimeHours = *s.BookingLeadTimeHours
	}
	if s.BookingHorizonDays != nil && *s.BookingHorizonDays >= 0 {
		policy.HorizonDays = *s.BookingHorizonDays
	}
	if s.MaxOccasionalClassesPerDay != nil && *s.MaxOccasionalClassesPerDay >= 0 {
		policy.MaxOccasionalPerDay = *s.MaxOccasionalClassesPerDay
	}
	if s.CancellationPolicyHours != nil && *s.CancellationPolicyHours >= 0 {
		policy.CancellationPolicyHours = *s.CancellationPolicyHours
	}
	return policy
}
