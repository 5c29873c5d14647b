package dto

// AvailabilityQuery selects a closed date window of a teacher's availability.
type AvailabilityQuery struct {
	TeacherID       string `json:"teacherId" validate:"required"`
	From            string `json:"from" validate:"required,datetime=2006-01-02"`
	To              string `json:"to" validate:"required,datetime=2006-01-02"`
	IncludeExcepted bool   `json:"includeExcepted"`
}

// AvailabilityExportQuery renders a resolved window to a file.
type AvailabilityExportQuery struct {
	AvailabilityQuery
	Format string `json:"format" validate:"omitempty,oneof=csv pdf"`
}

// RepeatingRequest describes the recurrence of a rule.
type RepeatingRequest struct {
	Cadence  string  `json:"cadence" validate:"required,oneof=weekly bi-weekly monthly"`
	Interval int     `json:"interval" validate:"omitempty,min=1,max=12"`
	EndDate  *string `json:"endDate" validate:"omitempty,datetime=2006-01-02"`
}

// CreateAvailabilityRuleRequest offers a recurring or one-off block of time.
type CreateAvailabilityRuleRequest struct {
	Kind      string            `json:"kind" validate:"required,oneof=regular occasional makeup"`
	StartDate string            `json:"startDate" validate:"required,datetime=2006-01-02"`
	StartTime string            `json:"startTime" validate:"required,datetime=15:04"`
	EndTime   string            `json:"endTime" validate:"required,datetime=15:04"`
	Title     *string           `json:"title" validate:"omitempty,max=120"`
	Color     *string           `json:"color" validate:"omitempty,max=32"`
	Label     *string           `json:"label" validate:"omitempty,max=64"`
	Repeating *RepeatingRequest `json:"repeating" validate:"omitempty"`
}

// AvailabilityExceptionRequest removes or restores a single dated occurrence.
type AvailabilityExceptionRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
}
