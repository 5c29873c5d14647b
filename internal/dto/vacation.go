package dto

// RequestVacationRequest declares an inclusive date range of unavailability.
type RequestVacationRequest struct {
	StartDate string `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"endDate" validate:"required,datetime=2006-01-02"`
}
