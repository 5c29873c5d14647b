package dto

import "time"

// GrantRegularCreditRequest issues a typed, expiring credit to a regular student.
type GrantRegularCreditRequest struct {
	Type      string    `json:"type" validate:"required,oneof=bonus late-students"`
	Amount    int       `json:"amount" validate:"required,min=1,max=100"`
	ExpiresAt time.Time `json:"expiresAt" validate:"required"`
	Reason    *string   `json:"reason" validate:"omitempty,max=500"`
}

// AddClassCreditsRequest increments the simple counter after payment fulfillment.
type AddClassCreditsRequest struct {
	Amount    int     `json:"amount" validate:"required,min=1,max=1000"`
	Reference *string `json:"reference" validate:"omitempty,max=128"`
}
