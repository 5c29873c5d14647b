package service

import (
	"time"

	"github.com/noah-isme/tutor-scheduling-api/internal/models"
	"github.com/noah-isme/tutor-scheduling-api/pkg/config"
)

// SchedulingOptions carries the engine-wide settings shared by the scheduling services.
type SchedulingOptions struct {
	Location       *time.Location
	Defaults       models.BookingPolicy
	MaxWindowDays  int
	RefundValidity time.Duration
	OverdueGrace   time.Duration
	CacheTTL       time.Duration
	Now            func() time.Time
}

// NewSchedulingOptions maps loaded configuration onto engine options.
func NewSchedulingOptions(cfg config.SchedulingConfig, availability config.AvailabilityConfig) SchedulingOptions {
	return SchedulingOptions{
		Location: cfg.Location(),
		Defaults: models.BookingPolicy{
			LeadTimeHours:           cfg.DefaultLeadTimeHours,
			HorizonDays:             cfg.DefaultHorizonDays,
			MaxOccasionalPerDay:     cfg.DefaultMaxOccasionalPerDay,
			CancellationPolicyHours: cfg.DefaultCancellationHours,
		},
		MaxWindowDays:  cfg.MaxWindowDays,
		RefundValidity: cfg.RefundCreditValidity,
		OverdueGrace:   cfg.OverdueGrace,
		CacheTTL:       availability.CacheTTL,
	}
}

func (o SchedulingOptions) normalized() SchedulingOptions {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Defaults == (models.BookingPolicy{}) {
		o.Defaults = models.BookingPolicy{LeadTimeHours: 24, HorizonDays: 30, CancellationPolicyHours: 24}
	}
	if o.MaxWindowDays <= 0 {
		o.MaxWindowDays = 93
	}
	if o.RefundValidity <= 0 {
		o.RefundValidity = 30 * 24 * time.Hour
	}
	if o.OverdueGrace <= 0 {
		o.OverdueGrace = 2 * time.Hour
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
