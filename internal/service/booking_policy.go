package service

import (
	"time"

	"github.com/noah-isme/tutor-scheduling-api/internal/models"
)

// PolicyVerdict is the outcome of gating a vacant occurrence.
type PolicyVerdict int

const (
	VerdictOfferable PolicyVerdict = iota
	VerdictBeforeLeadTime
	VerdictBeyondHorizon
	VerdictDailyCapReached
)

func (v PolicyVerdict) String() string {
	switch v {
	case VerdictOfferable:
		return "offerable"
	case VerdictBeforeLeadTime:
		return "before_lead_time"
	case VerdictBeyondHorizon:
		return "beyond_horizon"
	case VerdictDailyCapReached:
		return "daily_cap_reached"
	default:
		return "unknown"
	}
}

// PolicyGate decides which vacant occurrences may be offered at a fixed instant.
// It counts occasional slots per date as it goes, so occurrences must be fed
// in ascending start order and a gate must not be shared between resolutions.
type PolicyGate struct {
	policy     models.BookingPolicy
	loc        *time.Location
	minStart   time.Time
	maxStart   time.Time
	occasional map[string]int
}

// NewPolicyGate computes the booking window for now under policy.
func NewPolicyGate(policy models.BookingPolicy, now time.Time, loc *time.Location) *PolicyGate {
	if loc == nil {
		loc = time.UTC
	}
	return &PolicyGate{
		policy:     policy,
		loc:        loc,
		minStart:   now.Add(policy.LeadTime()),
		maxStart:   models.EndOfDay(now.AddDate(0, 0, policy.HorizonDays), loc),
		occasional: make(map[string]int),
	}
}

// Window returns the earliest and latest offerable start instants.
func (g *PolicyGate) Window() (time.Time, time.Time) {
	return g.minStart, g.maxStart
}

// Evaluate gates one vacant occurrence. Only offerable occasional slots count
// toward the daily cap.
func (g *PolicyGate) Evaluate(occ models.Occurrence) PolicyVerdict {
	if occ.Start.Before(g.minStart) {
		return VerdictBeforeLeadTime
	}
	if occ.Start.After(g.maxStart) {
		return VerdictBeyondHorizon
	}
	if occ.Kind == models.RuleKindOccasional && g.policy.MaxOccasionalPerDay > 0 {
		date := occ.Start.In(g.loc).Format(models.DateLayout)
		if g.occasional[date] >= g.policy.MaxOccasionalPerDay {
			return VerdictDailyCapReached
		}
		g.occasional[date]++
	}
	return VerdictOfferable
}

// Offerable is shorthand for Evaluate(occ) == VerdictOfferable.
func (g *PolicyGate) Offerable(occ models.Occurrence) bool {
	return g.Evaluate(occ) == VerdictOfferable
}
