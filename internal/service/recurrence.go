package service

import (
	"iter"
	"time"

	"github.com/noah-isme/tutor-scheduling-api/internal/models"
)

// ExpandRule lazily yields the occurrences of rule whose calendar date falls in
// the closed window [from, to], evaluated in loc. The sequence holds no state
// between iterations, so ranging over it twice yields the same occurrences.
//
// Weekly rules advance by 7*interval days. Bi-weekly rules always advance by
// 14 days and ignore interval. Monthly rules advance by interval months and
// keep the day-of-month of the start date; months without that day are skipped.
// Monthly expansion does not match the rule's weekday, so the weekday of an
// occurrence can drift from month to month.
func ExpandRule(rule models.AvailabilityRule, from, to time.Time, loc *time.Location) iter.Seq[models.Occurrence] {
	if loc == nil {
		loc = time.UTC
	}
	return func(yield func(models.Occurrence) bool) {
		start := models.CivilDate(rule.StartDate, loc)
		first := models.DateIn(from, loc)
		last := models.DateIn(to, loc)
		if rule.Repeating != nil && rule.Repeating.EndDate != nil {
			end := models.CivilDate(*rule.Repeating.EndDate, loc)
			if end.Before(last) {
				last = end
			}
		}
		if last.Before(first) || last.Before(start) || rule.EndTime <= rule.StartTime {
			return
		}

		emit := func(day time.Time) bool {
			return yield(occurrenceOn(rule, day, loc))
		}

		if rule.Repeating == nil {
			if !start.Before(first) && !start.After(last) {
				emit(start)
			}
			return
		}

		switch rule.Repeating.Cadence {
		case models.CadenceMonthly:
			expandMonthly(start, first, last, intervalOf(rule.Repeating), loc, emit)
		case models.CadenceBiWeekly:
			expandDaily(start, first, last, 14, emit)
		default:
			expandDaily(start, first, last, 7*intervalOf(rule.Repeating), emit)
		}
	}
}

func expandDaily(start, first, last time.Time, step int, emit func(time.Time) bool) {
	n := 0
	if gap := daysBetween(start, first); gap > 0 {
		n = (gap + step - 1) / step
	}
	for ; ; n++ {
		day := start.AddDate(0, 0, n*step)
		if day.After(last) {
			return
		}
		if day.Weekday() != start.Weekday() {
			continue
		}
		if !emit(day) {
			return
		}
	}
}

func expandMonthly(start, first, last time.Time, interval int, loc *time.Location, emit func(time.Time) bool) {
	y, m, d := start.Date()
	n := 0
	if gap := monthsBetween(start, first); gap > 0 {
		n = gap / interval
	}
	for ; ; n++ {
		offset := n * interval
		candidate := time.Date(y, m+time.Month(offset), d, 0, 0, 0, 0, loc)
		if candidate.Day() != d {
			// The month is too short; peek at the real month to know when to stop.
			if time.Date(y, m+time.Month(offset), 1, 0, 0, 0, 0, loc).After(last) {
				return
			}
			continue
		}
		if candidate.After(last) {
			return
		}
		if candidate.Before(first) {
			continue
		}
		if !emit(candidate) {
			return
		}
	}
}

func occurrenceOn(rule models.AvailabilityRule, day time.Time, loc *time.Location) models.Occurrence {
	return models.Occurrence{
		RuleID:    rule.ID,
		TeacherID: rule.TeacherID,
		Kind:      rule.Kind,
		Start:     rule.StartTime.On(day, loc),
		End:       rule.EndTime.On(day, loc),
		Title:     rule.Title,
		Color:     rule.Color,
		Label:     rule.Label,
	}
}

func intervalOf(r *models.Repeating) int {
	if r == nil || r.Interval < 1 {
		return 1
	}
	return r.Interval
}

// daysBetween counts calendar days from a to b, ignoring DST shifts.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

func monthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}
