package service

import (
	"time"

	"github.com/noah-isme/tutor-scheduling-api/internal/models"
)

// BookingIndex looks up occupying classes by (teacher, date, HH:MM). Matching
// is by wall-clock equality, not by rule id, since a class can outlive edits
// to the rule it was booked from.
type BookingIndex struct {
	loc     *time.Location
	byKey   map[string]*models.BookedClass
	ordered []*models.BookedClass
}

// NewBookingIndex indexes the classes that still occupy their slot.
func NewBookingIndex(classes []models.BookedClass, loc *time.Location) *BookingIndex {
	if loc == nil {
		loc = time.UTC
	}
	idx := &BookingIndex{loc: loc, byKey: make(map[string]*models.BookedClass, len(classes))}
	for i := range classes {
		class := &classes[i]
		if !class.Status.Occupies() {
			continue
		}
		key := bookingKey(class.TeacherID, class.ScheduledAt, loc)
		if _, exists := idx.byKey[key]; exists {
			continue
		}
		idx.byKey[key] = class
		idx.ordered = append(idx.ordered, class)
	}
	return idx
}

// Lookup returns the occupying class of teacherID starting at start, if any.
func (i *BookingIndex) Lookup(teacherID string, start time.Time) (*models.BookedClass, bool) {
	if i == nil {
		return nil, false
	}
	class, ok := i.byKey[bookingKey(teacherID, start, i.loc)]
	return class, ok
}

// Classes returns the indexed classes in insertion order.
func (i *BookingIndex) Classes() []*models.BookedClass {
	if i == nil {
		return nil
	}
	return i.ordered
}

func bookingKey(teacherID string, at time.Time, loc *time.Location) string {
	local := at.In(loc)
	return teacherID + "|" + local.Format(models.DateLayout) + "|" + models.ClockOf(local).String()
}

// ExceptionSet answers whether an occurrence of a rule was suppressed on a date,
// either by an explicit exception or by a vacation of the teacher.
type ExceptionSet struct {
	loc      *time.Location
	byRule   map[string]struct{}
	vacation map[string]struct{}
}

// NewExceptionSet indexes exceptions by (rule, calendar date).
func NewExceptionSet(exceptions []models.AvailabilityException, loc *time.Location) *ExceptionSet {
	if loc == nil {
		loc = time.UTC
	}
	set := &ExceptionSet{
		loc:      loc,
		byRule:   make(map[string]struct{}, len(exceptions)),
		vacation: make(map[string]struct{}),
	}
	for _, ex := range exceptions {
		set.byRule[ex.RuleID+"|"+ex.Date.Format(models.DateLayout)] = struct{}{}
	}
	return set
}

// AddVacations marks every date covered by the periods as suppressed.
func (s *ExceptionSet) AddVacations(periods []models.VacationPeriod) {
	for _, period := range periods {
		day := models.CivilDate(period.StartDate, s.loc)
		end := models.CivilDate(period.EndDate, s.loc)
		for !day.After(end) {
			s.vacation[day.Format(models.DateLayout)] = struct{}{}
			day = day.AddDate(0, 0, 1)
		}
	}
}

// Reason reports why the occurrence is suppressed. Explicit exceptions win over vacations.
func (s *ExceptionSet) Reason(occ models.Occurrence) (models.ExceptReason, bool) {
	if s == nil {
		return "", false
	}
	date := occ.Start.In(s.loc).Format(models.DateLayout)
	if _, ok := s.byRule[occ.RuleID+"|"+date]; ok {
		return models.ExceptReasonException, true
	}
	if _, ok := s.vacation[date]; ok {
		return models.ExceptReasonVacation, true
	}
	return "", false
}

// Classification is the outcome of classifying one occurrence. Booking is set
// only for SlotReserved and Reason only for SlotExcepted.
type Classification struct {
	State   models.SlotState
	Booking *models.BookedClass
	Reason  models.ExceptReason
}

// Classify places an occurrence in exactly one state. Reserved overrides
// Excepted, which overrides Vacant.
func Classify(occ models.Occurrence, bookings *BookingIndex, exceptions *ExceptionSet) Classification {
	if class, ok := bookings.Lookup(occ.TeacherID, occ.Start); ok {
		return Classification{State: models.SlotReserved, Booking: class}
	}
	if reason, ok := exceptions.Reason(occ); ok {
		return Classification{State: models.SlotExcepted, Reason: reason}
	}
	return Classification{State: models.SlotVacant}
}
