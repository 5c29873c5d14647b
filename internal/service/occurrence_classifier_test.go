package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/tutor-scheduling-api/internal/models"
)

func occurrenceAt(start time.Time) models.Occurrence {
	return models.Occurrence{
		RuleID:    "rule-1",
		TeacherID: "teacher-1",
		Kind:      models.RuleKindRegular,
		Start:     start,
		End:       start.Add(time.Hour),
	}
}

func TestClassifyPriority(t *testing.T) {
	start := time.Date(2024, 1, 9, 10, 0, 0, 0, time.UTC)
	occ := occurrenceAt(start)
	class := models.BookedClass{ID: "class-1", TeacherID: "teacher-1", ScheduledAt: start, Status: models.ClassStatusScheduled}
	exceptions := NewExceptionSet([]models.AvailabilityException{{RuleID: "rule-1", Date: time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)}}, time.UTC)

	t.Run("vacant", func(t *testing.T) {
		got := Classify(occ, NewBookingIndex(nil, time.UTC), NewExceptionSet(nil, time.UTC))
		assert.Equal(t, models.SlotVacant, got.State)
		assert.Nil(t, got.Booking)
	})

	t.Run("excepted", func(t *testing.T) {
		got := Classify(occ, NewBookingIndex(nil, time.UTC), exceptions)
		assert.Equal(t, models.SlotExcepted, got.State)
		assert.Equal(t, models.ExceptReasonException, got.Reason)
	})

	t.Run("reserved wins over excepted", func(t *testing.T) {
		got := Classify(occ, NewBookingIndex([]models.BookedClass{class}, time.UTC), exceptions)
		assert.Equal(t, models.SlotReserved, got.State)
		assert.Equal(t, "class-1", got.Booking.ID)
	})

	t.Run("freed slot is vacant again", func(t *testing.T) {
		canceled := class
		canceled.Status = models.ClassStatusCanceledStudent
		got := Classify(occ, NewBookingIndex([]models.BookedClass{canceled}, time.UTC), nil)
		assert.Equal(t, models.SlotVacant, got.State)
	})
}

func TestBookingIndexMatchesWallClock(t *testing.T) {
	loc := time.FixedZone("WIB", 7*60*60)
	start := time.Date(2024, 1, 9, 10, 0, 0, 0, loc)
	idx := NewBookingIndex([]models.BookedClass{
		{ID: "class-1", TeacherID: "teacher-1", ScheduledAt: start.UTC(), Status: models.ClassStatusCompleted},
		{ID: "class-2", TeacherID: "teacher-1", ScheduledAt: start, Status: models.ClassStatusScheduled},
	}, loc)

	class, ok := idx.Lookup("teacher-1", start)
	assert.True(t, ok)
	assert.Equal(t, "class-1", class.ID)
	assert.Len(t, idx.Classes(), 1)

	_, ok = idx.Lookup("teacher-2", start)
	assert.False(t, ok)
	_, ok = idx.Lookup("teacher-1", start.Add(30*time.Minute))
	assert.False(t, ok)
}

func TestExceptionSetVacations(t *testing.T) {
	set := NewExceptionSet(nil, time.UTC)
	set.AddVacations([]models.VacationPeriod{{
		StartDate: time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
	}})

	reason, ok := set.Reason(occurrenceAt(time.Date(2024, 1, 10, 22, 0, 0, 0, time.UTC)))
	assert.True(t, ok)
	assert.Equal(t, models.ExceptReasonVacation, reason)

	_, ok = set.Reason(occurrenceAt(time.Date(2024, 1, 11, 9, 0, 0, 0, time.UTC)))
	assert.False(t, ok)
}
