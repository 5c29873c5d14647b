package service

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-scheduling-api/internal/dto"
	"github.com/noah-isme/tutor-scheduling-api/internal/models"
	"github.com/noah-isme/tutor-scheduling-api/internal/repository"
	appErrors "github.com/noah-isme/tutor-scheduling-api/pkg/errors"
)

func bookRequest(studentID string, start time.Time) dto.BookClassRequest {
	return dto.BookClassRequest{
		StudentID:       studentID,
		TeacherID:       "teacher-1",
		StartAt:         start,
		DurationMinutes: 60,
	}
}

func TestBookClassReservesVacantSlot(t *testing.T) {
	f := newSchedulingFixture(t, fixtureConfig{})
	f.expectCommit()

	class, err := f.booking.BookClass(context.Background(), studentClaims("student-1"), bookRequest("student-1", slotAt("2024-01-16", "10:00")))
	require.NoError(t, err)
	assert.NotEmpty(t, class.ID)
	assert.Equal(t, models.ClassStatusScheduled, class.Status)
	assert.Equal(t, models.RuleKindRegular, class.Kind)
	assert.Equal(t, models.CreditSourceNone, class.CreditSource)
	require.NotNil(t, class.AvailabilitySlotID)
	assert.Equal(t, "rule-tue", *class.AvailabilitySlotID)
	assert.Equal(t, "student-1", class.CreatedBy)
	assert.Contains(t, f.classes.locked, "teacher-1|2024-01-16T10:00:00Z")

	check, err := f.availability.CheckSlot(context.Background(), "teacher-1", slotAt("2024-01-16", "10:00"))
	require.NoError(t, err)
	assert.Equal(t, models.SlotReserved, check.State)
}

func TestBookClassRejectsBookedSlot(t *testing.T) {
	f := newSchedulingFixture(t, fixtureConfig{classes: []models.BookedClass{{
		ID:              "class-1",
		StudentID:       "student-2",
		TeacherID:       "teacher-1",
		ScheduledAt:     slotAt("2024-01-16", "10:00"),
		DurationMinutes: 60,
		Status:          models.ClassStatusScheduled,
		Kind:            models.RuleKindRegular,
		CreditSource:    models.CreditSourceNone,
	}}})

	_, err := f.booking.BookClass(context.Background(), studentClaims("student-1"), bookRequest("student-1", slotAt("2024-01-16", "10:00")))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSlotUnavailable.Code, appErrors.FromError(err).Code)
}

func TestBookClassRejectsUnofferedTime(t *testing.T) {
	f := newSchedulingFixture(t, fixtureConfig{})

	_, err := f.booking.BookClass(context.Background(), studentClaims("student-1"), bookRequest("student-1", slotAt("2024-01-17", "10:00")))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSlotUnavailable.Code, appErrors.FromError(err).Code)
}

func TestBookClassForAnotherStudentIsForbidden(t *testing.T) {
	f := newSchedulingFixture(t, fixtureConfig{})

	_, err := f.booking.BookClass(context.Background(), studentClaims("student-1"), bookRequest("student-2", slotAt("2024-01-16", "10:00")))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestBookClassRejectsPastStart(t *testing.T) {
	f := newSchedulingFixture(t, fixtureConfig{})

	_, err := f.booking.BookClass(context.Background(), studentClaims("student-1"), bookRequest("student-1", slotAt("2024-01-02", "10:00")))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidDate.Code, appErrors.FromError(err).Code)
}

func TestBookClassHonoursTeacherLeadTime(t *testing.T) {
	f := newSchedulingFixture(t, fixtureConfig{settings: []models.TeacherSettings{{
		TeacherID:            "teacher-1",
		BookingLeadTimeHours: ptr(48),
	}}})

	_, err := f.booking.BookClass(context.Background(), studentClaims("student-1"), bookRequest("student-1", slotAt("2024-01-09", "10:00")))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSlotUnavailable.Code, appErrors.FromError(err).Code)
	assert.Contains(t, err.Error(), "48 hours")
}

func TestBookClassRejectsDurationBeyondSlot(t *testing.T) {
	f := newSchedulingFixture(t, fixtureConfig{})
	req := bookRequest("student-1", slotAt("2024-01-16", "10:00"))
	req.DurationMinutes = 90

	_, err := f.booking.BookClass(context.Background(), studentClaims("student-1"), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestBookClassOccasionalSlotConsumesClassCredit(t *testing.T) {
	f := newSchedulingFixture(t, fixtureConfig{rules: []models.AvailabilityRule{wednesdayOccasionalRule("rule-wed", "10:00")}})
	f.credits.balances["student-1"] = 2
	f.expectCommit()

	class, err := f.booking.BookClass(context.Background(), studentClaims("student-1"), bookRequest("student-1", slotAt("2024-01-10", "10:00")))
	require.NoError(t, err)
	assert.Equal(t, models.RuleKindOccasional, class.Kind)
	assert.Equal(t, models.CreditSourceClassCredits, class.CreditSource)
	assert.Equal(t, 1, f.credits.balances["student-1"])
}

func TestBookClassOccasionalWithoutCreditsFails(t *testing.T) {
	f := newSchedulingFixture(t, fixtureConfig{rules: []models.AvailabilityRule{wednesdayOccasionalRule("rule-wed", "10:00")}})
	f.expectRollback()

	_, err := f.booking.BookClass(context.Background(), studentClaims("student-1"), bookRequest("student-1", slotAt("2024-01-10", "10:00")))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInsufficientCredit.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.classes.classes)
}

func TestBookClassEnforcesDailyOccasionalCap(t *testing.T) {
	f := newSchedulingFixture(t, fixtureConfig{
		rules: []models.AvailabilityRule{
			wednesdayOccasionalRule("rule-wed-10", "10:00"),
			wednesdayOccasionalRule("rule-wed-12", "12:00"),
		},
		settings: []models.TeacherSettings{{TeacherID: "teacher-1", MaxOccasionalClassesPerDay: ptr(1)}},
	})
	f.credits.balances["student-1"] = 5
	ctx := context.Background()
	day := windowQuery("2024-01-10", "2024-01-10")

	result, err := f.availability.Resolve(ctx, studentClaims("student-1"), day)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-10T10:00:00Z"}, slotDates(result.Vacant))

	_, err = f.booking.BookClass(ctx, studentClaims("student-1"), bookRequest("student-1", slotAt("2024-01-10", "12:00")))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPolicyViolation.Code, appErrors.FromError(err).Code)

	f.expectCommit()
	_, err = f.booking.BookClass(ctx, studentClaims("student-1"), bookRequest("student-1", slotAt("2024-01-10", "10:00")))
	require.NoError(t, err)

	result, err = f.availability.Resolve(ctx, studentClaims("student-1"), day)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-10T12:00:00Z"}, slotDates(result.Vacant))
	assert.Equal(t, []string{"2024-01-10T10:00:00Z"}, slotDates(result.Reserved))

	f.expectCommit()
	_, err = f.booking.BookClass(ctx, studentClaims("student-1"), bookRequest("student-1", slotAt("2024-01-10", "12:00")))
	require.NoError(t, err)
	assert.Equal(t, 3, f.credits.balances["student-1"])
	assert.Len(t, f.classes.classes, 2)
}

func TestBookClassRejectsExpiredTypedCredit(t *testing.T) {
	f := newSchedulingFixture(t, fixtureConfig{now: time.Date(2024, 2, 2, 9, 0, 0, 0, time.UTC)})
	f.credits.grant(models.RegularClassCredit{
		ID:        "credit-1",
		StudentID: "student-1",
		Type:      models.CreditTypeBonus,
		Amount:    1,
		Remaining: 1,
		ExpiresAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	f.expectRollback()

	req := bookRequest("student-1", slotAt("2024-02-06", "10:00"))
	req.CreditSource = string(models.CreditSourceRegularCredit)
	req.CreditType = string(models.CreditTypeBonus)

	_, err := f.booking.BookClass(context.Background(), studentClaims("student-1"), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInsufficientCredit.Code, appErrors.FromError(err).Code)
}

func TestBookClassConsumesEarliestExpiringTypedCredit(t *testing.T) {
	f := newSchedulingFixture(t, fixtureConfig{})
	for id, expires := range map[string]time.Time{
		"credit-late":  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		"credit-early": time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	} {
		f.credits.grant(models.RegularClassCredit{ID: id, StudentID: "student-1", Type: models.CreditTypeBonus, Amount: 1, Remaining: 1, ExpiresAt: expires})
	}
	f.expectCommit()

	req := bookRequest("student-1", slotAt("2024-01-16", "10:00"))
	req.CreditSource = string(models.CreditSourceRegularCredit)
	req.CreditType = string(models.CreditTypeBonus)

	class, err := f.booking.BookClass(context.Background(), studentClaims("student-1"), req)
	require.NoError(t, err)
	require.NotNil(t, class.CreditID)
	assert.Equal(t, "credit-early", *class.CreditID)
	require.NotNil(t, class.CreditType)
	assert.Equal(t, models.CreditTypeBonus, *class.CreditType)
	assert.Equal(t, 0, f.credits.regular["credit-early"].Remaining)
	assert.Equal(t, 1, f.credits.regular["credit-late"].Remaining)
}

func TestCreateClassWithCreditBypassesPolicy(t *testing.T) {
	f := newSchedulingFixture(t, fixtureConfig{})
	f.credits.balances["student-1"] = 1
	f.expectCommit()

	class, err := f.booking.CreateClassWithCredit(context.Background(), adminClaims(), dto.CreateClassWithCreditRequest{
		StudentID:       "student-1",
		TeacherID:       "teacher-1",
		StartAt:         slotAt("2024-01-08", "15:00"),
		DurationMinutes: 45,
		CreditSource:    string(models.CreditSourceClassCredits),
	})
	require.NoError(t, err)
	assert.Equal(t, models.RuleKindOccasional, class.Kind)
	assert.Nil(t, class.AvailabilitySlotID)
	assert.Equal(t, "admin-1", class.CreatedBy)
	assert.Equal(t, 0, f.credits.balances["student-1"])
}

func TestCreateClassWithCreditRejectsBookedSlot(t *testing.T) {
	f := newSchedulingFixture(t, fixtureConfig{classes: []models.BookedClass{{
		ID:              "class-1",
		StudentID:       "student-2",
		TeacherID:       "teacher-1",
		ScheduledAt:     slotAt("2024-01-16", "10:00"),
		DurationMinutes: 60,
		Status:          models.ClassStatusScheduled,
		Kind:            models.RuleKindRegular,
	}}})
	f.credits.balances["student-1"] = 1

	_, err := f.booking.CreateClassWithCredit(context.Background(), adminClaims(), dto.CreateClassWithCreditRequest{
		StudentID:       "student-1",
		TeacherID:       "teacher-1",
		StartAt:         slotAt("2024-01-16", "10:00"),
		DurationMinutes: 60,
		CreditSource:    string(models.CreditSourceClassCredits),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSlotUnavailable.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 1, f.credits.balances["student-1"])
}

// racingClasses lets a rival class land between the slot claim and the insert.
type racingClasses struct {
	*memoryClasses
	rival models.BookedClass
}

func (r *racingClasses) Create(ctx context.Context, exec sqlx.ExtContext, class *models.BookedClass) error {
	rival := r.rival
	if err := r.memoryClasses.Create(ctx, exec, &rival); err != nil {
		return err
	}
	return r.memoryClasses.Create(ctx, exec, class)
}

func TestBookClassLostRaceRollsBackCreditConsumption(t *testing.T) {
	f := newSchedulingFixture(t, fixtureConfig{rules: []models.AvailabilityRule{wednesdayOccasionalRule("rule-wed", "10:00")}})
	start := slotAt("2024-01-10", "10:00")
	classes := &racingClasses{
		memoryClasses: f.classes,
		rival:         scheduledClass("class-rival", "student-2", start, models.CreditSourceNone),
	}
	opts := SchedulingOptions{Location: time.UTC, Now: func() time.Time { return f.now }}
	credits := NewCreditService(repository.NewCreditRepository(f.tx.db), nil, validator.New(), zap.NewNop(), opts)
	booking := NewBookingService(f.availability, classes, credits, f.tx, nil, validator.New(), zap.NewNop(), opts)

	f.mock.ExpectBegin()
	f.mock.ExpectExec(regexp.QuoteMeta("UPDATE student_credit_balances SET class_credits = class_credits - 1")).
		WithArgs("student-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectRollback()

	_, err := booking.BookClass(context.Background(), studentClaims("student-1"), bookRequest("student-1", start))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSlotUnavailable.Code, appErrors.FromError(err).Code)
	require.Len(t, f.classes.classes, 1)
	assert.Equal(t, "student-2", f.classes.get("class-rival").StudentID)
}

func TestCreateClassWithCreditRejectsVacation(t *testing.T) {
	f := newSchedulingFixture(t, fixtureConfig{})
	f.vacations.periods["vacation-1"] = &models.VacationPeriod{
		ID:        "vacation-1",
		TeacherID: "teacher-1",
		StartDate: mustDate(t, "2024-01-15"),
		EndDate:   mustDate(t, "2024-01-17"),
	}
	f.credits.balances["student-1"] = 1

	_, err := f.booking.CreateClassWithCredit(context.Background(), adminClaims(), dto.CreateClassWithCreditRequest{
		StudentID:       "student-1",
		TeacherID:       "teacher-1",
		StartAt:         slotAt("2024-01-16", "10:00"),
		DurationMinutes: 60,
		CreditSource:    string(models.CreditSourceClassCredits),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSlotUnavailable.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 1, f.credits.balances["student-1"])
	assert.Empty(t, f.classes.classes)
}

func TestCreateClassWithCreditRequiresStaff(t *testing.T) {
	f := newSchedulingFixture(t, fixtureConfig{})

	_, err := f.booking.CreateClassWithCredit(context.Background(), teacherClaims("teacher-1"), dto.CreateClassWithCreditRequest{
		StudentID:       "student-1",
		TeacherID:       "teacher-1",
		StartAt:         slotAt("2024-01-16", "10:00"),
		DurationMinutes: 60,
		CreditSource:    string(models.CreditSourceClassCredits),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
