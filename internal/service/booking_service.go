package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-scheduling-api/internal/dto"
	"github.com/noah-isme/tutor-scheduling-api/internal/models"
	"github.com/noah-isme/tutor-scheduling-api/internal/repository"
	appErrors "github.com/noah-isme/tutor-scheduling-api/pkg/errors"
	"github.com/noah-isme/tutor-scheduling-api/pkg/logger"
)

type slotChecker interface {
	CheckSlot(ctx context.Context, teacherID string, start time.Time) (SlotCheck, error)
	Policy(ctx context.Context, teacherID string) (models.BookingPolicy, error)
	InvalidateTeacher(ctx context.Context, teacherID string)
}

type slotClaimer interface {
	LockSlot(ctx context.Context, exec sqlx.ExtContext, teacherID string, at time.Time) error
	FindActiveAt(ctx context.Context, exec sqlx.ExtContext, teacherID string, at time.Time) (*models.BookedClass, error)
}

type bookingClassStore interface {
	slotClaimer
	Create(ctx context.Context, exec sqlx.ExtContext, class *models.BookedClass) error
}

type creditLedger interface {
	Consume(ctx context.Context, exec sqlx.ExtContext, studentID string, source models.CreditSource, creditType models.CreditType, at time.Time) (*CreditConsumption, error)
	Refund(ctx context.Context, exec sqlx.ExtContext, class *models.BookedClass, at time.Time) (*string, error)
}

// BookingService commits new classes against freshly resolved availability.
type BookingService struct {
	slots     slotChecker
	classes   bookingClassStore
	credits   creditLedger
	tx        txProvider
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	opts      SchedulingOptions
}

// NewBookingService wires booking dependencies.
func NewBookingService(
	slots slotChecker,
	classes bookingClassStore,
	credits creditLedger,
	tx txProvider,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	opts SchedulingOptions,
) *BookingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BookingService{
		slots:     slots,
		classes:   classes,
		credits:   credits,
		tx:        tx,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		opts:      opts.normalized(),
	}
}

// BookClass books a vacant, offerable slot. Occasional slots always consume a
// class credit; other kinds consume a credit only when one is requested.
func (s *BookingService) BookClass(ctx context.Context, claims *models.JWTClaims, req dto.BookClassRequest) (*models.BookedClass, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid booking payload")
	}
	if claims == nil || !(claims.Is(req.StudentID) || claims.IsStaff()) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students can only book classes for themselves")
	}

	now := s.opts.Now()
	start := req.StartAt.In(s.opts.Location)
	if !start.After(now) {
		return nil, appErrors.Clone(appErrors.ErrInvalidDate, "class start must be in the future")
	}

	check, err := s.slots.CheckSlot(ctx, req.TeacherID, start)
	if err != nil {
		return nil, err
	}
	if err := check.Err(); err != nil {
		s.recordRejection(err)
		return nil, err
	}
	if err := fitsOccurrence(check.Occurrence, start, req.DurationMinutes); err != nil {
		return nil, err
	}

	source := models.CreditSource(req.CreditSource)
	if source == "" {
		source = models.CreditSourceNone
	}
	if check.Occurrence.Kind == models.RuleKindOccasional && source == models.CreditSourceNone {
		source = models.CreditSourceClassCredits
	}

	class := &models.BookedClass{
		StudentID:          req.StudentID,
		TeacherID:          req.TeacherID,
		ScheduledAt:        start.UTC(),
		DurationMinutes:    req.DurationMinutes,
		Status:             models.ClassStatusScheduled,
		Kind:               check.Occurrence.Kind,
		Topic:              req.Topic,
		CreatedBy:          claims.UserID,
		AvailabilitySlotID: nonEmpty(check.Occurrence.RuleID),
		CreditSource:       source,
	}
	if err := s.commit(ctx, class, models.CreditType(req.CreditType), now); err != nil {
		return nil, err
	}
	return class, nil
}

// CreateClassWithCredit is the staff-assisted booking. It always consumes a
// credit and bypasses the lead-time, horizon and cap rules, but the slot must
// still be free of any other class and outside the teacher's vacations.
func (s *BookingService) CreateClassWithCredit(ctx context.Context, claims *models.JWTClaims, req dto.CreateClassWithCreditRequest) (*models.BookedClass, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid booking payload")
	}
	if !claims.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only staff can create classes with credit")
	}

	now := s.opts.Now()
	start := req.StartAt.In(s.opts.Location)
	if !start.After(now) {
		return nil, appErrors.Clone(appErrors.ErrInvalidDate, "class start must be in the future")
	}

	source := models.CreditSource(req.CreditSource)
	kind := models.RuleKindOccasional
	if source == models.CreditSourceRegularCredit {
		kind = models.RuleKindRegular
	}
	check, err := s.slots.CheckSlot(ctx, req.TeacherID, start)
	if err != nil {
		return nil, err
	}
	if check.State == models.SlotReserved {
		s.metrics.RecordSlotConflict()
		return nil, appErrors.Clone(appErrors.ErrSlotUnavailable, "the requested slot is already booked")
	}
	if check.State == models.SlotExcepted && check.Reason == models.ExceptReasonVacation {
		return nil, appErrors.Clone(appErrors.ErrSlotUnavailable, "the teacher is on vacation at the requested time")
	}
	if check.Found {
		kind = check.Occurrence.Kind
	}

	class := &models.BookedClass{
		StudentID:          req.StudentID,
		TeacherID:          req.TeacherID,
		ScheduledAt:        start.UTC(),
		DurationMinutes:    req.DurationMinutes,
		Status:             models.ClassStatusScheduled,
		Kind:               kind,
		Topic:              req.Topic,
		CreatedBy:          claims.UserID,
		AvailabilitySlotID: nonEmpty(check.Occurrence.RuleID),
		CreditSource:       source,
	}
	if err := s.commit(ctx, class, models.CreditType(req.CreditType), now); err != nil {
		return nil, err
	}
	return class, nil
}

// commit writes class and its credit consumption in one transaction, so a
// failed insert leaves the credit untouched.
func (s *BookingService) commit(ctx context.Context, class *models.BookedClass, creditType models.CreditType, now time.Time) error {
	err := inTx(ctx, s.tx, func(tx *sqlx.Tx) error {
		if err := claimSlot(ctx, tx, s.classes, class.TeacherID, class.ScheduledAt); err != nil {
			return err
		}
		consumption, err := s.credits.Consume(ctx, tx, class.StudentID, class.CreditSource, creditType, now)
		if err != nil {
			return err
		}
		class.CreditSource = consumption.Source
		class.CreditID = consumption.CreditID
		class.CreditType = consumption.Type
		return createClass(ctx, tx, s.classes, class)
	})
	if err != nil {
		s.recordRejection(err)
		return err
	}

	s.slots.InvalidateTeacher(ctx, class.TeacherID)
	s.metrics.RecordBooking(string(class.CreditSource))
	logger.WithContext(ctx, s.logger).Info("class booked",
		zap.String("class_id", class.ID),
		zap.String("teacher_id", class.TeacherID),
		zap.String("student_id", class.StudentID),
		zap.Time("scheduled_at", class.ScheduledAt),
		zap.String("credit_source", string(class.CreditSource)),
	)
	return nil
}

func (s *BookingService) recordRejection(err error) {
	if appErrors.Is(err, appErrors.ErrSlotUnavailable) {
		s.metrics.RecordSlotConflict()
	}
}

// claimSlot serialises writers on (teacher, at) and fails when another class
// already occupies it.
func claimSlot(ctx context.Context, exec sqlx.ExtContext, store slotClaimer, teacherID string, at time.Time) error {
	if err := store.LockSlot(ctx, exec, teacherID, at); err != nil {
		return appErrors.Internal(err, "failed to lock slot")
	}
	existing, err := store.FindActiveAt(ctx, exec, teacherID, at)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return appErrors.Internal(err, "failed to check slot")
	case existing != nil:
		return appErrors.Clone(appErrors.ErrSlotUnavailable, "the requested slot was just booked")
	}
	return nil
}

func createClass(ctx context.Context, exec sqlx.ExtContext, store bookingClassStore, class *models.BookedClass) error {
	if err := store.Create(ctx, exec, class); err != nil {
		if errors.Is(err, repository.ErrSlotTaken) {
			return appErrors.Clone(appErrors.ErrSlotUnavailable, "the requested slot was just booked")
		}
		return appErrors.Internal(err, "failed to create class")
	}
	return nil
}

func fitsOccurrence(occ models.Occurrence, start time.Time, durationMinutes int) error {
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	if end.After(occ.End) {
		return appErrors.Clonef(appErrors.ErrValidation, "duration exceeds the offered slot ending at %s", occ.End.Format("15:04"))
	}
	return nil
}

func nonEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
