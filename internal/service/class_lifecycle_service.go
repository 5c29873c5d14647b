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

type lifecycleClassStore interface {
	bookingClassStore
	FindByID(ctx context.Context, id string) (*models.BookedClass, error)
	FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.BookedClass, error)
	Transition(ctx context.Context, exec sqlx.ExtContext, t models.ClassTransition) (bool, error)
	ListOverdueCandidates(ctx context.Context, cutoff time.Time, limit int) ([]models.BookedClass, error)
}

type slotExceptionRemover interface {
	DeleteAtSlot(ctx context.Context, exec sqlx.ExtContext, teacherID string, date time.Time, clock models.ClockTime) (int64, error)
}

type notifier interface {
	Notify(n Notification)
}

// ClassLifecycleService moves booked classes through their status machine.
type ClassLifecycleService struct {
	slots      slotChecker
	classes    lifecycleClassStore
	exceptions slotExceptionRemover
	credits    creditLedger
	notifier   notifier
	tx         txProvider
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	opts       SchedulingOptions
}

// NewClassLifecycleService wires lifecycle dependencies. notifier may be nil.
func NewClassLifecycleService(
	slots slotChecker,
	classes lifecycleClassStore,
	exceptions slotExceptionRemover,
	credits creditLedger,
	notifier notifier,
	tx txProvider,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	opts SchedulingOptions,
) *ClassLifecycleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassLifecycleService{
		slots:      slots,
		classes:    classes,
		exceptions: exceptions,
		credits:    credits,
		notifier:   notifier,
		tx:         tx,
		metrics:    metrics,
		validator:  validate,
		logger:     logger,
		opts:       opts.normalized(),
	}
}

// Reschedule moves a scheduled class to newStart. The original becomes
// rescheduled and a successor pointing back to it is created, carrying the
// same student, teacher, duration and funding. On any failure the original is
// left untouched.
func (s *ClassLifecycleService) Reschedule(ctx context.Context, claims *models.JWTClaims, classID string, req dto.RescheduleClassRequest) (*models.BookedClass, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid reschedule payload")
	}
	original, err := s.load(ctx, classID)
	if err != nil {
		return nil, err
	}
	if !canActOn(claims, original) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to reschedule this class")
	}
	if original.Status != models.ClassStatusScheduled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only scheduled classes can be rescheduled")
	}

	now := s.opts.Now()
	newStart := req.NewStartAt.In(s.opts.Location)
	if !original.ScheduledAt.After(now) {
		return nil, appErrors.Clone(appErrors.ErrInvalidDate, "classes that already started cannot be rescheduled")
	}
	if !newStart.After(now) {
		return nil, appErrors.Clone(appErrors.ErrInvalidDate, "new start must be in the future")
	}
	if newStart.Equal(original.ScheduledAt) {
		return nil, appErrors.Clone(appErrors.ErrInvalidDate, "new start equals the current start")
	}

	check, err := s.slots.CheckSlot(ctx, original.TeacherID, newStart)
	if err != nil {
		return nil, err
	}
	if err := check.Err(); err != nil {
		s.recordRejection(err)
		return nil, err
	}
	if err := fitsOccurrence(check.Occurrence, newStart, original.DurationMinutes); err != nil {
		return nil, err
	}

	successor := &models.BookedClass{
		StudentID:          original.StudentID,
		TeacherID:          original.TeacherID,
		ScheduledAt:        newStart.UTC(),
		DurationMinutes:    original.DurationMinutes,
		Status:             models.ClassStatusScheduled,
		Kind:               check.Occurrence.Kind,
		Topic:              original.Topic,
		CreatedBy:          claims.UserID,
		AvailabilitySlotID: nonEmpty(check.Occurrence.RuleID),
		RescheduledFrom:    &original.ID,
		CreditSource:       original.CreditSource,
		CreditID:           original.CreditID,
		CreditType:         original.CreditType,
	}

	err = inTx(ctx, s.tx, func(tx *sqlx.Tx) error {
		if _, err := s.lockScheduled(ctx, tx, classID); err != nil {
			return err
		}
		if err := claimSlot(ctx, tx, s.classes, successor.TeacherID, successor.ScheduledAt); err != nil {
			return err
		}
		at := now.UTC()
		if err := s.transition(ctx, tx, models.ClassTransition{
			ClassID:      classID,
			From:         models.ClassStatusScheduled,
			To:           models.ClassStatusRescheduled,
			At:           at,
			CanceledAt:   &at,
			CanceledBy:   &claims.UserID,
			CancelReason: req.Reason,
		}); err != nil {
			return err
		}
		return createClass(ctx, tx, s.classes, successor)
	})
	if err != nil {
		s.recordRejection(err)
		return nil, err
	}

	s.slots.InvalidateTeacher(ctx, original.TeacherID)
	s.metrics.RecordReschedule()
	logger.WithContext(ctx, s.logger).Info("class rescheduled",
		zap.String("class_id", original.ID),
		zap.String("successor_id", successor.ID),
		zap.Time("from", original.ScheduledAt),
		zap.Time("to", successor.ScheduledAt),
		zap.String("actor_id", claims.UserID),
	)
	recipient := original.StudentID
	if claims.Is(original.StudentID) {
		recipient = original.TeacherID
	}
	s.notify(NotifyClassRescheduled, recipient, successor, req.Reason)
	return successor, nil
}

// CancelByStudent cancels the caller's own class. Cancellation is always
// allowed before the class starts; the funding credit is refunded only when
// at least the teacher's cancellation window remains.
func (s *ClassLifecycleService) CancelByStudent(ctx context.Context, claims *models.JWTClaims, classID string, req dto.CancelClassRequest) (*dto.CancelClassResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid cancellation payload")
	}
	class, err := s.load(ctx, classID)
	if err != nil {
		return nil, err
	}
	if !claims.Is(class.StudentID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students can only cancel their own classes")
	}
	if class.Status != models.ClassStatusScheduled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only scheduled classes can be canceled")
	}
	now := s.opts.Now()
	if !class.ScheduledAt.After(now) {
		return nil, appErrors.Clone(appErrors.ErrInvalidDate, "classes that already started cannot be canceled")
	}

	policy, err := s.slots.Policy(ctx, class.TeacherID)
	if err != nil {
		return nil, err
	}
	refund := class.CreditFunded() && class.ScheduledAt.Sub(now) >= policy.CancellationWindow()

	resp, err := s.cancel(ctx, claims, classID, models.ClassStatusCanceledStudent, req.Reason, refund, now)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordCancellation("student", resp.Refunded)
	s.notify(NotifyClassCanceledByStudent, class.TeacherID, class, req.Reason)
	return resp, nil
}

// CancelByTeacher cancels a class on the teacher's side. Any consumed credit
// is always refunded and the student is notified.
func (s *ClassLifecycleService) CancelByTeacher(ctx context.Context, claims *models.JWTClaims, classID string, req dto.CancelClassRequest) (*dto.CancelClassResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid cancellation payload")
	}
	class, err := s.load(ctx, classID)
	if err != nil {
		return nil, err
	}
	if !(claims.Is(class.TeacherID) || claims.IsStaff()) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the class teacher can cancel this class")
	}
	if class.Status != models.ClassStatusScheduled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only scheduled classes can be canceled")
	}
	now := s.opts.Now()
	if !class.ScheduledAt.After(now) {
		return nil, appErrors.Clone(appErrors.ErrInvalidDate, "classes that already started cannot be canceled")
	}

	resp, err := s.cancel(ctx, claims, classID, models.ClassStatusCanceledTeacher, req.Reason, class.CreditFunded(), now)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordCancellation("teacher", resp.Refunded)
	s.notify(NotifyClassCanceledByTeacher, class.StudentID, class, req.Reason)
	return resp, nil
}

func (s *ClassLifecycleService) cancel(ctx context.Context, claims *models.JWTClaims, classID string, to models.ClassStatus, reason *string, refund bool, now time.Time) (*dto.CancelClassResponse, error) {
	resp := &dto.CancelClassResponse{ClassID: classID, Status: string(to)}
	var teacherID string
	err := inTx(ctx, s.tx, func(tx *sqlx.Tx) error {
		class, err := s.lockScheduled(ctx, tx, classID)
		if err != nil {
			return err
		}
		teacherID = class.TeacherID
		at := now.UTC()
		if err := s.transition(ctx, tx, models.ClassTransition{
			ClassID:      classID,
			From:         models.ClassStatusScheduled,
			To:           to,
			At:           at,
			CanceledAt:   &at,
			CanceledBy:   &claims.UserID,
			CancelReason: reason,
		}); err != nil {
			return err
		}
		if !refund {
			return nil
		}
		creditID, err := s.credits.Refund(ctx, tx, class, now)
		if err != nil {
			return err
		}
		resp.Refunded = true
		resp.RefundCreditID = creditID
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.slots.InvalidateTeacher(ctx, teacherID)
	logger.WithContext(ctx, s.logger).Info("class canceled",
		zap.String("class_id", classID),
		zap.String("status", string(to)),
		zap.Bool("refunded", resp.Refunded),
		zap.String("actor_id", claims.UserID),
	)
	return resp, nil
}

// ConvertToSlot re-exposes the time freed by a canceled or rescheduled class.
// Exceptions suppressing that occurrence are removed; the resolver then
// classifies it vacant again unless another class took it meanwhile.
func (s *ClassLifecycleService) ConvertToSlot(ctx context.Context, claims *models.JWTClaims, classID string) (*dto.ConvertToSlotResponse, error) {
	class, err := s.load(ctx, classID)
	if err != nil {
		return nil, err
	}
	if !(claims.Is(class.TeacherID) || claims.IsStaff()) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the class teacher can reopen this slot")
	}
	if !class.Status.Canceled() && class.Status != models.ClassStatusRescheduled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only canceled or rescheduled classes can be converted to a slot")
	}
	if !class.ScheduledAt.After(s.opts.Now()) {
		return nil, appErrors.Clone(appErrors.ErrInvalidDate, "the freed time is already in the past")
	}

	local := class.ScheduledAt.In(s.opts.Location)
	resp := &dto.ConvertToSlotResponse{ClassID: class.ID, StartAt: local}
	err = inTx(ctx, s.tx, func(tx *sqlx.Tx) error {
		if err := claimSlot(ctx, tx, s.classes, class.TeacherID, class.ScheduledAt); err != nil {
			return err
		}
		removed, err := s.exceptions.DeleteAtSlot(ctx, tx, class.TeacherID, models.DateIn(local, s.opts.Location), models.ClockOf(local))
		if err != nil {
			return appErrors.Internal(err, "failed to remove slot exceptions")
		}
		resp.ExceptionsRemoved = removed
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.slots.InvalidateTeacher(ctx, class.TeacherID)

	check, err := s.slots.CheckSlot(ctx, class.TeacherID, local)
	if err != nil {
		return nil, err
	}
	resp.State = string(models.SlotVacant)
	if !check.Found {
		resp.State = "unoffered"
	} else if check.State != models.SlotVacant {
		resp.State = string(check.State)
	}
	return resp, nil
}

// Complete marks a class that took place as completed.
func (s *ClassLifecycleService) Complete(ctx context.Context, claims *models.JWTClaims, classID string, req dto.CompleteClassRequest) (*models.BookedClass, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid completion payload")
	}
	return s.close(ctx, claims, classID, models.ClassStatusCompleted, req.Feedback, req.Notes)
}

// MarkNoShow records that the student did not attend.
func (s *ClassLifecycleService) MarkNoShow(ctx context.Context, claims *models.JWTClaims, classID string) (*models.BookedClass, error) {
	return s.close(ctx, claims, classID, models.ClassStatusNoShow, nil, nil)
}

func (s *ClassLifecycleService) close(ctx context.Context, claims *models.JWTClaims, classID string, to models.ClassStatus, feedback, notes *string) (*models.BookedClass, error) {
	class, err := s.load(ctx, classID)
	if err != nil {
		return nil, err
	}
	if !(claims.Is(class.TeacherID) || claims.IsStaff()) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the class teacher can close this class")
	}
	if class.Status != models.ClassStatusScheduled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only scheduled classes can be closed")
	}
	now := s.opts.Now()
	if class.ScheduledAt.After(now) {
		return nil, appErrors.Clone(appErrors.ErrInvalidDate, "the class has not started yet")
	}

	at := now.UTC()
	t := models.ClassTransition{ClassID: classID, From: models.ClassStatusScheduled, To: to, At: at}
	if to == models.ClassStatusCompleted {
		t.CompletedAt = &at
		t.Feedback = feedback
		t.Notes = notes
	}
	if err := s.transition(ctx, nil, t); err != nil {
		return nil, err
	}
	s.slots.InvalidateTeacher(ctx, class.TeacherID)

	class.Status = to
	class.UpdatedAt = at
	class.CompletedAt = t.CompletedAt
	class.Feedback = t.Feedback
	class.Notes = t.Notes
	return class, nil
}

// MarkOverdue moves scheduled classes that ended more than the grace period
// before now to overdue. It is driven by the API process scheduler.
func (s *ClassLifecycleService) MarkOverdue(ctx context.Context, now time.Time) (*dto.OverdueSweepResult, error) {
	cutoff := now.Add(-s.opts.OverdueGrace)
	candidates, err := s.classes.ListOverdueCandidates(ctx, cutoff, 0)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list overdue classes")
	}
	result := &dto.OverdueSweepResult{SweptAt: now.UTC(), ClassIDs: []string{}}
	teachers := make(map[string]struct{})
	for _, class := range candidates {
		ok, err := s.classes.Transition(ctx, nil, models.ClassTransition{
			ClassID: class.ID,
			From:    models.ClassStatusScheduled,
			To:      models.ClassStatusOverdue,
			At:      now.UTC(),
		})
		if err != nil {
			s.logger.Warn("overdue transition failed", zap.String("class_id", class.ID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		result.Marked++
		result.ClassIDs = append(result.ClassIDs, class.ID)
		teachers[class.TeacherID] = struct{}{}
	}
	for teacherID := range teachers {
		s.slots.InvalidateTeacher(ctx, teacherID)
	}
	s.metrics.RecordOverdue(result.Marked)
	if result.Marked > 0 {
		s.logger.Info("overdue classes marked", zap.Int("count", result.Marked))
	}
	return result, nil
}

func (s *ClassLifecycleService) load(ctx context.Context, classID string) (*models.BookedClass, error) {
	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Internal(err, "failed to load class")
	}
	return class, nil
}

// lockScheduled re-reads the class under a row lock and checks it is still scheduled.
func (s *ClassLifecycleService) lockScheduled(ctx context.Context, exec sqlx.ExtContext, classID string) (*models.BookedClass, error) {
	class, err := s.classes.FindByIDForUpdate(ctx, exec, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Internal(err, "failed to lock class")
	}
	if class.Status != models.ClassStatusScheduled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "class is no longer scheduled")
	}
	return class, nil
}

func (s *ClassLifecycleService) transition(ctx context.Context, exec sqlx.ExtContext, t models.ClassTransition) error {
	ok, err := s.classes.Transition(ctx, exec, t)
	if err != nil {
		if errors.Is(err, repository.ErrSlotTaken) {
			return appErrors.Clone(appErrors.ErrSlotUnavailable, "another class already occupies this time")
		}
		return appErrors.Internal(err, "failed to update class status")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "class status changed concurrently")
	}
	return nil
}

func (s *ClassLifecycleService) recordRejection(err error) {
	if appErrors.Is(err, appErrors.ErrSlotUnavailable) {
		s.metrics.RecordSlotConflict()
	}
}

func (s *ClassLifecycleService) notify(kind NotificationKind, recipient string, class *models.BookedClass, reason *string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(Notification{
		Kind:        kind,
		RecipientID: recipient,
		ClassID:     class.ID,
		TeacherID:   class.TeacherID,
		StudentID:   class.StudentID,
		ScheduledAt: class.ScheduledAt,
		Reason:      reason,
	})
}

// canActOn reports whether the caller is a party to the class or staff.
func canActOn(claims *models.JWTClaims, class *models.BookedClass) bool {
	return claims.IsStaff() || claims.Is(class.StudentID) || claims.Is(class.TeacherID)
}
