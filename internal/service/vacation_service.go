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
	appErrors "github.com/noah-isme/tutor-scheduling-api/pkg/errors"
	"github.com/noah-isme/tutor-scheduling-api/pkg/logger"
)

const vacationCancelReason = "teacher vacation"

type vacationStore interface {
	ListOverlapping(ctx context.Context, teacherID string, from, to time.Time) ([]models.VacationPeriod, error)
	FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.VacationPeriod, error)
	Create(ctx context.Context, exec sqlx.ExtContext, period *models.VacationPeriod) error
	SetAffectedClasses(ctx context.Context, exec sqlx.ExtContext, id string, classIDs []string) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
}

type vacationAllowance interface {
	FindForUpdate(ctx context.Context, exec sqlx.ExtContext, teacherID string) (*models.TeacherSettings, error)
	AdjustVacationDays(ctx context.Context, exec sqlx.ExtContext, teacherID string, delta int) error
}

type vacationClassStore interface {
	slotClaimer
	ListScheduledByTeacherRange(ctx context.Context, exec sqlx.ExtContext, teacherID string, from, to time.Time) ([]models.BookedClass, error)
	ListByIDs(ctx context.Context, exec sqlx.ExtContext, ids []string) ([]models.BookedClass, error)
	Transition(ctx context.Context, exec sqlx.ExtContext, t models.ClassTransition) (bool, error)
}

// VacationService blocks out teacher vacations and reverts them.
type VacationService struct {
	vacations vacationStore
	settings  vacationAllowance
	classes   vacationClassStore
	credits   creditLedger
	slots     slotChecker
	notifier  notifier
	tx        txProvider
	validator *validator.Validate
	logger    *zap.Logger
	opts      SchedulingOptions
}

// NewVacationService wires vacation dependencies. notifier may be nil.
func NewVacationService(
	vacations vacationStore,
	settings vacationAllowance,
	classes vacationClassStore,
	credits creditLedger,
	slots slotChecker,
	notifier notifier,
	tx txProvider,
	validate *validator.Validate,
	logger *zap.Logger,
	opts SchedulingOptions,
) *VacationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VacationService{
		vacations: vacations,
		settings:  settings,
		classes:   classes,
		credits:   credits,
		slots:     slots,
		notifier:  notifier,
		tx:        tx,
		validator: validate,
		logger:    logger,
		opts:      opts.normalized(),
	}
}

// RequestVacation records a vacation, spends the teacher's allowance and moves
// every scheduled class in the range to teacher-vacation, refunding credits.
func (s *VacationService) RequestVacation(ctx context.Context, claims *models.JWTClaims, teacherID string, req dto.RequestVacationRequest) (*models.VacationPeriod, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid vacation payload")
	}
	if !(claims.Is(teacherID) || claims.IsStaff()) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "teachers can only request their own vacations")
	}

	loc := s.opts.Location
	start, errStart := time.ParseInLocation(models.DateLayout, req.StartDate, loc)
	end, errEnd := time.ParseInLocation(models.DateLayout, req.EndDate, loc)
	if errStart != nil || errEnd != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidDate, "vacation dates must use YYYY-MM-DD")
	}
	if start.After(end) {
		return nil, appErrors.Clone(appErrors.ErrInvalidDate, "vacation start must not be after its end")
	}
	now := s.opts.Now()
	if start.Before(models.DateIn(now, loc)) {
		return nil, appErrors.Clone(appErrors.ErrInvalidDate, "vacation cannot start in the past")
	}

	overlapping, err := s.vacations.ListOverlapping(ctx, teacherID, start, end)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to check existing vacations")
	}
	if len(overlapping) > 0 {
		return nil, appErrors.Clone(appErrors.ErrConflict, "vacation overlaps an existing vacation")
	}

	period := &models.VacationPeriod{
		TeacherID: teacherID,
		StartDate: civilUTC(start),
		EndDate:   civilUTC(end),
	}
	days := period.Days()
	var affected []models.BookedClass

	err = inTx(ctx, s.tx, func(tx *sqlx.Tx) error {
		settings, err := s.settings.FindForUpdate(ctx, tx, teacherID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrPolicyViolation, "no vacation allowance configured for this teacher")
			}
			return appErrors.Internal(err, "failed to load vacation allowance")
		}
		if settings.VacationDaysRemaining < days {
			return appErrors.Clonef(appErrors.ErrPolicyViolation, "vacation needs %d days but only %d remain", days, settings.VacationDaysRemaining)
		}
		if err := s.settings.AdjustVacationDays(ctx, tx, teacherID, -days); err != nil {
			return appErrors.Internal(err, "failed to spend vacation days")
		}
		if err := s.vacations.Create(ctx, tx, period); err != nil {
			return appErrors.Internal(err, "failed to create vacation")
		}

		classes, err := s.classes.ListScheduledByTeacherRange(ctx, tx, teacherID, start, end.AddDate(0, 0, 1))
		if err != nil {
			return appErrors.Internal(err, "failed to load classes in vacation")
		}
		at := now.UTC()
		reason := vacationCancelReason
		ids := make([]string, 0, len(classes))
		for i := range classes {
			class := &classes[i]
			ok, err := s.classes.Transition(ctx, tx, models.ClassTransition{
				ClassID:      class.ID,
				From:         models.ClassStatusScheduled,
				To:           models.ClassStatusTeacherVacation,
				At:           at,
				CanceledAt:   &at,
				CanceledBy:   &claims.UserID,
				CancelReason: &reason,
				VacationID:   &period.ID,
			})
			if err != nil {
				return appErrors.Internal(err, "failed to cancel class for vacation")
			}
			if !ok {
				continue
			}
			if class.CreditFunded() {
				if _, err := s.credits.Refund(ctx, tx, class, now); err != nil {
					return err
				}
			}
			ids = append(ids, class.ID)
			affected = append(affected, *class)
		}
		period.AffectedClassIDs = ids
		if err := s.vacations.SetAffectedClasses(ctx, tx, period.ID, ids); err != nil {
			return appErrors.Internal(err, "failed to record vacation classes")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.slots.InvalidateTeacher(ctx, teacherID)
	for i := range affected {
		s.notify(NotifyClassVacation, &affected[i])
	}
	logger.WithContext(ctx, s.logger).Info("vacation requested",
		zap.String("vacation_id", period.ID),
		zap.String("teacher_id", teacherID),
		zap.Int("days", days),
		zap.Int("affected_classes", len(affected)),
	)
	return period, nil
}

// DeleteVacation removes a vacation, returns its days to the allowance and
// restores affected classes on a best-effort basis. Classes that cannot be
// restored stay in teacher-vacation and are reported as conflicts; no new
// records are created for them.
func (s *VacationService) DeleteVacation(ctx context.Context, claims *models.JWTClaims, vacationID string) (*models.VacationRemoval, error) {
	now := s.opts.Now()
	result := &models.VacationRemoval{VacationID: vacationID, RestoredClasses: []string{}}
	var teacherID string
	var restored []models.BookedClass

	err := inTx(ctx, s.tx, func(tx *sqlx.Tx) error {
		period, err := s.vacations.FindByIDForUpdate(ctx, tx, vacationID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "vacation not found")
			}
			return appErrors.Internal(err, "failed to load vacation")
		}
		if !(claims.Is(period.TeacherID) || claims.IsStaff()) {
			return appErrors.Clone(appErrors.ErrForbidden, "teachers can only delete their own vacations")
		}
		teacherID = period.TeacherID

		result.RefundedDays = period.Days()
		if err := s.settings.AdjustVacationDays(ctx, tx, period.TeacherID, result.RefundedDays); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return appErrors.Internal(err, "failed to return vacation days")
		}

		classes, err := s.classes.ListByIDs(ctx, tx, period.AffectedClassIDs)
		if err != nil {
			return appErrors.Internal(err, "failed to load vacation classes")
		}
		for i := range classes {
			class := &classes[i]
			if class.Status != models.ClassStatusTeacherVacation || class.VacationID == nil || *class.VacationID != period.ID {
				continue
			}
			reason, ok, err := s.restore(ctx, tx, class, now)
			if err != nil {
				return err
			}
			if !ok {
				result.Conflicts = append(result.Conflicts, models.RestoreConflict{ClassID: class.ID, Reason: reason})
				continue
			}
			result.RestoredClasses = append(result.RestoredClasses, class.ID)
			restored = append(restored, *class)
		}

		if err := s.vacations.Delete(ctx, tx, period.ID); err != nil {
			return appErrors.Internal(err, "failed to delete vacation")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.slots.InvalidateTeacher(ctx, teacherID)
	for i := range restored {
		s.notify(NotifyClassRestored, &restored[i])
	}
	logger.WithContext(ctx, s.logger).Info("vacation deleted",
		zap.String("vacation_id", vacationID),
		zap.String("teacher_id", teacherID),
		zap.Int("restored", len(result.RestoredClasses)),
		zap.Int("conflicts", len(result.Conflicts)),
	)
	return result, nil
}

// restore moves one class back to scheduled. It reports a reason and false
// when the class cannot be restored; err is reserved for infrastructure faults.
func (s *VacationService) restore(ctx context.Context, tx *sqlx.Tx, class *models.BookedClass, now time.Time) (string, bool, error) {
	if !class.ScheduledAt.After(now) {
		return "class time has passed", false, nil
	}
	if err := claimSlot(ctx, tx, s.classes, class.TeacherID, class.ScheduledAt); err != nil {
		if appErrors.Is(err, appErrors.ErrSlotUnavailable) {
			return "slot is now occupied by another class", false, nil
		}
		return "", false, err
	}
	if class.CreditFunded() {
		creditType := models.CreditType("")
		if class.CreditType != nil {
			creditType = *class.CreditType
		}
		consumption, err := s.credits.Consume(ctx, tx, class.StudentID, class.CreditSource, creditType, now)
		if err != nil {
			if appErrors.Is(err, appErrors.ErrInsufficientCredit) {
				return "student has no credit left to fund the class", false, nil
			}
			return "", false, err
		}
		class.CreditID = consumption.CreditID
	}
	ok, err := s.classes.Transition(ctx, tx, models.ClassTransition{
		ClassID:  class.ID,
		From:     models.ClassStatusTeacherVacation,
		To:       models.ClassStatusScheduled,
		At:       now.UTC(),
		CreditID: class.CreditID,
	})
	if err != nil {
		return "", false, appErrors.Internal(err, "failed to restore class")
	}
	if !ok {
		// rows are locked by ListByIDs; losing the update here rolls back the consumed credit
		return "", false, appErrors.Clone(appErrors.ErrPreconditionFailed, "class status changed concurrently")
	}
	class.Status = models.ClassStatusScheduled
	class.VacationID = nil
	return "", true, nil
}

func (s *VacationService) notify(kind NotificationKind, class *models.BookedClass) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(Notification{
		Kind:        kind,
		RecipientID: class.StudentID,
		ClassID:     class.ID,
		TeacherID:   class.TeacherID,
		StudentID:   class.StudentID,
		ScheduledAt: class.ScheduledAt,
	})
}

func civilUTC(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
