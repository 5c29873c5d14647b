package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-scheduling-api/internal/dto"
	"github.com/noah-isme/tutor-scheduling-api/internal/models"
	appErrors "github.com/noah-isme/tutor-scheduling-api/pkg/errors"
)

type availabilityRuleStore interface {
	FindByID(ctx context.Context, id string) (*models.AvailabilityRule, error)
	Create(ctx context.Context, rule *models.AvailabilityRule) error
	Delete(ctx context.Context, id string) error
}

type availabilityExceptionStore interface {
	Create(ctx context.Context, exception *models.AvailabilityException) error
	Delete(ctx context.Context, ruleID string, date time.Time) (bool, error)
}

type teacherInvalidator interface {
	InvalidateTeacher(ctx context.Context, teacherID string)
}

// AvailabilityRuleService manages the rules and exceptions a teacher offers.
type AvailabilityRuleService struct {
	rules      availabilityRuleStore
	exceptions availabilityExceptionStore
	cache      teacherInvalidator
	validator  *validator.Validate
	logger     *zap.Logger
	opts       SchedulingOptions
}

// NewAvailabilityRuleService constructs the rule manager.
func NewAvailabilityRuleService(rules availabilityRuleStore, exceptions availabilityExceptionStore, cache teacherInvalidator, validate *validator.Validate, logger *zap.Logger, opts SchedulingOptions) *AvailabilityRuleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilityRuleService{
		rules:      rules,
		exceptions: exceptions,
		cache:      cache,
		validator:  validate,
		logger:     logger,
		opts:       opts.normalized(),
	}
}

// CreateRule stores a new rule for teacherID.
func (s *AvailabilityRuleService) CreateRule(ctx context.Context, claims *models.JWTClaims, teacherID string, req dto.CreateAvailabilityRuleRequest) (*models.AvailabilityRule, error) {
	if !(claims.Is(teacherID) || claims.IsStaff()) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "teachers can only manage their own availability")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid availability rule payload")
	}

	startDate, err := time.Parse(models.DateLayout, req.StartDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidDate, "startDate must use YYYY-MM-DD")
	}
	startTime, errStart := models.ParseClockTime(req.StartTime)
	endTime, errEnd := models.ParseClockTime(req.EndTime)
	if errStart != nil || errEnd != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "times must use HH:MM")
	}
	if endTime <= startTime {
		return nil, appErrors.Clone(appErrors.ErrValidation, "endTime must be after startTime")
	}

	rule := &models.AvailabilityRule{
		TeacherID: teacherID,
		Kind:      models.RuleKind(req.Kind),
		StartDate: startDate,
		StartTime: startTime,
		EndTime:   endTime,
		Title:     req.Title,
		Color:     req.Color,
		Label:     req.Label,
	}
	if req.Repeating != nil {
		rep := &models.Repeating{Cadence: models.Cadence(req.Repeating.Cadence), Interval: req.Repeating.Interval}
		if rep.Interval <= 0 {
			rep.Interval = 1
		}
		if req.Repeating.EndDate != nil {
			end, err := time.Parse(models.DateLayout, *req.Repeating.EndDate)
			if err != nil {
				return nil, appErrors.Clone(appErrors.ErrInvalidDate, "repeating endDate must use YYYY-MM-DD")
			}
			if end.Before(startDate) {
				return nil, appErrors.Clone(appErrors.ErrInvalidDate, "repeating endDate must not precede startDate")
			}
			rep.EndDate = &end
		}
		rule.Repeating = rep
	}

	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, appErrors.Internal(err, "failed to create availability rule")
	}
	s.cache.InvalidateTeacher(ctx, teacherID)
	s.logger.Info("availability rule created", zap.String("rule_id", rule.ID), zap.String("teacher_id", teacherID), zap.String("kind", req.Kind))
	return rule, nil
}

// DeleteRule removes a rule. Classes already booked against it keep their
// slot and surface as off-rule reservations.
func (s *AvailabilityRuleService) DeleteRule(ctx context.Context, claims *models.JWTClaims, ruleID string) error {
	rule, err := s.ownedRule(ctx, claims, ruleID)
	if err != nil {
		return err
	}
	if err := s.rules.Delete(ctx, rule.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "availability rule not found")
		}
		return appErrors.Internal(err, "failed to delete availability rule")
	}
	s.cache.InvalidateTeacher(ctx, rule.TeacherID)
	return nil
}

// AddException suppresses the rule occurrence on a date. The date must be one
// the rule actually produces.
func (s *AvailabilityRuleService) AddException(ctx context.Context, claims *models.JWTClaims, ruleID string, req dto.AvailabilityExceptionRequest) (*models.AvailabilityException, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid exception payload")
	}
	rule, err := s.ownedRule(ctx, claims, ruleID)
	if err != nil {
		return nil, err
	}
	day, err := time.ParseInLocation(models.DateLayout, req.Date, s.opts.Location)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidDate, "date must use YYYY-MM-DD")
	}
	if !producesOn(*rule, day, s.opts.Location) {
		return nil, appErrors.Clone(appErrors.ErrInvalidDate, "the rule has no occurrence on that date")
	}

	exception := &models.AvailabilityException{RuleID: rule.ID, Date: civilUTC(day)}
	if err := s.exceptions.Create(ctx, exception); err != nil {
		return nil, appErrors.Internal(err, "failed to create availability exception")
	}
	s.cache.InvalidateTeacher(ctx, rule.TeacherID)
	return exception, nil
}

// RemoveException re-offers a previously suppressed occurrence.
func (s *AvailabilityRuleService) RemoveException(ctx context.Context, claims *models.JWTClaims, ruleID, date string) error {
	rule, err := s.ownedRule(ctx, claims, ruleID)
	if err != nil {
		return err
	}
	day, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return appErrors.Clone(appErrors.ErrInvalidDate, "date must use YYYY-MM-DD")
	}
	removed, err := s.exceptions.Delete(ctx, rule.ID, day)
	if err != nil {
		return appErrors.Internal(err, "failed to delete availability exception")
	}
	if !removed {
		return appErrors.Clone(appErrors.ErrNotFound, "availability exception not found")
	}
	s.cache.InvalidateTeacher(ctx, rule.TeacherID)
	return nil
}

func (s *AvailabilityRuleService) ownedRule(ctx context.Context, claims *models.JWTClaims, ruleID string) (*models.AvailabilityRule, error) {
	rule, err := s.rules.FindByID(ctx, ruleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "availability rule not found")
		}
		return nil, appErrors.Internal(err, "failed to load availability rule")
	}
	if !(claims.Is(rule.TeacherID) || claims.IsStaff()) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "teachers can only manage their own availability")
	}
	return rule, nil
}

func producesOn(rule models.AvailabilityRule, day time.Time, loc *time.Location) bool {
	for range ExpandRule(rule, day, day, loc) {
		return true
	}
	return false
}
