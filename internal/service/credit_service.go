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
)

// refundGrantor marks credits the ledger issued itself.
const refundGrantor = "system"

type creditRepository interface {
	GetBalance(ctx context.Context, studentID string) (*models.StudentCreditBalance, error)
	DecrementClassCredits(ctx context.Context, exec sqlx.ExtContext, studentID string) (bool, error)
	IncrementClassCredits(ctx context.Context, exec sqlx.ExtContext, studentID string, amount int) error
	FindUsableForUpdate(ctx context.Context, exec sqlx.ExtContext, studentID string, creditType models.CreditType, at time.Time) (*models.RegularClassCredit, error)
	ConsumeUnit(ctx context.Context, exec sqlx.ExtContext, creditID string, at time.Time) error
	FindRegularByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.RegularClassCredit, error)
	CreateRegular(ctx context.Context, exec sqlx.ExtContext, credit *models.RegularClassCredit) error
	ListUsable(ctx context.Context, studentID string, at time.Time) ([]models.RegularClassCredit, error)
}

// CreditConsumption records what a booking took from the ledger.
type CreditConsumption struct {
	Source   models.CreditSource
	CreditID *string
	Type     *models.CreditType
}

// CreditService is the ledger for simple counters and typed, expiring credits.
type CreditService struct {
	repo      creditRepository
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	opts      SchedulingOptions
}

// NewCreditService constructs the ledger.
func NewCreditService(repo creditRepository, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, opts SchedulingOptions) *CreditService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CreditService{repo: repo, metrics: metrics, validator: validate, logger: logger, opts: opts.normalized()}
}

// Summary returns the counter and the still-usable typed credits of a student.
func (s *CreditService) Summary(ctx context.Context, claims *models.JWTClaims, studentID string) (*models.CreditSummary, error) {
	if claims == nil || !(claims.IsStaff() || claims.Is(studentID) || claims.Role == models.RoleTeacher) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view these credits")
	}
	balance, err := s.repo.GetBalance(ctx, studentID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load credit balance")
	}
	credits, err := s.repo.ListUsable(ctx, studentID, s.opts.Now())
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load regular credits")
	}
	if credits == nil {
		credits = []models.RegularClassCredit{}
	}
	return &models.CreditSummary{StudentID: studentID, ClassCredits: balance.ClassCredits, RegularCredits: credits}, nil
}

// GrantRegular issues a typed credit. Refund credits are issued by the ledger itself.
func (s *CreditService) GrantRegular(ctx context.Context, claims *models.JWTClaims, studentID string, req dto.GrantRegularCreditRequest) (*models.RegularClassCredit, error) {
	if claims == nil || !(claims.IsStaff() || claims.Role == models.RoleTeacher) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to grant credits")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid credit grant payload")
	}
	if !req.ExpiresAt.After(s.opts.Now()) {
		return nil, appErrors.Clone(appErrors.ErrInvalidDate, "credit expiry must be in the future")
	}
	credit := &models.RegularClassCredit{
		StudentID: studentID,
		Type:      models.CreditType(req.Type),
		Amount:    req.Amount,
		Remaining: req.Amount,
		ExpiresAt: req.ExpiresAt.UTC(),
		GrantedBy: claims.UserID,
		Reason:    req.Reason,
	}
	if err := s.repo.CreateRegular(ctx, nil, credit); err != nil {
		return nil, appErrors.Internal(err, "failed to grant credit")
	}
	s.metrics.RecordCreditOperation("grant", string(models.CreditSourceRegularCredit))
	s.logger.Info("regular credit granted",
		zap.String("student_id", studentID),
		zap.String("type", req.Type),
		zap.Int("amount", req.Amount),
		zap.String("granted_by", claims.UserID),
	)
	return credit, nil
}

// AddClassCredits increments the simple counter, typically after payment fulfillment.
func (s *CreditService) AddClassCredits(ctx context.Context, claims *models.JWTClaims, studentID string, req dto.AddClassCreditsRequest) (*models.StudentCreditBalance, error) {
	if !claims.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to add class credits")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, "invalid class credit payload")
	}
	if err := s.repo.IncrementClassCredits(ctx, nil, studentID, req.Amount); err != nil {
		return nil, appErrors.Internal(err, "failed to add class credits")
	}
	s.metrics.RecordCreditOperation("grant", string(models.CreditSourceClassCredits))
	balance, err := s.repo.GetBalance(ctx, studentID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load credit balance")
	}
	return balance, nil
}

// Consume takes one credit from the requested family inside exec. Typed
// credits are taken oldest-expiring first among those still valid at at.
func (s *CreditService) Consume(ctx context.Context, exec sqlx.ExtContext, studentID string, source models.CreditSource, creditType models.CreditType, at time.Time) (*CreditConsumption, error) {
	switch source {
	case models.CreditSourceClassCredits:
		ok, err := s.repo.DecrementClassCredits(ctx, exec, studentID)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to consume class credit")
		}
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrInsufficientCredit, "no class credits left")
		}
		s.metrics.RecordCreditOperation("consume", string(source))
		return &CreditConsumption{Source: source}, nil
	case models.CreditSourceRegularCredit:
		if !creditType.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "credit type must be bonus or late-students")
		}
		credit, err := s.repo.FindUsableForUpdate(ctx, exec, studentID, creditType, at)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrInsufficientCredit, "no valid "+string(creditType)+" credit available")
			}
			return nil, appErrors.Internal(err, "failed to load regular credit")
		}
		if err := s.repo.ConsumeUnit(ctx, exec, credit.ID, at); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrInsufficientCredit, "no valid "+string(creditType)+" credit available")
			}
			return nil, appErrors.Internal(err, "failed to consume regular credit")
		}
		s.metrics.RecordCreditOperation("consume", string(source))
		id := credit.ID
		t := credit.Type
		return &CreditConsumption{Source: source, CreditID: &id, Type: &t}, nil
	default:
		return &CreditConsumption{Source: models.CreditSourceNone}, nil
	}
}

// Refund returns the credit that funded class. Counter credits are
// incremented; typed credits are re-issued as a new credit of the same type,
// never by reviving the consumed one. It returns the id of a re-issued credit.
func (s *CreditService) Refund(ctx context.Context, exec sqlx.ExtContext, class *models.BookedClass, at time.Time) (*string, error) {
	switch class.CreditSource {
	case models.CreditSourceClassCredits:
		if err := s.repo.IncrementClassCredits(ctx, exec, class.StudentID, 1); err != nil {
			return nil, appErrors.Internal(err, "failed to refund class credit")
		}
		s.metrics.RecordCreditOperation("refund", string(class.CreditSource))
		return nil, nil
	case models.CreditSourceRegularCredit:
		creditType := models.CreditTypeBonus
		if class.CreditType != nil {
			creditType = *class.CreditType
		}
		expiresAt := at.Add(s.opts.RefundValidity)
		if class.CreditID != nil {
			original, err := s.repo.FindRegularByID(ctx, exec, *class.CreditID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Internal(err, "failed to load original credit")
			}
			if original != nil {
				creditType = original.Type
				if original.ExpiresAt.After(at) {
					expiresAt = original.ExpiresAt
				}
			}
		}
		reason := "refund for class " + class.ID
		classID := class.ID
		refund := &models.RegularClassCredit{
			StudentID:       class.StudentID,
			Type:            creditType,
			Amount:          1,
			Remaining:       1,
			ExpiresAt:       expiresAt.UTC(),
			GrantedBy:       refundGrantor,
			Reason:          &reason,
			RefundOfClassID: &classID,
		}
		if err := s.repo.CreateRegular(ctx, exec, refund); err != nil {
			return nil, appErrors.Internal(err, "failed to refund regular credit")
		}
		s.metrics.RecordCreditOperation("refund", string(class.CreditSource))
		return &refund.ID, nil
	default:
		return nil, nil
	}
}
