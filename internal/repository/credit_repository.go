package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-scheduling-api/internal/models"
)

const regularCreditColumns = `id, student_id, type, amount, remaining, expires_at, granted_by, reason, refund_of_class_id, consumed_at, created_at`

// CreditRepository persists both credit families.
type CreditRepository struct {
	db *sqlx.DB
}

// NewCreditRepository constructs the repository.
func NewCreditRepository(db *sqlx.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

func (r *CreditRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// GetBalance returns the simple counter of a student. A student without a
// balance row has zero credits.
func (r *CreditRepository) GetBalance(ctx context.Context, studentID string) (*models.StudentCreditBalance, error) {
	const query = `SELECT student_id, class_credits, updated_at FROM student_credit_balances WHERE student_id = $1`
	var balance models.StudentCreditBalance
	if err := r.db.GetContext(ctx, &balance, query, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.StudentCreditBalance{StudentID: studentID}, nil
		}
		return nil, fmt.Errorf("get credit balance: %w", err)
	}
	return &balance, nil
}

// DecrementClassCredits takes one unit from the counter. It reports false when
// the student has none left.
func (r *CreditRepository) DecrementClassCredits(ctx context.Context, exec sqlx.ExtContext, studentID string) (bool, error) {
	const query = `UPDATE student_credit_balances SET class_credits = class_credits - 1, updated_at = $2
WHERE student_id = $1 AND class_credits > 0`
	res, err := r.exec(exec).ExecContext(ctx, query, studentID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("decrement class credits: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decrement class credits rows: %w", err)
	}
	return affected == 1, nil
}

// IncrementClassCredits adds amount units to the counter, creating the row if needed.
func (r *CreditRepository) IncrementClassCredits(ctx context.Context, exec sqlx.ExtContext, studentID string, amount int) error {
	const query = `INSERT INTO student_credit_balances (student_id, class_credits, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (student_id) DO UPDATE
SET class_credits = student_credit_balances.class_credits + EXCLUDED.class_credits,
    updated_at = EXCLUDED.updated_at`
	if _, err := r.exec(exec).ExecContext(ctx, query, studentID, amount, time.Now().UTC()); err != nil {
		return fmt.Errorf("increment class credits: %w", err)
	}
	return nil
}

// FindUsableForUpdate locks the oldest-expiring credit of the type that still
// has units and has not expired at at.
func (r *CreditRepository) FindUsableForUpdate(ctx context.Context, exec sqlx.ExtContext, studentID string, creditType models.CreditType, at time.Time) (*models.RegularClassCredit, error) {
	query := `SELECT ` + regularCreditColumns + ` FROM regular_class_credits
WHERE student_id = $1 AND type = $2 AND remaining > 0 AND expires_at > $3
ORDER BY expires_at ASC, created_at ASC LIMIT 1 FOR UPDATE`
	var credit models.RegularClassCredit
	if err := sqlx.GetContext(ctx, r.exec(exec), &credit, query, studentID, creditType, at); err != nil {
		return nil, err
	}
	return &credit, nil
}

// ConsumeUnit takes one unit from a locked credit, stamping consumed_at when it runs out.
func (r *CreditRepository) ConsumeUnit(ctx context.Context, exec sqlx.ExtContext, creditID string, at time.Time) error {
	const query = `UPDATE regular_class_credits
SET remaining = remaining - 1,
    consumed_at = CASE WHEN remaining - 1 = 0 THEN $2 ELSE consumed_at END
WHERE id = $1 AND remaining > 0`
	res, err := r.exec(exec).ExecContext(ctx, query, creditID, at)
	if err != nil {
		return fmt.Errorf("consume regular credit: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume regular credit rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FindRegularByID fetches a typed credit.
func (r *CreditRepository) FindRegularByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.RegularClassCredit, error) {
	query := `SELECT ` + regularCreditColumns + ` FROM regular_class_credits WHERE id = $1`
	var credit models.RegularClassCredit
	if err := sqlx.GetContext(ctx, r.exec(exec), &credit, query, id); err != nil {
		return nil, err
	}
	return &credit, nil
}

// CreateRegular inserts a typed credit.
func (r *CreditRepository) CreateRegular(ctx context.Context, exec sqlx.ExtContext, credit *models.RegularClassCredit) error {
	if credit.ID == "" {
		credit.ID = uuid.NewString()
	}
	if credit.CreatedAt.IsZero() {
		credit.CreatedAt = time.Now().UTC()
	}
	if credit.Remaining == 0 {
		credit.Remaining = credit.Amount
	}
	const query = `INSERT INTO regular_class_credits (id, student_id, type, amount, remaining, expires_at, granted_by, reason, refund_of_class_id, consumed_at, created_at)
VALUES (:id, :student_id, :type, :amount, :remaining, :expires_at, :granted_by, :reason, :refund_of_class_id, :consumed_at, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, credit); err != nil {
		return fmt.Errorf("insert regular credit: %w", err)
	}
	return nil
}

// ListUsable returns a student's typed credits that can still be consumed at at, oldest-expiring first.
func (r *CreditRepository) ListUsable(ctx context.Context, studentID string, at time.Time) ([]models.RegularClassCredit, error) {
	query := `SELECT ` + regularCreditColumns + ` FROM regular_class_credits
WHERE student_id = $1 AND remaining > 0 AND expires_at > $2
ORDER BY expires_at ASC, created_at ASC`
	var credits []models.RegularClassCredit
	if err := r.db.SelectContext(ctx, &credits, query, studentID, at); err != nil {
		return nil, fmt.Errorf("list usable regular credits: %w", err)
	}
	return credits, nil
}
