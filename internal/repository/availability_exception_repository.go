package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-scheduling-api/internal/models"
)

// AvailabilityExceptionRepository persists single-date rule cancellations.
type AvailabilityExceptionRepository struct {
	db *sqlx.DB
}

// NewAvailabilityExceptionRepository constructs the repository.
func NewAvailabilityExceptionRepository(db *sqlx.DB) *AvailabilityExceptionRepository {
	return &AvailabilityExceptionRepository{db: db}
}

func (r *AvailabilityExceptionRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// ListByTeacherRange returns exceptions on any rule of the teacher dated within [from, to].
func (r *AvailabilityExceptionRepository) ListByTeacherRange(ctx context.Context, teacherID string, from, to time.Time) ([]models.AvailabilityException, error) {
	const query = `SELECT e.id, e.original_rule_id, e.exception_date, e.created_at
FROM availability_exceptions e
JOIN availability_rules r ON r.id = e.original_rule_id
WHERE r.teacher_id = $1 AND e.exception_date BETWEEN $2 AND $3
ORDER BY e.exception_date ASC`
	var exceptions []models.AvailabilityException
	if err := r.db.SelectContext(ctx, &exceptions, query, teacherID, from.Format(models.DateLayout), to.Format(models.DateLayout)); err != nil {
		return nil, fmt.Errorf("list availability exceptions: %w", err)
	}
	return exceptions, nil
}

// Create records an exception. A duplicate (rule, date) pair is ignored.
func (r *AvailabilityExceptionRepository) Create(ctx context.Context, exception *models.AvailabilityException) error {
	if exception.ID == "" {
		exception.ID = uuid.NewString()
	}
	if exception.CreatedAt.IsZero() {
		exception.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO availability_exceptions (id, original_rule_id, exception_date, created_at)
VALUES (:id, :original_rule_id, :exception_date, :created_at)
ON CONFLICT (original_rule_id, exception_date) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, exception); err != nil {
		return fmt.Errorf("insert availability exception: %w", err)
	}
	return nil
}

// Delete removes the exception of a rule on a date, re-offering that occurrence.
func (r *AvailabilityExceptionRepository) Delete(ctx context.Context, ruleID string, date time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM availability_exceptions WHERE original_rule_id = $1 AND exception_date = $2`, ruleID, date.Format(models.DateLayout))
	if err != nil {
		return false, fmt.Errorf("delete availability exception: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete availability exception rows: %w", err)
	}
	return affected > 0, nil
}

// DeleteAtSlot removes every exception of the teacher's rules that suppresses
// the occurrence starting at clock on date.
func (r *AvailabilityExceptionRepository) DeleteAtSlot(ctx context.Context, exec sqlx.ExtContext, teacherID string, date time.Time, clock models.ClockTime) (int64, error) {
	const query = `DELETE FROM availability_exceptions e
USING availability_rules r
WHERE e.original_rule_id = r.id AND r.teacher_id = $1 AND e.exception_date = $2 AND r.start_time = $3`
	res, err := r.exec(exec).ExecContext(ctx, query, teacherID, date.Format(models.DateLayout), clock)
	if err != nil {
		return 0, fmt.Errorf("delete slot exceptions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete slot exceptions rows: %w", err)
	}
	return affected, nil
}
