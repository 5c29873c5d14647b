package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/tutor-scheduling-api/internal/models"
)

const vacationColumns = `id, teacher_id, start_date, end_date, affected_class_ids, created_at`

// VacationRepository persists teacher vacation periods.
type VacationRepository struct {
	db *sqlx.DB
}

// NewVacationRepository constructs the repository.
func NewVacationRepository(db *sqlx.DB) *VacationRepository {
	return &VacationRepository{db: db}
}

func (r *VacationRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// ListOverlapping returns the teacher's vacations intersecting [from, to].
func (r *VacationRepository) ListOverlapping(ctx context.Context, teacherID string, from, to time.Time) ([]models.VacationPeriod, error) {
	query := `SELECT ` + vacationColumns + ` FROM vacation_periods
WHERE teacher_id = $1 AND start_date <= $3 AND end_date >= $2
ORDER BY start_date ASC`
	var periods []models.VacationPeriod
	if err := r.db.SelectContext(ctx, &periods, query, teacherID, from.Format(models.DateLayout), to.Format(models.DateLayout)); err != nil {
		return nil, fmt.Errorf("list vacation periods: %w", err)
	}
	return periods, nil
}

// FindByIDForUpdate fetches and row-locks a vacation period.
func (r *VacationRepository) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.VacationPeriod, error) {
	query := `SELECT ` + vacationColumns + ` FROM vacation_periods WHERE id = $1 FOR UPDATE`
	var period models.VacationPeriod
	if err := sqlx.GetContext(ctx, r.exec(exec), &period, query, id); err != nil {
		return nil, err
	}
	return &period, nil
}

// Create inserts a vacation period.
func (r *VacationRepository) Create(ctx context.Context, exec sqlx.ExtContext, period *models.VacationPeriod) error {
	if period.ID == "" {
		period.ID = uuid.NewString()
	}
	if period.CreatedAt.IsZero() {
		period.CreatedAt = time.Now().UTC()
	}
	if period.AffectedClassIDs == nil {
		period.AffectedClassIDs = []string{}
	}
	const query = `INSERT INTO vacation_periods (id, teacher_id, start_date, end_date, affected_class_ids, created_at)
VALUES (:id, :teacher_id, :start_date, :end_date, :affected_class_ids, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, period); err != nil {
		return fmt.Errorf("insert vacation period: %w", err)
	}
	return nil
}

// SetAffectedClasses records which classes the vacation moved to teacher-vacation.
func (r *VacationRepository) SetAffectedClasses(ctx context.Context, exec sqlx.ExtContext, id string, classIDs []string) error {
	if classIDs == nil {
		classIDs = []string{}
	}
	const query = `UPDATE vacation_periods SET affected_class_ids = $2 WHERE id = $1`
	if _, err := r.exec(exec).ExecContext(ctx, query, id, pq.StringArray(classIDs)); err != nil {
		return fmt.Errorf("update vacation affected classes: %w", err)
	}
	return nil
}

// Delete removes a vacation period.
func (r *VacationRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	res, err := r.exec(exec).ExecContext(ctx, `DELETE FROM vacation_periods WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete vacation period: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete vacation period rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
