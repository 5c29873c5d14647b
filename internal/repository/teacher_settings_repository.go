package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-scheduling-api/internal/models"
)

const teacherSettingsColumns = `teacher_id, booking_lead_time_hours, booking_horizon_days, max_occasional_classes_per_day,
cancellation_policy_hours, vacation_days_remaining, updated_at`

// TeacherSettingsRepository persists per-teacher booking policy overrides.
type TeacherSettingsRepository struct {
	db *sqlx.DB
}

// NewTeacherSettingsRepository constructs the repository.
func NewTeacherSettingsRepository(db *sqlx.DB) *TeacherSettingsRepository {
	return &TeacherSettingsRepository{db: db}
}

func (r *TeacherSettingsRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindByTeacher returns the settings of a teacher, or nil when none were stored.
func (r *TeacherSettingsRepository) FindByTeacher(ctx context.Context, teacherID string) (*models.TeacherSettings, error) {
	query := `SELECT ` + teacherSettingsColumns + ` FROM teacher_settings WHERE teacher_id = $1`
	var settings models.TeacherSettings
	if err := r.db.GetContext(ctx, &settings, query, teacherID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get teacher settings: %w", err)
	}
	return &settings, nil
}

// FindForUpdate row-locks the settings of a teacher. Missing rows surface as sql.ErrNoRows.
func (r *TeacherSettingsRepository) FindForUpdate(ctx context.Context, exec sqlx.ExtContext, teacherID string) (*models.TeacherSettings, error) {
	query := `SELECT ` + teacherSettingsColumns + ` FROM teacher_settings WHERE teacher_id = $1 FOR UPDATE`
	var settings models.TeacherSettings
	if err := sqlx.GetContext(ctx, r.exec(exec), &settings, query, teacherID); err != nil {
		return nil, err
	}
	return &settings, nil
}

// AdjustVacationDays adds delta (negative to spend) to the remaining vacation days.
func (r *TeacherSettingsRepository) AdjustVacationDays(ctx context.Context, exec sqlx.ExtContext, teacherID string, delta int) error {
	const query = `UPDATE teacher_settings SET vacation_days_remaining = vacation_days_remaining + $2, updated_at = $3 WHERE teacher_id = $1`
	res, err := r.exec(exec).ExecContext(ctx, query, teacherID, delta, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("adjust vacation days: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("adjust vacation days rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
