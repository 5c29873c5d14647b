package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-scheduling-api/internal/models"
)

const availabilityRuleColumns = `id, teacher_id, kind, start_date, start_time, end_time, title, color, label,
repeat_cadence, repeat_interval, repeat_end_date, created_at, updated_at`

// availabilityRuleRow mirrors the flat table layout of a rule.
type availabilityRuleRow struct {
	ID             string           `db:"id"`
	TeacherID      string           `db:"teacher_id"`
	Kind           models.RuleKind  `db:"kind"`
	StartDate      time.Time        `db:"start_date"`
	StartTime      models.ClockTime `db:"start_time"`
	EndTime        models.ClockTime `db:"end_time"`
	Title          *string          `db:"title"`
	Color          *string          `db:"color"`
	Label          *string          `db:"label"`
	RepeatCadence  sql.NullString   `db:"repeat_cadence"`
	RepeatInterval sql.NullInt32    `db:"repeat_interval"`
	RepeatEndDate  sql.NullTime     `db:"repeat_end_date"`
	CreatedAt      time.Time        `db:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at"`
}

func (row availabilityRuleRow) model() models.AvailabilityRule {
	rule := models.AvailabilityRule{
		ID:        row.ID,
		TeacherID: row.TeacherID,
		Kind:      row.Kind,
		StartDate: row.StartDate,
		StartTime: row.StartTime,
		EndTime:   row.EndTime,
		Title:     row.Title,
		Color:     row.Color,
		Label:     row.Label,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.RepeatCadence.Valid {
		rep := &models.Repeating{Cadence: models.Cadence(row.RepeatCadence.String), Interval: 1}
		if row.RepeatInterval.Valid {
			rep.Interval = int(row.RepeatInterval.Int32)
		}
		if row.RepeatEndDate.Valid {
			end := row.RepeatEndDate.Time
			rep.EndDate = &end
		}
		rule.Repeating = rep
	}
	return rule
}

func newAvailabilityRuleRow(rule *models.AvailabilityRule) availabilityRuleRow {
	row := availabilityRuleRow{
		ID:        rule.ID,
		TeacherID: rule.TeacherID,
		Kind:      rule.Kind,
		StartDate: rule.StartDate,
		StartTime: rule.StartTime,
		EndTime:   rule.EndTime,
		Title:     rule.Title,
		Color:     rule.Color,
		Label:     rule.Label,
		CreatedAt: rule.CreatedAt,
		UpdatedAt: rule.UpdatedAt,
	}
	if rule.Repeating != nil {
		row.RepeatCadence = sql.NullString{String: string(rule.Repeating.Cadence), Valid: true}
		row.RepeatInterval = sql.NullInt32{Int32: int32(rule.Repeating.Interval), Valid: true}
		if rule.Repeating.EndDate != nil {
			row.RepeatEndDate = sql.NullTime{Time: *rule.Repeating.EndDate, Valid: true}
		}
	}
	return row
}

// AvailabilityRuleRepository persists teacher availability rules.
type AvailabilityRuleRepository struct {
	db *sqlx.DB
}

// NewAvailabilityRuleRepository constructs the repository.
func NewAvailabilityRuleRepository(db *sqlx.DB) *AvailabilityRuleRepository {
	return &AvailabilityRuleRepository{db: db}
}

// ListByTeacher returns rules of a teacher that can produce occurrences within [from, to].
func (r *AvailabilityRuleRepository) ListByTeacher(ctx context.Context, teacherID string, from, to time.Time) ([]models.AvailabilityRule, error) {
	query := `SELECT ` + availabilityRuleColumns + ` FROM availability_rules
WHERE teacher_id = $1 AND start_date <= $3
AND (repeat_cadence IS NOT NULL OR start_date >= $2)
AND (repeat_end_date IS NULL OR repeat_end_date >= $2)
ORDER BY start_time ASC, start_date ASC`
	var rows []availabilityRuleRow
	if err := r.db.SelectContext(ctx, &rows, query, teacherID, from.Format(models.DateLayout), to.Format(models.DateLayout)); err != nil {
		return nil, fmt.Errorf("list availability rules: %w", err)
	}
	rules := make([]models.AvailabilityRule, 0, len(rows))
	for _, row := range rows {
		rules = append(rules, row.model())
	}
	return rules, nil
}

// FindByID fetches a single rule.
func (r *AvailabilityRuleRepository) FindByID(ctx context.Context, id string) (*models.AvailabilityRule, error) {
	query := `SELECT ` + availabilityRuleColumns + ` FROM availability_rules WHERE id = $1`
	var row availabilityRuleRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, err
	}
	rule := row.model()
	return &rule, nil
}

// Create inserts a new rule.
func (r *AvailabilityRuleRepository) Create(ctx context.Context, rule *models.AvailabilityRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	const query = `INSERT INTO availability_rules (id, teacher_id, kind, start_date, start_time, end_time, title, color, label, repeat_cadence, repeat_interval, repeat_end_date, created_at, updated_at)
VALUES (:id, :teacher_id, :kind, :start_date, :start_time, :end_time, :title, :color, :label, :repeat_cadence, :repeat_interval, :repeat_end_date, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, newAvailabilityRuleRow(rule)); err != nil {
		return fmt.Errorf("insert availability rule: %w", err)
	}
	return nil
}

// Delete removes a rule and, through the foreign key, its exceptions.
func (r *AvailabilityRuleRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM availability_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete availability rule: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete availability rule rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
