package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/tutor-scheduling-api/internal/models"
)

// ErrSlotTaken is returned when an insert or restore collides with another
// class occupying the same (teacher, scheduled_at).
var ErrSlotTaken = errors.New("slot already occupied")

const bookedClassColumns = `id, student_id, teacher_id, scheduled_at, duration_minutes, status, kind, topic, created_by,
availability_slot_id, rescheduled_from, credit_source, credit_id, credit_type, vacation_id,
canceled_at, canceled_by, cancel_reason, completed_at, feedback, notes, created_at, updated_at`

func occupyingStatusArray() pq.StringArray {
	statuses := make(pq.StringArray, 0, len(models.OccupyingStatuses))
	for _, status := range models.OccupyingStatuses {
		statuses = append(statuses, string(status))
	}
	return statuses
}

// BookedClassRepository persists booked classes.
type BookedClassRepository struct {
	db *sqlx.DB
}

// NewBookedClassRepository constructs the repository.
func NewBookedClassRepository(db *sqlx.DB) *BookedClassRepository {
	return &BookedClassRepository{db: db}
}

func (r *BookedClassRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindByID fetches a class by id.
func (r *BookedClassRepository) FindByID(ctx context.Context, id string) (*models.BookedClass, error) {
	query := `SELECT ` + bookedClassColumns + ` FROM booked_classes WHERE id = $1`
	var class models.BookedClass
	if err := r.db.GetContext(ctx, &class, query, id); err != nil {
		return nil, err
	}
	return &class, nil
}

// FindByIDForUpdate fetches and row-locks a class inside a transaction.
func (r *BookedClassRepository) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.BookedClass, error) {
	query := `SELECT ` + bookedClassColumns + ` FROM booked_classes WHERE id = $1 FOR UPDATE`
	var class models.BookedClass
	if err := sqlx.GetContext(ctx, r.exec(exec), &class, query, id); err != nil {
		return nil, err
	}
	return &class, nil
}

// ListActiveByTeacherRange returns classes of a teacher still holding their slot with start in [from, to).
func (r *BookedClassRepository) ListActiveByTeacherRange(ctx context.Context, teacherID string, from, to time.Time) ([]models.BookedClass, error) {
	query := `SELECT ` + bookedClassColumns + ` FROM booked_classes
WHERE teacher_id = $1 AND scheduled_at >= $2 AND scheduled_at < $3 AND status = ANY($4)
ORDER BY scheduled_at ASC`
	var classes []models.BookedClass
	if err := r.db.SelectContext(ctx, &classes, query, teacherID, from, to, occupyingStatusArray()); err != nil {
		return nil, fmt.Errorf("list booked classes: %w", err)
	}
	return classes, nil
}

// FindActiveAt returns the class occupying (teacher, at), if any.
func (r *BookedClassRepository) FindActiveAt(ctx context.Context, exec sqlx.ExtContext, teacherID string, at time.Time) (*models.BookedClass, error) {
	query := `SELECT ` + bookedClassColumns + ` FROM booked_classes
WHERE teacher_id = $1 AND scheduled_at = $2 AND status = ANY($3) LIMIT 1`
	var class models.BookedClass
	if err := sqlx.GetContext(ctx, r.exec(exec), &class, query, teacherID, at, occupyingStatusArray()); err != nil {
		return nil, err
	}
	return &class, nil
}

// ListScheduledByTeacherRange returns scheduled classes of a teacher with start in [from, to), row-locked.
func (r *BookedClassRepository) ListScheduledByTeacherRange(ctx context.Context, exec sqlx.ExtContext, teacherID string, from, to time.Time) ([]models.BookedClass, error) {
	query := `SELECT ` + bookedClassColumns + ` FROM booked_classes
WHERE teacher_id = $1 AND status = $2 AND scheduled_at >= $3 AND scheduled_at < $4
ORDER BY scheduled_at ASC FOR UPDATE`
	var classes []models.BookedClass
	if err := sqlx.SelectContext(ctx, r.exec(exec), &classes, query, teacherID, models.ClassStatusScheduled, from, to); err != nil {
		return nil, fmt.Errorf("list scheduled classes: %w", err)
	}
	return classes, nil
}

// ListByIDs fetches the given classes, row-locked, ordered by start.
func (r *BookedClassRepository) ListByIDs(ctx context.Context, exec sqlx.ExtContext, ids []string) ([]models.BookedClass, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + bookedClassColumns + ` FROM booked_classes WHERE id = ANY($1) ORDER BY scheduled_at ASC FOR UPDATE`
	var classes []models.BookedClass
	if err := sqlx.SelectContext(ctx, r.exec(exec), &classes, query, pq.StringArray(ids)); err != nil {
		return nil, fmt.Errorf("list classes by id: %w", err)
	}
	return classes, nil
}

// ListOverdueCandidates returns scheduled classes whose end is before cutoff.
func (r *BookedClassRepository) ListOverdueCandidates(ctx context.Context, cutoff time.Time, limit int) ([]models.BookedClass, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `SELECT ` + bookedClassColumns + ` FROM booked_classes
WHERE status = $1 AND scheduled_at + (duration_minutes * INTERVAL '1 minute') < $2
ORDER BY scheduled_at ASC LIMIT $3`
	var classes []models.BookedClass
	if err := r.db.SelectContext(ctx, &classes, query, models.ClassStatusScheduled, cutoff, limit); err != nil {
		return nil, fmt.Errorf("list overdue candidates: %w", err)
	}
	return classes, nil
}

// LockSlot takes a transaction-scoped advisory lock on (teacher, at) so
// concurrent writers targeting the same slot serialise.
func (r *BookedClassRepository) LockSlot(ctx context.Context, exec sqlx.ExtContext, teacherID string, at time.Time) error {
	key := teacherID + "|" + at.UTC().Format(time.RFC3339)
	if _, err := r.exec(exec).ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("lock slot: %w", err)
	}
	return nil
}

// Create inserts a class. A unique violation on the occupied-slot index is
// reported as ErrSlotTaken.
func (r *BookedClassRepository) Create(ctx context.Context, exec sqlx.ExtContext, class *models.BookedClass) error {
	if class.ID == "" {
		class.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if class.CreatedAt.IsZero() {
		class.CreatedAt = now
	}
	class.UpdatedAt = now
	if class.Status == "" {
		class.Status = models.ClassStatusScheduled
	}
	if class.CreditSource == "" {
		class.CreditSource = models.CreditSourceNone
	}

	const query = `INSERT INTO booked_classes (id, student_id, teacher_id, scheduled_at, duration_minutes, status, kind, topic, created_by,
availability_slot_id, rescheduled_from, credit_source, credit_id, credit_type, vacation_id,
canceled_at, canceled_by, cancel_reason, completed_at, feedback, notes, created_at, updated_at)
VALUES (:id, :student_id, :teacher_id, :scheduled_at, :duration_minutes, :status, :kind, :topic, :created_by,
:availability_slot_id, :rescheduled_from, :credit_source, :credit_id, :credit_type, :vacation_id,
:canceled_at, :canceled_by, :cancel_reason, :completed_at, :feedback, :notes, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, class); err != nil {
		if isUniqueViolation(err) {
			return ErrSlotTaken
		}
		return fmt.Errorf("insert booked class: %w", err)
	}
	return nil
}

// Transition applies a compare-and-set status change. It reports false when
// the class was no longer in the expected status.
func (r *BookedClassRepository) Transition(ctx context.Context, exec sqlx.ExtContext, t models.ClassTransition) (bool, error) {
	const query = `UPDATE booked_classes
SET status = :to_status, updated_at = :updated_at,
    canceled_at = :canceled_at, canceled_by = :canceled_by, cancel_reason = :cancel_reason,
    vacation_id = :vacation_id, completed_at = :completed_at, feedback = :feedback, notes = :notes,
    credit_id = COALESCE(:credit_id, credit_id)
WHERE id = :id AND status = :from_status`
	res, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, t)
	if err != nil {
		if isUniqueViolation(err) {
			return false, ErrSlotTaken
		}
		return false, fmt.Errorf("transition booked class: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition booked class rows: %w", err)
	}
	return affected == 1, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
