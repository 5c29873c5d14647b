package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutor-scheduling-api/internal/models"
)

func newCreditMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestCreditRepositoryGetBalance(t *testing.T) {
	db, mock, cleanup := newCreditMock(t)
	defer cleanup()
	repo := NewCreditRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT student_id, class_credits, updated_at FROM student_credit_balances WHERE student_id = $1")).
		WithArgs("student-1").
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "class_credits", "updated_at"}).AddRow("student-1", 4, now))
	balance, err := repo.GetBalance(context.Background(), "student-1")
	require.NoError(t, err)
	assert.Equal(t, 4, balance.ClassCredits)

	mock.ExpectQuery(regexp.QuoteMeta("FROM student_credit_balances WHERE student_id = $1")).
		WithArgs("student-2").
		WillReturnError(sql.ErrNoRows)
	balance, err = repo.GetBalance(context.Background(), "student-2")
	require.NoError(t, err)
	assert.Equal(t, "student-2", balance.StudentID)
	assert.Zero(t, balance.ClassCredits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditRepositoryDecrementClassCredits(t *testing.T) {
	db, mock, cleanup := newCreditMock(t)
	defer cleanup()
	repo := NewCreditRepository(db)

	mock.ExpectExec("UPDATE student_credit_balances SET class_credits = class_credits - 1").
		WithArgs("student-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.DecrementClassCredits(context.Background(), nil, "student-1")
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec("UPDATE student_credit_balances SET class_credits = class_credits - 1").
		WithArgs("student-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = repo.DecrementClassCredits(context.Background(), nil, "student-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditRepositoryIncrementUpserts(t *testing.T) {
	db, mock, cleanup := newCreditMock(t)
	defer cleanup()
	repo := NewCreditRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO student_credit_balances (student_id, class_credits, updated_at) VALUES ($1, $2, $3)")).
		WithArgs("student-1", 3, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.IncrementClassCredits(context.Background(), nil, "student-1", 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditRepositoryConsumeUnit(t *testing.T) {
	db, mock, cleanup := newCreditMock(t)
	defer cleanup()
	repo := NewCreditRepository(db)
	at := time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE regular_class_credits")).
		WithArgs("credit-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.ConsumeUnit(context.Background(), nil, "credit-1", at))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE regular_class_credits")).
		WithArgs("credit-1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.ConsumeUnit(context.Background(), nil, "credit-1", at)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditRepositoryFindUsableForUpdate(t *testing.T) {
	db, mock, cleanup := newCreditMock(t)
	defer cleanup()
	repo := NewCreditRepository(db)
	at := time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC)
	expires := at.AddDate(0, 1, 0)

	rows := sqlmock.NewRows([]string{"id", "student_id", "type", "amount", "remaining", "expires_at", "granted_by", "reason", "refund_of_class_id", "consumed_at", "created_at"}).
		AddRow("credit-1", "student-1", "bonus", 2, 1, expires, "teacher-1", "referral", nil, nil, at)
	mock.ExpectQuery("(?s)SELECT .+ FROM regular_class_credits\\s+WHERE student_id = \\$1 AND type = \\$2 AND remaining > 0 AND expires_at > \\$3").
		WithArgs("student-1", "bonus", at).
		WillReturnRows(rows)

	credit, err := repo.FindUsableForUpdate(context.Background(), nil, "student-1", models.CreditTypeBonus, at)
	require.NoError(t, err)
	assert.Equal(t, "credit-1", credit.ID)
	assert.Equal(t, 1, credit.Remaining)
	require.NotNil(t, credit.Reason)
	assert.Equal(t, "referral", *credit.Reason)
	assert.Nil(t, credit.RefundOfClassID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditRepositoryCreateRegular(t *testing.T) {
	db, mock, cleanup := newCreditMock(t)
	defer cleanup()
	repo := NewCreditRepository(db)

	mock.ExpectExec("INSERT INTO regular_class_credits").WillReturnResult(sqlmock.NewResult(1, 1))

	credit := &models.RegularClassCredit{
		StudentID: "student-1",
		Type:      models.CreditTypeLateStudents,
		Amount:    3,
		ExpiresAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		GrantedBy: "teacher-1",
	}
	require.NoError(t, repo.CreateRegular(context.Background(), nil, credit))
	assert.NotEmpty(t, credit.ID)
	assert.Equal(t, 3, credit.Remaining)
	assert.False(t, credit.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
