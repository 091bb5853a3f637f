package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/campusreg/enroll-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEnrollmentRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "student_id", "course_id", "session_id", "status", "registrar_id", "rejection_reason", "special_request", "created_at", "updated_at"}).
		AddRow("enr-1", "stu-1", "crs-1", "ses-1", models.EnrollmentStatusPending, nil, nil, false, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, course_id, session_id, status, registrar_id, rejection_reason, special_request, created_at, updated_at FROM enrollments WHERE id = $1")).
		WithArgs("enr-1").
		WillReturnRows(rows)

	enrollment, err := repo.FindByID(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusPending, enrollment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryDecideApprove(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO registrar_claims")).
		WillReturnRows(sqlmock.NewRows([]string{"registrar_id"}).AddRow("reg-1"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2, registrar_id = $3, rejection_reason = $4, updated_at = $5")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET registrar_id = $3, updated_at = $4")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	enrollment := &models.Enrollment{ID: "enr-1", StudentID: "stu-1", SessionID: "ses-1", Status: models.EnrollmentStatusPending}
	err := repo.Decide(context.Background(), enrollment, models.EnrollmentStatusApproved, "reg-1", nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryDecideRegistrarConflict(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO registrar_claims")).
		WillReturnRows(sqlmock.NewRows([]string{"registrar_id"}).AddRow("reg-other"))
	mock.ExpectRollback()

	enrollment := &models.Enrollment{ID: "enr-1", StudentID: "stu-1", SessionID: "ses-1", Status: models.EnrollmentStatusPending}
	err := repo.Decide(context.Background(), enrollment, models.EnrollmentStatusApproved, "reg-1", nil)
	require.ErrorIs(t, err, ErrRegistrarConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryDecideNotPending(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO registrar_claims")).
		WillReturnRows(sqlmock.NewRows([]string{"registrar_id"}).AddRow("reg-1"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2, registrar_id = $3, rejection_reason = $4, updated_at = $5")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	enrollment := &models.Enrollment{ID: "enr-1", StudentID: "stu-1", SessionID: "ses-1", Status: models.EnrollmentStatusApproved}
	err := repo.Decide(context.Background(), enrollment, models.EnrollmentStatusApproved, "reg-1", nil)
	require.ErrorIs(t, err, ErrNotPending)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCancelTerminal(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2, updated_at = $3 WHERE id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Cancel(context.Background(), "enr-1")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryApplySessionTransition(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET status = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("ses-1", models.SessionStatusActive, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $3, updated_at = $4 WHERE session_id = $1 AND status = $2")).
		WithArgs("ses-1", models.EnrollmentStatusApproved, models.EnrollmentStatusActive, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	err := repo.ApplySessionTransition(context.Background(), "ses-1", models.SessionStatusActive, models.EnrollmentStatusApproved, models.EnrollmentStatusActive)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
