package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/campusreg/enroll-api/internal/models"
)

func TestInvitationRepositoryFindByToken(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewInvitationRepository(db)

	rows := sqlmock.NewRows([]string{"id", "email", "token", "user_type", "status", "profile_id", "invited_by", "expires_at", "created_at", "updated_at"}).
		AddRow("inv-1", "jane@uni.edu", "tok-1", models.UserTypeStudent, models.InvitationStatusPending, nil, "usr-1", time.Now().Add(time.Hour), time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email, token, user_type, status, profile_id, invited_by, expires_at, created_at, updated_at FROM invitations WHERE token = $1")).
		WithArgs("tok-1").
		WillReturnRows(rows)

	invitation, err := repo.FindByToken(context.Background(), "tok-1")
	require.NoError(t, err)
	require.Equal(t, models.InvitationStatusPending, invitation.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInvitationRepositoryMarkAcceptedNotPending(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewInvitationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE invitations SET status = $2, profile_id = $3, updated_at = $4 WHERE id = $1 AND status = $5")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkAccepted(context.Background(), "inv-1", "stu-1")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInvitationRepositoryReopen(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewInvitationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE invitations SET status = $2, profile_id = NULL, updated_at = $3 WHERE id = $1 AND status = $4")).
		WithArgs("inv-1", models.InvitationStatusPending, sqlmock.AnyArg(), models.InvitationStatusExpired).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Reopen(context.Background(), "inv-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInvitationRepositoryRotate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewInvitationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE invitations SET token = $2, expires_at = $3, updated_at = $4 WHERE id = $1 AND status = $5")).
		WithArgs("inv-1", "tok-2", sqlmock.AnyArg(), sqlmock.AnyArg(), models.InvitationStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Rotate(context.Background(), "inv-1", "tok-2", time.Now().Add(72*time.Hour))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
