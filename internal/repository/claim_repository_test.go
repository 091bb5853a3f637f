package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestClaimRepositoryUpsertReturnsExistingOwner(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewClaimRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO registrar_claims")).
		WillReturnRows(sqlmock.NewRows([]string{"registrar_id"}).AddRow("reg-owner"))

	owner, err := repo.Upsert(context.Background(), "stu-1", "ses-1", "reg-2")
	require.NoError(t, err)
	require.Equal(t, "reg-owner", owner)
	require.NoError(t, mock.ExpectationsWereMet())
}
