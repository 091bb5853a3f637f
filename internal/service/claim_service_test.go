package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campusreg/enroll-api/internal/models"
	appErrors "github.com/campusreg/enroll-api/pkg/errors"
)

type mockClaimRepo struct {
	owners map[string]string
}

func (m *mockClaimRepo) key(studentID, sessionID string) string {
	return studentID + "|" + sessionID
}

func (m *mockClaimRepo) Upsert(ctx context.Context, studentID, sessionID, registrarID string) (string, error) {
	if m.owners == nil {
		m.owners = make(map[string]string)
	}
	k := m.key(studentID, sessionID)
	if owner, ok := m.owners[k]; ok {
		return owner, nil
	}
	m.owners[k] = registrarID
	return registrarID, nil
}

func (m *mockClaimRepo) FindByStudentAndSession(ctx context.Context, studentID, sessionID string) (*models.RegistrarClaim, error) {
	owner, ok := m.owners[m.key(studentID, sessionID)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &models.RegistrarClaim{
		StudentID:   studentID,
		SessionID:   sessionID,
		RegistrarID: owner,
		ClaimedAt:   time.Now().UTC(),
	}, nil
}

func (m *mockClaimRepo) ListByRegistrarAndSession(ctx context.Context, registrarID, sessionID string) ([]models.RegistrarClaim, error) {
	var claims []models.RegistrarClaim
	for k, owner := range m.owners {
		if owner == registrarID {
			claims = append(claims, models.RegistrarClaim{StudentID: k, SessionID: sessionID, RegistrarID: owner})
		}
	}
	return claims, nil
}

type mockSessionEnrollmentChecker struct {
	enrolled map[string]bool
}

func (m *mockSessionEnrollmentChecker) ExistsForStudentInSession(ctx context.Context, studentID, sessionID string) (bool, error) {
	return m.enrolled[studentID+"|"+sessionID], nil
}

type mockActiveSessionResolver struct {
	session *models.Session
}

func (m *mockActiveSessionResolver) GetActive(ctx context.Context) (*models.Session, error) {
	if m.session == nil {
		return nil, appErrors.Clone(appErrors.ErrNoActiveSession, "")
	}
	return m.session, nil
}

func newClaimTestService(claims *mockClaimRepo, resolver *mockActiveSessionResolver) *ClaimService {
	students := &mockStudentReader{students: map[string]models.Student{"stu-1": {ID: "stu-1", Active: true}}}
	enrollments := &mockSessionEnrollmentChecker{enrolled: map[string]bool{"stu-1|ses-1": true}}
	return NewClaimService(claims, students, enrollments, resolver, zap.NewNop())
}

func TestClaimServiceClaim(t *testing.T) {
	claims := &mockClaimRepo{}
	resolver := &mockActiveSessionResolver{session: &models.Session{ID: "ses-1", Status: models.SessionStatusActive}}
	svc := newClaimTestService(claims, resolver)

	claim, err := svc.Claim(context.Background(), "reg-1", "stu-1", models.RoleRegistrar)
	require.NoError(t, err)
	assert.Equal(t, "reg-1", claim.RegistrarID)
	assert.Equal(t, "ses-1", claim.SessionID)
}

func TestClaimServiceClaimIdempotentForOwner(t *testing.T) {
	claims := &mockClaimRepo{}
	resolver := &mockActiveSessionResolver{session: &models.Session{ID: "ses-1"}}
	svc := newClaimTestService(claims, resolver)

	_, err := svc.Claim(context.Background(), "reg-1", "stu-1", models.RoleRegistrar)
	require.NoError(t, err)

	claim, err := svc.Claim(context.Background(), "reg-1", "stu-1", models.RoleRegistrar)
	require.NoError(t, err)
	assert.Equal(t, "reg-1", claim.RegistrarID)
}

func TestClaimServiceClaimAlreadyOwned(t *testing.T) {
	claims := &mockClaimRepo{}
	resolver := &mockActiveSessionResolver{session: &models.Session{ID: "ses-1"}}
	svc := newClaimTestService(claims, resolver)

	_, err := svc.Claim(context.Background(), "reg-1", "stu-1", models.RoleRegistrar)
	require.NoError(t, err)

	_, err = svc.Claim(context.Background(), "reg-2", "stu-1", models.RoleRegistrar)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyClaimed.Code, appErrors.FromError(err).Code)
}

func TestClaimServiceClaimNotEnrolled(t *testing.T) {
	resolver := &mockActiveSessionResolver{session: &models.Session{ID: "ses-2"}}
	svc := newClaimTestService(&mockClaimRepo{}, resolver)

	// stu-1 is enrolled in ses-1 only, so a registrar cannot claim in ses-2
	_, err := svc.Claim(context.Background(), "reg-1", "stu-1", models.RoleRegistrar)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyClaimed.Code, appErrors.FromError(err).Code)
}

func TestClaimServiceClaimAdminBypassesEnrollmentCheck(t *testing.T) {
	claims := &mockClaimRepo{}
	resolver := &mockActiveSessionResolver{session: &models.Session{ID: "ses-2"}}
	svc := newClaimTestService(claims, resolver)

	claim, err := svc.Claim(context.Background(), "reg-1", "stu-1", models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, "reg-1", claim.RegistrarID)
}

func TestClaimServiceClaimNoActiveSession(t *testing.T) {
	svc := newClaimTestService(&mockClaimRepo{}, &mockActiveSessionResolver{})

	_, err := svc.Claim(context.Background(), "reg-1", "stu-1", models.RoleRegistrar)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNoActiveSession.Code, appErrors.FromError(err).Code)
}

func TestClaimServiceClaimUnknownStudent(t *testing.T) {
	resolver := &mockActiveSessionResolver{session: &models.Session{ID: "ses-1"}}
	svc := newClaimTestService(&mockClaimRepo{}, resolver)

	_, err := svc.Claim(context.Background(), "reg-1", "stu-missing", models.RoleRegistrar)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
