package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campusreg/enroll-api/internal/identity"
	"github.com/campusreg/enroll-api/internal/models"
	appErrors "github.com/campusreg/enroll-api/pkg/errors"
)

type mockInvitationRepo struct {
	byToken   map[string]models.Invitation
	byID      map[string]models.Invitation
	created   *models.Invitation
	accepted  map[string]string
	reopened  []string
	expired   []string
	cancelled []string
	rotated   []string
	acceptErr error
}

func (m *mockInvitationRepo) FindByToken(ctx context.Context, token string) (*models.Invitation, error) {
	if inv, ok := m.byToken[token]; ok {
		return &inv, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockInvitationRepo) FindByID(ctx context.Context, id string) (*models.Invitation, error) {
	if inv, ok := m.byID[id]; ok {
		return &inv, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockInvitationRepo) FindPendingByEmailAndType(ctx context.Context, email string, userType models.UserType) (*models.Invitation, error) {
	for _, inv := range m.byID {
		if inv.Email == email && inv.UserType == userType && inv.Status == models.InvitationStatusPending {
			return &inv, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockInvitationRepo) Create(ctx context.Context, invitation *models.Invitation) error {
	if invitation.ID == "" {
		invitation.ID = "inv-new"
	}
	m.created = invitation
	return nil
}

func (m *mockInvitationRepo) MarkAccepted(ctx context.Context, id, profileID string) error {
	if m.acceptErr != nil {
		return m.acceptErr
	}
	if m.accepted == nil {
		m.accepted = make(map[string]string)
	}
	m.accepted[id] = profileID
	return nil
}

func (m *mockInvitationRepo) Reopen(ctx context.Context, id string) error {
	m.reopened = append(m.reopened, id)
	return nil
}

func (m *mockInvitationRepo) MarkExpired(ctx context.Context, id string) error {
	m.expired = append(m.expired, id)
	return nil
}

func (m *mockInvitationRepo) MarkCancelled(ctx context.Context, id string) error {
	if _, ok := m.byID[id]; !ok {
		return sql.ErrNoRows
	}
	m.cancelled = append(m.cancelled, id)
	return nil
}

func (m *mockInvitationRepo) Rotate(ctx context.Context, id, token string, expiresAt time.Time) error {
	m.rotated = append(m.rotated, token)
	return nil
}

func (m *mockInvitationRepo) List(ctx context.Context, filter models.InvitationFilter) ([]models.Invitation, int, error) {
	return nil, 0, nil
}

type mockStudentProfileRepo struct {
	byEmail   map[string]models.Student
	byReg     map[string]models.Student
	created   *models.Student
	completed []string
	detached  []string
}

func (m *mockStudentProfileRepo) FindByEmail(ctx context.Context, email string) (*models.Student, error) {
	if s, ok := m.byEmail[email]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentProfileRepo) FindByRegNumber(ctx context.Context, regNumber string) (*models.Student, error) {
	if s, ok := m.byReg[regNumber]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentProfileRepo) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = "stu-new"
	}
	m.created = student
	return nil
}

func (m *mockStudentProfileRepo) CompleteProfile(ctx context.Context, id, firstName, lastName, identityID string, imageURL *string) error {
	m.completed = append(m.completed, id)
	return nil
}

func (m *mockStudentProfileRepo) DetachIdentity(ctx context.Context, id string) error {
	m.detached = append(m.detached, id)
	return nil
}

type mockRegistrarProfileRepo struct {
	byEmail map[string]models.Registrar
	created *models.Registrar
	deleted []string
}

func (m *mockRegistrarProfileRepo) FindByEmail(ctx context.Context, email string) (*models.Registrar, error) {
	if r, ok := m.byEmail[email]; ok {
		return &r, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRegistrarProfileRepo) Create(ctx context.Context, registrar *models.Registrar) error {
	if registrar.ID == "" {
		registrar.ID = "reg-new"
	}
	m.created = registrar
	return nil
}

func (m *mockRegistrarProfileRepo) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

type mockProgramReader struct{}

func (m *mockProgramReader) FindByID(ctx context.Context, id string) (*models.Program, error) {
	if id == "missing" {
		return nil, sql.ErrNoRows
	}
	return &models.Program{ID: id, Active: true}, nil
}

type mockIdentityProvider struct {
	signUpErr     error
	assignErr     error
	deleted       []string
	removedRoles  []string
	assignedRoles []models.RoleAssignment
}

func (m *mockIdentityProvider) SignUp(ctx context.Context, email, password string) (*models.Identity, *models.IdentitySession, error) {
	if m.signUpErr != nil {
		return nil, nil, m.signUpErr
	}
	return &models.Identity{ID: "idn-1", Email: email}, &models.IdentitySession{AccessToken: "at-1"}, nil
}

func (m *mockIdentityProvider) Delete(ctx context.Context, identityID string) error {
	m.deleted = append(m.deleted, identityID)
	return nil
}

func (m *mockIdentityProvider) AssignRole(ctx context.Context, assignment models.RoleAssignment, accessToken string) error {
	if m.assignErr != nil {
		return m.assignErr
	}
	m.assignedRoles = append(m.assignedRoles, assignment)
	return nil
}

func (m *mockIdentityProvider) RemoveRole(ctx context.Context, identityID string) error {
	m.removedRoles = append(m.removedRoles, identityID)
	return nil
}

type mockNotifier struct {
	sent []string
}

func (m *mockNotifier) SendInvitation(email, token string) {
	m.sent = append(m.sent, email)
}

func newInvitationService(invitations *mockInvitationRepo, students *mockStudentProfileRepo, registrars *mockRegistrarProfileRepo, provider *mockIdentityProvider, notifier *mockNotifier) *InvitationService {
	return NewInvitationService(invitations, students, registrars, &mockProgramReader{}, provider, notifier, 72*time.Hour, validator.New(), zap.NewNop())
}

func pendingStudentInvitation(token string) models.Invitation {
	return models.Invitation{
		ID:        "inv-1",
		Email:     "jane@uni.edu",
		Token:     token,
		UserType:  models.UserTypeStudent,
		Status:    models.InvitationStatusPending,
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
}

func TestInvitationServiceCreateStudent(t *testing.T) {
	invitations := &mockInvitationRepo{}
	students := &mockStudentProfileRepo{}
	notifier := &mockNotifier{}
	svc := newInvitationService(invitations, students, &mockRegistrarProfileRepo{}, &mockIdentityProvider{}, notifier)

	inv, err := svc.Create(context.Background(), CreateInvitationRequest{
		Email:     "jane@uni.edu",
		UserType:  models.UserTypeStudent,
		RegNumber: "REG-001",
		ProgramID: "prog-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.InvitationStatusPending, inv.Status)
	require.NotNil(t, students.created)
	assert.Equal(t, "REG-001", students.created.RegNumber)
	assert.False(t, students.created.Active)
	assert.Equal(t, []string{"jane@uni.edu"}, notifier.sent)
}

func TestInvitationServiceCreateRejectsDuplicatePending(t *testing.T) {
	invitations := &mockInvitationRepo{byID: map[string]models.Invitation{"inv-1": pendingStudentInvitation("tok")}}
	svc := newInvitationService(invitations, &mockStudentProfileRepo{}, &mockRegistrarProfileRepo{}, &mockIdentityProvider{}, &mockNotifier{})

	_, err := svc.Create(context.Background(), CreateInvitationRequest{
		Email:     "jane@uni.edu",
		UserType:  models.UserTypeStudent,
		RegNumber: "REG-002",
		ProgramID: "prog-1",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestInvitationServiceResendExpired(t *testing.T) {
	expired := pendingStudentInvitation("tok")
	expired.Status = models.InvitationStatusExpired
	invitations := &mockInvitationRepo{byID: map[string]models.Invitation{"inv-1": expired}}
	notifier := &mockNotifier{}
	svc := newInvitationService(invitations, &mockStudentProfileRepo{}, &mockRegistrarProfileRepo{}, &mockIdentityProvider{}, notifier)

	inv, err := svc.Resend(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, models.InvitationStatusPending, inv.Status)
	assert.Equal(t, []string{"inv-1"}, invitations.reopened)
	require.Len(t, invitations.rotated, 1)
	assert.NotEqual(t, "tok", inv.Token)
	assert.Equal(t, []string{"jane@uni.edu"}, notifier.sent)
}

func TestInvitationServiceResendAccepted(t *testing.T) {
	accepted := pendingStudentInvitation("tok")
	accepted.Status = models.InvitationStatusAccepted
	invitations := &mockInvitationRepo{byID: map[string]models.Invitation{"inv-1": accepted}}
	svc := newInvitationService(invitations, &mockStudentProfileRepo{}, &mockRegistrarProfileRepo{}, &mockIdentityProvider{}, &mockNotifier{})

	_, err := svc.Resend(context.Background(), "inv-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	assert.Empty(t, invitations.reopened)
}

func TestInvitationServiceAcceptStudent(t *testing.T) {
	invitations := &mockInvitationRepo{byToken: map[string]models.Invitation{"tok": pendingStudentInvitation("tok")}}
	students := &mockStudentProfileRepo{byEmail: map[string]models.Student{"jane@uni.edu": {ID: "stu-1", Email: "jane@uni.edu"}}}
	provider := &mockIdentityProvider{}
	svc := newInvitationService(invitations, students, &mockRegistrarProfileRepo{}, provider, &mockNotifier{})

	result, err := svc.Accept(context.Background(), AcceptInvitationRequest{
		Token:     "tok",
		Password:  "hunter2hunter2",
		FirstName: "Jane",
		LastName:  "Doe",
	})
	require.NoError(t, err)
	assert.Equal(t, models.UserTypeStudent, result.Role)
	assert.Equal(t, "idn-1", result.Identity.ID)
	assert.Equal(t, "at-1", result.Session.AccessToken)
	student, ok := result.Profile.(*models.Student)
	require.True(t, ok)
	assert.Equal(t, "stu-1", student.ID)
	assert.Equal(t, "Jane", student.FirstName)
	assert.Equal(t, []string{"stu-1"}, students.completed)
	require.Len(t, provider.assignedRoles, 1)
	assert.Equal(t, models.UserTypeStudent, provider.assignedRoles[0].Role)
	assert.Empty(t, provider.deleted)
}

func TestInvitationServiceAcceptRegNumberMismatch(t *testing.T) {
	invitations := &mockInvitationRepo{byToken: map[string]models.Invitation{"tok": pendingStudentInvitation("tok")}}
	students := &mockStudentProfileRepo{byEmail: map[string]models.Student{"jane@uni.edu": {ID: "stu-1", Email: "jane@uni.edu", RegNumber: "REG-001"}}}
	provider := &mockIdentityProvider{}
	svc := newInvitationService(invitations, students, &mockRegistrarProfileRepo{}, provider, &mockNotifier{})

	_, err := svc.Accept(context.Background(), AcceptInvitationRequest{
		Token:     "tok",
		Password:  "hunter2hunter2",
		FirstName: "Jane",
		LastName:  "Doe",
		RegNumber: "REG-999",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, provider.assignedRoles)
	assert.Empty(t, students.completed)
}

func TestInvitationServiceAcceptExpiredToken(t *testing.T) {
	expired := pendingStudentInvitation("tok")
	expired.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	invitations := &mockInvitationRepo{byToken: map[string]models.Invitation{"tok": expired}}
	svc := newInvitationService(invitations, &mockStudentProfileRepo{}, &mockRegistrarProfileRepo{}, &mockIdentityProvider{}, &mockNotifier{})

	_, err := svc.Accept(context.Background(), AcceptInvitationRequest{
		Token:     "tok",
		Password:  "hunter2hunter2",
		FirstName: "Jane",
		LastName:  "Doe",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidOrExpiredToken.Code, appErrors.FromError(err).Code)
	assert.Equal(t, []string{"inv-1"}, invitations.expired)
}

func TestInvitationServiceAcceptEmailRegistered(t *testing.T) {
	invitations := &mockInvitationRepo{byToken: map[string]models.Invitation{"tok": pendingStudentInvitation("tok")}}
	provider := &mockIdentityProvider{signUpErr: identity.ErrEmailRegistered}
	svc := newInvitationService(invitations, &mockStudentProfileRepo{}, &mockRegistrarProfileRepo{}, provider, &mockNotifier{})

	_, err := svc.Accept(context.Background(), AcceptInvitationRequest{
		Token:     "tok",
		Password:  "hunter2hunter2",
		FirstName: "Jane",
		LastName:  "Doe",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrEmailExists.Code, appErrors.FromError(err).Code)
	assert.Empty(t, provider.deleted)
}

func TestInvitationServiceAcceptCompensatesOnRoleFailure(t *testing.T) {
	invitations := &mockInvitationRepo{byToken: map[string]models.Invitation{"tok": pendingStudentInvitation("tok")}}
	provider := &mockIdentityProvider{assignErr: errors.New("rls denied")}
	svc := newInvitationService(invitations, &mockStudentProfileRepo{}, &mockRegistrarProfileRepo{}, provider, &mockNotifier{})

	_, err := svc.Accept(context.Background(), AcceptInvitationRequest{
		Token:     "tok",
		Password:  "hunter2hunter2",
		FirstName: "Jane",
		LastName:  "Doe",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrRoleAssignment.Code, appErrors.FromError(err).Code)
	assert.Equal(t, []string{"idn-1"}, provider.deleted)
}

func TestInvitationServiceAcceptCompensatesOnClosureFailure(t *testing.T) {
	invitations := &mockInvitationRepo{
		byToken:   map[string]models.Invitation{"tok": pendingStudentInvitation("tok")},
		acceptErr: errors.New("db down"),
	}
	students := &mockStudentProfileRepo{byEmail: map[string]models.Student{"jane@uni.edu": {ID: "stu-1", Email: "jane@uni.edu"}}}
	provider := &mockIdentityProvider{}
	svc := newInvitationService(invitations, students, &mockRegistrarProfileRepo{}, provider, &mockNotifier{})

	_, err := svc.Accept(context.Background(), AcceptInvitationRequest{
		Token:     "tok",
		Password:  "hunter2hunter2",
		FirstName: "Jane",
		LastName:  "Doe",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvitationUpdate.Code, appErrors.FromError(err).Code)
	assert.Equal(t, []string{"stu-1"}, students.detached)
	assert.Equal(t, []string{"idn-1"}, provider.removedRoles)
	assert.Equal(t, []string{"idn-1"}, provider.deleted)
}

func TestInvitationServiceAcceptRegistrar(t *testing.T) {
	inv := pendingStudentInvitation("tok")
	inv.UserType = models.UserTypeRegistrar
	invitations := &mockInvitationRepo{byToken: map[string]models.Invitation{"tok": inv}}
	registrars := &mockRegistrarProfileRepo{}
	svc := newInvitationService(invitations, &mockStudentProfileRepo{}, registrars, &mockIdentityProvider{}, &mockNotifier{})

	result, err := svc.Accept(context.Background(), AcceptInvitationRequest{
		Token:     "tok",
		Password:  "hunter2hunter2",
		FirstName: "Rita",
		LastName:  "Okafor",
	})
	require.NoError(t, err)
	require.NotNil(t, registrars.created)
	assert.Equal(t, models.UserTypeRegistrar, result.Role)
	registrar, ok := result.Profile.(*models.Registrar)
	require.True(t, ok)
	assert.Equal(t, registrars.created.ID, registrar.ID)
	assert.True(t, registrars.created.Active)
}
