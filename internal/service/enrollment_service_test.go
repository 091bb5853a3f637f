package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campusreg/enroll-api/internal/models"
	"github.com/campusreg/enroll-api/internal/repository"
	appErrors "github.com/campusreg/enroll-api/pkg/errors"
)

type mockEnrollmentRepo struct {
	enrollments map[string]models.Enrollment
	decideErr   error
	decided     []string
	cancelled   []string
	cascades    []models.SessionStatus
}

func (m *mockEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return nil, 0, nil
}

func (m *mockEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	if e, ok := m.enrollments[id]; ok {
		return &models.EnrollmentDetail{Enrollment: e, CourseCode: "CSC101"}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if m.enrollments == nil {
		m.enrollments = make(map[string]models.Enrollment)
	}
	if enrollment.ID == "" {
		enrollment.ID = "enr-new"
	}
	m.enrollments[enrollment.ID] = *enrollment
	return nil
}

func (m *mockEnrollmentRepo) Decide(ctx context.Context, enrollment *models.Enrollment, status models.EnrollmentStatus, registrarID string, reason *string) error {
	if m.decideErr != nil {
		return m.decideErr
	}
	e := m.enrollments[enrollment.ID]
	e.Status = status
	e.RegistrarID = &registrarID
	e.RejectionReason = reason
	m.enrollments[enrollment.ID] = e
	m.decided = append(m.decided, enrollment.ID)
	return nil
}

func (m *mockEnrollmentRepo) Cancel(ctx context.Context, id string) error {
	e, ok := m.enrollments[id]
	if !ok || e.Status.IsTerminal() {
		return sql.ErrNoRows
	}
	e.Status = models.EnrollmentStatusCancelled
	m.enrollments[id] = e
	m.cancelled = append(m.cancelled, id)
	return nil
}

func (m *mockEnrollmentRepo) ApplySessionTransition(ctx context.Context, sessionID string, status models.SessionStatus, from, to models.EnrollmentStatus) error {
	m.cascades = append(m.cascades, status)
	for id, e := range m.enrollments {
		if e.SessionID == sessionID && e.Status == from {
			e.Status = to
			m.enrollments[id] = e
		}
	}
	return nil
}

type mockStudentReader struct {
	students map[string]models.Student
}

func (m *mockStudentReader) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

type mockSessionReader struct {
	sessions map[string]models.Session
}

func (m *mockSessionReader) FindByID(ctx context.Context, id string) (*models.Session, error) {
	if s, ok := m.sessions[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

type mockDecisionNotifier struct {
	notices []string
}

func (m *mockDecisionNotifier) SendDecisionNotice(email, courseCode, outcome string) {
	m.notices = append(m.notices, email+":"+outcome)
}

type mockDecisionAuditor struct {
	actions []string
}

func (m *mockDecisionAuditor) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.actions = append(m.actions, log.Action)
	return nil
}

func activeTestSession(id string) models.Session {
	return models.Session{
		ID:                 id,
		Name:               "2026/2027",
		Status:             models.SessionStatusActive,
		StartDate:          time.Now().UTC().Add(-24 * time.Hour),
		EndDate:            time.Now().UTC().Add(120 * 24 * time.Hour),
		EnrollmentDeadline: time.Now().UTC().Add(7 * 24 * time.Hour),
	}
}

func newEnrollmentTestService(repo *mockEnrollmentRepo, notifier decisionNotifier) *EnrollmentService {
	students := &mockStudentReader{students: map[string]models.Student{"stu-1": {ID: "stu-1", Email: "jane@uni.edu", Active: true}}}
	sessions := &mockSessionReader{sessions: map[string]models.Session{"ses-1": activeTestSession("ses-1")}}
	return NewEnrollmentService(repo, students, sessions, notifier, nil, validator.New(), zap.NewNop())
}

func TestEnrollmentServiceRequest(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	svc := newEnrollmentTestService(repo, nil)

	detail, err := svc.Request(context.Background(), RequestEnrollmentRequest{StudentID: "stu-1", CourseID: "crs-1", SessionID: "ses-1"})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusPending, detail.Status)
}

func TestEnrollmentServiceRequestAfterDeadline(t *testing.T) {
	session := activeTestSession("ses-1")
	session.EnrollmentDeadline = time.Now().UTC().Add(-time.Hour)
	repo := &mockEnrollmentRepo{}
	students := &mockStudentReader{students: map[string]models.Student{"stu-1": {ID: "stu-1", Active: true}}}
	sessions := &mockSessionReader{sessions: map[string]models.Session{"ses-1": session}}
	svc := NewEnrollmentService(repo, students, sessions, nil, nil, validator.New(), zap.NewNop())

	_, err := svc.Request(context.Background(), RequestEnrollmentRequest{StudentID: "stu-1", CourseID: "crs-1", SessionID: "ses-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceApprove(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"enr-1": {ID: "enr-1", StudentID: "stu-1", SessionID: "ses-1", Status: models.EnrollmentStatusPending},
	}}
	notifier := &mockDecisionNotifier{}
	svc := newEnrollmentTestService(repo, notifier)

	detail, err := svc.Approve(context.Background(), "enr-1", "reg-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusApproved, detail.Status)
	require.NotNil(t, detail.RegistrarID)
	assert.Equal(t, "reg-1", *detail.RegistrarID)
	assert.Equal(t, []string{"jane@uni.edu:APPROVED"}, notifier.notices)
}

func TestEnrollmentServiceApproveRegistrarConflict(t *testing.T) {
	repo := &mockEnrollmentRepo{
		enrollments: map[string]models.Enrollment{
			"enr-1": {ID: "enr-1", StudentID: "stu-1", SessionID: "ses-1", Status: models.EnrollmentStatusPending},
		},
		decideErr: repository.ErrRegistrarConflict,
	}
	svc := newEnrollmentTestService(repo, nil)

	_, err := svc.Approve(context.Background(), "enr-1", "reg-2")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrRegistrarConflict.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceRejectRequiresReason(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"enr-1": {ID: "enr-1", StudentID: "stu-1", SessionID: "ses-1", Status: models.EnrollmentStatusPending},
	}}
	svc := newEnrollmentTestService(repo, nil)

	_, err := svc.Reject(context.Background(), "enr-1", "reg-1", RejectEnrollmentRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	detail, err := svc.Reject(context.Background(), "enr-1", "reg-1", RejectEnrollmentRequest{Reason: "prerequisites not met"})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusRejected, detail.Status)
	require.NotNil(t, detail.RejectionReason)
}

func TestEnrollmentServiceDecideWithoutNotifier(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"enr-1": {ID: "enr-1", StudentID: "stu-1", SessionID: "ses-1", Status: models.EnrollmentStatusPending},
	}}
	svc := newEnrollmentTestService(repo, nil)

	detail, err := svc.Approve(context.Background(), "enr-1", "reg-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusApproved, detail.Status)

	_, err = svc.Reject(context.Background(), "enr-1", "reg-1", RejectEnrollmentRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceDecisionAudited(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"enr-1": {ID: "enr-1", StudentID: "stu-1", SessionID: "ses-1", Status: models.EnrollmentStatusPending},
		"enr-2": {ID: "enr-2", StudentID: "stu-1", SessionID: "ses-1", Status: models.EnrollmentStatusPending},
	}}
	students := &mockStudentReader{students: map[string]models.Student{"stu-1": {ID: "stu-1", Email: "jane@uni.edu", Active: true}}}
	sessions := &mockSessionReader{sessions: map[string]models.Session{"ses-1": activeTestSession("ses-1")}}
	audits := &mockDecisionAuditor{}
	svc := NewEnrollmentService(repo, students, sessions, nil, audits, validator.New(), zap.NewNop())

	_, err := svc.Approve(context.Background(), "enr-1", "reg-1")
	require.NoError(t, err)
	_, err = svc.Reject(context.Background(), "enr-2", "reg-1", RejectEnrollmentRequest{Reason: "prerequisites not met"})
	require.NoError(t, err)

	assert.Equal(t, []string{models.AuditActionEnrollmentApprove, models.AuditActionEnrollmentReject}, audits.actions)
}

func TestEnrollmentServiceDecideNonPending(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"enr-1": {ID: "enr-1", StudentID: "stu-1", SessionID: "ses-1", Status: models.EnrollmentStatusApproved},
	}}
	svc := newEnrollmentTestService(repo, nil)

	_, err := svc.Approve(context.Background(), "enr-1", "reg-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceCancel(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"enr-1": {ID: "enr-1", StudentID: "stu-1", SessionID: "ses-1", Status: models.EnrollmentStatusPending},
	}}
	svc := newEnrollmentTestService(repo, nil)

	detail, err := svc.Cancel(context.Background(), "enr-1", "stu-1", false)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCancelled, detail.Status)
}

func TestEnrollmentServiceCancelForeignStudent(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"enr-1": {ID: "enr-1", StudentID: "stu-1", SessionID: "ses-1", Status: models.EnrollmentStatusPending},
	}}
	svc := newEnrollmentTestService(repo, nil)

	_, err := svc.Cancel(context.Background(), "enr-1", "stu-2", false)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	// an admin may cancel on the student's behalf
	detail, err := svc.Cancel(context.Background(), "enr-1", "adm-1", true)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCancelled, detail.Status)
}

func TestEnrollmentServiceCancelByLinkedIdentity(t *testing.T) {
	identityID := "idn-9"
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"enr-1": {ID: "enr-1", StudentID: "stu-1", SessionID: "ses-1", Status: models.EnrollmentStatusPending},
	}}
	students := &mockStudentReader{students: map[string]models.Student{
		"stu-1": {ID: "stu-1", Email: "jane@uni.edu", IdentityID: &identityID, Active: true},
	}}
	sessions := &mockSessionReader{sessions: map[string]models.Session{"ses-1": activeTestSession("ses-1")}}
	svc := NewEnrollmentService(repo, students, sessions, nil, nil, validator.New(), zap.NewNop())

	detail, err := svc.Cancel(context.Background(), "enr-1", "idn-9", false)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCancelled, detail.Status)
}

func TestEnrollmentServiceCancelTerminal(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"enr-1": {ID: "enr-1", StudentID: "stu-1", SessionID: "ses-1", Status: models.EnrollmentStatusCompleted},
	}}
	svc := newEnrollmentTestService(repo, nil)

	_, err := svc.Cancel(context.Background(), "enr-1", "stu-1", false)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceCascadeSessionTransition(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"enr-1": {ID: "enr-1", StudentID: "stu-1", SessionID: "ses-1", Status: models.EnrollmentStatusApproved},
		"enr-2": {ID: "enr-2", StudentID: "stu-2", SessionID: "ses-1", Status: models.EnrollmentStatusPending},
	}}
	svc := newEnrollmentTestService(repo, nil)

	require.NoError(t, svc.CascadeSessionTransition(context.Background(), "ses-1", models.SessionStatusActive))
	assert.Equal(t, models.EnrollmentStatusActive, repo.enrollments["enr-1"].Status)
	assert.Equal(t, models.EnrollmentStatusPending, repo.enrollments["enr-2"].Status)

	err := svc.CascadeSessionTransition(context.Background(), "ses-1", models.SessionStatusUpcoming)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}
