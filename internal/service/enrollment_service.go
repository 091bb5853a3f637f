package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campusreg/enroll-api/internal/models"
	"github.com/campusreg/enroll-api/internal/repository"
	appErrors "github.com/campusreg/enroll-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	Decide(ctx context.Context, enrollment *models.Enrollment, status models.EnrollmentStatus, registrarID string, reason *string) error
	Cancel(ctx context.Context, id string) error
	ApplySessionTransition(ctx context.Context, sessionID string, status models.SessionStatus, from, to models.EnrollmentStatus) error
}

type enrollmentStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type enrollmentSessionReader interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
}

type decisionNotifier interface {
	SendDecisionNotice(email, courseCode, outcome string)
}

type decisionAuditor interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// RequestEnrollmentRequest describes a new enrollment submission.
type RequestEnrollmentRequest struct {
	StudentID      string `json:"student_id" validate:"required"`
	CourseID       string `json:"course_id" validate:"required"`
	SessionID      string `json:"session_id" validate:"required"`
	SpecialRequest bool   `json:"special_request"`
}

// RejectEnrollmentRequest carries the mandatory rejection reason.
type RejectEnrollmentRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// EnrollmentService owns the enrollment state machine. Registrar decisions
// route through the claim guard so every decision for a student within a
// session comes from the same registrar.
type EnrollmentService struct {
	repo      enrollmentRepository
	students  enrollmentStudentReader
	sessions  enrollmentSessionReader
	notifier  decisionNotifier
	audits    decisionAuditor
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, students enrollmentStudentReader, sessions enrollmentSessionReader, notifier decisionNotifier, audits decisionAuditor, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, students: students, sessions: sessions, notifier: notifier, audits: audits, validator: validate, logger: logger}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return enrollments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one enrollment with contextual info.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return detail, nil
}

// Request submits a new enrollment. The target session must be ACTIVE and
// its enrollment deadline must not have passed.
func (s *EnrollmentService) Request(ctx context.Context, req RequestEnrollmentRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student profile is not active")
	}

	session, err := s.sessions.FindByID(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if session.Status != models.SessionStatusActive {
		return nil, appErrors.Clone(appErrors.ErrNoActiveSession, "")
	}
	if time.Now().UTC().After(session.EnrollmentDeadline) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment deadline has passed")
	}

	enrollment := &models.Enrollment{
		StudentID:      req.StudentID,
		CourseID:       req.CourseID,
		SessionID:      req.SessionID,
		Status:         models.EnrollmentStatusPending,
		SpecialRequest: req.SpecialRequest,
	}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	return s.Get(ctx, enrollment.ID)
}

// Approve moves a PENDING enrollment to APPROVED on behalf of a registrar.
func (s *EnrollmentService) Approve(ctx context.Context, id, registrarID string) (*models.EnrollmentDetail, error) {
	return s.decide(ctx, id, registrarID, models.EnrollmentStatusApproved, nil)
}

// Reject moves a PENDING enrollment to REJECTED with a mandatory reason.
func (s *EnrollmentService) Reject(ctx context.Context, id, registrarID string, req RejectEnrollmentRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "rejection reason is required")
	}
	return s.decide(ctx, id, registrarID, models.EnrollmentStatusRejected, &req.Reason)
}

func (s *EnrollmentService) decide(ctx context.Context, id, registrarID string, status models.EnrollmentStatus, reason *string) (*models.EnrollmentDetail, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Status != models.EnrollmentStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only pending enrollments can be decided")
	}

	if err := s.repo.Decide(ctx, enrollment, status, registrarID, reason); err != nil {
		switch {
		case errors.Is(err, repository.ErrRegistrarConflict):
			return nil, appErrors.Clone(appErrors.ErrRegistrarConflict, "")
		case errors.Is(err, repository.ErrNotPending):
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "enrollment is no longer pending")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply decision")
	}

	detail, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notifyDecision(ctx, detail, status)
	s.auditDecision(ctx, id, registrarID, status)
	s.logger.Info("enrollment decided",
		zap.String("enrollment_id", id),
		zap.String("registrar_id", registrarID),
		zap.String("status", string(status)))
	return detail, nil
}

func (s *EnrollmentService) auditDecision(ctx context.Context, id, registrarID string, status models.EnrollmentStatus) {
	if s.audits == nil {
		return
	}
	action := models.AuditActionEnrollmentApprove
	if status == models.EnrollmentStatusRejected {
		action = models.AuditActionEnrollmentReject
	}
	if err := s.audits.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &registrarID,
		Action:     action,
		Resource:   "enrollment",
		ResourceID: &id,
		NewValues:  []byte(fmt.Sprintf(`{"status":%q}`, status)),
	}); err != nil {
		s.logger.Warn("failed to record enrollment decision audit log", zap.Error(err))
	}
}

// Cancel moves a non-terminal enrollment to CANCELLED. Non-admin callers may
// only cancel their own enrollment, matched by student id or by the student's
// linked identity id.
func (s *EnrollmentService) Cancel(ctx context.Context, id, actorID string, isAdmin bool) (*models.EnrollmentDetail, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !isAdmin && enrollment.StudentID != actorID {
		student, err := s.students.FindByID(ctx, enrollment.StudentID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		}
		if student.IdentityID == nil || *student.IdentityID != actorID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "enrollment belongs to another student")
		}
	}

	if err := s.repo.Cancel(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "enrollment cannot be cancelled from its current status")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel enrollment")
	}
	return s.Get(ctx, id)
}

// CascadeSessionTransition applies the bulk enrollment transition a session
// status change triggers, writing both in one transaction. Session states
// without a cascade only update the session row.
func (s *EnrollmentService) CascadeSessionTransition(ctx context.Context, sessionID string, status models.SessionStatus) error {
	from, to, ok := models.CascadeForSession(status)
	if !ok {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "session status has no enrollment cascade")
	}
	if err := s.repo.ApplySessionTransition(ctx, sessionID, status, from, to); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply session transition")
	}
	s.logger.Info("session transition cascaded",
		zap.String("session_id", sessionID),
		zap.String("session_status", string(status)),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return nil
}

func (s *EnrollmentService) notifyDecision(ctx context.Context, detail *models.EnrollmentDetail, status models.EnrollmentStatus) {
	if s.notifier == nil {
		return
	}
	student, err := s.students.FindByID(ctx, detail.StudentID)
	if err != nil {
		s.logger.Warn("failed to load student for decision notice", zap.String("student_id", detail.StudentID), zap.Error(err))
		return
	}
	s.notifier.SendDecisionNotice(student.Email, detail.CourseCode, string(status))
}
