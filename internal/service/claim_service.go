package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/campusreg/enroll-api/internal/models"
	appErrors "github.com/campusreg/enroll-api/pkg/errors"
)

type claimRepository interface {
	Upsert(ctx context.Context, studentID, sessionID, registrarID string) (string, error)
	FindByStudentAndSession(ctx context.Context, studentID, sessionID string) (*models.RegistrarClaim, error)
	ListByRegistrarAndSession(ctx context.Context, registrarID, sessionID string) ([]models.RegistrarClaim, error)
}

type activeSessionResolver interface {
	GetActive(ctx context.Context) (*models.Session, error)
}

type sessionEnrollmentChecker interface {
	ExistsForStudentInSession(ctx context.Context, studentID, sessionID string) (bool, error)
}

// ClaimService lets registrars claim students ahead of any decision. Claims
// are scoped to the active session; the same guard row later serializes
// enrollment decisions.
type ClaimService struct {
	claims      claimRepository
	students    enrollmentStudentReader
	enrollments sessionEnrollmentChecker
	sessions    activeSessionResolver
	logger      *zap.Logger
}

// NewClaimService constructs ClaimService.
func NewClaimService(claims claimRepository, students enrollmentStudentReader, enrollments sessionEnrollmentChecker, sessions activeSessionResolver, logger *zap.Logger) *ClaimService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClaimService{claims: claims, students: students, enrollments: enrollments, sessions: sessions, logger: logger}
}

// Claim assigns the student to the registrar for the active session. A repeat
// claim by the owning registrar is a no-op; a claim on a student owned by
// someone else fails. Registrar callers additionally require the student to
// be enrolled in the active session; admins may claim ahead of enrollment.
func (s *ClaimService) Claim(ctx context.Context, registrarID, studentID string, actorRole models.UserRole) (*models.RegistrarClaim, error) {
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	session, err := s.sessions.GetActive(ctx)
	if err != nil {
		return nil, err
	}

	if actorRole != models.RoleAdmin {
		enrolled, err := s.enrollments.ExistsForStudentInSession(ctx, studentID, session.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check session enrollment")
		}
		if !enrolled {
			return nil, appErrors.Clone(appErrors.ErrAlreadyClaimed, "student is not enrolled in the active session")
		}
	}

	owner, err := s.claims.Upsert(ctx, studentID, session.ID, registrarID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record claim")
	}
	if owner != registrarID {
		return nil, appErrors.Clone(appErrors.ErrAlreadyClaimed, "")
	}

	claim, err := s.claims.FindByStudentAndSession(ctx, studentID, session.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load claim")
	}
	s.logger.Info("student claimed",
		zap.String("registrar_id", registrarID),
		zap.String("student_id", studentID),
		zap.String("session_id", session.ID))
	return claim, nil
}

// ListMine returns the registrar's claims in the active session.
func (s *ClaimService) ListMine(ctx context.Context, registrarID string) ([]models.RegistrarClaim, error) {
	session, err := s.sessions.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	claims, err := s.claims.ListByRegistrarAndSession(ctx, registrarID, session.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list claims")
	}
	return claims, nil
}
