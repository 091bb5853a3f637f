package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campusreg/enroll-api/internal/identity"
	"github.com/campusreg/enroll-api/internal/models"
	appErrors "github.com/campusreg/enroll-api/pkg/errors"
)

type invitationRepository interface {
	FindByToken(ctx context.Context, token string) (*models.Invitation, error)
	FindByID(ctx context.Context, id string) (*models.Invitation, error)
	FindPendingByEmailAndType(ctx context.Context, email string, userType models.UserType) (*models.Invitation, error)
	Create(ctx context.Context, invitation *models.Invitation) error
	MarkAccepted(ctx context.Context, id, profileID string) error
	Reopen(ctx context.Context, id string) error
	MarkExpired(ctx context.Context, id string) error
	MarkCancelled(ctx context.Context, id string) error
	Rotate(ctx context.Context, id, token string, expiresAt time.Time) error
	List(ctx context.Context, filter models.InvitationFilter) ([]models.Invitation, int, error)
}

type studentProfileRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.Student, error)
	FindByRegNumber(ctx context.Context, regNumber string) (*models.Student, error)
	Create(ctx context.Context, student *models.Student) error
	CompleteProfile(ctx context.Context, id, firstName, lastName, identityID string, imageURL *string) error
	DetachIdentity(ctx context.Context, id string) error
}

type registrarProfileRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.Registrar, error)
	Create(ctx context.Context, registrar *models.Registrar) error
	Delete(ctx context.Context, id string) error
}

type programReader interface {
	FindByID(ctx context.Context, id string) (*models.Program, error)
}

type identityProvider interface {
	SignUp(ctx context.Context, email, password string) (*models.Identity, *models.IdentitySession, error)
	Delete(ctx context.Context, identityID string) error
	AssignRole(ctx context.Context, assignment models.RoleAssignment, accessToken string) error
	RemoveRole(ctx context.Context, identityID string) error
}

type invitationNotifier interface {
	SendInvitation(email, token string)
}

// CreateInvitationRequest describes an invitation issuance.
type CreateInvitationRequest struct {
	Email     string          `json:"email" validate:"required,email"`
	UserType  models.UserType `json:"user_type" validate:"required,oneof=STUDENT REGISTRAR"`
	RegNumber string          `json:"reg_number" validate:"required_if=UserType STUDENT"`
	ProgramID string          `json:"program_id" validate:"required_if=UserType STUDENT"`
	InvitedBy string          `json:"-"`
}

// AcceptInvitationRequest describes the public acceptance payload.
type AcceptInvitationRequest struct {
	Token     string  `json:"token" validate:"required"`
	Password  string  `json:"password" validate:"required,min=8"`
	FirstName string  `json:"first_name" validate:"required"`
	LastName  string  `json:"last_name" validate:"required"`
	RegNumber string  `json:"reg_number,omitempty"`
	ImageURL  *string `json:"image_url,omitempty" validate:"omitempty,url"`
}

// AcceptInvitationResult is handed back on successful acceptance: the new
// identity, its session tokens, the granted role and the completed domain
// profile.
type AcceptInvitationResult struct {
	Identity *models.Identity        `json:"identity"`
	Session  *models.IdentitySession `json:"session"`
	Role     models.UserType         `json:"role"`
	Profile  interface{}             `json:"profile"`
}

// InvitationService issues invitations and drives the multi-step acceptance
// flow across the identity provider and the profile store. Acceptance is a
// saga: each completed step registers a compensation, and a failure unwinds
// them in reverse order on a best-effort basis.
type InvitationService struct {
	invitations invitationRepository
	students    studentProfileRepository
	registrars  registrarProfileRepository
	programs    programReader
	provider    identityProvider
	notifier    invitationNotifier
	ttl         time.Duration
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewInvitationService constructs the service.
func NewInvitationService(invitations invitationRepository, students studentProfileRepository, registrars registrarProfileRepository, programs programReader, provider identityProvider, notifier invitationNotifier, ttl time.Duration, validate *validator.Validate, logger *zap.Logger) *InvitationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &InvitationService{
		invitations: invitations,
		students:    students,
		registrars:  registrars,
		programs:    programs,
		provider:    provider,
		notifier:    notifier,
		ttl:         ttl,
		validator:   validate,
		logger:      logger,
	}
}

// Create issues a new invitation. For students a placeholder profile is
// created up front so the registration number and program are bound before
// the invitee ever responds.
func (s *InvitationService) Create(ctx context.Context, req CreateInvitationRequest) (*models.Invitation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid invitation payload")
	}

	if _, err := s.invitations.FindPendingByEmailAndType(ctx, req.Email, req.UserType); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a pending invitation already exists for this email")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check pending invitations")
	}

	if req.UserType == models.UserTypeStudent {
		if _, err := s.programs.FindByID(ctx, req.ProgramID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "program not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program")
		}
		if _, err := s.students.FindByRegNumber(ctx, req.RegNumber); err == nil {
			return nil, appErrors.Clone(appErrors.ErrConflict, "registration number already in use")
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check registration number")
		}
		if _, err := s.students.FindByEmail(ctx, req.Email); err == nil {
			return nil, appErrors.Clone(appErrors.ErrEmailExists, "")
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check student email")
		}
	} else {
		if _, err := s.registrars.FindByEmail(ctx, req.Email); err == nil {
			return nil, appErrors.Clone(appErrors.ErrEmailExists, "")
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check registrar email")
		}
	}

	token, err := generateInviteToken()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate invitation token")
	}

	if req.UserType == models.UserTypeStudent {
		student := &models.Student{
			RegNumber: req.RegNumber,
			Email:     req.Email,
			ProgramID: req.ProgramID,
			Active:    false,
		}
		if err := s.students.Create(ctx, student); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student placeholder")
		}
	}

	invitation := &models.Invitation{
		Email:     req.Email,
		Token:     token,
		UserType:  req.UserType,
		Status:    models.InvitationStatusPending,
		ExpiresAt: time.Now().UTC().Add(s.ttl),
	}
	if req.InvitedBy != "" {
		invitation.InvitedBy = &req.InvitedBy
	}
	if err := s.invitations.Create(ctx, invitation); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create invitation")
	}

	if s.notifier != nil {
		s.notifier.SendInvitation(invitation.Email, token)
	}
	s.logger.Info("invitation created",
		zap.String("invitation_id", invitation.ID),
		zap.String("user_type", string(invitation.UserType)))
	return invitation, nil
}

// Resend rotates the token of a pending invitation and sends a fresh mail.
// An expired invitation is reopened first, so a missed deadline does not force
// the inviter to recreate it.
func (s *InvitationService) Resend(ctx context.Context, id string) (*models.Invitation, error) {
	invitation, err := s.invitations.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "invitation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invitation")
	}
	switch invitation.Status {
	case models.InvitationStatusPending:
	case models.InvitationStatusExpired:
		if err := s.invitations.Reopen(ctx, invitation.ID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reopen invitation")
		}
		invitation.Status = models.InvitationStatusPending
	default:
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only pending or expired invitations can be resent")
	}

	token, err := generateInviteToken()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate invitation token")
	}
	expiresAt := time.Now().UTC().Add(s.ttl)
	if err := s.invitations.Rotate(ctx, id, token, expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "invitation is no longer pending")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rotate invitation token")
	}

	invitation.Token = token
	invitation.ExpiresAt = expiresAt
	if s.notifier != nil {
		s.notifier.SendInvitation(invitation.Email, token)
	}
	return invitation, nil
}

// Cancel withdraws a pending invitation.
func (s *InvitationService) Cancel(ctx context.Context, id string) error {
	if err := s.invitations.MarkCancelled(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "invitation is not pending")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel invitation")
	}
	return nil
}

// List returns invitations with pagination metadata.
func (s *InvitationService) List(ctx context.Context, filter models.InvitationFilter) ([]models.Invitation, *models.Pagination, error) {
	invitations, total, err := s.invitations.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list invitations")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return invitations, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Accept redeems an invitation token. The flow runs five ordered steps:
// token validation, identity sign-up, role assignment, profile creation, and
// invitation closure. Completed steps register compensations that run in
// reverse order when a later step fails; compensation failures are logged
// and attached without replacing the root cause.
func (s *InvitationService) Accept(ctx context.Context, req AcceptInvitationRequest) (*AcceptInvitationResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid acceptance payload")
	}

	invitation, err := s.invitations.FindByToken(ctx, req.Token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidOrExpiredToken, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invitation")
	}
	now := time.Now().UTC()
	if !invitation.IsAcceptable(now) {
		if invitation.Status == models.InvitationStatusPending && !now.Before(invitation.ExpiresAt) {
			if err := s.invitations.MarkExpired(ctx, invitation.ID); err != nil {
				s.logger.Warn("failed to mark invitation expired", zap.String("invitation_id", invitation.ID), zap.Error(err))
			}
		}
		return nil, appErrors.Clone(appErrors.ErrInvalidOrExpiredToken, "")
	}

	if invitation.UserType == models.UserTypeStudent && req.RegNumber != "" {
		student, err := s.students.FindByEmail(ctx, invitation.Email)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student placeholder")
		}
		if student.RegNumber != req.RegNumber {
			return nil, appErrors.Clone(appErrors.ErrValidation, "registration number does not match the invitation")
		}
	}

	var compensations []func()
	unwind := func() {
		for i := len(compensations) - 1; i >= 0; i-- {
			compensations[i]()
		}
	}

	newIdentity, session, err := s.provider.SignUp(ctx, invitation.Email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrEmailRegistered) {
			return nil, appErrors.Clone(appErrors.ErrEmailExists, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrIdentityProvider.Code, appErrors.ErrIdentityProvider.Status, appErrors.ErrIdentityProvider.Message)
	}
	compensations = append(compensations, func() {
		if err := s.provider.Delete(context.Background(), newIdentity.ID); err != nil {
			s.logger.Error("compensation failed: delete identity",
				zap.String("invitation_id", invitation.ID),
				zap.String("identity_id", newIdentity.ID),
				zap.Error(err))
		}
	})

	assignment := models.RoleAssignment{IdentityID: newIdentity.ID, Role: invitation.UserType}
	if err := s.provider.AssignRole(ctx, assignment, session.AccessToken); err != nil {
		unwind()
		return nil, appErrors.Wrap(err, appErrors.ErrRoleAssignment.Code, appErrors.ErrRoleAssignment.Status, appErrors.ErrRoleAssignment.Message)
	}
	compensations = append(compensations, func() {
		if err := s.provider.RemoveRole(context.Background(), newIdentity.ID); err != nil {
			s.logger.Error("compensation failed: remove role",
				zap.String("invitation_id", invitation.ID),
				zap.String("identity_id", newIdentity.ID),
				zap.Error(err))
		}
	})

	profileID, profile, compensateProfile, err := s.createProfile(ctx, invitation, req, newIdentity.ID)
	if err != nil {
		unwind()
		return nil, appErrors.Wrap(err, appErrors.ErrProfileCreation.Code, appErrors.ErrProfileCreation.Status, appErrors.ErrProfileCreation.Message)
	}
	compensations = append(compensations, compensateProfile)

	if err := s.invitations.MarkAccepted(ctx, invitation.ID, profileID); err != nil {
		unwind()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidOrExpiredToken, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInvitationUpdate.Code, appErrors.ErrInvitationUpdate.Status, appErrors.ErrInvitationUpdate.Message)
	}

	s.logger.Info("invitation accepted",
		zap.String("invitation_id", invitation.ID),
		zap.String("user_type", string(invitation.UserType)),
		zap.String("profile_id", profileID))
	return &AcceptInvitationResult{
		Identity: newIdentity,
		Session:  session,
		Role:     invitation.UserType,
		Profile:  profile,
	}, nil
}

func (s *InvitationService) createProfile(ctx context.Context, invitation *models.Invitation, req AcceptInvitationRequest, identityID string) (string, interface{}, func(), error) {
	if invitation.UserType == models.UserTypeRegistrar {
		registrar := &models.Registrar{
			Email:      invitation.Email,
			FirstName:  req.FirstName,
			LastName:   req.LastName,
			IdentityID: &identityID,
			Active:     true,
		}
		if err := s.registrars.Create(ctx, registrar); err != nil {
			return "", nil, nil, err
		}
		compensate := func() {
			if err := s.registrars.Delete(context.Background(), registrar.ID); err != nil {
				s.logger.Error("compensation failed: delete registrar profile",
					zap.String("invitation_id", invitation.ID),
					zap.String("registrar_id", registrar.ID),
					zap.Error(err))
			}
		}
		return registrar.ID, registrar, compensate, nil
	}

	student, err := s.students.FindByEmail(ctx, invitation.Email)
	if err != nil {
		return "", nil, nil, err
	}
	if err := s.students.CompleteProfile(ctx, student.ID, req.FirstName, req.LastName, identityID, req.ImageURL); err != nil {
		return "", nil, nil, err
	}
	student.FirstName = req.FirstName
	student.LastName = req.LastName
	student.IdentityID = &identityID
	student.Active = true
	if req.ImageURL != nil {
		student.ProfileImageURL = req.ImageURL
	}
	compensate := func() {
		if err := s.students.DetachIdentity(context.Background(), student.ID); err != nil {
			s.logger.Error("compensation failed: detach student identity",
				zap.String("invitation_id", invitation.ID),
				zap.String("student_id", student.ID),
				zap.Error(err))
		}
	}
	return student.ID, student, compensate, nil
}

func generateInviteToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
