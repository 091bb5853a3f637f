package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campusreg/enroll-api/internal/models"
	appErrors "github.com/campusreg/enroll-api/pkg/errors"
)

const activeSessionCacheKey = "sessions:active"

type sessionRepository interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
	FindActive(ctx context.Context) (*models.Session, error)
	ListByStatus(ctx context.Context, status models.SessionStatus) ([]models.Session, error)
	List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error)
	Create(ctx context.Context, session *models.Session) error
	Update(ctx context.Context, session *models.Session) error
}

type sessionCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type cascadeApplier interface {
	CascadeSessionTransition(ctx context.Context, sessionID string, status models.SessionStatus) error
}

// CreateSessionRequest describes a new academic session.
type CreateSessionRequest struct {
	Name               string    `json:"name" validate:"required"`
	StartDate          time.Time `json:"start_date" validate:"required"`
	EndDate            time.Time `json:"end_date" validate:"required"`
	EnrollmentDeadline time.Time `json:"enrollment_deadline" validate:"required"`
}

// UpdateSessionRequest mirrors creation for mutable fields.
type UpdateSessionRequest struct {
	Name               string    `json:"name" validate:"required"`
	StartDate          time.Time `json:"start_date" validate:"required"`
	EndDate            time.Time `json:"end_date" validate:"required"`
	EnrollmentDeadline time.Time `json:"enrollment_deadline" validate:"required"`
}

// SessionService controls the session lifecycle. Status moves only forward
// through UPCOMING, ACTIVE, CLOSED, and the write that flips the status also
// runs the enrollment cascade through the enrollment machine.
type SessionService struct {
	repo        sessionRepository
	enrollments cascadeApplier
	cache       sessionCache
	cacheTTL    time.Duration
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewSessionService constructs SessionService.
func NewSessionService(repo sessionRepository, enrollments cascadeApplier, cache sessionCache, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &SessionService{repo: repo, enrollments: enrollments, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// List returns sessions with pagination metadata.
func (s *SessionService) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, *models.Pagination, error) {
	sessions, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return sessions, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one session.
func (s *SessionService) Get(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

// GetActive returns the currently active session, served from cache when
// fresh.
func (s *SessionService) GetActive(ctx context.Context) (*models.Session, error) {
	if s.cache != nil {
		var cached models.Session
		if err := s.cache.Get(ctx, activeSessionCacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	session, err := s.repo.FindActive(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNoActiveSession, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active session")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, activeSessionCacheKey, session, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache active session", zap.Error(err))
		}
	}
	return session, nil
}

// Create registers a new UPCOMING session after validating its dates.
func (s *SessionService) Create(ctx context.Context, req CreateSessionRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	if err := validateSessionDates(req.StartDate, req.EndDate, req.EnrollmentDeadline); err != nil {
		return nil, err
	}

	session := &models.Session{
		Name:               req.Name,
		StartDate:          req.StartDate,
		EndDate:            req.EndDate,
		EnrollmentDeadline: req.EnrollmentDeadline,
		Status:             models.SessionStatusUpcoming,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}
	return session, nil
}

// Update rewrites the mutable fields of an UPCOMING session. Started
// sessions keep their dates fixed.
func (s *SessionService) Update(ctx context.Context, id string, req UpdateSessionRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusUpcoming {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only upcoming sessions can be edited")
	}
	if err := validateSessionDates(req.StartDate, req.EndDate, req.EnrollmentDeadline); err != nil {
		return nil, err
	}

	session.Name = req.Name
	session.StartDate = req.StartDate
	session.EndDate = req.EndDate
	session.EnrollmentDeadline = req.EnrollmentDeadline
	if err := s.repo.Update(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update session")
	}
	return session, nil
}

// Start activates an UPCOMING session. At most one session may be ACTIVE, so
// every session still live is closed through the regular close path first.
// Approved enrollments in the session become ACTIVE as part of the same
// transaction.
func (s *SessionService) Start(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusUpcoming {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only upcoming sessions can be started")
	}

	actives, err := s.repo.ListByStatus(ctx, models.SessionStatusActive)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check active sessions")
	}
	for _, current := range actives {
		s.logger.Info("closing active session before start",
			zap.String("closing_session_id", current.ID),
			zap.String("starting_session_id", id))
		if _, err := s.Close(ctx, current.ID); err != nil {
			return nil, err
		}
	}

	if err := s.enrollments.CascadeSessionTransition(ctx, id, models.SessionStatusActive); err != nil {
		return nil, err
	}
	s.invalidateActiveCache(ctx)

	session.Status = models.SessionStatusActive
	s.logger.Info("session started", zap.String("session_id", id), zap.String("name", session.Name))
	return session, nil
}

// Close ends an ACTIVE session. Active enrollments in the session complete
// as part of the same transaction.
func (s *SessionService) Close(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusActive {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only active sessions can be closed")
	}

	if err := s.enrollments.CascadeSessionTransition(ctx, id, models.SessionStatusClosed); err != nil {
		return nil, err
	}
	s.invalidateActiveCache(ctx)

	session.Status = models.SessionStatusClosed
	s.logger.Info("session closed", zap.String("session_id", id), zap.String("name", session.Name))
	return session, nil
}

func (s *SessionService) invalidateActiveCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, activeSessionCacheKey); err != nil {
		s.logger.Warn("failed to invalidate active session cache", zap.Error(err))
	}
}

func validateSessionDates(start, end, deadline time.Time) error {
	if !start.After(time.Now().UTC()) {
		return appErrors.Clone(appErrors.ErrInvalidDateRange, "start date must be in the future")
	}
	if !end.After(start) {
		return appErrors.Clone(appErrors.ErrInvalidDateRange, "end date must be after start date")
	}
	if !deadline.Before(start) {
		return appErrors.Clone(appErrors.ErrInvalidDateRange, "enrollment deadline must be before the start date")
	}
	return nil
}
