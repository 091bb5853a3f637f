package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campusreg/enroll-api/internal/models"
)

// InvitationRepository handles persistence of invitations.
type InvitationRepository struct {
	db *sqlx.DB
}

// NewInvitationRepository constructs the repository.
func NewInvitationRepository(db *sqlx.DB) *InvitationRepository {
	return &InvitationRepository{db: db}
}

const invitationColumns = `id, email, token, user_type, status, profile_id, invited_by, expires_at, created_at, updated_at`

// FindByToken returns the invitation holding the given single-use token.
func (r *InvitationRepository) FindByToken(ctx context.Context, token string) (*models.Invitation, error) {
	query := fmt.Sprintf(`SELECT %s FROM invitations WHERE token = $1`, invitationColumns)
	var invitation models.Invitation
	if err := r.db.GetContext(ctx, &invitation, query, token); err != nil {
		return nil, err
	}
	return &invitation, nil
}

// FindByID returns an invitation by its ID.
func (r *InvitationRepository) FindByID(ctx context.Context, id string) (*models.Invitation, error) {
	query := fmt.Sprintf(`SELECT %s FROM invitations WHERE id = $1`, invitationColumns)
	var invitation models.Invitation
	if err := r.db.GetContext(ctx, &invitation, query, id); err != nil {
		return nil, err
	}
	return &invitation, nil
}

// FindPendingByEmailAndType returns the PENDING invitation for the pair, if
// any. The at-most-one invariant is enforced by lookup-before-insert.
func (r *InvitationRepository) FindPendingByEmailAndType(ctx context.Context, email string, userType models.UserType) (*models.Invitation, error) {
	query := fmt.Sprintf(`SELECT %s FROM invitations WHERE email = $1 AND user_type = $2 AND status = $3 LIMIT 1`, invitationColumns)
	var invitation models.Invitation
	if err := r.db.GetContext(ctx, &invitation, query, email, userType, models.InvitationStatusPending); err != nil {
		return nil, err
	}
	return &invitation, nil
}

// Create persists a new invitation record.
func (r *InvitationRepository) Create(ctx context.Context, invitation *models.Invitation) error {
	if invitation.ID == "" {
		invitation.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if invitation.CreatedAt.IsZero() {
		invitation.CreatedAt = now
	}
	invitation.UpdatedAt = now
	if invitation.Status == "" {
		invitation.Status = models.InvitationStatusPending
	}
	const query = `INSERT INTO invitations (id, email, token, user_type, status, profile_id, invited_by, expires_at, created_at, updated_at)
        VALUES (:id, :email, :token, :user_type, :status, :profile_id, :invited_by, :expires_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, invitation); err != nil {
		return fmt.Errorf("create invitation: %w", err)
	}
	return nil
}

// MarkAccepted flips a PENDING invitation to ACCEPTED, stamping the domain
// profile id. Returns sql.ErrNoRows when the invitation is no longer PENDING.
func (r *InvitationRepository) MarkAccepted(ctx context.Context, id, profileID string) error {
	const query = `UPDATE invitations SET status = $2, profile_id = $3, updated_at = $4 WHERE id = $1 AND status = $5`
	res, err := r.db.ExecContext(ctx, query, id, models.InvitationStatusAccepted, profileID, time.Now().UTC(), models.InvitationStatusPending)
	if err != nil {
		return fmt.Errorf("accept invitation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("accept invitation rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Reopen flips an EXPIRED invitation back to PENDING so it can be resent.
func (r *InvitationRepository) Reopen(ctx context.Context, id string) error {
	const query = `UPDATE invitations SET status = $2, profile_id = NULL, updated_at = $3 WHERE id = $1 AND status = $4`
	if _, err := r.db.ExecContext(ctx, query, id, models.InvitationStatusPending, time.Now().UTC(), models.InvitationStatusExpired); err != nil {
		return fmt.Errorf("reopen invitation: %w", err)
	}
	return nil
}

// MarkExpired stamps the invitation EXPIRED. Applied as a side effect of
// expiry detection during acceptance.
func (r *InvitationRepository) MarkExpired(ctx context.Context, id string) error {
	const query = `UPDATE invitations SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`
	if _, err := r.db.ExecContext(ctx, query, id, models.InvitationStatusExpired, time.Now().UTC(), models.InvitationStatusPending); err != nil {
		return fmt.Errorf("expire invitation: %w", err)
	}
	return nil
}

// MarkCancelled stamps a PENDING invitation CANCELLED.
func (r *InvitationRepository) MarkCancelled(ctx context.Context, id string) error {
	const query = `UPDATE invitations SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, id, models.InvitationStatusCancelled, time.Now().UTC(), models.InvitationStatusPending)
	if err != nil {
		return fmt.Errorf("cancel invitation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cancel invitation rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Rotate replaces the token and extends expiry on a PENDING invitation.
func (r *InvitationRepository) Rotate(ctx context.Context, id, token string, expiresAt time.Time) error {
	const query = `UPDATE invitations SET token = $2, expires_at = $3, updated_at = $4 WHERE id = $1 AND status = $5`
	res, err := r.db.ExecContext(ctx, query, id, token, expiresAt, time.Now().UTC(), models.InvitationStatusPending)
	if err != nil {
		return fmt.Errorf("rotate invitation token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotate invitation rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns invitations filtered by the provided criteria.
func (r *InvitationRepository) List(ctx context.Context, filter models.InvitationFilter) ([]models.Invitation, int, error) {
	var conditions []string
	var args []interface{}

	if filter.Email != "" {
		conditions = append(conditions, fmt.Sprintf("email = $%d", len(args)+1))
		args = append(args, filter.Email)
	}
	if filter.UserType != "" {
		conditions = append(conditions, fmt.Sprintf("user_type = $%d", len(args)+1))
		args = append(args, filter.UserType)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM invitations%s ORDER BY created_at DESC LIMIT %d OFFSET %d`, invitationColumns, clause, size, offset)
	var invitations []models.Invitation
	if err := r.db.SelectContext(ctx, &invitations, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list invitations: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM invitations" + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count invitations: %w", err)
	}
	return invitations, total, nil
}
