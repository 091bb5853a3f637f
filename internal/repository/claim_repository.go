package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campusreg/enroll-api/internal/models"
)

// ClaimRepository handles the claim rows that record which registrar owns a
// student within a session.
type ClaimRepository struct {
	db *sqlx.DB
}

// NewClaimRepository constructs the repository.
func NewClaimRepository(db *sqlx.DB) *ClaimRepository {
	return &ClaimRepository{db: db}
}

const claimColumns = `id, student_id, session_id, registrar_id, claimed_at, updated_at`

// Upsert inserts the claim or touches the existing one, returning the owning
// registrar in either case. The unique (student_id, session_id) key makes the
// first writer the owner.
func (r *ClaimRepository) Upsert(ctx context.Context, studentID, sessionID, registrarID string) (string, error) {
	const query = `INSERT INTO registrar_claims (id, student_id, session_id, registrar_id, claimed_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $5)
        ON CONFLICT (student_id, session_id) DO UPDATE SET updated_at = EXCLUDED.updated_at
        RETURNING registrar_id`
	var owner string
	if err := r.db.GetContext(ctx, &owner, query, uuid.NewString(), studentID, sessionID, registrarID, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("upsert registrar claim: %w", err)
	}
	return owner, nil
}

// FindByStudentAndSession returns the claim for the pair, if any.
func (r *ClaimRepository) FindByStudentAndSession(ctx context.Context, studentID, sessionID string) (*models.RegistrarClaim, error) {
	query := fmt.Sprintf(`SELECT %s FROM registrar_claims WHERE student_id = $1 AND session_id = $2 LIMIT 1`, claimColumns)
	var claim models.RegistrarClaim
	if err := r.db.GetContext(ctx, &claim, query, studentID, sessionID); err != nil {
		return nil, err
	}
	return &claim, nil
}

// ListByRegistrarAndSession returns the students a registrar owns in a
// session.
func (r *ClaimRepository) ListByRegistrarAndSession(ctx context.Context, registrarID, sessionID string) ([]models.RegistrarClaim, error) {
	query := fmt.Sprintf(`SELECT %s FROM registrar_claims WHERE registrar_id = $1 AND session_id = $2 ORDER BY claimed_at`, claimColumns)
	var claims []models.RegistrarClaim
	if err := r.db.SelectContext(ctx, &claims, query, registrarID, sessionID); err != nil {
		return nil, fmt.Errorf("list registrar claims: %w", err)
	}
	return claims, nil
}
