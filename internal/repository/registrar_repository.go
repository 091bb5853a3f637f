package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campusreg/enroll-api/internal/models"
)

// RegistrarRepository handles persistence of registrar profiles.
type RegistrarRepository struct {
	db *sqlx.DB
}

// NewRegistrarRepository constructs the repository.
func NewRegistrarRepository(db *sqlx.DB) *RegistrarRepository {
	return &RegistrarRepository{db: db}
}

const registrarColumns = `id, email, first_name, last_name, identity_id, active, created_at, updated_at`

// FindByID returns a registrar by identifier.
func (r *RegistrarRepository) FindByID(ctx context.Context, id string) (*models.Registrar, error) {
	query := fmt.Sprintf(`SELECT %s FROM registrars WHERE id = $1`, registrarColumns)
	var registrar models.Registrar
	if err := r.db.GetContext(ctx, &registrar, query, id); err != nil {
		return nil, err
	}
	return &registrar, nil
}

// FindByEmail returns a registrar by email address.
func (r *RegistrarRepository) FindByEmail(ctx context.Context, email string) (*models.Registrar, error) {
	query := fmt.Sprintf(`SELECT %s FROM registrars WHERE email = $1 LIMIT 1`, registrarColumns)
	var registrar models.Registrar
	if err := r.db.GetContext(ctx, &registrar, query, email); err != nil {
		return nil, err
	}
	return &registrar, nil
}

// Create persists a registrar profile during invitation acceptance.
func (r *RegistrarRepository) Create(ctx context.Context, registrar *models.Registrar) error {
	if registrar.ID == "" {
		registrar.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	registrar.CreatedAt = now
	registrar.UpdatedAt = now
	const query = `INSERT INTO registrars (id, email, first_name, last_name, identity_id, active, created_at, updated_at)
        VALUES (:id, :email, :first_name, :last_name, :identity_id, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, registrar); err != nil {
		return fmt.Errorf("create registrar: %w", err)
	}
	return nil
}

// Delete removes a registrar profile. Compensation for a failed acceptance
// step, so the row is dropped rather than soft-deleted.
func (r *RegistrarRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM registrars WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete registrar: %w", err)
	}
	return nil
}
