package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campusreg/enroll-api/internal/models"
)

// StudentRepository handles persistence of student profiles.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

const studentColumns = `id, reg_number, email, first_name, last_name, program_id, identity_id, profile_image_url, active, created_at, updated_at`

// FindByID returns a student by identifier.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students WHERE id = $1`, studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByEmail returns a student by email address.
func (r *StudentRepository) FindByEmail(ctx context.Context, email string) (*models.Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students WHERE email = $1 LIMIT 1`, studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, email); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByRegNumber returns a student by registration number.
func (r *StudentRepository) FindByRegNumber(ctx context.Context, regNumber string) (*models.Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students WHERE reg_number = $1 LIMIT 1`, studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, regNumber); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindDetailByID returns a student joined with program info.
func (r *StudentRepository) FindDetailByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	const query = `SELECT st.id, st.reg_number, st.email, st.first_name, st.last_name, st.program_id,
        st.identity_id, st.profile_image_url, st.active, st.created_at, st.updated_at,
        p.name AS program_name
        FROM students st LEFT JOIN programs p ON p.id = st.program_id WHERE st.id = $1`
	var detail models.StudentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Create persists a placeholder student at invite time. The profile is
// completed on invitation acceptance.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	student.CreatedAt = now
	student.UpdatedAt = now
	const query = `INSERT INTO students (id, reg_number, email, first_name, last_name, program_id, identity_id, profile_image_url, active, created_at, updated_at)
        VALUES (:id, :reg_number, :email, :first_name, :last_name, :program_id, :identity_id, :profile_image_url, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// CompleteProfile fills the acceptance-time fields and links the identity.
// A nil imageURL leaves profile_image_url untouched.
func (r *StudentRepository) CompleteProfile(ctx context.Context, id, firstName, lastName, identityID string, imageURL *string) error {
	const query = `UPDATE students SET first_name = $2, last_name = $3, identity_id = $4,
        profile_image_url = COALESCE($5, profile_image_url), active = TRUE, updated_at = $6 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, firstName, lastName, identityID, imageURL, time.Now().UTC()); err != nil {
		return fmt.Errorf("complete student profile: %w", err)
	}
	return nil
}

// DetachIdentity clears the identity link and deactivates the profile.
// Compensation for a failed acceptance step.
func (r *StudentRepository) DetachIdentity(ctx context.Context, id string) error {
	const query = `UPDATE students SET identity_id = NULL, active = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("detach student identity: %w", err)
	}
	return nil
}

// List returns students filtered by the provided criteria.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	var conditions []string
	var args []interface{}

	if filter.ProgramID != "" {
		conditions = append(conditions, fmt.Sprintf("program_id = $%d", len(args)+1))
		args = append(args, filter.ProgramID)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(email) LIKE $%d OR LOWER(reg_number) LIKE $%d OR LOWER(last_name) LIKE $%d)", len(args)+1, len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
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

	query := fmt.Sprintf(`SELECT %s FROM students%s ORDER BY last_name, first_name LIMIT %d OFFSET %d`, studentColumns, clause, size, offset)
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM students" + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}
