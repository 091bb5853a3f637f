package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campusreg/enroll-api/internal/models"
)

// Sentinel errors surfaced by conditional enrollment writes. Services map
// them onto the domain error taxonomy.
var (
	// ErrRegistrarConflict means the (student, session) pair is already
	// owned by a different registrar.
	ErrRegistrarConflict = errors.New("enrollment: student claimed by another registrar")
	// ErrNotPending means the conditional decision update matched no
	// PENDING row.
	ErrNotPending = errors.New("enrollment: not in PENDING status")
)

// EnrollmentRepository handles persistence of enrollments and the claim rows
// that serialize registrar assignment.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `id, student_id, course_id, session_id, status, registrar_id, rejection_reason, special_request, created_at, updated_at`

const enrollmentDetailBase = `FROM enrollments e
LEFT JOIN students st ON st.id = e.student_id
LEFT JOIN courses c ON c.id = e.course_id
LEFT JOIN sessions s ON s.id = e.session_id`

const enrollmentDetailSelect = `SELECT e.id, e.student_id, e.course_id, e.session_id, e.status, e.registrar_id,
        e.rejection_reason, e.special_request, e.created_at, e.updated_at,
        CONCAT(st.first_name, ' ', st.last_name) AS student_name, st.reg_number AS student_reg_number,
        c.code AS course_code, c.title AS course_title, s.name AS session_name`

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with contextual info.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	query := fmt.Sprintf("%s %s WHERE e.id = $1", enrollmentDetailSelect, enrollmentDetailBase)
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.SessionID != "" {
		conditions = append(conditions, fmt.Sprintf("e.session_id = $%d", len(args)+1))
		args = append(args, filter.SessionID)
	}
	if filter.RegistrarID != "" {
		conditions = append(conditions, fmt.Sprintf("e.registrar_id = $%d", len(args)+1))
		args = append(args, filter.RegistrarID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":   "e.created_at",
		"student_name": "st.last_name",
		"course_code":  "c.code",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
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

	query := fmt.Sprintf("%s %s ORDER BY %s %s LIMIT %d OFFSET %d", enrollmentDetailSelect, enrollmentDetailBase+clause, orderBy, order, size, offset)
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", enrollmentDetailBase+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// ListDetailsBySession returns all enrollments of a session with contextual
// info, ordered for roster exports.
func (r *EnrollmentRepository) ListDetailsBySession(ctx context.Context, sessionID string) ([]models.EnrollmentDetail, error) {
	query := fmt.Sprintf("%s %s WHERE e.session_id = $1 ORDER BY st.last_name, c.code", enrollmentDetailSelect, enrollmentDetailBase)
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, sessionID); err != nil {
		return nil, fmt.Errorf("list session enrollments: %w", err)
	}
	return enrollments, nil
}

// ExistsForStudentInSession reports whether the student holds any enrollment
// in the session.
func (r *EnrollmentRepository) ExistsForStudentInSession(ctx context.Context, studentID, sessionID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND session_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, sessionID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check session enrollment: %w", err)
	}
	return true, nil
}

// Create persists a new enrollment request in PENDING status.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	enrollment.CreatedAt = now
	enrollment.UpdatedAt = now
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusPending
	}
	const query = `INSERT INTO enrollments (id, student_id, course_id, session_id, status, registrar_id, rejection_reason, special_request, created_at, updated_at)
        VALUES (:id, :student_id, :course_id, :session_id, :status, :registrar_id, :rejection_reason, :special_request, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// Decide applies an approve or reject decision in a single transaction. The
// claim row's unique (student_id, session_id) key serializes concurrent
// registrars: the upsert returns the owning registrar, and a mismatch aborts
// with ErrRegistrarConflict before the enrollment row is touched. The
// decision then updates the enrollment conditionally on PENDING status and
// propagates the registrar onto sibling PENDING, unassigned enrollments.
func (r *EnrollmentRepository) Decide(ctx context.Context, enrollment *models.Enrollment, status models.EnrollmentStatus, registrarID string, reason *string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin decision: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()

	const claimQuery = `INSERT INTO registrar_claims (id, student_id, session_id, registrar_id, claimed_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $5)
        ON CONFLICT (student_id, session_id) DO UPDATE SET updated_at = EXCLUDED.updated_at
        RETURNING registrar_id`
	var owner string
	if err := tx.GetContext(ctx, &owner, claimQuery, uuid.NewString(), enrollment.StudentID, enrollment.SessionID, registrarID, now); err != nil {
		return fmt.Errorf("upsert registrar claim: %w", err)
	}
	if owner != registrarID {
		return ErrRegistrarConflict
	}

	const decideQuery = `UPDATE enrollments SET status = $2, registrar_id = $3, rejection_reason = $4, updated_at = $5
        WHERE id = $1 AND status = $6`
	res, err := tx.ExecContext(ctx, decideQuery, enrollment.ID, status, registrarID, reason, now, models.EnrollmentStatusPending)
	if err != nil {
		return fmt.Errorf("decide enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decide enrollment rows: %w", err)
	}
	if affected == 0 {
		return ErrNotPending
	}

	const propagateQuery = `UPDATE enrollments SET registrar_id = $3, updated_at = $4
        WHERE student_id = $1 AND session_id = $2 AND status = $5 AND registrar_id IS NULL`
	if _, err := tx.ExecContext(ctx, propagateQuery, enrollment.StudentID, enrollment.SessionID, registrarID, now, models.EnrollmentStatusPending); err != nil {
		return fmt.Errorf("propagate registrar: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit decision: %w", err)
	}
	return nil
}

// Cancel flips a non-terminal enrollment to CANCELLED. Returns sql.ErrNoRows
// when the enrollment already reached a terminal state.
func (r *EnrollmentRepository) Cancel(ctx context.Context, id string) error {
	const query = `UPDATE enrollments SET status = $2, updated_at = $3 WHERE id = $1 AND status IN ($4, $5, $6)`
	res, err := r.db.ExecContext(ctx, query, id, models.EnrollmentStatusCancelled, time.Now().UTC(),
		models.EnrollmentStatusPending, models.EnrollmentStatusApproved, models.EnrollmentStatusActive)
	if err != nil {
		return fmt.Errorf("cancel enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cancel enrollment rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ApplySessionTransition writes the session status and runs the enrollment
// cascade in one transaction. A row failure aborts the whole transition so
// no partial cascade is observable.
func (r *EnrollmentRepository) ApplySessionTransition(ctx context.Context, sessionID string, status models.SessionStatus, from, to models.EnrollmentStatus) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session transition: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()

	const sessionQuery = `UPDATE sessions SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, sessionQuery, sessionID, status, now); err != nil {
		return fmt.Errorf("update session status: %w", err)
	}

	const cascadeQuery = `UPDATE enrollments SET status = $3, updated_at = $4 WHERE session_id = $1 AND status = $2`
	if _, err := tx.ExecContext(ctx, cascadeQuery, sessionID, from, to, now); err != nil {
		return fmt.Errorf("cascade enrollments: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session transition: %w", err)
	}
	return nil
}
