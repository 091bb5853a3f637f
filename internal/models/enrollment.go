package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses. REJECTED, CANCELLED and COMPLETED are terminal.
const (
	EnrollmentStatusPending   EnrollmentStatus = "PENDING"
	EnrollmentStatusApproved  EnrollmentStatus = "APPROVED"
	EnrollmentStatusActive    EnrollmentStatus = "ACTIVE"
	EnrollmentStatusRejected  EnrollmentStatus = "REJECTED"
	EnrollmentStatusCancelled EnrollmentStatus = "CANCELLED"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
)

// IsTerminal reports whether no further transition is permitted.
func (s EnrollmentStatus) IsTerminal() bool {
	switch s {
	case EnrollmentStatusRejected, EnrollmentStatusCancelled, EnrollmentStatusCompleted:
		return true
	}
	return false
}

// CascadeForSession maps a session transition onto the bulk enrollment
// transition it triggers. ok is false for session states without a cascade.
func CascadeForSession(status SessionStatus) (from, to EnrollmentStatus, ok bool) {
	switch status {
	case SessionStatusActive:
		return EnrollmentStatusApproved, EnrollmentStatusActive, true
	case SessionStatusClosed:
		return EnrollmentStatusActive, EnrollmentStatusCompleted, true
	}
	return "", "", false
}

// Enrollment captures a student's course registration within a session.
type Enrollment struct {
	ID              string           `db:"id" json:"id"`
	StudentID       string           `db:"student_id" json:"student_id"`
	CourseID        string           `db:"course_id" json:"course_id"`
	SessionID       string           `db:"session_id" json:"session_id"`
	Status          EnrollmentStatus `db:"status" json:"status"`
	RegistrarID     *string          `db:"registrar_id" json:"registrar_id,omitempty"`
	RejectionReason *string          `db:"rejection_reason" json:"rejection_reason,omitempty"`
	SpecialRequest  bool             `db:"special_request" json:"special_request"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with student and course info.
type EnrollmentDetail struct {
	Enrollment
	StudentName      string `db:"student_name" json:"student_name"`
	StudentRegNumber string `db:"student_reg_number" json:"student_reg_number"`
	CourseCode       string `db:"course_code" json:"course_code"`
	CourseTitle      string `db:"course_title" json:"course_title"`
	SessionName      string `db:"session_name" json:"session_name"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID   string
	CourseID    string
	SessionID   string
	RegistrarID string
	Status      EnrollmentStatus
	Page        int
	PageSize    int
	SortBy      string
	SortOrder   string
}
