package models

import "time"

// SessionStatus represents the lifecycle of an academic session.
type SessionStatus string

// Session transitions are linear: UPCOMING -> ACTIVE -> CLOSED.
const (
	SessionStatusUpcoming SessionStatus = "UPCOMING"
	SessionStatusActive   SessionStatus = "ACTIVE"
	SessionStatusClosed   SessionStatus = "CLOSED"
)

// Session models an academic term. At most one session is ACTIVE at a time.
type Session struct {
	ID                 string        `db:"id" json:"id"`
	Name               string        `db:"name" json:"name"`
	StartDate          time.Time     `db:"start_date" json:"start_date"`
	EndDate            time.Time     `db:"end_date" json:"end_date"`
	EnrollmentDeadline time.Time     `db:"enrollment_deadline" json:"enrollment_deadline"`
	Status             SessionStatus `db:"status" json:"status"`
	CreatedAt          time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at" json:"updated_at"`
}

// SessionFilter defines filters supported by list endpoints.
type SessionFilter struct {
	Status   SessionStatus
	Page     int
	PageSize int
}
