package models

import "time"

// RegistrarClaim records which registrar owns a student's decisions within a
// session. The (student_id, session_id) pair is unique at the store level,
// which makes the first-registrar-wins invariant atomic.
type RegistrarClaim struct {
	ID          string    `db:"id" json:"id"`
	StudentID   string    `db:"student_id" json:"student_id"`
	SessionID   string    `db:"session_id" json:"session_id"`
	RegistrarID string    `db:"registrar_id" json:"registrar_id"`
	ClaimedAt   time.Time `db:"claimed_at" json:"claimed_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
