package models

import "time"

// Registrar is the domain profile of a registrar account, created on
// invitation acceptance.
type Registrar struct {
	ID         string    `db:"id" json:"id"`
	Email      string    `db:"email" json:"email"`
	FirstName  string    `db:"first_name" json:"first_name"`
	LastName   string    `db:"last_name" json:"last_name"`
	IdentityID *string   `db:"identity_id" json:"identity_id,omitempty"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
