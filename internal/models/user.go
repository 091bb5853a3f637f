package models

import "time"

// UserRole represents the available back-office roles for the RBAC system.
type UserRole string

const (
	RoleAdmin     UserRole = "ADMIN"
	RoleRegistrar UserRole = "REGISTRAR"
	RoleStudent   UserRole = "STUDENT"
)

// User represents a back-office account stored in the users table. Invited
// end users additionally hold an identity at the external provider.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	ProfileID    *string    `db:"profile_id" json:"profile_id,omitempty"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// UserFilter captures list filters for back-office accounts.
type UserFilter struct {
	Role      *UserRole `form:"role"`
	Active    *bool     `form:"active"`
	Search    string    `form:"search"`
	SortBy    string    `form:"sort_by"`
	SortOrder string    `form:"sort_order"`
	Page      int       `form:"page"`
	PageSize  int       `form:"page_size"`
}
