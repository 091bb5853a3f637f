package models

import "time"

// Student is partially created at invite time (reg number, email, program)
// and completed on invitation acceptance (names, identity link).
type Student struct {
	ID              string    `db:"id" json:"id"`
	RegNumber       string    `db:"reg_number" json:"reg_number"`
	Email           string    `db:"email" json:"email"`
	FirstName       string    `db:"first_name" json:"first_name"`
	LastName        string    `db:"last_name" json:"last_name"`
	ProgramID       string    `db:"program_id" json:"program_id"`
	IdentityID      *string   `db:"identity_id" json:"identity_id,omitempty"`
	ProfileImageURL *string   `db:"profile_image_url" json:"profile_image_url,omitempty"`
	Active          bool      `db:"active" json:"active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// StudentDetail enriches Student with program info.
type StudentDetail struct {
	Student
	ProgramName string `db:"program_name" json:"program_name"`
}

// StudentFilter captures list filters for students.
type StudentFilter struct {
	ProgramID string `form:"program_id"`
	Active    *bool  `form:"active"`
	Search    string `form:"search"`
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
}
