package models

import "time"

// InvitationStatus represents the lifecycle of an invitation.
type InvitationStatus string

// Possible invitation statuses.
const (
	InvitationStatusPending   InvitationStatus = "PENDING"
	InvitationStatusAccepted  InvitationStatus = "ACCEPTED"
	InvitationStatusExpired   InvitationStatus = "EXPIRED"
	InvitationStatusCancelled InvitationStatus = "CANCELLED"
)

// UserType distinguishes the kind of account an invitation provisions.
type UserType string

const (
	UserTypeStudent   UserType = "STUDENT"
	UserTypeRegistrar UserType = "REGISTRAR"
)

// Invitation binds an email address to an intended role via a single-use,
// time-boxed token.
type Invitation struct {
	ID        string           `db:"id" json:"id"`
	Email     string           `db:"email" json:"email"`
	Token     string           `db:"token" json:"-"`
	UserType  UserType         `db:"user_type" json:"user_type"`
	Status    InvitationStatus `db:"status" json:"status"`
	ProfileID *string          `db:"profile_id" json:"profile_id,omitempty"`
	InvitedBy *string          `db:"invited_by" json:"invited_by,omitempty"`
	ExpiresAt time.Time        `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}

// IsAcceptable reports whether the invitation can still be redeemed.
func (i *Invitation) IsAcceptable(now time.Time) bool {
	return i.Status == InvitationStatusPending && now.Before(i.ExpiresAt)
}

// InvitationFilter provides filters for listing invitations.
type InvitationFilter struct {
	Email    string
	UserType UserType
	Status   InvitationStatus
	Page     int
	PageSize int
}
