package models

// Identity is the provider-side account record created by the saga.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// IdentitySession holds the tokens the provider issues on sign-up. The saga
// uses the access token for the role write, which is authorized as the new
// identity itself rather than as a service account.
type IdentitySession struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// RoleAssignment binds an identity to its user type in the provider's role
// table.
type RoleAssignment struct {
	IdentityID string   `json:"identity_id"`
	Role       UserType `json:"role"`
}
