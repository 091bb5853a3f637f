package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/campusreg/enroll-api/internal/models"
	appErrors "github.com/campusreg/enroll-api/pkg/errors"
)

type mockAuthUserRepo struct {
	users         map[string]*models.User
	refreshTokens map[string]*models.RefreshToken
	revoked       []string
	auditActions  []string
}

func newMockAuthUserRepo() *mockAuthUserRepo {
	return &mockAuthUserRepo{
		users:         make(map[string]*models.User),
		refreshTokens: make(map[string]*models.RefreshToken),
	}
}

func (m *mockAuthUserRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			copy := *u
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthUserRepo) FindByID(_ context.Context, id string) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *u
	return &copy, nil
}

func (m *mockAuthUserRepo) UpdateLastLogin(_ context.Context, _ string, _ time.Time) error {
	return nil
}

func (m *mockAuthUserRepo) UpdatePassword(_ context.Context, id, passwordHash string, _ time.Time) error {
	if u, ok := m.users[id]; ok {
		u.PasswordHash = passwordHash
	}
	return nil
}

func (m *mockAuthUserRepo) RevokeUserRefreshTokens(_ context.Context, userID string) error {
	for _, t := range m.refreshTokens {
		if t.UserID == userID {
			t.Revoked = true
		}
	}
	return nil
}

func (m *mockAuthUserRepo) CreateRefreshToken(_ context.Context, token *models.RefreshToken) error {
	stored := *token
	m.refreshTokens[token.Token] = &stored
	return nil
}

func (m *mockAuthUserRepo) FindRefreshToken(_ context.Context, token string) (*models.RefreshToken, error) {
	t, ok := m.refreshTokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *t
	return &copy, nil
}

func (m *mockAuthUserRepo) RevokeRefreshToken(_ context.Context, id string, _ time.Time) error {
	m.revoked = append(m.revoked, id)
	for _, t := range m.refreshTokens {
		if t.ID == id {
			t.Revoked = true
		}
	}
	return nil
}

func (m *mockAuthUserRepo) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	m.auditActions = append(m.auditActions, log.Action)
	return nil
}

func newAuthTestService(repo *mockAuthUserRepo) *AuthService {
	return NewAuthService(repo, nil, nil, AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "enroll-api-test",
	})
}

func seedUser(repo *mockAuthUserRepo, password string, active bool) *models.User {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	user := &models.User{
		ID:           "usr-1",
		Email:        "admin@uni.edu",
		PasswordHash: string(hash),
		FullName:     "Admin One",
		Role:         models.RoleAdmin,
		Active:       active,
	}
	repo.users[user.ID] = user
	return user
}

func TestAuthServiceLogin(t *testing.T) {
	repo := newMockAuthUserRepo()
	seedUser(repo, "s3cretpass", true)
	svc := newAuthTestService(repo)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@uni.edu", Password: "s3cretpass"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, models.RoleAdmin, resp.User.Role)
	assert.Contains(t, repo.auditActions, models.AuditActionLogin)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "usr-1", claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	repo := newMockAuthUserRepo()
	seedUser(repo, "s3cretpass", true)
	svc := newAuthTestService(repo)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@uni.edu", Password: "wrong-pass"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErr.Code)
}

func TestAuthServiceLoginInactiveAccount(t *testing.T) {
	repo := newMockAuthUserRepo()
	seedUser(repo, "s3cretpass", false)
	svc := newAuthTestService(repo)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@uni.edu", Password: "s3cretpass"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErr.Code)
}

func TestAuthServiceRefreshRotatesToken(t *testing.T) {
	repo := newMockAuthUserRepo()
	seedUser(repo, "s3cretpass", true)
	svc := newAuthTestService(repo)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@uni.edu", Password: "s3cretpass"})
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	// the used token is revoked so a second exchange with it fails
	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErr.Code)
}

func TestAuthServiceLogoutForeignToken(t *testing.T) {
	repo := newMockAuthUserRepo()
	seedUser(repo, "s3cretpass", true)
	svc := newAuthTestService(repo)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@uni.edu", Password: "s3cretpass"})
	require.NoError(t, err)

	err = svc.Logout(context.Background(), login.RefreshToken, "usr-other")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestAuthServiceChangePassword(t *testing.T) {
	repo := newMockAuthUserRepo()
	seedUser(repo, "s3cretpass", true)
	svc := newAuthTestService(repo)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@uni.edu", Password: "s3cretpass"})
	require.NoError(t, err)

	err = svc.ChangePassword(context.Background(), "usr-1", models.ChangePasswordRequest{
		OldPassword: "s3cretpass",
		NewPassword: "brandnewpass",
	})
	require.NoError(t, err)

	// password change revokes outstanding refresh tokens
	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "admin@uni.edu", Password: "brandnewpass"})
	require.NoError(t, err)
}

func TestAuthServiceValidateTokenWrongSecret(t *testing.T) {
	repo := newMockAuthUserRepo()
	seedUser(repo, "s3cretpass", true)
	svc := newAuthTestService(repo)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@uni.edu", Password: "s3cretpass"})
	require.NoError(t, err)

	other := NewAuthService(repo, nil, nil, AuthConfig{
		AccessTokenSecret: "different-secret",
		AccessTokenExpiry: time.Hour,
	})
	_, err = other.ValidateToken(login.AccessToken)
	require.Error(t, err)
}
