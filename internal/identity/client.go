package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/campusreg/enroll-api/internal/models"
	"github.com/campusreg/enroll-api/pkg/config"
)

// ErrEmailRegistered signals that the provider already holds an identity for
// the address. Callers treat it as terminal without compensation.
var ErrEmailRegistered = errors.New("identity: email already registered")

// Client talks to the external identity provider over HTTP. Account
// management calls authenticate with the service key; role writes
// authenticate as the identity being onboarded.
type Client struct {
	baseURL    string
	serviceKey string
	roleTable  string
	http       *http.Client
	logger     *zap.Logger
}

// NewClient constructs a provider client from configuration.
func NewClient(cfg config.IdentityConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	roleTable := cfg.RoleTable
	if roleTable == "" {
		roleTable = "user_roles"
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		serviceKey: cfg.ServiceKey,
		roleTable:  roleTable,
		http:       &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpResponse struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type apiError struct {
	Msg     string `json:"msg"`
	Message string `json:"message"`
}

func (e apiError) text() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Message
}

// SignUp registers a new identity and returns it along with the session the
// provider issued for it.
func (c *Client) SignUp(ctx context.Context, email, password string) (*models.Identity, *models.IdentitySession, error) {
	payload, err := json.Marshal(signUpRequest{Email: email, Password: password})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal sign-up payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/signup", bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("build sign-up request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("sign-up request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := readAPIError(resp.Body)
		if resp.StatusCode == http.StatusUnprocessableEntity || strings.Contains(strings.ToLower(apiErr.text()), "already registered") {
			return nil, nil, ErrEmailRegistered
		}
		return nil, nil, fmt.Errorf("sign-up failed with status %d: %s", resp.StatusCode, apiErr.text())
	}

	var body signUpResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, nil, fmt.Errorf("decode sign-up response: %w", err)
	}

	identity := &models.Identity{ID: body.ID, Email: body.Email}
	session := &models.IdentitySession{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		TokenType:    body.TokenType,
		ExpiresIn:    body.ExpiresIn,
	}
	return identity, session, nil
}

// Delete removes an identity using the service key. Used as saga
// compensation after a downstream step fails.
func (c *Client) Delete(ctx context.Context, identityID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/admin/users/"+url.PathEscape(identityID), nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete identity request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("delete identity failed with status %d: %s", resp.StatusCode, readAPIError(resp.Body).text())
	}
	return nil
}

// AssignRole writes the role record authenticated as the new identity's own
// session token. Role-write authorization is scoped to the identity
// performing its own onboarding.
func (c *Client) AssignRole(ctx context.Context, assignment models.RoleAssignment, accessToken string) error {
	payload, err := json.Marshal(map[string]string{
		"identity_id": assignment.IdentityID,
		"role":        string(assignment.Role),
	})
	if err != nil {
		return fmt.Errorf("marshal role payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rest/v1/"+c.roleTable, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build role request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("assign role request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("assign role failed with status %d: %s", resp.StatusCode, readAPIError(resp.Body).text())
	}
	return nil
}

// RemoveRole deletes the role record for an identity using the service key.
// Used as saga compensation.
func (c *Client) RemoveRole(ctx context.Context, identityID string) error {
	target := fmt.Sprintf("%s/rest/v1/%s?identity_id=eq.%s", c.baseURL, c.roleTable, url.QueryEscape(identityID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return fmt.Errorf("build remove role request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remove role request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remove role failed with status %d: %s", resp.StatusCode, readAPIError(resp.Body).text())
	}
	return nil
}

func readAPIError(r io.Reader) apiError {
	var apiErr apiError
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return apiErr
	}
	if err := json.Unmarshal(raw, &apiErr); err != nil {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}
