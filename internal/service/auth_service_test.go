package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type mockAuthUserRepo struct {
	users         map[string]*models.User
	refreshTokens map[string]*models.RefreshToken
	revokedAll    []string
}

func newMockAuthUserRepo(users ...*models.User) *mockAuthUserRepo {
	repo := &mockAuthUserRepo{
		users:         make(map[string]*models.User),
		refreshTokens: make(map[string]*models.RefreshToken),
	}
	for _, user := range users {
		repo.users[user.ID] = user
	}
	return repo
}

func (m *mockAuthUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (m *mockAuthUserRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	if user, ok := m.users[id]; ok {
		user.LastLogin = &ts
	}
	return nil
}

func (m *mockAuthUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	user, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = passwordHash
	return nil
}

func (m *mockAuthUserRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	m.revokedAll = append(m.revokedAll, userID)
	for _, token := range m.refreshTokens {
		if token.UserID == userID {
			token.Revoked = true
		}
	}
	return nil
}

func (m *mockAuthUserRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	copied := *token
	m.refreshTokens[token.Token] = &copied
	return nil
}

func (m *mockAuthUserRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	stored, ok := m.refreshTokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return stored, nil
}

func (m *mockAuthUserRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, token := range m.refreshTokens {
		if token.ID == id {
			token.Revoked = true
			token.RevokedAt = &revokedAt
		}
	}
	return nil
}

type stubLoginVerifier struct {
	required bool
	accept   string
}

func (s *stubLoginVerifier) Required(ctx context.Context, userID string) (bool, error) {
	return s.required, nil
}

func (s *stubLoginVerifier) VerifyLoginCode(ctx context.Context, userID, code string) (bool, error) {
	return code == s.accept, nil
}

func authUser(t *testing.T, password string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.User{
		ID:           "user-1",
		Email:        "ada@example.com",
		PasswordHash: string(hash),
		FullName:     "Ada Lovelace",
		Role:         models.RoleStudent,
		Active:       true,
	}
}

func authConfigFixture() AuthConfig {
	return AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "lms-test",
		Audience:           []string{"lms"},
	}
}

func TestLoginIssuesValidTokens(t *testing.T) {
	repo := newMockAuthUserRepo(authUser(t, "correct horse"))
	svc := NewAuthService(repo, nil, nil, nil, nil, authConfigFixture())

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "ada@example.com",
		Password: "correct horse",
		IP:       "203.0.113.7",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "user-1", resp.User.ID)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleStudent, claims.Role)

	stored, ok := repo.refreshTokens[resp.RefreshToken]
	require.True(t, ok)
	assert.Equal(t, "203.0.113.7", stored.IPAddress)
	require.NotNil(t, repo.users["user-1"].LastLogin)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	repo := newMockAuthUserRepo(authUser(t, "correct horse"))
	svc := NewAuthService(repo, nil, nil, nil, nil, authConfigFixture())

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "ada@example.com",
		Password: "wrong",
	})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErr.Code)
}

func TestLoginTwoFactorGate(t *testing.T) {
	repo := newMockAuthUserRepo(authUser(t, "correct horse"))
	verifier := &stubLoginVerifier{required: true, accept: "123456"}
	svc := NewAuthService(repo, verifier, nil, nil, nil, authConfigFixture())

	base := models.LoginRequest{Email: "ada@example.com", Password: "correct horse"}

	// Valid password but no code: the client must be told a code is needed.
	_, err := svc.Login(context.Background(), base)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrTwoFactorRequired.Code, appErr.Code)

	bad := base
	bad.OTPCode = "999999"
	_, err = svc.Login(context.Background(), bad)
	require.Error(t, err)
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrTwoFactorInvalid.Code, appErr.Code)

	good := base
	good.OTPCode = "123456"
	resp, err := svc.Login(context.Background(), good)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
}

func TestLoginSingleSessionRevokesPriorTokens(t *testing.T) {
	repo := newMockAuthUserRepo(authUser(t, "correct horse"))
	config := authConfigFixture()
	config.SingleSession = true
	svc := NewAuthService(repo, nil, nil, nil, nil, config)

	req := models.LoginRequest{Email: "ada@example.com", Password: "correct horse"}
	first, err := svc.Login(context.Background(), req)
	require.NoError(t, err)
	_, err = svc.Login(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, repo.refreshTokens[first.RefreshToken].Revoked)
}

func TestRefreshTokenRotates(t *testing.T) {
	repo := newMockAuthUserRepo(authUser(t, "correct horse"))
	svc := NewAuthService(repo, nil, nil, nil, nil, authConfigFixture())

	login, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "ada@example.com",
		Password: "correct horse",
	})
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	// The used token is revoked and cannot be replayed.
	assert.True(t, repo.refreshTokens[login.RefreshToken].Revoked)
	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
}

func TestRefreshTokenRejectsExpired(t *testing.T) {
	repo := newMockAuthUserRepo(authUser(t, "correct horse"))
	svc := NewAuthService(repo, nil, nil, nil, nil, authConfigFixture())

	repo.refreshTokens["stale"] = &models.RefreshToken{
		ID:        "rt-1",
		UserID:    "user-1",
		Token:     "stale",
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}

	_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "stale"})
	require.Error(t, err)
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	repo := newMockAuthUserRepo(authUser(t, "correct horse"))
	svc := NewAuthService(repo, nil, nil, nil, nil, authConfigFixture())

	err := svc.ChangePassword(context.Background(), "user-1", models.ChangePasswordRequest{
		OldPassword: "correct horse",
		NewPassword: "battery staple",
	})
	require.NoError(t, err)
	assert.Contains(t, repo.revokedAll, "user-1")

	// Old password no longer works, new one does.
	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "correct horse"})
	require.Error(t, err)
	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "ada@example.com", Password: "battery staple"})
	require.NoError(t, err)
}

func TestValidateTokenRejectsTampered(t *testing.T) {
	repo := newMockAuthUserRepo(authUser(t, "correct horse"))
	svc := NewAuthService(repo, nil, nil, nil, nil, authConfigFixture())

	login, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "ada@example.com",
		Password: "correct horse",
	})
	require.NoError(t, err)

	other := NewAuthService(repo, nil, nil, nil, nil, AuthConfig{AccessTokenSecret: "different", AccessTokenExpiry: time.Minute})
	_, err = other.ValidateToken(login.AccessToken)
	require.Error(t, err)
}
