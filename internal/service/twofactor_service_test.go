package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type mockTwoFactorRepo struct {
	settings map[string]*models.TwoFactorSettings
	codes    []models.RecoveryCode
}

func newMockTwoFactorRepo() *mockTwoFactorRepo {
	return &mockTwoFactorRepo{settings: make(map[string]*models.TwoFactorSettings)}
}

func (m *mockTwoFactorRepo) FindByUser(ctx context.Context, userID string) (*models.TwoFactorSettings, error) {
	settings, ok := m.settings[userID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *settings
	return &copied, nil
}

func (m *mockTwoFactorRepo) Upsert(ctx context.Context, settings *models.TwoFactorSettings) error {
	copied := *settings
	m.settings[settings.UserID] = &copied
	return nil
}

func (m *mockTwoFactorRepo) Delete(ctx context.Context, userID string) error {
	delete(m.settings, userID)
	return nil
}

func (m *mockTwoFactorRepo) ReplaceRecoveryCodes(ctx context.Context, userID string, codes []models.RecoveryCode) error {
	m.codes = nil
	for i, code := range codes {
		code.UserID = userID
		if code.ID == "" {
			code.ID = "rc-" + string(rune('a'+i))
		}
		m.codes = append(m.codes, code)
	}
	return nil
}

func (m *mockTwoFactorRepo) ListRecoveryCodes(ctx context.Context, userID string) ([]models.RecoveryCode, error) {
	var out []models.RecoveryCode
	for _, code := range m.codes {
		if code.UserID == userID {
			out = append(out, code)
		}
	}
	return out, nil
}

func (m *mockTwoFactorRepo) ConsumeRecoveryCode(ctx context.Context, id string) (bool, error) {
	for i, code := range m.codes {
		if code.ID == id {
			m.codes = append(m.codes[:i], m.codes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *mockTwoFactorRepo) DeleteRecoveryCodes(ctx context.Context, userID string) error {
	var kept []models.RecoveryCode
	for _, code := range m.codes {
		if code.UserID != userID {
			kept = append(kept, code)
		}
	}
	m.codes = kept
	return nil
}

type mockTwoFactorUsers struct {
	users map[string]*models.User
}

func (m *mockTwoFactorUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func newTwoFactorFixture() (*TwoFactorService, *mockTwoFactorRepo) {
	repo := newMockTwoFactorRepo()
	users := &mockTwoFactorUsers{users: map[string]*models.User{
		"user-1": {ID: "user-1", Email: "ada@example.com", Active: true},
	}}
	return NewTwoFactorService(repo, users, nil, "lms-test", nil), repo
}

func TestSetupThenConfirmEnables(t *testing.T) {
	svc, repo := newTwoFactorFixture()
	ctx := context.Background()

	setup, err := svc.Setup(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.TwoFactorPending, setup.Status)
	assert.NotEmpty(t, setup.Secret)
	assert.Contains(t, setup.OTPAuthURL, "otpauth://")

	code, err := totp.GenerateCode(setup.Secret, time.Now().UTC())
	require.NoError(t, err)

	confirmed, err := svc.Confirm(ctx, "user-1", code)
	require.NoError(t, err)
	assert.Equal(t, models.TwoFactorEnabled, confirmed.Status)
	assert.Len(t, confirmed.RecoveryCodes, recoveryCodeCount)

	// Stored codes are hashed, never the plain values.
	stored, err := repo.ListRecoveryCodes(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, stored, recoveryCodeCount)
	for _, row := range stored {
		assert.NotContains(t, confirmed.RecoveryCodes, row.CodeHash)
	}

	required, err := svc.Required(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, required)
}

func TestConfirmRejectsWrongCode(t *testing.T) {
	svc, _ := newTwoFactorFixture()
	ctx := context.Background()

	_, err := svc.Setup(ctx, "user-1")
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, "user-1", "000000")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrTwoFactorInvalid.Code, appErr.Code)
}

func TestConfirmRequiresSetupFirst(t *testing.T) {
	svc, _ := newTwoFactorFixture()

	_, err := svc.Confirm(context.Background(), "user-1", "123456")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErr.Code)
}

func TestVerifyLoginCodeAcceptsTOTPAndRecovery(t *testing.T) {
	svc, _ := newTwoFactorFixture()
	ctx := context.Background()

	setup, err := svc.Setup(ctx, "user-1")
	require.NoError(t, err)
	code, err := totp.GenerateCode(setup.Secret, time.Now().UTC())
	require.NoError(t, err)
	confirmed, err := svc.Confirm(ctx, "user-1", code)
	require.NoError(t, err)

	ok, err := svc.VerifyLoginCode(ctx, "user-1", code)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.VerifyLoginCode(ctx, "user-1", "not-a-code")
	require.NoError(t, err)
	assert.False(t, ok)

	recovery := confirmed.RecoveryCodes[0]
	ok, err = svc.VerifyLoginCode(ctx, "user-1", recovery)
	require.NoError(t, err)
	assert.True(t, ok)

	// Recovery codes are single use.
	ok, err = svc.VerifyLoginCode(ctx, "user-1", recovery)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDisableRemovesSettingsAndCodes(t *testing.T) {
	svc, repo := newTwoFactorFixture()
	ctx := context.Background()

	setup, err := svc.Setup(ctx, "user-1")
	require.NoError(t, err)
	code, err := totp.GenerateCode(setup.Secret, time.Now().UTC())
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, "user-1", code)
	require.NoError(t, err)

	err = svc.Disable(ctx, "user-1", "000000")
	require.Error(t, err, "a wrong code must not disable two-factor")

	code, err = totp.GenerateCode(setup.Secret, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, svc.Disable(ctx, "user-1", code))

	required, err := svc.Required(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, required)
	assert.Empty(t, repo.codes)

	status, err := svc.Status(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.TwoFactorUnconfigured, status.Status)
}

func TestSetupRejectedWhenAlreadyEnabled(t *testing.T) {
	svc, _ := newTwoFactorFixture()
	ctx := context.Background()

	setup, err := svc.Setup(ctx, "user-1")
	require.NoError(t, err)
	code, err := totp.GenerateCode(setup.Secret, time.Now().UTC())
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, "user-1", code)
	require.NoError(t, err)

	_, err = svc.Setup(ctx, "user-1")
	require.Error(t, err)
}
