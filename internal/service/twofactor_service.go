package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type twoFactorRepository interface {
	FindByUser(ctx context.Context, userID string) (*models.TwoFactorSettings, error)
	Upsert(ctx context.Context, settings *models.TwoFactorSettings) error
	Delete(ctx context.Context, userID string) error
	ReplaceRecoveryCodes(ctx context.Context, userID string, codes []models.RecoveryCode) error
	ListRecoveryCodes(ctx context.Context, userID string) ([]models.RecoveryCode, error)
	ConsumeRecoveryCode(ctx context.Context, id string) (bool, error)
	DeleteRecoveryCodes(ctx context.Context, userID string) error
}

type twoFactorUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

const recoveryCodeCount = 10

// TwoFactorService manages TOTP enrollment and verification. Setup issues a
// secret in PENDING_CONFIRMATION; a valid code flips it to ENABLED and mints
// single-use recovery codes.
type TwoFactorService struct {
	repo   twoFactorRepository
	users  twoFactorUserReader
	audit  auditRecorder
	issuer string
	logger *zap.Logger
}

// NewTwoFactorService constructs TwoFactorService. Issuer is the label shown
// in authenticator apps.
func NewTwoFactorService(repo twoFactorRepository, users twoFactorUserReader, audit auditRecorder, issuer string, logger *zap.Logger) *TwoFactorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if issuer == "" {
		issuer = "lms-api"
	}
	return &TwoFactorService{repo: repo, users: users, audit: audit, issuer: issuer, logger: logger}
}

// Status returns the user's current two-factor state. A missing row reads as
// UNCONFIGURED.
func (s *TwoFactorService) Status(ctx context.Context, userID string) (*models.TwoFactorSettings, error) {
	settings, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.TwoFactorSettings{UserID: userID, Status: models.TwoFactorUnconfigured}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load two-factor settings")
	}
	return settings, nil
}

// Setup provisions a fresh TOTP secret. Re-running setup replaces any
// pending secret; an already enabled configuration must be disabled first.
func (s *TwoFactorService) Setup(ctx context.Context, userID string) (*models.TwoFactorSetupResponse, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	existing, err := s.repo.FindByUser(ctx, userID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load two-factor settings")
	}
	if existing.Enabled() {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "two-factor is already enabled")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: user.Email,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate secret")
	}

	settings := &models.TwoFactorSettings{
		UserID: userID,
		Status: models.TwoFactorPending,
		Secret: key.Secret(),
	}
	if err := s.repo.Upsert(ctx, settings); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store two-factor settings")
	}

	return &models.TwoFactorSetupResponse{
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
		Status:     models.TwoFactorPending,
	}, nil
}

// Confirm verifies a code against the pending secret and enables two-factor.
// The plain recovery codes are returned exactly once.
func (s *TwoFactorService) Confirm(ctx context.Context, userID, code string) (*models.TwoFactorConfirmResponse, error) {
	settings, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "two-factor setup has not been started")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load two-factor settings")
	}
	if settings.Status != models.TwoFactorPending {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "two-factor is not pending confirmation")
	}
	if !validateTOTP(code, settings.Secret) {
		return nil, appErrors.Clone(appErrors.ErrTwoFactorInvalid, "")
	}

	plainCodes, hashedCodes, err := generateRecoveryCodes(recoveryCodeCount)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate recovery codes")
	}

	now := time.Now().UTC()
	settings.Status = models.TwoFactorEnabled
	settings.ConfirmedAt = &now
	if err := s.repo.Upsert(ctx, settings); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enable two-factor")
	}
	if err := s.repo.ReplaceRecoveryCodes(ctx, userID, hashedCodes); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store recovery codes")
	}

	s.record(userID, models.AuditActionTwoFactorEnable)

	return &models.TwoFactorConfirmResponse{
		Status:        models.TwoFactorEnabled,
		RecoveryCodes: plainCodes,
	}, nil
}

// Disable removes the user's two-factor configuration and recovery codes. A
// current code is required so a hijacked session cannot silently weaken the
// account.
func (s *TwoFactorService) Disable(ctx context.Context, userID, code string) error {
	settings, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "two-factor is not configured")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load two-factor settings")
	}
	if settings.Enabled() {
		ok, err := s.VerifyLoginCode(ctx, userID, code)
		if err != nil {
			return err
		}
		if !ok {
			return appErrors.Clone(appErrors.ErrTwoFactorInvalid, "")
		}
	}
	if err := s.repo.DeleteRecoveryCodes(ctx, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove recovery codes")
	}
	if err := s.repo.Delete(ctx, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove two-factor settings")
	}
	return nil
}

// Required reports whether a login code is mandatory for the user.
func (s *TwoFactorService) Required(ctx context.Context, userID string) (bool, error) {
	settings, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return settings.Enabled(), nil
}

// VerifyLoginCode accepts either a current TOTP code or an unused recovery
// code. Recovery codes are consumed on use.
func (s *TwoFactorService) VerifyLoginCode(ctx context.Context, userID, code string) (bool, error) {
	settings, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if !settings.Enabled() {
		return false, nil
	}
	if validateTOTP(code, settings.Secret) {
		return true, nil
	}

	codes, err := s.repo.ListRecoveryCodes(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, recovery := range codes {
		if bcrypt.CompareHashAndPassword([]byte(recovery.CodeHash), []byte(code)) != nil {
			continue
		}
		consumed, err := s.repo.ConsumeRecoveryCode(ctx, recovery.ID)
		if err != nil {
			return false, err
		}
		if consumed {
			s.logger.Info("recovery code consumed", zap.String("user_id", userID))
			return true, nil
		}
		// A concurrent login already burned this code.
		return false, nil
	}
	return false, nil
}

func (s *TwoFactorService) record(userID, action string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "two_factor",
		ResourceID: &userID,
	})
}

// validateTOTP checks a code against the secret allowing one 30s step of
// clock drift in either direction.
func validateTOTP(code, secret string) bool {
	ok, err := totp.ValidateCustom(code, secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// generateRecoveryCodes mints n random codes, returning the plain values and
// their bcrypt-hashed rows.
func generateRecoveryCodes(n int) ([]string, []models.RecoveryCode, error) {
	plain := make([]string, 0, n)
	hashed := make([]models.RecoveryCode, 0, n)
	for i := 0; i < n; i++ {
		buf := make([]byte, 5)
		if _, err := rand.Read(buf); err != nil {
			return nil, nil, err
		}
		code := fmt.Sprintf("%05x-%05x", uint64(buf[0])<<8|uint64(buf[1]), uint64(buf[2])<<16|uint64(buf[3])<<8|uint64(buf[4]))
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return nil, nil, err
		}
		plain = append(plain, code)
		hashed = append(hashed, models.RecoveryCode{CodeHash: string(hash)})
	}
	return plain, hashed, nil
}
