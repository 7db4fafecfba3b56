package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
)

// TwoFactorRepository handles persistence of TOTP settings and recovery codes.
type TwoFactorRepository struct {
	db *sqlx.DB
}

// NewTwoFactorRepository constructs the repository.
func NewTwoFactorRepository(db *sqlx.DB) *TwoFactorRepository {
	return &TwoFactorRepository{db: db}
}

// FindByUser returns the user's settings row.
func (r *TwoFactorRepository) FindByUser(ctx context.Context, userID string) (*models.TwoFactorSettings, error) {
	const query = `SELECT user_id, status, secret, confirmed_at, created_at, updated_at
        FROM two_factor_settings WHERE user_id = $1`
	var settings models.TwoFactorSettings
	if err := r.db.GetContext(ctx, &settings, query, userID); err != nil {
		return nil, err
	}
	return &settings, nil
}

// Upsert stores or replaces the user's settings. A re-setup overwrites the
// previous secret and drops back to PENDING_CONFIRMATION.
func (r *TwoFactorRepository) Upsert(ctx context.Context, settings *models.TwoFactorSettings) error {
	now := time.Now().UTC()
	if settings.CreatedAt.IsZero() {
		settings.CreatedAt = now
	}
	settings.UpdatedAt = now
	const query = `INSERT INTO two_factor_settings (user_id, status, secret, confirmed_at, created_at, updated_at)
        VALUES (:user_id, :status, :secret, :confirmed_at, :created_at, :updated_at)
        ON CONFLICT (user_id) DO UPDATE SET status = EXCLUDED.status, secret = EXCLUDED.secret,
        confirmed_at = EXCLUDED.confirmed_at, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, settings); err != nil {
		return fmt.Errorf("upsert two-factor settings: %w", err)
	}
	return nil
}

// Delete removes the settings row entirely (disable).
func (r *TwoFactorRepository) Delete(ctx context.Context, userID string) error {
	const query = `DELETE FROM two_factor_settings WHERE user_id = $1`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("delete two-factor settings: %w", err)
	}
	return nil
}

// ReplaceRecoveryCodes deletes any existing codes and stores the new batch in
// one transaction.
func (r *TwoFactorRepository) ReplaceRecoveryCodes(ctx context.Context, userID string, codes []models.RecoveryCode) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace recovery codes: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM two_factor_recovery_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear recovery codes: %w", err)
	}
	const insert = `INSERT INTO two_factor_recovery_codes (id, user_id, code_hash, created_at)
        VALUES (:id, :user_id, :code_hash, :created_at)`
	now := time.Now().UTC()
	for i := range codes {
		if codes[i].ID == "" {
			codes[i].ID = uuid.NewString()
		}
		codes[i].UserID = userID
		codes[i].CreatedAt = now
		if _, err := tx.NamedExecContext(ctx, insert, codes[i]); err != nil {
			return fmt.Errorf("insert recovery code: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace recovery codes: %w", err)
	}
	return nil
}

// ListRecoveryCodes returns the user's unused codes.
func (r *TwoFactorRepository) ListRecoveryCodes(ctx context.Context, userID string) ([]models.RecoveryCode, error) {
	const query = `SELECT id, user_id, code_hash, created_at FROM two_factor_recovery_codes WHERE user_id = $1`
	var codes []models.RecoveryCode
	if err := r.db.SelectContext(ctx, &codes, query, userID); err != nil {
		return nil, fmt.Errorf("list recovery codes: %w", err)
	}
	return codes, nil
}

// ConsumeRecoveryCode deletes one code row. The delete doubles as the
// single-use guard; it reports whether this call consumed the code.
func (r *TwoFactorRepository) ConsumeRecoveryCode(ctx context.Context, id string) (bool, error) {
	const query = `DELETE FROM two_factor_recovery_codes WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("consume recovery code: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume recovery code: %w", err)
	}
	return affected == 1, nil
}

// DeleteRecoveryCodes drops every code for a user (disable or erase).
func (r *TwoFactorRepository) DeleteRecoveryCodes(ctx context.Context, userID string) error {
	const query = `DELETE FROM two_factor_recovery_codes WHERE user_id = $1`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("delete recovery codes: %w", err)
	}
	return nil
}
