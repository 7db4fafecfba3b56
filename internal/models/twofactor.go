package models

import "time"

// TwoFactorStatus tracks the lifecycle of a user's TOTP configuration.
type TwoFactorStatus string

const (
	// TwoFactorUnconfigured means no secret has been provisioned.
	TwoFactorUnconfigured TwoFactorStatus = "UNCONFIGURED"
	// TwoFactorPending means a secret exists but has not been confirmed
	// with a valid code yet.
	TwoFactorPending TwoFactorStatus = "PENDING_CONFIRMATION"
	// TwoFactorEnabled means codes are required at login.
	TwoFactorEnabled TwoFactorStatus = "ENABLED"
)

// TwoFactorSettings stores a user's TOTP secret and recovery material.
type TwoFactorSettings struct {
	UserID      string          `db:"user_id" json:"user_id"`
	Status      TwoFactorStatus `db:"status" json:"status"`
	Secret      string          `db:"secret" json:"-"`
	ConfirmedAt *time.Time      `db:"confirmed_at" json:"confirmed_at,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Enabled reports whether codes are currently required for the user.
func (s *TwoFactorSettings) Enabled() bool {
	return s != nil && s.Status == TwoFactorEnabled
}

// RecoveryCode is a single-use fallback credential. The code itself is
// stored hashed; a row is deleted when consumed.
type RecoveryCode struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	CodeHash  string    `db:"code_hash" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TwoFactorSetupResponse returns provisioning material for the authenticator app.
type TwoFactorSetupResponse struct {
	Secret     string          `json:"secret"`
	OTPAuthURL string          `json:"otpauth_url"`
	Status     TwoFactorStatus `json:"status"`
}

// TwoFactorConfirmResponse returns the freshly generated recovery codes.
// The plain codes are shown exactly once.
type TwoFactorConfirmResponse struct {
	Status        TwoFactorStatus `json:"status"`
	RecoveryCodes []string        `json:"recovery_codes"`
}
