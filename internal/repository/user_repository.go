package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
)

// UserRepository handles persistence of users and refresh tokens.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository constructs the repository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = "id, email, password_hash, full_name, role, active, last_login, created_at, updated_at"

// FindByEmail returns a user by email.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE email = $1 LIMIT 1", userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByID returns a user by ID.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE id = $1 LIMIT 1", userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		return nil, err
	}
	return &user, nil
}

// List returns users matching the filter plus a total count.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.Role != nil {
		conditions = append(conditions, fmt.Sprintf("role = $%d", len(args)+1))
		args = append(args, *filter.Role)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(email ILIKE $%d OR full_name ILIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}

	clause := strings.Join(conditions, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s FROM users WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d", userColumns, clause, size, offset)
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM users WHERE %s", clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	return users, total, nil
}

// Create persists a new user.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	const query = `INSERT INTO users (id, email, password_hash, full_name, role, active, created_at, updated_at)
        VALUES (:id, :email, :password_hash, :full_name, :role, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// Update persists profile changes.
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()
	const query = `UPDATE users SET email = :email, full_name = :full_name, role = :role, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// UpdateLastLogin stamps the most recent login time.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE users SET last_login = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// UpdatePassword replaces the stored password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	const query = `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, passwordHash, updatedAt); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// Anonymize blanks personal fields and deactivates the account. The row is
// retained so foreign keys on submissions and audit records stay intact.
func (r *UserRepository) Anonymize(ctx context.Context, id string) error {
	const query = `UPDATE users SET email = $2, full_name = 'Deleted User', password_hash = '', active = FALSE, updated_at = $3 WHERE id = $1`
	anonEmail := fmt.Sprintf("deleted-%s@invalid.local", id)
	if _, err := r.db.ExecContext(ctx, query, id, anonEmail, time.Now().UTC()); err != nil {
		return fmt.Errorf("anonymize user: %w", err)
	}
	return nil
}

// CreateRefreshToken stores a refresh token session.
func (r *UserRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	const query = `INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at, revoked, ip_address, user_agent)
        VALUES (:id, :user_id, :token, :expires_at, :created_at, :revoked, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindRefreshToken returns an unrevoked refresh token by value.
func (r *UserRepository) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	const query = `SELECT id, user_id, token, expires_at, created_at, revoked, revoked_at, ip_address, user_agent
        FROM refresh_tokens WHERE token = $1 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, token); err != nil {
		return nil, err
	}
	return &rt, nil
}

// RevokeRefreshToken marks one token revoked.
func (r *UserRepository) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, revokedAt); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeUserRefreshTokens revokes every live session for a user.
func (r *UserRepository) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return nil
}
