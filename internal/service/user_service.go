package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type userRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Anonymize(ctx context.Context, id string) error
	RevokeUserRefreshTokens(ctx context.Context, userID string) error
}

type userEnrollmentReader interface {
	ListByUser(ctx context.Context, userID string) ([]models.EnrollmentDetail, error)
}

type userSubmissionReader interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.Submission, error)
}

type userAuditReader interface {
	ListByUser(ctx context.Context, userID string) ([]models.AuditLog, error)
	DetachUser(ctx context.Context, userID string) error
}

type userTwoFactorCleaner interface {
	Delete(ctx context.Context, userID string) error
	DeleteRecoveryCodes(ctx context.Context, userID string) error
}

// CreateUserRequest is an admin creating an account.
type CreateUserRequest struct {
	Email    string          `json:"email" validate:"required,email"`
	Password string          `json:"password" validate:"required,min=6"`
	FullName string          `json:"full_name" validate:"required,max=255"`
	Role     models.UserRole `json:"role" validate:"required,oneof=ADMIN INSTRUCTOR STUDENT"`
}

// UpdateUserRequest carries editable profile fields.
type UpdateUserRequest struct {
	Email    *string          `json:"email,omitempty" validate:"omitempty,email"`
	FullName *string          `json:"full_name,omitempty" validate:"omitempty,max=255"`
	Role     *models.UserRole `json:"role,omitempty" validate:"omitempty,oneof=ADMIN INSTRUCTOR STUDENT"`
	Active   *bool            `json:"active,omitempty"`
}

// UserService covers user administration plus the data-access and erasure
// flows. Erasure anonymizes rather than deletes: submissions and audit rows
// keep their foreign keys while every personal field is blanked.
type UserService struct {
	users       userRepository
	enrollments userEnrollmentReader
	submissions userSubmissionReader
	auditTrail  userAuditReader
	twoFactor   userTwoFactorCleaner
	audit       auditRecorder
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewUserService constructs UserService.
func NewUserService(users userRepository, enrollments userEnrollmentReader, submissions userSubmissionReader, auditTrail userAuditReader, twoFactor userTwoFactorCleaner, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *UserService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{
		users:       users,
		enrollments: enrollments,
		submissions: submissions,
		auditTrail:  auditTrail,
		twoFactor:   twoFactor,
		audit:       audit,
		validator:   validate,
		logger:      logger,
	}
}

// List returns users with pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.users.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return users, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one user.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// Create adds a user account.
func (s *UserService) Create(ctx context.Context, actorID string, req CreateUserRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}
	if _, err := s.users.FindByEmail(ctx, req.Email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already in use")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Email:        req.Email,
		PasswordHash: string(hash),
		FullName:     req.FullName,
		Role:         req.Role,
		Active:       true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	s.record(actorID, models.AuditActionUserCreate, user.ID, nil, user)
	return user, nil
}

// Update applies partial profile edits.
func (s *UserService) Update(ctx context.Context, actorID, id string, req UpdateUserRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	before := *user

	if req.Email != nil && *req.Email != user.Email {
		if _, err := s.users.FindByEmail(ctx, *req.Email); err == nil {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already in use")
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
		}
		user.Email = *req.Email
	}
	if req.FullName != nil {
		user.FullName = *req.FullName
	}
	if req.Role != nil {
		user.Role = *req.Role
	}
	if req.Active != nil {
		user.Active = *req.Active
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}
	// Deactivation kills live sessions immediately.
	if req.Active != nil && !*req.Active && before.Active {
		if err := s.users.RevokeUserRefreshTokens(ctx, id); err != nil {
			s.logger.Warn("failed to revoke sessions on deactivation", zap.Error(err))
		}
	}

	s.record(actorID, models.AuditActionUserUpdate, id, &before, user)
	return user, nil
}

// ExportAccount assembles the full data bundle for a subject access request.
func (s *UserService) ExportAccount(ctx context.Context, actorID, userID string) (*models.AccountExportBundle, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	enrollments, err := s.enrollments.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}
	submissions, err := s.submissions.ListByStudent(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submissions")
	}
	trail, err := s.auditTrail.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit trail")
	}

	s.record(actorID, models.AuditActionAccountExport, userID, nil, nil)

	return &models.AccountExportBundle{
		GeneratedAt: time.Now().UTC(),
		User:        *user,
		Enrollments: enrollments,
		Submissions: submissions,
		AuditTrail:  trail,
	}, nil
}

// Erase fulfils a right-to-be-forgotten request. The user row stays but all
// personal fields are blanked, sessions and two-factor material are dropped,
// and the audit trail is detached from the identity.
func (s *UserService) Erase(ctx context.Context, actorID, userID string) error {
	if _, err := s.Get(ctx, userID); err != nil {
		return err
	}

	if err := s.users.Anonymize(ctx, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to anonymize user")
	}
	if err := s.users.RevokeUserRefreshTokens(ctx, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke sessions")
	}
	if s.twoFactor != nil {
		if err := s.twoFactor.DeleteRecoveryCodes(ctx, userID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove recovery codes")
		}
		if err := s.twoFactor.Delete(ctx, userID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove two-factor settings")
		}
	}
	if err := s.auditTrail.DetachUser(ctx, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to detach audit trail")
	}

	s.record(actorID, models.AuditActionUserErase, userID, nil, nil)
	return nil
}

func (s *UserService) record(actorID, action, resourceID string, oldValue, newValue interface{}) {
	if s.audit == nil {
		return
	}
	entry := models.AuditLog{Action: action, Resource: "user", ResourceID: &resourceID}
	if actorID != "" {
		entry.UserID = &actorID
	}
	entry.OldValues = marshalAuditValue(oldValue)
	entry.NewValues = marshalAuditValue(newValue)
	s.audit.Record(entry)
}
