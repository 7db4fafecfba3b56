package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type assignmentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
	List(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, int, error)
	Create(ctx context.Context, assignment *models.Assignment) error
	Update(ctx context.Context, assignment *models.Assignment) error
	Delete(ctx context.Context, id string) error
	ListCategories(ctx context.Context, courseID string) ([]models.GradeCategory, error)
	FindCategory(ctx context.Context, id string) (*models.GradeCategory, error)
	CreateCategory(ctx context.Context, category *models.GradeCategory) error
}

type assignmentCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// CreateAssignmentRequest describes a new assignment. MaxPoints of zero is
// legal and contributes nothing to grade denominators.
type CreateAssignmentRequest struct {
	GradeCategoryID *string    `json:"grade_category_id,omitempty"`
	Title           string     `json:"title" validate:"required,max=255"`
	Description     *string    `json:"description,omitempty"`
	MaxPoints       float64    `json:"max_points" validate:"min=0"`
	DueDate         *time.Time `json:"due_date,omitempty"`
	Published       bool       `json:"published"`
}

// UpdateAssignmentRequest carries editable assignment fields.
type UpdateAssignmentRequest struct {
	GradeCategoryID *string    `json:"grade_category_id,omitempty"`
	Title           *string    `json:"title,omitempty" validate:"omitempty,max=255"`
	Description     *string    `json:"description,omitempty"`
	MaxPoints       *float64   `json:"max_points,omitempty" validate:"omitempty,min=0"`
	DueDate         *time.Time `json:"due_date,omitempty"`
	Published       *bool      `json:"published,omitempty"`
}

// CreateCategoryRequest creates a grade category. Weight and drop-lowest are
// stored for future use; the aggregator does not apply them.
type CreateCategoryRequest struct {
	Name            string  `json:"name" validate:"required,max=128"`
	Weight          float64 `json:"weight" validate:"min=0,max=1"`
	DropLowestCount int     `json:"drop_lowest_count" validate:"min=0"`
}

// AssignmentService manages gradable items and their categories.
type AssignmentService struct {
	assignments assignmentRepository
	courses     assignmentCourseReader
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewAssignmentService constructs AssignmentService.
func NewAssignmentService(assignments assignmentRepository, courses assignmentCourseReader, validate *validator.Validate, logger *zap.Logger) *AssignmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentService{assignments: assignments, courses: courses, validator: validate, logger: logger}
}

// List returns assignments with pagination metadata.
func (s *AssignmentService) List(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, *models.Pagination, error) {
	assignments, total, err := s.assignments.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return assignments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one assignment.
func (s *AssignmentService) Get(ctx context.Context, id string) (*models.Assignment, error) {
	assignment, err := s.assignments.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	return assignment, nil
}

// Create adds an assignment to a course.
func (s *AssignmentService) Create(ctx context.Context, courseID string, req CreateAssignmentRequest) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if req.GradeCategoryID != nil {
		if err := s.checkCategory(ctx, courseID, *req.GradeCategoryID); err != nil {
			return nil, err
		}
	}
	assignment := &models.Assignment{
		CourseID:        courseID,
		GradeCategoryID: req.GradeCategoryID,
		Title:           req.Title,
		Description:     req.Description,
		MaxPoints:       req.MaxPoints,
		DueDate:         req.DueDate,
		Published:       req.Published,
	}
	if err := s.assignments.Create(ctx, assignment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create assignment")
	}
	return assignment, nil
}

// Update applies partial edits to an assignment.
func (s *AssignmentService) Update(ctx context.Context, id string, req UpdateAssignmentRequest) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	assignment, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.GradeCategoryID != nil {
		if err := s.checkCategory(ctx, assignment.CourseID, *req.GradeCategoryID); err != nil {
			return nil, err
		}
		assignment.GradeCategoryID = req.GradeCategoryID
	}
	if req.Title != nil {
		assignment.Title = *req.Title
	}
	if req.Description != nil {
		assignment.Description = req.Description
	}
	if req.MaxPoints != nil {
		assignment.MaxPoints = *req.MaxPoints
	}
	if req.DueDate != nil {
		assignment.DueDate = req.DueDate
	}
	if req.Published != nil {
		assignment.Published = *req.Published
	}
	if err := s.assignments.Update(ctx, assignment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update assignment")
	}
	return assignment, nil
}

// Delete removes an assignment.
func (s *AssignmentService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.assignments.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete assignment")
	}
	return nil
}

// ListCategories returns a course's grade categories.
func (s *AssignmentService) ListCategories(ctx context.Context, courseID string) ([]models.GradeCategory, error) {
	categories, err := s.assignments.ListCategories(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list grade categories")
	}
	return categories, nil
}

// CreateCategory adds a grade category to a course.
func (s *AssignmentService) CreateCategory(ctx context.Context, courseID string, req CreateCategoryRequest) (*models.GradeCategory, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid category payload")
	}
	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	category := &models.GradeCategory{
		CourseID:        courseID,
		Name:            req.Name,
		Weight:          req.Weight,
		DropLowestCount: req.DropLowestCount,
	}
	if err := s.assignments.CreateCategory(ctx, category); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create grade category")
	}
	return category, nil
}

func (s *AssignmentService) checkCategory(ctx context.Context, courseID, categoryID string) error {
	category, err := s.assignments.FindCategory(ctx, categoryID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "grade category not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grade category")
	}
	if category.CourseID != courseID {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "category does not belong to course")
	}
	return nil
}
