package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
)

// GroupRepository handles persistence of course groups and memberships.
type GroupRepository struct {
	db *sqlx.DB
}

// NewGroupRepository constructs the repository.
func NewGroupRepository(db *sqlx.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

const groupColumns = `id, course_id, name, max_members, current_members, created_at, updated_at`

// FindByID returns a group by its ID.
func (r *GroupRepository) FindByID(ctx context.Context, id string) (*models.CourseGroup, error) {
	query := fmt.Sprintf("SELECT %s FROM course_groups WHERE id = $1", groupColumns)
	var group models.CourseGroup
	if err := r.db.GetContext(ctx, &group, query, id); err != nil {
		return nil, err
	}
	return &group, nil
}

// ListByCourse returns every group in a course.
func (r *GroupRepository) ListByCourse(ctx context.Context, courseID string) ([]models.CourseGroup, error) {
	query := fmt.Sprintf("SELECT %s FROM course_groups WHERE course_id = $1 ORDER BY name", groupColumns)
	var groups []models.CourseGroup
	if err := r.db.SelectContext(ctx, &groups, query, courseID); err != nil {
		return nil, fmt.Errorf("list course groups: %w", err)
	}
	return groups, nil
}

// Create persists a new group.
func (r *GroupRepository) Create(ctx context.Context, group *models.CourseGroup) error {
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	group.CreatedAt = now
	group.UpdatedAt = now
	const query = `INSERT INTO course_groups (id, course_id, name, max_members, current_members, created_at, updated_at)
        VALUES (:id, :course_id, :name, :max_members, :current_members, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, group); err != nil {
		return fmt.Errorf("create course group: %w", err)
	}
	return nil
}

// IncrementMembersGuarded takes one seat in the group while below
// max_members. It reports whether a seat was taken.
func (r *GroupRepository) IncrementMembersGuarded(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE course_groups SET current_members = current_members + 1, updated_at = $2
        WHERE id = $1 AND (max_members IS NULL OR current_members < max_members)`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("increment group members: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("increment group members: %w", err)
	}
	return affected == 1, nil
}

// DecrementMembers releases one seat with a floor of zero.
func (r *GroupRepository) DecrementMembers(ctx context.Context, id string) error {
	const query = `UPDATE course_groups SET current_members = GREATEST(current_members - 1, 0), updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("decrement group members: %w", err)
	}
	return nil
}

// AddMember records a group membership.
func (r *GroupRepository) AddMember(ctx context.Context, member *models.CourseGroupMember) error {
	if member.ID == "" {
		member.ID = uuid.NewString()
	}
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now().UTC()
	}
	const query = `INSERT INTO course_group_members (id, group_id, user_id, joined_at)
        VALUES (:id, :group_id, :user_id, :joined_at)`
	if _, err := r.db.NamedExecContext(ctx, query, member); err != nil {
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}

// RemoveMemberByUser drops a user's membership in any group of the course.
// Returns the number of memberships removed so callers can release seats.
func (r *GroupRepository) RemoveMemberByUser(ctx context.Context, courseID, userID string) ([]string, error) {
	const query = `DELETE FROM course_group_members m
        USING course_groups g
        WHERE m.group_id = g.id AND g.course_id = $1 AND m.user_id = $2
        RETURNING m.group_id`
	var groupIDs []string
	if err := r.db.SelectContext(ctx, &groupIDs, query, courseID, userID); err != nil {
		return nil, fmt.Errorf("remove group memberships: %w", err)
	}
	return groupIDs, nil
}
