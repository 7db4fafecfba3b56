package models

import "time"

// CourseGroup is a capacity-bounded membership set within a course.
// CurrentMembers follows the same guarded-counter discipline as the
// enrollment caches.
type CourseGroup struct {
	ID             string    `db:"id" json:"id"`
	CourseID       string    `db:"course_id" json:"course_id"`
	Name           string    `db:"name" json:"name"`
	MaxMembers     *int      `db:"max_members" json:"max_members,omitempty"`
	CurrentMembers int       `db:"current_members" json:"current_members"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// HasCapacity reports whether another member may join.
func (g *CourseGroup) HasCapacity() bool {
	return g.MaxMembers == nil || g.CurrentMembers < *g.MaxMembers
}

// CourseGroupMember links a user to a group.
type CourseGroupMember struct {
	ID       string    `db:"id" json:"id"`
	GroupID  string    `db:"group_id" json:"group_id"`
	UserID   string    `db:"user_id" json:"user_id"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
}
