package models

import (
	"time"

	"github.com/gofrs/uuid"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "Pending"
	StatusInProgress TaskStatus = "In Progress"
	StatusCompleted  TaskStatus = "Completed"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Next returns the status a client offers after s. The store itself accepts
// any valid status in any order.
func (s TaskStatus) Next() (TaskStatus, bool) {
	switch s {
	case StatusPending:
		return StatusInProgress, true
	case StatusInProgress:
		return StatusCompleted, true
	}
	return "", false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

type Task struct {
	ID             uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid"`
	Title          string     `json:"title" gorm:"not null"`
	Description    string     `json:"description"`
	AssignedTo     uuid.UUID  `json:"assigned_to" gorm:"type:uuid;not null;index:idx_tasks_assignee_created,priority:1"`
	AssignedBy     uuid.UUID  `json:"assigned_by" gorm:"type:uuid;not null"`
	AssignedByName string     `json:"assigned_by_name"`
	Status         TaskStatus `json:"status" gorm:"type:varchar(16);not null;default:'Pending'"`
	Priority       Priority   `json:"priority" gorm:"type:varchar(8);not null;default:'medium'"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	CreatedAt      time.Time  `json:"created_at" gorm:"index;index:idx_tasks_assignee_created,priority:2,sort:desc"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (t *Task) IsOverdue(now time.Time) bool {
	return IsOverdue(t.Deadline, t.Status, now)
}

// IsOverdue reports an unfinished task whose deadline has passed. A zero
// deadline counts as unset.
func IsOverdue(deadline *time.Time, status TaskStatus, now time.Time) bool {
	if deadline == nil || deadline.IsZero() {
		return false
	}
	return deadline.Before(now) && status != StatusCompleted
}

// TaskPatch holds the fields an administrative edit may change.
// AssignedBy and AssignedByName are deliberately absent.
type TaskPatch struct {
	Title         *string
	Description   *string
	AssignedTo    *uuid.UUID
	Priority      *Priority
	Status        *TaskStatus
	Deadline      *time.Time
	ClearDeadline bool
}

func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.AssignedTo == nil &&
		p.Priority == nil && p.Status == nil && p.Deadline == nil && !p.ClearDeadline
}
