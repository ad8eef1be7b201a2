package domain

import (
	"errors"
	"strings"
	"time"
)

// Priority buckets a task for display. Values match the wire format.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of the known priority values.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task represents a single list item owned by a user.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Completed   bool       `json:"completed"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Order       int        `json:"order"`
	Owner       string     `json:"-"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

var (
	ErrTitleRequired   = errors.New("title is required")
	ErrInvalidPriority = errors.New("invalid priority")
)

// NewTask builds a task from create-request fields, applying defaults.
// Order is left to the caller, which knows the owner's current max.
func NewTask(id, owner, title, description string, priority Priority, dueDate *time.Time, now time.Time) (Task, error) {
	if strings.TrimSpace(title) == "" {
		return Task{}, ErrTitleRequired
	}
	if priority == "" {
		priority = PriorityMedium
	}
	if !priority.Valid() {
		return Task{}, ErrInvalidPriority
	}
	return Task{
		ID:          id,
		Owner:       owner,
		Title:       title,
		Description: description,
		Priority:    priority,
		DueDate:     dueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// TaskPatch carries a partial update. Nil fields are left untouched.
type TaskPatch struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Completed   *bool      `json:"completed"`
	Priority    *Priority  `json:"priority"`
	DueDate     *time.Time `json:"dueDate"`
	Order       *int       `json:"order"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Completed == nil &&
		p.Priority == nil && p.DueDate == nil && p.Order == nil
}

// Validate rejects patches that would violate task invariants.
func (p TaskPatch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return ErrTitleRequired
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return ErrInvalidPriority
	}
	return nil
}

// Apply merges the patch into t and stamps the update time.
func (p TaskPatch) Apply(t *Task, now time.Time) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.DueDate != nil {
		t.DueDate = p.DueDate
	}
	if p.Order != nil {
		t.Order = *p.Order
	}
	t.UpdatedAt = now
}
