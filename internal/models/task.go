package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TaskStatus represents the state of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusCancelled:
		return true
	}
	return false
}

// TaskPriority represents the urgency of a task.
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityUrgent TaskPriority = "urgent"
)

// Valid reports whether p is a known priority.
func (p TaskPriority) Valid() bool {
	switch p {
	case TaskPriorityLow, TaskPriorityMedium, TaskPriorityHigh, TaskPriorityUrgent:
		return true
	}
	return false
}

const (
	DefaultCategory         = "General"
	DefaultEstimatedMinutes = 60
	MaxTitleLength          = 255
)

// ErrValidation marks input that failed validation.
var ErrValidation = errors.New("validation failed")

// Task is a unit of work owned by a single user. Time is tracked against it
// through time sessions.
type Task struct {
	ID               string
	UserID           string
	Title            string
	Description      string
	Priority         TaskPriority
	Status           TaskStatus
	Category         string
	EstimatedMinutes int
	DueDate          *time.Time
	CompletedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time

	// Derived from closed sessions when read back from the store.
	TotalLoggedSeconds int64
	SessionCount       int
}

// ApplyDefaults fills unset fields with their defaults.
func (t *Task) ApplyDefaults() {
	if t.Priority == "" {
		t.Priority = TaskPriorityMedium
	}
	if t.Status == "" {
		t.Status = TaskStatusPending
	}
	if strings.TrimSpace(t.Category) == "" {
		t.Category = DefaultCategory
	}
	if t.EstimatedMinutes == 0 {
		t.EstimatedMinutes = DefaultEstimatedMinutes
	}
}

// Validate checks required fields and enum values.
func (t *Task) Validate() error {
	title := strings.TrimSpace(t.Title)
	if title == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if len(title) > MaxTitleLength {
		return fmt.Errorf("%w: title must be at most %d characters", ErrValidation, MaxTitleLength)
	}
	if t.Priority != "" && !t.Priority.Valid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, t.Priority)
	}
	if t.Status != "" && !t.Status.Valid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, t.Status)
	}
	if t.EstimatedMinutes < 0 {
		return fmt.Errorf("%w: estimated minutes must not be negative", ErrValidation)
	}
	return nil
}

// SetStatus changes the status and keeps CompletedAt in step with it.
func (t *Task) SetStatus(s TaskStatus, now time.Time) {
	t.Status = s
	if s == TaskStatusCompleted {
		if t.CompletedAt == nil {
			t.CompletedAt = &now
		}
		return
	}
	t.CompletedAt = nil
}
