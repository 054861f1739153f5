package store

import (
	"context"
	"errors"
	"time"

	"github.com/joescharf/tally/internal/models"
)

// ErrNotFound is wrapped by every lookup that matches no row for the user.
var ErrNotFound = errors.New("not found")

// TaskListFilter specifies filters for listing tasks.
type TaskListFilter struct {
	UserID   string
	Status   models.TaskStatus
	Priority models.TaskPriority
	Category string
	Limit    int
	Offset   int
}

// SessionListFilter specifies filters for listing time sessions. From and To
// bound the session start time as [From, To).
type SessionListFilter struct {
	UserID     string
	TaskID     string
	Category   string
	State      models.TimerState
	From       *time.Time
	To         *time.Time
	ClosedOnly bool
	Limit      int
	Offset     int
}

// Store defines the persistence interface for tally.
type Store interface {
	// Tasks
	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id, userID string) (*models.Task, error)
	ListTasks(ctx context.Context, filter TaskListFilter) ([]*models.Task, error)
	UpdateTask(ctx context.Context, t *models.Task) error
	DeleteTask(ctx context.Context, id, userID string) error

	// Time sessions (read side; writes go through RunTimerTx)
	GetTimeSession(ctx context.Context, id, userID string) (*models.TimeSession, error)
	ListTimeSessions(ctx context.Context, filter SessionListFilter) ([]*models.TimeSession, error)
	GetActiveTimerView(ctx context.Context, userID string) (*models.ActiveTimerView, error)

	// RunTimerTx runs fn inside one transaction. The transaction commits only
	// if fn returns nil.
	RunTimerTx(ctx context.Context, fn func(tx TimerTx) error) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// TimerTx is the unit of work used by the timer engine. The active timer
// methods make up the per-user registry.
type TimerTx interface {
	// GetActiveTimer returns nil, nil when the user has no running timer.
	GetActiveTimer(ctx context.Context, userID string) (*models.ActiveTimer, error)
	// SetActiveTimer creates or replaces the user's entry.
	SetActiveTimer(ctx context.Context, at *models.ActiveTimer) error
	// ClearActiveTimer removes the user's entry; absent is not an error.
	ClearActiveTimer(ctx context.Context, userID string) error

	GetTask(ctx context.Context, id, userID string) (*models.Task, error)
	GetTimeSession(ctx context.Context, id, userID string) (*models.TimeSession, error)
	// FindPausedSession returns the most recent paused session for the task,
	// or nil, nil.
	FindPausedSession(ctx context.Context, userID, taskID string) (*models.TimeSession, error)
	CreateTimeSession(ctx context.Context, s *models.TimeSession) error
	UpdateTimeSession(ctx context.Context, s *models.TimeSession) error
	DeleteTimeSession(ctx context.Context, id, userID string) error
}
