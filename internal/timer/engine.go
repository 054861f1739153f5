// Package timer implements the per-user timer state machine. Every operation
// runs as one store transaction and reads the clock exactly once.
package timer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joescharf/tally/internal/ledger"
	"github.com/joescharf/tally/internal/models"
	"github.com/joescharf/tally/internal/store"
)

var (
	// ErrNotFound means the task, session or active timer does not exist for the user.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState means an invariant between the registry and a session's
	// intervals does not hold.
	ErrInvalidState = errors.New("invalid timer state")
	// ErrStoreFailure means persistence failed and the transaction was rolled back.
	ErrStoreFailure = errors.New("store failure")
)

// Store is the subset of store.Store the engine needs.
type Store interface {
	RunTimerTx(ctx context.Context, fn func(tx store.TimerTx) error) error
	GetActiveTimerView(ctx context.Context, userID string) (*models.ActiveTimerView, error)
}

// Engine drives Start, Pause, Stop and GetActive. It is the only writer of
// session intervals and of the active timer registry.
type Engine struct {
	store Store
	now   func() time.Time
	log   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger used for transitions and invariant violations.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// NewEngine creates an Engine over s.
func NewEngine(s Store, opts ...Option) *Engine {
	e := &Engine{
		store: s,
		now:   time.Now,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartRequest names the task to time. Empty display fields default to the
// task's own title and category.
type StartRequest struct {
	UserID      string
	TaskID      string
	TaskTitle   string
	Category    string
	Description string
}

// StartResult is what Start produced. AutoStopped is set when a timer that
// was already running for the user had to be stopped first.
type StartResult struct {
	ActiveTimer *models.ActiveTimer
	Session     *models.TimeSession
	AutoStopped *models.TimeSession
}

// Start begins or resumes timing req.TaskID for req.UserID.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	now := e.now().UTC()
	var result StartResult

	err := e.store.RunTimerTx(ctx, func(tx store.TimerTx) error {
		task, err := tx.GetTask(ctx, req.TaskID, req.UserID)
		if err != nil {
			return err
		}

		current, err := tx.GetActiveTimer(ctx, req.UserID)
		if err != nil {
			return err
		}
		if current != nil {
			stopped, err := e.closeActive(ctx, tx, current, now, true, "")
			if err != nil {
				return err
			}
			result.AutoStopped = stopped
		}

		session, err := tx.FindPausedSession(ctx, req.UserID, task.ID)
		if err != nil {
			return err
		}
		if session != nil {
			if err := session.Intervals.Validate(); err != nil {
				return e.diverged(req.UserID, session.ID, err.Error())
			}
			intervals, err := session.Intervals.AppendOpen(now)
			if err != nil {
				return e.diverged(req.UserID, session.ID, err.Error())
			}
			session.Intervals = intervals
			session.State = models.TimerStateRunning
			session.IsRunning = true
			session.UpdatedAt = now
			if req.Description != "" {
				session.Description = req.Description
			}
			if err := tx.UpdateTimeSession(ctx, session); err != nil {
				return err
			}
		} else {
			title := firstNonEmpty(req.TaskTitle, task.Title)
			session = &models.TimeSession{
				UserID:      req.UserID,
				TaskID:      task.ID,
				TaskTitle:   title,
				Category:    firstNonEmpty(req.Category, task.Category, models.DefaultCategory),
				Description: firstNonEmpty(req.Description, "Working on "+title),
				Intervals:   ledger.New(now),
				State:       models.TimerStateRunning,
				IsRunning:   true,
				StartTime:   now,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.CreateTimeSession(ctx, session); err != nil {
				return err
			}
		}

		at := &models.ActiveTimer{
			UserID:      req.UserID,
			TaskID:      task.ID,
			SessionID:   session.ID,
			TaskTitle:   session.TaskTitle,
			Description: session.Description,
			Category:    session.Category,
			StartTime:   now,
		}
		if err := tx.SetActiveTimer(ctx, at); err != nil {
			return err
		}

		result.ActiveTimer = at
		result.Session = session
		return nil
	})
	if err != nil {
		return nil, e.classify("start timer", err)
	}

	e.log.Debug("timer started", "user", req.UserID, "task", req.TaskID, "session", result.Session.ID,
		"resumed", len(result.Session.Intervals) > 1, "auto_stopped", result.AutoStopped != nil)
	return &result, nil
}

// Pause closes the running interval and keeps the session resumable.
func (e *Engine) Pause(ctx context.Context, userID string) (*models.TimeSession, error) {
	return e.halt(ctx, userID, false, "")
}

// Stop closes the running interval and ends the session. A non-empty
// description replaces the session's own in the same transaction.
func (e *Engine) Stop(ctx context.Context, userID, description string) (*models.TimeSession, error) {
	return e.halt(ctx, userID, true, description)
}

func (e *Engine) halt(ctx context.Context, userID string, stop bool, description string) (*models.TimeSession, error) {
	op := "pause timer"
	if stop {
		op = "stop timer"
	}
	now := e.now().UTC()
	var session *models.TimeSession

	err := e.store.RunTimerTx(ctx, func(tx store.TimerTx) error {
		at, err := tx.GetActiveTimer(ctx, userID)
		if err != nil {
			return err
		}
		if at == nil {
			return fmt.Errorf("%w: no active timer for user %s", ErrNotFound, userID)
		}
		session, err = e.closeActive(ctx, tx, at, now, stop, description)
		return err
	})
	if err != nil {
		return nil, e.classify(op, err)
	}

	e.log.Debug("timer halted", "op", op, "user", userID, "session", session.ID, "total_seconds", session.TotalDurationSeconds)
	return session, nil
}

// closeActive closes the trailing interval of the session referenced by at,
// recomputes its total and clears the registry entry.
func (e *Engine) closeActive(ctx context.Context, tx store.TimerTx, at *models.ActiveTimer, now time.Time, stop bool, description string) (*models.TimeSession, error) {
	session, err := tx.GetTimeSession(ctx, at.SessionID, at.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, e.diverged(at.UserID, at.SessionID, "active timer references a missing session")
	}
	if err != nil {
		return nil, err
	}
	if session.TaskID != at.TaskID {
		return nil, e.diverged(at.UserID, session.ID, "active timer and session name different tasks")
	}

	if err := session.Intervals.Validate(); err != nil {
		return nil, e.diverged(at.UserID, session.ID, err.Error())
	}
	intervals, err := session.Intervals.CloseTrailing(now)
	if err != nil {
		return nil, e.diverged(at.UserID, session.ID, err.Error())
	}

	session.Intervals = intervals
	session.TotalDurationSeconds = intervals.TotalClosed()
	session.IsRunning = false
	session.UpdatedAt = now
	if strings.TrimSpace(description) != "" {
		session.Description = description
	}
	if stop {
		session.State = models.TimerStateStopped
		end := now
		session.EndTime = &end
	} else {
		session.State = models.TimerStatePaused
	}

	if err := tx.UpdateTimeSession(ctx, session); err != nil {
		return nil, err
	}
	if err := tx.ClearActiveTimer(ctx, at.UserID); err != nil {
		return nil, err
	}
	return session, nil
}

// GetActive returns the user's running timer with elapsed time computed at
// call time, or nil when nothing is running.
func (e *Engine) GetActive(ctx context.Context, userID string) (*models.ActiveTimerView, error) {
	now := e.now().UTC()
	view, err := e.store.GetActiveTimerView(ctx, userID)
	if err != nil {
		return nil, e.classify("get active timer", err)
	}
	if view == nil {
		return nil, nil
	}
	if d := now.Sub(view.StartTime); d > 0 {
		view.ElapsedSeconds = int64(d / time.Second)
	}
	view.AccumulatedSeconds += view.ElapsedSeconds
	return view, nil
}

func (e *Engine) diverged(userID, sessionID, reason string) error {
	e.log.Error("timer state diverged", "user", userID, "session", sessionID, "reason", reason)
	return fmt.Errorf("%w: session %s: %s", ErrInvalidState, sessionID, reason)
}

// classify maps any error to exactly one of the engine's sentinels, leaving
// validation errors untouched.
func (e *Engine) classify(op string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidState), errors.Is(err, ErrStoreFailure),
		errors.Is(err, models.ErrValidation):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
	default:
		e.log.Warn("timer operation failed", "op", op, "error", err)
		return fmt.Errorf("%s: %w: %w", op, ErrStoreFailure, err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
