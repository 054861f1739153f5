package timer

import (
	"context"
	"fmt"
	"time"

	"github.com/joescharf/tally/internal/ledger"
	"github.com/joescharf/tally/internal/models"
	"github.com/joescharf/tally/internal/store"
)

// ManualEntry describes time logged after the fact.
type ManualEntry struct {
	UserID      string
	TaskID      string
	Start       time.Time
	End         time.Time
	Description string
	Category    string
}

// LogManual records a finished session holding one closed interval.
func (e *Engine) LogManual(ctx context.Context, m ManualEntry) (*models.TimeSession, error) {
	now := e.now().UTC()
	if m.Start.IsZero() || m.End.IsZero() {
		return nil, fmt.Errorf("log entry: %w: start and end are required", models.ErrValidation)
	}
	if !m.End.After(m.Start) {
		return nil, fmt.Errorf("log entry: %w: end must be after start", models.ErrValidation)
	}
	if m.End.After(now) {
		return nil, fmt.Errorf("log entry: %w: end is in the future", models.ErrValidation)
	}

	var session *models.TimeSession
	err := e.store.RunTimerTx(ctx, func(tx store.TimerTx) error {
		task, err := tx.GetTask(ctx, m.TaskID, m.UserID)
		if err != nil {
			return err
		}

		start, end := m.Start.UTC(), m.End.UTC()
		intervals, err := ledger.New(start).CloseTrailing(end)
		if err != nil {
			return e.diverged(m.UserID, "", err.Error())
		}

		session = &models.TimeSession{
			UserID:               m.UserID,
			TaskID:               task.ID,
			TaskTitle:            task.Title,
			Category:             firstNonEmpty(m.Category, task.Category, models.DefaultCategory),
			Description:          firstNonEmpty(m.Description, "Working on "+task.Title),
			Intervals:            intervals,
			TotalDurationSeconds: intervals.TotalClosed(),
			State:                models.TimerStateStopped,
			StartTime:            start,
			EndTime:              &end,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		return tx.CreateTimeSession(ctx, session)
	})
	if err != nil {
		return nil, e.classify("log entry", err)
	}

	e.log.Debug("manual entry logged", "user", m.UserID, "task", m.TaskID, "session", session.ID, "total_seconds", session.TotalDurationSeconds)
	return session, nil
}

// UpdateDescription changes a session's description. The intervals are
// never touched. A running session's registry entry is kept in step.
func (e *Engine) UpdateDescription(ctx context.Context, userID, sessionID, description string) (*models.TimeSession, error) {
	now := e.now().UTC()
	var session *models.TimeSession

	err := e.store.RunTimerTx(ctx, func(tx store.TimerTx) error {
		var err error
		session, err = tx.GetTimeSession(ctx, sessionID, userID)
		if err != nil {
			return err
		}
		session.Description = description
		session.UpdatedAt = now
		if err := tx.UpdateTimeSession(ctx, session); err != nil {
			return err
		}

		if !session.IsRunning {
			return nil
		}
		at, err := tx.GetActiveTimer(ctx, userID)
		if err != nil {
			return err
		}
		if at == nil || at.SessionID != session.ID {
			return e.diverged(userID, session.ID, "running session has no active timer")
		}
		at.Description = description
		return tx.SetActiveTimer(ctx, at)
	})
	if err != nil {
		return nil, e.classify("update entry", err)
	}
	return session, nil
}

// DeleteSession removes a session that is not running.
func (e *Engine) DeleteSession(ctx context.Context, userID, sessionID string) error {
	err := e.store.RunTimerTx(ctx, func(tx store.TimerTx) error {
		session, err := tx.GetTimeSession(ctx, sessionID, userID)
		if err != nil {
			return err
		}
		if session.IsRunning {
			return fmt.Errorf("%w: session %s is running; stop it first", ErrInvalidState, sessionID)
		}
		return tx.DeleteTimeSession(ctx, sessionID, userID)
	})
	if err != nil {
		return e.classify("delete entry", err)
	}
	e.log.Debug("entry deleted", "user", userID, "session", sessionID)
	return nil
}
