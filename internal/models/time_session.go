package models

import (
	"time"

	"github.com/joescharf/tally/internal/ledger"
)

// TimerState is the explicit lifecycle state of a time session.
type TimerState string

const (
	TimerStateIdle    TimerState = "idle"
	TimerStateRunning TimerState = "running"
	TimerStatePaused  TimerState = "paused"
	TimerStateStopped TimerState = "stopped"
)

// Valid reports whether s is one of the known timer states.
func (s TimerState) Valid() bool {
	switch s {
	case TimerStateIdle, TimerStateRunning, TimerStatePaused, TimerStateStopped:
		return true
	}
	return false
}

// TimeSession is one tracked stretch of work on a task, made of one or more
// intervals. It is closed once EndTime is set.
type TimeSession struct {
	ID          string
	UserID      string
	TaskID      string
	TaskTitle   string
	Category    string
	Description string

	Intervals            ledger.Ledger
	TotalDurationSeconds int64
	State                TimerState
	IsRunning            bool

	StartTime time.Time
	EndTime   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Closed reports whether the session has been stopped.
func (s *TimeSession) Closed() bool {
	return s.EndTime != nil
}

// DurationMinutes returns the recorded total in whole minutes.
func (s *TimeSession) DurationMinutes() int64 {
	return s.TotalDurationSeconds / 60
}

// ActiveTimer is the per-user registry entry naming the running session.
// StartTime is the start of the current resumption, not of the session.
type ActiveTimer struct {
	UserID      string
	TaskID      string
	SessionID   string
	TaskTitle   string
	Description string
	Category    string
	StartTime   time.Time
}

// ActiveTimerView is an active timer joined with the task's current fields.
// ElapsedSeconds covers the running interval only; AccumulatedSeconds adds
// the session's earlier closed intervals.
type ActiveTimerView struct {
	ActiveTimer
	TaskDescription    string
	TaskPriority       TaskPriority
	TaskStatus         TaskStatus
	ElapsedSeconds     int64
	AccumulatedSeconds int64
}
