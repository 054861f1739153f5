package timer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tally/internal/models"
)

func TestLogManual(t *testing.T) {
	e, s, clock := setupEngine(t)
	ctx := context.Background()
	task := createTask(t, s, "alice", "Review")

	start := clock.Now().Add(-2 * time.Hour)
	session, err := e.LogManual(ctx, ManualEntry{
		UserID: "alice", TaskID: task.ID, Start: start, End: start.Add(45 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(45*60), session.TotalDurationSeconds)
	assert.Equal(t, models.TimerStateStopped, session.State)
	assert.Equal(t, "Working on Review", session.Description)
	assert.Equal(t, "Dev", session.Category)
	require.NotNil(t, session.EndTime)

	active, err := e.GetActive(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, active, "manual entries never touch the registry")
}

func TestLogManual_Validation(t *testing.T) {
	e, s, clock := setupEngine(t)
	ctx := context.Background()
	task := createTask(t, s, "alice", "Review")
	now := clock.Now()

	tests := []struct {
		name       string
		start, end time.Time
	}{
		{"missing times", time.Time{}, time.Time{}},
		{"end before start", now.Add(-time.Hour), now.Add(-2 * time.Hour)},
		{"zero length", now.Add(-time.Hour), now.Add(-time.Hour)},
		{"future end", now.Add(-time.Hour), now.Add(time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.LogManual(ctx, ManualEntry{UserID: "alice", TaskID: task.ID, Start: tt.start, End: tt.end})
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}

	_, err := e.LogManual(ctx, ManualEntry{UserID: "alice", TaskID: "missing", Start: now.Add(-time.Hour), End: now})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateDescription_RunningKeepsRegistryInStep(t *testing.T) {
	e, s, _ := setupEngine(t)
	ctx := context.Background()
	task := createTask(t, s, "alice", "t")

	res, err := e.Start(ctx, StartRequest{UserID: "alice", TaskID: task.ID})
	require.NoError(t, err)

	updated, err := e.UpdateDescription(ctx, "alice", res.Session.ID, "pairing")
	require.NoError(t, err)
	assert.Equal(t, "pairing", updated.Description)
	assert.True(t, updated.Intervals.HasOpen(), "intervals untouched")

	active, err := e.GetActive(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "pairing", active.Description)

	_, err = e.UpdateDescription(ctx, "bob", res.Session.ID, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteSession(t *testing.T) {
	e, s, clock := setupEngine(t)
	ctx := context.Background()
	task := createTask(t, s, "alice", "t")

	res, err := e.Start(ctx, StartRequest{UserID: "alice", TaskID: task.ID})
	require.NoError(t, err)

	err = e.DeleteSession(ctx, "alice", res.Session.ID)
	assert.ErrorIs(t, err, ErrInvalidState, "running sessions cannot be deleted")

	clock.Advance(10)
	_, err = e.Stop(ctx, "alice", "")
	require.NoError(t, err)

	require.NoError(t, e.DeleteSession(ctx, "alice", res.Session.ID))
	assert.Empty(t, sessions(t, s, "alice"))

	err = e.DeleteSession(ctx, "alice", res.Session.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
