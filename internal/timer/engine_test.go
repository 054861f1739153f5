package timer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tally/internal/ledger"
	"github.com/joescharf/tally/internal/models"
	"github.com/joescharf/tally/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(secs int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Duration(secs) * time.Second)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupEngine(t *testing.T) (*Engine, *store.SQLiteStore, *fakeClock) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	clock := newFakeClock()
	return NewEngine(s, WithClock(clock.Now), WithLogger(quietLogger())), s, clock
}

func createTask(t *testing.T, s *store.SQLiteStore, userID, title string) *models.Task {
	t.Helper()
	task := &models.Task{UserID: userID, Title: title, Category: "Dev"}
	require.NoError(t, s.CreateTask(context.Background(), task))
	return task
}

func sessions(t *testing.T, s *store.SQLiteStore, userID string) []*models.TimeSession {
	t.Helper()
	list, err := s.ListTimeSessions(context.Background(), store.SessionListFilter{UserID: userID})
	require.NoError(t, err)
	return list
}

func TestStart_CreatesSession(t *testing.T) {
	e, s, clock := setupEngine(t)
	ctx := context.Background()
	task := createTask(t, s, "alice", "Write docs")

	res, err := e.Start(ctx, StartRequest{UserID: "alice", TaskID: task.ID})
	require.NoError(t, err)
	assert.Nil(t, res.AutoStopped)

	assert.Equal(t, models.TimerStateRunning, res.Session.State)
	assert.True(t, res.Session.IsRunning)
	assert.Equal(t, "Write docs", res.Session.TaskTitle)
	assert.Equal(t, "Dev", res.Session.Category)
	assert.Equal(t, "Working on Write docs", res.Session.Description)
	require.Len(t, res.Session.Intervals, 1)
	assert.True(t, res.Session.Intervals.HasOpen())
	assert.Equal(t, clock.Now(), res.Session.StartTime)

	assert.Equal(t, res.Session.ID, res.ActiveTimer.SessionID)
	assert.Equal(t, clock.Now(), res.ActiveTimer.StartTime)
}

func TestStart_UnknownTask(t *testing.T) {
	e, s, _ := setupEngine(t)
	task := createTask(t, s, "alice", "private")

	_, err := e.Start(context.Background(), StartRequest{UserID: "bob", TaskID: task.ID})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, sessions(t, s, "bob"))
}

func TestStartStop_125Seconds(t *testing.T) {
	e, s, clock := setupEngine(t)
	ctx := context.Background()
	task := createTask(t, s, "alice", "t")

	_, err := e.Start(ctx, StartRequest{UserID: "alice", TaskID: task.ID})
	require.NoError(t, err)
	clock.Advance(125)

	session, err := e.Stop(ctx, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, int64(125), session.TotalDurationSeconds)
	assert.Equal(t, models.TimerStateStopped, session.State)
	assert.False(t, session.IsRunning)
	require.NotNil(t, session.EndTime)
	assert.Equal(t, clock.Now(), *session.EndTime)

	active, err := e.GetActive(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestStop_WithDescription(t *testing.T) {
	e, s, clock := setupEngine(t)
	ctx := context.Background()
	task := createTask(t, s, "alice", "t")

	started, err := e.Start(ctx, StartRequest{UserID: "alice", TaskID: task.ID})
	require.NoError(t, err)
	clock.Advance(60)

	session, err := e.Stop(ctx, "alice", "wrapped up")
	require.NoError(t, err)
	assert.Equal(t, "wrapped up", session.Description)

	stored, err := s.GetTimeSession(ctx, started.Session.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "wrapped up", stored.Description)
	assert.Equal(t, models.TimerStateStopped, stored.State)
}

// clearFailTx fails ClearActiveTimer after the session row has been written.
type clearFailTx struct {
	store.TimerTx
}

func (clearFailTx) ClearActiveTimer(context.Context, string) error {
	return errors.New("disk I/O error")
}

type clearFailStore struct {
	*store.SQLiteStore
}

func (s clearFailStore) RunTimerTx(ctx context.Context, fn func(store.TimerTx) error) error {
	return s.SQLiteStore.RunTimerTx(ctx, func(tx store.TimerTx) error {
		return fn(clearFailTx{tx})
	})
}

func TestStop_FailedTransactionAppliesNothing(t *testing.T) {
	e, s, clock := setupEngine(t)
	ctx := context.Background()
	task := createTask(t, s, "alice", "t")

	started, err := e.Start(ctx, StartRequest{UserID: "alice", TaskID: task.ID, Description: "drafting"})
	require.NoError(t, err)
	clock.Advance(90)

	failing := NewEngine(clearFailStore{s}, WithClock(clock.Now), WithLogger(quietLogger()))
	_, err = failing.Stop(ctx, "alice", "done drafting")
	require.ErrorIs(t, err, ErrStoreFailure)

	stored, err := s.GetTimeSession(ctx, started.Session.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "drafting", stored.Description)
	assert.Equal(t, models.TimerStateRunning, stored.State)
	assert.True(t, stored.Intervals.HasOpen())
	assert.Nil(t, stored.EndTime)

	active, err := e.GetActive(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, started.Session.ID, active.SessionID)

	// The retry sees the timer still running.
	session, err := e.Stop(ctx, "alice", "done drafting")
	require.NoError(t, err)
	assert.Equal(t, "done drafting", session.Description)
	assert.Equal(t, int64(90), session.TotalDurationSeconds)
}

func TestPauseResumeStop_140Seconds(t *testing.T) {
	e, s, clock := setupEngine(t)
	ctx := context.Background()
	task := createTask(t, s, "alice", "t")

	first, err := e.Start(ctx, StartRequest{UserID: "alice", TaskID: task.ID})
	require.NoError(t, err)
	clock.Advance(60)

	paused, err := e.Pause(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.TimerStatePaused, paused.State)
	assert.Equal(t, int64(60), paused.TotalDurationSeconds)
	assert.Nil(t, paused.EndTime)

	active, err := e.GetActive(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, active, "paused timers are not active")

	clock.Advance(240)
	resumed, err := e.Start(ctx, StartRequest{UserID: "alice", TaskID: task.ID})
	require.NoError(t, err)
	assert.Equal(t, first.Session.ID, resumed.Session.ID, "paused session is resumed")
	assert.Len(t, resumed.Session.Intervals, 2)

	clock.Advance(80)
	stopped, err := e.Stop(ctx, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, int64(140), stopped.TotalDurationSeconds)
	require.Len(t, stopped.Intervals, 2)
	assert.False(t, stopped.Intervals.HasOpen())
	assert.Equal(t, stopped.Intervals.TotalClosed(), stopped.TotalDurationSeconds)

	assert.Len(t, sessions(t, s, "alice"), 1)
}

func TestStart_AutoStopsOtherTask(t *testing.T) {
	e, s, clock := setupEngine(t)
	ctx := context.Background()
	a := createTask(t, s, "alice", "A")
	b := createTask(t, s, "alice", "B")

	first, err := e.Start(ctx, StartRequest{UserID: "alice", TaskID: a.ID})
	require.NoError(t, err)
	clock.Advance(90)

	second, err := e.Start(ctx, StartRequest{UserID: "alice", TaskID: b.ID})
	require.NoError(t, err)
	require.NotNil(t, second.AutoStopped)
	assert.Equal(t, first.Session.ID, second.AutoStopped.ID)
	assert.Equal(t, models.TimerStateStopped, second.AutoStopped.State)
	assert.Equal(t, int64(90), second.AutoStopped.TotalDurationSeconds)
	require.NotNil(t, second.AutoStopped.EndTime)
	assert.Equal(t, clock.Now(), *second.AutoStopped.EndTime)

	active, err := e.GetActive(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, b.ID, active.TaskID)

	prev, err := s.GetTimeSession(ctx, first.Session.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.TimerStateStopped, prev.State)
}

func TestStart_SameTaskWhileRunningStartsFresh(t *testing.T) {
	e, s, clock := setupEngine(t)
	ctx := context.Background()
	task := createTask(t, s, "alice", "A")

	first, err := e.Start(ctx, StartRequest{UserID: "alice", TaskID: task.ID})
	require.NoError(t, err)
	clock.Advance(10)

	second, err := e.Start(ctx, StartRequest{UserID: "alice", TaskID: task.ID})
	require.NoError(t, err)
	require.NotNil(t, second.AutoStopped)
	assert.NotEqual(t, first.Session.ID, second.Session.ID)
	assert.Len(t, sessions(t, s, "alice"), 2)
}

func TestPauseStop_NoActiveTimer(t *testing.T) {
	e, s, _ := setupEngine(t)
	ctx := context.Background()
	task := createTask(t, s, "alice", "t")

	_, err := e.Start(ctx, StartRequest{UserID: "alice", TaskID: task.ID})
	require.NoError(t, err)
	_, err = e.Stop(ctx, "alice", "")
	require.NoError(t, err)

	before := sessions(t, s, "alice")

	_, err = e.Pause(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.Stop(ctx, "alice", "")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, before, sessions(t, s, "alice"), "failed calls leave no trace")
}

func TestGetActive_ComputesElapsed(t *testing.T) {
	e, s, clock := setupEngine(t)
	ctx := context.Background()
	task := createTask(t, s, "alice", "t")

	_, err := e.Start(ctx, StartRequest{UserID: "alice", TaskID: task.ID})
	require.NoError(t, err)
	clock.Advance(30)
	_, err = e.Pause(ctx, "alice")
	require.NoError(t, err)
	_, err = e.Start(ctx, StartRequest{UserID: "alice", TaskID: task.ID})
	require.NoError(t, err)
	clock.Advance(45)

	active, err := e.GetActive(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, int64(45), active.ElapsedSeconds)
	assert.Equal(t, int64(75), active.AccumulatedSeconds)
	assert.Equal(t, "t", active.TaskTitle)
}

func TestStop_DivergedRegistryIsInvalidState(t *testing.T) {
	e, s, clock := setupEngine(t)
	ctx := context.Background()
	task := createTask(t, s, "alice", "t")

	_, err := e.Start(ctx, StartRequest{UserID: "alice", TaskID: task.ID})
	require.NoError(t, err)
	clock.Advance(5)
	stopped, err := e.Stop(ctx, "alice", "")
	require.NoError(t, err)

	// Point the registry at a session whose trailing interval is closed.
	err = s.RunTimerTx(ctx, func(tx store.TimerTx) error {
		return tx.SetActiveTimer(ctx, &models.ActiveTimer{
			UserID: "alice", TaskID: task.ID, SessionID: stopped.ID, StartTime: clock.Now(),
		})
	})
	require.NoError(t, err)

	_, err = e.Stop(ctx, "alice", "")
	assert.ErrorIs(t, err, ErrInvalidState)

	got, err := s.GetTimeSession(ctx, stopped.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, stopped.Intervals, got.Intervals, "nothing written on failure")
}

func TestStop_CorruptLedgerIsInvalidState(t *testing.T) {
	e, s, clock := setupEngine(t)
	ctx := context.Background()
	task := createTask(t, s, "alice", "t")

	started, err := e.Start(ctx, StartRequest{UserID: "alice", TaskID: task.ID})
	require.NoError(t, err)
	clock.Advance(30)

	// Two open intervals: only the trailing one may be open.
	bad := started.Session
	bad.Intervals = ledger.Ledger{{Start: clock.Now().Add(-time.Hour)}, {Start: clock.Now()}}
	require.NoError(t, s.RunTimerTx(ctx, func(tx store.TimerTx) error {
		return tx.UpdateTimeSession(ctx, bad)
	}))

	_, err = e.Stop(ctx, "alice", "")
	assert.ErrorIs(t, err, ErrInvalidState)

	active, err := e.GetActive(ctx, "alice")
	require.NoError(t, err)
	assert.NotNil(t, active, "registry untouched on failure")
}

func TestConcurrentStop_OneWins(t *testing.T) {
	e, s, clock := setupEngine(t)
	ctx := context.Background()
	task := createTask(t, s, "alice", "t")

	_, err := e.Start(ctx, StartRequest{UserID: "alice", TaskID: task.ID})
	require.NoError(t, err)
	clock.Advance(20)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Stop(ctx, "alice", "")
		}(i)
	}
	wg.Wait()

	var ok, notFound int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrNotFound):
			notFound++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, notFound)

	list := sessions(t, s, "alice")
	require.Len(t, list, 1)
	assert.Equal(t, int64(20), list[0].TotalDurationSeconds)
	assert.Len(t, list[0].Intervals, 1)
}

func TestRandomOperations_KeepSingleActiveTimer(t *testing.T) {
	e, s, clock := setupEngine(t)
	ctx := context.Background()
	tasks := []*models.Task{createTask(t, s, "alice", "A"), createTask(t, s, "alice", "B"), createTask(t, s, "alice", "C")}
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		clock.Advance(rng.Intn(120))
		switch rng.Intn(3) {
		case 0:
			_, err := e.Start(ctx, StartRequest{UserID: "alice", TaskID: tasks[rng.Intn(len(tasks))].ID})
			require.NoError(t, err)
		case 1:
			_, err := e.Pause(ctx, "alice")
			if err != nil {
				require.ErrorIs(t, err, ErrNotFound)
			}
		case 2:
			_, err := e.Stop(ctx, "alice", "")
			if err != nil {
				require.ErrorIs(t, err, ErrNotFound)
			}
		}

		active, err := e.GetActive(ctx, "alice")
		require.NoError(t, err)

		var running []*models.TimeSession
		for _, ts := range sessions(t, s, "alice") {
			require.NoError(t, ts.Intervals.Validate())
			assert.Equal(t, ts.Intervals.TotalClosed(), ts.TotalDurationSeconds)
			if ts.EndTime != nil {
				assert.False(t, ts.Intervals.HasOpen(), "closed sessions have no open interval")
			}
			if ts.IsRunning {
				assert.True(t, ts.Intervals.HasOpen())
				running = append(running, ts)
			}
		}
		require.LessOrEqual(t, len(running), 1)
		if active == nil {
			assert.Empty(t, running)
		} else {
			require.Len(t, running, 1)
			assert.Equal(t, running[0].ID, active.SessionID)
		}
	}
}

// failingStore fails every unit of work.
type failingStore struct{}

func (failingStore) RunTimerTx(context.Context, func(store.TimerTx) error) error {
	return errors.New("disk I/O error")
}

func (failingStore) GetActiveTimerView(context.Context, string) (*models.ActiveTimerView, error) {
	return nil, errors.New("disk I/O error")
}

func TestStoreFailure(t *testing.T) {
	e := NewEngine(failingStore{}, WithLogger(quietLogger()))
	ctx := context.Background()

	_, err := e.Start(ctx, StartRequest{UserID: "alice", TaskID: "x"})
	assert.ErrorIs(t, err, ErrStoreFailure)
	_, err = e.Pause(ctx, "alice")
	assert.ErrorIs(t, err, ErrStoreFailure)
	_, err = e.Stop(ctx, "alice", "")
	assert.ErrorIs(t, err, ErrStoreFailure)
	_, err = e.GetActive(ctx, "alice")
	assert.ErrorIs(t, err, ErrStoreFailure)
}
