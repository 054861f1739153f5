package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/tally/internal/ledger"
	"github.com/joescharf/tally/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so stored timestamps sort and compare as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection serializes every timer transaction for all users.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RunTimerTx runs fn in a transaction, rolling back on any error.
func (s *SQLiteStore) RunTimerTx(ctx context.Context, fn func(tx TimerTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// --- Tasks ---

const taskColumns = `t.id, t.user_id, t.title, t.description, t.priority, t.status, t.category, t.estimated_minutes,
	t.due_date, t.completed_at, t.created_at, t.updated_at,
	COALESCE(SUM(s.total_duration_seconds), 0), COUNT(s.id)`

const taskFrom = `FROM tasks t
	LEFT JOIN time_sessions s ON s.task_id = t.id AND s.user_id = t.user_id AND s.end_time IS NOT NULL`

func (s *SQLiteStore) CreateTask(ctx context.Context, t *models.Task) error {
	if t.ID == "" {
		t.ID = newULID()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.ApplyDefaults()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, user_id, title, description, priority, status, category, estimated_minutes, due_date, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Title, t.Description, string(t.Priority), string(t.Status), t.Category, t.EstimatedMinutes,
		formatTimePtr(t.DueDate), formatTimePtr(t.CompletedAt), formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id, userID string) (*models.Task, error) {
	return getTask(ctx, s.db, id, userID)
}

func getTask(ctx context.Context, q querier, id, userID string) (*models.Task, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+taskColumns+` `+taskFrom+` WHERE t.id = ? AND t.user_id = ? GROUP BY t.id`, id, userID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskListFilter) ([]*models.Task, error) {
	conditions := []string{"t.user_id = ?"}
	args := []any{filter.UserID}

	if filter.Status != "" {
		conditions = append(conditions, "t.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Priority != "" {
		conditions = append(conditions, "t.priority = ?")
		args = append(args, string(filter.Priority))
	}
	if filter.Category != "" {
		conditions = append(conditions, "t.category = ?")
		args = append(args, filter.Category)
	}

	query := `SELECT ` + taskColumns + ` ` + taskFrom + ` WHERE ` + strings.Join(conditions, " AND ") + ` GROUP BY t.id
		ORDER BY
		CASE t.priority WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 WHEN 'low' THEN 3 ELSE 4 END,
		t.created_at DESC`
	query, args = appendLimit(query, args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, t *models.Task) error {
	t.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET title=?, description=?, priority=?, status=?, category=?, estimated_minutes=?, due_date=?, completed_at=?, updated_at=?
		WHERE id=? AND user_id=?`,
		t.Title, t.Description, string(t.Priority), string(t.Status), t.Category, t.EstimatedMinutes,
		formatTimePtr(t.DueDate), formatTimePtr(t.CompletedAt), formatTime(t.UpdatedAt), t.ID, t.UserID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

// DeleteTask removes the task only. Its time sessions are kept.
func (s *SQLiteStore) DeleteTask(ctx context.Context, id, userID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(sc rowScanner) (*models.Task, error) {
	t := &models.Task{}
	var priority, status, createdAt, updatedAt string
	var dueDate, completedAt sql.NullString

	if err := sc.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &priority, &status, &t.Category, &t.EstimatedMinutes,
		&dueDate, &completedAt, &createdAt, &updatedAt, &t.TotalLoggedSeconds, &t.SessionCount); err != nil {
		return nil, err
	}
	t.Priority = models.TaskPriority(priority)
	t.Status = models.TaskStatus(status)

	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if t.DueDate, err = parseNullTime(dueDate); err != nil {
		return nil, fmt.Errorf("parse due_date: %w", err)
	}
	if t.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}
	return t, nil
}

// --- Time sessions ---

const sessionColumns = `id, user_id, task_id, task_title, category, description, intervals, total_duration_seconds,
	state, is_running, start_time, end_time, created_at, updated_at`

func (s *SQLiteStore) GetTimeSession(ctx context.Context, id, userID string) (*models.TimeSession, error) {
	return getTimeSession(ctx, s.db, id, userID)
}

func getTimeSession(ctx context.Context, q querier, id, userID string) (*models.TimeSession, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM time_sessions WHERE id = ? AND user_id = ?`, id, userID)
	ts, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("time session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get time session: %w", err)
	}
	return ts, nil
}

func (s *SQLiteStore) ListTimeSessions(ctx context.Context, filter SessionListFilter) ([]*models.TimeSession, error) {
	conditions := []string{"user_id = ?"}
	args := []any{filter.UserID}

	if filter.TaskID != "" {
		conditions = append(conditions, "task_id = ?")
		args = append(args, filter.TaskID)
	}
	if filter.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.State != "" {
		conditions = append(conditions, "state = ?")
		args = append(args, string(filter.State))
	}
	if filter.From != nil {
		conditions = append(conditions, "start_time >= ?")
		args = append(args, formatTime(*filter.From))
	}
	if filter.To != nil {
		conditions = append(conditions, "start_time < ?")
		args = append(args, formatTime(*filter.To))
	}
	if filter.ClosedOnly {
		conditions = append(conditions, "end_time IS NOT NULL")
	}

	query := `SELECT ` + sessionColumns + ` FROM time_sessions WHERE ` + strings.Join(conditions, " AND ") +
		` ORDER BY start_time DESC, id DESC`
	query, args = appendLimit(query, args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list time sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.TimeSession
	for rows.Next() {
		ts, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan time session: %w", err)
		}
		sessions = append(sessions, ts)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) GetActiveTimerView(ctx context.Context, userID string) (*models.ActiveTimerView, error) {
	v := &models.ActiveTimerView{}
	var startTime string
	var title, category sql.NullString
	var priority, status string

	err := s.db.QueryRowContext(ctx,
		`SELECT a.user_id, a.task_id, a.session_id, a.task_title, a.description, a.category, a.start_time,
			t.title, t.category, COALESCE(t.description, ''), COALESCE(t.priority, ''), COALESCE(t.status, ''),
			COALESCE(s.total_duration_seconds, 0)
		FROM active_timers a
		LEFT JOIN tasks t ON t.id = a.task_id AND t.user_id = a.user_id
		LEFT JOIN time_sessions s ON s.id = a.session_id
		WHERE a.user_id = ?`, userID,
	).Scan(&v.UserID, &v.TaskID, &v.SessionID, &v.TaskTitle, &v.Description, &v.Category, &startTime,
		&title, &category, &v.TaskDescription, &priority, &status, &v.AccumulatedSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active timer: %w", err)
	}

	if v.StartTime, err = parseTime(startTime); err != nil {
		return nil, fmt.Errorf("parse start_time: %w", err)
	}
	if title.Valid {
		v.TaskTitle = title.String
	}
	if category.Valid {
		v.Category = category.String
	}
	v.TaskPriority = models.TaskPriority(priority)
	v.TaskStatus = models.TaskStatus(status)
	return v, nil
}

func scanSession(sc rowScanner) (*models.TimeSession, error) {
	ts := &models.TimeSession{}
	var intervals, state, startTime, createdAt, updatedAt string
	var endTime sql.NullString
	var isRunning int

	if err := sc.Scan(&ts.ID, &ts.UserID, &ts.TaskID, &ts.TaskTitle, &ts.Category, &ts.Description,
		&intervals, &ts.TotalDurationSeconds, &state, &isRunning, &startTime, &endTime, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(intervals), &ts.Intervals); err != nil {
		return nil, fmt.Errorf("decode intervals: %w", err)
	}
	ts.State = models.TimerState(state)
	ts.IsRunning = isRunning != 0

	var err error
	if ts.StartTime, err = parseTime(startTime); err != nil {
		return nil, fmt.Errorf("parse start_time: %w", err)
	}
	if ts.EndTime, err = parseNullTime(endTime); err != nil {
		return nil, fmt.Errorf("parse end_time: %w", err)
	}
	if ts.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if ts.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return ts, nil
}

func encodeIntervals(l ledger.Ledger) (string, error) {
	if l == nil {
		l = ledger.Ledger{}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return "", fmt.Errorf("encode intervals: %w", err)
	}
	return string(data), nil
}

func appendLimit(query string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	}
	return query, args
}

// --- Timer transaction ---

// sqliteTx routes every statement through the transaction. Using s.db here
// would block forever on the single pooled connection.
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) GetActiveTimer(ctx context.Context, userID string) (*models.ActiveTimer, error) {
	at := &models.ActiveTimer{}
	var startTime string
	err := t.tx.QueryRowContext(ctx,
		`SELECT user_id, task_id, session_id, task_title, description, category, start_time
		FROM active_timers WHERE user_id = ?`, userID,
	).Scan(&at.UserID, &at.TaskID, &at.SessionID, &at.TaskTitle, &at.Description, &at.Category, &startTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active timer: %w", err)
	}
	if at.StartTime, err = parseTime(startTime); err != nil {
		return nil, fmt.Errorf("parse start_time: %w", err)
	}
	return at, nil
}

func (t *sqliteTx) SetActiveTimer(ctx context.Context, at *models.ActiveTimer) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO active_timers (user_id, task_id, session_id, task_title, description, category, start_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			task_id = excluded.task_id,
			session_id = excluded.session_id,
			task_title = excluded.task_title,
			description = excluded.description,
			category = excluded.category,
			start_time = excluded.start_time`,
		at.UserID, at.TaskID, at.SessionID, at.TaskTitle, at.Description, at.Category, formatTime(at.StartTime),
	)
	if err != nil {
		return fmt.Errorf("set active timer: %w", err)
	}
	return nil
}

func (t *sqliteTx) ClearActiveTimer(ctx context.Context, userID string) error {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM active_timers WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("clear active timer: %w", err)
	}
	return nil
}

func (t *sqliteTx) GetTask(ctx context.Context, id, userID string) (*models.Task, error) {
	return getTask(ctx, t.tx, id, userID)
}

func (t *sqliteTx) GetTimeSession(ctx context.Context, id, userID string) (*models.TimeSession, error) {
	return getTimeSession(ctx, t.tx, id, userID)
}

func (t *sqliteTx) FindPausedSession(ctx context.Context, userID, taskID string) (*models.TimeSession, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM time_sessions
		WHERE user_id = ? AND task_id = ? AND state = ? AND end_time IS NULL
		ORDER BY start_time DESC LIMIT 1`,
		userID, taskID, string(models.TimerStatePaused))
	ts, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find paused session: %w", err)
	}
	return ts, nil
}

func (t *sqliteTx) CreateTimeSession(ctx context.Context, ts *models.TimeSession) error {
	if ts.ID == "" {
		ts.ID = newULID()
	}
	if ts.CreatedAt.IsZero() {
		ts.CreatedAt = time.Now().UTC()
	}
	if ts.UpdatedAt.IsZero() {
		ts.UpdatedAt = ts.CreatedAt
	}
	intervals, err := encodeIntervals(ts.Intervals)
	if err != nil {
		return err
	}

	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO time_sessions (id, user_id, task_id, task_title, category, description, intervals, total_duration_seconds,
			state, is_running, start_time, end_time, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.ID, ts.UserID, ts.TaskID, ts.TaskTitle, ts.Category, ts.Description, intervals, ts.TotalDurationSeconds,
		string(ts.State), boolToInt(ts.IsRunning), formatTime(ts.StartTime), formatTimePtr(ts.EndTime),
		formatTime(ts.CreatedAt), formatTime(ts.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create time session: %w", err)
	}
	return nil
}

func (t *sqliteTx) UpdateTimeSession(ctx context.Context, ts *models.TimeSession) error {
	intervals, err := encodeIntervals(ts.Intervals)
	if err != nil {
		return err
	}
	if ts.UpdatedAt.IsZero() {
		ts.UpdatedAt = time.Now().UTC()
	}

	result, err := t.tx.ExecContext(ctx,
		`UPDATE time_sessions SET description=?, intervals=?, total_duration_seconds=?, state=?, is_running=?, end_time=?, updated_at=?
		WHERE id=? AND user_id=?`,
		ts.Description, intervals, ts.TotalDurationSeconds, string(ts.State), boolToInt(ts.IsRunning),
		formatTimePtr(ts.EndTime), formatTime(ts.UpdatedAt), ts.ID, ts.UserID,
	)
	if err != nil {
		return fmt.Errorf("update time session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("time session %s: %w", ts.ID, ErrNotFound)
	}
	return nil
}

func (t *sqliteTx) DeleteTimeSession(ctx context.Context, id, userID string) error {
	result, err := t.tx.ExecContext(ctx, "DELETE FROM time_sessions WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("delete time session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("time session %s: %w", id, ErrNotFound)
	}
	return nil
}
