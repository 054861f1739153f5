package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tally/internal/models"
	"github.com/joescharf/tally/internal/report"
	"github.com/joescharf/tally/internal/store"
	"github.com/joescharf/tally/internal/timer"
)

func setupTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := timer.NewEngine(s, timer.WithLogger(quiet))
	reporter := report.NewReporter(s, report.WithLocation(time.UTC))
	srv := NewServer(s, engine, reporter, nil)
	srv.log = quiet

	return srv, s
}

// do sends a request as user alice unless user is overridden.
func do(t *testing.T, h http.Handler, method, path, body string, user ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	u := "alice"
	if len(user) > 0 {
		u = user[0]
	}
	if u != "" {
		req.Header.Set(UserHeader, u)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func createTaskViaAPI(t *testing.T, h http.Handler, title string) models.Task {
	t.Helper()
	w := do(t, h, "POST", "/api/v1/tasks", `{"title":"`+title+`","category":"Dev"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var task models.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &task))
	return task
}

func TestRequireUser(t *testing.T) {
	srv, _ := setupTestServer(t)
	w := do(t, srv.Router(), "GET", "/api/v1/tasks", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := setupTestServer(t)
	w := do(t, srv.Router(), "OPTIONS", "/api/v1/tasks", "", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), UserHeader)
}

func TestRequestID(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	w := do(t, router, "GET", "/api/v1/tasks", "")
	assert.Len(t, w.Header().Get(RequestIDHeader), 36, "generated uuid")

	req := httptest.NewRequest("GET", "/api/v1/tasks", nil)
	req.Header.Set(UserHeader, "alice")
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestListTasks_Empty(t *testing.T) {
	srv, _ := setupTestServer(t)
	w := do(t, srv.Router(), "GET", "/api/v1/tasks", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var tasks []*models.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tasks))
	assert.Nil(t, tasks)
}

func TestTaskCRUD_API(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	created := createTaskViaAPI(t, router, "Write tests")
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.TaskPriorityMedium, created.Priority)
	assert.Equal(t, models.TaskStatusPending, created.Status)

	w := do(t, router, "GET", "/api/v1/tasks/"+created.ID, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, "GET", "/api/v1/tasks/"+created.ID, "", "bob")
	assert.Equal(t, http.StatusNotFound, w.Code, "tasks are scoped per user")

	w = do(t, router, "PUT", "/api/v1/tasks/"+created.ID, `{"status":"completed","priority":"urgent","title":""}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated models.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, "Write tests", updated.Title, "empty strings do not wipe fields")
	assert.Equal(t, models.TaskStatusCompleted, updated.Status)
	assert.Equal(t, models.TaskPriorityUrgent, updated.Priority)
	assert.NotNil(t, updated.CompletedAt)

	w = do(t, router, "PUT", "/api/v1/tasks/"+created.ID, `{"priority":"whenever"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "DELETE", "/api/v1/tasks/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, router, "DELETE", "/api/v1/tasks/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateTask_Validation(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	w := do(t, router, "POST", "/api/v1/tasks", `{"title":"  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "POST", "/api/v1/tasks", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "POST", "/api/v1/tasks", `{"title":"x","status":"someday"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListTasks_Filter(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()
	createTaskViaAPI(t, router, "one")
	do(t, router, "POST", "/api/v1/tasks", `{"title":"two","category":"Ops"}`)

	w := do(t, router, "GET", "/api/v1/tasks?category=Ops", "")
	var tasks []*models.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "two", tasks[0].Title)

	w = do(t, router, "GET", "/api/v1/tasks?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSummary_WithoutLLM(t *testing.T) {
	srv, _ := setupTestServer(t)
	w := do(t, srv.Router(), "GET", "/api/v1/reports/summary", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
