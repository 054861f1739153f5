package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/joescharf/tally/internal/llm"
	"github.com/joescharf/tally/internal/models"
	"github.com/joescharf/tally/internal/report"
	"github.com/joescharf/tally/internal/store"
	"github.com/joescharf/tally/internal/timer"
)

// UserHeader carries the authenticated user id set by the upstream auth layer.
const UserHeader = "X-User-ID"

// RequestIDHeader carries the request id, generated when absent.
const RequestIDHeader = "X-Request-ID"

type ctxKey int

const userKey ctxKey = iota

// Server provides the REST API handlers.
type Server struct {
	store    store.Store
	engine   *timer.Engine
	reporter *report.Reporter
	llm      *llm.Client
	log      *slog.Logger
}

// NewServer creates a new API server.
// The llmClient may be nil if no API key is configured.
func NewServer(s store.Store, engine *timer.Engine, reporter *report.Reporter, llmClient *llm.Client) *Server {
	return &Server{
		store:    s,
		engine:   engine,
		reporter: reporter,
		llm:      llmClient,
		log:      slog.Default(),
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/tasks", s.listTasks)
	mux.HandleFunc("POST /api/v1/tasks", s.createTask)
	mux.HandleFunc("GET /api/v1/tasks/{id}", s.getTask)
	mux.HandleFunc("PUT /api/v1/tasks/{id}", s.updateTask)
	mux.HandleFunc("DELETE /api/v1/tasks/{id}", s.deleteTask)

	mux.HandleFunc("POST /api/v1/timer/start", s.startTimer)
	mux.HandleFunc("POST /api/v1/timer/pause", s.pauseTimer)
	mux.HandleFunc("POST /api/v1/timer/stop", s.stopTimer)
	mux.HandleFunc("GET /api/v1/timer/active", s.activeTimer)

	mux.HandleFunc("GET /api/v1/timesheet", s.listEntries)
	mux.HandleFunc("POST /api/v1/timesheet", s.createEntry)
	mux.HandleFunc("GET /api/v1/timesheet/recent", s.recentEntries)
	mux.HandleFunc("GET /api/v1/timesheet/daily/{date}", s.dailyTimesheet)
	mux.HandleFunc("GET /api/v1/timesheet/{id}", s.getEntry)
	mux.HandleFunc("PUT /api/v1/timesheet/{id}", s.updateEntry)
	mux.HandleFunc("DELETE /api/v1/timesheet/{id}", s.deleteEntry)

	mux.HandleFunc("GET /api/v1/stats/today", s.todayStats)
	mux.HandleFunc("GET /api/v1/stats/weekly", s.weeklyStats)
	mux.HandleFunc("GET /api/v1/stats/monthly", s.monthlyStats)
	mux.HandleFunc("GET /api/v1/breakdown/category", s.categoryBreakdown)
	mux.HandleFunc("GET /api/v1/breakdown/task", s.taskBreakdown)

	mux.HandleFunc("GET /api/v1/reports/timesheet", s.timesheetReport)
	mux.HandleFunc("GET /api/v1/reports/summary", s.timesheetSummary)

	return corsMiddleware(s.requestLogger(requireUser(mux)))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+UserHeader+", "+RequestIDHeader)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLogger tags each request with an id and logs its outcome.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		s.log.Info("request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// requireUser rejects requests without an authenticated user id.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get(UserHeader)
		if user == "" {
			writeError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userKey).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFailure maps domain errors to status codes.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, timer.ErrNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, timer.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, timer.ErrStoreFailure):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// patchString applies a string value from a JSON patch map to the target if the key is present and non-empty.
func patchString(patch map[string]any, key string, target *string) {
	if v, ok := patch[key]; ok {
		if str, ok := v.(string); ok && str != "" {
			*target = str
		}
	}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", models.ErrValidation, key)
	}
	return n, nil
}

// dateRange reads start_date and end_date (inclusive, YYYY-MM-DD). Missing
// bounds default to the current month.
func (s *Server) dateRange(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().In(s.reporter.Location())
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.reporter.Location())
	to := from.AddDate(0, 1, 0)

	if v := r.URL.Query().Get("start_date"); v != "" {
		d, err := s.reporter.ParseDate(v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = d
	}
	if v := r.URL.Query().Get("end_date"); v != "" {
		d, err := s.reporter.ParseDate(v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = d.AddDate(0, 0, 1)
	}
	return from, to, nil
}
