package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/joescharf/tally/internal/models"
	"github.com/joescharf/tally/internal/store"
	"github.com/joescharf/tally/internal/timer"
)

// CreateEntryRequest is the JSON body for logging time manually. Either
// EndTime or DurationMinutes must be given.
type CreateEntryRequest struct {
	TaskID          string     `json:"task_id"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	DurationMinutes int        `json:"duration_minutes"`
	Description     string     `json:"description"`
	Category        string     `json:"category"`
}

// UpdateEntryRequest is the JSON body for editing an entry.
type UpdateEntryRequest struct {
	Description string `json:"description"`
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.SessionListFilter{
		UserID:   userID(r),
		TaskID:   q.Get("task_id"),
		Category: q.Get("category"),
		State:    models.TimerState(q.Get("state")),
	}
	if filter.State != "" && !filter.State.Valid() {
		writeError(w, http.StatusBadRequest, "invalid state: "+string(filter.State))
		return
	}

	var err error
	if filter.Limit, err = queryInt(r, "limit", 50); err != nil {
		writeFailure(w, err)
		return
	}
	if filter.Offset, err = queryInt(r, "offset", 0); err != nil {
		writeFailure(w, err)
		return
	}
	if v := q.Get("start_date"); v != "" {
		from, err := s.reporter.ParseDate(v)
		if err != nil {
			writeFailure(w, err)
			return
		}
		filter.From = &from
	}
	if v := q.Get("end_date"); v != "" {
		d, err := s.reporter.ParseDate(v)
		if err != nil {
			writeFailure(w, err)
			return
		}
		to := d.AddDate(0, 0, 1)
		filter.To = &to
	}

	sessions, err := s.store.ListTimeSessions(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) recentEntries(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeFailure(w, err)
		return
	}
	sessions, err := s.reporter.Recent(r.Context(), userID(r), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) getEntry(w http.ResponseWriter, r *http.Request) {
	session, err := s.store.GetTimeSession(r.Context(), r.PathValue("id"), userID(r))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) createEntry(w http.ResponseWriter, r *http.Request) {
	var req CreateEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.TaskID == "" || req.StartTime.IsZero() {
		writeError(w, http.StatusBadRequest, "task_id and start_time are required")
		return
	}

	var end time.Time
	switch {
	case req.EndTime != nil:
		end = *req.EndTime
	case req.DurationMinutes > 0:
		end = req.StartTime.Add(time.Duration(req.DurationMinutes) * time.Minute)
	default:
		writeError(w, http.StatusBadRequest, "end_time or duration_minutes is required")
		return
	}

	session, err := s.engine.LogManual(r.Context(), timer.ManualEntry{
		UserID:      userID(r),
		TaskID:      req.TaskID,
		Start:       req.StartTime,
		End:         end,
		Description: req.Description,
		Category:    req.Category,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) updateEntry(w http.ResponseWriter, r *http.Request) {
	var req UpdateEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	session, err := s.engine.UpdateDescription(r.Context(), userID(r), r.PathValue("id"), req.Description)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) deleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteSession(r.Context(), userID(r), r.PathValue("id")); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// dailyTimesheet accepts YYYY-MM-DD or "today".
func (s *Server) dailyTimesheet(w http.ResponseWriter, r *http.Request) {
	date := time.Now()
	if v := r.PathValue("date"); v != "today" {
		d, err := s.reporter.ParseDate(v)
		if err != nil {
			writeFailure(w, err)
			return
		}
		date = d
	}
	sheet, err := s.reporter.Daily(r.Context(), userID(r), date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sheet)
}
