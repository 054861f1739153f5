package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/joescharf/tally/internal/models"
	"github.com/joescharf/tally/internal/timer"
)

// StartTimerRequest is the JSON body for starting a timer.
type StartTimerRequest struct {
	TaskID      string `json:"task_id"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// StartTimerResponse is returned by a successful start. AutoStopped is set
// when a previously running timer was stopped to make room.
type StartTimerResponse struct {
	ActiveTimer *models.ActiveTimer `json:"active_timer"`
	Session     *models.TimeSession `json:"session"`
	AutoStopped *models.TimeSession `json:"auto_stopped,omitempty"`
}

func (s *Server) startTimer(w http.ResponseWriter, r *http.Request) {
	var req StartTimerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.TaskID == "" {
		writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}

	res, err := s.engine.Start(r.Context(), timer.StartRequest{
		UserID:      userID(r),
		TaskID:      req.TaskID,
		Category:    req.Category,
		Description: req.Description,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StartTimerResponse{
		ActiveTimer: res.ActiveTimer,
		Session:     res.Session,
		AutoStopped: res.AutoStopped,
	})
}

func (s *Server) pauseTimer(w http.ResponseWriter, r *http.Request) {
	session, err := s.engine.Pause(r.Context(), userID(r))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// stopTimer accepts an optional {"description": "..."} body that replaces the
// session description as part of the stop.
func (s *Server) stopTimer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	session, err := s.engine.Stop(r.Context(), userID(r), body.Description)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// activeTimer returns the running timer or JSON null.
func (s *Server) activeTimer(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.GetActive(r.Context(), userID(r))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
