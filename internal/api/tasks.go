package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/joescharf/tally/internal/models"
	"github.com/joescharf/tally/internal/store"
)

// CreateTaskRequest is the JSON body for creating a task.
type CreateTaskRequest struct {
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Priority         string     `json:"priority"`
	Status           string     `json:"status"`
	Category         string     `json:"category"`
	EstimatedMinutes int        `json:"estimated_minutes"`
	DueDate          *time.Time `json:"due_date"`
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeFailure(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeFailure(w, err)
		return
	}

	tasks, err := s.store.ListTasks(r.Context(), store.TaskListFilter{
		UserID:   userID(r),
		Status:   models.TaskStatus(q.Get("status")),
		Priority: models.TaskPriority(q.Get("priority")),
		Category: q.Get("category"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), r.PathValue("id"), userID(r))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	task := &models.Task{
		UserID:           userID(r),
		Title:            strings.TrimSpace(req.Title),
		Description:      req.Description,
		Priority:         models.TaskPriority(req.Priority),
		Status:           models.TaskStatus(req.Status),
		Category:         strings.TrimSpace(req.Category),
		EstimatedMinutes: req.EstimatedMinutes,
		DueDate:          req.DueDate,
	}
	if err := task.Validate(); err != nil {
		writeFailure(w, err)
		return
	}

	if s.llm != nil && task.Category == "" {
		s.suggestCategory(r, task)
	}
	if task.Status == models.TaskStatusCompleted {
		task.SetStatus(task.Status, time.Now().UTC())
	}

	if err := s.store.CreateTask(r.Context(), task); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// suggestCategory fills empty triage fields from the LLM. Failures only log.
func (s *Server) suggestCategory(r *http.Request, task *models.Task) {
	known, err := s.knownCategories(r, task.UserID)
	if err != nil {
		s.log.Warn("list categories for suggestion", "error", err)
	}
	sug, err := s.llm.SuggestCategory(r.Context(), task.Title, task.Description, known)
	if err != nil {
		s.log.Warn("category suggestion failed", "task", task.Title, "error", err)
		return
	}
	if task.Category == "" {
		task.Category = sug.Category
	}
	if task.Priority == "" && sug.Priority != "" {
		task.Priority = models.TaskPriority(sug.Priority)
	}
	if task.EstimatedMinutes == 0 && sug.EstimatedMinutes > 0 {
		task.EstimatedMinutes = sug.EstimatedMinutes
	}
}

func (s *Server) knownCategories(r *http.Request, user string) ([]string, error) {
	tasks, err := s.store.ListTasks(r.Context(), store.TaskListFilter{UserID: user})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, t := range tasks {
		if !seen[t.Category] {
			seen[t.Category] = true
			out = append(out, t.Category)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	existing, err := s.store.GetTask(r.Context(), r.PathValue("id"), userID(r))
	if err != nil {
		writeFailure(w, err)
		return
	}

	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	// Only keys present with non-empty values are merged.
	patchString(patch, "title", &existing.Title)
	patchString(patch, "description", &existing.Description)
	patchString(patch, "category", &existing.Category)

	var priority, status string
	patchString(patch, "priority", &priority)
	if priority != "" {
		existing.Priority = models.TaskPriority(priority)
	}
	patchString(patch, "status", &status)

	if v, ok := patch["estimated_minutes"].(float64); ok {
		existing.EstimatedMinutes = int(v)
	}
	if v, ok := patch["due_date"]; ok {
		switch d := v.(type) {
		case nil:
			existing.DueDate = nil
		case string:
			due, err := time.Parse(time.RFC3339, d)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid due_date %q", d))
				return
			}
			existing.DueDate = &due
		}
	}

	if status != "" {
		existing.Status = models.TaskStatus(status)
	}
	if err := existing.Validate(); err != nil {
		writeFailure(w, err)
		return
	}
	if status != "" {
		existing.SetStatus(existing.Status, time.Now().UTC())
	}

	if err := s.store.UpdateTask(r.Context(), existing); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTask(r.Context(), r.PathValue("id"), userID(r)); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
