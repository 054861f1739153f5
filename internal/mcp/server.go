package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/tally/internal/models"
	"github.com/joescharf/tally/internal/report"
	"github.com/joescharf/tally/internal/store"
	"github.com/joescharf/tally/internal/timer"
)

// Server exposes the timer engine and reports as MCP tools. Every call acts
// as a single configured user.
type Server struct {
	store    store.Store
	engine   *timer.Engine
	reporter *report.Reporter
	userID   string
	version  string
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store, engine *timer.Engine, reporter *report.Reporter, userID, version string) *Server {
	return &Server{
		store:    s,
		engine:   engine,
		reporter: reporter,
		userID:   userID,
		version:  version,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("tally", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.listTasksTool())
	srv.AddTool(s.createTaskTool())
	srv.AddTool(s.startTimerTool())
	srv.AddTool(s.pauseTimerTool())
	srv.AddTool(s.stopTimerTool())
	srv.AddTool(s.activeTimerTool())
	srv.AddTool(s.todayStatsTool())
	srv.AddTool(s.dailyTimesheetTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.MCPServer())
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

type taskOut struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	Description        string `json:"description,omitempty"`
	Category           string `json:"category"`
	Priority           string `json:"priority"`
	Status             string `json:"status"`
	EstimatedMinutes   int    `json:"estimated_minutes"`
	TotalLoggedMinutes int64  `json:"total_logged_minutes"`
	SessionCount       int    `json:"session_count"`
}

func toTaskOut(t *models.Task) taskOut {
	return taskOut{
		ID:                 t.ID,
		Title:              t.Title,
		Description:        t.Description,
		Category:           t.Category,
		Priority:           string(t.Priority),
		Status:             string(t.Status),
		EstimatedMinutes:   t.EstimatedMinutes,
		TotalLoggedMinutes: t.TotalLoggedSeconds / 60,
		SessionCount:       t.SessionCount,
	}
}

type sessionOut struct {
	ID              string `json:"id"`
	TaskID          string `json:"task_id"`
	TaskTitle       string `json:"task_title"`
	Category        string `json:"category"`
	Description     string `json:"description"`
	State           string `json:"state"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time,omitempty"`
	DurationSeconds int64  `json:"duration_seconds"`
	Intervals       int    `json:"intervals"`
}

func toSessionOut(ts *models.TimeSession) sessionOut {
	out := sessionOut{
		ID:              ts.ID,
		TaskID:          ts.TaskID,
		TaskTitle:       ts.TaskTitle,
		Category:        ts.Category,
		Description:     ts.Description,
		State:           string(ts.State),
		StartTime:       ts.StartTime.Format(time.RFC3339),
		DurationSeconds: ts.TotalDurationSeconds,
		Intervals:       len(ts.Intervals),
	}
	if ts.EndTime != nil {
		out.EndTime = ts.EndTime.Format(time.RFC3339)
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// timerError turns engine failures into short tool errors.
func timerError(op string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, timer.ErrNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("%s: nothing to act on (%v)", op, err))
	case errors.Is(err, models.ErrValidation):
		return mcp.NewToolResultError(fmt.Sprintf("%s: invalid input: %v", op, err))
	default:
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", op, err))
	}
}

// tally_list_tasks
func (s *Server) listTasksTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tally_list_tasks",
		mcp.WithDescription("List tasks with their logged time. Returns a JSON array ordered by priority then newest."),
		mcp.WithString("status", mcp.Description("Status filter: pending, in_progress, completed, cancelled")),
		mcp.WithString("category", mcp.Description("Category filter")),
	)
	return tool, s.handleListTasks
}

func (s *Server) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.TaskListFilter{
		UserID:   s.userID,
		Status:   models.TaskStatus(request.GetString("status", "")),
		Category: request.GetString("category", ""),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("invalid status: %s", filter.Status)), nil
	}

	tasks, err := s.store.ListTasks(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tasks: %v", err)), nil
	}

	out := make([]taskOut, len(tasks))
	for i, t := range tasks {
		out[i] = toTaskOut(t)
	}
	return jsonResult(out)
}

// tally_create_task
func (s *Server) createTaskTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tally_create_task",
		mcp.WithDescription("Create a task to track time against. Returns the created task as JSON."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Task title")),
		mcp.WithString("description", mcp.Description("Task description")),
		mcp.WithString("category", mcp.Description("Category (default: General)")),
		mcp.WithString("priority", mcp.Description("Priority: low, medium, high, urgent (default: medium)")),
		mcp.WithNumber("estimated_minutes", mcp.Description("Estimated effort in minutes (default: 60)")),
	)
	return tool, s.handleCreateTask
}

func (s *Server) handleCreateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: title"), nil
	}

	t := &models.Task{
		UserID:           s.userID,
		Title:            title,
		Description:      request.GetString("description", ""),
		Category:         request.GetString("category", ""),
		Priority:         models.TaskPriority(request.GetString("priority", "")),
		EstimatedMinutes: request.GetInt("estimated_minutes", 0),
	}
	t.ApplyDefaults()
	if err := t.Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.store.CreateTask(ctx, t); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create task: %v", err)), nil
	}
	return jsonResult(toTaskOut(t))
}

// tally_start_timer
func (s *Server) startTimerTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tally_start_timer",
		mcp.WithDescription("Start or resume the timer on a task. Any other running timer is stopped first. Returns the session and, if one was stopped, the auto_stopped session."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
		mcp.WithString("description", mcp.Description("What you are working on")),
	)
	return tool, s.handleStartTimer
}

func (s *Server) handleStartTimer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: task_id"), nil
	}

	res, err := s.engine.Start(ctx, timer.StartRequest{
		UserID:      s.userID,
		TaskID:      taskID,
		Description: request.GetString("description", ""),
	})
	if err != nil {
		return timerError("start timer", err), nil
	}

	out := map[string]any{"session": toSessionOut(res.Session)}
	if res.AutoStopped != nil {
		out["auto_stopped"] = toSessionOut(res.AutoStopped)
	}
	return jsonResult(out)
}

// tally_pause_timer
func (s *Server) pauseTimerTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tally_pause_timer",
		mcp.WithDescription("Pause the running timer. Starting the same task later resumes the session."),
	)
	return tool, s.handlePauseTimer
}

func (s *Server) handlePauseTimer(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.engine.Pause(ctx, s.userID)
	if err != nil {
		return timerError("pause timer", err), nil
	}
	return jsonResult(toSessionOut(session))
}

// tally_stop_timer
func (s *Server) stopTimerTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tally_stop_timer",
		mcp.WithDescription("Stop the running timer and close its session."),
		mcp.WithString("description", mcp.Description("Replace the session description")),
	)
	return tool, s.handleStopTimer
}

func (s *Server) handleStopTimer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.engine.Stop(ctx, s.userID, request.GetString("description", ""))
	if err != nil {
		return timerError("stop timer", err), nil
	}
	return jsonResult(toSessionOut(session))
}

// tally_active_timer
func (s *Server) activeTimerTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tally_active_timer",
		mcp.WithDescription("Show the running timer with elapsed and accumulated seconds, or {\"running\": false}."),
	)
	return tool, s.handleActiveTimer
}

func (s *Server) handleActiveTimer(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	view, err := s.engine.GetActive(ctx, s.userID)
	if err != nil {
		return timerError("active timer", err), nil
	}
	if view == nil {
		return jsonResult(map[string]any{"running": false})
	}
	return jsonResult(map[string]any{
		"running":             true,
		"task_id":             view.TaskID,
		"task_title":          view.TaskTitle,
		"session_id":          view.SessionID,
		"category":            view.Category,
		"description":         view.Description,
		"start_time":          view.StartTime.Format(time.RFC3339),
		"elapsed_seconds":     view.ElapsedSeconds,
		"accumulated_seconds": view.AccumulatedSeconds,
	})
}

// tally_today_stats
func (s *Server) todayStatsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tally_today_stats",
		mcp.WithDescription("Totals for today's closed sessions, with a per-category breakdown."),
	)
	return tool, s.handleTodayStats
}

func (s *Server) handleTodayStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.reporter.Today(ctx, s.userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to compute stats: %v", err)), nil
	}

	cats := make([]map[string]any, len(stats.ByCategory))
	for i, c := range stats.ByCategory {
		cats[i] = map[string]any{
			"category":      c.Category,
			"total_minutes": c.TotalMinutes,
			"sessions":      c.SessionCount,
		}
	}
	return jsonResult(map[string]any{
		"date":          stats.Date,
		"sessions":      stats.SessionCount,
		"total_minutes": stats.TotalMinutes,
		"hours":         stats.Hours,
		"by_category":   cats,
	})
}

// tally_daily_timesheet
func (s *Server) dailyTimesheetTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tally_daily_timesheet",
		mcp.WithDescription("List one day's closed sessions and the minutes remaining against the daily target."),
		mcp.WithString("date", mcp.Description("Date as YYYY-MM-DD (default: today)")),
	)
	return tool, s.handleDailyTimesheet
}

func (s *Server) handleDailyTimesheet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	date := time.Now()
	if v := request.GetString("date", ""); v != "" {
		d, err := s.reporter.ParseDate(v)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		date = d
	}

	sheet, err := s.reporter.Daily(ctx, s.userID, date)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to build timesheet: %v", err)), nil
	}

	entries := make([]sessionOut, len(sheet.Entries))
	for i, e := range sheet.Entries {
		entries[i] = toSessionOut(e)
	}
	return jsonResult(map[string]any{
		"date":              sheet.Date,
		"total_minutes":     sheet.TotalMinutes,
		"remaining_minutes": sheet.RemainingMinutes,
		"entries":           entries,
	})
}
