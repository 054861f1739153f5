package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/tally/internal/models"
	"github.com/joescharf/tally/internal/output"
	"github.com/joescharf/tally/internal/store"
)

var (
	taskTitle     string
	taskDesc      string
	taskCategory  string
	taskPriority  string
	taskStatus    string
	taskEstimate  int
	taskDue       string
	taskSuggest   bool
	taskListLimit int
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
	Long:  "Create and organize the tasks that time is tracked against.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskListRun()
	},
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a new task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskAddRun(strings.Join(args, " "))
	},
}

var taskListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskListRun()
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show task details and recent sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskShowRun(args[0])
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <task-id>",
	Short: "Update a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskUpdateRun(args[0])
	},
}

var taskDoneCmd = &cobra.Command{
	Use:   "done <task-id>",
	Short: "Mark a task completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskDoneRun(args[0])
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:     "delete <task-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a task (its sessions are kept)",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskDeleteRun(args[0])
	},
}

func init() {
	taskAddCmd.Flags().StringVar(&taskDesc, "desc", "", "Task description")
	taskAddCmd.Flags().StringVar(&taskCategory, "category", "", "Category (default: General)")
	taskAddCmd.Flags().StringVar(&taskPriority, "priority", "", "Priority: low, medium, high, urgent")
	taskAddCmd.Flags().IntVar(&taskEstimate, "estimate", 0, "Estimated minutes (default: 60)")
	taskAddCmd.Flags().StringVar(&taskDue, "due", "", "Due date (YYYY-MM-DD)")
	taskAddCmd.Flags().BoolVar(&taskSuggest, "suggest", false, "Ask the LLM for category, priority and estimate")

	taskListCmd.Flags().StringVar(&taskStatus, "status", "", "Filter by status: pending, in_progress, completed, cancelled")
	taskListCmd.Flags().StringVar(&taskPriority, "priority", "", "Filter by priority")
	taskListCmd.Flags().StringVar(&taskCategory, "category", "", "Filter by category")
	taskListCmd.Flags().IntVar(&taskListLimit, "limit", 0, "Maximum tasks to show")

	taskUpdateCmd.Flags().StringVar(&taskTitle, "title", "", "New title")
	taskUpdateCmd.Flags().StringVar(&taskDesc, "desc", "", "New description")
	taskUpdateCmd.Flags().StringVar(&taskCategory, "category", "", "New category")
	taskUpdateCmd.Flags().StringVar(&taskPriority, "priority", "", "New priority")
	taskUpdateCmd.Flags().StringVar(&taskStatus, "status", "", "New status")
	taskUpdateCmd.Flags().IntVar(&taskEstimate, "estimate", 0, "New estimate in minutes")
	taskUpdateCmd.Flags().StringVar(&taskDue, "due", "", "New due date (YYYY-MM-DD)")

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskUpdateCmd)
	taskCmd.AddCommand(taskDoneCmd)
	taskCmd.AddCommand(taskDeleteCmd)
	rootCmd.AddCommand(taskCmd)
}

func taskAddRun(title string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	user, err := currentUser()
	if err != nil {
		return err
	}
	ctx := context.Background()

	task := &models.Task{
		UserID:           user,
		Title:            strings.TrimSpace(title),
		Description:      taskDesc,
		Category:         strings.TrimSpace(taskCategory),
		Priority:         models.TaskPriority(taskPriority),
		EstimatedMinutes: taskEstimate,
	}
	if taskDue != "" {
		due, err := parseDay(taskDue)
		if err != nil {
			return err
		}
		task.DueDate = &due
	}
	if err := task.Validate(); err != nil {
		return err
	}

	if taskSuggest {
		suggestTaskFields(ctx, s, task)
	}

	if dryRun {
		ui.DryRunMsg("Would add task: %s [%s]", task.Title, firstSet(task.Category, models.DefaultCategory))
		return nil
	}

	if err := s.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	ui.Success("Created task %s: %s (%s, %s)", output.Cyan(shortID(task.ID)), task.Title, task.Category, task.Priority)
	return nil
}

// suggestTaskFields fills empty fields from the LLM. Failures only warn.
func suggestTaskFields(ctx context.Context, s store.Store, task *models.Task) {
	client := newLLMClient()
	if client == nil {
		ui.Warning("LLM not configured (set ANTHROPIC_API_KEY); skipping suggestion")
		return
	}

	tasks, _ := s.ListTasks(ctx, store.TaskListFilter{UserID: task.UserID})
	seen := make(map[string]bool)
	var known []string
	for _, t := range tasks {
		if !seen[t.Category] {
			seen[t.Category] = true
			known = append(known, t.Category)
		}
	}
	sort.Strings(known)

	sug, err := client.SuggestCategory(ctx, task.Title, task.Description, known)
	if err != nil {
		ui.Warning("Category suggestion failed: %v", err)
		return
	}
	if task.Category == "" {
		task.Category = sug.Category
	}
	if task.Priority == "" && models.TaskPriority(sug.Priority).Valid() {
		task.Priority = models.TaskPriority(sug.Priority)
	}
	if task.EstimatedMinutes == 0 && sug.EstimatedMinutes > 0 {
		task.EstimatedMinutes = sug.EstimatedMinutes
	}
	ui.VerboseLog("Suggested %s / %s / %dm", sug.Category, sug.Priority, sug.EstimatedMinutes)
}

func taskListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	user, err := currentUser()
	if err != nil {
		return err
	}

	tasks, err := s.ListTasks(context.Background(), store.TaskListFilter{
		UserID:   user,
		Status:   models.TaskStatus(taskStatus),
		Priority: models.TaskPriority(taskPriority),
		Category: taskCategory,
		Limit:    taskListLimit,
	})
	if err != nil {
		return err
	}

	if len(tasks) == 0 {
		ui.Info("No tasks found.")
		return nil
	}

	table := ui.Table([]string{"ID", "Title", "Category", "Priority", "Status", "Logged", "Est"})
	for _, t := range tasks {
		_ = table.Append([]string{
			shortID(t.ID),
			t.Title,
			t.Category,
			output.PriorityColor(string(t.Priority)),
			output.StatusColor(string(t.Status)),
			output.Duration(t.TotalLoggedSeconds),
			fmt.Sprintf("%dm", t.EstimatedMinutes),
		})
	}
	_ = table.Render()
	return nil
}

func taskShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	user, err := currentUser()
	if err != nil {
		return err
	}
	ctx := context.Background()

	t, err := findTask(ctx, s, user, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(shortID(t.ID)), t.Title)
	fmt.Fprintf(ui.Out, "  Status:     %s\n", output.StatusColor(string(t.Status)))
	fmt.Fprintf(ui.Out, "  Priority:   %s\n", output.PriorityColor(string(t.Priority)))
	fmt.Fprintf(ui.Out, "  Category:   %s\n", t.Category)
	if t.Description != "" {
		fmt.Fprintf(ui.Out, "  Desc:       %s\n", t.Description)
	}
	fmt.Fprintf(ui.Out, "  Logged:     %s in %d sessions (est %dm)\n", output.Duration(t.TotalLoggedSeconds), t.SessionCount, t.EstimatedMinutes)
	if t.DueDate != nil {
		fmt.Fprintf(ui.Out, "  Due:        %s\n", t.DueDate.Format("2006-01-02"))
	}
	fmt.Fprintf(ui.Out, "  Created:    %s\n", t.CreatedAt.Local().Format(time.RFC3339))
	if t.CompletedAt != nil {
		fmt.Fprintf(ui.Out, "  Completed:  %s\n", t.CompletedAt.Local().Format(time.RFC3339))
	}
	fmt.Fprintf(ui.Out, "  Full ID:    %s\n", t.ID)

	sessions, err := s.ListTimeSessions(ctx, store.SessionListFilter{UserID: user, TaskID: t.ID, Limit: 5})
	if err != nil || len(sessions) == 0 {
		return err
	}
	fmt.Fprintln(ui.Out)
	table := ui.Table([]string{"Session", "Started", "State", "Duration", "Description"})
	for _, ts := range sessions {
		_ = table.Append([]string{
			shortID(ts.ID),
			ts.StartTime.Local().Format("2006-01-02 15:04"),
			output.StatusColor(string(ts.State)),
			output.Duration(ts.TotalDurationSeconds),
			ts.Description,
		})
	}
	return table.Render()
}

func taskUpdateRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	user, err := currentUser()
	if err != nil {
		return err
	}
	ctx := context.Background()

	t, err := findTask(ctx, s, user, id)
	if err != nil {
		return err
	}

	changed := false
	if taskTitle != "" {
		t.Title = taskTitle
		changed = true
	}
	if taskDesc != "" {
		t.Description = taskDesc
		changed = true
	}
	if taskCategory != "" {
		t.Category = taskCategory
		changed = true
	}
	if taskPriority != "" {
		t.Priority = models.TaskPriority(taskPriority)
		changed = true
	}
	if taskStatus != "" {
		t.SetStatus(models.TaskStatus(taskStatus), time.Now().UTC())
		changed = true
	}
	if taskEstimate != 0 {
		t.EstimatedMinutes = taskEstimate
		changed = true
	}
	if taskDue != "" {
		due, err := parseDay(taskDue)
		if err != nil {
			return err
		}
		t.DueDate = &due
		changed = true
	}

	if !changed {
		return fmt.Errorf("no updates specified (use --title, --desc, --category, --priority, --status, --estimate or --due)")
	}
	if err := t.Validate(); err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would update task %s", shortID(t.ID))
		return nil
	}
	if err := s.UpdateTask(ctx, t); err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	ui.Success("Updated task %s", output.Cyan(shortID(t.ID)))
	return nil
}

func taskDoneRun(id string) error {
	taskStatus = string(models.TaskStatusCompleted)
	defer func() { taskStatus = "" }()
	return taskUpdateRun(id)
}

func taskDeleteRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	user, err := currentUser()
	if err != nil {
		return err
	}
	ctx := context.Background()

	t, err := findTask(ctx, s, user, id)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would delete task %s: %s", shortID(t.ID), t.Title)
		return nil
	}
	if err := s.DeleteTask(ctx, t.ID, user); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	ui.Success("Deleted task %s: %s", output.Cyan(shortID(t.ID)), t.Title)
	return nil
}

// findTask resolves a full ID or a unique, case-insensitive ID prefix.
func findTask(ctx context.Context, s store.Store, user, id string) (*models.Task, error) {
	if t, err := s.GetTask(ctx, id, user); err == nil {
		return t, nil
	}

	upper := strings.ToUpper(id)
	tasks, err := s.ListTasks(ctx, store.TaskListFilter{UserID: user})
	if err != nil {
		return nil, err
	}

	var matches []*models.Task
	for _, t := range tasks {
		if strings.HasPrefix(t.ID, upper) {
			matches = append(matches, t)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("task %s: %w", id, store.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous task ID %s: matches %d tasks", id, len(matches))
	}
}

// parseDay parses YYYY-MM-DD in the local zone.
func parseDay(s string) (time.Time, error) {
	d, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", models.ErrValidation, s)
	}
	return d, nil
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
