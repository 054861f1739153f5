package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/tally/internal/models"
	"github.com/joescharf/tally/internal/output"
	"github.com/joescharf/tally/internal/store"
	"github.com/joescharf/tally/internal/timer"
)

const entryTimeLayout = "2006-01-02 15:04"

var (
	entryTask     string
	entryFrom     string
	entryTo       string
	entryStart    string
	entryEnd      string
	entryMinutes  int
	entryDesc     string
	entryCategory string
	entryLimit    int
)

var entryCmd = &cobra.Command{
	Use:     "entry",
	Aliases: []string{"log"},
	Short:   "List and edit time entries",
	Long:    "Time entries are timer sessions. Stopped entries can be added by hand, edited and deleted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return entryListRun()
	},
}

var entryListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List time entries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return entryListRun()
	},
}

var entryAddCmd = &cobra.Command{
	Use:   "add <task-id>",
	Short: "Log time manually",
	Long: `Log a stopped entry. Give --start and either --end or --minutes.
Times are local, formatted as "YYYY-MM-DD HH:MM".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return entryAddRun(args[0])
	},
}

var entryEditCmd = &cobra.Command{
	Use:   "edit <entry-id>",
	Short: "Change an entry's description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return entryEditRun(args[0])
	},
}

var entryDeleteCmd = &cobra.Command{
	Use:     "delete <entry-id>",
	Aliases: []string{"rm"},
	Short:   "Delete an entry that is not running",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return entryDeleteRun(args[0])
	},
}

func init() {
	entryListCmd.Flags().StringVar(&entryTask, "task", "", "Filter by task ID")
	entryListCmd.Flags().StringVar(&entryFrom, "from", "", "First day (YYYY-MM-DD)")
	entryListCmd.Flags().StringVar(&entryTo, "to", "", "Last day, inclusive (YYYY-MM-DD)")
	entryListCmd.Flags().IntVar(&entryLimit, "limit", 20, "Maximum entries to show")

	entryAddCmd.Flags().StringVar(&entryStart, "start", "", `Start time "YYYY-MM-DD HH:MM" (required)`)
	entryAddCmd.Flags().StringVar(&entryEnd, "end", "", `End time "YYYY-MM-DD HH:MM"`)
	entryAddCmd.Flags().IntVar(&entryMinutes, "minutes", 0, "Duration in minutes, instead of --end")
	entryAddCmd.Flags().StringVar(&entryDesc, "desc", "", "Description")
	entryAddCmd.Flags().StringVar(&entryCategory, "category", "", "Category (default: the task's)")
	_ = entryAddCmd.MarkFlagRequired("start")

	entryEditCmd.Flags().StringVar(&entryDesc, "desc", "", "New description (required)")
	_ = entryEditCmd.MarkFlagRequired("desc")

	entryCmd.AddCommand(entryListCmd)
	entryCmd.AddCommand(entryAddCmd)
	entryCmd.AddCommand(entryEditCmd)
	entryCmd.AddCommand(entryDeleteCmd)
	rootCmd.AddCommand(entryCmd)
}

func entryListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	user, err := currentUser()
	if err != nil {
		return err
	}
	ctx := context.Background()

	filter := store.SessionListFilter{UserID: user, Limit: entryLimit}
	if entryTask != "" {
		t, err := findTask(ctx, s, user, entryTask)
		if err != nil {
			return err
		}
		filter.TaskID = t.ID
	}
	if entryFrom != "" {
		from, err := parseDay(entryFrom)
		if err != nil {
			return err
		}
		filter.From = &from
	}
	if entryTo != "" {
		to, err := parseDay(entryTo)
		if err != nil {
			return err
		}
		end := to.AddDate(0, 0, 1)
		filter.To = &end
	}

	sessions, err := s.ListTimeSessions(ctx, filter)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		ui.Info("No entries found.")
		return nil
	}

	table := ui.Table([]string{"ID", "Date", "Start", "End", "Task", "Category", "State", "Duration", "Description"})
	for _, ts := range sessions {
		end := ""
		if ts.Closed() {
			end = ts.EndTime.Local().Format("15:04")
		}
		_ = table.Append([]string{
			shortID(ts.ID),
			ts.StartTime.Local().Format("2006-01-02"),
			ts.StartTime.Local().Format("15:04"),
			end,
			ts.TaskTitle,
			ts.Category,
			output.StatusColor(string(ts.State)),
			output.Duration(ts.TotalDurationSeconds),
			ts.Description,
		})
	}
	return table.Render()
}

func entryAddRun(taskRef string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	user, err := currentUser()
	if err != nil {
		return err
	}
	ctx := context.Background()

	task, err := findTask(ctx, s, user, taskRef)
	if err != nil {
		return err
	}

	start, err := parseLocalTime(entryStart)
	if err != nil {
		return err
	}
	var end time.Time
	switch {
	case entryEnd != "":
		if end, err = parseLocalTime(entryEnd); err != nil {
			return err
		}
	case entryMinutes > 0:
		end = start.Add(time.Duration(entryMinutes) * time.Minute)
	default:
		return fmt.Errorf("%w: --end or --minutes is required", models.ErrValidation)
	}

	if dryRun {
		ui.DryRunMsg("Would log %s on %s", output.Duration(int64(end.Sub(start).Seconds())), task.Title)
		return nil
	}

	session, err := newEngine(s).LogManual(ctx, timer.ManualEntry{
		UserID:      user,
		TaskID:      task.ID,
		Start:       start,
		End:         end,
		Description: entryDesc,
		Category:    entryCategory,
	})
	if err != nil {
		return err
	}
	ui.Success("Logged %s on %s (%s)", output.Duration(session.TotalDurationSeconds), output.Cyan(task.Title), shortID(session.ID))
	return nil
}

func entryEditRun(ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	user, err := currentUser()
	if err != nil {
		return err
	}
	ctx := context.Background()

	session, err := findSession(ctx, s, user, ref)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would set description of %s to %q", shortID(session.ID), entryDesc)
		return nil
	}
	if _, err := newEngine(s).UpdateDescription(ctx, user, session.ID, entryDesc); err != nil {
		return err
	}
	ui.Success("Updated entry %s", output.Cyan(shortID(session.ID)))
	return nil
}

func entryDeleteRun(ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	user, err := currentUser()
	if err != nil {
		return err
	}
	ctx := context.Background()

	session, err := findSession(ctx, s, user, ref)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would delete entry %s (%s, %s)", shortID(session.ID), session.TaskTitle, output.Duration(session.TotalDurationSeconds))
		return nil
	}
	if err := newEngine(s).DeleteSession(ctx, user, session.ID); err != nil {
		return err
	}
	ui.Success("Deleted entry %s", output.Cyan(shortID(session.ID)))
	return nil
}

// findSession resolves a full ID or a unique ID prefix.
func findSession(ctx context.Context, s store.Store, user, ref string) (*models.TimeSession, error) {
	if ts, err := s.GetTimeSession(ctx, ref, user); err == nil {
		return ts, nil
	}

	upper := strings.ToUpper(ref)
	sessions, err := s.ListTimeSessions(ctx, store.SessionListFilter{UserID: user})
	if err != nil {
		return nil, err
	}
	var matches []*models.TimeSession
	for _, ts := range sessions {
		if strings.HasPrefix(ts.ID, upper) {
			matches = append(matches, ts)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("entry %s: %w", ref, store.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous entry ID %s: matches %d entries", ref, len(matches))
	}
}

func parseLocalTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(entryTimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q must be \"YYYY-MM-DD HH:MM\"", models.ErrValidation, s)
	}
	return t, nil
}
