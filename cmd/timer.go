package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/tally/internal/output"
	"github.com/joescharf/tally/internal/timer"
)

var (
	timerDesc     string
	timerCategory string
)

var timerCmd = &cobra.Command{
	Use:   "timer",
	Short: "Start, pause and stop the timer",
	Long: `Control the single running timer.

Starting a task stops any other running timer first. Starting a task whose
last session is paused resumes that session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return timerStatusRun()
	},
}

var timerStartCmd = &cobra.Command{
	Use:   "start <task-id>",
	Short: "Start or resume the timer on a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return timerStartRun(args[0])
	},
}

var timerPauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the running timer",
	RunE: func(cmd *cobra.Command, args []string) error {
		return timerPauseRun()
	},
}

var timerStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running timer",
	RunE: func(cmd *cobra.Command, args []string) error {
		return timerStopRun()
	},
}

var timerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running timer",
	RunE: func(cmd *cobra.Command, args []string) error {
		return timerStatusRun()
	},
}

func init() {
	timerStartCmd.Flags().StringVar(&timerDesc, "desc", "", "What you are working on")
	timerStartCmd.Flags().StringVar(&timerCategory, "category", "", "Override the task category for this session")
	timerStopCmd.Flags().StringVar(&timerDesc, "desc", "", "Replace the session description")

	timerCmd.AddCommand(timerStartCmd)
	timerCmd.AddCommand(timerPauseCmd)
	timerCmd.AddCommand(timerStopCmd)
	timerCmd.AddCommand(timerStatusCmd)
	rootCmd.AddCommand(timerCmd)
}

func timerStartRun(taskRef string) error {
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

	if dryRun {
		ui.DryRunMsg("Would start timer on %s: %s", shortID(task.ID), task.Title)
		return nil
	}

	res, err := newEngine(s).Start(ctx, timer.StartRequest{
		UserID:      user,
		TaskID:      task.ID,
		Category:    timerCategory,
		Description: timerDesc,
	})
	if err != nil {
		return err
	}

	if res.AutoStopped != nil {
		ui.Info("Stopped %s after %s", res.AutoStopped.TaskTitle, output.Duration(res.AutoStopped.TotalDurationSeconds))
	}
	verb := "Started"
	if len(res.Session.Intervals) > 1 {
		verb = "Resumed"
	}
	ui.Success("%s timer on %s (%s)", verb, output.Cyan(task.Title), res.Session.Description)
	if res.Session.TotalDurationSeconds > 0 {
		ui.VerboseLog("Already logged %s in this session", output.Duration(res.Session.TotalDurationSeconds))
	}
	return nil
}

func timerPauseRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	user, err := currentUser()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would pause the running timer")
		return nil
	}
	session, err := newEngine(s).Pause(context.Background(), user)
	if err != nil {
		return err
	}
	ui.Success("Paused %s at %s", output.Cyan(session.TaskTitle), output.Duration(session.TotalDurationSeconds))
	return nil
}

func timerStopRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	user, err := currentUser()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if dryRun {
		ui.DryRunMsg("Would stop the running timer")
		return nil
	}
	session, err := newEngine(s).Stop(ctx, user, timerDesc)
	if err != nil {
		return err
	}
	ui.Success("Stopped %s: %s logged", output.Cyan(session.TaskTitle), output.Duration(session.TotalDurationSeconds))
	return nil
}

func timerStatusRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	user, err := currentUser()
	if err != nil {
		return err
	}

	view, err := newEngine(s).GetActive(context.Background(), user)
	if err != nil {
		return err
	}
	if view == nil {
		ui.Info("No timer running.")
		return nil
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Green("running"), output.Cyan(view.TaskTitle))
	fmt.Fprintf(ui.Out, "  Session:    %s\n", shortID(view.SessionID))
	fmt.Fprintf(ui.Out, "  Category:   %s\n", view.Category)
	fmt.Fprintf(ui.Out, "  Desc:       %s\n", view.Description)
	fmt.Fprintf(ui.Out, "  Since:      %s\n", view.StartTime.Local().Format("15:04:05"))
	fmt.Fprintf(ui.Out, "  Elapsed:    %s\n", output.Duration(view.ElapsedSeconds))
	fmt.Fprintf(ui.Out, "  Total:      %s\n", output.Duration(view.AccumulatedSeconds))
	return nil
}
