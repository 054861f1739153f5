package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/tally/internal/output"
	"github.com/joescharf/tally/internal/report"
)

var (
	reportFrom   string
	reportTo     string
	reportMonth  int
	reportYear   int
	reportFormat string
	reportOut    string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summaries of logged time",
	Long:  "Reports count closed sessions only. A running or paused session shows up once it is stopped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportTodayRun()
	},
}

var reportTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "Today's totals by category",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportTodayRun()
	},
}

var reportWeekCmd = &cobra.Command{
	Use:   "week",
	Short: "This week, day by day",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportWeekRun()
	},
}

var reportMonthCmd = &cobra.Command{
	Use:   "month",
	Short: "A calendar month by day, category and task",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportMonthRun()
	},
}

var reportCategoryCmd = &cobra.Command{
	Use:   "category",
	Short: "Totals per category for a date range",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportCategoryRun()
	},
}

var reportTaskCmd = &cobra.Command{
	Use:   "task",
	Short: "Totals per task for a date range",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportTaskRun()
	},
}

var reportDailyCmd = &cobra.Command{
	Use:   "daily [YYYY-MM-DD]",
	Short: "One day's entries against the daily target",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		day := ""
		if len(args) > 0 {
			day = args[0]
		}
		return reportDailyRun(day)
	},
}

var reportExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a timesheet as csv, json, markdown or pdf",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportExportRun()
	},
}

var reportSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Write a prose summary of a timesheet with the LLM",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportSummaryRun()
	},
}

func init() {
	for _, c := range []*cobra.Command{reportCategoryCmd, reportTaskCmd, reportExportCmd, reportSummaryCmd} {
		c.Flags().StringVar(&reportFrom, "from", "", "First day (YYYY-MM-DD, default: first of this month)")
		c.Flags().StringVar(&reportTo, "to", "", "Last day, inclusive (YYYY-MM-DD, default: end of this month)")
	}
	reportMonthCmd.Flags().IntVar(&reportMonth, "month", 0, "Month 1-12 (default: current)")
	reportMonthCmd.Flags().IntVar(&reportYear, "year", 0, "Year (default: current)")
	reportExportCmd.Flags().StringVar(&reportFormat, "format", "csv", "Output format: csv, json, markdown, pdf")
	reportExportCmd.Flags().StringVarP(&reportOut, "out", "o", "", "Write to file instead of stdout (required for pdf)")

	reportCmd.AddCommand(reportTodayCmd)
	reportCmd.AddCommand(reportWeekCmd)
	reportCmd.AddCommand(reportMonthCmd)
	reportCmd.AddCommand(reportCategoryCmd)
	reportCmd.AddCommand(reportTaskCmd)
	reportCmd.AddCommand(reportDailyCmd)
	reportCmd.AddCommand(reportExportCmd)
	reportCmd.AddCommand(reportSummaryCmd)
	rootCmd.AddCommand(reportCmd)
}

// reportDeps opens the store and builds a reporter for the current user.
func reportDeps() (*report.Reporter, string, error) {
	s, err := getStore()
	if err != nil {
		return nil, "", err
	}
	user, err := currentUser()
	if err != nil {
		return nil, "", err
	}
	r, err := newReporter(s)
	if err != nil {
		return nil, "", err
	}
	return r, user, nil
}

// reportRange turns --from/--to into [from, to), defaulting to this month.
func reportRange(r *report.Reporter) (time.Time, time.Time, error) {
	loc := r.Location()
	now := time.Now().In(loc)
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	to := from.AddDate(0, 1, 0)

	if reportFrom != "" {
		d, err := r.ParseDate(reportFrom)
		if err != nil {
			return from, to, err
		}
		from = d
	}
	if reportTo != "" {
		d, err := r.ParseDate(reportTo)
		if err != nil {
			return from, to, err
		}
		to = d.AddDate(0, 0, 1)
	}
	return from, to, nil
}

func printSummary(label string, sum report.Summary) {
	fmt.Fprintf(ui.Out, "%s: %s across %d sessions (%.2fh, avg %dm)\n",
		label, output.Cyan(output.Duration(sum.TotalSeconds)), sum.SessionCount, sum.Hours, sum.AverageSessionMinutes)
}

func renderCategories(totals []report.CategoryTotal) error {
	table := ui.Table([]string{"Category", "Time", "Sessions", "Tasks"})
	for _, c := range totals {
		_ = table.Append([]string{c.Category, output.Duration(c.TotalSeconds), fmt.Sprint(c.SessionCount), fmt.Sprint(c.TaskCount)})
	}
	return table.Render()
}

func renderTasks(totals []report.TaskTotal) error {
	table := ui.Table([]string{"Task", "Category", "Time", "Sessions"})
	for _, t := range totals {
		_ = table.Append([]string{t.TaskTitle, t.Category, output.Duration(t.TotalSeconds), fmt.Sprint(t.SessionCount)})
	}
	return table.Render()
}

func renderDays(days []report.DayTotal) error {
	table := ui.Table([]string{"Date", "Time", "Sessions"})
	for _, d := range days {
		_ = table.Append([]string{d.Date, output.Duration(d.TotalSeconds), fmt.Sprint(d.SessionCount)})
	}
	return table.Render()
}

func reportTodayRun() error {
	r, user, err := reportDeps()
	if err != nil {
		return err
	}
	stats, err := r.Today(context.Background(), user)
	if err != nil {
		return err
	}
	printSummary("Today "+stats.Date, stats.Summary)
	if len(stats.ByCategory) == 0 {
		return nil
	}
	fmt.Fprintln(ui.Out)
	return renderCategories(stats.ByCategory)
}

func reportWeekRun() error {
	r, user, err := reportDeps()
	if err != nil {
		return err
	}
	stats, err := r.Weekly(context.Background(), user)
	if err != nil {
		return err
	}
	printSummary(fmt.Sprintf("Week of %s", stats.From.Format("2006-01-02")), stats.Summary)
	fmt.Fprintln(ui.Out)
	return renderDays(stats.Days)
}

func reportMonthRun() error {
	r, user, err := reportDeps()
	if err != nil {
		return err
	}
	stats, err := r.Monthly(context.Background(), user, reportMonth, reportYear)
	if err != nil {
		return err
	}
	printSummary(fmt.Sprintf("%s %d", time.Month(stats.Month), stats.Year), stats.Summary)
	if stats.SessionCount == 0 {
		return nil
	}
	fmt.Fprintln(ui.Out)
	if err := renderDays(stats.Days); err != nil {
		return err
	}
	fmt.Fprintln(ui.Out)
	if err := renderCategories(stats.ByCategory); err != nil {
		return err
	}
	fmt.Fprintln(ui.Out)
	return renderTasks(stats.ByTask)
}

func reportCategoryRun() error {
	r, user, err := reportDeps()
	if err != nil {
		return err
	}
	from, to, err := reportRange(r)
	if err != nil {
		return err
	}
	totals, err := r.ByCategory(context.Background(), user, from, to)
	if err != nil {
		return err
	}
	if len(totals) == 0 {
		ui.Info("No time logged between %s and %s.", from.Format("2006-01-02"), to.AddDate(0, 0, -1).Format("2006-01-02"))
		return nil
	}
	return renderCategories(totals)
}

func reportTaskRun() error {
	r, user, err := reportDeps()
	if err != nil {
		return err
	}
	from, to, err := reportRange(r)
	if err != nil {
		return err
	}
	totals, err := r.ByTask(context.Background(), user, from, to)
	if err != nil {
		return err
	}
	if len(totals) == 0 {
		ui.Info("No time logged between %s and %s.", from.Format("2006-01-02"), to.AddDate(0, 0, -1).Format("2006-01-02"))
		return nil
	}
	return renderTasks(totals)
}

func reportDailyRun(day string) error {
	r, user, err := reportDeps()
	if err != nil {
		return err
	}
	date := time.Now()
	if day != "" {
		if date, err = r.ParseDate(day); err != nil {
			return err
		}
	}
	sheet, err := r.Daily(context.Background(), user, date)
	if err != nil {
		return err
	}

	printSummary(sheet.Date, sheet.Summary)
	if sheet.RemainingMinutes > 0 {
		ui.Info("%s left to reach the daily target", output.Duration(sheet.RemainingMinutes*60))
	} else {
		ui.Success("Daily target reached")
	}
	if len(sheet.Entries) == 0 {
		return nil
	}
	fmt.Fprintln(ui.Out)
	table := ui.Table([]string{"Start", "End", "Task", "Category", "Duration", "Description"})
	for _, e := range sheet.Entries {
		end := ""
		if e.Closed() {
			end = e.EndTime.In(r.Location()).Format("15:04")
		}
		_ = table.Append([]string{
			e.StartTime.In(r.Location()).Format("15:04"),
			end,
			e.TaskTitle,
			e.Category,
			output.Duration(e.TotalDurationSeconds),
			e.Description,
		})
	}
	return table.Render()
}

func reportExportRun() error {
	r, user, err := reportDeps()
	if err != nil {
		return err
	}
	format, err := report.ParseFormat(reportFormat)
	if err != nil {
		return err
	}
	if format == report.FormatPDF && reportOut == "" {
		return fmt.Errorf("pdf export needs --out")
	}
	from, to, err := reportRange(r)
	if err != nil {
		return err
	}

	ts, err := r.Timesheet(context.Background(), user, from, to)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would export %d entries as %s to %s", len(ts.Entries), format, firstSet(reportOut, "stdout"))
		return nil
	}

	var w io.Writer = ui.Out
	if reportOut != "" {
		f, err := os.Create(reportOut)
		if err != nil {
			return fmt.Errorf("create %s: %w", reportOut, err)
		}
		defer f.Close()
		w = f
	}
	if err := report.Write(w, format, ts, r.Location()); err != nil {
		return err
	}
	if reportOut != "" {
		ui.Success("Exported %d entries to %s", len(ts.Entries), reportOut)
	}
	return nil
}

func reportSummaryRun() error {
	r, user, err := reportDeps()
	if err != nil {
		return err
	}
	client := newLLMClient()
	if client == nil {
		return fmt.Errorf("LLM not configured (set anthropic.api_key or ANTHROPIC_API_KEY)")
	}
	from, to, err := reportRange(r)
	if err != nil {
		return err
	}
	ts, err := r.Timesheet(context.Background(), user, from, to)
	if err != nil {
		return err
	}
	summary, err := client.SummarizeTimesheet(context.Background(), ts)
	if err != nil {
		return fmt.Errorf("summarize timesheet: %w", err)
	}
	fmt.Fprintln(ui.Out, summary)
	return nil
}
