package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/joescharf/tally/internal/models"
)

// Format names an export format.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatPDF      Format = "pdf"
)

// ParseFormat accepts csv, json, md/markdown and pdf.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "csv":
		return FormatCSV, nil
	case "json", "":
		return FormatJSON, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "pdf":
		return FormatPDF, nil
	}
	return "", fmt.Errorf("%w: unknown format %q", models.ErrValidation, s)
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/json"
	}
}

// Write renders the timesheet in format f.
func Write(w io.Writer, f Format, ts *Timesheet, loc *time.Location) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, ts.Entries, loc)
	case FormatMarkdown:
		return WriteMarkdown(w, ts, loc)
	case FormatPDF:
		return WritePDF(w, ts, loc)
	default:
		return WriteJSON(w, ts, loc)
	}
}

// CSVHeader is the column layout of timesheet CSV exports.
var CSVHeader = []string{"Date", "Task", "Category", "Start Time", "End Time", "Duration (minutes)", "Description"}

// WriteCSV writes one row per session.
func WriteCSV(w io.Writer, sessions []*models.TimeSession, loc *time.Location) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, s := range sessions {
		start := s.StartTime.In(loc)
		end := ""
		if s.EndTime != nil {
			end = s.EndTime.In(loc).Format("15:04:05")
		}
		row := []string{
			start.Format(dateLayout),
			s.TaskTitle,
			s.Category,
			start.Format("15:04:05"),
			end,
			fmt.Sprintf("%d", s.DurationMinutes()),
			s.Description,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

type jsonExport struct {
	ExportedAt string         `json:"exported_at"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Summary    jsonSummary    `json:"summary"`
	ByCategory []jsonCategory `json:"by_category"`
	ByTask     []jsonTask     `json:"by_task"`
	Entries    []jsonEntry    `json:"entries"`
}

type jsonSummary struct {
	SessionCount          int     `json:"session_count"`
	TotalSeconds          int64   `json:"total_seconds"`
	TotalMinutes          int64   `json:"total_minutes"`
	Hours                 float64 `json:"hours"`
	AverageSessionMinutes int64   `json:"average_session_minutes"`
}

type jsonCategory struct {
	Category     string `json:"category"`
	TaskCount    int    `json:"task_count"`
	SessionCount int    `json:"session_count"`
	TotalMinutes int64  `json:"total_minutes"`
}

type jsonTask struct {
	TaskID       string `json:"task_id"`
	Task         string `json:"task"`
	Category     string `json:"category"`
	SessionCount int    `json:"session_count"`
	TotalMinutes int64  `json:"total_minutes"`
}

type jsonEntry struct {
	ID          string `json:"id"`
	TaskID      string `json:"task_id"`
	Task        string `json:"task"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time,omitempty"`
	DurationSec int64  `json:"duration_seconds"`
	Duration    string `json:"duration"`
	Intervals   int    `json:"intervals"`
}

// WriteJSON writes the timesheet as an indented JSON document.
func WriteJSON(w io.Writer, ts *Timesheet, loc *time.Location) error {
	out := jsonExport{
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		From:       ts.From.In(loc).Format(dateLayout),
		To:         ts.To.In(loc).Format(dateLayout),
		Summary: jsonSummary{
			SessionCount:          ts.SessionCount,
			TotalSeconds:          ts.TotalSeconds,
			TotalMinutes:          ts.TotalMinutes,
			Hours:                 ts.Hours,
			AverageSessionMinutes: ts.AverageSessionMinutes,
		},
		ByCategory: []jsonCategory{},
		ByTask:     []jsonTask{},
		Entries:    []jsonEntry{},
	}
	for _, c := range ts.ByCategory {
		out.ByCategory = append(out.ByCategory, jsonCategory{
			Category: c.Category, TaskCount: c.TaskCount, SessionCount: c.SessionCount, TotalMinutes: c.TotalMinutes,
		})
	}
	for _, t := range ts.ByTask {
		out.ByTask = append(out.ByTask, jsonTask{
			TaskID: t.TaskID, Task: t.TaskTitle, Category: t.Category, SessionCount: t.SessionCount, TotalMinutes: t.TotalMinutes,
		})
	}
	for _, s := range ts.Entries {
		end := ""
		if s.EndTime != nil {
			end = s.EndTime.In(loc).Format(time.RFC3339)
		}
		out.Entries = append(out.Entries, jsonEntry{
			ID:          s.ID,
			TaskID:      s.TaskID,
			Task:        s.TaskTitle,
			Category:    s.Category,
			Description: s.Description,
			StartTime:   s.StartTime.In(loc).Format(time.RFC3339),
			EndTime:     end,
			DurationSec: s.TotalDurationSeconds,
			Duration:    FormatDuration(s.TotalDurationSeconds),
			Intervals:   len(s.Intervals),
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// WriteMarkdown writes a human-readable summary with tables.
func WriteMarkdown(w io.Writer, ts *Timesheet, loc *time.Location) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Timesheet %s to %s\n\n", ts.From.In(loc).Format(dateLayout), ts.To.In(loc).AddDate(0, 0, -1).Format(dateLayout))
	fmt.Fprintf(&b, "**Total:** %s across %d sessions (%.2f h, average %d min)\n\n",
		FormatDuration(ts.TotalSeconds), ts.SessionCount, ts.Hours, ts.AverageSessionMinutes)

	if len(ts.ByCategory) > 0 {
		b.WriteString("## By category\n\n| Category | Tasks | Sessions | Minutes |\n|---|---|---|---|\n")
		for _, c := range ts.ByCategory {
			fmt.Fprintf(&b, "| %s | %d | %d | %d |\n", mdEscape(c.Category), c.TaskCount, c.SessionCount, c.TotalMinutes)
		}
		b.WriteString("\n")
	}
	if len(ts.ByTask) > 0 {
		b.WriteString("## By task\n\n| Task | Category | Sessions | Minutes |\n|---|---|---|---|\n")
		for _, t := range ts.ByTask {
			fmt.Fprintf(&b, "| %s | %s | %d | %d |\n", mdEscape(t.TaskTitle), mdEscape(t.Category), t.SessionCount, t.TotalMinutes)
		}
		b.WriteString("\n")
	}
	if len(ts.Entries) > 0 {
		b.WriteString("## Entries\n\n| Date | Task | Start | End | Duration | Description |\n|---|---|---|---|---|---|\n")
		for _, s := range ts.Entries {
			end := ""
			if s.EndTime != nil {
				end = s.EndTime.In(loc).Format("15:04")
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
				s.StartTime.In(loc).Format(dateLayout), mdEscape(s.TaskTitle), s.StartTime.In(loc).Format("15:04"), end,
				FormatDuration(s.TotalDurationSeconds), mdEscape(s.Description))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// FormatDuration renders seconds as HH:MM:SS.
func FormatDuration(secs int64) string {
	if secs < 0 {
		secs = 0
	}
	h := secs / 3600
	m := (secs % 3600) / 60
	s := secs % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func mdEscape(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}
