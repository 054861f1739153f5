package api

import (
	"fmt"
	"net/http"

	"github.com/joescharf/tally/internal/report"
)

func (s *Server) todayStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.reporter.Today(r.Context(), userID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) weeklyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.reporter.Weekly(r.Context(), userID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) monthlyStats(w http.ResponseWriter, r *http.Request) {
	month, err := queryInt(r, "month", 0)
	if err != nil {
		writeFailure(w, err)
		return
	}
	year, err := queryInt(r, "year", 0)
	if err != nil {
		writeFailure(w, err)
		return
	}
	stats, err := s.reporter.Monthly(r.Context(), userID(r), month, year)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) categoryBreakdown(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.dateRange(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	totals, err := s.reporter.ByCategory(r.Context(), userID(r), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (s *Server) taskBreakdown(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.dateRange(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	totals, err := s.reporter.ByTask(r.Context(), userID(r), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

// timesheetReport returns the report as JSON, or as a csv, markdown or pdf
// download when format is given.
func (s *Server) timesheetReport(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.dateRange(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	ts, err := s.reporter.Timesheet(r.Context(), userID(r), from, to)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if format == report.FormatJSON {
		writeJSON(w, http.StatusOK, ts)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=timesheet-%s.%s",
		from.Format("2006-01-02"), extension(format)))
	if err := report.Write(w, format, ts, s.reporter.Location()); err != nil {
		s.log.Warn("write timesheet export", "format", format, "error", err)
	}
}

func (s *Server) timesheetSummary(w http.ResponseWriter, r *http.Request) {
	if s.llm == nil {
		writeError(w, http.StatusServiceUnavailable, "LLM not configured (set ANTHROPIC_API_KEY)")
		return
	}
	from, to, err := s.dateRange(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	ts, err := s.reporter.Timesheet(r.Context(), userID(r), from, to)
	if err != nil {
		writeFailure(w, err)
		return
	}
	summary, err := s.llm.SummarizeTimesheet(r.Context(), ts)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"start_date": from.Format("2006-01-02"),
		"end_date":   to.AddDate(0, 0, -1).Format("2006-01-02"),
		"summary":    summary,
	})
}

func extension(f report.Format) string {
	if f == report.FormatMarkdown {
		return "md"
	}
	return string(f)
}
