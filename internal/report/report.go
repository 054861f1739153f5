// Package report aggregates closed time sessions into stats and timesheets.
package report

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/joescharf/tally/internal/models"
	"github.com/joescharf/tally/internal/store"
)

const (
	dateLayout = "2006-01-02"

	DefaultDailyTargetMinutes = 480
	DefaultRecentLimit        = 10
)

// SessionLister is the subset of store.Store the reporter reads from.
type SessionLister interface {
	ListTimeSessions(ctx context.Context, filter store.SessionListFilter) ([]*models.TimeSession, error)
}

// Reporter computes aggregates over a user's closed sessions. Sessions are
// attributed to the calendar day of their start time in the reporter's location.
type Reporter struct {
	store       SessionLister
	loc         *time.Location
	weekStart   time.Weekday
	dailyTarget int64
	now         func() time.Time
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithLocation sets the time zone used for day boundaries.
func WithLocation(loc *time.Location) Option {
	return func(r *Reporter) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithWeekStart sets the first day of the reporting week.
func WithWeekStart(d time.Weekday) Option {
	return func(r *Reporter) { r.weekStart = d }
}

// WithDailyTarget sets the minutes a daily timesheet counts down from.
func WithDailyTarget(minutes int) Option {
	return func(r *Reporter) {
		if minutes > 0 {
			r.dailyTarget = int64(minutes)
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) { r.now = now }
}

// NewReporter creates a Reporter. Weeks start on Sunday unless configured.
func NewReporter(s SessionLister, opts ...Option) *Reporter {
	r := &Reporter{
		store:       s,
		loc:         time.Local,
		weekStart:   time.Sunday,
		dailyTarget: DefaultDailyTargetMinutes,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ParseWeekday parses a weekday name such as "sunday" or "Mon".
func ParseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := d.String()
		if strings.EqualFold(s, name) || strings.EqualFold(s, name[:3]) {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", s)
}

// Summary is the aggregate of a set of sessions.
type Summary struct {
	SessionCount          int
	TotalSeconds          int64
	TotalMinutes          int64
	Hours                 float64
	AverageSessionMinutes int64
}

// DayTotal is the aggregate for one calendar day.
type DayTotal struct {
	Date string
	Summary
}

// CategoryTotal is the aggregate for one category.
type CategoryTotal struct {
	Category  string
	TaskCount int
	Summary
}

// TaskTotal is the aggregate for one task.
type TaskTotal struct {
	TaskID    string
	TaskTitle string
	Category  string
	Summary
}

// Period is a half-open time range [From, To).
type Period struct {
	From time.Time
	To   time.Time
}

// TodayStats covers the current day.
type TodayStats struct {
	Date       string
	ByCategory []CategoryTotal
	Summary
}

// WeeklyStats covers the current week, one DayTotal per day.
type WeeklyStats struct {
	Period
	Days []DayTotal
	Summary
}

// MonthlyStats covers one calendar month.
type MonthlyStats struct {
	Period
	Month      int
	Year       int
	Days       []DayTotal
	ByCategory []CategoryTotal
	ByTask     []TaskTotal
	Summary
}

// DailyTimesheet lists one day's sessions against the daily target.
type DailyTimesheet struct {
	Date             string
	Entries          []*models.TimeSession
	RemainingMinutes int64
	Summary
}

// Timesheet is the full report for a date range.
type Timesheet struct {
	Period
	Days       []DayTotal
	ByCategory []CategoryTotal
	ByTask     []TaskTotal
	Entries    []*models.TimeSession
	Summary
}

// Today returns totals for the current day.
func (r *Reporter) Today(ctx context.Context, userID string) (*TodayStats, error) {
	from := r.midnight(r.now())
	sessions, err := r.closed(ctx, userID, from, from.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	return &TodayStats{
		Date:       from.Format(dateLayout),
		ByCategory: byCategory(sessions),
		Summary:    summarize(sessions),
	}, nil
}

// Weekly returns per-day totals for the current week.
func (r *Reporter) Weekly(ctx context.Context, userID string) (*WeeklyStats, error) {
	from := r.WeekStart(r.now())
	to := from.AddDate(0, 0, 7)
	sessions, err := r.closed(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	return &WeeklyStats{
		Period:  Period{From: from, To: to},
		Days:    r.fillDays(from, to, sessions),
		Summary: summarize(sessions),
	}, nil
}

// Monthly returns totals for the given month. Zero values mean the current
// month and year.
func (r *Reporter) Monthly(ctx context.Context, userID string, month, year int) (*MonthlyStats, error) {
	now := r.now().In(r.loc)
	if month == 0 {
		month = int(now.Month())
	}
	if year == 0 {
		year = now.Year()
	}
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("%w: month must be 1-12", models.ErrValidation)
	}

	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, r.loc)
	to := from.AddDate(0, 1, 0)
	sessions, err := r.closed(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	return &MonthlyStats{
		Month:      month,
		Year:       year,
		Period:     Period{From: from, To: to},
		Days:       r.days(sessions),
		ByCategory: byCategory(sessions),
		ByTask:     byTask(sessions),
		Summary:    summarize(sessions),
	}, nil
}

// ByCategory returns per-category totals for [from, to).
func (r *Reporter) ByCategory(ctx context.Context, userID string, from, to time.Time) ([]CategoryTotal, error) {
	sessions, err := r.closed(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	return byCategory(sessions), nil
}

// ByTask returns per-task totals for [from, to).
func (r *Reporter) ByTask(ctx context.Context, userID string, from, to time.Time) ([]TaskTotal, error) {
	sessions, err := r.closed(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	return byTask(sessions), nil
}

// Daily returns the timesheet for the given calendar day.
func (r *Reporter) Daily(ctx context.Context, userID string, date time.Time) (*DailyTimesheet, error) {
	from := r.midnight(date)
	sessions, err := r.closed(ctx, userID, from, from.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	sortChronological(sessions)

	sum := summarize(sessions)
	remaining := r.dailyTarget - sum.TotalMinutes
	if remaining < 0 {
		remaining = 0
	}
	return &DailyTimesheet{
		Date:             from.Format(dateLayout),
		Entries:          sessions,
		RemainingMinutes: remaining,
		Summary:          sum,
	}, nil
}

// Recent returns the latest closed sessions, newest first.
func (r *Reporter) Recent(ctx context.Context, userID string, limit int) ([]*models.TimeSession, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	sessions, err := r.store.ListTimeSessions(ctx, store.SessionListFilter{UserID: userID, ClosedOnly: true, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("recent sessions: %w", err)
	}
	return sessions, nil
}

// Timesheet builds the full report for [from, to).
func (r *Reporter) Timesheet(ctx context.Context, userID string, from, to time.Time) (*Timesheet, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("%w: end date must be after start date", models.ErrValidation)
	}
	sessions, err := r.closed(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	sortChronological(sessions)
	return &Timesheet{
		Period:     Period{From: from, To: to},
		Days:       r.days(sessions),
		ByCategory: byCategory(sessions),
		ByTask:     byTask(sessions),
		Entries:    sessions,
		Summary:    summarize(sessions),
	}, nil
}

// ParseDate parses YYYY-MM-DD as midnight in the reporter's location.
func (r *Reporter) ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, s, r.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q, want YYYY-MM-DD", models.ErrValidation, s)
	}
	return t, nil
}

// Location returns the reporter's time zone.
func (r *Reporter) Location() *time.Location {
	return r.loc
}

// WeekStart returns midnight of the first day of the week containing t.
func (r *Reporter) WeekStart(t time.Time) time.Time {
	day := r.midnight(t)
	offset := (int(day.Weekday()) - int(r.weekStart) + 7) % 7
	return day.AddDate(0, 0, -offset)
}

func (r *Reporter) midnight(t time.Time) time.Time {
	y, m, d := t.In(r.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, r.loc)
}

func (r *Reporter) closed(ctx context.Context, userID string, from, to time.Time) ([]*models.TimeSession, error) {
	sessions, err := r.store.ListTimeSessions(ctx, store.SessionListFilter{
		UserID:     userID,
		From:       &from,
		To:         &to,
		ClosedOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// days groups sessions by day, returning only days with data in date order.
func (r *Reporter) days(sessions []*models.TimeSession) []DayTotal {
	groups := make(map[string][]*models.TimeSession)
	var keys []string
	for _, s := range sessions {
		key := s.StartTime.In(r.loc).Format(dateLayout)
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], s)
	}
	sort.Strings(keys)

	out := make([]DayTotal, 0, len(keys))
	for _, k := range keys {
		out = append(out, DayTotal{Date: k, Summary: summarize(groups[k])})
	}
	return out
}

// fillDays returns one DayTotal per day in [from, to), zeros included.
func (r *Reporter) fillDays(from, to time.Time, sessions []*models.TimeSession) []DayTotal {
	byDay := make(map[string]DayTotal)
	for _, d := range r.days(sessions) {
		byDay[d.Date] = d
	}
	var out []DayTotal
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		key := d.Format(dateLayout)
		if dt, ok := byDay[key]; ok {
			out = append(out, dt)
			continue
		}
		out = append(out, DayTotal{Date: key})
	}
	return out
}

func summarize(sessions []*models.TimeSession) Summary {
	var s Summary
	for _, ts := range sessions {
		s.SessionCount++
		s.TotalSeconds += ts.TotalDurationSeconds
	}
	s.TotalMinutes = s.TotalSeconds / 60
	s.Hours = math.Round(float64(s.TotalSeconds)/3600*100) / 100
	if s.SessionCount > 0 {
		s.AverageSessionMinutes = s.TotalMinutes / int64(s.SessionCount)
	}
	return s
}

func byCategory(sessions []*models.TimeSession) []CategoryTotal {
	groups := make(map[string][]*models.TimeSession)
	for _, s := range sessions {
		cat := s.Category
		if cat == "" {
			cat = models.DefaultCategory
		}
		groups[cat] = append(groups[cat], s)
	}

	out := make([]CategoryTotal, 0, len(groups))
	for cat, list := range groups {
		tasks := make(map[string]struct{})
		for _, s := range list {
			tasks[s.TaskID] = struct{}{}
		}
		out = append(out, CategoryTotal{Category: cat, TaskCount: len(tasks), Summary: summarize(list)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalSeconds != out[j].TotalSeconds {
			return out[i].TotalSeconds > out[j].TotalSeconds
		}
		return out[i].Category < out[j].Category
	})
	return out
}

func byTask(sessions []*models.TimeSession) []TaskTotal {
	groups := make(map[string][]*models.TimeSession)
	for _, s := range sessions {
		groups[s.TaskID] = append(groups[s.TaskID], s)
	}

	out := make([]TaskTotal, 0, len(groups))
	for id, list := range groups {
		// Titles are denormalized; the latest session carries the freshest one.
		latest := list[0]
		for _, s := range list[1:] {
			if s.StartTime.After(latest.StartTime) {
				latest = s
			}
		}
		out = append(out, TaskTotal{
			TaskID:    id,
			TaskTitle: latest.TaskTitle,
			Category:  latest.Category,
			Summary:   summarize(list),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalSeconds != out[j].TotalSeconds {
			return out[i].TotalSeconds > out[j].TotalSeconds
		}
		return out[i].TaskTitle < out[j].TaskTitle
	})
	return out
}

func sortChronological(sessions []*models.TimeSession) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})
}
