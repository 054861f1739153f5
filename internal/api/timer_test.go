package api

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tally/internal/models"
	"github.com/joescharf/tally/internal/report"
)

func TestTimerLifecycle_API(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()
	task := createTaskViaAPI(t, router, "Focus")

	// Nothing running yet.
	w := do(t, router, "GET", "/api/v1/timer/active", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "null", strings.TrimSpace(w.Body.String()))

	w = do(t, router, "POST", "/api/v1/timer/start", `{"task_id":"`+task.ID+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var started StartTimerResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	assert.Equal(t, task.ID, started.ActiveTimer.TaskID)
	assert.Equal(t, "Working on Focus", started.Session.Description)
	assert.Nil(t, started.AutoStopped)

	w = do(t, router, "GET", "/api/v1/timer/active", "")
	var active models.ActiveTimerView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &active))
	assert.Equal(t, started.Session.ID, active.SessionID)
	assert.Equal(t, "Focus", active.TaskTitle)

	w = do(t, router, "POST", "/api/v1/timer/pause", "")
	require.Equal(t, http.StatusOK, w.Code)
	var paused models.TimeSession
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &paused))
	assert.Equal(t, models.TimerStatePaused, paused.State)

	w = do(t, router, "POST", "/api/v1/timer/pause", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "nothing left to pause")

	w = do(t, router, "POST", "/api/v1/timer/start", `{"task_id":"`+task.ID+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	assert.Equal(t, paused.ID, started.Session.ID, "resumed")
	assert.Len(t, started.Session.Intervals, 2)

	w = do(t, router, "POST", "/api/v1/timer/stop", `{"description":"shipped it"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var stopped models.TimeSession
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stopped))
	assert.Equal(t, models.TimerStateStopped, stopped.State)
	assert.NotNil(t, stopped.EndTime)
	assert.Equal(t, "shipped it", stopped.Description)

	w = do(t, router, "POST", "/api/v1/timer/stop", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartTimer_Errors(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()
	task := createTaskViaAPI(t, router, "Mine")

	w := do(t, router, "POST", "/api/v1/timer/start", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "POST", "/api/v1/timer/start", `{"task_id":"nope"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, "POST", "/api/v1/timer/start", `{"task_id":"`+task.ID+`"}`, "bob")
	assert.Equal(t, http.StatusNotFound, w.Code, "cannot time another user's task")
}

func TestStartTimer_AutoStop(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()
	a := createTaskViaAPI(t, router, "A")
	b := createTaskViaAPI(t, router, "B")

	do(t, router, "POST", "/api/v1/timer/start", `{"task_id":"`+a.ID+`"}`)
	w := do(t, router, "POST", "/api/v1/timer/start", `{"task_id":"`+b.ID+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var res StartTimerResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotNil(t, res.AutoStopped)
	assert.Equal(t, a.ID, res.AutoStopped.TaskID)
	assert.Equal(t, models.TimerStateStopped, res.AutoStopped.State)
}

func TestTimesheetEntries_API(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()
	task := createTaskViaAPI(t, router, "Review")

	start := time.Now().UTC().Add(-3 * time.Hour).Truncate(time.Second)
	body := `{"task_id":"` + task.ID + `","start_time":"` + start.Format(time.RFC3339) + `","duration_minutes":30}`
	w := do(t, router, "POST", "/api/v1/timesheet", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var entry models.TimeSession
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entry))
	assert.Equal(t, int64(1800), entry.TotalDurationSeconds)

	w = do(t, router, "POST", "/api/v1/timesheet", `{"task_id":"`+task.ID+`","start_time":"`+start.Format(time.RFC3339)+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "end or duration required")

	future := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	w = do(t, router, "POST", "/api/v1/timesheet", `{"task_id":"`+task.ID+`","start_time":"`+start.Format(time.RFC3339)+`","end_time":"`+future+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "future end rejected")

	w = do(t, router, "GET", "/api/v1/timesheet/"+entry.ID, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, "PUT", "/api/v1/timesheet/"+entry.ID, `{"description":"code review"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var edited models.TimeSession
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &edited))
	assert.Equal(t, "code review", edited.Description)

	w = do(t, router, "GET", "/api/v1/timesheet?task_id="+task.ID, "")
	var list []*models.TimeSession
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	w = do(t, router, "GET", "/api/v1/timesheet/recent?limit=5", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	w = do(t, router, "GET", "/api/v1/timesheet?state=stopped", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	w = do(t, router, "GET", "/api/v1/timesheet?state=bogus", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "GET", "/api/v1/timesheet?start_date=bad", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "DELETE", "/api/v1/timesheet/"+entry.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, router, "GET", "/api/v1/timesheet/"+entry.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteRunningEntry_Conflict(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()
	task := createTaskViaAPI(t, router, "Busy")

	w := do(t, router, "POST", "/api/v1/timer/start", `{"task_id":"`+task.ID+`"}`)
	var res StartTimerResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))

	w = do(t, router, "DELETE", "/api/v1/timesheet/"+res.Session.ID, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStatsAndReports_API(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()
	task := createTaskViaAPI(t, router, "Docs")

	// Log an hour at the start of today so it lands in today, this week and this month.
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if now.Sub(start) < time.Hour {
		t.Skip("too close to midnight for a same-day entry")
	}
	end := start.Add(time.Hour)
	body := `{"task_id":"` + task.ID + `","start_time":"` + start.Format(time.RFC3339) + `","end_time":"` + end.Format(time.RFC3339) + `"}`
	w := do(t, router, "POST", "/api/v1/timesheet", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, router, "GET", "/api/v1/stats/today", "")
	require.Equal(t, http.StatusOK, w.Code)
	var today report.TodayStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &today))
	assert.Equal(t, int64(60), today.TotalMinutes)

	w = do(t, router, "GET", "/api/v1/stats/weekly", "")
	require.Equal(t, http.StatusOK, w.Code)
	var weekly report.WeeklyStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &weekly))
	assert.Len(t, weekly.Days, 7)
	assert.Equal(t, 1, weekly.SessionCount)

	w = do(t, router, "GET", "/api/v1/stats/monthly", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, "GET", "/api/v1/stats/monthly?month=13", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "GET", "/api/v1/breakdown/category", "")
	require.Equal(t, http.StatusOK, w.Code)
	var cats []report.CategoryTotal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cats))
	require.Len(t, cats, 1)
	assert.Equal(t, "Dev", cats[0].Category)

	w = do(t, router, "GET", "/api/v1/breakdown/task", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, "GET", "/api/v1/timesheet/daily/"+start.Format("2006-01-02"), "")
	require.Equal(t, http.StatusOK, w.Code)
	var daily report.DailyTimesheet
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &daily))
	assert.Equal(t, 1, daily.SessionCount)
	assert.Equal(t, int64(report.DefaultDailyTargetMinutes-60), daily.RemainingMinutes)

	day := start.Format("2006-01-02")
	w = do(t, router, "GET", "/api/v1/reports/timesheet?start_date="+day+"&end_date="+day, "")
	require.Equal(t, http.StatusOK, w.Code)
	var ts report.Timesheet
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ts))
	assert.Len(t, ts.Entries, 1)

	w = do(t, router, "GET", "/api/v1/reports/timesheet?start_date="+day+"&end_date="+day+"&format=csv", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "timesheet-"+day+".csv")
	records, err := csv.NewReader(w.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "60", records[1][5])

	w = do(t, router, "GET", "/api/v1/reports/timesheet?format=xml", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
