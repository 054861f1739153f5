package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tally/internal/report"
)

func TestBuildCategoryPrompt(t *testing.T) {
	t.Run("with known categories", func(t *testing.T) {
		system, user := buildCategoryPrompt("Prepare sprint demo", "Slides and a recorded walkthrough", []string{"Development", "Meetings"})

		assert.Contains(t, system, `"category"`)
		assert.Contains(t, system, `"priority"`)
		assert.Contains(t, system, `"estimated_minutes"`)
		assert.Contains(t, system, `"urgent"`)

		assert.Contains(t, user, "Known categories: Development, Meetings")
		assert.Contains(t, user, "Prepare sprint demo")
		assert.Contains(t, user, "recorded walkthrough")
	})

	t.Run("title only", func(t *testing.T) {
		_, user := buildCategoryPrompt("Pay invoices", "", nil)

		assert.NotContains(t, user, "Known categories")
		assert.NotContains(t, user, "Description")
		assert.Contains(t, user, "Pay invoices")
	})
}

func TestBuildSummaryPrompt(t *testing.T) {
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	ts := &report.Timesheet{
		Period:     report.Period{From: from, To: from.AddDate(0, 0, 7)},
		Days:       []report.DayTotal{{Date: "2026-03-02", Summary: report.Summary{SessionCount: 2, TotalMinutes: 150}}},
		ByCategory: []report.CategoryTotal{{Category: "Development", Summary: report.Summary{SessionCount: 2, TotalMinutes: 150}}},
		ByTask:     []report.TaskTotal{{TaskTitle: "Ledger refactor", Category: "Development", Summary: report.Summary{TotalMinutes: 150}}},
		Summary:    report.Summary{SessionCount: 2, TotalSeconds: 9000, TotalMinutes: 150},
	}

	system, user := buildSummaryPrompt(ts)
	assert.Contains(t, system, "Do not invent work")
	assert.Contains(t, user, "Period: 2026-03-02 to 2026-03-09")
	assert.Contains(t, user, "Total: 02:30:00 over 2 sessions")
	assert.Contains(t, user, "- Development: 150 min in 2 sessions")
	assert.Contains(t, user, "- Ledger refactor (Development): 150 min")
	assert.Contains(t, user, "- 2026-03-02: 150 min in 2 sessions")
}

func TestSummarizeTimesheet_EmptySkipsAPI(t *testing.T) {
	c := NewClient("", "claude-test")
	got, err := c.SummarizeTimesheet(context.Background(), &report.Timesheet{})
	require.NoError(t, err)
	assert.Equal(t, "No time was tracked in this period.", got)
}

func TestStripFencing(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFencing("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFencing("  {\"a\":1}  "))
}
