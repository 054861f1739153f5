package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/tally/internal/models"
	"github.com/joescharf/tally/internal/report"
)

// Client wraps the Anthropic API for task triage and timesheet summaries.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// complete sends one system/user exchange and returns the first text block
// with any markdown fencing removed.
func (c *Client) complete(ctx context.Context, system, user string, maxTokens int64) (string, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return "", fmt.Errorf("no text content in API response")
	}
	return stripFencing(text), nil
}

func stripFencing(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

// CategorySuggestion is the LLM's triage of a new task.
type CategorySuggestion struct {
	Category         string `json:"category"`
	Priority         string `json:"priority"`
	EstimatedMinutes int    `json:"estimated_minutes"`
}

// buildCategoryPrompt constructs the prompts for task triage.
func buildCategoryPrompt(title, description string, known []string) (system string, user string) {
	system = `You triage tasks for a personal time-tracking tool. Given a task title and optional description, return a JSON object with exactly three fields:

- "category": a short (1-3 word) work category such as "Development", "Meetings", "Admin", "Research" or "Support"
- "priority": one of "low", "medium", "high", "urgent"
- "estimated_minutes": a realistic whole-number estimate of the time the task needs

Rules:
- Prefer one of the known categories when it fits; only invent a new one when none fits
- Default priority to "medium" unless the text signals urgency or low importance
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	if len(known) > 0 {
		sb.WriteString("Known categories: ")
		sb.WriteString(strings.Join(known, ", "))
		sb.WriteString("\n\n")
	}
	sb.WriteString("Task title: ")
	sb.WriteString(title)
	sb.WriteString("\n")
	if description != "" {
		sb.WriteString("\nDescription: ")
		sb.WriteString(description)
		sb.WriteString("\n")
	}
	user = sb.String()
	return
}

// SuggestCategory proposes a category, priority and estimate for a task.
// Out-of-range values in the reply are dropped rather than returned.
func (c *Client) SuggestCategory(ctx context.Context, title, description string, known []string) (*CategorySuggestion, error) {
	system, user := buildCategoryPrompt(title, description, known)
	text, err := c.complete(ctx, system, user, 512)
	if err != nil {
		return nil, err
	}

	var s CategorySuggestion
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	s.Category = strings.TrimSpace(s.Category)
	if !models.TaskPriority(s.Priority).Valid() {
		s.Priority = ""
	}
	if s.EstimatedMinutes < 0 {
		s.EstimatedMinutes = 0
	}
	return &s, nil
}

// buildSummaryPrompt renders a timesheet as plain text for summarization.
func buildSummaryPrompt(ts *report.Timesheet) (system string, user string) {
	system = `You write short weekly-status style summaries of a person's tracked time. Given a timesheet, write 3-6 sentences of plain prose covering where the time went, the largest categories and tasks, and any notable patterns such as fragmented days or very long sessions. Do not invent work that is not in the timesheet. No markdown headings or bullet lists.`

	var sb strings.Builder
	fmt.Fprintf(&sb, "Period: %s to %s\n", ts.From.Format("2006-01-02"), ts.To.Format("2006-01-02"))
	fmt.Fprintf(&sb, "Total: %s over %d sessions\n", report.FormatDuration(ts.TotalSeconds), ts.SessionCount)
	if len(ts.ByCategory) > 0 {
		sb.WriteString("\nBy category:\n")
		for _, c := range ts.ByCategory {
			fmt.Fprintf(&sb, "- %s: %d min in %d sessions\n", c.Category, c.TotalMinutes, c.SessionCount)
		}
	}
	if len(ts.ByTask) > 0 {
		sb.WriteString("\nBy task:\n")
		for _, t := range ts.ByTask {
			fmt.Fprintf(&sb, "- %s (%s): %d min\n", t.TaskTitle, t.Category, t.TotalMinutes)
		}
	}
	if len(ts.Days) > 0 {
		sb.WriteString("\nBy day:\n")
		for _, d := range ts.Days {
			fmt.Fprintf(&sb, "- %s: %d min in %d sessions\n", d.Date, d.TotalMinutes, d.SessionCount)
		}
	}
	user = sb.String()
	return
}

// SummarizeTimesheet returns a prose summary of the timesheet.
func (c *Client) SummarizeTimesheet(ctx context.Context, ts *report.Timesheet) (string, error) {
	if ts.SessionCount == 0 {
		return "No time was tracked in this period.", nil
	}
	system, user := buildSummaryPrompt(ts)
	return c.complete(ctx, system, user, 1024)
}
