package cmd

import (
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/tally/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

Tools act as the configured user_id. Register it with an MCP client as:

  {
    "mcpServers": {
      "tally": { "command": "tally", "args": ["mcp"] }
    }
  }

Available tools: tally_list_tasks, tally_create_task, tally_start_timer,
tally_pause_timer, tally_stop_timer, tally_active_timer, tally_today_stats,
tally_daily_timesheet`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun(cmd)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	user, err := currentUser()
	if err != nil {
		return err
	}
	reporter, err := newReporter(s)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals()...)
	defer stop()

	srv := mcp.NewServer(s, newEngine(s), reporter, user, buildVersion)
	return srv.ServeStdio(ctx)
}
