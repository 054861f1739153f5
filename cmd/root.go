package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/tally/internal/output"
	"github.com/joescharf/tally/internal/report"
	"github.com/joescharf/tally/internal/store"
	"github.com/joescharf/tally/internal/timer"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	logger    *slog.Logger

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "tally",
	Short: "Tally - track time against tasks",
	Long: `tally is a single-user-per-process time tracker.
It keeps a task list, runs one timer per user with pause and resume,
and reports logged time by day, week, month, category and task.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return rootRun(cmd)
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/tally/config.yaml)")
	rootCmd.PersistentFlags().StringP("user", "u", "", "User ID to act as (default $USER)")
	_ = viper.BindPFlag("user_id", rootCmd.PersistentFlags().Lookup("user"))
}

func initConfig() {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		viper.AddConfigPath(filepath.Join(home, ".config", "tally"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TALLY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// Config file is optional.
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key. Tests call it after viper.Reset.
func setDefaults() {
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "tally")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "tally.db"))
	viper.SetDefault("user_id", os.Getenv("USER"))
	viper.SetDefault("port", 8080)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("report.week_start", "sunday")
	viper.SetDefault("report.timezone", "Local")
	viper.SetDefault("report.daily_target_minutes", report.DefaultDailyTargetMinutes)
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	logger = newLogger(viper.GetString("log.level"), verbose)
	slog.SetDefault(logger)
}

// newLogger writes text logs to stderr. --verbose forces debug.
func newLogger(level string, debug bool) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	if debug {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// rootRun handles `tally` with no subcommand: show the running timer.
func rootRun(cmd *cobra.Command) error {
	if _, err := getStore(); err != nil {
		return cmd.Help()
	}
	return timerStatusRun()
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// currentUser is the user every CLI command acts as.
func currentUser() (string, error) {
	u := strings.TrimSpace(viper.GetString("user_id"))
	if u == "" {
		return "", fmt.Errorf("no user configured (set user_id, TALLY_USER_ID or --user)")
	}
	return u, nil
}

func newEngine(s store.Store) *timer.Engine {
	return timer.NewEngine(s, timer.WithLogger(logger))
}

// newReporter builds a reporter from the report.* config keys.
func newReporter(s store.Store) (*report.Reporter, error) {
	loc := time.Local
	if tz := viper.GetString("report.timezone"); tz != "" && tz != "Local" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("report.timezone: %w", err)
		}
		loc = l
	}
	weekStart, err := report.ParseWeekday(viper.GetString("report.week_start"))
	if err != nil {
		return nil, fmt.Errorf("report.week_start: %w", err)
	}
	return report.NewReporter(s,
		report.WithLocation(loc),
		report.WithWeekStart(weekStart),
		report.WithDailyTarget(viper.GetInt("report.daily_target_minutes")),
	), nil
}

// shortID returns a truncated ULID for display (first 12 chars).
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
