package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kurihiro0119/contribution-mirror/internal/config"
	apperrors "github.com/kurihiro0119/contribution-mirror/internal/errors"
	"github.com/kurihiro0119/contribution-mirror/internal/storage"
	"github.com/kurihiro0119/contribution-mirror/internal/storage/postgres"
	"github.com/kurihiro0119/contribution-mirror/internal/storage/sqlite"
)

var (
	cfgFile    string
	verbose    bool
	outputJSON bool
	endpoint   string
	limit      int
)

var rootCmd = &cobra.Command{
	Use:   "contribution-mirror",
	Short: "Mirror GitLab push activity onto a GitHub repository",
	Long: `A CLI tool that replays GitLab push events as empty, backdated commits
in a GitHub repository so the activity shows up on the contribution graph.

Each sync runs on its own branch, merges it into the target branch with a
merge commit and pushes. Every run is recorded in a local run ledger.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay new GitLab events into the target repository",
	Long: `Fetch the target branch, replay every GitLab push event since the stored
cursor as an empty commit, advance the cursor and publish the result.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show run ledger summary",
	Long:  `Display totals, the current cursor and the last failure from the run ledger.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent sync runs",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var commitsCmd = &cobra.Command{
	Use:   "commits [run-id]",
	Short: "Show the commits a run created",
	Long:  `Display the event id to commit mapping recorded for one run.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runCommits,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "env file (default is .env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	for _, cmd := range []*cobra.Command{statusCmd, historyCmd, commitsCmd} {
		cmd.Flags().StringVar(&endpoint, "endpoint", "", "status API to read from (default is API_ENDPOINT, else the local ledger)")
	}
	historyCmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(commitsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(apperrors.ExitCode(err))
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, apperrors.NewConfigError("failed to load config", err)
	}
	return cfg, nil
}

func getStorage(cfg *config.Config) (storage.Storage, error) {
	if err := cfg.ValidateStorage(); err != nil {
		return nil, apperrors.NewConfigError("invalid storage config", err)
	}

	switch cfg.StorageType {
	case "postgres":
		return postgres.NewPostgresStorage(cfg.PostgresURL)
	default:
		return sqlite.NewSQLiteStorage(cfg.SQLitePath)
	}
}
