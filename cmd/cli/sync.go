package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kurihiro0119/contribution-mirror/internal/config"
	"github.com/kurihiro0119/contribution-mirror/internal/cursor"
	apperrors "github.com/kurihiro0119/contribution-mirror/internal/errors"
	"github.com/kurihiro0119/contribution-mirror/internal/publish"
	"github.com/kurihiro0119/contribution-mirror/internal/replicator"
	"github.com/kurihiro0119/contribution-mirror/internal/runner"
	"github.com/kurihiro0119/contribution-mirror/internal/source"
	"github.com/kurihiro0119/contribution-mirror/internal/target"
	"github.com/kurihiro0119/contribution-mirror/internal/workspace"
)

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := slog.Default()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return apperrors.NewConfigError("invalid config", err)
	}

	cloneURL, err := resolveCloneURL(cmd, cfg, logger)
	if err != nil {
		return err
	}

	auth, err := workspace.TokenAuth(cloneURL, cfg.GitHubUsername, cfg.GitHubToken)
	if err != nil {
		return apperrors.NewConfigError("invalid clone URL", err)
	}

	logger.Info("preparing working copy", "dir", cfg.WorkDir)
	ws, err := workspace.Prepare(ctx, cfg.WorkDir, workspace.Options{RemoteURL: cloneURL, Auth: auth})
	if err != nil {
		return apperrors.NewWorkspaceError("failed to prepare working copy", err)
	}

	src, err := source.NewGitLabSource(source.GitLabOptions{
		BaseURL: cfg.GitLabURL,
		UserID:  cfg.GitLabUserID,
		Token:   cfg.GitLabToken,
		Timeout: cfg.RequestTimeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	store := cursor.NewStore(ws.Filesystem(), ws, cfg.StateFileName, cfg.Lookback())
	author := replicator.Author{Name: cfg.CommitAuthorName, Email: cfg.CommitAuthorEmail}
	rep := replicator.New(ws, store, author, cfg.SourceLabel, logger)
	protocol := publish.New(ws, publish.Options{
		TargetBranch:   cfg.TargetBranch,
		CursorPath:     store.Path(),
		CommitterName:  cfg.CommitAuthorName,
		CommitterEmail: cfg.CommitAuthorEmail,
		Logger:         logger,
	})

	var ledger runner.Ledger
	if db, err := getStorage(cfg); err != nil {
		logger.Warn("run ledger unavailable, this run will not be recorded", "error", err)
	} else {
		defer db.Close()
		ledger = db
	}

	rec, err := runner.New(runner.Config{
		Publisher:    protocol,
		Source:       src,
		Cursor:       store,
		Replayer:     rep,
		Ledger:       ledger,
		TargetBranch: cfg.TargetBranch,
		Logger:       logger,
	}).Run(ctx)

	if outputJSON {
		if jsonErr := printJSON(cmd.OutOrStdout(), rec); jsonErr != nil && err == nil {
			return jsonErr
		}
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case err != nil:
		fmt.Fprintf(out, "Sync %s failed in state %s\n", rec.ID, rec.State)
		if rec.CommitCount > 0 {
			fmt.Fprintf(out, "Branch %s kept with %d commits\n", rec.Branch, rec.CommitCount)
		}
	case rec.CommitCount == 0:
		fmt.Fprintf(out, "Nothing to sync since %s\n", rec.Since)
	default:
		fmt.Fprintf(out, "Synced %d events into %s, next cursor %s\n", rec.CommitCount, cfg.TargetBranch, rec.Next)
	}
	return err
}

// resolveCloneURL returns the URL to clone from, asking GitHub for it unless
// the preflight is disabled.
func resolveCloneURL(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger) (string, error) {
	if cfg.SkipTargetCheck {
		logger.Debug("skipping target preflight")
		return cfg.TargetCloneURL(), nil
	}

	resolver, err := target.NewResolver(target.Options{
		Token:   cfg.GitHubToken,
		APIURL:  cfg.GitHubAPIURL,
		Timeout: cfg.RequestTimeout,
		Logger:  logger,
	})
	if err != nil {
		return "", err
	}

	repo, err := resolver.Resolve(cmd.Context(), cfg.GitHubUsername, cfg.GitHubRepoName, cfg.TargetBranch)
	if err != nil {
		return "", err
	}
	if repo.CloneURL == "" {
		return cfg.TargetCloneURL(), nil
	}
	return repo.CloneURL, nil
}
