package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/contribution-mirror/internal/aggregator"
	"github.com/kurihiro0119/contribution-mirror/internal/config"
	"github.com/kurihiro0119/contribution-mirror/internal/domain"
	apperrors "github.com/kurihiro0119/contribution-mirror/internal/errors"
	"github.com/kurihiro0119/contribution-mirror/internal/storage"
	"github.com/kurihiro0119/contribution-mirror/pkg/client"
)

// ledgerReader is the read side shared by the local ledger and the status API
type ledgerReader interface {
	ListRuns(ctx context.Context, limit int) ([]*domain.RunRecord, error)
	GetRun(ctx context.Context, id string) (*domain.RunRecord, error)
	GetRunCommits(ctx context.Context, id string) ([]domain.CommitRecord, error)
	GetSummary(ctx context.Context) (*domain.RunSummary, error)
	Close() error
}

type localLedger struct {
	store storage.Storage
	agg   aggregator.Aggregator
}

func (l *localLedger) ListRuns(ctx context.Context, limit int) ([]*domain.RunRecord, error) {
	return l.store.ListRuns(ctx, limit)
}

func (l *localLedger) GetRun(ctx context.Context, id string) (*domain.RunRecord, error) {
	run, err := l.store.GetRun(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewNotFoundError("run " + id)
	}
	return run, err
}

func (l *localLedger) GetRunCommits(ctx context.Context, id string) ([]domain.CommitRecord, error) {
	if _, err := l.GetRun(ctx, id); err != nil {
		return nil, err
	}
	return l.store.GetCommits(ctx, id)
}

func (l *localLedger) GetSummary(ctx context.Context) (*domain.RunSummary, error) {
	return l.agg.Summarize(ctx)
}

func (l *localLedger) Close() error {
	return l.store.Close()
}

type remoteLedger struct {
	*client.Client
}

func (remoteLedger) Close() error { return nil }

func openLedger() (ledgerReader, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return ledgerFor(cfg, endpoint)
}

// ledgerFor picks the status API named by override or API_ENDPOINT, falling
// back to the local ledger when neither is set.
func ledgerFor(cfg *config.Config, override string) (ledgerReader, error) {
	url := override
	if url == "" {
		url = cfg.APIEndpoint
	}
	if url != "" {
		return remoteLedger{client.NewClient(url)}, nil
	}

	store, err := getStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return &localLedger{store: store, agg: aggregator.NewAggregator(store)}, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ledger, err := openLedger()
	if err != nil {
		return err
	}
	defer ledger.Close()

	summary, err := ledger.GetSummary(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get summary: %w", err)
	}

	if outputJSON {
		return printJSON(cmd.OutOrStdout(), summary)
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Metric", "Value"})
	table.Append([]string{"Total Runs", strconv.Itoa(summary.TotalRuns)})
	table.Append([]string{"Succeeded", strconv.Itoa(summary.Succeeded)})
	table.Append([]string{"No-op", strconv.Itoa(summary.NoOp)})
	table.Append([]string{"Failed", strconv.Itoa(summary.Failed)})
	table.Append([]string{"Commits Created", strconv.FormatInt(summary.TotalCommits, 10)})
	table.Append([]string{"Current Cursor", orDash(summary.CurrentCursor.String())})
	table.Append([]string{"Last Success", formatTime(summary.LastSuccessAt)})
	table.Append([]string{"Last Failure", formatTime(summary.LastFailureAt)})
	table.Append([]string{"Consecutive Failures", strconv.Itoa(summary.ConsecutiveFail)})
	table.Render()

	if summary.LastFailure != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "\nLast error: %s\n", summary.LastFailure)
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	if limit <= 0 {
		return apperrors.NewBadRequestError("--limit must be positive")
	}

	ledger, err := openLedger()
	if err != nil {
		return err
	}
	defer ledger.Close()

	runs, err := ledger.ListRuns(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if outputJSON {
		return printJSON(cmd.OutOrStdout(), runs)
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Run", "Started", "Status", "State", "Since", "Next", "Commits", "Duration"})
	for _, r := range runs {
		table.Append([]string{
			shortID(r.ID),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			string(r.Status),
			string(r.State),
			orDash(r.Since.String()),
			orDash(r.Next.String()),
			strconv.Itoa(r.CommitCount),
			r.Duration().Round(time.Millisecond).String(),
		})
	}
	table.Render()

	return nil
}

func runCommits(cmd *cobra.Command, args []string) error {
	runID := args[0]

	ledger, err := openLedger()
	if err != nil {
		return err
	}
	defer ledger.Close()

	commits, err := ledger.GetRunCommits(cmd.Context(), runID)
	if err != nil {
		return fmt.Errorf("failed to get commits: %w", err)
	}

	if outputJSON {
		return printJSON(cmd.OutOrStdout(), commits)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nCommits for run %s\n\n", runID)

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Event", "Commit", "Timestamp", "Message"})
	for _, c := range commits {
		table.Append([]string{c.EventID, shortSHA(c.SHA), c.Timestamp.Format(time.RFC3339), c.Message})
	}
	table.Render()

	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func shortSHA(sha string) string {
	if len(sha) > 10 {
		return sha[:10]
	}
	return sha
}
