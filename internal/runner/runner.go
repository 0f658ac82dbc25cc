// Package runner drives one sync run end to end and records it in the ledger.
package runner

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kurihiro0119/contribution-mirror/internal/domain"
	apperrors "github.com/kurihiro0119/contribution-mirror/internal/errors"
	"github.com/kurihiro0119/contribution-mirror/internal/publish"
	"github.com/kurihiro0119/contribution-mirror/internal/replicator"
	"github.com/kurihiro0119/contribution-mirror/internal/source"
)

// Publisher runs the publish protocol around a replication step
type Publisher interface {
	Run(ctx context.Context, replicate publish.ReplicateFunc) (publish.Outcome, error)
}

// CursorReader loads the cursor the run starts from
type CursorReader interface {
	Read() (domain.Cursor, bool, error)
}

// Replayer turns events into commits
type Replayer interface {
	Replay(ctx context.Context, events iter.Seq2[domain.Event, error], since domain.Cursor) (replicator.Result, error)
}

// Ledger records runs. Failures to record never fail a run.
type Ledger interface {
	SaveRun(ctx context.Context, run *domain.RunRecord) error
	SaveCommits(ctx context.Context, runID string, commits []domain.CommitRecord) error
}

// Runner wires the components of a sync run together
type Runner struct {
	publisher    Publisher
	source       source.EventSource
	cursor       CursorReader
	replayer     Replayer
	ledger       Ledger
	targetBranch string
	logger       *slog.Logger
	now          func() time.Time
}

// Config holds the collaborators of a Runner. Ledger and Logger are optional.
type Config struct {
	Publisher    Publisher
	Source       source.EventSource
	Cursor       CursorReader
	Replayer     Replayer
	Ledger       Ledger
	TargetBranch string
	Logger       *slog.Logger
}

// New creates a runner
func New(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		publisher:    cfg.Publisher,
		source:       cfg.Source,
		cursor:       cfg.Cursor,
		replayer:     cfg.Replayer,
		ledger:       cfg.Ledger,
		targetBranch: cfg.TargetBranch,
		logger:       logger,
		now:          time.Now,
	}
}

// Run performs one sync. The returned record describes the run whether or not
// it succeeded.
func (r *Runner) Run(ctx context.Context) (*domain.RunRecord, error) {
	rec := &domain.RunRecord{
		ID:           uuid.NewString(),
		TargetBranch: r.targetBranch,
		State:        domain.StatePreparing,
		Status:       domain.RunStatusRunning,
		StartedAt:    r.now().UTC(),
	}
	logger := r.logger.With("run_id", rec.ID)
	logger.Info("starting sync", "target", r.targetBranch)
	r.record(ctx, logger, rec, nil)

	out, err := r.publisher.Run(ctx, func(ctx context.Context) (replicator.Result, error) {
		since, found, err := r.cursor.Read()
		if err != nil {
			return replicator.Result{}, err
		}
		rec.Since = since
		if found {
			logger.Info("resuming from stored cursor", "since", since.String())
		} else {
			logger.Info("no stored cursor, using default window", "since", since.String())
		}

		return r.replayer.Replay(ctx, r.source.Events(ctx, since), since)
	})

	finished := r.now().UTC()
	rec.FinishedAt = &finished
	rec.Branch = out.Branch
	rec.State = out.State
	rec.EventsSeen = out.Result.EventsSeen
	rec.CommitCount = out.Result.CommitCount()
	rec.Next = out.Result.Next

	switch {
	case err != nil:
		rec.Status = domain.RunStatusFailed
		rec.ErrorCode = string(apperrors.CodeOf(err))
		rec.Error = err.Error()
		logger.Error("sync failed", "state", out.State, "branch", out.Branch, "retained", out.Retained, "error", err)
	case out.State == domain.StateNoOp:
		rec.Status = domain.RunStatusNoOp
		logger.Info("sync finished, no new events", "since", rec.Since.String())
	default:
		rec.Status = domain.RunStatusSucceeded
		logger.Info("sync complete", "commits", rec.CommitCount, "next", rec.Next.String(), "duration", rec.Duration())
	}

	r.record(ctx, logger, rec, out.Result.Commits)
	return rec, err
}

// record saves the run with a context that survives cancellation of the run
func (r *Runner) record(ctx context.Context, logger *slog.Logger, rec *domain.RunRecord, commits []domain.CommitRecord) {
	if r.ledger == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := r.ledger.SaveRun(ctx, rec); err != nil {
		logger.Warn("failed to record run", "error", err)
		return
	}
	if len(commits) == 0 {
		return
	}
	if err := r.ledger.SaveCommits(ctx, rec.ID, commits); err != nil {
		logger.Warn("failed to record commits", "error", err)
	}
}
