// Package publish isolates one run's replicated commits on a throwaway branch
// and integrates them into the target branch with a merge and a push.
//
// A run moves through Preparing, Replicating and Integrating and ends in one
// of Published, NoOp, Aborted (failure while preparing) or Failed.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kurihiro0119/contribution-mirror/internal/domain"
	apperrors "github.com/kurihiro0119/contribution-mirror/internal/errors"
	"github.com/kurihiro0119/contribution-mirror/internal/replicator"
	"github.com/kurihiro0119/contribution-mirror/internal/workspace"
)

// BranchPrefix namespaces sync branches
const BranchPrefix = "sync/"

// Workspace is the subset of the working copy the protocol drives
type Workspace interface {
	Fetch(ctx context.Context, branch string) error
	ResetToRemote(ctx context.Context, branch string) (string, error)
	CreateBranch(ctx context.Context, name, startRev string) error
	CheckoutBranch(ctx context.Context, name string) error
	DeleteBranch(ctx context.Context, name string) error
	CountAhead(ctx context.Context, branch, base string) (int, error)
	IsStaged(ctx context.Context, path string) (bool, error)
	Commit(ctx context.Context, msg string, who workspace.Signature) (string, error)
	MergeNoFF(ctx context.Context, branch, msg string, who workspace.Signature) (string, error)
	Push(ctx context.Context, branch string) error
}

// ReplicateFunc runs on the checked out sync branch
type ReplicateFunc func(ctx context.Context) (replicator.Result, error)

// Options configures a Protocol
type Options struct {
	TargetBranch string
	CursorPath   string

	// CommitterName and CommitterEmail sign the marker and merge commits.
	CommitterName  string
	CommitterEmail string

	Logger *slog.Logger
}

// Outcome describes how a run ended
type Outcome struct {
	Branch   string
	State    domain.PublishState
	Result   replicator.Result
	MergeSHA string

	// Retained is true when the sync branch was kept for inspection.
	Retained bool
}

// Protocol drives one publish cycle
type Protocol struct {
	ws      Workspace
	options Options
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// New creates a protocol over ws
func New(ws Workspace, opts Options) *Protocol {
	if opts.TargetBranch == "" {
		opts.TargetBranch = "main"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Protocol{
		ws:      ws,
		options: opts,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// BranchName returns a unique sync branch name for a run started at t
func BranchName(t time.Time, id string) string {
	suffix := strings.ReplaceAll(id, "-", "")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("%s%s-%s", BranchPrefix, t.UTC().Format("20060102T150405Z"), suffix)
}

// MarkerMessage is the message of the commit that updates the cursor file
func MarkerMessage(c domain.Cursor) string {
	return fmt.Sprintf("CI: Update sync marker to %s", c)
}

// MergeMessage is the message of the merge commit
func MergeMessage(branch string, n int) string {
	return fmt.Sprintf("Merge %s: %d synced events", branch, n)
}

// Run executes the protocol. The returned Outcome is meaningful even when the
// error is non-nil.
func (p *Protocol) Run(ctx context.Context, replicate ReplicateFunc) (Outcome, error) {
	target := p.options.TargetBranch
	out := Outcome{State: domain.StatePreparing}

	// Preparing
	p.logger.Info("fetching target branch", "branch", target)
	if err := p.ws.Fetch(ctx, target); err != nil && !errors.Is(err, workspace.ErrAlreadyUpToDate) {
		out.State = domain.StateAborted
		return out, apperrors.NewWorkspaceError(fmt.Sprintf("failed to fetch %s", target), err)
	}
	tip, err := p.ws.ResetToRemote(ctx, target)
	if err != nil {
		out.State = domain.StateAborted
		return out, apperrors.NewWorkspaceError(fmt.Sprintf("failed to reset %s to remote", target), err)
	}

	out.Branch = BranchName(p.now(), p.newID())
	if err := p.ws.CreateBranch(ctx, out.Branch, target); err != nil {
		out.State = domain.StateAborted
		return out, apperrors.NewWorkspaceError(fmt.Sprintf("failed to create %s", out.Branch), err)
	}
	p.logger.Info("created sync branch", "branch", out.Branch, "from", target, "tip", tip)

	// Replicating
	out.State = domain.StateReplicating
	result, err := replicate(ctx)
	out.Result = result
	if err != nil {
		out.State = domain.StateFailed
		out.Retained = p.abandon(ctx, out.Branch)
		return out, err
	}

	// Integrating
	out.State = domain.StateIntegrating
	n := result.CommitCount()

	if n == 0 {
		if err := p.ws.CheckoutBranch(ctx, target); err != nil {
			out.State = domain.StateFailed
			out.Retained = true
			return out, apperrors.NewWorkspaceError(fmt.Sprintf("failed to checkout %s", target), err)
		}
		p.cleanup(ctx, out.Branch)
		out.State = domain.StateNoOp
		p.logger.Info("nothing to publish", "branch", target)
		return out, nil
	}

	staged, err := p.ws.IsStaged(ctx, p.cursorPath())
	if err != nil {
		out.State = domain.StateFailed
		out.Retained = p.abandon(ctx, out.Branch)
		return out, apperrors.NewWorkspaceError("failed to inspect the index", err)
	}
	if staged {
		if _, err := p.ws.Commit(ctx, MarkerMessage(result.Next), p.signature()); err != nil {
			out.State = domain.StateFailed
			out.Retained = p.abandon(ctx, out.Branch)
			return out, apperrors.NewStateError("failed to commit the sync marker", err)
		}
	}

	if err := p.ws.CheckoutBranch(ctx, target); err != nil {
		out.State = domain.StateFailed
		out.Retained = true
		return out, apperrors.NewWorkspaceError(fmt.Sprintf("failed to checkout %s", target), err)
	}

	p.logger.Info("merging sync branch", "branch", out.Branch, "into", target, "commits", n)
	mergeSHA, err := p.ws.MergeNoFF(ctx, out.Branch, MergeMessage(out.Branch, n), p.signature())
	if err != nil {
		out.State = domain.StateFailed
		out.Retained = true
		p.logger.Error("merge failed, sync branch kept", "branch", out.Branch, "error", err)
		return out, apperrors.NewMergeError(out.Branch, target, err)
	}
	out.MergeSHA = mergeSHA

	p.logger.Info("pushing", "branch", target)
	if err := p.ws.Push(ctx, target); err != nil && !errors.Is(err, workspace.ErrAlreadyUpToDate) {
		out.State = domain.StateFailed
		out.Retained = true
		p.logger.Error("push failed, sync branch kept", "branch", out.Branch, "error", err)
		return out, apperrors.NewPushError(target, err)
	}

	p.cleanup(ctx, out.Branch)
	out.State = domain.StatePublished
	p.logger.Info("published", "branch", target, "commits", n, "merge", mergeSHA, "next", result.Next.String())
	return out, nil
}

// abandon returns to the target branch after a failure. The sync branch is
// deleted when it holds nothing and kept otherwise; the return value reports
// whether it was kept.
func (p *Protocol) abandon(ctx context.Context, branch string) bool {
	target := p.options.TargetBranch
	if err := p.ws.CheckoutBranch(ctx, target); err != nil {
		p.logger.Error("failed to return to target branch", "branch", target, "error", err)
		return true
	}

	ahead, err := p.ws.CountAhead(ctx, branch, target)
	if err != nil {
		p.logger.Warn("could not inspect sync branch, keeping it", "branch", branch, "error", err)
		return true
	}
	if ahead > 0 {
		p.logger.Warn("sync branch kept for inspection", "branch", branch, "commits", ahead)
		return true
	}

	p.cleanup(ctx, branch)
	return false
}

// cleanup deletes a sync branch. Failures are logged only.
func (p *Protocol) cleanup(ctx context.Context, branch string) {
	if err := p.ws.DeleteBranch(ctx, branch); err != nil {
		p.logger.Warn("failed to delete sync branch", "error", apperrors.NewCleanupError(branch, err))
		return
	}
	p.logger.Debug("deleted sync branch", "branch", branch)
}

func (p *Protocol) cursorPath() string {
	if p.options.CursorPath == "" {
		return "last_sync_date.txt"
	}
	return p.options.CursorPath
}

func (p *Protocol) signature() workspace.Signature {
	return workspace.Signature{
		Name:  p.options.CommitterName,
		Email: p.options.CommitterEmail,
		When:  p.now().UTC().Truncate(time.Second),
	}
}
