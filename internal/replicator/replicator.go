// Package replicator turns source events into empty, backdated commits.
package replicator

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/kurihiro0119/contribution-mirror/internal/domain"
	apperrors "github.com/kurihiro0119/contribution-mirror/internal/errors"
	"github.com/kurihiro0119/contribution-mirror/internal/workspace"
)

// DefaultLabel prefixes commit messages when no label is configured
const DefaultLabel = "GitLab"

// Committer creates commits that leave the tree unchanged
type Committer interface {
	CommitEmpty(ctx context.Context, msg string, who workspace.Signature) (string, error)
}

// CursorWriter persists and stages the next cursor
type CursorWriter interface {
	Write(ctx context.Context, c domain.Cursor) error
}

// Author names the identity synthetic commits are attributed to
type Author struct {
	Name  string
	Email string
}

// Result summarizes one replay
type Result struct {
	Commits    []domain.CommitRecord
	EventsSeen int
	Next       domain.Cursor
}

// CommitCount returns the number of commits created
func (r Result) CommitCount() int {
	return len(r.Commits)
}

// Replicator replays events onto the checked out branch
type Replicator struct {
	committer Committer
	cursor    CursorWriter
	author    Author
	label     string
	logger    *slog.Logger
}

// New creates a replicator. An empty label falls back to DefaultLabel.
func New(committer Committer, cursor CursorWriter, author Author, label string, logger *slog.Logger) *Replicator {
	if label == "" {
		label = DefaultLabel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Replicator{
		committer: committer,
		cursor:    cursor,
		author:    author,
		label:     label,
		logger:    logger,
	}
}

// Message returns the commit message for an event
func (r *Replicator) Message(eventID string) string {
	return fmt.Sprintf("%s: event %s", r.label, eventID)
}

// Replay creates one empty commit per event in arrival order, dated at the
// event's creation time. When at least one commit was created the next cursor
// is written through the CursorWriter.
//
// Any stream or commit failure aborts the replay. The returned Result still
// lists the commits made before the failure so the caller can decide what to
// do with the branch, but the cursor is left untouched.
func (r *Replicator) Replay(ctx context.Context, events iter.Seq2[domain.Event, error], since domain.Cursor) (Result, error) {
	result := Result{Next: since}
	var last time.Time

	for event, err := range events {
		if err != nil {
			return result, err
		}
		if err := ctx.Err(); err != nil {
			return result, apperrors.NewCommitError(event.ID, err)
		}

		result.EventsSeen++

		when := event.CreatedAt.Truncate(time.Second)
		msg := r.Message(event.ID)
		sha, err := r.committer.CommitEmpty(ctx, msg, workspace.Signature{
			Name:  r.author.Name,
			Email: r.author.Email,
			When:  when,
		})
		if err != nil {
			r.logger.Error("failed to create commit", "event_id", event.ID, "error", err)
			return result, apperrors.NewCommitError(event.ID, err)
		}

		r.logger.Debug("replayed event", "event_id", event.ID, "created_at", when, "sha", sha)
		result.Commits = append(result.Commits, domain.CommitRecord{
			EventID:   event.ID,
			SHA:       sha,
			Message:   msg,
			Timestamp: when,
		})
		last = event.CreatedAt
	}

	if len(result.Commits) == 0 {
		r.logger.Info("no new events to replay", "since", since.String())
		return result, nil
	}

	result.Next = domain.After(last)
	if result.Next.Before(since) {
		// the cursor never moves backwards
		result.Next = since
	}
	if err := r.cursor.Write(ctx, result.Next); err != nil {
		return result, err
	}

	r.logger.Info("replayed events", "commits", len(result.Commits), "next", result.Next.String())
	return result, nil
}
