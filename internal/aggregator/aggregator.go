package aggregator

import (
	"context"
	"time"

	"github.com/kurihiro0119/contribution-mirror/internal/domain"
	"github.com/kurihiro0119/contribution-mirror/internal/storage"
)

// SummaryWindow is the number of most recent runs a summary covers
const SummaryWindow = 1000

// Aggregator defines the interface for summarizing the run ledger
type Aggregator interface {
	// Summarize computes statistics over the most recent runs
	Summarize(ctx context.Context) (*domain.RunSummary, error)
}

// aggregator implements the Aggregator interface
type aggregator struct {
	storage storage.Storage
}

// NewAggregator creates a new aggregator
func NewAggregator(storage storage.Storage) Aggregator {
	return &aggregator{
		storage: storage,
	}
}

// Summarize computes statistics over the most recent runs
func (a *aggregator) Summarize(ctx context.Context) (*domain.RunSummary, error) {
	runs, err := a.storage.ListRuns(ctx, SummaryWindow)
	if err != nil {
		return nil, err
	}
	return Summarize(runs), nil
}

// Summarize folds runs, newest first, into a summary
func Summarize(runs []*domain.RunRecord) *domain.RunSummary {
	summary := &domain.RunSummary{}
	streak := true
	cursorKnown := false

	for _, run := range runs {
		summary.TotalRuns++

		switch run.Status {
		case domain.RunStatusSucceeded:
			summary.Succeeded++
			summary.TotalCommits += int64(run.CommitCount)
			if summary.LastSuccessAt == nil {
				summary.LastSuccessAt = finishedOrStarted(run)
			}
			if !cursorKnown {
				summary.CurrentCursor = run.Next
				cursorKnown = true
			}
		case domain.RunStatusNoOp:
			summary.NoOp++
			if !cursorKnown {
				summary.CurrentCursor = run.Since
				cursorKnown = true
			}
		case domain.RunStatusFailed:
			summary.Failed++
			if summary.LastFailureAt == nil {
				summary.LastFailureAt = finishedOrStarted(run)
				summary.LastFailure = run.Error
			}
		}

		// runs still in progress do not break a failure streak
		if run.Status == domain.RunStatusRunning {
			continue
		}
		if streak && run.Status == domain.RunStatusFailed {
			summary.ConsecutiveFail++
		} else {
			streak = false
		}
	}

	return summary
}

func finishedOrStarted(run *domain.RunRecord) *time.Time {
	if run.FinishedAt != nil {
		t := *run.FinishedAt
		return &t
	}
	t := run.StartedAt
	return &t
}
