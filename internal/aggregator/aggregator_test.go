package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/contribution-mirror/internal/domain"
	"github.com/kurihiro0119/contribution-mirror/internal/storage"
)

func run(status domain.RunStatus, started time.Time, commits int, since, next string) *domain.RunRecord {
	r := &domain.RunRecord{
		ID:          started.Format(time.RFC3339),
		Status:      status,
		StartedAt:   started,
		CommitCount: commits,
	}
	if since != "" {
		r.Since, _ = domain.ParseCursor(since)
	}
	if next != "" {
		r.Next, _ = domain.ParseCursor(next)
	}
	finished := started.Add(time.Minute)
	r.FinishedAt = &finished
	if status == domain.RunStatusFailed {
		r.Error = "PUSH_ERROR: push rejected"
	}
	return r
}

func TestSummarize(t *testing.T) {
	base := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	// newest first
	runs := []*domain.RunRecord{
		run(domain.RunStatusFailed, base.Add(4*time.Hour), 3, "2024-03-01T10:00:06Z", ""),
		run(domain.RunStatusFailed, base.Add(3*time.Hour), 0, "2024-03-01T10:00:06Z", ""),
		run(domain.RunStatusNoOp, base.Add(2*time.Hour), 0, "2024-03-01T10:00:06Z", "2024-03-01T10:00:06Z"),
		run(domain.RunStatusSucceeded, base.Add(time.Hour), 3, "2024-02-01T00:00:00Z", "2024-03-01T10:00:06Z"),
		run(domain.RunStatusSucceeded, base, 5, "2023-03-01T00:00:00Z", "2024-02-01T00:00:00Z"),
	}

	s := Summarize(runs)

	assert.Equal(t, 5, s.TotalRuns)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 1, s.NoOp)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, int64(8), s.TotalCommits)
	assert.Equal(t, 2, s.ConsecutiveFail)
	assert.Equal(t, "2024-03-01T10:00:06Z", s.CurrentCursor.String())
	require.NotNil(t, s.LastSuccessAt)
	assert.True(t, base.Add(time.Hour+time.Minute).Equal(*s.LastSuccessAt))
	require.NotNil(t, s.LastFailureAt)
	assert.True(t, base.Add(4*time.Hour+time.Minute).Equal(*s.LastFailureAt))
	assert.Equal(t, "PUSH_ERROR: push rejected", s.LastFailure)
}

func TestSummarize_FailedRunCommitsNotCounted(t *testing.T) {
	base := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	// a push failure followed by a rerun that publishes the same events
	s := Summarize([]*domain.RunRecord{
		run(domain.RunStatusSucceeded, base.Add(time.Hour), 4, "2024-03-01T00:00:00Z", "2024-03-02T00:00:00Z"),
		run(domain.RunStatusFailed, base, 4, "2024-03-01T00:00:00Z", "2024-03-02T00:00:00Z"),
	})

	assert.Equal(t, int64(4), s.TotalCommits)
	assert.Equal(t, "2024-03-02T00:00:00Z", s.CurrentCursor.String())
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, 0, s.TotalRuns)
	assert.True(t, s.CurrentCursor.IsZero())
	assert.Nil(t, s.LastSuccessAt)
}

func TestSummarize_RunningDoesNotBreakStreak(t *testing.T) {
	base := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	running := run(domain.RunStatusRunning, base.Add(2*time.Hour), 0, "", "")
	running.FinishedAt = nil

	s := Summarize([]*domain.RunRecord{
		running,
		run(domain.RunStatusFailed, base.Add(time.Hour), 0, "", ""),
		run(domain.RunStatusSucceeded, base, 1, "", "2024-03-01T00:00:00Z"),
	})

	assert.Equal(t, 1, s.ConsecutiveFail)
	assert.Equal(t, "2024-03-01T00:00:00Z", s.CurrentCursor.String())
}

type stubStorage struct {
	storage.Storage
	runs  []*domain.RunRecord
	limit int
}

func (s *stubStorage) ListRuns(ctx context.Context, limit int) ([]*domain.RunRecord, error) {
	s.limit = limit
	return s.runs, nil
}

func TestAggregator_Summarize(t *testing.T) {
	st := &stubStorage{runs: []*domain.RunRecord{
		run(domain.RunStatusSucceeded, time.Now(), 4, "", "2024-03-01T00:00:00Z"),
	}}

	s, err := NewAggregator(st).Summarize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SummaryWindow, st.limit)
	assert.Equal(t, int64(4), s.TotalCommits)
}
