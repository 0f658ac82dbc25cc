package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/contribution-mirror/internal/cursor"
	"github.com/kurihiro0119/contribution-mirror/internal/domain"
	apperrors "github.com/kurihiro0119/contribution-mirror/internal/errors"
	"github.com/kurihiro0119/contribution-mirror/internal/publish"
	"github.com/kurihiro0119/contribution-mirror/internal/replicator"
	"github.com/kurihiro0119/contribution-mirror/internal/source"
	"github.com/kurihiro0119/contribution-mirror/internal/storage/sqlite"
	"github.com/kurihiro0119/contribution-mirror/internal/testutil"
	"github.com/kurihiro0119/contribution-mirror/internal/workspace"
)

// passthroughPublisher calls the replication step and maps its result
type passthroughPublisher struct {
	err error
}

func (p *passthroughPublisher) Run(ctx context.Context, replicate publish.ReplicateFunc) (publish.Outcome, error) {
	out := publish.Outcome{Branch: "sync/test", State: domain.StateReplicating}
	if p.err != nil {
		out.State = domain.StateAborted
		out.Branch = ""
		return out, p.err
	}
	res, err := replicate(ctx)
	out.Result = res
	if err != nil {
		out.State = domain.StateFailed
		return out, err
	}
	if res.CommitCount() == 0 {
		out.State = domain.StateNoOp
		return out, nil
	}
	out.State = domain.StatePublished
	return out, nil
}

type sliceSource struct {
	events   []domain.Event
	gotSince domain.Cursor
}

func (s *sliceSource) Events(ctx context.Context, since domain.Cursor) iter.Seq2[domain.Event, error] {
	s.gotSince = since
	return func(yield func(domain.Event, error) bool) {
		for _, e := range s.events {
			if !yield(e, nil) {
				return
			}
		}
	}
}

type fixedCursor struct {
	c     domain.Cursor
	found bool
	err   error
}

func (f fixedCursor) Read() (domain.Cursor, bool, error) {
	return f.c, f.found, f.err
}

type countingReplayer struct{}

func (countingReplayer) Replay(ctx context.Context, events iter.Seq2[domain.Event, error], since domain.Cursor) (replicator.Result, error) {
	res := replicator.Result{Next: since}
	for e, err := range events {
		if err != nil {
			return res, err
		}
		res.EventsSeen++
		res.Commits = append(res.Commits, domain.CommitRecord{EventID: e.ID, SHA: "sha-" + e.ID, Timestamp: e.CreatedAt})
		res.Next = domain.After(e.CreatedAt)
	}
	return res, nil
}

type memoryLedger struct {
	saves   []domain.RunRecord
	commits map[string][]domain.CommitRecord
	err     error
}

func (m *memoryLedger) SaveRun(ctx context.Context, run *domain.RunRecord) error {
	if m.err != nil {
		return m.err
	}
	m.saves = append(m.saves, *run)
	return nil
}

func (m *memoryLedger) SaveCommits(ctx context.Context, runID string, commits []domain.CommitRecord) error {
	if m.commits == nil {
		m.commits = map[string][]domain.CommitRecord{}
	}
	m.commits[runID] = commits
	return nil
}

var start = domain.NewCursor(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

func TestRun_Succeeded(t *testing.T) {
	src := &sliceSource{events: []domain.Event{
		{ID: "1", CreatedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		{ID: "2", CreatedAt: time.Date(2024, 3, 1, 10, 0, 5, 0, time.UTC)},
	}}
	ledger := &memoryLedger{}
	r := New(Config{
		Publisher:    &passthroughPublisher{},
		Source:       src,
		Cursor:       fixedCursor{c: start, found: true},
		Replayer:     countingReplayer{},
		Ledger:       ledger,
		TargetBranch: "main",
	})

	rec, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, domain.RunStatusSucceeded, rec.Status)
	assert.Equal(t, domain.StatePublished, rec.State)
	assert.Equal(t, 2, rec.CommitCount)
	assert.Equal(t, 2, rec.EventsSeen)
	assert.Equal(t, "2024-03-01T10:00:06Z", rec.Next.String())
	assert.True(t, start.Equal(rec.Since))
	assert.True(t, start.Equal(src.gotSince))
	require.NotNil(t, rec.FinishedAt)

	require.Len(t, ledger.saves, 2)
	assert.Equal(t, domain.RunStatusRunning, ledger.saves[0].Status)
	assert.Equal(t, domain.RunStatusSucceeded, ledger.saves[1].Status)
	assert.Len(t, ledger.commits[rec.ID], 2)
}

func TestRun_NoOp(t *testing.T) {
	ledger := &memoryLedger{}
	r := New(Config{
		Publisher: &passthroughPublisher{},
		Source:    &sliceSource{},
		Cursor:    fixedCursor{c: start},
		Replayer:  countingReplayer{},
		Ledger:    ledger,
	})

	rec, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusNoOp, rec.Status)
	assert.Equal(t, 0, rec.CommitCount)
	assert.Empty(t, ledger.commits)
}

func TestRun_CursorErrorFails(t *testing.T) {
	ledger := &memoryLedger{}
	r := New(Config{
		Publisher: &passthroughPublisher{},
		Source:    &sliceSource{},
		Cursor:    fixedCursor{err: apperrors.NewStateError("corrupt state file", nil)},
		Replayer:  countingReplayer{},
		Ledger:    ledger,
	})

	rec, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.RunStatusFailed, rec.Status)
	assert.Equal(t, string(apperrors.ErrCodeState), rec.ErrorCode)
	assert.Contains(t, rec.Error, "corrupt state file")
	assert.Equal(t, domain.RunStatusFailed, ledger.saves[len(ledger.saves)-1].Status)
}

func TestRun_PreparingFailure(t *testing.T) {
	r := New(Config{
		Publisher: &passthroughPublisher{err: apperrors.NewWorkspaceError("failed to fetch main", errors.New("auth"))},
		Source:    &sliceSource{},
		Cursor:    fixedCursor{c: start},
		Replayer:  countingReplayer{},
	})

	rec, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.StateAborted, rec.State)
	assert.Equal(t, string(apperrors.ErrCodeWorkspace), rec.ErrorCode)
	assert.Equal(t, apperrors.ExitFailure, apperrors.ExitCode(err))
}

func TestRun_LedgerFailureIsNotFatal(t *testing.T) {
	r := New(Config{
		Publisher: &passthroughPublisher{},
		Source:    &sliceSource{events: []domain.Event{{ID: "1", CreatedAt: time.Now()}}},
		Cursor:    fixedCursor{c: start},
		Replayer:  countingReplayer{},
		Ledger:    &memoryLedger{err: errors.New("database is locked")},
	})

	rec, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, rec.Status)
}

// gitlabServer serves events from a slice, 100 per page, and can fail a page
func gitlabServer(t *testing.T, events []map[string]any, failPage string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		if page == failPage {
			http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
			return
		}
		var n int
		_, _ = fmt.Sscan(page, &n)
		lo, hi := (n-1)*source.PageSize, n*source.PageSize
		if lo > len(events) {
			lo = len(events)
		}
		if hi > len(events) {
			hi = len(events)
		}
		assert.NoError(t, json.NewEncoder(w).Encode(events[lo:hi]))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func gitlabEvents(n int, start time.Time) []map[string]any {
	out := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, map[string]any{
			"id":          500 + i,
			"action_name": "pushed to",
			"created_at":  start.Add(time.Duration(i) * time.Second).Format(time.RFC3339),
		})
	}
	return out
}

// newPipeline wires real components against a bare remote and a fake GitLab
func newPipeline(t *testing.T, remote, gitlabURL, dbPath string) *Runner {
	t.Helper()
	ctx := context.Background()

	repo, err := workspace.Prepare(ctx, filepath.Join(filepath.Dir(dbPath), "work"), workspace.Options{RemoteURL: remote})
	require.NoError(t, err)

	src, err := source.NewGitLabSource(source.GitLabOptions{
		BaseURL:     gitlabURL,
		UserID:      "42",
		Token:       "t",
		RateLimiter: source.NewRateLimiter(0, nil),
	})
	require.NoError(t, err)

	ledger, err := sqlite.NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	store := cursor.NewStore(repo.Filesystem(), repo, cursor.DefaultFileName, 0)
	author := replicator.Author{Name: "alice", Email: "alice@users.noreply.github.com"}

	return New(Config{
		Publisher: publish.New(repo, publish.Options{
			TargetBranch:   "main",
			CursorPath:     store.Path(),
			CommitterName:  author.Name,
			CommitterEmail: author.Email,
		}),
		Source:       src,
		Cursor:       store,
		Replayer:     replicator.New(repo, store, author, "", nil),
		Ledger:       ledger,
		TargetBranch: "main",
	})
}

func TestRun_EndToEnd(t *testing.T) {
	ctx := context.Background()
	remote := testutil.NewRemote(t)
	dbPath := filepath.Join(t.TempDir(), "mirror.db")
	base := time.Now().UTC().Add(-24 * time.Hour).Truncate(time.Second)

	srv := gitlabServer(t, gitlabEvents(120, base), "")
	rec, err := newPipeline(t, remote, srv.URL, dbPath).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusSucceeded, rec.Status)
	assert.Equal(t, 120, rec.CommitCount)
	content, ok := testutil.RemoteFile(t, remote, "main", cursor.DefaultFileName)
	require.True(t, ok)
	assert.Equal(t, base.Add(120*time.Second).Format(domain.CursorLayout)+"\n", content)

	ledger, err := sqlite.NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	defer ledger.Close()

	stored, err := ledger.GetRun(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, stored.Status)
	commits, err := ledger.GetCommits(ctx, rec.ID)
	require.NoError(t, err)
	assert.Len(t, commits, 120)
	assert.Equal(t, "500", commits[0].EventID)
}

func TestRun_EndToEndPageFailure(t *testing.T) {
	ctx := context.Background()
	remote := testutil.NewRemote(t)
	before := testutil.RemoteHead(t, remote, "main")
	dbPath := filepath.Join(t.TempDir(), "mirror.db")
	base := time.Now().UTC().Add(-24 * time.Hour).Truncate(time.Second)

	srv := gitlabServer(t, gitlabEvents(50, base), "2")
	rec, err := newPipeline(t, remote, srv.URL, dbPath).Run(ctx)
	require.Error(t, err)

	assert.Equal(t, domain.RunStatusFailed, rec.Status)
	assert.Equal(t, string(apperrors.ErrCodeTransport), rec.ErrorCode)
	assert.Equal(t, 50, rec.EventsSeen)
	assert.Equal(t, before, testutil.RemoteHead(t, remote, "main"))
	_, ok := testutil.RemoteFile(t, remote, "main", cursor.DefaultFileName)
	assert.False(t, ok)
}
