package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/contribution-mirror/internal/domain"
	apperrors "github.com/kurihiro0119/contribution-mirror/internal/errors"
)

var since = domain.NewCursor(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

func makeEvents(startID, n int, start time.Time) []map[string]any {
	events := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, map[string]any{
			"id":              startID + i,
			"action_name":     "pushed to",
			"project_id":      7,
			"author_username": "alice",
			"created_at":      start.Add(time.Duration(i) * time.Minute).Format(time.RFC3339Nano),
			"push_data":       map[string]any{"commit_count": 1, "ref": "main"},
		})
	}
	return events
}

func newTestSource(t *testing.T, srv *httptest.Server) *GitLabSource {
	t.Helper()
	s, err := NewGitLabSource(GitLabOptions{
		BaseURL:     srv.URL + "/",
		UserID:      "42",
		Token:       "glpat-secret",
		Timeout:     time.Second,
		RateLimiter: NewRateLimiter(0, nil),
	})
	require.NoError(t, err)
	return s
}

func collect(t *testing.T, s EventSource) ([]domain.Event, error) {
	t.Helper()
	var out []domain.Event
	for e, err := range s.Events(context.Background(), since) {
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}

func TestEvents_PagesUntilEmpty(t *testing.T) {
	start := since.Time().Add(time.Hour)
	pages := map[string][]map[string]any{
		"1": makeEvents(1, PageSize, start),
		"2": makeEvents(101, 3, start.Add(200*time.Minute)),
	}

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/api/v4/users/42/events", r.URL.Path)
		assert.Equal(t, "Bearer glpat-secret", r.Header.Get("Authorization"))

		q := r.URL.Query()
		assert.Equal(t, "2024-03-01T00:00:00Z", q.Get("after"))
		assert.Equal(t, "100", q.Get("per_page"))
		assert.Equal(t, "pushed", q.Get("action"))
		assert.Equal(t, "asc", q.Get("sort"))

		page := pages[q.Get("page")]
		if page == nil {
			page = []map[string]any{}
		}
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(page))
	}))
	defer srv.Close()

	events, err := collect(t, newTestSource(t, srv))
	require.NoError(t, err)
	require.Len(t, events, 103)
	assert.Equal(t, int32(3), requests.Load())

	assert.Equal(t, "1", events[0].ID)
	assert.Equal(t, "103", events[102].ID)
	assert.Equal(t, "alice", events[0].AuthorUsername)
	assert.Equal(t, "main", events[0].Ref)
	assert.Equal(t, 1, events[0].CommitCount)
	assert.Equal(t, int64(7), events[0].ProjectID)
	assert.True(t, start.Equal(events[0].CreatedAt))

	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].CreatedAt.Before(events[i-1].CreatedAt), "events must be ascending")
	}
}

func TestEvents_EmptyFirstPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	events, err := collect(t, newTestSource(t, srv))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEvents_DropsEventsBeforeSince(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			_, _ = w.Write([]byte("[]"))
			return
		}
		page := append(makeEvents(1, 2, since.Time().Add(-2*time.Minute)), makeEvents(3, 2, since.Time())...)
		assert.NoError(t, json.NewEncoder(w).Encode(page))
	}))
	defer srv.Close()

	events, err := collect(t, newTestSource(t, srv))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "3", events[0].ID)
	assert.Equal(t, "4", events[1].ID)
}

func TestEvents_SecondPageFailureAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			assert.NoError(t, json.NewEncoder(w).Encode(makeEvents(1, 50, since.Time())))
			return
		}
		http.Error(w, `{"message":"502 Bad Gateway"}`, http.StatusBadGateway)
	}))
	defer srv.Close()

	events, err := collect(t, newTestSource(t, srv))
	require.Error(t, err)
	assert.Len(t, events, 50)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeTransport))
	assert.Contains(t, err.Error(), "status 502")
	assert.Contains(t, err.Error(), "Bad Gateway")
}

func TestEvents_TimeoutAborts(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			assert.NoError(t, json.NewEncoder(w).Encode(makeEvents(1, 50, since.Time())))
			return
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	s, err := NewGitLabSource(GitLabOptions{
		BaseURL:     srv.URL,
		UserID:      "42",
		Token:       "t",
		Timeout:     50 * time.Millisecond,
		RateLimiter: NewRateLimiter(0, nil),
	})
	require.NoError(t, err)

	events, err := collect(t, s)
	require.Error(t, err)
	assert.Len(t, events, 50)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeTransport))
}

func TestEvents_UndecodableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>login</html>"))
	}))
	defer srv.Close()

	_, err := collect(t, newTestSource(t, srv))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeTransport))
	assert.Contains(t, err.Error(), "decode")
}

func TestEvents_EarlyStopSkipsFurtherPages(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		p, _ := strconv.Atoi(r.URL.Query().Get("page"))
		assert.NoError(t, json.NewEncoder(w).Encode(makeEvents(p*1000, PageSize, since.Time())))
	}))
	defer srv.Close()

	s := newTestSource(t, srv)
	n := 0
	for _, err := range s.Events(context.Background(), since) {
		require.NoError(t, err)
		n++
		if n == 5 {
			break
		}
	}

	assert.Equal(t, 5, n)
	assert.Equal(t, int32(1), requests.Load())
}

func TestEvents_UpdatesRateLimit(t *testing.T) {
	reset := time.Now().Add(30 * time.Second).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("RateLimit-Remaining", "1999")
		w.Header().Set("RateLimit-Reset", fmt.Sprint(reset))
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	limiter := NewRateLimiter(0, nil)
	s, err := NewGitLabSource(GitLabOptions{BaseURL: srv.URL, UserID: "42", Token: "t", RateLimiter: limiter})
	require.NoError(t, err)

	_, err = collect(t, s)
	require.NoError(t, err)

	remaining, resetTime := limiter.CheckLimit()
	assert.Equal(t, 1999, remaining)
	assert.Equal(t, reset, resetTime.Unix())
}

func TestNewGitLabSource_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts GitLabOptions
	}{
		{name: "missing url", opts: GitLabOptions{UserID: "1"}},
		{name: "missing user", opts: GitLabOptions{BaseURL: "https://gitlab.example.com"}},
		{name: "bad url", opts: GitLabOptions{BaseURL: "gitlab", UserID: "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGitLabSource(tt.opts)
			require.Error(t, err)
			assert.True(t, apperrors.IsConfig(err))
		})
	}
}
