package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/kurihiro0119/contribution-mirror/internal/domain"
	apperrors "github.com/kurihiro0119/contribution-mirror/internal/errors"
)

// DefaultTimeout bounds a single page request
const DefaultTimeout = 10 * time.Second

// bodyExcerptLimit caps how much of an error response is kept for diagnostics
const bodyExcerptLimit = 512

// GitLabOptions configures a GitLab event source
type GitLabOptions struct {
	BaseURL string
	UserID  string
	Token   string

	// Timeout applies to each page request. Zero means DefaultTimeout.
	Timeout time.Duration

	// HTTPClient overrides the oauth2 client built from Token.
	HTTPClient  *http.Client
	RateLimiter RateLimiter
	Logger      *slog.Logger
}

// GitLabSource reads pushed events from /api/v4/users/:id/events
type GitLabSource struct {
	client      *http.Client
	endpoint    string
	rateLimiter RateLimiter
	logger      *slog.Logger
}

// gitlabEvent is the subset of the events API payload the sync uses
type gitlabEvent struct {
	ID             int64     `json:"id"`
	ActionName     string    `json:"action_name"`
	ProjectID      int64     `json:"project_id"`
	AuthorUsername string    `json:"author_username"`
	CreatedAt      time.Time `json:"created_at"`
	PushData       *struct {
		CommitCount int    `json:"commit_count"`
		Ref         string `json:"ref"`
	} `json:"push_data"`
}

// NewGitLabSource creates a source authenticated with a bearer token
func NewGitLabSource(opts GitLabOptions) (*GitLabSource, error) {
	if opts.BaseURL == "" {
		return nil, apperrors.NewConfigError("GitLab URL is required", nil)
	}
	if opts.UserID == "" {
		return nil, apperrors.NewConfigError("GitLab user id is required", nil)
	}
	if _, err := url.ParseRequestURI(opts.BaseURL); err != nil {
		return nil, apperrors.NewConfigError(fmt.Sprintf("invalid GitLab URL %q", opts.BaseURL), err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := opts.HTTPClient
	if client == nil {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
		client = oauth2.NewClient(context.Background(), ts)
		client.Timeout = timeout
	}

	limiter := opts.RateLimiter
	if limiter == nil {
		limiter = NewRateLimiter(100*time.Millisecond, logger)
	}

	endpoint := fmt.Sprintf("%s/api/v4/users/%s/events",
		strings.TrimSuffix(opts.BaseURL, "/"), url.PathEscape(opts.UserID))

	return &GitLabSource{
		client:      client,
		endpoint:    endpoint,
		rateLimiter: limiter,
		logger:      logger,
	}, nil
}

// Events implements EventSource
func (s *GitLabSource) Events(ctx context.Context, since domain.Cursor) iter.Seq2[domain.Event, error] {
	return func(yield func(domain.Event, error) bool) {
		s.logger.Info("fetching events", "since", since.String())

		for page := 1; ; page++ {
			events, err := s.fetchPage(ctx, since, page)
			if err != nil {
				yield(domain.Event{}, err)
				return
			}
			if len(events) == 0 {
				s.logger.Debug("no more events", "page", page)
				return
			}

			s.logger.Debug("fetched page", "page", page, "events", len(events))

			for _, e := range events {
				// after= is date granular on the host side
				if e.CreatedAt.Before(since.Time()) {
					continue
				}
				if !yield(e, nil) {
					return
				}
			}
		}
	}
}

func (s *GitLabSource) fetchPage(ctx context.Context, since domain.Cursor, page int) ([]domain.Event, error) {
	if err := s.rateLimiter.Wait(ctx); err != nil {
		return nil, apperrors.NewTransportError(fmt.Sprintf("cancelled before page %d", page), err)
	}

	params := url.Values{}
	params.Set("after", since.String())
	params.Set("per_page", strconv.Itoa(PageSize))
	params.Set("page", strconv.Itoa(page))
	params.Set("action", string(domain.EventActionPushed))
	params.Set("sort", "asc")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, apperrors.NewTransportError("failed to build events request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperrors.NewTransportError(fmt.Sprintf("failed to fetch events page %d", page), err)
	}
	defer resp.Body.Close()

	updateFromHeaders(s.rateLimiter, resp.Header)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, bodyExcerptLimit))
		return nil, apperrors.NewTransportError(
			fmt.Sprintf("events page %d returned status %d: %s", page, resp.StatusCode, strings.TrimSpace(string(excerpt))), nil)
	}

	var raw []gitlabEvent
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, apperrors.NewTransportError(fmt.Sprintf("failed to decode events page %d", page), err)
	}

	events := make([]domain.Event, 0, len(raw))
	for _, r := range raw {
		e := domain.Event{
			ID:             strconv.FormatInt(r.ID, 10),
			Action:         r.ActionName,
			ProjectID:      r.ProjectID,
			AuthorUsername: r.AuthorUsername,
			CreatedAt:      r.CreatedAt,
		}
		if r.PushData != nil {
			e.Ref = r.PushData.Ref
			e.CommitCount = r.PushData.CommitCount
		}
		events = append(events, e)
	}
	return events, nil
}
