// Package target checks the mirror repository on GitHub before a run touches it.
package target

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"

	"github.com/kurihiro0119/contribution-mirror/internal/domain"
	apperrors "github.com/kurihiro0119/contribution-mirror/internal/errors"
)

// Resolver looks up the target repository through the GitHub API
type Resolver struct {
	client *github.Client
	logger *slog.Logger
}

// Options configures a Resolver
type Options struct {
	Token string

	// APIURL defaults to https://api.github.com/.
	APIURL  string
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewResolver creates a resolver authenticated with a personal access token
func NewResolver(opts Options) (*Resolver, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var hc *http.Client
	if opts.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
		hc = oauth2.NewClient(context.Background(), ts)
	} else {
		hc = &http.Client{}
	}
	if opts.Timeout > 0 {
		hc.Timeout = opts.Timeout
	}

	client := github.NewClient(hc)
	if opts.APIURL != "" {
		base := opts.APIURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, apperrors.NewConfigError(fmt.Sprintf("invalid GitHub API URL %q", opts.APIURL), err)
		}
		client.BaseURL = u
	}

	return &Resolver{client: client, logger: logger}, nil
}

// Resolve verifies that owner/name exists, that the token may push to it and
// that branch exists, and returns what the run needs to clone it.
func (r *Resolver) Resolve(ctx context.Context, owner, name, branch string) (*domain.TargetRepository, error) {
	repo, resp, err := r.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, apperrors.NewConfigError(fmt.Sprintf("target repository %s/%s not found", owner, name), err)
		}
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, apperrors.NewConfigError("GitHub token was rejected", err)
		}
		return nil, apperrors.NewTransportError(fmt.Sprintf("failed to get repository %s/%s", owner, name), err)
	}

	target := &domain.TargetRepository{
		Owner:         owner,
		Name:          name,
		FullName:      repo.GetFullName(),
		CloneURL:      repo.GetCloneURL(),
		DefaultBranch: repo.GetDefaultBranch(),
		IsPrivate:     repo.GetPrivate(),
		CanPush:       repo.GetPermissions()["push"],
	}

	if !target.CanPush {
		return nil, apperrors.NewConfigError(fmt.Sprintf("token cannot push to %s", target.FullName), nil)
	}

	if _, resp, err := r.client.Repositories.GetBranch(ctx, owner, name, branch, true); err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, apperrors.NewConfigError(
				fmt.Sprintf("branch %q does not exist in %s (default is %q)", branch, target.FullName, target.DefaultBranch), err)
		}
		return nil, apperrors.NewTransportError(fmt.Sprintf("failed to get branch %s", branch), err)
	}

	r.logger.Info("resolved target repository",
		"repo", target.FullName, "branch", branch, "private", target.IsPrivate)
	return target, nil
}
