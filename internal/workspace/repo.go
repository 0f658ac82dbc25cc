// Package workspace manages the local working copy of the target repository.
// It wraps go-git with the handful of task-oriented operations the sync needs:
// clone or open, fetch, branch handling, empty commits, staging, a
// non-fast-forward merge and push.
package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// DefaultRemoteName is the remote used when Options.RemoteName is empty.
const DefaultRemoteName = "origin"

// Options configures how the working copy talks to its remote.
type Options struct {
	// RemoteName defaults to "origin".
	RemoteName string

	// RemoteURL is the clone/push URL. When set on Prepare, an existing
	// clone's remote is repointed to it.
	RemoteURL string

	// Auth is used for fetch, clone and push. nil means anonymous.
	Auth transport.AuthMethod
}

func (o *Options) applyDefaults() {
	if o.RemoteName == "" {
		o.RemoteName = DefaultRemoteName
	}
}

// Signature identifies the author and committer of commits created here.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// Repo is a non-bare repository with a worktree.
type Repo struct {
	repo     *git.Repository
	worktree *git.Worktree
	options  Options
}

// New wraps an already opened go-git repository.
func New(repo *git.Repository, opts Options) (*Repo, error) {
	if repo == nil {
		return nil, WrapError(ErrInvalidRef, "repository is required")
	}

	opts.applyDefaults()

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, WrapError(err, "failed to get worktree")
	}

	return &Repo{repo: repo, worktree: worktree, options: opts}, nil
}

// Open opens an existing working copy at dir.
func Open(ctx context.Context, dir string, opts Options) (*Repo, error) {
	if err := ctx.Err(); err != nil {
		return nil, WrapError(err, "context cancelled")
	}

	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, WrapErrorf(err, "failed to open repository at %q", dir)
	}

	return New(repo, opts)
}

// Clone clones opts.RemoteURL into dir.
func Clone(ctx context.Context, dir string, opts Options) (*Repo, error) {
	if opts.RemoteURL == "" {
		return nil, WrapError(ErrInvalidRef, "remote URL cannot be empty")
	}

	opts.applyDefaults()

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, WrapErrorf(err, "failed to create parent of %q", dir)
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:        opts.RemoteURL,
		RemoteName: opts.RemoteName,
		Auth:       opts.Auth,
	})
	if err != nil {
		return nil, WrapError(err, "failed to clone repository")
	}

	return New(repo, opts)
}

// Prepare opens the working copy at dir, or clones it when dir holds no
// repository yet. An existing clone whose remote URL differs from
// opts.RemoteURL is repointed.
func Prepare(ctx context.Context, dir string, opts Options) (*Repo, error) {
	opts.applyDefaults()

	if _, err := os.Stat(filepath.Join(dir, git.GitDirName)); errors.Is(err, os.ErrNotExist) {
		return Clone(ctx, dir, opts)
	}

	r, err := Open(ctx, dir, opts)
	if err != nil {
		return nil, err
	}

	if opts.RemoteURL != "" {
		if err := r.ensureRemote(opts.RemoteName, opts.RemoteURL); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// ensureRemote makes sure the named remote points at url.
func (r *Repo) ensureRemote(name, url string) error {
	remote, err := r.repo.Remote(name)
	if err == nil {
		urls := remote.Config().URLs
		if len(urls) == 1 && urls[0] == url {
			return nil
		}
		if err := r.repo.DeleteRemote(name); err != nil {
			return WrapErrorf(err, "failed to remove remote %q", name)
		}
	} else if !errors.Is(err, git.ErrRemoteNotFound) {
		return WrapErrorf(err, "failed to read remote %q", name)
	}

	_, err = r.repo.CreateRemote(&config.RemoteConfig{Name: name, URLs: []string{url}})
	if err != nil {
		return WrapErrorf(err, "failed to create remote %q", name)
	}
	return nil
}

// Filesystem returns the worktree filesystem rooted at the repository root.
//
//nolint:ireturn // go-git exposes the worktree as a billy.Filesystem
func (r *Repo) Filesystem() billy.Filesystem {
	return r.worktree.Filesystem
}

// RemoteName returns the remote used for fetch and push.
func (r *Repo) RemoteName() string {
	return r.options.RemoteName
}
