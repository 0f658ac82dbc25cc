package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
)

// Fetch updates the remote-tracking ref of branch.
// Returns ErrAlreadyUpToDate if there was nothing new.
func (r *Repo) Fetch(ctx context.Context, branch string) error {
	if branch == "" {
		return WrapError(ErrInvalidRef, "branch name cannot be empty")
	}

	spec := config.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", branch, r.options.RemoteName, branch))
	err := r.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: r.options.RemoteName,
		RefSpecs:   []config.RefSpec{spec},
		Auth:       r.options.Auth,
	})
	if err != nil {
		var noMatch git.NoMatchingRefSpecError
		switch {
		case errors.Is(err, git.NoErrAlreadyUpToDate):
			return ErrAlreadyUpToDate
		case errors.Is(err, git.ErrRemoteNotFound):
			return WrapErrorf(ErrResolveFailed, "remote %q not found", r.options.RemoteName)
		case errors.As(err, &noMatch):
			return WrapErrorf(ErrBranchMissing, "remote branch %q", branch)
		}
		return WrapErrorf(err, "failed to fetch %q", branch)
	}

	return nil
}

// ResetToRemote checks out branch and hard-resets it to its remote-tracking
// ref, creating the local branch if needed. Local commits that never reached
// the remote are discarded, as are untracked files. It returns the new tip.
func (r *Repo) ResetToRemote(ctx context.Context, branch string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", WrapError(err, "context cancelled")
	}

	remoteRef, err := r.repo.Reference(plumbing.NewRemoteReferenceName(r.options.RemoteName, branch), true)
	if err != nil {
		return "", WrapErrorf(ErrBranchMissing, "remote branch %s/%s", r.options.RemoteName, branch)
	}

	branchRef := plumbing.NewBranchReferenceName(branch)
	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(branchRef, remoteRef.Hash())); err != nil {
		return "", WrapErrorf(err, "failed to move %q", branch)
	}

	if err := r.worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true}); err != nil {
		return "", WrapErrorf(err, "failed to checkout %q", branch)
	}

	if err := r.worktree.Reset(&git.ResetOptions{Commit: remoteRef.Hash(), Mode: git.HardReset}); err != nil {
		return "", WrapErrorf(err, "failed to reset %q", branch)
	}

	if err := r.worktree.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return "", WrapError(err, "failed to remove untracked files")
	}

	return remoteRef.Hash().String(), nil
}

// Push pushes the local branch to the same name on the remote. It never forces.
// Returns ErrNotFastForward when the remote has commits the local branch lacks
// and ErrAlreadyUpToDate when there was nothing to push.
func (r *Repo) Push(ctx context.Context, branch string) error {
	if branch == "" {
		return WrapError(ErrInvalidRef, "branch name cannot be empty")
	}

	spec := config.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	err := r.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: r.options.RemoteName,
		RefSpecs:   []config.RefSpec{spec},
		Auth:       r.options.Auth,
	})
	if err != nil {
		switch {
		case errors.Is(err, git.NoErrAlreadyUpToDate):
			return ErrAlreadyUpToDate
		case errors.Is(err, git.ErrRemoteNotFound):
			return WrapErrorf(ErrResolveFailed, "remote %q not found", r.options.RemoteName)
		case isNonFastForward(err):
			return WrapErrorf(ErrNotFastForward, "push of %q rejected", branch)
		}
		return WrapErrorf(err, "failed to push %q", branch)
	}

	return nil
}

// isNonFastForward recognizes a rejected push. go-git formats the rejection
// with the sentinel's text instead of wrapping it.
func isNonFastForward(err error) bool {
	if errors.Is(err, git.ErrNonFastForwardUpdate) {
		return true
	}
	return strings.HasPrefix(err.Error(), git.ErrNonFastForwardUpdate.Error())
}
