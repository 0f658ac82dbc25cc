package workspace

import (
	"context"
	"errors"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// CurrentBranch returns the name of the checked out branch.
// It returns an error if HEAD is detached.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", WrapError(err, "failed to get HEAD reference")
	}

	if !head.Name().IsBranch() {
		return "", WrapError(ErrResolveFailed, "HEAD is detached")
	}

	return head.Name().Short(), nil
}

// BranchHead returns the commit hash a local branch points at.
func (r *Repo) BranchHead(ctx context.Context, name string) (string, error) {
	ref, err := r.repo.Reference(plumbing.NewBranchReferenceName(name), true)
	if err != nil {
		return "", WrapErrorf(ErrBranchMissing, "branch %q", name)
	}
	return ref.Hash().String(), nil
}

// BranchExists reports whether a local branch exists.
func (r *Repo) BranchExists(ctx context.Context, name string) bool {
	_, err := r.repo.Reference(plumbing.NewBranchReferenceName(name), true)
	return err == nil
}

// CreateBranch creates name at startRev and checks it out.
func (r *Repo) CreateBranch(ctx context.Context, name, startRev string) error {
	if err := ctx.Err(); err != nil {
		return WrapError(err, "context cancelled")
	}

	if name == "" {
		return WrapError(ErrInvalidRef, "branch name cannot be empty")
	}

	if startRev == "" {
		return WrapError(ErrInvalidRef, "start revision cannot be empty")
	}

	hash, err := r.repo.ResolveRevision(plumbing.Revision(startRev))
	if err != nil {
		return WrapErrorf(ErrResolveFailed, "failed to resolve %q", startRev)
	}

	branchRef := plumbing.NewBranchReferenceName(name)
	if _, err := r.repo.Reference(branchRef, true); err == nil {
		return WrapErrorf(ErrBranchExists, "branch %q", name)
	}

	err = r.worktree.Checkout(&git.CheckoutOptions{
		Branch: branchRef,
		Hash:   *hash,
		Create: true,
	})
	if err != nil {
		return WrapErrorf(err, "failed to create branch %q", name)
	}

	return nil
}

// CheckoutBranch switches to an existing branch, discarding uncommitted changes.
func (r *Repo) CheckoutBranch(ctx context.Context, name string) error {
	if name == "" {
		return WrapError(ErrInvalidRef, "branch name cannot be empty")
	}

	branchRef := plumbing.NewBranchReferenceName(name)
	if _, err := r.repo.Reference(branchRef, true); err != nil {
		return WrapErrorf(ErrBranchMissing, "branch %q", name)
	}

	if err := r.worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true}); err != nil {
		return WrapErrorf(err, "failed to checkout branch %q", name)
	}

	return nil
}

// DeleteBranch deletes a local branch. The checked out branch cannot be deleted.
func (r *Repo) DeleteBranch(ctx context.Context, name string) error {
	if name == "" {
		return WrapError(ErrInvalidRef, "branch name cannot be empty")
	}

	branchRef := plumbing.NewBranchReferenceName(name)
	if _, err := r.repo.Reference(branchRef, true); err != nil {
		return WrapErrorf(ErrBranchMissing, "branch %q", name)
	}

	current, err := r.CurrentBranch(ctx)
	if err == nil && current == name {
		return WrapErrorf(ErrInvalidRef, "cannot delete the checked out branch %q", name)
	}

	if err := r.repo.Storer.RemoveReference(branchRef); err != nil {
		return WrapErrorf(err, "failed to delete branch %q", name)
	}

	return nil
}

// CountAhead returns the number of commits reachable from branch that are not
// reachable from base.
func (r *Repo) CountAhead(ctx context.Context, branch, base string) (int, error) {
	branchRef, err := r.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return 0, WrapErrorf(ErrBranchMissing, "branch %q", branch)
	}
	baseRef, err := r.repo.Reference(plumbing.NewBranchReferenceName(base), true)
	if err != nil {
		return 0, WrapErrorf(ErrBranchMissing, "branch %q", base)
	}

	baseCommit, err := r.repo.CommitObject(baseRef.Hash())
	if err != nil {
		return 0, WrapError(err, "failed to read base commit")
	}

	iter, err := r.repo.Log(&git.LogOptions{From: branchRef.Hash()})
	if err != nil {
		return 0, WrapError(err, "failed to walk history")
	}
	defer iter.Close()

	count := 0
	err = iter.ForEach(func(c *object.Commit) error {
		if c.Hash == baseCommit.Hash {
			return storer.ErrStop
		}
		reachable, err := c.IsAncestor(baseCommit)
		if err != nil {
			return err
		}
		if !reachable {
			count++
		}
		return nil
	})
	if err != nil && !errors.Is(err, storer.ErrStop) {
		return 0, WrapError(err, "failed to walk history")
	}

	return count, nil
}
