package workspace

import (
	"context"
	"errors"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// CommitInfo is a read-only view of a commit.
type CommitInfo struct {
	Hash      string
	Message   string
	Author    Signature
	Committer Signature
	Parents   []string
}

// Add stages paths relative to the repository root.
func (r *Repo) Add(ctx context.Context, paths ...string) error {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := r.worktree.Add(path); err != nil {
			return WrapErrorf(err, "failed to add path %q", path)
		}
	}
	return nil
}

// IsStaged reports whether path has staged changes relative to HEAD.
func (r *Repo) IsStaged(ctx context.Context, path string) (bool, error) {
	status, err := r.worktree.Status()
	if err != nil {
		return false, WrapError(err, "failed to get worktree status")
	}

	fs := status.File(path)
	return fs.Staging != git.Unmodified && fs.Staging != git.Untracked, nil
}

// Commit records the index as a new commit on the current branch.
// It returns ErrEmptyCommit when nothing is staged.
func (r *Repo) Commit(ctx context.Context, msg string, who Signature) (string, error) {
	return r.commit(ctx, msg, who, false)
}

// CommitEmpty records a commit that leaves the tree unchanged.
func (r *Repo) CommitEmpty(ctx context.Context, msg string, who Signature) (string, error) {
	return r.commit(ctx, msg, who, true)
}

func (r *Repo) commit(ctx context.Context, msg string, who Signature, allowEmpty bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", WrapError(err, "context cancelled")
	}

	if msg == "" {
		return "", WrapError(ErrInvalidRef, "commit message cannot be empty")
	}

	if who.Name == "" || who.Email == "" {
		return "", WrapError(ErrInvalidRef, "committer name and email are required")
	}

	sig := &object.Signature{Name: who.Name, Email: who.Email, When: who.When}
	hash, err := r.worktree.Commit(msg, &git.CommitOptions{
		Author:            sig,
		Committer:         sig,
		AllowEmptyCommits: allowEmpty,
	})
	if err != nil {
		if errors.Is(err, git.ErrEmptyCommit) {
			return "", ErrEmptyCommit
		}
		return "", WrapError(err, "failed to create commit")
	}

	return hash.String(), nil
}

// MergeNoFF merges branch into the checked out branch with a merge commit,
// even when a fast-forward would be possible. The checked out branch must be
// an ancestor of branch; otherwise ErrMergeConflict is returned and nothing
// changes.
func (r *Repo) MergeNoFF(ctx context.Context, branch, msg string, who Signature) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", WrapError(err, "context cancelled")
	}

	head, err := r.repo.Head()
	if err != nil {
		return "", WrapError(err, "failed to get HEAD reference")
	}
	if !head.Name().IsBranch() {
		return "", WrapError(ErrResolveFailed, "HEAD is detached")
	}

	fromRef, err := r.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return "", WrapErrorf(ErrBranchMissing, "branch %q", branch)
	}

	headCommit, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return "", WrapError(err, "failed to read HEAD commit")
	}
	fromCommit, err := r.repo.CommitObject(fromRef.Hash())
	if err != nil {
		return "", WrapErrorf(err, "failed to read tip of %q", branch)
	}

	ancestor, err := headCommit.IsAncestor(fromCommit)
	if err != nil {
		return "", WrapError(err, "failed to compare histories")
	}
	if !ancestor {
		return "", WrapErrorf(ErrMergeConflict, "%s has diverged from %s", head.Name().Short(), branch)
	}

	sig := object.Signature{Name: who.Name, Email: who.Email, When: who.When}
	merge := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      msg,
		TreeHash:     fromCommit.TreeHash,
		ParentHashes: []plumbing.Hash{headCommit.Hash, fromCommit.Hash},
	}

	obj := r.repo.Storer.NewEncodedObject()
	if err := merge.Encode(obj); err != nil {
		return "", WrapError(err, "failed to encode merge commit")
	}
	hash, err := r.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return "", WrapError(err, "failed to store merge commit")
	}

	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(head.Name(), hash)); err != nil {
		return "", WrapError(err, "failed to advance branch")
	}

	if err := r.worktree.Reset(&git.ResetOptions{Commit: hash, Mode: git.HardReset}); err != nil {
		return "", WrapError(err, "failed to update worktree after merge")
	}

	return hash.String(), nil
}

// Log returns up to limit commits on the first-parent chain of rev, newest
// first. limit <= 0 walks to the root.
func (r *Repo) Log(ctx context.Context, rev string, limit int) ([]CommitInfo, error) {
	hash, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, WrapErrorf(ErrResolveFailed, "failed to resolve %q", rev)
	}

	var commits []CommitInfo
	next := *hash
	for limit <= 0 || len(commits) < limit {
		c, err := r.repo.CommitObject(next)
		if err != nil {
			return nil, WrapErrorf(err, "failed to read commit %s", next)
		}

		info := CommitInfo{
			Hash:      c.Hash.String(),
			Message:   c.Message,
			Author:    Signature{Name: c.Author.Name, Email: c.Author.Email, When: c.Author.When},
			Committer: Signature{Name: c.Committer.Name, Email: c.Committer.Email, When: c.Committer.When},
		}
		for _, p := range c.ParentHashes {
			info.Parents = append(info.Parents, p.String())
		}
		commits = append(commits, info)

		if len(c.ParentHashes) == 0 {
			break
		}
		next = c.ParentHashes[0]
	}

	return commits, nil
}
