package workspace

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match them with errors.Is.

// ErrAlreadyUpToDate is returned when a fetch or push had nothing to transfer.
var ErrAlreadyUpToDate = errors.New("already up to date")

// ErrBranchExists is returned when creating a branch whose name is taken.
var ErrBranchExists = errors.New("branch already exists")

// ErrBranchMissing is returned when a local or remote branch does not exist.
var ErrBranchMissing = errors.New("branch does not exist")

// ErrNotFastForward is returned when the remote rejects a push that would drop its commits.
var ErrNotFastForward = errors.New("not a fast-forward")

// ErrMergeConflict is returned when the target branch is not an ancestor of the branch being merged.
var ErrMergeConflict = errors.New("merge conflict")

// ErrEmptyCommit is returned when a commit without AllowEmpty would not change the tree.
var ErrEmptyCommit = errors.New("empty commit")

// ErrInvalidRef is returned for empty or malformed names and arguments.
var ErrInvalidRef = errors.New("invalid reference")

// ErrResolveFailed is returned when a revision cannot be resolved to a commit.
var ErrResolveFailed = errors.New("cannot resolve revision")

// WrapError wraps err with msg, keeping it matchable with errors.Is.
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// WrapErrorf is WrapError with a format string.
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
