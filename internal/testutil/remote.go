// Package testutil provides git fixtures shared by package tests.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// DefaultBranch is the branch every fixture remote starts with
const DefaultBranch = "main"

// SeedTime dates the seed commit so fixture hashes are reproducible
var SeedTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NewRemote creates a bare repository on disk whose main branch holds one
// commit with a README, and returns its path.
func NewRemote(t *testing.T) string {
	t.Helper()

	remoteDir := filepath.Join(t.TempDir(), "remote.git")
	bare, err := git.PlainInit(remoteDir, true)
	require.NoError(t, err)
	setHead(t, bare)

	seedDir := filepath.Join(t.TempDir(), "seed")
	seed, err := git.PlainInit(seedDir, false)
	require.NoError(t, err)
	setHead(t, seed)

	wt, err := seed.Worktree()
	require.NoError(t, err)
	require.NoError(t, util.WriteFile(wt.Filesystem, "README.md", []byte("mirror\n"), 0o644))
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("initial commit", &git.CommitOptions{
		Author: &object.Signature{Name: "seed", Email: "seed@example.com", When: SeedTime},
	})
	require.NoError(t, err)

	_, err = seed.CreateRemote(&config.RemoteConfig{Name: "origin", URLs: []string{remoteDir}})
	require.NoError(t, err)
	require.NoError(t, seed.Push(&git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{"refs/heads/main:refs/heads/main"},
	}))

	return remoteDir
}

// RemoteHead returns the hash branch points at in the bare remote
func RemoteHead(t *testing.T, remoteDir, branch string) string {
	t.Helper()

	remote, err := git.PlainOpen(remoteDir)
	require.NoError(t, err)
	ref, err := remote.Reference(plumbing.NewBranchReferenceName(branch), true)
	require.NoError(t, err)
	return ref.Hash().String()
}

// RemoteFile returns the content of path at the tip of branch in the bare
// remote, and false when the file does not exist there.
func RemoteFile(t *testing.T, remoteDir, branch, path string) (string, bool) {
	t.Helper()

	remote, err := git.PlainOpen(remoteDir)
	require.NoError(t, err)
	ref, err := remote.Reference(plumbing.NewBranchReferenceName(branch), true)
	require.NoError(t, err)
	commit, err := remote.CommitObject(ref.Hash())
	require.NoError(t, err)

	f, err := commit.File(path)
	if err != nil {
		return "", false
	}
	content, err := f.Contents()
	require.NoError(t, err)
	return content, true
}

// Advance pushes an extra empty commit to branch of the remote, the way a
// concurrent writer would.
func Advance(t *testing.T, remoteDir, branch, msg string) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "writer")
	repo, err := git.PlainClone(dir, false, &git.CloneOptions{
		URL:           remoteDir,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
	})
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)
	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author:            &object.Signature{Name: "someone", Email: "someone@example.com", When: time.Now()},
		AllowEmptyCommits: true,
	})
	require.NoError(t, err)

	require.NoError(t, repo.Push(&git.PushOptions{
		RefSpecs: []config.RefSpec{config.RefSpec("refs/heads/" + branch + ":refs/heads/" + branch)},
	}))
	return hash.String()
}

// CountCommits returns the number of commits reachable from branch in the remote
func CountCommits(t *testing.T, remoteDir, branch string) int {
	t.Helper()

	remote, err := git.PlainOpen(remoteDir)
	require.NoError(t, err)
	ref, err := remote.Reference(plumbing.NewBranchReferenceName(branch), true)
	require.NoError(t, err)

	iter, err := remote.Log(&git.LogOptions{From: ref.Hash()})
	require.NoError(t, err)
	defer iter.Close()

	n := 0
	require.NoError(t, iter.ForEach(func(*object.Commit) error {
		n++
		return nil
	}))
	return n
}

func setHead(t *testing.T, repo *git.Repository) {
	t.Helper()
	require.NoError(t, repo.Storer.SetReference(
		plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(DefaultBranch))))
}
