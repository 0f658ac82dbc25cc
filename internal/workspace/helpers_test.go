package workspace

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/contribution-mirror/internal/testutil"
)

var testSig = Signature{
	Name:  "Mirror Bot",
	Email: "bot@example.com",
	When:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
}

// setupMemoryRepo creates an in-memory repository with one commit on main.
func setupMemoryRepo(t *testing.T) *Repo {
	t.Helper()

	repo, err := git.Init(memory.NewStorage(), memfs.New())
	require.NoError(t, err)

	// go-git defaults HEAD to master
	require.NoError(t, repo.Storer.SetReference(
		plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, util.WriteFile(wt.Filesystem, "README.md", []byte("mirror\n"), 0o644))
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("initial commit", &git.CommitOptions{
		Author: &object.Signature{Name: testSig.Name, Email: testSig.Email, When: testSig.When},
	})
	require.NoError(t, err)

	r, err := New(repo, Options{})
	require.NoError(t, err)
	return r
}

func setupRemote(t *testing.T) string {
	return testutil.NewRemote(t)
}

func remoteHead(t *testing.T, remoteDir, branch string) string {
	return testutil.RemoteHead(t, remoteDir, branch)
}

// cloneRemote clones remoteDir into a fresh temp directory.
func cloneRemote(t *testing.T, remoteDir string) *Repo {
	t.Helper()

	r, err := Clone(context.Background(), filepath.Join(t.TempDir(), "work"), Options{RemoteURL: remoteDir})
	require.NoError(t, err)
	return r
}
