// Package cursor persists the sync cursor as a one-line state file inside the
// target repository's working copy.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/kurihiro0119/contribution-mirror/internal/domain"
	apperrors "github.com/kurihiro0119/contribution-mirror/internal/errors"
)

// DefaultFileName is the state file used when none is configured
const DefaultFileName = "last_sync_date.txt"

// Stager stages paths in the working copy's index
type Stager interface {
	Add(ctx context.Context, paths ...string) error
}

// Store reads and writes the cursor file
type Store struct {
	fs       billy.Filesystem
	stager   Stager
	path     string
	lookback time.Duration
	now      func() time.Time
}

// NewStore creates a store for the file at path, relative to the root of fs.
// A zero lookback falls back to domain.DefaultLookback.
func NewStore(fs billy.Filesystem, stager Stager, path string, lookback time.Duration) *Store {
	if path == "" {
		path = DefaultFileName
	}
	if lookback <= 0 {
		lookback = domain.DefaultLookback
	}
	return &Store{
		fs:       fs,
		stager:   stager,
		path:     path,
		lookback: lookback,
		now:      time.Now,
	}
}

// Path returns the state file path relative to the repository root
func (s *Store) Path() string {
	return s.path
}

// Read returns the stored cursor. When the file is missing or blank it returns
// the default cursor (now minus the lookback) and found=false.
func (s *Store) Read() (domain.Cursor, bool, error) {
	f, err := s.fs.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.DefaultCursor(s.now(), s.lookback), false, nil
		}
		return domain.Cursor{}, false, apperrors.NewStateError(fmt.Sprintf("failed to open %s", s.path), err)
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return domain.Cursor{}, false, apperrors.NewStateError(fmt.Sprintf("failed to read %s", s.path), err)
	}

	content := strings.TrimSpace(string(b))
	if content == "" {
		return domain.DefaultCursor(s.now(), s.lookback), false, nil
	}

	c, err := domain.ParseCursor(content)
	if err != nil {
		return domain.Cursor{}, false, apperrors.NewStateError(fmt.Sprintf("corrupt state file %s", s.path), err)
	}
	return c, true, nil
}

// Write overwrites the state file with the canonical cursor and stages it.
// It never commits.
func (s *Store) Write(ctx context.Context, c domain.Cursor) error {
	if c.IsZero() {
		return apperrors.NewStateError("refusing to write an empty cursor", nil)
	}

	if err := util.WriteFile(s.fs, s.path, []byte(c.String()+"\n"), 0o644); err != nil {
		return apperrors.NewStateError(fmt.Sprintf("failed to write %s", s.path), err)
	}

	if s.stager != nil {
		if err := s.stager.Add(ctx, s.path); err != nil {
			return apperrors.NewStateError(fmt.Sprintf("failed to stage %s", s.path), err)
		}
	}
	return nil
}
