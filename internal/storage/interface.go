package storage

import (
	"context"
	"errors"

	"github.com/kurihiro0119/contribution-mirror/internal/domain"
)

// ErrNotFound is returned when a run does not exist
var ErrNotFound = errors.New("not found")

// DefaultListLimit caps ListRuns when the caller passes limit <= 0
const DefaultListLimit = 20

// Storage is the abstract interface for the run ledger
type Storage interface {
	// Run operations. SaveRun inserts or replaces by run id.
	SaveRun(ctx context.Context, run *domain.RunRecord) error
	GetRun(ctx context.Context, id string) (*domain.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]*domain.RunRecord, error)

	// Commit audit trail, ordered as replayed
	SaveCommits(ctx context.Context, runID string, commits []domain.CommitRecord) error
	GetCommits(ctx context.Context, runID string) ([]domain.CommitRecord, error)

	// Migration
	Migrate(ctx context.Context) error

	// Connection management
	Close() error
}
