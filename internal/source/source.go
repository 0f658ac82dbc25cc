// Package source streams push events from the source host's activity feed.
package source

import (
	"context"
	"iter"

	"github.com/kurihiro0119/contribution-mirror/internal/domain"
)

// PageSize is the number of events requested per page
const PageSize = 100

// EventSource produces events created at or after a cursor, oldest first.
//
// The sequence is lazy: pages are fetched as the consumer advances and
// stopping early stops further requests. Any fetch failure is yielded as the
// final element with a non-nil error; the sequence never ends silently on a
// failed page.
type EventSource interface {
	Events(ctx context.Context, since domain.Cursor) iter.Seq2[domain.Event, error]
}
