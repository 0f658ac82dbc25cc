package domain

import (
	"fmt"
	"strings"
	"time"
)

// CursorLayout is the canonical textual form of a sync cursor
const CursorLayout = "2006-01-02T15:04:05Z"

// DefaultLookback is how far back the first run reaches when no cursor is stored
const DefaultLookback = 365 * 24 * time.Hour

// Cursor is the exclusive lower bound for the next event fetch.
// It is always UTC with second precision.
type Cursor struct {
	t time.Time
}

// NewCursor normalizes t to UTC and truncates it to whole seconds
func NewCursor(t time.Time) Cursor {
	return Cursor{t: t.UTC().Truncate(time.Second)}
}

// DefaultCursor returns now minus lookback
func DefaultCursor(now time.Time, lookback time.Duration) Cursor {
	return NewCursor(now.UTC().Truncate(time.Second).Add(-lookback))
}

// ParseCursor parses the canonical form. RFC 3339 timestamps with an offset or
// fractional seconds are accepted and normalized.
func ParseCursor(s string) (Cursor, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Cursor{}, fmt.Errorf("empty cursor")
	}
	if t, err := time.Parse(CursorLayout, s); err == nil {
		return NewCursor(t), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor %q: %w", s, err)
	}
	return NewCursor(t), nil
}

// After returns the cursor that follows an event created at t
func After(t time.Time) Cursor {
	return NewCursor(t.Truncate(time.Second).Add(time.Second))
}

// Time returns the cursor instant
func (c Cursor) Time() time.Time {
	return c.t
}

// IsZero reports whether the cursor was never set
func (c Cursor) IsZero() bool {
	return c.t.IsZero()
}

// Before reports whether c is strictly earlier than other
func (c Cursor) Before(other Cursor) bool {
	return c.t.Before(other.t)
}

// Equal reports whether both cursors denote the same second
func (c Cursor) Equal(other Cursor) bool {
	return c.t.Equal(other.t)
}

func (c Cursor) String() string {
	return c.t.Format(CursorLayout)
}

// MarshalText implements encoding.TextMarshaler
func (c Cursor) MarshalText() ([]byte, error) {
	if c.IsZero() {
		return []byte{}, nil
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *Cursor) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*c = Cursor{}
		return nil
	}
	parsed, err := ParseCursor(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
