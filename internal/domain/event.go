package domain

import "time"

// EventAction is the source host's action filter for activity events
type EventAction string

const (
	EventActionPushed EventAction = "pushed"
)

// Event represents a push event read from the source host's activity feed
type Event struct {
	ID             string
	Action         string
	ProjectID      int64
	AuthorUsername string
	Ref            string
	CommitCount    int
	CreatedAt      time.Time
}

// CommitRecord is the synthetic commit created for one replayed event
type CommitRecord struct {
	EventID   string    `json:"event_id"`
	SHA       string    `json:"sha"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
