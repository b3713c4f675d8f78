package pipeline

import (
	"time"
)

// EventKind classifies run events.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventStage     EventKind = "stage"
	EventError     EventKind = "error"
	EventDone      EventKind = "done"
	EventCancelled EventKind = "cancelled"
)

// Event is one message on a run's stream. Fields not meaningful for Kind
// are zero.
type Event struct {
	RunID string
	Kind  EventKind
	Time  time.Time

	State State

	Completed int
	Total     int
	Percent   int

	Artifact string
	Duration time.Duration

	Err     error
	Message string
}

// Final reports whether no event follows e.
func (e Event) Final() bool {
	return e.Kind == EventDone || e.Kind == EventError || e.Kind == EventCancelled
}

func percent(done, total int) int {
	if total <= 0 {
		return 0
	}
	return done * 100 / total
}
