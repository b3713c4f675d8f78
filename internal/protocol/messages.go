package protocol

import "time"

// RunRequest asks a narrator node to narrate a document it can read.
type RunRequest struct {
	RunID string `json:"run_id,omitempty"`
	Path  string `json:"path"`
	Voice string `json:"voice"`
}

// RunAccepted is the reply to an accepted RunRequest.
type RunAccepted struct {
	RunID  string `json:"run_id"`
	NodeID string `json:"node_id"`
}

// RunRejected is the reply when a request cannot be started.
type RunRejected struct {
	Error string `json:"error"`
}

// RunEvent mirrors one pipeline event on the bus.
type RunEvent struct {
	RunID      string    `json:"run_id"`
	Kind       string    `json:"kind"`
	State      string    `json:"state,omitempty"`
	Completed  int       `json:"completed,omitempty"`
	Total      int       `json:"total,omitempty"`
	Percent    int       `json:"percent,omitempty"`
	Artifact   string    `json:"artifact,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Final reports whether no further events follow for the run.
func (e RunEvent) Final() bool {
	return e.Kind == "done" || e.Kind == "error" || e.Kind == "cancelled"
}

const (
	SubjectRunRequest      = "narrator.run.request"
	SubjectRunEventPrefix  = "narrator.run.event"
	SubjectRunCancelPrefix = "narrator.run.cancel"
)

func RunEventSubject(runID string) string { return SubjectRunEventPrefix + "." + runID }

func RunCancelSubject(runID string) string { return SubjectRunCancelPrefix + "." + runID }

// WorkerAnnouncement advertises a narrator node and what it can render.
type WorkerAnnouncement struct {
	NodeID     string    `json:"node_id"`
	Role       string    `json:"role"`
	Voices     []string  `json:"voices"`
	ModelMode  string    `json:"model_mode"`
	Codec      string    `json:"codec"`
	Container  string    `json:"container"`
	SampleRate int       `json:"sample_rate"`
	Capacity   int       `json:"capacity"`
	Timestamp  time.Time `json:"timestamp"`
}

// WorkerHeartbeat is published periodically by every narrator node.
type WorkerHeartbeat struct {
	NodeID     string    `json:"node_id"`
	ActiveRuns int       `json:"active_runs"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectNodeAnnounce        = "ctrl.node.announce"
	SubjectNodeHeartbeatPrefix = "ctrl.node.heartbeat"
)

func HeartbeatSubject(nodeID string) string { return SubjectNodeHeartbeatPrefix + "." + nodeID }
