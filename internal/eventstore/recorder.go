package eventstore

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/loqalabs/loqa-narrator/internal/pipeline"
)

// progressStep limits stored progress events to every 10 percent.
const progressStep = 10

type eventPayload struct {
	Completed  int    `json:"completed,omitempty"`
	Total      int    `json:"total,omitempty"`
	Percent    int    `json:"percent,omitempty"`
	Artifact   string `json:"artifact,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Recorder writes one run's pipeline events into the store. Storage
// failures are logged and never interrupt the run.
type Recorder struct {
	store       *Store
	run         Run
	log         *slog.Logger
	lastPercent int
}

func NewRecorder(store *Store, run Run, log *slog.Logger) *Recorder {
	return &Recorder{
		store:       store,
		run:         run,
		log:         log.With(slog.String("component", "run-recorder"), slog.String("run_id", run.ID)),
		lastPercent: -progressStep,
	}
}

// Begin creates the run row.
func (r *Recorder) Begin(ctx context.Context) {
	r.run.State = pipeline.Idle.String()
	if err := r.store.BeginRun(ctx, r.run); err != nil {
		r.log.Warn("failed to record run start", slog.String("error", err.Error()))
	}
}

// Observe stores ev. Progress events are thinned to progressStep.
func (r *Recorder) Observe(ctx context.Context, ev pipeline.Event) {
	if ev.Kind == pipeline.EventProgress {
		if ev.Percent < 100 && ev.Percent-r.lastPercent < progressStep {
			return
		}
		r.lastPercent = ev.Percent
	}
	if ev.Kind == pipeline.EventStage {
		if err := r.store.SetState(ctx, r.run.ID, ev.State.String()); err != nil {
			r.log.Warn("failed to record run state", slog.String("error", err.Error()))
		}
	}
	payload, err := json.Marshal(eventPayload{
		Completed:  ev.Completed,
		Total:      ev.Total,
		Percent:    ev.Percent,
		Artifact:   ev.Artifact,
		DurationMS: ev.Duration.Milliseconds(),
		Message:    ev.Message,
	})
	if err != nil {
		r.log.Warn("failed to encode event", slog.String("error", err.Error()))
		return
	}
	err = r.store.AppendEvent(ctx, Event{
		RunID:     r.run.ID,
		Kind:      string(ev.Kind),
		State:     ev.State.String(),
		Payload:   payload,
		CreatedAt: ev.Time,
	})
	if err != nil {
		r.log.Warn("failed to record event", slog.String("error", err.Error()), slog.String("kind", string(ev.Kind)))
	}
}

// Finish stores the run outcome and applies retention.
func (r *Recorder) Finish(ctx context.Context, res pipeline.Result, runErr error) {
	run := r.run
	run.Artifact = res.Artifact
	run.Duration = res.Duration
	run.Units = res.Units
	run.Cancelled = res.Cancelled
	run.State = pipeline.Done.String()
	if runErr != nil {
		run.State = pipeline.Errored.String()
		run.Error = pipeline.Describe(runErr)
	}
	if err := r.store.FinishRun(ctx, run); err != nil {
		r.log.Warn("failed to record run outcome", slog.String("error", err.Error()))
	}
	if err := r.store.Prune(ctx); err != nil {
		r.log.Warn("failed to prune run history", slog.String("error", err.Error()))
	}
}
