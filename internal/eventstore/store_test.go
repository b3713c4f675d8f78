package eventstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/pipeline"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTemp(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	cfg.Path = filepath.Join(t.TempDir(), "runs.db")
	if cfg.RetentionMode == "" {
		cfg.RetentionMode = "persistent"
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	es, err := Open(ctx, config.EventStoreConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if es.Persistent() {
		t.Fatal("ephemeral store should not hold a database")
	}
	if err := es.BeginRun(ctx, Run{ID: "r1", Source: "a.txt", Voice: "xenia"}); err != nil {
		t.Fatalf("begin run: %v", err)
	}
	runs, err := es.ListRuns(ctx, 10)
	if err != nil || len(runs) != 0 {
		t.Fatalf("expected no history, got %v (%v)", runs, err)
	}
	if _, err := es.GetRun(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	es := openTemp(t, config.EventStoreConfig{})

	if err := es.BeginRun(ctx, Run{ID: "run-1", NodeID: "node-a", Source: "/books/a.txt", Voice: "xenia", State: "idle"}); err != nil {
		t.Fatalf("begin run: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{RunID: "run-1", Kind: "stage", State: "reading", Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	err := es.FinishRun(ctx, Run{ID: "run-1", State: "done", Artifact: "/books/a_xenia.mp3", Duration: 2500 * time.Millisecond, Units: 4})
	if err != nil {
		t.Fatalf("finish run: %v", err)
	}

	run, err := es.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.State != "done" || run.Artifact != "/books/a_xenia.mp3" || run.Duration != 2500*time.Millisecond || run.Units != 4 {
		t.Fatalf("unexpected run %+v", run)
	}
	if run.NodeID != "node-a" || run.FinishedAt.IsZero() {
		t.Fatalf("missing fields in %+v", run)
	}
	events, err := es.ListRunEvents(ctx, "run-1", 10)
	if err != nil || len(events) != 1 || events[0].State != "reading" {
		t.Fatalf("unexpected events %+v (%v)", events, err)
	}
	if err := es.FinishRun(ctx, Run{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPruneByDaysAndMaxRuns(t *testing.T) {
	ctx := context.Background()
	es := openTemp(t, config.EventStoreConfig{RetentionDays: 1, MaxRuns: 2})

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.BeginRun(ctx, Run{ID: "old", Source: "a.txt", Voice: "xenia", State: "done"}); err != nil {
		t.Fatal(err)
	}
	if err := es.AppendEvent(ctx, Event{RunID: "old", Kind: "done"}); err != nil {
		t.Fatal(err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	for i, id := range []string{"n1", "n2", "n3"} {
		run := Run{ID: id, Source: "b.txt", Voice: "baya", State: "done", CreatedAt: es.clock().Add(time.Duration(i) * time.Minute)}
		if err := es.BeginRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	runs, err := es.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "n3" || runs[1].ID != "n2" {
		t.Fatalf("unexpected runs after prune: %+v", runs)
	}
	events, err := es.ListRunEvents(ctx, "old", 10)
	if err != nil || len(events) != 0 {
		t.Fatalf("expected old events cascaded, got %d (%v)", len(events), err)
	}
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	es := openTemp(t, config.EventStoreConfig{})

	rec := NewRecorder(es, Run{ID: "run-9", Source: "/x.txt", Voice: "kseniya"}, newLogger())
	rec.Begin(ctx)
	stream := []pipeline.Event{
		{Kind: pipeline.EventStage, State: pipeline.Reading},
		{Kind: pipeline.EventStage, State: pipeline.Synthesizing},
	}
	for i := 0; i <= 100; i++ {
		stream = append(stream, pipeline.Event{Kind: pipeline.EventProgress, Completed: i, Total: 100, Percent: i})
	}
	stream = append(stream, pipeline.Event{Kind: pipeline.EventDone, State: pipeline.Done, Artifact: "/x.mp3"})
	for _, ev := range stream {
		rec.Observe(ctx, ev)
	}
	rec.Finish(ctx, pipeline.Result{RunID: "run-9", Artifact: "/x.mp3", Units: 100, Duration: time.Minute}, nil)

	events, err := es.ListRunEvents(ctx, "run-9", 1000)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	progress := 0
	for _, e := range events {
		if e.Kind == "progress" {
			progress++
		}
	}
	if progress != 11 {
		t.Fatalf("expected 11 thinned progress events, got %d", progress)
	}
	run, err := es.GetRun(ctx, "run-9")
	if err != nil {
		t.Fatal(err)
	}
	if run.State != "done" || run.Artifact != "/x.mp3" || run.Duration != time.Minute {
		t.Fatalf("unexpected run %+v", run)
	}
}

func TestRecorderFailure(t *testing.T) {
	ctx := context.Background()
	es := openTemp(t, config.EventStoreConfig{})

	rec := NewRecorder(es, Run{ID: "run-err", Source: "/x.txt", Voice: "xenia"}, newLogger())
	rec.Begin(ctx)
	rec.Finish(ctx, pipeline.Result{RunID: "run-err"}, &pipeline.EmptyContentError{Path: "/x.txt"})

	run, err := es.GetRun(ctx, "run-err")
	if err != nil {
		t.Fatal(err)
	}
	if run.State != "errored" || run.Error == "" {
		t.Fatalf("expected recorded failure, got %+v", run)
	}
}
