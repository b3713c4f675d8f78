// Package pipeline sequences a narration run: read, split, synthesize,
// assemble and clean up, reporting progress as a stream of events.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-narrator/internal/assembly"
	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/document"
	"github.com/loqalabs/loqa-narrator/internal/synth"
	"github.com/loqalabs/loqa-narrator/internal/text"
	"github.com/loqalabs/loqa-narrator/internal/transcode"
	"github.com/loqalabs/loqa-narrator/internal/tts"
	"github.com/loqalabs/loqa-narrator/internal/voice"
)

const modelRemedy = "Check the model settings (model.mode, model.command, model.url) and network access, then retry."

// DocumentReader loads a document's text.
type DocumentReader interface {
	Read(ctx context.Context, path string) (document.Document, error)
}

type Deps struct {
	Reader     DocumentReader
	Provider   tts.ModelProvider
	Transcoder transcode.Transcoder
	Logger     *slog.Logger
	// ModelProgress receives model download progress. Optional.
	ModelProgress tts.Progress
	// Now defaults to time.Now.
	Now func() time.Time
}

type Options struct {
	SampleRate    int
	Workers       int
	MaxChunkChars int
	Script        *unicode.RangeTable
	ScratchRoot   string
	Encoding      transcode.Encoding
	Extension     string
}

// OptionsFromConfig maps configuration onto controller options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		SampleRate:    cfg.Model.SampleRate,
		Workers:       cfg.Synthesis.Workers,
		MaxChunkChars: cfg.Synthesis.MaxChunkChars,
		Script:        unicode.Scripts[cfg.Synthesis.Script],
		ScratchRoot:   cfg.Synthesis.ScratchDir,
		Encoding: transcode.Encoding{
			Codec:     cfg.Transcoder.Codec,
			Bitrate:   cfg.Transcoder.Bitrate,
			Container: cfg.Transcoder.Container,
		},
		Extension: cfg.Transcoder.Extension,
	}
}

// Request asks for one document to be narrated. RunID is generated when
// empty.
type Request struct {
	RunID string
	Path  string
	Voice string
}

// Result summarizes a finished run. Artifact is empty when the run was
// cancelled.
type Result struct {
	RunID     string
	Source    string
	Voice     string
	Artifact  string
	Duration  time.Duration
	Units     int
	Cancelled bool
	Elapsed   time.Duration
}

type Controller struct {
	deps      Deps
	opts      Options
	synth     *synth.Stage
	assembler *assembly.Stage
	logger    *slog.Logger
	tracer    trace.Tracer

	runsCounter  metric.Int64Counter
	unitsCounter metric.Int64Counter
	durationHist metric.Float64Histogram
}

func New(deps Deps, opts Options) *Controller {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 48000
	}
	if opts.Script == nil {
		opts.Script = unicode.Cyrillic
	}
	if opts.Extension == "" {
		opts.Extension = "mp3"
	}
	logger := deps.Logger.With(slog.String("component", "pipeline"))
	c := &Controller{
		deps:      deps,
		opts:      opts,
		synth:     synth.NewStage(deps.Provider, opts.SampleRate, opts.Workers, deps.Logger),
		assembler: assembly.NewStage(deps.Transcoder, opts.Encoding, deps.Logger),
		logger:    logger,
		tracer:    otel.Tracer("github.com/loqalabs/loqa-narrator/pipeline"),
	}
	c.initMetrics()
	return c
}

func (c *Controller) initMetrics() {
	meter := otel.Meter("github.com/loqalabs/loqa-narrator/pipeline")
	var err error
	if c.runsCounter, err = meter.Int64Counter("narrator.runs", metric.WithDescription("Completed narration runs by outcome")); err != nil {
		c.logger.Warn("failed to create runs counter", slogError(err))
	}
	if c.unitsCounter, err = meter.Int64Counter("narrator.units.synthesized", metric.WithDescription("Text units rendered to audio")); err != nil {
		c.logger.Warn("failed to create units counter", slogError(err))
	}
	if c.durationHist, err = meter.Float64Histogram("narrator.run.duration", metric.WithUnit("s"), metric.WithDescription("Wall time of narration runs")); err != nil {
		c.logger.Warn("failed to create duration histogram", slogError(err))
	}
}

// Run is a pipeline execution in progress.
type Run struct {
	ID string

	events    chan Event
	cancelled atomic.Bool
	done      chan struct{}

	mu     sync.Mutex
	queue  []Event
	closed bool
	wake   chan struct{}
	result Result
	err    error
}

// Events streams the run's events. The channel closes after the final
// event. Events are queued without bound, so a slow reader never stalls
// the run.
func (r *Run) Events() <-chan Event { return r.events }

// Cancel asks the run to stop at the next unit boundary.
func (r *Run) Cancel() { r.cancelled.Store(true) }

// CancelRequested reports whether Cancel has been called.
func (r *Run) CancelRequested() bool { return r.cancelled.Load() }

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes.
func (r *Run) Wait() (Result, error) {
	<-r.done
	return r.result, r.err
}

func (r *Run) push(ev Event) {
	r.mu.Lock()
	r.queue = append(r.queue, ev)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Run) finish() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Run) pump() {
	defer close(r.events)
	for {
		r.mu.Lock()
		pending := r.queue
		r.queue = nil
		closed := r.closed
		r.mu.Unlock()
		for _, ev := range pending {
			r.events <- ev
		}
		if closed && len(pending) == 0 {
			return
		}
		if len(pending) == 0 {
			<-r.wake
		}
	}
}

// Start runs req on its own goroutine.
func (c *Controller) Start(ctx context.Context, req Request) *Run {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	run := &Run{
		ID:     req.RunID,
		events: make(chan Event),
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}
	go run.pump()
	go func() {
		defer close(run.done)
		defer run.finish()
		run.result, run.err = c.execute(ctx, req, run.push, run.cancelled.Load)
	}()
	return run
}

// Execute runs req on the calling goroutine. emit may be nil.
func (c *Controller) Execute(ctx context.Context, req Request, emit func(Event)) (Result, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if emit == nil {
		emit = func(Event) {}
	}
	return c.execute(ctx, req, emit, func() bool { return false })
}

func (c *Controller) execute(ctx context.Context, req Request, sink func(Event), cancelRequested func() bool) (Result, error) {
	started := c.deps.Now()
	logger := c.logger.With(slog.String("run_id", req.RunID))
	emit := func(ev Event) {
		ev.RunID = req.RunID
		if ev.Time.IsZero() {
			ev.Time = c.deps.Now()
		}
		sink(ev)
	}
	m := &machine{state: Idle, emit: emit}
	res := Result{RunID: req.RunID, Source: req.Path, Voice: req.Voice}

	ctx, span := c.tracer.Start(ctx, "narrator.run", trace.WithAttributes(
		attribute.String("narrator.run_id", req.RunID),
		attribute.String("narrator.voice", req.Voice),
	))
	defer span.End()

	var scratch string
	removeScratch := func() {
		if scratch == "" {
			return
		}
		if err := os.RemoveAll(scratch); err != nil {
			logger.Warn("failed to remove scratch directory", slog.String("path", scratch), slogError(err))
		}
		scratch = ""
	}
	defer removeScratch()

	fail := func(err error) (Result, error) {
		removeScratch()
		m.to(Errored)
		res.Elapsed = c.deps.Now().Sub(started)
		logger.Error("run failed", slog.String("state", m.state.String()), slogError(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.recordRun(ctx, "error", res.Elapsed)
		emit(Event{Kind: EventError, State: Errored, Err: err, Message: Describe(err)})
		return res, err
	}

	profile, ok := voice.Lookup(req.Voice)
	if !ok {
		return fail(&UnknownVoiceError{Voice: req.Voice})
	}
	res.Voice = profile.ID
	if _, err := document.Validate(req.Path); err != nil {
		return fail(err)
	}
	logger.Info("run started", slog.String("source", req.Path), slog.String("voice", profile.ID))

	m.to(Reading)
	doc, err := c.read(ctx, req.Path)
	if err != nil {
		return fail(err)
	}
	if strings.TrimSpace(doc.Text) == "" {
		return fail(&EmptyContentError{Path: req.Path})
	}

	m.to(Splitting)
	units := text.Split(doc.Text)
	units = text.Group(units, c.opts.MaxChunkChars)
	units = text.Filter(units, c.opts.Script)
	if len(units) == 0 {
		return fail(&EmptyContentError{Path: req.Path})
	}
	res.Units = len(units)
	logger.Info("text split", slog.Int("units", len(units)), slog.String("encoding", doc.Encoding))

	if err := c.deps.Provider.EnsureAvailable(ctx, c.deps.ModelProgress); err != nil {
		return fail(&PreconditionError{Component: "speech model", Remedy: modelRemedy, Err: err})
	}
	scratch, err = os.MkdirTemp(c.opts.ScratchRoot, "narrator-"+req.RunID+"-*")
	if err != nil {
		return fail(fmt.Errorf("create scratch directory: %w", err))
	}

	m.to(Synthesizing)
	emit(Event{Kind: EventProgress, Completed: 0, Total: len(units), Percent: 0})
	clips, err := c.synthesize(ctx, units, profile.ID, scratch, emit, cancelRequested)
	if errors.Is(err, synth.ErrCancelled) {
		m.to(CleaningUp)
		removeScratch()
		m.to(Done)
		res.Cancelled = true
		res.Elapsed = c.deps.Now().Sub(started)
		logger.Info("run cancelled")
		span.SetAttributes(attribute.Bool("narrator.cancelled", true))
		c.recordRun(ctx, "cancelled", res.Elapsed)
		emit(Event{Kind: EventCancelled, State: Done})
		return res, nil
	}
	if err != nil {
		return fail(err)
	}

	m.to(Assembling)
	dest := OutputPath(req.Path, profile.ID, c.deps.Now(), c.opts.Extension)
	artifact, asmErr := c.assemble(ctx, clips, dest, scratch)

	m.to(CleaningUp)
	removeScratch()
	if asmErr != nil {
		return fail(asmErr)
	}
	m.to(Done)

	res.Artifact = artifact.Path
	res.Duration = artifact.Duration
	res.Elapsed = c.deps.Now().Sub(started)
	logger.Info("run finished",
		slog.String("artifact", res.Artifact),
		slog.String("audio", assembly.FormatDuration(res.Duration)),
		slog.Duration("elapsed", res.Elapsed),
	)
	c.recordRun(ctx, "ok", res.Elapsed)
	emit(Event{Kind: EventDone, State: Done, Artifact: res.Artifact, Duration: res.Duration})
	return res, nil
}

func (c *Controller) read(ctx context.Context, path string) (document.Document, error) {
	ctx, span := c.tracer.Start(ctx, "narrator.read")
	defer span.End()
	doc, err := c.deps.Reader.Read(ctx, path)
	if err != nil {
		span.RecordError(err)
		return doc, err
	}
	span.SetAttributes(attribute.String("narrator.format", string(doc.Format)))
	return doc, nil
}

func (c *Controller) synthesize(ctx context.Context, units []text.Unit, voiceID, dir string, emit func(Event), cancelRequested func() bool) ([]synth.Clip, error) {
	ctx, span := c.tracer.Start(ctx, "narrator.synthesize", trace.WithAttributes(attribute.Int("narrator.units", len(units))))
	defer span.End()

	checkpoint := func() error {
		if cancelRequested() {
			return synth.ErrCancelled
		}
		return nil
	}
	progress := func(done, total int) {
		if c.unitsCounter != nil {
			c.unitsCounter.Add(ctx, 1)
		}
		emit(Event{Kind: EventProgress, Completed: done, Total: total, Percent: percent(done, total)})
	}
	clips, err := c.synth.Run(ctx, units, voiceID, dir, checkpoint, progress)
	if err != nil && !errors.Is(err, synth.ErrCancelled) {
		span.RecordError(err)
	}
	return clips, err
}

func (c *Controller) assemble(ctx context.Context, clips []synth.Clip, dest, scratch string) (assembly.Result, error) {
	ctx, span := c.tracer.Start(ctx, "narrator.assemble", trace.WithAttributes(attribute.String("narrator.destination", dest)))
	defer span.End()
	res, err := c.assembler.Assemble(ctx, synth.Paths(clips), dest, scratch)
	if err != nil {
		span.RecordError(err)
	}
	return res, err
}

func (c *Controller) recordRun(ctx context.Context, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if c.runsCounter != nil {
		c.runsCounter.Add(ctx, 1, attrs)
	}
	if c.durationHist != nil {
		c.durationHist.Record(ctx, elapsed.Seconds(), attrs)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
