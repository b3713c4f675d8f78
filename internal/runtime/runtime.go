package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/bus"
	"github.com/loqalabs/loqa-narrator/internal/capability"
	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/document"
	"github.com/loqalabs/loqa-narrator/internal/eventstore"
	"github.com/loqalabs/loqa-narrator/internal/natsserver"
	"github.com/loqalabs/loqa-narrator/internal/pipeline"
	"github.com/loqalabs/loqa-narrator/internal/service"
	"github.com/loqalabs/loqa-narrator/internal/transcode"
	"github.com/loqalabs/loqa-narrator/internal/tts"
	"github.com/loqalabs/loqa-narrator/internal/voice"
)

// TranscoderRemedy tells users how to install ffmpeg.
const TranscoderRemedy = `ffmpeg is required to build the audio file.
  1. Download a build from https://ffmpeg.org/download.html
  2. Put the ffmpeg binary on PATH, or unpack it into one of:
       C:\ffmpeg\bin, C:\Program Files\ffmpeg\bin, ~/ffmpeg/bin
     or set transcoder.path in the configuration file.
  3. Check the install with: ffmpeg -version`

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	metricsSrv  *http.Server
	tracerClose func(context.Context) error
	metrics     http.Handler
	ready       atomic.Bool
	wg          sync.WaitGroup

	embedded *natsserver.EmbeddedServer
	bus      *bus.Client
	store    *eventstore.Store
	registry *capability.Registry
	service  *service.Service
	closeTTS func() error
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up every daemon component and blocks until ctx is done.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := SetupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	r.metrics = metricsHandler
	defer r.shutdown()

	if err := r.startComponents(ctx); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if r.metrics != nil && r.cfg.Telemetry.PrometheusBind != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", r.metrics)
		r.metricsSrv = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				r.logger.Warn("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr), slog.String("node_id", r.cfg.Node.ID))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsSrv != nil {
		_ = r.metricsSrv.Shutdown(shutdownCtx)
	}
	r.wg.Wait()
	return nil
}

func (r *Runtime) startComponents(ctx context.Context) error {
	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.store = store

	ffmpeg := transcode.NewFFmpeg(r.cfg.Transcoder, r.logger)
	if _, err := ffmpeg.Locate(ctx); err != nil {
		return &pipeline.PreconditionError{Component: "ffmpeg", Remedy: TranscoderRemedy, Err: err}
	}

	provider, closer, err := tts.New(r.cfg.Model, r.logger)
	if err != nil {
		return fmt.Errorf("init speech model: %w", err)
	}
	r.closeTTS = closer.Close
	model := tts.NewLazy(provider)

	reader, err := document.NewReader(r.cfg.Reader, r.logger)
	if err != nil {
		return fmt.Errorf("init document reader: %w", err)
	}

	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return err
	}
	r.embedded = embedded
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	busClient, err := bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return err
	}
	r.bus = busClient

	ctrl := pipeline.New(pipeline.Deps{
		Reader:     reader,
		Provider:   model,
		Transcoder: ffmpeg,
		Logger:     r.logger,
		ModelProgress: func(done, total int64) {
			if total > 0 && done == total {
				r.logger.Info("model download complete", slog.Int64("bytes", done))
			}
		},
	}, pipeline.OptionsFromConfig(r.cfg))

	r.service = service.NewService(ctx, r.cfg.Service, r.cfg.Node.ID, busClient, ctrl, store, r.logger)
	if err := r.service.Start(); err != nil {
		return err
	}

	registry, err := capability.NewRegistry(ctx, r.cfg.Node, capability.Advertisement{
		Voices:     voice.IDs(),
		ModelMode:  r.cfg.Model.Mode,
		Codec:      r.cfg.Transcoder.Codec,
		Container:  r.cfg.Transcoder.Container,
		SampleRate: r.cfg.Model.SampleRate,
		Capacity:   r.cfg.Service.MaxConcurrency,
	}, r.service.ActiveRuns, busClient, r.logger)
	if err != nil {
		return err
	}
	r.registry = registry
	return nil
}

func (r *Runtime) shutdown() {
	if r.registry != nil {
		r.registry.Close()
	}
	if r.service != nil {
		r.service.Close()
	}
	r.bus.Close()
	r.embedded.Shutdown()
	if r.closeTTS != nil {
		if err := r.closeTTS(); err != nil {
			r.logger.Warn("speech model close error", slog.String("error", err.Error()))
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("event store close error", slog.String("error", err.Error()))
		}
	}
	if r.tracerClose != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.tracerClose(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", r.handleHealth)
	mux.HandleFunc("GET /readyz", r.handleReady)
	mux.HandleFunc("GET /runs", r.handleRuns)
	mux.HandleFunc("GET /runs/{id}", r.handleRun)
	mux.HandleFunc("GET /workers", r.handleWorkers)
	if r.metrics != nil {
		mux.Handle("GET /metrics", r.metrics)
	}
	return mux
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	ready := r.ready.Load() && r.bus.Healthy()
	if r.service != nil && !r.service.Healthy() {
		ready = false
	}
	if r.registry != nil && !r.registry.Healthy() {
		ready = false
	}
	if ready {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleRuns(w http.ResponseWriter, req *http.Request) {
	limit := 20
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := r.store.ListRuns(req.Context(), limit)
	if err != nil {
		r.logger.Warn("list runs failed", slog.String("error", err.Error()))
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	out := make([]runView, 0, len(runs))
	for _, run := range runs {
		out = append(out, newRunView(run))
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Runtime) handleRun(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	run, err := r.store.GetRun(req.Context(), id)
	if errors.Is(err, eventstore.ErrNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	events, err := r.store.ListRunEvents(req.Context(), id, 500)
	if err != nil {
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	view := newRunView(run)
	for _, e := range events {
		view.Events = append(view.Events, eventView{
			Kind:    e.Kind,
			State:   e.State,
			Payload: json.RawMessage(e.Payload),
			At:      e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, view)
}

func (r *Runtime) handleWorkers(w http.ResponseWriter, _ *http.Request) {
	workers := []capability.WorkerInfo{}
	if r.registry != nil {
		if found := r.registry.Query(nil); found != nil {
			workers = found
		}
	}
	writeJSON(w, http.StatusOK, workers)
}

type runView struct {
	ID         string      `json:"id"`
	NodeID     string      `json:"node_id,omitempty"`
	Source     string      `json:"source"`
	Voice      string      `json:"voice"`
	State      string      `json:"state"`
	Artifact   string      `json:"artifact,omitempty"`
	DurationMS int64       `json:"duration_ms"`
	Units      int         `json:"units"`
	Error      string      `json:"error,omitempty"`
	Cancelled  bool        `json:"cancelled"`
	CreatedAt  time.Time   `json:"created_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Events     []eventView `json:"events,omitempty"`
}

type eventView struct {
	Kind    string          `json:"kind"`
	State   string          `json:"state,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

func newRunView(run eventstore.Run) runView {
	v := runView{
		ID:         run.ID,
		NodeID:     run.NodeID,
		Source:     run.Source,
		Voice:      run.Voice,
		State:      run.State,
		Artifact:   run.Artifact,
		DurationMS: run.Duration.Milliseconds(),
		Units:      run.Units,
		Error:      run.Error,
		Cancelled:  run.Cancelled,
		CreatedAt:  run.CreatedAt,
	}
	if !run.FinishedAt.IsZero() {
		finished := run.FinishedAt
		v.FinishedAt = &finished
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
